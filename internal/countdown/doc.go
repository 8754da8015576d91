// Package countdown projects a bid-accepted window into a live remaining
// label and urgency bucket.
//
// Project is pure. Timer recomputes it once per second on an injected
// clock and stops by itself when the window closes. Tracker keeps one Timer
// per bid_accepted order by following the order cache.
package countdown
