// Package poller implements the reconciliation poller.
//
// The poller:
//   - Re-fetches every order over REST on a fixed interval
//   - Re-fetches immediately when the session reaches Open, recovering
//     frames missed during an outage
//   - Coalesces triggers that arrive while a fetch is queued
package poller
