// Package connection implements the Connection Manager.
//
// A Session owns exactly one websocket at a time for one authenticated
// identity. It:
//   - dials the per-user endpoint with the current access token
//   - reconnects abnormal closes with exponential backoff, up to MaxAttempts
//   - refreshes credentials once on an authentication-failure close
//   - stops on a normal close, logout or teardown
//   - hands every inbound frame, in receive order, to a single handler
//
// All transitions run on one event-loop goroutine; timers and sockets
// report back to it as events.
package connection
