// Package api is the REST collaborator of the coordination layer.
//
// Endpoints consumed:
//   - POST  /auth/token/refresh          access/refresh pair rotation
//   - GET   /orders, /orders/{id}        order projections
//   - PATCH /orders/{id}/status          explicit status change
//   - POST  /orders/{id}/driver-response driver accept / decline
//   - POST  /bids/{id}/accept            shipper accepts a bid with an expiry window
//   - GET   /loads/{id}/bids             bids posted against a load
//
// The socket is never used for commands; the server confirms REST commands
// later with frames on the per-user channel.
package api
