// Package order implements the order lifecycle state machine.
//
// Machine is the single writer of cached order status. Server data
// (REST snapshots and inbound frames) always overwrites local state;
// user actions are applied optimistically and rolled back if the REST call
// fails before the server has spoken for the order.
//
// "expired" is never stored. EffectiveStatus derives it from a
// bid_accepted order whose window has passed, and an expired order offers
// no actions.
package order
