// Package router implements the Message Router: it parses inbound frames
// into a closed set of message types and hands each one to a Handler.
// Unknown types are kept in the notification history, never treated as
// errors.
package router
