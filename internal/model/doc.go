// Package model defines the order and bid projections shared across the
// coordination layer.
//
// Conventions:
//   - Timestamps: time.Time in UTC, nil pointers when absent
//   - IDs: opaque server-issued strings; the client never fabricates them
//   - Money: integer cents
package model
