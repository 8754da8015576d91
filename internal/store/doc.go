// Package store persists the current order projection to PostgreSQL.
//
// Only the latest state of each order is kept (table order_projection);
// notification history is never written. The Writer follows the order
// cache, coalesces changes per order, and upserts them in batches. Load
// reads the projection back at startup to warm the cache before the
// first REST fetch.
package store
