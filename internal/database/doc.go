// Package database provides PostgreSQL connection pool management for the
// optional order projection store.
package database
