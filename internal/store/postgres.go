package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/freightline/internal/model"
)

// Schema creates the projection table.
const Schema = `
CREATE TABLE IF NOT EXISTS order_projection (
	order_id        TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	bid_accepted_at TIMESTAMPTZ,
	expires_at      TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ NOT NULL
)`

const upsertSQL = `
	INSERT INTO order_projection (order_id, status, bid_accepted_at, expires_at, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (order_id) DO UPDATE SET
		status          = EXCLUDED.status,
		bid_accepted_at = EXCLUDED.bid_accepted_at,
		expires_at      = EXCLUDED.expires_at,
		updated_at      = EXCLUDED.updated_at
	WHERE order_projection.updated_at <= EXCLUDED.updated_at
`

const deleteSQL = `DELETE FROM order_projection WHERE order_id = $1`

const loadSQL = `
	SELECT order_id, status, bid_accepted_at, expires_at, updated_at
	FROM order_projection
	ORDER BY order_id
`

// Sink receives batches of rows.
type Sink interface {
	Write(ctx context.Context, rows []Row) (WriteResult, error)
}

// WriteResult counts the effect of one batch.
type WriteResult struct {
	Upserted int // rows inserted or updated
	Stale    int // upserts skipped because the stored row was newer
	Deleted  int
}

// Postgres is the pgx-backed projection store.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres wraps a connection pool.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the projection table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create order_projection: %w", err)
	}
	return nil
}

// Write applies rows using a single pgx.Batch.
func (p *Postgres) Write(ctx context.Context, rows []Row) (WriteResult, error) {
	var res WriteResult
	if len(rows) == 0 {
		return res, nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		if r.Deleted {
			batch.Queue(deleteSQL, r.OrderID)
			continue
		}
		batch.Queue(upsertSQL, r.OrderID, r.Status, r.BidAcceptedAt, r.ExpiresAt, r.UpdatedAt)
	}

	results := p.db.SendBatch(ctx, batch)
	defer results.Close()

	for _, r := range rows {
		ct, err := results.Exec()
		if err != nil {
			return res, fmt.Errorf("write order %s: %w", r.OrderID, err)
		}
		switch {
		case r.Deleted:
			res.Deleted += int(ct.RowsAffected())
		case ct.RowsAffected() == 0:
			res.Stale++
		default:
			res.Upserted++
		}
	}
	return res, nil
}

// Load reads every stored order. Records that no longer pass validation
// are skipped.
func (p *Postgres) Load(ctx context.Context) ([]model.Order, error) {
	rows, err := p.db.Query(ctx, loadSQL)
	if err != nil {
		return nil, fmt.Errorf("query order_projection: %w", err)
	}
	stored, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[Row])
	if err != nil {
		return nil, fmt.Errorf("scan order_projection: %w", err)
	}
	return ordersFromRows(stored), nil
}

func ordersFromRows(rows []Row) []model.Order {
	orders := make([]model.Order, 0, len(rows))
	for _, r := range rows {
		o := r.Order()
		if o.Validate() != nil {
			continue
		}
		orders = append(orders, o)
	}
	return orders
}
