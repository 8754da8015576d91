package store

import (
	"time"

	"github.com/rickgao/freightline/internal/model"
	"github.com/rickgao/freightline/internal/order"
)

// Row is one order_projection record, or a tombstone when Deleted is set.
type Row struct {
	OrderID       string     `db:"order_id"`
	Status        string     `db:"status"`
	BidAcceptedAt *time.Time `db:"bid_accepted_at"`
	ExpiresAt     *time.Time `db:"expires_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	Deleted       bool       `db:"-"`
}

// RowFromChange converts a cache change into a row. Optimistic changes
// are skipped; only authoritative state is persisted.
func RowFromChange(c order.Change) (Row, bool) {
	switch c.Source {
	case order.SourceOptimistic, order.SourceRollback:
		return Row{}, false
	case order.SourceRemoved:
		return Row{OrderID: c.Order.ID, Deleted: true}, true
	}
	return RowFromOrder(c.Order), true
}

// RowFromOrder converts an order into a row.
func RowFromOrder(o model.Order) Row {
	o = o.Clone()
	return Row{
		OrderID:       o.ID,
		Status:        string(o.Status),
		BidAcceptedAt: utcPtr(o.BidAcceptedAt),
		ExpiresAt:     utcPtr(o.ExpiresAt),
		UpdatedAt:     o.UpdatedAt.UTC(),
	}
}

// Order converts the row back into a cache record.
func (r Row) Order() model.Order {
	return model.Order{
		ID:            r.OrderID,
		Status:        model.OrderStatus(r.Status),
		BidAcceptedAt: r.BidAcceptedAt,
		ExpiresAt:     r.ExpiresAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
