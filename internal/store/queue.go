package store

import "sync"

// Queue holds the latest unwritten row per order. A Put for an order that
// is already queued replaces the queued row in place, so a burst of
// changes to one order costs a single write.
type Queue struct {
	mu    sync.Mutex
	order []string // first-queued order
	rows  map[string]Row

	// Stats
	totalPut  int64
	coalesced int64
	drained   int64
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{rows: make(map[string]Row)}
}

// Put queues r, replacing any queued row for the same order. It returns
// the queue length after the put.
func (q *Queue) Put(r Row) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.totalPut++
	if _, ok := q.rows[r.OrderID]; ok {
		q.coalesced++
	} else {
		q.order = append(q.order, r.OrderID)
	}
	q.rows[r.OrderID] = r
	return len(q.order)
}

// Requeue puts back rows that failed to write, unless a newer row for the
// same order was queued in the meantime.
func (q *Queue) Requeue(rows []Row) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, r := range rows {
		if _, ok := q.rows[r.OrderID]; ok {
			continue
		}
		q.order = append(q.order, r.OrderID)
		q.rows[r.OrderID] = r
	}
}

// Drain removes and returns up to max rows in first-queued order. A
// non-positive max drains everything.
func (q *Queue) Drain(max int) []Row {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.order)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}

	result := make([]Row, n)
	for i, id := range q.order[:n] {
		result[i] = q.rows[id]
		delete(q.rows, id)
	}
	q.order = append(q.order[:0:0], q.order[n:]...)
	q.drained += int64(n)
	return result
}

// Len returns the number of queued orders.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Stats returns queue statistics.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Queued:    len(q.order),
		TotalPut:  q.totalPut,
		Coalesced: q.coalesced,
		Drained:   q.drained,
	}
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Queued    int   `json:"queued"`
	TotalPut  int64 `json:"total_put"`
	Coalesced int64 `json:"coalesced"`
	Drained   int64 `json:"drained"`
}
