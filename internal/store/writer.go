package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/freightline/internal/clock"
	"github.com/rickgao/freightline/internal/order"
)

// WriterConfig holds batching configuration.
type WriterConfig struct {
	BatchSize     int           // Flush once this many orders are queued (default: 100)
	FlushInterval time.Duration // Flush at least this often (default: 1s)
	WriteTimeout  time.Duration // Per-batch timeout (default: 10s)
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
		WriteTimeout:  10 * time.Second,
	}
}

// WriterMetrics counts writer activity.
type WriterMetrics struct {
	Upserts int64 `json:"upserts"`
	Stale   int64 `json:"stale"`
	Deletes int64 `json:"deletes"`
	Errors  int64 `json:"errors"`
	Flushes int64 `json:"flushes"`
}

// Writer mirrors order cache changes into a Sink.
type Writer struct {
	cfg    WriterConfig
	sink   Sink
	queue  *Queue
	clock  clock.Clock
	logger *slog.Logger

	full chan struct{}

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	flushMu sync.Mutex // serializes flushes

	metricsMu sync.Mutex
	metrics   WriterMetrics
}

// NewWriter creates a Writer.
func NewWriter(cfg WriterConfig, sink Sink, clk clock.Clock, logger *slog.Logger) *Writer {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	return &Writer{
		cfg:    cfg,
		sink:   sink,
		queue:  NewQueue(),
		clock:  clk,
		logger: logger.With("component", "projection_writer"),
		full:   make(chan struct{}, 1),
	}
}

// Start begins the flush loop.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	ticker := w.clock.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.flushLoop(ticker)

	w.logger.Info("projection writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts down the flush loop and writes whatever is still queued.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping projection writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("projection writer stop timed out")
		return ctx.Err()
	}

	// Final flush
	w.flushAll(ctx)
	w.logger.Info("projection writer stopped", "unwritten", w.queue.Len())
	return nil
}

// OnChange queues one cache change. It never blocks and is safe to pass
// to order.Machine.Subscribe.
func (w *Writer) OnChange(c order.Change) {
	row, ok := RowFromChange(c)
	if !ok {
		return
	}
	if w.queue.Put(row) >= w.cfg.BatchSize {
		select {
		case w.full <- struct{}{}:
		default:
		}
	}
}

// Stats returns current metrics.
func (w *Writer) Stats() WriterMetrics {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	return w.metrics
}

// QueueStats returns coalescing queue statistics.
func (w *Writer) QueueStats() QueueStats {
	return w.queue.Stats()
}

func (w *Writer) flushLoop(ticker *clock.Ticker) {
	defer w.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flushAll(w.ctx)
		case <-w.full:
			w.flushAll(w.ctx)
		}
	}
}

// flushAll writes batches until the queue is empty or a write fails.
func (w *Writer) flushAll(ctx context.Context) {
	for w.queue.Len() > 0 {
		if !w.flush(ctx) {
			return
		}
	}
}

// flush writes one batch. Failed rows are requeued.
func (w *Writer) flush(ctx context.Context) bool {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	rows := w.queue.Drain(w.cfg.BatchSize)
	if len(rows) == 0 {
		return true
	}

	start := w.clock.Now()
	wctx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
	res, err := w.sink.Write(wctx, rows)
	cancel()
	if err != nil {
		w.queue.Requeue(rows)
	}

	w.metricsMu.Lock()
	if err != nil {
		w.metrics.Errors++
	} else {
		w.metrics.Upserts += int64(res.Upserted)
		w.metrics.Stale += int64(res.Stale)
		w.metrics.Deletes += int64(res.Deleted)
		w.metrics.Flushes++
	}
	w.metricsMu.Unlock()

	if err != nil {
		w.logger.Error("projection batch failed", "error", err, "count", len(rows))
		return false
	}

	w.logger.Debug("flushed projection",
		"count", len(rows),
		"stale", res.Stale,
		"duration", w.clock.Now().Sub(start),
	)
	return true
}
