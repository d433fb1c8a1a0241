package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/shortlink-realtime/internal/realtime"
)

// Writer consumes envelopes from a realtime client and writes them to the journal table.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	// Input from the realtime client
	client *realtime.Client
	types  []string
	unsubs []func()
	queue  chan Row

	// Database
	db Batcher

	// Batching
	batch   []Row
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics Stats

	now func() time.Time
}

// NewWriter creates a Writer journaling the given message types.
func NewWriter(cfg Config, client *realtime.Client, db Batcher, types []string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}

	return &Writer{
		cfg:    cfg,
		logger: logger,
		client: client,
		types:  append([]string(nil), types...),
		queue:  make(chan Row, cfg.BufferSize),
		db:     db,
		batch:  make([]Row, 0, cfg.BatchSize),
		now:    time.Now,
	}
}

// Start subscribes to the configured types and begins writing.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	for _, t := range w.types {
		msgType := t
		w.unsubs = append(w.unsubs, w.client.Subscribe(msgType, func(data json.RawMessage) {
			w.record(msgType, data)
		}))
	}

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"types", w.types,
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop unsubscribes, drains queued rows and performs a final flush using ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	for _, unsub := range w.unsubs {
		unsub()
	}
	w.unsubs = nil

	if w.cancel != nil {
		w.cancel()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
		return ctx.Err()
	}

	w.drainQueue()

	// Final flush
	w.flush(ctx)

	w.logger.Info("journal writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// record runs on the client's dispatch path and must not block.
func (w *Writer) record(msgType string, data json.RawMessage) {
	handle, _ := w.client.Handle()
	row := Row{
		ID:         uuid.New(),
		Handle:     handle,
		Type:       msgType,
		Payload:    data,
		ReceivedAt: w.now(),
	}

	select {
	case w.queue <- row:
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		w.logger.Warn("journal buffer full, dropping", "type", msgType)
	}
}

// consumeLoop accumulates queued rows into batches.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case row := <-w.queue:
			w.handleRow(row)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// drainQueue moves rows still queued after the consumer exited into the batch.
func (w *Writer) drainQueue() {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	for {
		select {
		case row := <-w.queue:
			w.batch = append(w.batch, row)
		default:
			return
		}
	}
}

func (w *Writer) handleRow(row Row) {
	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]Row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("journal batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed journal rows",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []Row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		var handle any
		if r.Handle != uuid.Nil {
			handle = r.Handle
		}
		batch.Queue(insertSQL, r.ID, handle, r.Type, string(r.Payload), r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
