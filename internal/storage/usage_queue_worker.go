package storage

import (
	"context"
	"fmt"
	"time"

	"voice_gateway/internal/models"
	"voice_gateway/internal/queue"
	"voice_gateway/internal/utils"
)

// UsageLogStore is the persistence the usage worker writes to
type UsageLogStore interface {
	Create(ctx context.Context, entry *models.UsageLogEntry) error
	CreateBatch(ctx context.Context, entries []*models.UsageLogEntry) error
}

// UsageLogWorker drains the usage-log queue into the database in batches
type UsageLogWorker struct {
	queue       queue.Queue[*models.UsageLogEntry]
	dlq         queue.DeadLetterQueue[*models.UsageLogEntry]
	store       UsageLogStore
	config      *queue.Config
	logger      *utils.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewUsageLogWorker creates a new usage log worker
func NewUsageLogWorker(q queue.Queue[*models.UsageLogEntry], dlq queue.DeadLetterQueue[*models.UsageLogEntry], store UsageLogStore, config *queue.Config) *UsageLogWorker {
	if config == nil {
		config = queue.DefaultConfig("usage_logs")
	}

	return &UsageLogWorker{
		queue:       q,
		dlq:         dlq,
		store:       store,
		config:      config,
		logger:      utils.NewLogger("usage-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *UsageLogWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop stops the worker after the batch in progress
func (w *UsageLogWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue hands an entry to the worker
func (w *UsageLogWorker) Enqueue(ctx context.Context, entry *models.UsageLogEntry) error {
	return w.queue.Enqueue(ctx, entry)
}

func (w *UsageLogWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Usage worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("Usage worker context cancelled")
			return
		default:
			w.processBatch(ctx)
		}
	}
}

// processBatch writes one batch, falling back to per-entry retries when the batch insert fails
func (w *UsageLogWorker) processBatch(ctx context.Context) {
	entries, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		w.logger.Error("Failed to dequeue usage logs", "error", err)
		select {
		case <-time.After(time.Second):
		case <-w.stopChan:
		case <-ctx.Done():
		}
		return
	}

	if len(entries) == 0 {
		return
	}

	w.logger.Debug("Processing usage batch", "count", len(entries))

	if err := w.store.CreateBatch(ctx, entries); err != nil {
		w.logger.Error("Failed to insert batch, falling back to individual inserts", "error", err)
		for _, entry := range entries {
			if err := w.processItem(ctx, entry); err != nil {
				w.logger.Error("Failed to process usage log", "request_id", entry.RequestID, "error", err)
			}
		}
	}
}

// processItem inserts a single entry with exponential backoff, then dead-letters it
func (w *UsageLogWorker) processItem(ctx context.Context, entry *models.UsageLogEntry) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("Retrying usage log", "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}

		if err := w.store.Create(ctx, entry); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	if w.dlq != nil {
		if err := w.dlq.Add(ctx, entry, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			w.logger.Warn("Usage log moved to DLQ", "request_id", entry.RequestID, "error", lastErr)
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetQueueLength returns the current queue length
func (w *UsageLogWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *UsageLogWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem[*models.UsageLogEntry], error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem re-enqueues a dead-lettered entry
func (w *UsageLogWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, dlItem := range items {
		if dlItem.ID != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, dlItem.Item); err != nil {
			return fmt.Errorf("failed to re-enqueue item: %w", err)
		}
		if err := w.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}

	return queue.ErrItemNotFound
}
