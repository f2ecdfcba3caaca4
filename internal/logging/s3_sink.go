package logging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"voice_gateway/internal/queue"
	"voice_gateway/internal/utils"
)

// ErrSinkClosed is returned by Enqueue after Shutdown
var ErrSinkClosed = errors.New("log sink closed")

const (
	maxPollInterval = time.Second
	uploadTimeout   = 30 * time.Second
)

// BatchWriter persists a batch of records somewhere durable
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []*LogRecord) (string, error)
}

// S3SinkConfig holds configuration for the S3 sink
type S3SinkConfig struct {
	Enabled       bool
	BufferSize    int           // records kept in memory when uploads fail
	FlushSize     int           // upload once this many records are pending
	FlushInterval time.Duration // upload at least this often when records are pending
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string
}

// S3Sink buffers records in a queue and uploads them to S3 in batches,
// whichever comes first of FlushSize records or FlushInterval.
type S3Sink struct {
	config  S3SinkConfig
	buffer  queue.Queue[*LogRecord]
	writer  BatchWriter
	logger  *utils.Logger
	pending []*LogRecord

	closed   atomic.Bool
	dropped  atomic.Int64
	uploaded atomic.Int64
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewS3Sink creates a sink that writes to the configured bucket and starts its flush loop
func NewS3Sink(ctx context.Context, config S3SinkConfig, buffer queue.Queue[*LogRecord]) (*S3Sink, error) {
	if config.S3Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}

	writer, err := NewS3Writer(ctx, config.S3Bucket, config.S3Region, config.S3Prefix, config.PodName)
	if err != nil {
		return nil, err
	}

	sink := newS3Sink(config, buffer, writer)
	sink.start(context.WithoutCancel(ctx))
	return sink, nil
}

func newS3Sink(config S3SinkConfig, buffer queue.Queue[*LogRecord], writer BatchWriter) *S3Sink {
	if config.FlushSize <= 0 {
		config.FlushSize = 1000
	}
	if config.BufferSize < config.FlushSize {
		config.BufferSize = config.FlushSize * 10
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Minute
	}

	return &S3Sink{
		config: config,
		buffer: buffer,
		writer: writer,
		logger: utils.NewLogger("s3-sink"),
		stopCh: make(chan struct{}),
	}
}

func (s *S3Sink) start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Enqueue hands a record to the buffer without blocking
func (s *S3Sink) Enqueue(rec *LogRecord) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}
	if err := s.buffer.Enqueue(context.Background(), rec); err != nil {
		s.dropped.Add(1)
		return fmt.Errorf("failed to buffer log record: %w", err)
	}
	return nil
}

// Shutdown stops the flush loop, uploads whatever is buffered and waits until done or ctx expires
func (s *S3Sink) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		close(s.stopCh)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many records could not be buffered or uploaded
func (s *S3Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Uploaded returns how many records have been written
func (s *S3Sink) Uploaded() int64 {
	return s.uploaded.Load()
}

func (s *S3Sink) run(ctx context.Context) {
	defer s.wg.Done()

	poll := s.config.FlushInterval
	if poll > maxPollInterval {
		poll = maxPollInterval
	}
	lastFlush := time.Now()

	for {
		select {
		case <-s.stopCh:
			s.drain(ctx)
			return
		default:
		}

		want := s.config.FlushSize - len(s.pending)
		if want < 1 {
			want = 1
		}
		records, err := s.buffer.DequeueWithTimeout(ctx, want, poll)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				s.flush(context.WithoutCancel(ctx))
				return
			}
			s.logger.Error("Failed to read log buffer", "error", err)
			continue
		}
		s.pending = append(s.pending, records...)

		if len(s.pending) >= s.config.FlushSize || (len(s.pending) > 0 && time.Since(lastFlush) >= s.config.FlushInterval) {
			s.flush(ctx)
			lastFlush = time.Now()
		}
	}
}

// drain empties the buffer after a stop request
func (s *S3Sink) drain(ctx context.Context) {
	for {
		records, err := s.buffer.DequeueWithTimeout(ctx, s.config.FlushSize, 10*time.Millisecond)
		if err != nil || len(records) == 0 {
			break
		}
		s.pending = append(s.pending, records...)
		if len(s.pending) >= s.config.FlushSize {
			s.flush(ctx)
		}
	}
	s.flush(ctx)
}

func (s *S3Sink) flush(ctx context.Context) {
	if len(s.pending) == 0 {
		return
	}

	uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	if _, err := s.writer.WriteBatch(uploadCtx, s.pending); err != nil {
		s.logger.Error("Failed to upload log batch", "count", len(s.pending), "error", err)
		if len(s.pending) > s.config.BufferSize {
			excess := len(s.pending) - s.config.BufferSize
			s.dropped.Add(int64(excess))
			s.pending = s.pending[excess:]
		}
		return
	}

	s.uploaded.Add(int64(len(s.pending)))
	s.pending = nil
}
