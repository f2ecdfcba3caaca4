package logging

import (
	"context"
	"time"
)

// Record kinds
const (
	KindSynthesis  = "synthesis"
	KindDiagnostic = "diagnostic"
)

// LogRecord is the structure archived to S3.
// Synthesis records describe a finished job; diagnostic records describe a
// bookkeeping step that failed after the job had already succeeded.
type LogRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	Kind           string    `json:"kind"`
	RequestID      string    `json:"request_id"`
	CredentialID   int64     `json:"credential_id"`
	CredentialName string    `json:"credential_name,omitempty"`
	Username       string    `json:"username,omitempty"`
	UpstreamKeyID  int64     `json:"upstream_key_id,omitempty"`
	Voice          string    `json:"voice,omitempty"`
	TextLength     int       `json:"text_length"`
	Filename       string    `json:"filename,omitempty"`
	Duration       float64   `json:"duration,omitempty"`
	FileSize       int64     `json:"file_size,omitempty"`
	Attempts       int       `json:"attempts,omitempty"`
	GatewayMs      int64     `json:"gateway_ms,omitempty"`
	Step           string    `json:"step,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Sink receives log records from the gateway.
type Sink interface {
	Enqueue(rec *LogRecord) error
	Shutdown(ctx context.Context) error
}

// NoopSink discards records.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(rec *LogRecord) error {
	return nil
}

func (s *NoopSink) Shutdown(ctx context.Context) error {
	return nil
}
