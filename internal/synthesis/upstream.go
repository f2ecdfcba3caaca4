// Package synthesis turns text into a stored audio artifact by driving the
// provider, the transcoder and the bookkeeping steps for a single job.
package synthesis

import (
	"context"
	"errors"
	"fmt"

	"voice_gateway/internal/keypool"
	"voice_gateway/internal/models"
)

// Raw PCM layout returned by the provider
const (
	SampleRate     = 24000
	BitsPerSample  = 16
	Channels       = 1
	bytesPerSample = BitsPerSample / 8
)

// Request is what the provider is asked to speak
type Request struct {
	Text  string
	Voice string
}

// RawAudio is the undecoded provider output
type RawAudio struct {
	PCM      []byte
	MimeType string
}

// Upstream performs one synthesis call with one provider credential.
type Upstream interface {
	Synthesize(ctx context.Context, key *models.UpstreamKey, req Request) (*RawAudio, error)
}

// UpstreamError is a classified failure of a single attempt.
type UpstreamError struct {
	Kind       keypool.FailureKind
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s failure (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s failure: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ClassifyFailure maps an attempt error onto the failure kind recorded against the key.
func ClassifyFailure(err error) keypool.FailureKind {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return keypool.FailureTimeout
	}
	return keypool.FailureTransport
}
