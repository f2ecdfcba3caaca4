package metrics

import (
	"net/http"
	"time"
)

// Metrics records gateway activity and exposes it over HTTP.
type Metrics interface {
	// ObserveSynthesis records a finished synthesis request. outcome is "success" or a denial reason code.
	ObserveSynthesis(outcome string, elapsed time.Duration)
	// ObserveUpstreamAttempt records one provider call. outcome is "success" or a failure kind.
	ObserveUpstreamAttempt(outcome string, elapsed time.Duration)
	// BookkeepingFailed counts a post-success step that could not be recorded.
	BookkeepingFailed(step string)
	// SetInFlight reports the number of jobs holding a gate permit.
	SetInFlight(n int)
	HTTPHandler() http.Handler
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (m *NoopMetrics) ObserveSynthesis(string, time.Duration)       {}
func (m *NoopMetrics) ObserveUpstreamAttempt(string, time.Duration) {}
func (m *NoopMetrics) BookkeepingFailed(string)                     {}
func (m *NoopMetrics) SetInFlight(int)                              {}

func (m *NoopMetrics) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}
