package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"voice_gateway/internal/denial"
	"voice_gateway/internal/keypool"
	"voice_gateway/internal/logging"
	"voice_gateway/internal/metrics"
	"voice_gateway/internal/models"
	"voice_gateway/internal/utils"
)

// State is a step of a synthesis job
type State int

const (
	StateAdmitted State = iota
	StateKeySelected
	StateUpstreamCalled
	StateConverted
	StateFailed
	StateLogged
	StateDone
	StateNoKeys
)

func (s State) String() string {
	switch s {
	case StateAdmitted:
		return "admitted"
	case StateKeySelected:
		return "key_selected"
	case StateUpstreamCalled:
		return "upstream_called"
	case StateConverted:
		return "converted"
	case StateFailed:
		return "failed"
	case StateLogged:
		return "logged"
	case StateDone:
		return "done"
	case StateNoKeys:
		return "no_keys"
	default:
		return "unknown"
	}
}

// Bookkeeping steps run after a successful conversion
const (
	StepUsageCounter  = "usage_counter"
	StepKeySuccess    = "key_success"
	StepUsageLog      = "usage_log"
	DownloadURLPrefix = "/api/voice/download/"
)

// KeySource hands out provider credentials and records attempt outcomes
type KeySource interface {
	Candidates(ctx context.Context) (*keypool.Rotation, error)
	RecordSuccess(ctx context.Context, key *models.UpstreamKey, chars int) error
	RecordFailure(ctx context.Context, key *models.UpstreamKey, kind keypool.FailureKind, cause error) error
}

// UsageCounter increments a credential's daily and monthly counters
type UsageCounter interface {
	IncrementUsage(ctx context.Context, credentialID int64, chars int, now time.Time) error
}

// UsageLogQueue accepts audit entries for asynchronous persistence
type UsageLogQueue interface {
	Enqueue(ctx context.Context, entry *models.UsageLogEntry) error
}

// ArtifactWriter stores finished audio
type ArtifactWriter interface {
	Save(data []byte, ext string) (string, int64, error)
	Remove(name string) error
}

// Job is one admitted synthesis request
type Job struct {
	ID         uuid.UUID
	Text       string
	Voice      string
	Credential *models.CredentialWithOwner
	ClientIP   string
	UserAgent  string
}

// Output describes the stored artifact of a finished job
type Output struct {
	RequestID   uuid.UUID `json:"-"`
	Filename    string    `json:"filename"`
	Duration    float64   `json:"duration"`
	FileSize    int64     `json:"file_size"`
	DownloadURL string    `json:"download_url"`
	Attempts    int       `json:"-"`
}

// Dependencies are the collaborators of an Orchestrator
type Dependencies struct {
	Upstream   Upstream
	Keys       KeySource
	Transcoder Transcoder
	Artifacts  ArtifactWriter
	Usage      UsageCounter
	UsageLogs  UsageLogQueue
	Sink       logging.Sink
	Metrics    metrics.Metrics
}

// Orchestrator drives a job through key selection, the provider call,
// conversion and bookkeeping, rotating to the next key on any per-key failure.
type Orchestrator struct {
	deps    Dependencies
	timeout time.Duration
	logger  *utils.Logger
	now     func() time.Time
}

// NewOrchestrator creates an orchestrator applying timeout to every provider call
func NewOrchestrator(deps Dependencies, timeout time.Duration) *Orchestrator {
	if deps.Sink == nil {
		deps.Sink = logging.NewNoopSink()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopMetrics()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Orchestrator{
		deps:    deps,
		timeout: timeout,
		logger:  utils.NewLogger("orchestrator"),
		now:     time.Now,
	}
}

// run holds the per-job working state
type run struct {
	job      *Job
	state    State
	rotation *keypool.Rotation
	key      *models.UpstreamKey
	raw      *RawAudio
	filename string
	size     int64
	duration float64
	attempts int
	started  time.Time
}

// Run executes job. The caller's cancellation is ignored once the job is admitted;
// only the per-call deadline bounds each provider attempt.
func (o *Orchestrator) Run(ctx context.Context, job *Job) (*Output, error) {
	ctx = context.WithoutCancel(ctx)
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	rotation, err := o.deps.Keys.Candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to select upstream key: %w", err)
	}

	r := &run{job: job, state: StateAdmitted, rotation: rotation, started: o.now()}
	chars := utf8.RuneCountInString(job.Text)

	for {
		switch r.state {
		case StateAdmitted, StateFailed:
			key, err := r.rotation.Acquire()
			if err != nil {
				r.state = StateNoKeys
				continue
			}
			r.key = key
			r.raw = nil
			r.attempts++
			r.state = StateKeySelected

		case StateKeySelected:
			raw, err := o.callUpstream(ctx, r.key, Request{Text: job.Text, Voice: job.Voice})
			if err != nil {
				o.fail(ctx, r, ClassifyFailure(err), err)
				continue
			}
			r.raw = raw
			r.state = StateUpstreamCalled

		case StateUpstreamCalled:
			if err := o.convert(ctx, r); err != nil {
				o.fail(ctx, r, keypool.FailureConversion, err)
				continue
			}
			r.state = StateConverted

		case StateConverted:
			o.commit(ctx, r, chars)
			r.state = StateLogged

		case StateLogged:
			o.audit(r, chars)
			r.state = StateDone

		case StateDone:
			return &Output{
				RequestID:   job.ID,
				Filename:    r.filename,
				Duration:    r.duration,
				FileSize:    r.size,
				DownloadURL: DownloadURLPrefix + r.filename,
				Attempts:    r.attempts,
			}, nil

		case StateNoKeys:
			o.logger.Warn("No upstream key succeeded",
				"request_id", job.ID,
				"candidates", r.rotation.Len(),
				"attempts", r.attempts,
			)
			return nil, denial.New(denial.NoKeysAvailable)
		}
	}
}

func (o *Orchestrator) callUpstream(ctx context.Context, key *models.UpstreamKey, req Request) (*RawAudio, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	raw, err := o.deps.Upstream.Synthesize(callCtx, key, req)
	if err == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = &UpstreamError{Kind: keypool.FailureTimeout, Err: callCtx.Err()}
	}

	outcome := "success"
	if err != nil {
		outcome = ClassifyFailure(err).String()
	}
	o.deps.Metrics.ObserveUpstreamAttempt(outcome, time.Since(start))
	return raw, err
}

// convert transcodes the raw audio and stores the artifact
func (o *Orchestrator) convert(ctx context.Context, r *run) error {
	convCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	encoded, err := o.deps.Transcoder.Transcode(convCtx, r.raw.PCM)
	if err != nil {
		return err
	}
	if encoded.Duration <= 0 {
		return fmt.Errorf("%w: non-positive duration", ErrEmptyAudio)
	}

	name, size, err := o.deps.Artifacts.Save(encoded.Data, encoded.Extension)
	if err != nil {
		return err
	}

	r.filename = name
	r.size = size
	r.duration = encoded.Duration
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, r *run, kind keypool.FailureKind, cause error) {
	if r.filename != "" {
		if err := o.deps.Artifacts.Remove(r.filename); err != nil {
			o.logger.Warn("Failed to remove partial artifact", "filename", r.filename, "error", err)
		}
		r.filename = ""
	}
	r.raw = nil

	if err := o.deps.Keys.RecordFailure(ctx, r.key, kind, cause); err != nil {
		o.logger.Error("Failed to record upstream failure", "key_id", r.key.ID, "error", err)
	}
	r.state = StateFailed
}

// commit runs the three bookkeeping steps. None of them can fail the job.
func (o *Orchestrator) commit(ctx context.Context, r *run, chars int) {
	job := r.job
	now := o.now().UTC()

	if err := o.deps.Usage.IncrementUsage(ctx, job.Credential.ID, chars, now); err != nil {
		o.diagnose(r, StepUsageCounter, err)
	}

	if err := o.deps.Keys.RecordSuccess(ctx, r.key, chars); err != nil {
		o.diagnose(r, StepKeySuccess, err)
	}

	keyID := r.key.ID
	entry := &models.UsageLogEntry{
		RequestID:     job.ID,
		CredentialID:  job.Credential.ID,
		UpstreamKeyID: &keyID,
		TextLength:    chars,
		VoiceName:     job.Voice,
		Duration:      r.duration,
		FileSize:      r.size,
		IPAddress:     job.ClientIP,
		UserAgent:     job.UserAgent,
		CreatedAt:     now,
	}
	if err := o.deps.UsageLogs.Enqueue(ctx, entry); err != nil {
		o.diagnose(r, StepUsageLog, err)
	}
}

func (o *Orchestrator) diagnose(r *run, step string, cause error) {
	o.logger.Error("Bookkeeping step failed",
		"request_id", r.job.ID,
		"credential_id", r.job.Credential.ID,
		"step", step,
		"error", cause,
	)
	o.deps.Metrics.BookkeepingFailed(step)

	rec := o.record(r, logging.KindDiagnostic, utf8.RuneCountInString(r.job.Text))
	rec.Step = step
	rec.Error = cause.Error()
	if err := o.deps.Sink.Enqueue(rec); err != nil {
		o.logger.Warn("Failed to emit diagnostic record", "request_id", r.job.ID, "error", err)
	}
}

func (o *Orchestrator) audit(r *run, chars int) {
	if err := o.deps.Sink.Enqueue(o.record(r, logging.KindSynthesis, chars)); err != nil {
		o.logger.Debug("Failed to emit audit record", "request_id", r.job.ID, "error", err)
	}
}

func (o *Orchestrator) record(r *run, kind string, chars int) *logging.LogRecord {
	rec := &logging.LogRecord{
		Timestamp:      o.now().UTC(),
		Kind:           kind,
		RequestID:      r.job.ID.String(),
		CredentialID:   r.job.Credential.ID,
		CredentialName: r.job.Credential.Name,
		Username:       r.job.Credential.OwnerUsername,
		Voice:          r.job.Voice,
		TextLength:     chars,
		Filename:       r.filename,
		Duration:       r.duration,
		FileSize:       r.size,
		Attempts:       r.attempts,
		GatewayMs:      o.now().Sub(r.started).Milliseconds(),
	}
	if r.key != nil {
		rec.UpstreamKeyID = r.key.ID
	}
	return rec
}
