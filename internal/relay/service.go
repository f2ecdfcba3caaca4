// Package relay runs a client request through device binding, quota validation,
// admission and synthesis, in that order.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice_gateway/internal/denial"
	"voice_gateway/internal/device"
	"voice_gateway/internal/gate"
	"voice_gateway/internal/metrics"
	"voice_gateway/internal/models"
	"voice_gateway/internal/quota"
	"voice_gateway/internal/synthesis"
	"voice_gateway/internal/utils"
)

// ErrEmptyText is returned when there is nothing to speak
var ErrEmptyText = errors.New("text is required")

// Binder enforces device binding
type Binder interface {
	BindOrVerify(ctx context.Context, token, fingerprint string) (*device.Binding, error)
}

// Checker validates quota for a loaded credential
type Checker interface {
	Check(ctx context.Context, cred *models.CredentialWithOwner) (*quota.Result, error)
}

// Runner executes an admitted job
type Runner interface {
	Run(ctx context.Context, job *synthesis.Job) (*synthesis.Output, error)
}

// Request is a synthesis request as received from a client
type Request struct {
	Token     string
	DeviceID  string
	Text      string
	Voice     string
	ClientIP  string
	UserAgent string
}

// AuthResult is the device and quota state reported to a client that authenticates
type AuthResult struct {
	Binding *device.Binding
	Quota   *quota.Result
}

// Service is the request pipeline shared by the HTTP handlers
type Service struct {
	binder       Binder
	checker      Checker
	gate         *gate.Gate
	runner       Runner
	metrics      metrics.Metrics
	logger       *utils.Logger
	defaultVoice string
}

// NewService wires the pipeline. A nil metrics falls back to no-op.
func NewService(binder Binder, checker Checker, g *gate.Gate, runner Runner, m metrics.Metrics, defaultVoice string) *Service {
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	if defaultVoice == "" {
		defaultVoice = "kore"
	}
	return &Service{
		binder:       binder,
		checker:      checker,
		gate:         g,
		runner:       runner,
		metrics:      m,
		logger:       utils.NewLogger("relay"),
		defaultVoice: defaultVoice,
	}
}

// Authenticate binds or verifies the device and reports the remaining allowance
func (s *Service) Authenticate(ctx context.Context, token, deviceID string) (*AuthResult, error) {
	binding, err := s.binder.BindOrVerify(ctx, token, deviceID)
	if err != nil {
		return nil, err
	}

	result, err := s.checker.Check(ctx, binding.Credential)
	if err != nil {
		return nil, err
	}

	return &AuthResult{Binding: binding, Quota: result}, nil
}

// Synthesize checks the caller, takes a gate slot and runs the job.
// Refusals are returned as *denial.Error; anything else is internal.
func (s *Service) Synthesize(ctx context.Context, req Request) (out *synthesis.Output, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.ObserveSynthesis("panic", time.Since(start))
			panic(r)
		}
		outcome := "success"
		if err != nil {
			outcome = string(denial.ReasonOf(err))
		}
		s.metrics.ObserveSynthesis(outcome, time.Since(start))
	}()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyText
	}
	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = s.defaultVoice
	}

	binding, err := s.binder.BindOrVerify(ctx, req.Token, req.DeviceID)
	if err != nil {
		return nil, err
	}

	result, err := s.checker.Check(ctx, binding.Credential)
	if err != nil {
		return nil, err
	}

	permit, err := s.gate.TryAdmit()
	if err != nil {
		s.logger.Warn("Gate full, rejecting request",
			"credential_id", result.Credential.ID,
			"capacity", s.gate.Capacity(),
		)
		return nil, denial.New(denial.ServerBusy)
	}
	s.metrics.SetInFlight(s.gate.InFlight())
	defer func() {
		permit.Release()
		s.metrics.SetInFlight(s.gate.InFlight())
	}()

	job := &synthesis.Job{
		Text:       text,
		Voice:      voice,
		Credential: result.Credential,
		ClientIP:   req.ClientIP,
		UserAgent:  req.UserAgent,
	}

	out, err = s.runner.Run(ctx, job)
	if err != nil {
		var de *denial.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}

	s.logger.Info("Synthesis completed",
		"request_id", out.RequestID,
		"credential_id", result.Credential.ID,
		"remaining_daily", result.RemainingDaily-1,
		"attempts", out.Attempts,
		"duration", out.Duration,
	)
	return out, nil
}
