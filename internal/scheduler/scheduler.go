// Package scheduler runs periodic maintenance: the daily quota reset and
// housekeeping of process-local caches.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"voice_gateway/internal/models"
	"voice_gateway/internal/utils"
)

const dailyResetLockPrefix = "voice_gateway:daily-reset:"

// Resetter clears daily counters of past days
type Resetter interface {
	ResetDailyUsage(ctx context.Context, now time.Time) (int64, error)
}

// Locker takes a lock that expires on its own after ttl
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLocker holds locks as SET NX keys so only one replica runs a job per period
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to take lock %s: %w", key, err)
	}
	return ok, nil
}

// Config holds the schedule settings
type Config struct {
	DailyResetSpec string
	LockTTL        time.Duration
}

// Scheduler wraps a cron runner in UTC
type Scheduler struct {
	cron     *cron.Cron
	resetter Resetter
	locker   Locker
	config   Config
	resetMu  sync.Mutex
	logger   *utils.Logger
	now      func() time.Time
}

// New creates a scheduler. locker may be nil when only one replica runs.
func New(resetter Resetter, locker Locker, config Config) *Scheduler {
	if config.DailyResetSpec == "" {
		config.DailyResetSpec = "0 0 * * *"
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 25 * time.Hour
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		resetter: resetter,
		locker:   locker,
		config:   config,
		logger:   utils.NewLogger("scheduler"),
		now:      time.Now,
	}
}

// Every registers an extra job
func (s *Scheduler) Every(spec, name string, job func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.logger.Debug("Running job", "job", name)
		job(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return nil
}

// Start registers the daily reset and starts the cron runner
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.config.DailyResetSpec, func() {
		if _, err := s.RunDailyReset(context.Background()); err != nil {
			s.logger.Error("Daily reset failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule daily reset: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started", "daily_reset", s.config.DailyResetSpec)
	return nil
}

// Stop stops the runner and waits for running jobs or ctx
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with jobs still running")
	}
}

// RunDailyReset resets daily counters unless another run holds the lock.
// It reports whether this call performed the reset.
func (s *Scheduler) RunDailyReset(ctx context.Context) (bool, error) {
	if !s.resetMu.TryLock() {
		s.logger.Info("Daily reset already running in this process")
		return false, nil
	}
	defer s.resetMu.Unlock()

	now := s.now().UTC()

	if s.locker != nil {
		key := dailyResetLockPrefix + models.DayKey(now)
		ok, err := s.locker.TryLock(ctx, key, s.config.LockTTL)
		if err != nil {
			return false, err
		}
		if !ok {
			s.logger.Info("Daily reset already done by another replica", "day", models.DayKey(now))
			return false, nil
		}
	}

	removed, err := s.resetter.ResetDailyUsage(ctx, now)
	if err != nil {
		return false, err
	}

	s.logger.Info("Daily usage reset", "day", models.DayKey(now), "rows_removed", removed)
	return true, nil
}
