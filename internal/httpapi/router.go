package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"voice_gateway/internal/config"
	"voice_gateway/internal/device"
	"voice_gateway/internal/gate"
	"voice_gateway/internal/keypool"
	"voice_gateway/internal/logging"
	"voice_gateway/internal/metrics"
	"voice_gateway/internal/middleware"
	"voice_gateway/internal/models"
	"voice_gateway/internal/queue"
	"voice_gateway/internal/quota"
	"voice_gateway/internal/relay"
	"voice_gateway/internal/scheduler"
	"voice_gateway/internal/storage"
	"voice_gateway/internal/synthesis"
	"voice_gateway/internal/utils"
)

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Voice        VoiceService
	Artifacts    ArtifactOpener
	Users        UserStore
	Credentials  CredentialStore
	UpstreamKeys UpstreamKeyStore
	UsageLogs    UsageLogStore
	Clients      ClientInvalidator
	Metrics      metrics.Metrics
	HealthChecks []HealthCheck

	// Background components owned by the router, stopped by Shutdown
	DB          *storage.DB
	Redis       *storage.RedisClient
	Gate        *gate.Gate
	UsageWorker *storage.UsageLogWorker
	Sink        logging.Sink
	Scheduler   *scheduler.Scheduler
	ClientPool  *synthesis.ClientPool
}

// HealthCheck is one named dependency probed by /health
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// NewRouter creates an HTTP handler with all dependencies wired up
func NewRouter(cfg *config.Config) (http.Handler, *Dependencies, error) {
	ctx := context.Background()

	// Initialize database
	db, err := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	deps := &Dependencies{DB: db}
	deps.HealthChecks = append(deps.HealthChecks, HealthCheck{Name: "database", Check: db.Health})

	// Initialize Redis client
	if cfg.Redis.Enabled {
		redisCfg := storage.DefaultRedisConfig()
		redisCfg.Address = cfg.Redis.Address
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		deps.Redis, err = storage.NewRedisClient(redisCfg)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		deps.HealthChecks = append(deps.HealthChecks, HealthCheck{Name: "redis", Check: deps.Redis.Health})
	}

	encryption, err := storage.NewEncryptionFromHex(cfg.EncryptionKey)
	if err != nil {
		deps.closeStores()
		return nil, nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// Initialize repositories
	userRepo := storage.NewUserRepository(db)
	credentialRepo := storage.NewCredentialRepository(db)
	quotaRepo := storage.NewQuotaRepository(db)
	upstreamKeyRepo := storage.NewUpstreamKeyRepository(db, encryption)
	usageLogRepo := storage.NewUsageLogRepository(db)

	// Usage-log queue and worker
	usageQueueCfg := queue.DefaultConfig("usage_logs")
	usageQueueCfg.BatchSize = cfg.UsageQueue.BatchSize
	usageQueueCfg.BatchTimeout = cfg.UsageQueue.BatchTimeout
	usageQueueCfg.MaxRetries = cfg.UsageQueue.MaxRetries
	usageQueueCfg.RetryBackoff = cfg.UsageQueue.RetryBackoff

	usageQueue, usageDLQ, err := newQueues[*models.UsageLogEntry](deps.Redis, usageQueueCfg)
	if err != nil {
		deps.closeStores()
		return nil, nil, fmt.Errorf("failed to create usage queue: %w", err)
	}
	deps.UsageWorker = storage.NewUsageLogWorker(usageQueue, usageDLQ, usageLogRepo, usageQueueCfg)
	deps.UsageWorker.Start(ctx)

	// Audit sink
	deps.Sink = logging.NewNoopSink()
	if cfg.AuditSink.Enabled {
		sinkQueueCfg := queue.DefaultConfig("audit_records")
		buffer, _, err := newQueues[*logging.LogRecord](deps.Redis, sinkQueueCfg)
		if err != nil {
			deps.Shutdown(ctx)
			return nil, nil, fmt.Errorf("failed to create audit buffer: %w", err)
		}
		sink, err := logging.NewS3Sink(ctx, logging.S3SinkConfig{
			Enabled:       true,
			BufferSize:    cfg.AuditSink.BufferSize,
			FlushSize:     cfg.AuditSink.FlushSize,
			FlushInterval: cfg.AuditSink.FlushInterval,
			S3Bucket:      cfg.AuditSink.S3Bucket,
			S3Region:      cfg.AuditSink.S3Region,
			S3Prefix:      cfg.AuditSink.S3Prefix,
			PodName:       cfg.AuditSink.PodName,
		}, buffer)
		if err != nil {
			deps.Shutdown(ctx)
			return nil, nil, fmt.Errorf("failed to initialize audit sink: %w", err)
		}
		deps.Sink = sink
	}

	deps.Metrics = metrics.NewPrometheusMetrics()

	// Synthesis pipeline
	transcoder, err := synthesis.NewTranscoder(cfg.Synthesis.Transcoder, cfg.Synthesis.FFmpegPath)
	if err != nil {
		deps.Shutdown(ctx)
		return nil, nil, err
	}
	if ff, ok := transcoder.(*synthesis.FFmpegTranscoder); ok {
		if err := ff.CheckFFmpeg(ctx); err != nil {
			deps.Shutdown(ctx)
			return nil, nil, err
		}
	}

	artifacts, err := synthesis.NewArtifactStore(cfg.Synthesis.OutputDir)
	if err != nil {
		deps.Shutdown(ctx)
		return nil, nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	deps.ClientPool = synthesis.NewClientPool(cfg.Synthesis.ClientPoolSize, cfg.Synthesis.ClientTTL)
	orchestrator := synthesis.NewOrchestrator(synthesis.Dependencies{
		Upstream:   synthesis.NewGeminiClient(cfg.Synthesis.UpstreamBaseURL, cfg.Synthesis.UpstreamModel, deps.ClientPool),
		Keys:       keypool.NewPool(upstreamKeyRepo),
		Transcoder: transcoder,
		Artifacts:  artifacts,
		Usage:      quotaRepo,
		UsageLogs:  deps.UsageWorker,
		Sink:       deps.Sink,
		Metrics:    deps.Metrics,
	}, cfg.Synthesis.UpstreamTimeout)

	deps.Gate = gate.New(cfg.Synthesis.MaxConcurrent)
	deps.Voice = relay.NewService(
		device.NewBinder(credentialRepo),
		quota.NewValidator(credentialRepo, quotaRepo),
		deps.Gate,
		orchestrator,
		deps.Metrics,
		cfg.Synthesis.DefaultVoice,
	)

	// Scheduled maintenance
	var locker scheduler.Locker
	if deps.Redis != nil {
		locker = scheduler.NewRedisLocker(deps.Redis.Client())
	}
	deps.Scheduler = scheduler.New(quotaRepo, locker, scheduler.Config{
		DailyResetSpec: cfg.Scheduler.DailyResetSpec,
		LockTTL:        cfg.Scheduler.LockTTL,
	})
	sweepLogger := utils.NewLogger("client-pool")
	err = deps.Scheduler.Every("@every 1m", "client-pool-sweep", func(context.Context) {
		if n := deps.ClientPool.Sweep(); n > 0 {
			sweepLogger.Debug("Expired upstream clients removed", "count", n)
		}
	})
	if err == nil {
		err = deps.Scheduler.Start()
	}
	if err != nil {
		deps.Shutdown(ctx)
		return nil, nil, err
	}

	deps.Artifacts = artifacts
	deps.Users = userRepo
	deps.Credentials = credentialRepo
	deps.UpstreamKeys = upstreamKeyRepo
	deps.UsageLogs = usageLogRepo
	deps.Clients = deps.ClientPool

	return NewHandler(deps, cfg), deps, nil
}

// newQueues returns a Redis-backed queue pair when a client is available and an in-memory pair otherwise
func newQueues[T any](rc *storage.RedisClient, cfg *queue.Config) (queue.Queue[T], queue.DeadLetterQueue[T], error) {
	if rc == nil {
		return queue.NewMemoryQueue[T](cfg), queue.NewMemoryDeadLetterQueue[T](), nil
	}
	q, err := queue.NewRedisQueue[T](rc.Client(), cfg)
	if err != nil {
		return nil, nil, err
	}
	dlq, err := queue.NewRedisDeadLetterQueue[T](rc.Client(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return q, dlq, nil
}

// NewHandler registers every route on a fresh mux and wraps it in the common middleware
func NewHandler(deps *Dependencies, cfg *config.Config) http.Handler {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopMetrics()
	}

	api := &API{
		deps:   deps,
		cfg:    cfg,
		logger: utils.NewLogger("httpapi"),
		now:    time.Now,
	}

	mux := http.NewServeMux()
	api.registerRoutes(mux)

	return middleware.Chain(mux,
		middleware.RequestID,
		middleware.AccessLog(api.logger),
		middleware.Recover(api.logger),
	)
}

// API holds the handlers
type API struct {
	deps   *Dependencies
	cfg    *config.Config
	logger *utils.Logger
	now    func() time.Time
}

func (a *API) registerRoutes(mux *http.ServeMux) {
	// Client endpoints
	mux.HandleFunc("POST /api/voice/create", a.handleCreateVoice)
	mux.HandleFunc("GET /api/voice/download/{filename}", a.handleDownload)
	mux.HandleFunc("GET /api/voice/list", a.handleListVoices)
	mux.HandleFunc("GET /api/voice/auth", a.handleVoiceAuth)
	mux.HandleFunc("GET /api/version.json", a.handleVersion)

	// Health and metrics
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.Handle("GET /metrics", a.deps.Metrics.HTTPHandler())

	// Admin authentication
	mux.HandleFunc("POST /api/auth/login", a.handleLogin)

	// Admin management, JWT with the admin role
	admin := middleware.AdminOnly(a.cfg, a.deps.Users)
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, admin(h))
	}

	handle("GET /api/admin/users", a.handleListUsers)
	handle("POST /api/admin/users", a.handleCreateUser)
	handle("DELETE /api/admin/users/{id}", a.handleDeleteUser)
	handle("POST /api/admin/users/{id}/toggle", a.handleToggleUser)

	handle("GET /api/admin/keys", a.handleListKeys)
	handle("POST /api/admin/keys", a.handleCreateKey)
	handle("PUT /api/admin/keys/{id}", a.handleUpdateKey)
	handle("DELETE /api/admin/keys/{id}", a.handleDeleteKey)
	handle("POST /api/admin/keys/{id}/toggle", a.handleToggleKey)

	handle("GET /api/admin/gemini-keys", a.handleListUpstreamKeys)
	handle("POST /api/admin/gemini-keys", a.handleCreateUpstreamKey)
	handle("DELETE /api/admin/gemini-keys/{id}", a.handleDeleteUpstreamKey)
	handle("POST /api/admin/gemini-keys/{id}/toggle", a.handleToggleUpstreamKey)

	handle("GET /api/admin/usage-logs", a.handleListUsageLogs)
	handle("DELETE /api/admin/usage-logs", a.handlePurgeUsageLogs)
}

// Shutdown stops background work in dependency order: in-flight jobs first,
// then the writers they feed, then the stores.
func (d *Dependencies) Shutdown(ctx context.Context) error {
	var errs []error

	if d.Scheduler != nil {
		d.Scheduler.Stop(ctx)
	}
	if d.Gate != nil {
		if err := d.Gate.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("in-flight jobs did not finish: %w", err))
		}
	}
	if d.UsageWorker != nil {
		if err := d.UsageWorker.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.Sink != nil {
		if err := d.Sink.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush audit sink: %w", err))
		}
	}
	if d.ClientPool != nil {
		d.ClientPool.Close()
	}
	if err := d.closeStores(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (d *Dependencies) closeStores() error {
	var errs []error
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
