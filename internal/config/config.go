package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the voice gateway.
type Config struct {
	HTTPPort      string
	JWTSecret     []byte
	JWTTTL        time.Duration
	EncryptionKey string // hex encoded, 32 bytes
	AppVersion    string
	LogLevel      string
	Database      DatabaseConfig
	Redis         RedisConfig
	Synthesis     SynthesisConfig
	UsageQueue    QueueConfig
	Scheduler     SchedulerConfig
	AuditSink     AuditSinkConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled      bool
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SynthesisConfig holds upstream and artifact settings
type SynthesisConfig struct {
	UpstreamBaseURL string
	UpstreamModel   string
	UpstreamTimeout time.Duration // fixed deadline for a single upstream call
	MaxConcurrent   int           // capacity of the concurrency gate
	ClientTTL       time.Duration // lifetime of pooled upstream HTTP clients
	ClientPoolSize  int
	OutputDir       string
	Transcoder      string // "ffmpeg" or "wav"
	FFmpegPath      string
	DefaultVoice    string
}

// QueueConfig holds settings for the async usage-log queue
type QueueConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// SchedulerConfig holds settings for the daily maintenance job
type SchedulerConfig struct {
	DailyResetSpec string
	LockTTL        time.Duration
}

// AuditSinkConfig holds configuration for the S3-backed audit sink
type AuditSinkConfig struct {
	Enabled       bool
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:      getEnvString("HTTP_PORT", "8080"),
		JWTSecret:     []byte(getEnvString("JWT_SECRET", "supersecretkey")),
		JWTTTL:        getEnvDuration("JWT_TTL", 24*time.Hour),
		EncryptionKey: getEnvString("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"),
		AppVersion:    getEnvString("APP_VERSION", "1.0.0"),
		LogLevel:      getEnvString("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:      getEnvBool("REDIS_ENABLED", true),
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Synthesis: SynthesisConfig{
			UpstreamBaseURL: getEnvString("UPSTREAM_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			UpstreamModel:   getEnvString("UPSTREAM_MODEL", "gemini-2.5-flash-preview-tts"),
			UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 60*time.Second),
			MaxConcurrent:   getEnvInt("MAX_CONCURRENT_SYNTHESIS", 5),
			ClientTTL:       getEnvDuration("UPSTREAM_CLIENT_TTL", 10*time.Minute),
			ClientPoolSize:  getEnvInt("UPSTREAM_CLIENT_POOL_SIZE", 64),
			OutputDir:       getEnvString("OUTPUT_DIR", "outputs"),
			Transcoder:      getEnvString("TRANSCODER", "ffmpeg"),
			FFmpegPath:      getEnvString("FFMPEG_PATH", "ffmpeg"),
			DefaultVoice:    getEnvString("DEFAULT_VOICE", "kore"),
		},
		UsageQueue: QueueConfig{
			BatchSize:    getEnvInt("USAGE_QUEUE_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("USAGE_QUEUE_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("USAGE_QUEUE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("USAGE_QUEUE_RETRY_BACKOFF", 1*time.Second),
		},
		Scheduler: SchedulerConfig{
			DailyResetSpec: getEnvString("DAILY_RESET_SCHEDULE", "0 0 * * *"),
			LockTTL:        getEnvDuration("DAILY_RESET_LOCK_TTL", 25*time.Hour),
		},
		AuditSink: AuditSinkConfig{
			Enabled:       getEnvBool("AUDIT_SINK_ENABLED", false),
			BufferSize:    getEnvInt("AUDIT_SINK_BUFFER_SIZE", 10000),
			FlushSize:     getEnvInt("AUDIT_SINK_FLUSH_SIZE", 1000),
			FlushInterval: getEnvDuration("AUDIT_SINK_FLUSH_INTERVAL", 5*time.Minute),
			S3Bucket:      getEnvString("AUDIT_SINK_S3_BUCKET", ""),
			S3Region:      getEnvString("AUDIT_SINK_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("AUDIT_SINK_S3_PREFIX", "audit/"),
			PodName:       getEnvString("POD_NAME", "voice-gateway-0"),
		},
	}

	if cfg.Synthesis.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("MAX_CONCURRENT_SYNTHESIS must be positive, got %d", cfg.Synthesis.MaxConcurrent)
	}
	if cfg.AuditSink.Enabled && cfg.AuditSink.S3Bucket == "" {
		return nil, fmt.Errorf("AUDIT_SINK_S3_BUCKET is required when the audit sink is enabled")
	}

	return cfg, nil
}
