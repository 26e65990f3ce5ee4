package config

import (
	"context"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// ListenerConfig holds the network settings for the HTTP listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

// Config holds all configuration for the strand service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode the X-User-ID header is accepted as identity.
	Mode string

	// Datastore backend type: "postgres" or "sqlite".
	DatastoreType string
	// DBURL is the postgres connection URL.
	DBURL string
	// SQLitePath is the sqlite database file (":memory:" for ephemeral).
	SQLitePath string
	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool
	DBMaxOpenConns          int
	DBMaxIdleConns          int

	// Cache
	CacheType    string // "none" or "redis"
	RedisURL     string
	CacheNoteTTL time.Duration

	// Auth: comma-separated token:userId[:admin] entries.
	AuthTokens string

	// Embedding provider: "local", "openai", or "none".
	EmbedType        string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModelName  string
	OpenAIDimensions int
	// EmbedMaxChars is the large-input threshold above which the pipeline
	// substitutes the deterministic pseudo-embedding.
	EmbedMaxChars int

	// Assistant provider for summaries/tags/titles: "openai" or "none".
	AssistType      string
	AssistModelName string

	// Vector store: "" (disabled) or "pgvector".
	VectorType           string
	VectorMigrateAtStart bool

	// Link preview fetch
	PreviewTimeout  time.Duration
	PreviewMaxBytes int64

	// Enrichment workers
	WorkerCount        int
	WorkerPollInterval time.Duration
	JobRetryDelay      time.Duration
	JobMaxAttempts     int

	// Workspace markdown index
	IndexDir      string
	IndexMaxBytes int64

	// HTTP
	Listener    ListenerConfig
	MaxBodySize int64
	AccessLog   bool

	// MetricsLabels is a comma-separated key=value list of constant
	// Prometheus labels.
	MetricsLabels string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		SQLitePath:              "strand.db",
		CacheType:               "none",
		CacheNoteTTL:            10 * time.Minute,
		EmbedType:               "local",
		OpenAIBaseURL:           "https://api.openai.com/v1",
		OpenAIModelName:         "text-embedding-3-small",
		EmbedMaxChars:           60_000,
		AssistType:              "none",
		AssistModelName:         "gpt-4o-mini",
		VectorType:              "",
		VectorMigrateAtStart:    true,
		PreviewTimeout:          4 * time.Second,
		PreviewMaxBytes:         1 << 20, // 1 MB of HTML is plenty for metadata
		WorkerCount:             2,
		WorkerPollInterval:      2 * time.Second,
		JobRetryDelay:           time.Minute,
		JobMaxAttempts:          3,
		IndexDir:                "indexes",
		IndexMaxBytes:           4 << 20,
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize: 20 * 1024 * 1024,
	}
}
