package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/strandhq/strand/internal/config"
	registryassist "github.com/strandhq/strand/internal/registry/assist"
	registrycache "github.com/strandhq/strand/internal/registry/cache"
	registryembed "github.com/strandhq/strand/internal/registry/embed"
	registrystore "github.com/strandhq/strand/internal/registry/store"
	registryvector "github.com/strandhq/strand/internal/registry/vector"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/strandhq/strand/internal/plugin/assist/disabled"
	_ "github.com/strandhq/strand/internal/plugin/assist/openai"
	_ "github.com/strandhq/strand/internal/plugin/cache/noop"
	_ "github.com/strandhq/strand/internal/plugin/cache/redis"
	_ "github.com/strandhq/strand/internal/plugin/embed/disabled"
	_ "github.com/strandhq/strand/internal/plugin/embed/local"
	_ "github.com/strandhq/strand/internal/plugin/embed/openai"
	_ "github.com/strandhq/strand/internal/plugin/route/system"
	_ "github.com/strandhq/strand/internal/plugin/store/gormstore"
	_ "github.com/strandhq/strand/internal/plugin/vector/pgvector"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the strand HTTP server and enrichment workers",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("STRAND_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("STRAND_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Server:",
			Sources:     cli.EnvVars("STRAND_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Run mode (prod|testing); testing mode accepts the X-User-ID header as identity",
		},
		&cli.BoolFlag{
			Name:        "access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("STRAND_ACCESS_LOG"),
			Destination: &cfg.AccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.StringFlag{
			Name:        "auth-tokens",
			Category:    "Server:",
			Sources:     cli.EnvVars("STRAND_AUTH_TOKENS"),
			Destination: &cfg.AuthTokens,
			Usage:       "Comma-separated token:userId[:admin] entries",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("STRAND_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum accepted request body size in bytes",
		},
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Server:",
			Sources:     cli.EnvVars("STRAND_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Usage:       "Constant Prometheus labels as key=value pairs (comma-separated)",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("STRAND_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("STRAND_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Postgres connection URL",
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Category:    "Database:",
			Sources:     cli.EnvVars("STRAND_SQLITE_PATH"),
			Destination: &cfg.SQLitePath,
			Value:       cfg.SQLitePath,
			Usage:       "SQLite database file (\":memory:\" for ephemeral)",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("STRAND_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run datastore migrations on startup",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("STRAND_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("STRAND_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("STRAND_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("STRAND_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL for the note cache",
		},
		&cli.DurationFlag{
			Name:        "cache-note-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("STRAND_CACHE_NOTE_TTL"),
			Destination: &cfg.CacheNoteTTL,
			Value:       cfg.CacheNoteTTL,
			Usage:       "TTL for cached notes",
		},

		// ── Enrichment ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Enrichment:",
			Sources:     cli.EnvVars("STRAND_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "assist-kind",
			Category:    "Enrichment:",
			Sources:     cli.EnvVars("STRAND_ASSIST_KIND"),
			Destination: &cfg.AssistType,
			Value:       cfg.AssistType,
			Usage:       "Assistant provider (" + strings.Join(registryassist.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Category:    "Enrichment:",
			Sources:     cli.EnvVars("STRAND_OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key for the embedding and assistant providers",
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Category:    "Enrichment:",
			Sources:     cli.EnvVars("STRAND_OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL,
			Value:       cfg.OpenAIBaseURL,
			Usage:       "OpenAI-compatible API base URL",
		},
		&cli.StringFlag{
			Name:        "openai-embedding-model",
			Category:    "Enrichment:",
			Sources:     cli.EnvVars("STRAND_OPENAI_EMBEDDING_MODEL"),
			Destination: &cfg.OpenAIModelName,
			Value:       cfg.OpenAIModelName,
			Usage:       "OpenAI embedding model name",
		},
		&cli.IntFlag{
			Name:        "openai-embedding-dimensions",
			Category:    "Enrichment:",
			Sources:     cli.EnvVars("STRAND_OPENAI_EMBEDDING_DIMENSIONS"),
			Destination: &cfg.OpenAIDimensions,
			Usage:       "Requested embedding dimensions (0 = model default)",
		},
		&cli.StringFlag{
			Name:        "assist-model",
			Category:    "Enrichment:",
			Sources:     cli.EnvVars("STRAND_ASSIST_MODEL"),
			Destination: &cfg.AssistModelName,
			Value:       cfg.AssistModelName,
			Usage:       "Assistant chat model name",
		},
		&cli.IntFlag{
			Name:        "embed-max-chars",
			Category:    "Enrichment:",
			Sources:     cli.EnvVars("STRAND_EMBED_MAX_CHARS"),
			Destination: &cfg.EmbedMaxChars,
			Value:       cfg.EmbedMaxChars,
			Usage:       "Input size above which the deterministic pseudo-embedding is used",
		},
		&cli.DurationFlag{
			Name:        "preview-timeout",
			Category:    "Enrichment:",
			Sources:     cli.EnvVars("STRAND_PREVIEW_TIMEOUT"),
			Destination: &cfg.PreviewTimeout,
			Value:       cfg.PreviewTimeout,
			Usage:       "Hard timeout for link preview fetches",
		},
		&cli.Int64Flag{
			Name:        "preview-max-bytes",
			Category:    "Enrichment:",
			Sources:     cli.EnvVars("STRAND_PREVIEW_MAX_BYTES"),
			Destination: &cfg.PreviewMaxBytes,
			Value:       cfg.PreviewMaxBytes,
			Usage:       "Maximum bytes read from a link preview response",
		},
		&cli.IntFlag{
			Name:        "worker-count",
			Category:    "Enrichment:",
			Sources:     cli.EnvVars("STRAND_WORKER_COUNT"),
			Destination: &cfg.WorkerCount,
			Value:       cfg.WorkerCount,
			Usage:       "Number of enrichment worker goroutines",
		},
		&cli.DurationFlag{
			Name:        "worker-poll-interval",
			Category:    "Enrichment:",
			Sources:     cli.EnvVars("STRAND_WORKER_POLL_INTERVAL"),
			Destination: &cfg.WorkerPollInterval,
			Value:       cfg.WorkerPollInterval,
			Usage:       "How often idle workers poll the queue",
		},
		&cli.DurationFlag{
			Name:        "job-retry-delay",
			Category:    "Enrichment:",
			Sources:     cli.EnvVars("STRAND_JOB_RETRY_DELAY"),
			Destination: &cfg.JobRetryDelay,
			Value:       cfg.JobRetryDelay,
			Usage:       "Delay before a failed job becomes claimable again",
		},
		&cli.IntFlag{
			Name:        "job-max-attempts",
			Category:    "Enrichment:",
			Sources:     cli.EnvVars("STRAND_JOB_MAX_ATTEMPTS"),
			Destination: &cfg.JobMaxAttempts,
			Value:       cfg.JobMaxAttempts,
			Usage:       "Attempts before a job is parked as failed",
		},

		// ── Vector Store ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "vector-kind",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("STRAND_VECTOR_KIND"),
			Destination: &cfg.VectorType,
			Value:       cfg.VectorType,
			Usage:       "Vector store (" + strings.Join(registryvector.Names(), "|") + "); empty disables vector persistence",
		},
		&cli.BoolFlag{
			Name:        "vector-migrate-at-start",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("STRAND_VECTOR_MIGRATE_AT_START"),
			Destination: &cfg.VectorMigrateAtStart,
			Value:       cfg.VectorMigrateAtStart,
			Usage:       "Run vector store migrations on startup",
		},

		// ── Workspace Index ───────────────────────────────────────
		&cli.StringFlag{
			Name:        "index-dir",
			Category:    "Workspace Index:",
			Sources:     cli.EnvVars("STRAND_INDEX_DIR"),
			Destination: &cfg.IndexDir,
			Value:       cfg.IndexDir,
			Usage:       "Directory for per-workspace markdown index files",
		},
		&cli.Int64Flag{
			Name:        "index-max-bytes",
			Category:    "Workspace Index:",
			Sources:     cli.EnvVars("STRAND_INDEX_MAX_BYTES"),
			Destination: &cfg.IndexMaxBytes,
			Value:       cfg.IndexMaxBytes,
			Usage:       "Index file size above which the file is rotated aside",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}
