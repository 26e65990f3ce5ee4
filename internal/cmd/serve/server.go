package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/strandhq/strand/internal/config"
	"github.com/strandhq/strand/internal/enrich"
	"github.com/strandhq/strand/internal/events"
	"github.com/strandhq/strand/internal/plugin/route/admin"
	"github.com/strandhq/strand/internal/plugin/route/notes"
	routesystem "github.com/strandhq/strand/internal/plugin/route/system"
	storemetrics "github.com/strandhq/strand/internal/plugin/store/metrics"
	registryassist "github.com/strandhq/strand/internal/registry/assist"
	registrycache "github.com/strandhq/strand/internal/registry/cache"
	registryembed "github.com/strandhq/strand/internal/registry/embed"
	registrymigrate "github.com/strandhq/strand/internal/registry/migrate"
	registryroute "github.com/strandhq/strand/internal/registry/route"
	registrystore "github.com/strandhq/strand/internal/registry/store"
	registryvector "github.com/strandhq/strand/internal/registry/vector"
	"github.com/strandhq/strand/internal/security"
	"github.com/strandhq/strand/internal/service"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config  *config.Config
	Store   registrystore.NoteStore
	Router  *gin.Engine
	Hub     *events.Hub
	Workers *service.WorkerPool
	httpSrv *http.Server
}

// Shutdown gracefully shuts down the HTTP listener. Workers stop when the
// context passed to StartServer is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// StartServer initializes all subsystems and starts the HTTP listener.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting strand",
		"port", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"vector", cfg.VectorType,
		"embedding", cfg.EmbedType,
		"assist", cfg.AssistType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize cache and inject into context so store loaders can read it.
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if noteCache, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else {
		ctx = registrycache.WithNoteCacheContext(ctx, noteCache)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.AccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))

	// Mount main route plugins on the main router.
	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Initialize embedder and assistant for the enrichment pipeline.
	var embedder registryembed.Embedder
	if cfg.EmbedType != "" {
		embedLoader, err := registryembed.Select(cfg.EmbedType)
		if err != nil {
			log.Warn("Embedder not available", "err", err)
		} else {
			embedder, err = embedLoader(ctx)
			if err != nil {
				log.Warn("Failed to initialize embedder", "err", err)
			}
		}
	}
	var assistant registryassist.Assistant
	if cfg.AssistType != "" {
		assistLoader, err := registryassist.Select(cfg.AssistType)
		if err != nil {
			log.Warn("Assistant not available", "err", err)
		} else {
			assistant, err = assistLoader(ctx)
			if err != nil {
				log.Warn("Failed to initialize assistant", "err", err)
			}
		}
	}

	// Initialize vector store (optional, for semantic retrieval).
	var vectorStore registryvector.VectorStore
	if cfg.VectorType != "" && cfg.VectorType != "none" {
		vectorLoader, err := registryvector.Select(cfg.VectorType)
		if err != nil {
			log.Warn("Vector store not available", "err", err)
		} else {
			vectorStore, err = vectorLoader(ctx)
			if err != nil {
				log.Warn("Failed to initialize vector store", "err", err)
			}
		}
	}

	// Create shared token resolver and auth middleware.
	resolver := security.NewTokenResolver(cfg)
	auth := security.AuthMiddleware(resolver)

	hub := events.NewHub()
	index := service.NewWorkspaceIndex(cfg.IndexDir, cfg.IndexMaxBytes)
	svc := service.NewNoteService(store, hub, index, vectorStore)

	// Mount API routes
	notes.MountRoutes(router, svc, hub, auth)
	admin.MountRoutes(router, store, auth)

	// Mount management route plugins on the main router.
	for _, loader := range registryroute.ManagementRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
	}

	// Start enrichment workers
	pipeline := enrich.NewPipeline(enrich.Options{
		Store:           store,
		Embedder:        embedder,
		Assistant:       assistant,
		Vectors:         vectorStore,
		Indexer:         index,
		PreviewTimeout:  cfg.PreviewTimeout,
		PreviewMaxBytes: cfg.PreviewMaxBytes,
		EmbedMaxChars:   cfg.EmbedMaxChars,
	})
	workers := service.NewWorkerPool(store, pipeline, hub, cfg.WorkerCount, cfg.WorkerPollInterval, cfg.JobRetryDelay)
	go workers.Start(ctx)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Listener.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "err", err)
		}
	}()

	log.Info("Server listening", "port", cfg.Listener.Port)

	routesystem.MarkReady()
	return &Server{
		Config:  cfg,
		Store:   store,
		Router:  router,
		Hub:     hub,
		Workers: workers,
		httpSrv: httpSrv,
	}, nil
}
