// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reasoner assembles the climate reasoner service: the World Model
// cache, the hybrid search reasoner, the similarity and strategy engine, and
// the HTTP surface over them.
package reasoner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianClimate/services/reasoner/config"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/observability"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/search"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/semantic"
	badgerstore "github.com/AleutianAI/AleutianClimate/services/reasoner/storage/badger"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/store"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/strategy"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/telemetry"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/worldmodel"
)

// ShutdownTimeout bounds graceful HTTP shutdown.
const ShutdownTimeout = 10 * time.Second

// Service owns every long-lived reasoner component.
type Service struct {
	cfg    config.Config
	logger *slog.Logger

	store    *store.SQLStore
	cache    *worldmodel.Cache
	watcher  *worldmodel.ManifestWatcher
	embedDB  *badgerstore.DB
	reasoner *search.Reasoner
	engine   *strategy.Engine
	metrics  *observability.ReasonerMetrics
	handlers *Handlers
	router   *gin.Engine
}

// ServiceOption configures New.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger   *slog.Logger
	registry *prometheus.Registry
}

// WithServiceLogger sets the service logger. Default: slog.Default().
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRegistry registers service metrics on reg and serves reg at /metrics
// instead of the default Prometheus registry.
func WithRegistry(reg *prometheus.Registry) ServiceOption {
	return func(o *serviceOptions) { o.registry = reg }
}

// New builds the service from configuration.
//
// # Description
//
// Opens and migrates the tenant store (seeding demo data into an empty
// database when configured), builds the first World Model snapshot so a
// broken manifest fails startup, wires the semantic stack when Weaviate
// and an embedding provider are configured, and assembles the router.
//
// # Outputs
//
//   - *Service: Ready service. Call Close when done.
//   - error: Store, manifest, embedding cache or Weaviate setup failure.
func New(ctx context.Context, cfg config.Config, opts ...ServiceOption) (*Service, error) {
	o := serviceOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{cfg: cfg, logger: o.logger}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	if err := s.initStore(ctx); err != nil {
		return nil, err
	}
	if err := s.initWorldModel(ctx); err != nil {
		return nil, err
	}

	retriever, err := s.initSemantic()
	if err != nil {
		return nil, err
	}

	var registerer prometheus.Registerer
	metricsHandler := telemetry.MetricsHandler()
	if o.registry != nil {
		registerer = o.registry
		metricsHandler = promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
	}
	s.metrics = observability.NewReasonerMetrics(registerer)

	s.reasoner = search.NewReasoner(s.cache, retriever, s.store,
		search.WithSourceTimeout(cfg.Search.SourceTimeout),
		search.WithRecorder(s.metrics),
		search.WithLogger(s.logger),
	)
	s.engine = strategy.NewEngine(s.store,
		strategy.WithPoolSize(cfg.Store.CandidatePoolSize),
		strategy.WithLogger(s.logger),
	)

	s.handlers = NewHandlers(s.reasoner, s.engine, s.cache, s.metrics).
		WithSemantic(retriever != nil)

	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	RegisterRoutes(s.router, s.handlers, metricsHandler)

	ok = true
	return s, nil
}

func (s *Service) initStore(ctx context.Context) error {
	db, err := store.Open(ctx, s.cfg.Store.DSN)
	if err != nil {
		return err
	}
	s.store = db

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	if !s.cfg.Store.SeedDemo {
		return nil
	}
	existing, err := db.ListTenants(ctx, 1)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		s.logger.Info("Tenant store not empty, skipping demo seed")
		return nil
	}
	if err := db.SeedDemo(ctx); err != nil {
		return err
	}
	s.logger.Info("Seeded demo tenants")
	return nil
}

func (s *Service) initWorldModel(ctx context.Context) error {
	s.cache = worldmodel.NewCache(
		worldmodel.ManifestBuildFunc(s.cfg.ManifestPath),
		worldmodel.WithTTL(s.cfg.Cache.TTL),
		worldmodel.WithLogger(s.logger),
	)
	snap, err := s.cache.Get(ctx)
	if err != nil {
		return fmt.Errorf("initial world model build: %w", err)
	}
	s.logger.Info("World model ready",
		"nodes", snap.NodeCount(),
		"edges", snap.EdgeCount(),
		"manifest_digest", snap.ManifestDigest())

	if s.cfg.Cache.WatchManifest && s.cfg.ManifestPath != "" {
		w, err := worldmodel.WatchManifest(context.WithoutCancel(ctx), s.cfg.ManifestPath, s.cache, s.logger)
		if err != nil {
			return err
		}
		s.watcher = w
	}
	return nil
}

// initSemantic returns nil when the semantic source is disabled so the
// reasoner sees an unset interface.
func (s *Service) initSemantic() (search.SemanticRetriever, error) {
	if !s.cfg.SemanticEnabled() {
		s.logger.Info("Semantic source disabled",
			"weaviate_url_set", s.cfg.Weaviate.URL != "",
			"embedding_provider", s.cfg.Embedding.Provider)
		return nil, nil
	}

	embedder, db, err := NewEmbedder(s.cfg, s.logger)
	if err != nil {
		return nil, err
	}
	s.embedDB = db

	client, err := semantic.NewWeaviateClient(s.cfg.Weaviate.URL)
	if err != nil {
		return nil, err
	}
	searcher := semantic.NewWeaviateSearcher(client, s.cfg.Weaviate.ClassName)
	return semantic.NewRetriever(embedder, searcher), nil
}

// NewEmbedder builds the configured embedding oracle: the provider client,
// wrapped in a Badger-backed cache, wrapped in a rate limiter.
//
// # Outputs
//
//   - semantic.Embedder: Ready embedder. semantic.Unconfigured for provider "none".
//   - *badgerstore.DB: The cache database, nil for provider "none". Caller closes it.
//   - error: Cache database open failure.
func NewEmbedder(cfg config.Config, logger *slog.Logger) (semantic.Embedder, *badgerstore.DB, error) {
	var inner semantic.Embedder
	model := cfg.Embedding.Model
	switch cfg.Embedding.Provider {
	case config.ProviderHTTP:
		inner = semantic.NewHTTPEmbedder(cfg.Embedding.ServiceURL, nil)
		if model == "" {
			model = cfg.Embedding.ServiceURL
		}
	case config.ProviderOpenAI:
		oai := semantic.NewOpenAIEmbedder(semantic.OpenAIConfig{
			APIKey:  cfg.Embedding.OpenAIAPIKey,
			BaseURL: cfg.Embedding.OpenAIBaseURL,
			Model:   cfg.Embedding.Model,
		})
		inner, model = oai, oai.Model()
	default:
		return semantic.Unconfigured{}, nil, nil
	}

	dbCfg := badgerstore.InMemoryConfig()
	if cfg.Embedding.CacheDir != "" {
		dbCfg = badgerstore.DefaultConfig(cfg.Embedding.CacheDir)
	}
	dbCfg.Logger = logger
	db, err := badgerstore.Open(dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding cache: %w", err)
	}

	cached := semantic.NewCachedEmbedder(inner, db.DB, model, cfg.Embedding.CacheTTL)
	return semantic.NewRateLimitedEmbedder(cached, cfg.Embedding.RateLimit, cfg.Embedding.Burst), db, nil
}

// Router returns the configured Gin engine.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Store returns the tenant store.
func (s *Service) Store() *store.SQLStore {
	return s.store
}

// Snapshots returns the World Model cache.
func (s *Service) Snapshots() *worldmodel.Cache {
	return s.cache
}

// Reasoner returns the hybrid search reasoner.
func (s *Service) Reasoner() *search.Reasoner {
	return s.reasoner
}

// Engine returns the similarity and strategy engine.
func (s *Service) Engine() *strategy.Engine {
	return s.engine
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting reasoner server", "port", s.cfg.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down reasoner server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the watcher, the embedding cache and the store. Safe to
// call on a partially built service.
func (s *Service) Close() error {
	var errs []error
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.embedDB != nil {
		if err := s.embedDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close embedding cache: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
