// Command reporag runs the ingestion and retrieval service: it indexes git
// repositories into a namespaced vector store and answers questions against
// them with a hybrid dense/sparse retriever.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bhanu1232/RepoRAG/internal/config"
	"github.com/bhanu1232/RepoRAG/internal/corpus"
	"github.com/bhanu1232/RepoRAG/internal/embedding"
	"github.com/bhanu1232/RepoRAG/internal/embedding/openaiembed"
	"github.com/bhanu1232/RepoRAG/internal/fetcher"
	"github.com/bhanu1232/RepoRAG/internal/indexer"
	"github.com/bhanu1232/RepoRAG/internal/llm"
	"github.com/bhanu1232/RepoRAG/internal/llm/anthropicllm"
	"github.com/bhanu1232/RepoRAG/internal/middleware"
	"github.com/bhanu1232/RepoRAG/internal/observability"
	"github.com/bhanu1232/RepoRAG/internal/queryplan"
	"github.com/bhanu1232/RepoRAG/internal/repository"
	"github.com/bhanu1232/RepoRAG/internal/retrieval"
	"github.com/bhanu1232/RepoRAG/internal/security/ratelimit"
	"github.com/bhanu1232/RepoRAG/internal/tls"
	"github.com/bhanu1232/RepoRAG/internal/validation"
	"github.com/bhanu1232/RepoRAG/internal/vectorstore"
	"github.com/bhanu1232/RepoRAG/internal/vectorstore/qdrant"
)

const Version = "0.1.0"

func init() {
	if err := embedding.Register(&openaiembed.Provider{}); err != nil {
		panic(fmt.Sprintf("failed to register openai embedding provider: %v", err))
	}
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		Output:        os.Stdout,
		AddSource:     true,
		SentryEnabled: cfg.Observability.Sentry.Enabled,
	})

	logger.Info("RepoRAG starting",
		"version", Version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"vector_store", cfg.VectorStore.Provider,
		"embedding_provider", cfg.Embedding.Provider,
		"llm_provider", cfg.LLM.Provider,
	)

	var metrics *observability.MetricsCollector
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.NewMetricsCollector("reporag")
		go startMetricsServer(cfg.Observability.Metrics, logger)
	}

	var tracerProvider *observability.TracerProvider
	if cfg.Observability.Tracing.Enabled {
		tracerProvider, err = observability.NewTracerProvider(observability.TracerConfig{
			ServiceName:    "reporag",
			ServiceVersion: Version,
			Environment:    "production",
			OTLPEndpoint:   cfg.Observability.Tracing.Endpoint,
			SamplingRate:   cfg.Observability.Tracing.SampleRate,
			Enabled:        true,
		})
		if err != nil {
			logger.Error("failed to initialize tracing provider", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown tracer provider", "error", err)
			}
		}()
	}

	if cfg.Observability.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Observability.Sentry.DSN,
			Environment:      cfg.Observability.Sentry.Environment,
			Release:          cfg.Observability.Sentry.Release,
			TracesSampleRate: cfg.Observability.Sentry.SampleRate,
			EnableTracing:    true,
		}); err != nil {
			logger.Error("failed to initialize Sentry", "error", err)
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)
	}

	errorHandler := observability.NewErrorHandler(logger, metrics, cfg.Observability.Sentry.Enabled)

	store, err := newVectorStore(cfg)
	if err != nil {
		logger.Error("failed to initialize vector store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	embedder := newEmbedder(cfg, logger)
	logger.Info("embedder initialized", "provider", cfg.Embedding.Provider, "model", embedder.Model(), "dimensions", embedder.Dimensions())

	llmClient := newLLMClient(cfg)

	registry := repository.NewRegistry()
	corpusStore := corpus.NewStore()

	estimator := queryplan.NewHistogramEstimator()

	pipeline := indexer.NewPipelineIndexer(
		fetcher.NewGitFetcher(),
		indexer.NewFileWalker(cfg.Indexer.MaxFileSizeBytes),
		indexer.NewWindowChunker(),
		indexer.NewMetadataEnricher(),
		embedder,
		store,
		registry,
		corpusStore,
	).WithSelectivityEstimator(estimator)
	jobs := indexer.NewJobController(pipeline, cfg.Indexer.JobTimeout).WithLogger(logger)

	retriever := retrieval.New(store, embedder, estimator, corpusStore, llmClient, logger)

	srv := &service{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		errorHandler: errorHandler,
		jobs:         jobs,
		registry:     registry,
		retriever:    retriever,
	}

	runHTTPServer(ctx, cfg, srv, logger)
}

func newVectorStore(cfg *config.Config) (vectorstore.VectorStore, error) {
	switch cfg.VectorStore.Provider {
	case "qdrant":
		return qdrant.New(qdrant.Config{
			Host:       cfg.VectorStore.Host,
			Port:       cfg.VectorStore.Port,
			APIKey:     cfg.VectorStore.APIKey,
			UseTLS:     cfg.VectorStore.UseTLS,
			Dimensions: cfg.VectorStore.Dimensions,
		})
	default:
		return vectorstore.NewMemoryStore(), nil
	}
}

func newEmbedder(cfg *config.Config, logger *observability.Logger) embedding.Embedder {
	provider, err := embedding.Get(cfg.Embedding.Provider)
	if err != nil {
		logger.Warn("unknown embedding provider, falling back to mock", "provider", cfg.Embedding.Provider, "error", err)
		return embedding.NewMock(cfg.Embedding.Dimensions)
	}

	providerConfig := make(map[string]interface{}, len(cfg.Embedding.Config)+2)
	for k, v := range cfg.Embedding.Config {
		providerConfig[k] = v
	}
	providerConfig["model"] = cfg.Embedding.Model
	providerConfig["dimensions"] = cfg.Embedding.Dimensions

	embedder, err := provider.Create(providerConfig)
	if err != nil {
		logger.Warn("failed to create embedder, falling back to mock", "provider", cfg.Embedding.Provider, "error", err)
		return embedding.NewMock(cfg.Embedding.Dimensions)
	}
	return embedder
}

func newLLMClient(cfg *config.Config) llm.Client {
	switch cfg.LLM.Provider {
	default:
		return anthropicllm.New(cfg.LLM.APIKey, cfg.LLM.Model)
	}
}

// service bundles the handlers' dependencies.
type service struct {
	cfg          *config.Config
	logger       *observability.Logger
	metrics      *observability.MetricsCollector
	errorHandler *observability.ErrorHandler
	jobs         indexer.Controller
	registry     *repository.Registry
	retriever    *retrieval.Retriever
}

type indexRepoRequest struct {
	RepoURL        string   `json:"repo_url"`
	Revision       string   `json:"revision"`
	IgnorePatterns []string `json:"ignore_patterns"`
}

func (s *service) handleIndexRepo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.metrics != nil {
		s.metrics.TrackRequestInFlight("index_repo", 1)
		defer s.metrics.TrackRequestInFlight("index_repo", -1)
	}
	start := time.Now()

	var req indexRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RepoURL == "" {
		writeJSONError(w, http.StatusBadRequest, "repo_url is required")
		return
	}
	if len(req.IgnorePatterns) == 0 {
		req.IgnorePatterns = indexer.DefaultIgnorePatterns()
	}

	jobID, err := s.jobs.Start(r.Context(), indexer.Request{
		RepoURL:        req.RepoURL,
		Revision:       req.Revision,
		IgnorePatterns: req.IgnorePatterns,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordIndexerError("start_failed")
			s.metrics.RecordRequest("index_repo", "error", time.Since(start))
		}
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.RecordIndexerOperation("start", "accepted", time.Since(start))
		s.metrics.RecordRequest("index_repo", "ok", time.Since(start))
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "repo_url": req.RepoURL})
}

func (s *service) handleCancelIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.jobs.Cancel(); err != nil {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *service) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.jobs.Status())
}

type chatRequest struct {
	Namespace string `json:"namespace"`
	RepoURL   string `json:"repo_url"`
	Query     string `json:"query"`
}

func (s *service) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.metrics != nil {
		s.metrics.TrackRequestInFlight("chat", 1)
		defer s.metrics.TrackRequestInFlight("chat", -1)
	}
	start := time.Now()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeJSONError(w, http.StatusBadRequest, "query is required")
		return
	}

	namespace := req.Namespace
	if namespace == "" && req.RepoURL != "" {
		if desc, ok := s.registry.Get(req.RepoURL); ok {
			namespace = desc.Namespace
		}
	}
	if namespace == "" {
		writeJSONError(w, http.StatusBadRequest, "namespace or a previously indexed repo_url is required")
		return
	}
	if err := validation.ValidateNamespace(namespace); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid namespace: %v", err))
		return
	}

	ctx := context.WithValue(r.Context(), observability.NamespaceKey, namespace)
	answer, err := s.retriever.Answer(ctx, namespace, req.Query)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordRequest("chat", "error", time.Since(start))
		}
		s.errorHandler.HandleError(ctx, err, observability.ExtractErrorContext(ctx, "chat"))
		writeJSONError(w, http.StatusInternalServerError, "failed to answer query")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordRequest("chat", "ok", time.Since(start))
		s.metrics.RecordVectorSearch("hybrid", "ok", time.Since(start), len(answer.Citations))
	}

	writeJSON(w, http.StatusOK, answer)
}

func (s *service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded", "version": Version, "reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": Version})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func startMetricsServer(cfg config.MetricsConfig, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("starting metrics server", "addr", addr, "path", cfg.Path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}

func runHTTPServer(ctx context.Context, cfg *config.Config, s *service, logger *observability.Logger) {
	var tlsManager *tls.Manager
	if cfg.TLS.Enabled {
		var err error
		tlsManager, err = tls.NewManager(&cfg.TLS, logger)
		if err != nil {
			logger.Error("failed to initialize TLS manager", "error", err)
			os.Exit(1)
		}
		if err := tlsManager.ValidateCertificates(); err != nil {
			logger.Error("certificate validation failed", "error", err)
			os.Exit(1)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/index_repo", s.handleIndexRepo)
	mux.HandleFunc("/index_repo/cancel", s.handleCancelIndex)
	mux.HandleFunc("/progress", s.handleProgress)
	mux.HandleFunc("/chat", s.handleChat)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	var rateLimitMiddleware *middleware.RateLimitMiddleware
	if cfg.RateLimit.Enabled {
		rateLimitConfig := ratelimit.Config{
			Enabled: cfg.RateLimit.Enabled,
			Algorithm: func() ratelimit.Algorithm {
				if cfg.RateLimit.Algorithm == "token_bucket" {
					return ratelimit.TokenBucket
				}
				return ratelimit.SlidingWindow
			}(),
			Redis: ratelimit.RedisConfig{
				Enabled:   cfg.RateLimit.Redis.Enabled,
				Addr:      cfg.RateLimit.Redis.Addr,
				Password:  cfg.RateLimit.Redis.Password,
				DB:        cfg.RateLimit.Redis.DB,
				KeyPrefix: cfg.RateLimit.Redis.KeyPrefix,
			},
			Default:         ratelimit.LimitConfig{Requests: cfg.RateLimit.Default.Requests, Window: cfg.RateLimit.Default.Window},
			Health:          ratelimit.LimitConfig{Requests: cfg.RateLimit.Health.Requests, Window: cfg.RateLimit.Health.Window},
			Index:           ratelimit.LimitConfig{Requests: cfg.RateLimit.Index.Requests, Window: cfg.RateLimit.Index.Window},
			Auth:            ratelimit.LimitConfig{Requests: cfg.RateLimit.Auth.Requests, Window: cfg.RateLimit.Auth.Window},
			BurstMultiplier: cfg.RateLimit.BurstMultiplier,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
		}

		rateLimiter, err := ratelimit.NewRateLimiter(rateLimitConfig)
		if err != nil {
			logger.Error("failed to initialize rate limiter", "error", err)
			os.Exit(1)
		}

		rateLimitMiddleware = middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{
			RateLimiter:      rateLimiter,
			MetricsCollector: s.metrics,
			SkipPaths:        cfg.RateLimit.SkipPaths,
			SkipIPs:          cfg.RateLimit.SkipIPs,
			TrustedProxies:   cfg.RateLimit.TrustedProxies,
		}, logger)
	}

	securityMiddleware := middleware.NewSecurityMiddleware(middleware.SecurityConfig{
		CSP: middleware.CSPConfig{
			Enabled: cfg.Security.CSP.Enabled,
			Default: cfg.Security.CSP.Default,
			Script:  cfg.Security.CSP.Script,
			Style:   cfg.Security.CSP.Style,
			Image:   cfg.Security.CSP.Image,
			Font:    cfg.Security.CSP.Font,
			Connect: cfg.Security.CSP.Connect,
			Media:   cfg.Security.CSP.Media,
			Object:  cfg.Security.CSP.Object,
			Frame:   cfg.Security.CSP.Frame,
			Report:  cfg.Security.CSP.Report,
		},
		HSTS: middleware.HSTSConfig{
			Enabled:           cfg.Security.HSTS.Enabled,
			MaxAge:            cfg.Security.HSTS.MaxAge,
			IncludeSubdomains: cfg.Security.HSTS.IncludeSubdomains,
			Preload:           cfg.Security.HSTS.Preload,
		},
		XFrameOptions:       cfg.Security.XFrameOptions,
		XContentTypeOptions: cfg.Security.XContentTypeOptions,
		ReferrerPolicy:      cfg.Security.ReferrerPolicy,
		PermissionsPolicy:   cfg.Security.PermissionsPolicy,
	}, logger)

	corsMiddleware := middleware.NewCORSMiddleware(middleware.CORSConfig{
		Enabled:          cfg.CORS.Enabled,
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}, logger)

	var handler http.Handler = mux
	if rateLimitMiddleware != nil {
		handler = rateLimitMiddleware.Middleware(handler)
	}
	handler = corsMiddleware.Middleware(handler)
	handler = securityMiddleware.Middleware(handler)

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if tlsManager != nil {
		server.TLSConfig = tlsManager.GetTLSConfig()
		httpsPort := cfg.Server.Port
		if httpsPort == 443 {
			httpsPort = 0
		}
		if err := tlsManager.StartHTTPRedirect(ctx, httpsPort); err != nil {
			logger.Error("failed to start HTTP redirect server", "error", err)
			os.Exit(1)
		}
	}

	go func() {
		scheme := "http"
		if tlsManager != nil {
			scheme = "https"
		}
		logger.Info("server starting", "scheme", scheme, "addr", addr)

		var err error
		if tlsManager != nil {
			if cfg.TLS.AutoCert {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			}
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server stopped")
}
