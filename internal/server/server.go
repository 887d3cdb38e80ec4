// Package server wires the HTTP surface: the chi route tree, the
// middleware stack, shared state construction, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/omnidotdev/synapse/internal/auth"
	"github.com/omnidotdev/synapse/internal/billing"
	"github.com/omnidotdev/synapse/internal/config"
	"github.com/omnidotdev/synapse/internal/handlers"
	"github.com/omnidotdev/synapse/internal/mcp"
	"github.com/omnidotdev/synapse/internal/middleware"
	"github.com/omnidotdev/synapse/internal/provider"
	"github.com/omnidotdev/synapse/internal/ratelimit"
	"github.com/omnidotdev/synapse/internal/router"
)

// Server holds the process-wide state: provider clients, router,
// limiters, caches, and the HTTP server itself. Everything here is
// constructed once at startup and shared immutably.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	httpServer *http.Server
	background []func(ctx context.Context)

	clients  map[string]*provider.Client
	catalog  *provider.Catalog
	resolver *auth.APIKeyResolver
	jwt      *auth.JWTValidator
	mcpAgg   *mcp.Aggregator
}

// New builds the server from configuration. Providers are constructed
// first, then the router over shared read-only handles to them; there
// are no back-edges from providers to the router.
func New(cfg *config.Config, listenOverride string, logger zerolog.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	httpClient := provider.NewHTTPClient()

	s.clients = make(map[string]*provider.Client, len(cfg.LLM.Providers))
	clientList := make([]*provider.Client, 0, len(cfg.LLM.Providers))
	for _, id := range cfg.LLM.ProviderOrder() {
		providerCfg, ok := cfg.LLM.Provider(id)
		if !ok {
			continue
		}
		client := provider.NewClient(id, providerCfg, cfg.LLM.MaxTokensFallback(), httpClient, logger)
		s.clients[id] = client
		clientList = append(clientList, client)
	}

	modelRouter := router.New(&cfg.LLM, s.clients)
	s.catalog = provider.NewCatalog(clientList, cfg.LLM.DiscoveryTTL.Std(), logger)
	s.background = append(s.background, s.catalog.Run)

	var limiter *ratelimit.RequestLimiter
	if cfg.Server.RateLimit != nil {
		var err error
		limiter, err = ratelimit.New(cfg.Server.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	if cfg.Server.Auth != nil && cfg.Server.Auth.Enabled {
		s.resolver = auth.NewResolver(cfg.Server.Auth, httpClient, logger)
	}
	if cfg.Server.OAuth != nil {
		s.jwt = auth.NewJWTValidator(cfg.Server.OAuth, httpClient, logger)
		s.background = append(s.background, s.jwt.Run)
	}

	if cfg.MCP.Enabled {
		s.mcpAgg = mcp.NewAggregator(&cfg.MCP, logger)
		s.background = append(s.background, func(ctx context.Context) {
			s.mcpAgg.Refresh(ctx)
		})
	}

	usage := billing.NewRecorder(cfg.Billing != nil && cfg.Billing.Enabled, logger)

	mux := s.routes(modelRouter, limiter, usage, httpClient)

	addr := cfg.ListenAddress()
	if listenOverride != "" {
		addr = listenOverride
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	return s, nil
}

// routes assembles the middleware stack and route tree. Order matters:
// client-ip → cors → csrf → auth → rate-limit → identity → context.
func (s *Server) routes(modelRouter *router.ModelRouter, limiter *ratelimit.RequestLimiter, usage *billing.Recorder, httpClient *http.Client) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.ClientIP(s.cfg.Server.ClientIP))
	r.Use(middleware.Logging(s.logger))

	if c := s.cfg.Server.CORS; c != nil {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   c.AllowOrigins,
			AllowedMethods:   c.AllowMethods,
			AllowedHeaders:   c.AllowHeaders,
			ExposedHeaders:   c.ExposeHeaders,
			AllowCredentials: c.AllowCredentials,
			MaxAge:           c.MaxAge,
		}))
	}

	if s.cfg.Server.CSRF.IsEnabled() {
		r.Use(middleware.CSRF(s.cfg.Server.CSRF))
	}

	r.Use(middleware.Authenticate(s.cfg.Server.Auth, s.resolver, s.jwt))

	if limiter != nil {
		r.Use(middleware.RateLimit(limiter))
	}

	if ci := s.cfg.Server.ClientIdentification; ci != nil {
		r.Use(middleware.IdentifyClient(ci))
	}

	r.Use(middleware.RequestContextMiddleware)

	// Health is registered only when enabled; a disabled probe 404s.
	if s.cfg.Server.Health.IsEnabled() {
		r.Get(s.cfg.Server.Health.EndpointPath(), handlers.Health)
	}

	llmHandler := handlers.NewLLMHandler(modelRouter, usage, s.logger)
	r.Post("/v1/chat/completions", llmHandler.ChatCompletions)
	r.Post("/v1/completions", llmHandler.Completions)
	r.Post("/v1/messages", llmHandler.Messages)

	r.Method(http.MethodGet, "/v1/models", handlers.NewModelsHandler(s.catalog))

	r.Method(http.MethodPost, "/v1/embeddings",
		handlers.NewModalityHandler("embeddings", "/embeddings", s.cfg.Embeddings, httpClient, s.logger))
	r.Method(http.MethodPost, "/v1/audio/transcriptions",
		handlers.NewModalityHandler("STT", "/audio/transcriptions", s.cfg.STT, httpClient, s.logger))
	r.Method(http.MethodPost, "/v1/audio/speech",
		handlers.NewModalityHandler("TTS", "/audio/speech", s.cfg.TTS, httpClient, s.logger))
	r.Method(http.MethodPost, "/v1/images/generations",
		handlers.NewModalityHandler("image generation", "/images/generations", s.cfg.ImageGen, httpClient, s.logger))

	if s.mcpAgg != nil {
		r.Method(http.MethodPost, s.cfg.MCP.EndpointPath(), mcp.NewHandler(s.mcpAgg))
	}

	if p := s.cfg.Proxy; p != nil && p.Anthropic != nil && p.Anthropic.Enabled {
		if proxy := handlers.NewAnthropicProxy(&s.cfg.LLM, httpClient, s.logger); proxy != nil {
			r.Method(http.MethodPost, p.Anthropic.Prefix()+"/v1/messages", proxy)
		}
	}

	if s.resolver != nil {
		r.Method(http.MethodPost, "/internal/invalidate-key", handlers.NewInvalidateKeyHandler(s.resolver))
	}

	if o := s.cfg.Server.OAuth; o != nil && o.ProtectedResource != nil {
		r.Get("/.well-known/oauth-protected-resource", handlers.ProtectedResourceMetadata(o.ProtectedResource))
	}

	return r
}

// Run serves until ctx is cancelled, then shuts down with a bounded
// grace period: stop accepting, drain in-flight, abort the rest.
func (s *Server) Run(ctx context.Context) error {
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	for _, task := range s.background {
		go task(bgCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", s.httpServer.Addr).Msg("starting server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")

	grace := s.cfg.Server.ShutdownGrace.Std()
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	s.logger.Info().Msg("server exited")
	return nil
}

// Handler exposes the assembled route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
