// Package api provides the HTTP server for MeditationVisual.
//
// It exposes the generation gateway endpoint, the guided-flow session endpoints
// and read-only catalog and receipt endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/MeditationVisual/internal/flow"
	"github.com/BTreeMap/MeditationVisual/internal/gateway"
	"github.com/BTreeMap/MeditationVisual/internal/messaging"
	"github.com/BTreeMap/MeditationVisual/internal/models"
	"github.com/BTreeMap/MeditationVisual/internal/store"
	"golang.org/x/sync/errgroup"
)

// Server configuration constants
const (
	// DefaultAddr is the listen address when none is configured
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout bounds reading request headers
	DefaultReadHeaderTimeout = 10 * time.Second
	// maxRequestBodyBytes caps JSON request bodies
	maxRequestBodyBytes = 64 << 10
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr      string
	Generator gateway.Generator
	Registry  *flow.Registry
	Catalog   *models.Catalog
	Store     store.Store
	Sharer    messaging.Sharer
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithGenerator sets the generation gateway served at POST /api/generate.
func WithGenerator(g gateway.Generator) Option {
	return func(o *Opts) { o.Generator = g }
}

// WithRegistry enables the session endpoints.
func WithRegistry(r *flow.Registry) Option {
	return func(o *Opts) { o.Registry = r }
}

// WithCatalog sets the catalog served at GET /api/emotions.
func WithCatalog(c *models.Catalog) Option {
	return func(o *Opts) { o.Catalog = c }
}

// WithStore enables GET /api/receipts.
func WithStore(st store.Store) Option {
	return func(o *Opts) { o.Store = st }
}

// WithSharer enables POST /api/sessions/{id}/share.
func WithSharer(s messaging.Sharer) Option {
	return func(o *Opts) { o.Sharer = s }
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	addr      string
	generator gateway.Generator
	registry  *flow.Registry
	catalog   *models.Catalog
	st        store.Store
	sharer    messaging.Sharer
}

// NewServer creates a server. Missing optional dependencies disable their endpoints.
func NewServer(opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Catalog == nil {
		if cfg.Registry != nil {
			cfg.Catalog = cfg.Registry.Catalog()
		} else {
			cfg.Catalog = models.DefaultCatalog()
		}
	}
	slog.Debug("api.NewServer: server configured",
		"addr", cfg.Addr,
		"generator_set", cfg.Generator != nil,
		"sessions_enabled", cfg.Registry != nil,
		"store_set", cfg.Store != nil,
		"sharing_enabled", cfg.Sharer != nil)
	return &Server{
		addr:      cfg.Addr,
		generator: cfg.Generator,
		registry:  cfg.Registry,
		catalog:   cfg.Catalog,
		st:        cfg.Store,
		sharer:    cfg.Sharer,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.HandleFunc("POST /api/generate", s.generateHandler)
	mux.HandleFunc("GET /api/emotions", s.emotionsHandler)
	mux.HandleFunc("GET /api/receipts", s.receiptsHandler)

	mux.HandleFunc("POST /api/sessions", s.createSessionHandler)
	mux.HandleFunc("GET /api/sessions/{id}", s.getSessionHandler)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.deleteSessionHandler)
	mux.HandleFunc("POST /api/sessions/{id}/emotion", s.selectEmotionHandler)
	mux.HandleFunc("POST /api/sessions/{id}/theme", s.selectThemeHandler)
	mux.HandleFunc("POST /api/sessions/{id}/back", s.backHandler)
	mux.HandleFunc("POST /api/sessions/{id}/retry", s.retryHandler)
	mux.HandleFunc("POST /api/sessions/{id}/start-over", s.startOverHandler)
	mux.HandleFunc("GET /api/sessions/{id}/download", s.downloadHandler)
	mux.HandleFunc("POST /api/sessions/{id}/share", s.shareHandler)
	return mux
}

// Run serves until ctx is canceled, then shuts down gracefully and closes all sessions.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server.Run: API server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server.Run: listen failed", "error", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Server.Run: shutting down API server")
		// Sessions go first: their in-flight generations hold open requests to this server.
		if s.registry != nil {
			s.registry.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
