// Package api exposes the explanation service over HTTP: buffered and
// streaming explain endpoints, tenant resolution, schema refresh, and a
// health probe, behind CORS, request-id, logging, and recovery
// middleware.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roamhq/roam-saas-ai/internal/engine"
)

// Explainer runs explanation requests. *engine.Engine satisfies it.
type Explainer interface {
	Prepare(ctx context.Context, req engine.Request) (*engine.Prepared, error)
	Explain(ctx context.Context, req engine.Request) (*engine.Response, error)
	Stream(ctx context.Context, p *engine.Prepared) (<-chan string, <-chan error)
}

// TenantDirectory answers hostname and explicit-tenant lookups.
// *tenant.Resolver satisfies it.
type TenantDirectory interface {
	Resolve(ctx context.Context, explicit, hostname string) (tenant, source string, err error)
	Lookup(ctx context.Context, hostname string) (string, bool, error)
}

// SchemaRefresher drops a tenant's cached schema snapshot.
// *schema.Resolver satisfies it.
type SchemaRefresher interface {
	Refresh(ctx context.Context, tenantID string) error
}

// Config holds the listener settings.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Server is the HTTP front of the service.
type Server struct {
	engine  Explainer
	tenants TenantDirectory
	schemas SchemaRefresher
	cfg     Config
	log     *zap.Logger
}

// NewServer wires the HTTP layer.
func NewServer(cfg Config, eng Explainer, tenants TenantDirectory, schemas SchemaRefresher, log *zap.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		engine:  eng,
		tenants: tenants,
		schemas: schemas,
		cfg:     cfg,
		log:     log.Named("api"),
	}
}

// Routes builds the router. Middleware wraps everything, including
// unmatched paths, so CORS preflights succeed on any route.
func (s *Server) Routes() http.Handler {
	r := chi.NewMux()
	r.Use(
		RequestID,
		Logging(s.log),
		CORS,
		Recover(s.log),
	)

	r.Get("/health", s.handleHealth)
	r.Post("/api/explain", s.handleExplain)
	r.Post("/api/explain/stream", s.handleExplainStream)
	r.Post("/api/resolve-tenant", s.handleResolveTenant)
	r.Post("/api/refresh-schema", s.handleRefreshSchema)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})
	return r
}

// Serve runs the listener until ctx is cancelled, then drains within
// the shutdown timeout. No write timeout is set because the streaming
// endpoint holds its response open.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Routes(),
		BaseContext: func(_ net.Listener) context.Context {
			return gctx
		},
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
