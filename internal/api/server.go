// Package api exposes the local control surface: state inspection, override
// grants, manual reconciliation and a live event stream. The listener binds
// to loopback by default; this is a LAN appliance's admin surface, not an
// internet-facing API.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"grimm.is/curfew/internal/events"
	"grimm.is/curfew/internal/health"
	"grimm.is/curfew/internal/ledger"
	"grimm.is/curfew/internal/logging"
	"grimm.is/curfew/internal/metrics"
	"grimm.is/curfew/internal/override"
	"grimm.is/curfew/internal/recon"
	"grimm.is/curfew/internal/state"
)

// ServerOptions wires the server's collaborators.
type ServerOptions struct {
	Listen    string
	Engine    *recon.Engine
	Ledger    *ledger.Ledger
	Overrides *override.Manager
	Store     state.Store
	Hub       *events.Hub
	Logger    *logging.Logger

	// Checks supplies extra health probes for /healthz. Optional.
	Checks func() []health.Check
}

// Server is the HTTP control surface.
type Server struct {
	opts   ServerOptions
	logger *logging.Logger
	http   *http.Server
	start  time.Time
}

// NewServer creates the server and its routes.
func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Listen == "" {
		opts.Listen = "127.0.0.1:8475"
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger.WithComponent("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/usage", s.handleUsage)
	mux.HandleFunc("GET /api/overrides", s.handleListOverrides)
	mux.HandleFunc("POST /api/override", s.handleGrantOverride)
	mux.HandleFunc("DELETE /api/override/{mac}", s.handleRevokeOverride)
	mux.HandleFunc("POST /api/reconcile", s.handleReconcile)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.http = &http.Server{
		Addr:              opts.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the context is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.start = time.Now()
	s.logger.Info("api listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// Handler returns the route handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
