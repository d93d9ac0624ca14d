// Package server wires the HTTP and websocket routes into an http.Server
// with readiness tracking and graceful shutdown.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"realtime-auction/internal/broadcast"
	handler "realtime-auction/services/bidding/handler"
	"realtime-auction/services/bidding/helpers"
	"realtime-auction/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/atomic"
)

var errServerDraining = errors.New("server draining")

// Config contains the listener parameters
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// StatsSource reports live connection counts for the health endpoint
type StatsSource interface {
	Stats() broadcast.Stats
}

// Server owns the http.Server. Cancelling the context passed to Run stops
// accepting requests and closes every open socket.
type Server struct {
	cfg     Config
	srv     *http.Server
	stats   StatsSource
	isReady atomic.Bool

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New builds the router and the http.Server around it
func New(cfg Config, bids *handler.BiddingHandler, sockets *handler.SocketHandler, stats StatsSource) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{cfg: cfg, stats: stats}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	router := SetupRouter(bids, sockets, s.NotReadyMiddleware)
	router.GET(healthPath, s.handleHealth)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return s.baseCtx },
	}
	s.isReady.Store(true)
	return s
}

// Handler exposes the router, e.g. for httptest
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run listens on the configured address and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		utils.Info("Starting HTTP server", map[string]any{"listen_address": ln.Addr().String()})
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.cancelBase()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	s.isReady.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	// Sockets are hijacked and invisible to Shutdown; cancelling the base
	// context makes each one send a close frame and exit.
	s.cancelBase()

	if err := s.srv.Shutdown(ctx); err != nil {
		utils.Error("Graceful HTTP server shutdown failed", map[string]any{"error": err.Error()})
		return err
	}
	utils.Info("HTTP server gracefully stopped", nil)
	return nil
}

// IsReady reports whether the server is accepting new work
func (s *Server) IsReady() bool {
	return s.isReady.Load()
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.stats.Stats()
	resp := helpers.HealthResponse{
		Ready:       s.isReady.Load(),
		Subscribers: stats.Subscribers,
		Rooms:       stats.Rooms,
	}
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
