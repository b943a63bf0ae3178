// Package api exposes the webhook endpoint and operational routes.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/worldweaver/internal/conversation"
	"github.com/worldweaver/internal/events"
)

const defaultShutdownTimeout = 15 * time.Second

// EventHandler processes converted events. *orchestrator.Orchestrator
// satisfies it.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev events.Event) conversation.FlowResult
	Stats() map[string]interface{}
	PruneHandled(retention time.Duration) int
}

// Options tunes a Server.
type Options struct {
	Port            int
	Async           bool // answer 202 and process in the background
	ShutdownTimeout time.Duration

	// Handled event IDs older than DedupRetention are dropped every
	// PruneInterval. Zero on either disables pruning.
	DedupRetention time.Duration
	PruneInterval  time.Duration

	Metrics http.Handler // served on /metrics when set
}

// Server represents the API server
type Server struct {
	echo     *echo.Echo
	handler  EventHandler
	opts     Options
	started  time.Time
	inflight sync.WaitGroup
}

// NewServer creates a new API server
func NewServer(handler EventHandler, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	server := &Server{
		echo:    e,
		handler: handler,
		opts:    opts,
		started: time.Now(),
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ok",
		})
	})
	s.echo.GET("/stats", s.stats)
	if s.opts.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.opts.Metrics))
	}

	s.echo.POST("/webhook", s.webhook)
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled or the listener fails, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", s.opts.Port)
		log.Info().Str("addr", addr).Bool("async", s.opts.Async).Msg("Webhook server listening")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.pruneLoop(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown()
	})

	return g.Wait()
}

// Shutdown stops accepting requests and waits for background events to
// finish, bounded by the shutdown timeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	log.Info().Msg("Shutting down webhook server")
	err := s.echo.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("Shutdown timeout reached with events still in flight")
	}
	return err
}

// WaitIdle blocks until background event processing has drained.
func (s *Server) WaitIdle() {
	s.inflight.Wait()
}

func (s *Server) pruneLoop(ctx context.Context) {
	if s.opts.DedupRetention <= 0 || s.opts.PruneInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.opts.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.handler.PruneHandled(s.opts.DedupRetention); n > 0 {
				log.Debug().Int("pruned", n).Msg("Pruned handled event IDs")
			}
		}
	}
}

func (s *Server) stats(c echo.Context) error {
	out := s.handler.Stats()
	out["uptime"] = time.Since(s.started).Round(time.Second).String()
	return c.JSON(http.StatusOK, out)
}
