package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/config"
	"npc-voice/internal/infra/middleware"
)

// shutdownTimeout bounds a graceful stop.
const shutdownTimeout = 5 * time.Second

// Server is the HTTP server carrying the game endpoint plus /health and
// /metrics.
type Server struct {
	cfg       config.ServerConfig
	handler   *Handler
	convs     Conversations
	metrics   *Metrics
	game      domain.Game
	logger    *slog.Logger
	httpSrv   *http.Server
	boundAddr string
	started   time.Time
}

// NewServer creates a gateway server.
func NewServer(cfg config.ServerConfig, handler *Handler, convs Conversations, metrics *Metrics, game domain.Game, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		convs:   convs,
		metrics: metrics,
		game:    game,
		logger:  logger,
		started: time.Now(),
	}
}

// Routes builds the mux with the middleware chain around the game
// endpoint. ctx bounds the rate limiter's cleanup goroutine.
func (s *Server) Routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, middleware.Chain(s.handler,
		middleware.Recover(s.logger, RejectEnvelope),
		middleware.RequestLog(s.logger),
		middleware.LoopbackOnly(RejectEnvelope),
		middleware.RateLimit(ctx, s.cfg.RateLimit, RejectEnvelope),
	))
	mux.HandleFunc("/health", healthHandler(s.convs, s.game, s.started, s.metrics))
	mux.HandleFunc("/metrics", middleware.Chain(metricsHandler(s.convs, s.started, s.metrics),
		middleware.LoopbackOnly(nil),
	).ServeHTTP)
	return mux
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	s.httpSrv = &http.Server{
		Handler:      s.Routes(ctx),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("gateway started", "addr", s.boundAddr, "path", s.cfg.Path)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func decodePayload(e domain.Event, v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Type)
	}
	return json.Unmarshal(e.Payload, v)
}
