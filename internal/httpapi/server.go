package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const CreateCallPath = "/api/voice/create-call"

// Config controls the credential gateway.
type Config struct {
	Addr            string
	DefaultAgentID  string
	AllowedAgents   []string
	ShutdownTimeout time.Duration
}

// Server is the credential gateway: it trades a desktop client's request for
// a short-lived call token without exposing the provider key.
type Server struct {
	cfg    Config
	engine *gin.Engine
	log    zerolog.Logger
}

func New(cfg Config, calls CallCreator, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	log = log.With().Str("component", "gateway").Logger()

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(log), metricsRecorder())

	handler := &callHandler{
		calls:         calls,
		defaultAgent:  cfg.DefaultAgentID,
		allowedAgents: cfg.AllowedAgents,
	}
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.POST(CreateCallPath, handler.createCall)

	return &Server{cfg: cfg, engine: engine, log: log}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", listener.Addr().String()).Msg("credential gateway listening")
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("context cancelled, shutting down gateway")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
