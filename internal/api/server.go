// Package api exposes a session over a local HTTP control surface
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/kikiluvv/velocityclip/internal/pipeline"
	"github.com/rs/zerolog"
)

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
	// cancel stops background exports started through the API
	cancel context.CancelFunc
}

type ServerConfig struct {
	Addr    string
	Session *pipeline.Session
	// UploadDir receives multipart uploads before they are probed
	UploadDir string
	Logger    zerolog.Logger
	StartTime time.Time
	Version   string
	// BaseContext parents background exports; Shutdown cancels it when the
	// server was built with NewServer
	BaseContext context.Context
}

func NewServer(cfg ServerConfig) *Server {
	parent := cfg.BaseContext
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	cfg.BaseContext = ctx

	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:        cfg.Addr,
			Handler:     router,
			ReadTimeout: 0,
			// exports can run for minutes when waited on
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger.With().Str("component", "api").Logger(),
		cancel: cancel,
	}
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	s.cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
