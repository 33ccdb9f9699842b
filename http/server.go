// Package http serves the recommendation form, the JSON API, crop images and
// the live prediction feed.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"croprec/monitoring"
	"croprec/recommend"
)

type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	AllowedOrigins []string
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		RequestTimeout: 10 * time.Second,
		MaxBodyBytes:   1 << 20,
	}
}

// Deps are the collaborators behind the routes. Hub and ImagesDir are
// optional; their routes are only mounted when set.
type Deps struct {
	Service   *recommend.Service
	Hub       *monitoring.Hub
	ImagesDir string
	Logger    *zap.Logger
}

func NewServer(config ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Service == nil {
		deps.Service = recommend.NewService(recommend.Deps{Logger: deps.Logger})
	}
	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      NewHandler(config, deps),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		},
		config: config,
		logger: deps.Logger,
	}
}

// NewHandler builds the routed and wrapped handler without a listener.
func NewHandler(config ServerConfig, deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &handlers{svc: deps.Service, hub: deps.Hub, logger: deps.Logger}

	mux := http.NewServeMux()
	h.register(mux)
	if deps.ImagesDir != "" {
		mux.Handle("GET /images/", http.StripPrefix("/images/", imageServer(deps.ImagesDir)))
	}

	chain := []Middleware{
		RecoveryMiddleware(deps.Logger),
		LoggerMiddleware(deps.Logger),
		SecurityHeadersMiddleware,
	}
	if len(config.AllowedOrigins) > 0 {
		chain = append(chain, CORSMiddleware(config.AllowedOrigins))
	}
	if config.MaxBodyBytes > 0 {
		chain = append(chain, RequestSizeMiddleware(config.MaxBodyBytes))
	}
	if config.RequestTimeout > 0 {
		chain = append(chain, TimeoutMiddleware(config.RequestTimeout))
	}
	return Chain(chain...)(mux)
}

// Start listens until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (s *Server) Addr() string {
	return s.server.Addr
}
