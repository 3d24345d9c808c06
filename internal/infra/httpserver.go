package infra

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// HTTPServer owns the API listener.
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer applies the HTTP_* timeouts. The write timeout is raised to
// outlast PIPELINE_TIMEOUT so synchronous processing responses are not cut.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	return &HTTPServer{server: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout(cfg),
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}}
}

func writeTimeout(cfg *Config) time.Duration {
	if floor := cfg.PipelineTimeout + 10*time.Second; cfg.HTTPWriteTimeout < floor {
		return floor
	}
	return cfg.HTTPWriteTimeout
}

// Addr is the configured listen address.
func (s *HTTPServer) Addr() string { return s.server.Addr }

// Start listens on Addr and blocks. A graceful Shutdown returns nil.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve blocks serving ln. A graceful Shutdown returns nil.
func (s *HTTPServer) Serve(ln net.Listener) error {
	if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
