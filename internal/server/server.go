// Package server assembles the control API HTTP server: routing, middleware,
// and TLS.
package server

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"streamgate/internal/api"
	"streamgate/internal/observability/metrics"
)

// TLSConfig defines certificate and key paths for enabling TLS listeners.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config controls server construction.
type Config struct {
	Addr string
	TLS  TLSConfig
	// APITokenHash guards mutating endpoints when non-empty. Tokens are
	// verified against this pbkdf2 hash; see api.HashToken.
	APITokenHash string
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
}

// Server hosts the control API.
type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	tlsCertFile string
	tlsKeyFile  string
}

// New builds the route table and middleware chain around the handler.
func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("api handler is required")
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api/applications", handler.Applications)
	mux.HandleFunc("/api/applications/", handler.ApplicationByID)
	mux.HandleFunc("/api/pull", handler.PullStream)
	mux.HandleFunc("/api/modules", handler.Modules)
	mux.HandleFunc("/api/origins", handler.Origins)
	mux.HandleFunc("/api/journal", handler.JournalEntries)

	handlerChain := http.Handler(mux)
	handlerChain = tokenAuthMiddleware(cfg.APITokenHash, cfg.Logger, handlerChain)
	handlerChain = securityHeadersMiddleware(handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = loggingMiddleware(cfg.Logger, handlerChain)
	handlerChain = requestIDMiddleware(cfg.Logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      cfg.Logger,
		tlsCertFile: cfg.TLS.CertFile,
		tlsKeyFile:  cfg.TLS.KeyFile,
	}
	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return srv, nil
}

// HTTPServer exposes the underlying http.Server for the runtime harness.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// TLS reports the configured certificate and key paths.
func (s *Server) TLS() TLSConfig {
	return TLSConfig{CertFile: s.tlsCertFile, KeyFile: s.tlsKeyFile}
}

// Handler exposes the assembled middleware chain, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
