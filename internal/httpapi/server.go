// Package httpapi exposes the pipeline over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ragapi/internal/config"
	"ragapi/internal/domain"
	"ragapi/internal/logger"
)

// Server serves the upload, query and index endpoints.
type Server struct {
	Addr     string
	pipeline domain.Pipeline
	cfg      config.ServerConfig
	mux      *http.ServeMux
	handler  http.Handler
}

// New creates a server for pipeline.
func New(pipeline domain.Pipeline, cfg config.ServerConfig) *Server {
	s := &Server{
		Addr:     cfg.Addr,
		pipeline: pipeline,
		cfg:      cfg,
		mux:      http.NewServeMux(),
	}
	s.routes()
	timeout := time.Duration(cfg.RequestTimeoutSecs) * time.Second
	s.handler = requestID(accessLog(cors(cfg.AllowedOrigins, withTimeout(timeout, s.mux))))
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	s.mux.HandleFunc("POST /query", s.handleQuery)
	s.mux.HandleFunc("DELETE /index", s.handleReset)
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening on %s", s.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("Shutting down HTTP API")
	return srv.Shutdown(shutdownCtx)
}
