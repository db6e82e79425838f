package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server manages the HTTP server lifecycle.
type Server struct {
	httpSrv *http.Server
	logger  *zap.Logger
}

// NewServer builds the server on the given listen address.
func NewServer(listen string, api *API, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	api.Register(mux)
	return &Server{
		httpSrv: &http.Server{
			Addr:              listen,
			Handler:           requestLogger(logger, mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.httpSrv.Addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	_ = s.httpSrv.Shutdown(ctx)
}

func requestLogger(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		// Websocket handshakes hold the connection open; skip their timing.
		if r.URL.Path == "/ws" {
			return
		}
		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}
