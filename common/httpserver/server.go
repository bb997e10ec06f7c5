// common/httpserver/server.go

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/YaganovValera/event-producer/common/logger"
)

// ReadyChecker возвращает nil, если сервис готов принимать работу.
// Вызывается с таймаутом Config.ReadyTimeout.
type ReadyChecker func(ctx context.Context) error

// Server — служебный HTTP-сервер: /metrics, /healthz, /readyz и
// дополнительные маршруты через Handle.
type Server struct {
	httpServer      *http.Server
	mux             *http.ServeMux
	shutdownTimeout time.Duration
	log             *logger.Logger
}

// New собирает сервер. mws оборачивают весь mux (первый снаружи).
func New(cfg Config, check ReadyChecker, log *logger.Logger, mws ...Middleware) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc(cfg.HealthzPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle(cfg.ReadyzPath, readyHandler(check, cfg.ReadyTimeout))

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      chain(mux, mws...),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		mux:             mux,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             log.Named("http-server"),
	}, nil
}

func readyHandler(check ReadyChecker, timeout time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			if err := check(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(fmt.Sprintf("NOT READY: %v", err)))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})
}

// Handle добавляет маршрут. Вызывать до Start.
func (s *Server) Handle(pattern string, h http.Handler) { s.mux.Handle(pattern, h) }

// JSON отдаёт результат snapshot() как application/json на каждый запрос.
func JSON(snapshot func() interface{}) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// Handler отдаёт корневой обработчик (для тестов через httptest).
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start слушает адрес до отмены ctx, затем делает graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http: starting server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("httpserver: listen: %w", err)
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.log.Info("http: shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("http: graceful shutdown failed", zap.Error(err))
		return errors.Join(serveErr, err)
	}
	s.log.Info("http: server stopped")
	return serveErr
}
