// Пакет server — HTTP-сервер портала с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Hazimafiq/test-express-portal/internal/api/handlers"
	"github.com/Hazimafiq/test-express-portal/internal/config"
)

// PublicPrefixes — пути, доступные без аутентификации.
var PublicPrefixes = []string{"/health/", "/metrics"}

// Server — HTTP-сервер портала.
type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// New собирает http.Server с маршрутами портала. Порядок middlewares
// сохраняется: первый в срезе выполняется первым.
func New(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler, middlewares ...func(http.Handler) http.Handler) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(handler, middlewares...),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer:      srv,
		logger:          logger.With(slog.String("component", "http_server")),
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// NewRouter регистрирует все маршруты портала.
func NewRouter(h *handlers.APIHandler, middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	r.Get("/metrics", h.GetMetrics)

	// Стабильная ссылка на файл, сохраняется в case_files.signed_url_path
	r.Get("/file/{case_id}/{file_id}", h.DownloadFile)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/stl-cases", h.CreateSTLCase)
		r.Put("/stl-cases/{case_id}", h.EditSTLCase)

		r.Route("/cases", func(r chi.Router) {
			r.Get("/", h.ListCases)
			r.Post("/", h.CreateCase)
			r.Get("/counts", h.CaseCounts)

			r.Route("/{case_id}", func(r chi.Router) {
				r.Get("/", h.GetCase)
				r.Put("/", h.EditCase)
				r.Delete("/", h.DeleteCase)
				r.Post("/submit", h.SubmitCase)
				r.Post("/draft", h.RevertCase)

				r.Get("/files/type/{file_type}", h.DownloadFileByType)
				r.Get("/archives/{group}", h.DownloadArchive)

				r.Get("/simulations", h.ListSimulations)
				r.Post("/simulations", h.AddSimulation)
				r.Put("/simulations/{simulation_number}", h.UpdateSimulation)
				r.Post("/simulations/{simulation_number}/decision", h.DecideSimulation)

				r.Get("/comments", h.ListComments)
				r.Post("/comments", h.AddComment)
			})
		})
	})

	return r
}

// JWTAuthWithExclusions применяет mw ко всем путям, кроме начинающихся
// с одного из excludePrefixes.
func JWTAuthWithExclusions(mw func(http.Handler) http.Handler, excludePrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		protected := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// Run обслуживает запросы до SIGINT/SIGTERM или ошибки listener,
// после сигнала дожидается завершения активных запросов в пределах ShutdownTimeout.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP-сервер: %w", err)
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения, останавливаем приём запросов")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown за %s: %w", s.shutdownTimeout, err)
	}
	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
