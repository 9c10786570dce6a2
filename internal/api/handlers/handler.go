// handler.go — основной обработчик API портала.
// Объединяет health и бизнес-обработчики, делегируя запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/Hazimafiq/test-express-portal/internal/api/errors"
	"github.com/Hazimafiq/test-express-portal/internal/api/middleware"
	"github.com/Hazimafiq/test-express-portal/internal/domain/filetype"
	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
	"github.com/Hazimafiq/test-express-portal/internal/domain/status"
	"github.com/Hazimafiq/test-express-portal/internal/service"
)

// CaseManager — операции над кейсами (реализуется service.CaseService).
type CaseManager interface {
	Create(ctx context.Context, session model.Session, sub service.Submission) (*service.SubmitResult, error)
	Edit(ctx context.Context, session model.Session, caseID string, sub service.Submission) (*service.SubmitResult, error)
	Submit(ctx context.Context, session model.Session, caseID string) error
	RevertToDraft(ctx context.Context, session model.Session, caseID string) error
	Delete(ctx context.Context, session model.Session, caseID string) error
	Authorize(ctx context.Context, session model.Session, caseID string, op status.Operation) (*model.Case, error)
	Get(ctx context.Context, session model.Session, caseID string) (*service.CaseDetails, error)
	Query(ctx context.Context, session model.Session, q model.CaseQuery) (*service.QueryResult, error)
	CountsByStatus(ctx context.Context, session model.Session, q model.CaseQuery) (*model.StatusCounts, error)
}

// FileAccess — выдача подписанных ссылок (реализуется service.AccessGate).
type FileAccess interface {
	ResolveDownloadURL(ctx context.Context, caseID string, fileID int) (string, error)
	ResolveByType(ctx context.Context, caseID string, ft filetype.Type) (string, error)
}

// SimulationManager — планы симуляции (реализуется service.SimulationService).
type SimulationManager interface {
	Add(ctx context.Context, session model.Session, caseID, simulationURL string, ipr *service.FilePart) (*model.SimulationPlan, *service.ReconcileReport, error)
	List(ctx context.Context, session model.Session, caseID string) ([]*model.SimulationPlan, error)
	Update(ctx context.Context, session model.Session, caseID string, number int, simulationURL string, ipr *service.FilePart, intent service.Intent) (*service.ReconcileReport, error)
	Decide(ctx context.Context, session model.Session, caseID string, number int, decision string) error
}

// CommentManager — комментарии к кейсу (реализуется service.CommentService).
type CommentManager interface {
	Add(ctx context.Context, session model.Session, caseID, body string) (*model.Comment, error)
	List(ctx context.Context, session model.Session, caseID string) ([]*model.Comment, error)
}

// ArchiveBuilder — архивы файлов кейса (реализуется service.ArchiveService).
type ArchiveBuilder interface {
	Prepare(ctx context.Context, session model.Session, caseID string, group filetype.Group) (*service.Archive, error)
	Write(ctx context.Context, a *service.Archive, w io.Writer) (*service.ArchiveReport, error)
}

// Services — зависимости бизнес-обработчиков.
type Services struct {
	Cases       CaseManager
	Files       FileAccess
	Simulations SimulationManager
	Comments    CommentManager
	Archives    ArchiveBuilder
}

// APIHandler — основной обработчик API портала.
type APIHandler struct {
	health         *HealthHandler
	cases          CaseManager
	files          FileAccess
	simulations    SimulationManager
	comments       CommentManager
	archives       ArchiveBuilder
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxUploadBytes — ограничение размера тела multipart-запроса.
func NewAPIHandler(
	health *HealthHandler,
	svc Services,
	maxUploadBytes int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:         health,
		cases:          svc.Cases,
		files:          svc.Files,
		simulations:    svc.Simulations,
		comments:       svc.Comments,
		archives:       svc.Archives,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit, offset *int) (limitVal, offsetVal int) {
	l := 100
	o := 0
	if limit != nil && *limit > 0 && *limit <= 1000 {
		l = *limit
	}
	if offset != nil && *offset >= 0 {
		o = *offset
	}
	return l, o
}

// session извлекает пользователя запроса. Без сессии отвечает 401.
func (h *APIHandler) session(w http.ResponseWriter, r *http.Request) (model.Session, bool) {
	s, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized.Write(w, "Требуется аутентификация")
		return model.Session{}, false
	}
	return s, true
}

// writeServiceError преобразует ошибку сервисного слоя в HTTP-ответ.
// Причина сбоев хранилища логируется, клиент получает общее сообщение.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.Validation.Write(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound.Write(w, "Кейс или файл не найден")
	case errors.Is(err, service.ErrInvalidTransition):
		apierrors.InvalidTransition.Write(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict.Write(w, "Кейс изменён параллельным запросом, повторите операцию")
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden.Write(w, err.Error())
	case errors.Is(err, service.ErrStorage):
		h.logger.Error("Сбой хранилища",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.StorageUnavailable.Write(w, "Хранилище временно недоступно")
	case errors.Is(err, context.Canceled):
		// Клиент ушёл, отвечать некому
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.Internal.Write(w, "Внутренняя ошибка сервера")
	}
}

// partialFailure сообщает, что операция выполнена, но не для всех файлов.
func partialFailure(err error) bool {
	var pf *service.PartialFailureError
	return errors.As(err, &pf)
}
