// files.go — HTTP handlers скачивания файлов кейса.
// Одиночные файлы отдаются редиректом 302 на подписанную ссылку,
// группы файлов — потоковым zip-архивом.
package handlers

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/Hazimafiq/test-express-portal/internal/api/errors"
	"github.com/Hazimafiq/test-express-portal/internal/domain/filetype"
	"github.com/Hazimafiq/test-express-portal/internal/domain/status"
)

// DownloadFile обрабатывает GET /file/{case_id}/{file_id}.
// Стабильная ссылка файла: редирект на подписанную ссылку хранилища.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	caseID := chi.URLParam(r, "case_id")

	var fileID int
	if err := bindPathInt(r, "file_id", &fileID); err != nil || fileID <= 0 {
		apierrors.Validation.Write(w, "Параметр file_id должен быть положительным числом")
		return
	}

	if _, err := h.cases.Authorize(r.Context(), session, caseID, status.OpDownload); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	signed, err := h.files.ResolveDownloadURL(r.Context(), caseID, fileID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	redirectNoStore(w, r, signed)
}

// DownloadFileByType обрабатывает GET /api/v1/cases/{case_id}/files/type/{file_type}.
// Редирект на первый файл указанного типа.
func (h *APIHandler) DownloadFileByType(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	caseID := chi.URLParam(r, "case_id")

	ft, err := filetype.Parse(chi.URLParam(r, "file_type"))
	if err != nil {
		apierrors.Validation.Write(w, err.Error())
		return
	}

	if _, err := h.cases.Authorize(r.Context(), session, caseID, status.OpDownload); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	signed, err := h.files.ResolveByType(r.Context(), caseID, ft)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	redirectNoStore(w, r, signed)
}

// DownloadArchive обрабатывает GET /api/v1/cases/{case_id}/archives/{group}.
// Архив пишется потоком: после начала ответа ошибка может только
// оборвать соединение, поэтому все проверки выполняются в Prepare.
func (h *APIHandler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	caseID := chi.URLParam(r, "case_id")

	group, err := filetype.ParseGroup(chi.URLParam(r, "group"))
	if err != nil {
		apierrors.Validation.Write(w, err.Error())
		return
	}

	archive, err := h.archives.Prepare(r.Context(), session, caseID, group)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": archive.Name}))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	report, err := h.archives.Write(r.Context(), archive, w)
	if err != nil {
		h.logger.Error("Архив прерван",
			slog.String("case_id", caseID),
			slog.String("group", string(group)),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(report.Failures) > 0 {
		h.logger.Warn("Архив собран не полностью",
			slog.String("case_id", caseID),
			slog.String("group", string(group)),
			slog.Int("written", report.Written),
			slog.Int("failed", len(report.Failures)),
		)
	}
}

// redirectNoStore отвечает 302 без кэширования: подписанная ссылка временная.
func redirectNoStore(w http.ResponseWriter, r *http.Request, target string) {
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusFound)
}

// bindPathInt разбирает целочисленный параметр пути.
func bindPathInt(r *http.Request, name string, dest *int) error {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return fmt.Errorf("параметр %s: %w", name, err)
	}
	return nil
}
