// comments.go — HTTP handlers комментариев к кейсу.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/Hazimafiq/test-express-portal/internal/api/errors"
	"github.com/Hazimafiq/test-express-portal/internal/service"
)

type commentRequest struct {
	Body string `json:"body"`
}

// AddComment обрабатывает POST /api/v1/cases/{case_id}/comments.
func (h *APIHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req commentRequest
	// Запас на JSON-экранирование многобайтовых символов
	limit := int64(service.MaxCommentLength*8 + 1024)
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(&req); err != nil {
		apierrors.Validation.Write(w, "Некорректный JSON: ожидается {\"body\": \"...\"}")
		return
	}

	c, err := h.comments.Add(r.Context(), session, chi.URLParam(r, "case_id"), req.Body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, commentToResponse(c))
}

// ListComments обрабатывает GET /api/v1/cases/{case_id}/comments.
func (h *APIHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	comments, err := h.comments.List(r.Context(), session, chi.URLParam(r, "case_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := make([]commentResponse, 0, len(comments))
	for _, c := range comments {
		resp = append(resp, commentToResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": resp})
}
