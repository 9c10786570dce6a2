// cases.go — HTTP handlers кейсов: отправка форм (обычный и STL-поток),
// поиск, счётчики по статусам, карточка кейса, смена статуса.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/Hazimafiq/test-express-portal/internal/api/errors"
	"github.com/Hazimafiq/test-express-portal/internal/domain/filetype"
	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
	"github.com/Hazimafiq/test-express-portal/internal/domain/status"
	"github.com/Hazimafiq/test-express-portal/internal/service"
)

// CreateCase обрабатывает POST /api/v1/cases.
func (h *APIHandler) CreateCase(w http.ResponseWriter, r *http.Request) {
	h.submitCase(w, r, model.CategoryNormal, "")
}

// EditCase обрабатывает PUT /api/v1/cases/{case_id}.
func (h *APIHandler) EditCase(w http.ResponseWriter, r *http.Request) {
	h.submitCase(w, r, model.CategoryNormal, chi.URLParam(r, "case_id"))
}

// CreateSTLCase обрабатывает POST /api/v1/stl-cases.
func (h *APIHandler) CreateSTLCase(w http.ResponseWriter, r *http.Request) {
	h.submitCase(w, r, model.CategorySTL, "")
}

// EditSTLCase обрабатывает PUT /api/v1/stl-cases/{case_id}.
func (h *APIHandler) EditSTLCase(w http.ResponseWriter, r *http.Request) {
	h.submitCase(w, r, model.CategorySTL, chi.URLParam(r, "case_id"))
}

// submitCase — общий поток создания и редактирования кейса.
// caseID пустой при создании.
func (h *APIHandler) submitCase(w http.ResponseWriter, r *http.Request, category, caseID string) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	form, err := parseMultipart(w, r, h.maxUploadBytes)
	if err != nil {
		h.writeFormError(w, r, err)
		return
	}
	defer form.Close()

	sub, err := buildSubmission(form, category)
	if err != nil {
		h.writeFormError(w, r, err)
		return
	}

	var res *service.SubmitResult
	if caseID == "" {
		res, err = h.cases.Create(r.Context(), session, sub)
	} else {
		res, err = h.cases.Edit(r.Context(), session, caseID, sub)
	}

	switch {
	case err == nil:
		code := http.StatusOK
		if caseID == "" {
			code = http.StatusCreated
		}
		writeJSON(w, code, submitToResponse(res, false))
	case partialFailure(err) && res != nil:
		// Кейс сохранён, часть файлов не обработана: отчёт с 200
		h.logger.Warn("Кейс сохранён с ошибками файлов",
			slog.String("case_id", res.CaseID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusOK, submitToResponse(res, true))
	default:
		h.writeServiceError(w, r, err)
	}
}

// buildSubmission собирает запрос сервиса из формы.
func buildSubmission(form *parsedForm, category string) (service.Submission, error) {
	input, err := form.caseInput()
	if err != nil {
		return service.Submission{}, err
	}
	intents, err := form.intents()
	if err != nil {
		return service.Submission{}, err
	}
	if _, ok := form.files[filetype.IPR]; ok {
		return service.Submission{}, formErrorf("файл ipr прикладывается только к плану симуляции")
	}
	if _, ok := intents.ByType[filetype.IPR]; ok {
		return service.Submission{}, formErrorf("флаг ipr_flag допустим только для плана симуляции")
	}
	if category == model.CategorySTL && len(intents.ByType) > 0 {
		return service.Submission{}, formErrorf("STL-кейс удаляет файлы только по номеру (remove_file_ids)")
	}
	return service.Submission{
		Category: category,
		Input:    input,
		Files:    form.files,
		Intents:  intents,
	}, nil
}

// writeFormError отвечает на ошибку разбора формы.
func (h *APIHandler) writeFormError(w http.ResponseWriter, r *http.Request, err error) {
	var fe *formError
	switch {
	case errors.Is(err, errPayloadTooLarge):
		apierrors.PayloadTooLarge.Write(w, fmt.Sprintf("Размер запроса превышает лимит %d байт", h.maxUploadBytes))
	case errors.As(err, &fe):
		apierrors.Validation.Write(w, fe.Error())
	default:
		h.writeServiceError(w, r, err)
	}
}

// ListCases обрабатывает GET /api/v1/cases.
// Фильтры: brand, status, search, created, updated (диапазон "from|to").
// Сортировка: sort_by (created_at, updated_at), sort_order (asc, desc).
func (h *APIHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	q, err := bindCaseQuery(r)
	if err != nil {
		apierrors.Validation.Write(w, err.Error())
		return
	}

	res, err := h.cases.Query(r.Context(), session, q)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := caseListResponse{
		Cases:  make([]caseResponse, 0, len(res.Cases)),
		Total:  res.Total,
		Count:  res.Count,
		Limit:  q.Limit,
		Offset: q.Offset,
	}
	for _, c := range res.Cases {
		resp.Cases = append(resp.Cases, caseToResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CaseCounts обрабатывает GET /api/v1/cases/counts.
// Принимает те же фильтры, что и поиск, кроме status.
func (h *APIHandler) CaseCounts(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	q, err := bindCaseQuery(r)
	if err != nil {
		apierrors.Validation.Write(w, err.Error())
		return
	}
	q.Status = nil

	counts, err := h.cases.CountsByStatus(r.Context(), session, q)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusCountsResponse{
		All:       counts.All,
		Submitted: counts.Submitted,
		Draft:     counts.Draft,
	})
}

// GetCase обрабатывает GET /api/v1/cases/{case_id}.
func (h *APIHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	details, err := h.cases.Get(r.Context(), session, chi.URLParam(r, "case_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, caseDetailsResponse{
		Case:       caseToResponse(details.Case),
		Treatment:  treatmentToResponse(details.Treatment),
		Files:      filesToResponse(details.Files),
		Operations: operationsToResponse(details.Operations),
	})
}

// SubmitCase обрабатывает POST /api/v1/cases/{case_id}/submit.
func (h *APIHandler) SubmitCase(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.cases.Submit)
}

// RevertCase обрабатывает POST /api/v1/cases/{case_id}/draft.
func (h *APIHandler) RevertCase(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.cases.RevertToDraft)
}

// DeleteCase обрабатывает DELETE /api/v1/cases/{case_id}.
func (h *APIHandler) DeleteCase(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.cases.Delete)
}

type statusAction func(ctx context.Context, session model.Session, caseID string) error

func (h *APIHandler) changeStatus(w http.ResponseWriter, r *http.Request, action statusAction) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := action(r.Context(), session, chi.URLParam(r, "case_id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bindCaseQuery разбирает параметры поиска кейсов.
func bindCaseQuery(r *http.Request) (model.CaseQuery, error) {
	var (
		brand, statusRaw, search, created, updated *string
		createdDate, updatedDate                   *string
		sortBy, sortOrder                          *string
		limit, offset                              *int
	)
	params := r.URL.Query()
	binds := []struct {
		name string
		dest any
	}{
		{"brand", &brand},
		{"status", &statusRaw},
		{"search", &search},
		{"created", &created},
		{"updated", &updated},
		{"created_date", &createdDate},
		{"updated_date", &updatedDate},
		{"sort_by", &sortBy},
		{"sort_order", &sortOrder},
		{"limit", &limit},
		{"offset", &offset},
	}
	for _, b := range binds {
		if err := runtime.BindQueryParameter("form", true, false, b.name, params, b.dest); err != nil {
			return model.CaseQuery{}, fmt.Errorf("некорректный параметр %s", b.name)
		}
	}
	// created_date и updated_date — прежние имена тех же фильтров
	if created == nil {
		created = createdDate
	}
	if updated == nil {
		updated = updatedDate
	}

	q := model.CaseQuery{Brand: brand, Search: search}
	q.Limit, q.Offset = paginationDefaults(limit, offset)

	if statusRaw != nil && *statusRaw != "" {
		st, err := status.Parse(*statusRaw)
		if err != nil {
			return q, err
		}
		q.Status = &st
	}

	var err error
	if created != nil {
		if q.CreatedFrom, q.CreatedTo, err = parseDateRange(*created); err != nil {
			return q, fmt.Errorf("параметр created: %w", err)
		}
	}
	if updated != nil {
		if q.UpdatedFrom, q.UpdatedTo, err = parseDateRange(*updated); err != nil {
			return q, fmt.Errorf("параметр updated: %w", err)
		}
	}

	if sortBy != nil {
		switch *sortBy {
		case "", "created_at", "updated_at":
			q.SortBy = *sortBy
		default:
			return q, fmt.Errorf("sort_by: допустимые значения created_at, updated_at")
		}
	}
	if sortOrder != nil {
		switch strings.ToLower(*sortOrder) {
		case "", "asc", "desc":
			q.SortOrder = strings.ToLower(*sortOrder)
		default:
			return q, fmt.Errorf("sort_order: допустимые значения asc, desc")
		}
	}
	return q, nil
}

// parseDateRange разбирает диапазон "from|to". Любая граница может
// быть пустой, обе границы включительные.
func parseDateRange(s string) (from, to *time.Time, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil, nil
	}
	left, right, found := strings.Cut(s, "|")
	if !found {
		return nil, nil, fmt.Errorf("ожидается диапазон в формате from|to")
	}
	parse := func(v string) (*time.Time, error) {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse(dateFormat, v)
		if err != nil {
			return nil, fmt.Errorf("ожидается дата в формате YYYY-MM-DD: %q", v)
		}
		return &t, nil
	}
	if from, err = parse(left); err != nil {
		return nil, nil, err
	}
	if to, err = parse(right); err != nil {
		return nil, nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, fmt.Errorf("начало диапазона позже конца")
	}
	return from, to, nil
}
