// simulations.go — HTTP handlers планов симуляции кейса.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/Hazimafiq/test-express-portal/internal/api/errors"
	"github.com/Hazimafiq/test-express-portal/internal/domain/filetype"
	"github.com/Hazimafiq/test-express-portal/internal/service"
)

// maxDecisionBody — ограничение тела запроса решения по плану.
const maxDecisionBody = 4 << 10

type decisionRequest struct {
	Decision string `json:"decision"`
}

// AddSimulation обрабатывает POST /api/v1/cases/{case_id}/simulations.
// Multipart form: simulation_url и ipr (файл), оба обязательны.
func (h *APIHandler) AddSimulation(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	caseID := chi.URLParam(r, "case_id")

	form, err := parseMultipart(w, r, h.maxUploadBytes)
	if err != nil {
		h.writeFormError(w, r, err)
		return
	}
	defer form.Close()

	ipr, err := simulationFile(form)
	if err != nil {
		h.writeFormError(w, r, err)
		return
	}

	plan, report, err := h.simulations.Add(r.Context(), session, caseID, form.value("simulation_url"), ipr)
	partial := false
	if err != nil {
		if !partialFailure(err) || plan == nil {
			h.writeServiceError(w, r, err)
			return
		}
		partial = true
		h.logger.Warn("План симуляции создан без файла схемы сепарации",
			slog.String("case_id", caseID),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusCreated, simulationCreatedResponse{
		Simulation: simulationToResponse(plan),
		Partial:    partial,
		Files:      reportToResponse(report),
	})
}

// ListSimulations обрабатывает GET /api/v1/cases/{case_id}/simulations.
func (h *APIHandler) ListSimulations(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	plans, err := h.simulations.List(r.Context(), session, chi.URLParam(r, "case_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := make([]simulationResponse, 0, len(plans))
	for _, p := range plans {
		resp = append(resp, simulationToResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"simulations": resp})
}

// UpdateSimulation обрабатывает PUT /api/v1/cases/{case_id}/simulations/{simulation_number}.
// Multipart form: simulation_url, ipr (файл, опционально), ipr_flag.
func (h *APIHandler) UpdateSimulation(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	caseID := chi.URLParam(r, "case_id")

	var number int
	if err := bindPathInt(r, "simulation_number", &number); err != nil || number <= 0 {
		apierrors.Validation.Write(w, "Параметр simulation_number должен быть положительным числом")
		return
	}

	form, err := parseMultipart(w, r, h.maxUploadBytes)
	if err != nil {
		h.writeFormError(w, r, err)
		return
	}
	defer form.Close()

	ipr, err := simulationFile(form)
	if err != nil {
		h.writeFormError(w, r, err)
		return
	}
	intent, err := service.ParseIntent(form.value("ipr_flag"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	report, err := h.simulations.Update(r.Context(), session, caseID, number, form.value("simulation_url"), ipr, intent)
	partial := false
	if err != nil {
		if !partialFailure(err) {
			h.writeServiceError(w, r, err)
			return
		}
		partial = true
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"simulation_number": number,
		"partial":           partial,
		"files":             reportToResponse(report),
	})
}

// DecideSimulation обрабатывает POST /api/v1/cases/{case_id}/simulations/{simulation_number}/decision.
// JSON body: {"decision": "approved" | "revoked"}.
func (h *APIHandler) DecideSimulation(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var number int
	if err := bindPathInt(r, "simulation_number", &number); err != nil || number <= 0 {
		apierrors.Validation.Write(w, "Параметр simulation_number должен быть положительным числом")
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDecisionBody)).Decode(&req); err != nil {
		apierrors.Validation.Write(w, "Некорректный JSON: ожидается {\"decision\": \"approved\" | \"revoked\"}")
		return
	}

	if err := h.simulations.Decide(r.Context(), session, chi.URLParam(r, "case_id"), number, req.Decision); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// simulationFile возвращает файл схемы сепарации из формы.
// Другие файловые поля для плана симуляции недопустимы.
func simulationFile(form *parsedForm) (*service.FilePart, error) {
	var ipr *service.FilePart
	for ft, part := range form.files {
		if ft != filetype.IPR {
			return nil, formErrorf("к плану симуляции прикладывается только файл ipr, получен %s", ft)
		}
		p := part
		ipr = &p
	}
	return ipr, nil
}
