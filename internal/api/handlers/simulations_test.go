package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Hazimafiq/test-express-portal/internal/domain/filetype"
	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
	"github.com/Hazimafiq/test-express-portal/internal/service"
)

var labUser = model.Session{UserID: "lab-1", Name: "Lab", Role: model.RoleLab}

func TestAddSimulation(t *testing.T) {
	var gotURL, gotIPR string
	sims := &mockSimulations{
		addFn: func(_ context.Context, _ model.Session, caseID, url string, ipr *service.FilePart) (*model.SimulationPlan, *service.ReconcileReport, error) {
			gotURL = url
			if ipr != nil {
				data, _ := io.ReadAll(ipr.Body)
				gotIPR = string(data)
			}
			return &model.SimulationPlan{CaseID: caseID, SimulationNumber: 2, SimulationURL: url, CreatedAt: time.Now()},
				&service.ReconcileReport{Inserted: []int{9}}, nil
		},
	}
	h := newTestHandler(Services{Simulations: sims})

	body, ct := multipartBody(t, map[string][]string{"simulation_url": {"https://viewer.example.com/p/42"}},
		map[string]string{"ipr": "ipr chart"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cases/abc-1234/simulations", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()

	h.AddSimulation(rec, withParams(req, &labUser, map[string]string{"case_id": "abc-1234"}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}
	if gotURL != "https://viewer.example.com/p/42" || gotIPR != "ipr chart" {
		t.Errorf("url = %q, ipr = %q", gotURL, gotIPR)
	}
	var resp simulationCreatedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.Simulation.SimulationNumber != 2 || resp.Partial || resp.Files == nil || resp.Files.Inserted[0] != 9 {
		t.Errorf("ответ = %+v", resp)
	}
}

func TestAddSimulation_RejectsOtherFiles(t *testing.T) {
	sims := &mockSimulations{
		addFn: func(context.Context, model.Session, string, string, *service.FilePart) (*model.SimulationPlan, *service.ReconcileReport, error) {
			t.Fatal("Add не должен вызываться")
			return nil, nil, nil
		},
	}
	h := newTestHandler(Services{Simulations: sims})

	body, ct := multipartBody(t, map[string][]string{"simulation_url": {"https://viewer.example.com/p/1"}},
		map[string]string{"upper_scan": "x"})
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()

	h.AddSimulation(rec, withParams(req, &labUser, map[string]string{"case_id": "abc-1234"}))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("статус = %d, ожидается 400", rec.Code)
	}
}

func TestAddSimulation_DoctorForbidden(t *testing.T) {
	sims := &mockSimulations{
		addFn: func(context.Context, model.Session, string, string, *service.FilePart) (*model.SimulationPlan, *service.ReconcileReport, error) {
			return nil, nil, service.ErrForbidden
		},
	}
	h := newTestHandler(Services{Simulations: sims})

	body, ct := multipartBody(t, map[string][]string{"simulation_url": {"https://viewer.example.com/p/1"}},
		map[string]string{"ipr": "ipr chart"})
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()

	h.AddSimulation(rec, withParams(req, &doctor, map[string]string{"case_id": "abc-1234"}))

	if rec.Code != http.StatusForbidden {
		t.Errorf("статус = %d, ожидается 403", rec.Code)
	}
}

func TestUpdateSimulation_PassesIntent(t *testing.T) {
	var gotNumber int
	var gotIntent service.Intent
	sims := &mockSimulations{
		updateFn: func(_ context.Context, _ model.Session, _ string, number int, _ string, ipr *service.FilePart, intent service.Intent) (*service.ReconcileReport, error) {
			gotNumber, gotIntent = number, intent
			if ipr != nil {
				t.Error("ipr должен быть nil")
			}
			return &service.ReconcileReport{Removed: 1}, nil
		},
	}
	h := newTestHandler(Services{Simulations: sims})

	body, ct := multipartBody(t, map[string][]string{
		"simulation_url": {"https://viewer.example.com/p/1"},
		"ipr_flag":       {"remove"},
	}, nil)
	req := httptest.NewRequest(http.MethodPut, "/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()

	h.UpdateSimulation(rec, withParams(req, &labUser, map[string]string{"case_id": "abc-1234", "simulation_number": "3"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}
	if gotNumber != 3 || gotIntent != service.IntentRemove {
		t.Errorf("number = %d, intent = %q", gotNumber, gotIntent)
	}
}

func TestDecideSimulation(t *testing.T) {
	var got string
	sims := &mockSimulations{
		decideFn: func(_ context.Context, _ model.Session, _ string, number int, decision string) error {
			if number != 1 {
				t.Errorf("number = %d", number)
			}
			got = decision
			return nil
		},
	}
	h := newTestHandler(Services{Simulations: sims})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"decision":"approved"}`))
	rec := httptest.NewRecorder()
	h.DecideSimulation(rec, withParams(req, &doctor, map[string]string{"case_id": "abc-1234", "simulation_number": "1"}))

	if rec.Code != http.StatusNoContent || got != model.DecisionApproved {
		t.Errorf("статус = %d, decision = %q", rec.Code, got)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`decision=approved`))
	rec = httptest.NewRecorder()
	h.DecideSimulation(rec, withParams(req, &doctor, map[string]string{"case_id": "abc-1234", "simulation_number": "1"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("не-JSON: статус = %d, ожидается 400", rec.Code)
	}
}

func TestListSimulations(t *testing.T) {
	sims := &mockSimulations{
		listFn: func(_ context.Context, _ model.Session, caseID string) ([]*model.SimulationPlan, error) {
			return []*model.SimulationPlan{{
				CaseID:           caseID,
				SimulationNumber: 1,
				IPRFiles:         []*model.CaseFile{{FileID: 4, FileType: filetype.IPR}},
			}}, nil
		},
	}
	h := newTestHandler(Services{Simulations: sims})
	rec := httptest.NewRecorder()

	h.ListSimulations(rec, withParams(httptest.NewRequest(http.MethodGet, "/", nil), &doctor,
		map[string]string{"case_id": "abc-1234"}))

	var resp struct {
		Simulations []simulationResponse `json:"simulations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(resp.Simulations) != 1 || len(resp.Simulations[0].IPRFiles) != 1 || resp.Simulations[0].IPRFiles[0].FileID != 4 {
		t.Errorf("ответ = %+v", resp)
	}
}

func TestComments(t *testing.T) {
	comments := &mockComments{
		addFn: func(_ context.Context, s model.Session, caseID, body string) (*model.Comment, error) {
			if body == "" {
				return nil, errors.Join(service.ErrValidation, errors.New("пустой комментарий"))
			}
			return &model.Comment{ID: 1, CaseID: caseID, AuthorID: s.UserID, Body: body}, nil
		},
		listFn: func(_ context.Context, _ model.Session, caseID string) ([]*model.Comment, error) {
			return []*model.Comment{{ID: 1, CaseID: caseID, Body: "first"}}, nil
		},
	}
	h := newTestHandler(Services{Comments: comments})
	params := map[string]string{"case_id": "abc-1234"}

	rec := httptest.NewRecorder()
	h.AddComment(rec, withParams(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"body":"please check bite"}`)), &doctor, params))
	if rec.Code != http.StatusCreated {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}
	var created commentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if created.AuthorID != doctor.UserID || created.Body != "please check bite" {
		t.Errorf("комментарий = %+v", created)
	}

	rec = httptest.NewRecorder()
	h.AddComment(rec, withParams(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"body":""}`)), &doctor, params))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("пустой комментарий: статус = %d, ожидается 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ListComments(rec, withParams(httptest.NewRequest(http.MethodGet, "/", nil), &doctor, params))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"first"`) {
		t.Errorf("список: статус = %d, тело = %s", rec.Code, rec.Body.String())
	}
}
