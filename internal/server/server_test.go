package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Hazimafiq/test-express-portal/internal/api/handlers"
)

func testHandler() *handlers.APIHandler {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return handlers.NewAPIHandler(handlers.NewHealthHandler(nil, nil), handlers.Services{}, 1<<20, logger)
}

// denyAll — middleware, отклоняющий все запросы (заменяет JWT в тестах).
func denyAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
}

func TestNewRouter_Routes(t *testing.T) {
	router := NewRouter(testHandler())

	var got []string
	err := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		got = append(got, method+" "+strings.TrimSuffix(route, "/"))
		return nil
	})
	if err != nil {
		t.Fatalf("chi.Walk: %v", err)
	}
	sort.Strings(got)

	want := []string{
		"DELETE /api/v1/cases/{case_id}",
		"GET /api/v1/cases",
		"GET /api/v1/cases/counts",
		"GET /api/v1/cases/{case_id}",
		"GET /api/v1/cases/{case_id}/archives/{group}",
		"GET /api/v1/cases/{case_id}/comments",
		"GET /api/v1/cases/{case_id}/files/type/{file_type}",
		"GET /api/v1/cases/{case_id}/simulations",
		"GET /file/{case_id}/{file_id}",
		"GET /health/live",
		"GET /health/ready",
		"GET /metrics",
		"POST /api/v1/cases",
		"POST /api/v1/cases/{case_id}/comments",
		"POST /api/v1/cases/{case_id}/draft",
		"POST /api/v1/cases/{case_id}/simulations",
		"POST /api/v1/cases/{case_id}/simulations/{simulation_number}/decision",
		"POST /api/v1/cases/{case_id}/submit",
		"POST /api/v1/stl-cases",
		"PUT /api/v1/cases/{case_id}",
		"PUT /api/v1/cases/{case_id}/simulations/{simulation_number}",
		"PUT /api/v1/stl-cases/{case_id}",
	}
	sort.Strings(want)

	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("маршруты:\n%s\nожидается:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestJWTAuthWithExclusions(t *testing.T) {
	router := NewRouter(testHandler(), JWTAuthWithExclusions(denyAll, PublicPrefixes...))

	tests := []struct {
		path string
		want int
	}{
		{"/health/live", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/api/v1/cases", http.StatusUnauthorized},
		{"/file/abc-1234/1", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRouter_UnauthenticatedRequestWithoutMiddleware(t *testing.T) {
	// Без JWT middleware сессии нет: обработчик отвечает 401, а не паникует
	router := NewRouter(testHandler())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cases/abc-1234", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("статус = %d, ожидается 401", rec.Code)
	}
}
