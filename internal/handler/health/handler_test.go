package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/thoughtforge/backend/internal/service/system"
)

func serveHealth(probe DiskProbe) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	New("/data", probe).RegisterRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	return rr
}

func TestHealthReportsDisk(t *testing.T) {
	rr := serveHealth(func(_ context.Context, path string) (system.DiskStats, error) {
		return system.DiskStats{Path: path, TotalBytes: 100, FreeBytes: 40}, nil
	})
	body := rr.Body.String()
	if rr.Code != http.StatusOK || !strings.Contains(body, `"status":"ok"`) || !strings.Contains(body, `"freeBytes":40`) {
		t.Fatalf("unexpected health response %d %s", rr.Code, body)
	}
}

func TestHealthDegradesWhenProbeFails(t *testing.T) {
	rr := serveHealth(func(context.Context, string) (system.DiskStats, error) {
		return system.DiskStats{}, errors.New("no such mount")
	})
	if !strings.Contains(rr.Body.String(), `"status":"degraded"`) {
		t.Fatalf("expected degraded status, got %s", rr.Body.String())
	}
}
