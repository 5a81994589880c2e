package health

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/thoughtforge/backend/internal/service/system"
	"github.com/zhouzirui/thoughtforge/backend/pkg/utils"
)

// DiskProbe reports usage of the filesystem holding path.
type DiskProbe func(ctx context.Context, path string) (system.DiskStats, error)

// Handler 健康检查
type Handler struct {
	root    string
	probe   DiskProbe
	started time.Time
}

func New(root string, probe DiskProbe) *Handler {
	if probe == nil {
		probe = system.Disk
	}
	return &Handler{root: root, probe: probe, started: time.Now()}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":        "ok",
		"service":       "thoughtforge",
		"uptimeSeconds": int64(time.Since(h.started).Seconds()),
	}

	stats, err := h.probe(r.Context(), h.root)
	if err != nil {
		log.Printf("[health] disk probe failed: %v", err)
		payload["status"] = "degraded"
		payload["diskError"] = err.Error()
	} else {
		payload["disk"] = stats
	}
	utils.RespondJSON(w, http.StatusOK, payload)
}
