package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaybridge/chatrelay/internal/domain"
)

// RegisterRoutes mounts the HTTP surface on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Get("/v1/models", h.Models)
	r.Post("/v1/chat/completions", h.ChatCompletions)
}

// Root reports basic service status plus the current connection snapshot.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "chatrelay",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"connections": h.snapshot(),
	})
}

// Health reports healthy/degraded status: degraded iff no sessions are
// attached at all.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot()
	status := "healthy"
	if snap.Total == 0 {
		status = "degraded"
	}
	JSON(w, http.StatusOK, map[string]any{
		"status":             status,
		"active_connections": snap.Total,
		"idle_connections":   snap.Idle,
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	})
}

// Stats returns the raw connection snapshot.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.snapshot())
}

// Models returns the gateway's single synthetic model descriptor. The
// real model catalog lives entirely on the remote client side; this
// endpoint exists only so OpenAI-compatible tooling that probes
// /v1/models before calling /v1/chat/completions gets a response.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []domain.ModelDescriptor{
			{
				ID:      "relay-gateway",
				Object:  "model",
				Created: h.startedAt.Unix(),
				OwnedBy: "chatrelay",
			},
		},
	})
}

func (h *Handler) snapshot() registrySnapshot {
	s := h.reg.Snapshot(h.corr.Pending())
	return registrySnapshot{Total: s.Total, Idle: s.Idle, Busy: s.Busy, Pending: s.Pending}
}

// registrySnapshot mirrors registry.StatsSnapshot for a stable JSON shape
// independent of internal field names.
type registrySnapshot struct {
	Total   int `json:"total"`
	Idle    int `json:"idle"`
	Busy    int `json:"busy"`
	Pending int `json:"pending_count"`
}
