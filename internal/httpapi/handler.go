// Package httpapi implements the OpenAI-compatible HTTP surface: request
// validation, dispatch against the connection pool, and synthesis of
// non-streaming and SSE responses from a single client reply.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/relaybridge/chatrelay/internal/correlator"
	"github.com/relaybridge/chatrelay/internal/dispatcher"
	"github.com/relaybridge/chatrelay/internal/domain"
	"github.com/relaybridge/chatrelay/internal/registry"
)

// Handler serves the Chat Completions API and the supporting
// introspection endpoints.
type Handler struct {
	reg        *registry.Registry
	dispatch   *dispatcher.Dispatcher
	corr       *correlator.Correlator
	requestTTL time.Duration
	sseChunk   int
	startedAt  time.Time
	log        *slog.Logger
}

// New constructs a Handler.
func New(reg *registry.Registry, dispatch *dispatcher.Dispatcher, corr *correlator.Correlator, requestTTL time.Duration, sseChunkSize int, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		reg:        reg,
		dispatch:   dispatch,
		corr:       corr,
		requestTTL: requestTTL,
		sseChunk:   sseChunkSize,
		startedAt:  time.Now(),
		log:        log,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":{"message":"failed to encode response","type":"internal_error","code":500}}`, http.StatusInternalServerError)
	}
}

// WriteError writes the spec's error envelope.
func WriteError(w http.ResponseWriter, status int, kind, message string) {
	JSON(w, status, domain.ErrorResponse{
		Error: domain.ErrorDetail{Message: message, Type: kind, Code: status},
	})
}

func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
