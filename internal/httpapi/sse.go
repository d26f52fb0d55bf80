package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/relaybridge/chatrelay/internal/decoder"
	"github.com/relaybridge/chatrelay/internal/domain"
)

// writeSSE writes one "data: <json>\n\n" event, per spec.md's SSE framing
// (no "event:" line — OpenAI-compatible streaming clients key off the
// chunk's own "object" field).
func writeSSE(w http.ResponseWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeSSEDone(w http.ResponseWriter) error {
	_, err := fmt.Fprint(w, "data: [DONE]\n\n")
	return err
}

// streamResponse synthesizes an SSE stream from a single completed reply:
// one role delta, fixed-size content deltas, a stop delta, an optional
// tool-call delta pair, then [DONE]. The client transport is not
// incremental, so this is a synthesis, not a relay of partial reads.
func (h *Handler) streamResponse(w http.ResponseWriter, req domain.ChatCompletionRequest, requestID string, decoded decoder.Decoded, hasToolCalls bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	chunkID := "chatcmpl-" + requestID
	created := time.Now().Unix()

	base := func(choices []domain.Choice) domain.ChatCompletionChunk {
		return domain.ChatCompletionChunk{
			ID:      chunkID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: choices,
		}
	}

	_ = writeSSE(w, base([]domain.Choice{{Index: 0, Delta: &domain.ChatDelta{Role: "assistant"}}}))
	flush()

	content := []rune(decoded.Content)
	size := h.sseChunk
	if size <= 0 {
		size = 10
	}
	for i := 0; i < len(content); i += size {
		end := i + size
		if end > len(content) {
			end = len(content)
		}
		_ = writeSSE(w, base([]domain.Choice{{Index: 0, Delta: &domain.ChatDelta{Content: string(content[i:end])}}}))
		flush()
	}

	stop := "stop"
	_ = writeSSE(w, base([]domain.Choice{{Index: 0, Delta: &domain.ChatDelta{}, FinishReason: &stop}}))
	flush()

	if hasToolCalls {
		_ = writeSSE(w, base([]domain.Choice{{Index: 0, Delta: &domain.ChatDelta{ToolCalls: decoded.ToolCalls}}}))
		flush()
		toolsDone := "tool_calls"
		_ = writeSSE(w, base([]domain.Choice{{Index: 0, Delta: &domain.ChatDelta{}, FinishReason: &toolsDone}}))
		flush()
	}

	_ = writeSSEDone(w)
	flush()
}
