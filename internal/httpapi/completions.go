package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/relaybridge/chatrelay/internal/correlator"
	"github.com/relaybridge/chatrelay/internal/decoder"
	"github.com/relaybridge/chatrelay/internal/dispatcher"
	"github.com/relaybridge/chatrelay/internal/domain"
	"github.com/relaybridge/chatrelay/internal/rewriter"
)

// ChatCompletions implements POST /v1/chat/completions.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}
	if len(req.Messages) == 0 {
		WriteError(w, http.StatusBadRequest, "validation_error", "messages must not be empty")
		return
	}
	if msg := validateSamplingParams(req); msg != "" {
		WriteError(w, http.StatusBadRequest, "validation_error", msg)
		return
	}

	requestID, err := correlator.NewRequestID()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to allocate request id")
		return
	}

	session, err := h.dispatch.Select(requestID)
	if err != nil {
		if errors.Is(err, dispatcher.ErrNoClientAvailable) {
			WriteError(w, http.StatusServiceUnavailable, "service_unavailable", "no client connection available")
			return
		}
		WriteError(w, http.StatusInternalServerError, "internal_error", "dispatch failed")
		return
	}

	outcome, err := rewriter.Rewrite(req, requestID, session)
	if err != nil {
		h.reg.MarkIdleIfOwns(session.ID, requestID)
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to build forward request")
		return
	}

	payload, err := json.Marshal(outcome.Frame)
	if err != nil {
		h.reg.MarkIdleIfOwns(session.ID, requestID)
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to encode forward request")
		return
	}

	// Waiter registration happens-before the frame write, eliminating the
	// race where a reply arrives before anyone is listening for it.
	if err := h.corr.Register(requestID, session.ID); err != nil {
		h.reg.MarkIdleIfOwns(session.ID, requestID)
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to register request")
		return
	}

	if err := session.Socket().WriteText(payload); err != nil {
		h.log.Warn("forward write failed, marking session dead", "client_id", session.ID, "request_id", requestID, "error", err)
		h.reg.MarkDead(session.ID)
		h.corr.Fail(requestID, err)
		h.detachDead(session.ID)
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to forward request")
		return
	}

	h.reg.UpdateFingerprints(session.ID, outcome.SystemDigest, outcome.ToolsDigest, outcome.SetSystem, outcome.SetTools)

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTTL)
	defer cancel()

	result, err := h.corr.Await(ctx, requestID)
	if err != nil {
		h.writeAwaitError(w, err)
		return
	}

	resp, ok := result.(domain.CompletionResponseFrame)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "internal_error", "unexpected reply payload")
		return
	}

	decoded := decoder.Decode(resp.Content, resp.ToolCalls, h.log)
	if decoded.Content == "" {
		WriteError(w, http.StatusInternalServerError, "empty_response", "client returned empty response")
		return
	}

	promptText := promptText(req.Messages)
	promptTokens := estimateTokens(promptText)
	completionTokens := estimateTokens(decoded.Content)
	usage := domain.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}

	hasToolCalls := len(decoded.ToolCalls) > 0 && string(decoded.ToolCalls) != "null"

	if req.Stream {
		h.streamResponse(w, req, requestID, decoded, hasToolCalls)
		return
	}

	finishReason := "stop"
	message := domain.ChatMessage{Role: "assistant", Content: decoded.Content}
	if hasToolCalls {
		finishReason = "tool_calls"
		message.ToolCalls = decoded.ToolCalls
	}

	JSON(w, http.StatusOK, domain.ChatCompletionResponse{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []domain.Choice{{Index: 0, Message: &message, FinishReason: &finishReason}},
		Usage:   usage,
	})
}

func (h *Handler) writeAwaitError(w http.ResponseWriter, err error) {
	if errors.Is(err, correlator.ErrTimeout) {
		WriteError(w, http.StatusGatewayTimeout, "timeout", "client did not reply in time")
		return
	}
	var reported correlator.ReportedError
	if errors.As(err, &reported) {
		WriteError(w, http.StatusInternalServerError, "client_error", reported.Message)
		return
	}
	var gone correlator.ClientGoneError
	if errors.As(err, &gone) {
		WriteError(w, http.StatusServiceUnavailable, "service_unavailable", "client disconnected before replying")
		return
	}
	WriteError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

// detachDead best-effort-detaches a session this handler just marked Dead
// after a write failure. Its own PendingRequest was already resolved via
// corr.Fail above, so the resolver here only matters for any other
// requests somehow still attributed to the session (there should be none,
// since invariant 2 limits a session to one in-flight request).
func (h *Handler) detachDead(id string) {
	h.reg.Detach(id, correlator.ClientGoneError{Reason: "send_failed"}, func(requestID string, err error) {
		h.corr.Fail(requestID, err)
	})
}

func promptText(messages []domain.ChatMessage) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, " ")
}

// validateSamplingParams enforces the bounds an OpenAI-compatible caller
// expects on optional sampling fields, returning a human-readable message
// for the first violation found, or "" if req is within range.
func validateSamplingParams(req domain.ChatCompletionRequest) string {
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return "temperature must be between 0 and 2"
	}
	if req.TopP != nil && (*req.TopP < 0 || *req.TopP > 1) {
		return "top_p must be between 0 and 1"
	}
	if req.FrequencyPenalty != nil && (*req.FrequencyPenalty < -2 || *req.FrequencyPenalty > 2) {
		return "frequency_penalty must be between -2 and 2"
	}
	if req.PresencePenalty != nil && (*req.PresencePenalty < -2 || *req.PresencePenalty > 2) {
		return "presence_penalty must be between -2 and 2"
	}
	if req.MaxTokens != nil && *req.MaxTokens < 1 {
		return "max_tokens must be at least 1"
	}
	return ""
}
