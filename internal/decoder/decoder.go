// Package decoder parses a client's XML-lite enveloped reply into plain
// content and tool calls.
package decoder

import (
	"encoding/json"
	"log/slog"
	"strings"
)

const (
	contentOpen   = "<content>"
	contentClose  = "</content>"
	toolCallsOpen = "<tool_calls>"
	toolCallsClose = "</tool_calls>"
	responseDone  = "<response_done>"
)

// Decoded is the result of parsing a reply's raw content.
type Decoded struct {
	Content   string
	ToolCalls json.RawMessage
}

// Decode extracts content and tool_calls from raw, the text carried in a
// completion_response frame's content field. topLevelToolCalls is the
// frame's own top-level tool_calls field (if any), used as a fallback
// when the envelope carries none. Decode never fails hard: an opaque
// reply degrades to Content = raw, ToolCalls = nil.
func Decode(raw string, topLevelToolCalls json.RawMessage, log *slog.Logger) Decoded {
	if log == nil {
		log = slog.Default()
	}

	var result Decoded

	contentStart := strings.Index(raw, contentOpen)
	contentEnd := strings.Index(raw, contentClose)
	if contentStart > -1 && contentEnd > -1 && contentEnd > contentStart {
		result.Content = strings.TrimSpace(raw[contentStart+len(contentOpen) : contentEnd])
	} else {
		before, _, _ := strings.Cut(raw, responseDone)
		result.Content = strings.TrimSpace(before)
	}

	toolCallsStart := strings.Index(raw, toolCallsOpen)
	toolCallsEnd := strings.Index(raw, toolCallsClose)
	if toolCallsStart > -1 && toolCallsEnd > -1 && toolCallsEnd > toolCallsStart {
		candidate := strings.TrimSpace(raw[toolCallsStart+len(toolCallsOpen) : toolCallsEnd])
		if json.Valid([]byte(candidate)) {
			result.ToolCalls = json.RawMessage(candidate)
		} else {
			log.Warn("failed to parse tool_calls JSON", "candidate", candidate)
		}
	}

	if len(result.ToolCalls) == 0 && len(topLevelToolCalls) > 0 && !isJSONNull(topLevelToolCalls) {
		result.ToolCalls = topLevelToolCalls
	}

	return result
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
