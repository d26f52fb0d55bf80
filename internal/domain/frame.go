// Package domain contains the wire types shared by the WebSocket frame
// protocol and the OpenAI-compatible HTTP surface.
package domain

import "encoding/json"

// Frame type tags. Client-bound types are sent by the gateway to an
// attached browser/agent client; server-bound types are sent by the
// client to the gateway.
const (
	FrameConnectionEstablished = "connection_established"
	FrameHeartbeat             = "heartbeat"
	FrameCompletionRequest     = "completion_request"
	FrameError                 = "error"

	FrameRegister           = "register"
	FrameClientReady        = "client_ready"
	FrameHeartbeatResponse  = "heartbeat_response"
	FrameCompletionResponse = "completion_response"
	FrameClientLog          = "client_log"
)

// Envelope is the minimal shape every frame carries: enough to dispatch on
// Type before decoding the rest of the payload.
type Envelope struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ConnectionEstablished is sent to a client immediately after Attach.
type ConnectionEstablished struct {
	Type       string `json:"type"`
	ClientID   string `json:"client_id"`
	Timestamp  int64  `json:"timestamp"`
}

// HeartbeatFrame is the periodic liveness probe sent to a client.
type HeartbeatFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorFrame is sent back on a socket in response to a malformed or
// unrecognized inbound frame.
type ErrorFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// CompletionRequestFrame is the outbound forward of an HTTP caller's
// request, built by RequestRewriter.
type CompletionRequestFrame struct {
	Type            string          `json:"type"`
	RequestID       string          `json:"request_id"`
	Model           string          `json:"model"`
	Messages        []ChatMessage   `json:"messages"`
	Temperature     *float64        `json:"temperature,omitempty"`
	MaxTokens       *int            `json:"max_tokens,omitempty"`
	Stream          bool            `json:"stream"`
	OriginalStream  bool            `json:"original_stream"`
	Tools           []Tool          `json:"tools,omitempty"`
	Timestamp       int64           `json:"timestamp"`
}

// CompletionResponseFrame is the inbound reply from a client, carrying the
// raw XML-enveloped content the ReplyDecoder parses.
type CompletionResponseFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Content   string          `json:"content"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
	Error     *ClientError    `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ClientError carries a client-reported failure embedded in a
// completion_response frame.
type ClientError struct {
	Message string `json:"message"`
}

// RegisterFrame is an informational server-bound frame.
type RegisterFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ClientReadyFrame signals the client considers itself idle again.
type ClientReadyFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ClientLogFrame carries a client-side debug log line, forwarded to the
// process logger and otherwise dropped (persistence is out of scope).
type ClientLogFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}
