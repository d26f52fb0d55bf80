// Package gateway owns the WebSocket upgrade endpoint, the per-socket
// inbound frame reader (InboundMux), and outbound write serialization.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/relaybridge/chatrelay/internal/correlator"
	"github.com/relaybridge/chatrelay/internal/domain"
	"github.com/relaybridge/chatrelay/internal/registry"
)

// Handler accepts WebSocket upgrades and runs one InboundMux per attached
// client.
type Handler struct {
	reg          *registry.Registry
	corr         *correlator.Correlator
	log          *slog.Logger
	allowedOrigins []string
}

// New constructs a Handler.
func New(reg *registry.Registry, corr *correlator.Correlator, allowedOrigins []string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{reg: reg, corr: corr, allowedOrigins: allowedOrigins, log: log}
}

// ServeHTTP implements http.Handler, upgrading the request to a WebSocket
// and running the session until the socket closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	originPatterns := h.allowedOrigins
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns,
	})
	if err != nil {
		h.log.Error("websocket accept failed", "error", err)
		return
	}

	writer := newOutboundWriter(conn, h.log)
	session := h.reg.Attach(writer)

	established := domain.ConnectionEstablished{
		Type:      domain.FrameConnectionEstablished,
		ClientID:  session.ID,
		Timestamp: time.Now().Unix(),
	}
	if payload, err := json.Marshal(established); err == nil {
		if err := writer.WriteText(payload); err != nil {
			h.log.Warn("failed to send connection_established", "client_id", session.ID, "error", err)
		}
	}

	ctx := r.Context()
	h.readLoop(ctx, conn, session.ID)

	h.reg.Detach(session.ID, correlator.ClientGoneError{Reason: "disconnected"}, h.resolveOwned)
}

func (h *Handler) resolveOwned(requestID string, err error) {
	h.corr.Fail(requestID, err)
}

// DetachSession exposes the detach-with-resolve path for external callers
// such as the heartbeat loop, which shares the same registry/correlator
// pair but lives in a different package.
func (h *Handler) DetachSession(id string, clientGoneErr error) {
	h.reg.Detach(id, clientGoneErr, h.resolveOwned)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.log.Debug("websocket closed by client", "client_id", sessionID)
			} else {
				h.log.Warn("websocket read error", "client_id", sessionID, "error", err)
			}
			return
		}
		h.handleFrame(sessionID, data)
	}
}

func (h *Handler) handleFrame(sessionID string, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.replyError(sessionID, "malformed json frame")
		return
	}

	switch env.Type {
	case domain.FrameHeartbeatResponse:
		h.reg.Touch(sessionID)

	case domain.FrameClientReady:
		h.reg.MarkIdleUnlessBusy(sessionID)

	case domain.FrameRegister:
		h.reg.Touch(sessionID)

	case domain.FrameCompletionResponse:
		var resp domain.CompletionResponseFrame
		if err := json.Unmarshal(data, &resp); err != nil {
			h.log.Warn("malformed completion_response", "client_id", sessionID, "error", err)
			h.replyError(sessionID, "malformed completion_response")
			return
		}

		// Resolve/Fail happens-before MarkIdleIfOwns: the session only
		// returns to Idle once the correlator confirms this reply actually
		// matched a still-pending request it owned, never on a prior,
		// possibly-stale ownership read.
		var owner string
		var matched bool
		if resp.Error != nil {
			owner, matched = h.corr.Fail(resp.RequestID, correlator.ReportedError{Message: resp.Error.Message})
		} else {
			owner, matched = h.corr.Resolve(resp.RequestID, resp)
		}
		if matched && owner == sessionID {
			h.reg.MarkIdleIfOwns(sessionID, resp.RequestID)
		}

	case domain.FrameClientLog:
		var logFrame domain.ClientLogFrame
		if err := json.Unmarshal(data, &logFrame); err == nil {
			h.log.Debug("client_log", "client_id", sessionID, "message", logFrame.Message)
		}

	default:
		h.replyError(sessionID, "unknown type: "+env.Type)
	}
}

func (h *Handler) replyError(sessionID, message string) {
	session, ok := h.reg.Get(sessionID)
	if !ok {
		return
	}
	frame := domain.ErrorFrame{Type: domain.FrameError, Message: message, Timestamp: time.Now().Unix()}
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := session.Socket().WriteText(payload); err != nil {
		h.log.Debug("failed to send error frame", "client_id", sessionID, "error", err)
	}
}

