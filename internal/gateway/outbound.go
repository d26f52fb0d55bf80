package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/coder/websocket"
)

// ErrSocketClosed is returned by WriteText once the outbound writer has
// stopped.
var ErrSocketClosed = errors.New("gateway: socket closed")

type writeRequest struct {
	data []byte
	err  chan error
}

// outboundWriter is the sole goroutine permitted to call Write on a given
// *websocket.Conn, realizing the per-session write serialization the
// concurrency model requires without taking a mutex around socket I/O.
type outboundWriter struct {
	conn   *websocket.Conn
	log    *slog.Logger
	writes chan writeRequest
	done   chan struct{}
}

func newOutboundWriter(conn *websocket.Conn, log *slog.Logger) *outboundWriter {
	w := &outboundWriter{
		conn:   conn,
		log:    log,
		writes: make(chan writeRequest),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *outboundWriter) run() {
	defer close(w.done)
	for req := range w.writes {
		err := w.conn.Write(context.Background(), websocket.MessageText, req.data)
		req.err <- err
	}
}

// WriteText implements registry.Socket.
func (w *outboundWriter) WriteText(data []byte) error {
	select {
	case <-w.done:
		return ErrSocketClosed
	default:
	}

	result := make(chan error, 1)
	select {
	case w.writes <- writeRequest{data: data, err: result}:
	case <-w.done:
		return ErrSocketClosed
	}
	return <-result
}

// Close implements registry.Socket.
func (w *outboundWriter) Close(reason string) error {
	close(w.writes)
	<-w.done
	return w.conn.Close(websocket.StatusNormalClosure, reason)
}
