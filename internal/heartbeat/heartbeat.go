// Package heartbeat runs the periodic liveness probe against attached
// client sessions and reaps sessions that go stale or fail to write.
package heartbeat

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/relaybridge/chatrelay/internal/correlator"
	"github.com/relaybridge/chatrelay/internal/domain"
	"github.com/relaybridge/chatrelay/internal/registry"
)

// DetachFunc detaches a session, resolving any pending request it owned
// with clientGoneErr.
type DetachFunc func(sessionID string, clientGoneErr error)

// Loop periodically probes every attached session and reaps stale ones.
type Loop struct {
	reg      *registry.Registry
	interval time.Duration
	stale    time.Duration
	detach   DetachFunc
	log      *slog.Logger

	done chan struct{}
}

// New constructs a Loop. detach is invoked for any session found dead
// (failed write) or stale (no frame within stale).
func New(reg *registry.Registry, interval, stale time.Duration, detach DetachFunc, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{reg: reg, interval: interval, stale: stale, detach: detach, log: log, done: make(chan struct{})}
}

// Run blocks, sweeping every interval until ctx is cancelled. Call from a
// dedicated goroutine; on shutdown the caller should cancel ctx and wait
// on Done to join the loop.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	defer close(l.done)

	l.log.Info("heartbeat loop started", "interval", l.interval, "stale_after", l.stale)

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-ctx.Done():
			l.log.Info("heartbeat loop shutting down", "reason", ctx.Err())
			return
		}
	}
}

// Done is closed once Run has returned, for joining on shutdown.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) sweep() {
	frame := domain.HeartbeatFrame{Type: domain.FrameHeartbeat, Timestamp: time.Now().Unix()}
	payload, err := json.Marshal(frame)
	if err != nil {
		l.log.Error("failed to marshal heartbeat frame", "error", err)
		return
	}

	for _, id := range l.reg.IDs() {
		session, ok := l.reg.Get(id)
		if !ok {
			continue
		}
		if writeErr := session.Socket().WriteText(payload); writeErr != nil {
			l.log.Warn("heartbeat send failed, marking dead", "client_id", id, "error", writeErr)
			l.reg.MarkDead(id)
			l.detach(id, correlator.ClientGoneError{Reason: "heartbeat_send_failed"})
		}
	}

	for _, id := range l.reg.StaleIDs(l.stale) {
		l.log.Info("session stale, detaching", "client_id", id, "stale_after", l.stale)
		l.detach(id, correlator.ClientGoneError{Reason: "heartbeat_timeout"})
	}
}
