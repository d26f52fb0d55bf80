// Package dispatcher implements the freshness selection policy for
// choosing which attached client handles a new request.
package dispatcher

import (
	"errors"
	"log/slog"
	"time"

	"github.com/relaybridge/chatrelay/internal/registry"
)

var errStaleEviction = errors.New("session evicted: stale while idle")

// ErrNoClientAvailable is re-exported for callers that only import this
// package.
var ErrNoClientAvailable = registry.ErrNoClientAvailable

// Dispatcher picks an idle client for a new request and evicts stale
// sessions discovered while scanning.
type Dispatcher struct {
	reg               *registry.Registry
	connectionTimeout time.Duration
	log               *slog.Logger
}

// New constructs a Dispatcher bound to reg, evicting Idle sessions whose
// last_seen is older than connectionTimeout.
func New(reg *registry.Registry, connectionTimeout time.Duration, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{reg: reg, connectionTimeout: connectionTimeout, log: log}
}

// Select picks the freshest Idle, non-stale session and marks it Busy with
// requestID, evicting any stale sessions it encounters along the way.
func (d *Dispatcher) Select(requestID string) (*registry.ClientSession, error) {
	winner, stale, err := d.reg.Dispatch(requestID, d.connectionTimeout)
	for _, id := range stale {
		d.log.Info("evicting stale idle session", "client_id", id)
		d.reg.Detach(id, errStaleEviction, nil)
	}
	if err != nil {
		return nil, err
	}
	return winner, nil
}
