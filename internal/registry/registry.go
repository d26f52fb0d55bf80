package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaybridge/chatrelay/internal/fingerprint"
)

// ErrNoClientAvailable is returned by Dispatch when no session is Idle and
// within the staleness window.
var ErrNoClientAvailable = errors.New("no client available")

// ErrUnknownSession is returned when an operation names a session id that
// is not currently attached.
var ErrUnknownSession = errors.New("unknown session")

// DetachResolver is called, once per owned pending request, when a session
// is detached. It is invoked outside the registry lock.
type DetachResolver func(requestID string, err error)

// StatsSnapshot is the aggregate view returned by Snapshot.
type StatsSnapshot struct {
	Total   int
	Idle    int
	Busy    int
	Pending int
}

// Registry is the process-scoped set of attached client sessions.
//
// Holding the mutex across a socket write is forbidden: callers obtain a
// stable *ClientSession reference under the lock, release it, then write.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*ClientSession
	log      *slog.Logger
}

// New constructs an empty Registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*ClientSession),
		log:      log,
	}
}

// Attach registers a newly accepted socket as a new Idle session and
// returns the session.
func (r *Registry) Attach(socket Socket) *ClientSession {
	now := time.Now()
	session := &ClientSession{
		ID:        "client_" + uuid.NewString(),
		socket:    socket,
		state:     Idle,
		lastSeen:  now,
		createdAt: now,
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	r.log.Info("session attached", "client_id", session.ID)
	return session
}

// Detach removes a session and, for every pending request it owned,
// invokes resolve(requestID, clientGoneErr) outside the lock.
func (r *Registry) Detach(id string, clientGoneErr error, resolve DetachResolver) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	owned := session.currentRequestID
	r.mu.Unlock()

	_ = session.socket.Close("session detached")
	r.log.Info("session detached", "client_id", id)

	if owned != "" && resolve != nil {
		resolve(owned, clientGoneErr)
	}
}

// Touch updates a session's last_seen to now.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.lastSeen = time.Now()
	}
}

// MarkBusy transitions a session Idle/Idle-like state to Busy, owning
// requestID. Returns ErrUnknownSession if the session is gone.
func (r *Registry) MarkBusy(id, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	s.state = Busy
	s.currentRequestID = requestID
	return nil
}

// MarkIdleIfOwns transitions a Busy session back to Idle iff it currently
// owns requestID; it is a no-op otherwise (idempotent against late or
// stale resolutions).
func (r *Registry) MarkIdleIfOwns(id, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	if s.state == Busy && s.currentRequestID == requestID {
		s.state = Idle
		s.currentRequestID = ""
	}
}

// MarkIdleUnlessBusy transitions a session to Idle unless it is currently
// Busy, implementing the resolution chosen for the client_ready-vs-reply
// race: a client_ready that arrives while Busy must not let a second
// request be dispatched out from under the in-flight reply.
func (r *Registry) MarkIdleUnlessBusy(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	if s.state != Busy {
		s.state = Idle
		s.currentRequestID = ""
	}
	s.lastSeen = time.Now()
}

// MarkDead transitions a session to Dead, usually following a failed
// write or heartbeat timeout; the caller is responsible for a subsequent
// Detach.
func (r *Registry) MarkDead(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.state = Dead
	}
}

// UpdateFingerprints records the digests of payloads actually sent on a
// session, after a successful write.
func (r *Registry) UpdateFingerprints(id string, sys, tools *fingerprint.Digest, setSys, setTools bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	if setSys {
		s.systemFingerprint = sys
	}
	if setTools {
		s.toolsFingerprint = tools
	}
}

// Get returns the session for id and whether it exists.
func (r *Registry) Get(id string) (*ClientSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Dispatch atomically selects the freshest Idle, non-stale session,
// evicts any Idle sessions found to be stale along the way, and marks the
// winner Busy under a single lock acquisition. Splitting this into a
// read-only scan followed by a separate MarkBusy call would reopen the
// race invariant P2 forbids: two concurrent callers could both select the
// same session before either marks it Busy.
func (r *Registry) Dispatch(requestID string, staleAfter time.Duration) (*ClientSession, []string, error) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*ClientSession
	var stale []string
	for _, s := range r.sessions {
		if s.state != Idle {
			continue
		}
		if now.Sub(s.lastSeen) >= staleAfter {
			s.state = Dead
			stale = append(stale, s.ID)
			continue
		}
		candidates = append(candidates, s)
	}

	if len(candidates) == 0 {
		return nil, stale, ErrNoClientAvailable
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].lastSeen.Equal(candidates[j].lastSeen) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].lastSeen.After(candidates[j].lastSeen)
	})

	winner := candidates[0]
	winner.state = Busy
	winner.currentRequestID = requestID

	return winner, stale, nil
}

// Snapshot returns the current aggregate counts.
func (r *Registry) Snapshot(pendingCount int) StatsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := StatsSnapshot{Pending: pendingCount}
	for _, s := range r.sessions {
		stats.Total++
		switch s.state {
		case Idle:
			stats.Idle++
		case Busy:
			stats.Busy++
		}
	}
	return stats
}

// IDs returns a snapshot of currently attached session ids, for
// HeartbeatLoop iteration.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// StaleIDs returns ids of sessions (regardless of state) whose last_seen
// exceeds staleAfter, for HeartbeatLoop's independent staleness sweep.
func (r *Registry) StaleIDs(staleAfter time.Duration) []string {
	now := time.Now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, s := range r.sessions {
		if now.Sub(s.lastSeen) > staleAfter {
			ids = append(ids, id)
		}
	}
	return ids
}
