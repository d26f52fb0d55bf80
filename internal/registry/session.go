// Package registry tracks the set of attached WebSocket clients and their
// lifecycle state.
package registry

import (
	"time"

	"github.com/relaybridge/chatrelay/internal/fingerprint"
)

// State is a ClientSession's lifecycle state.
type State int

const (
	Idle State = iota
	Busy
	Dead
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Socket is the minimal transport surface a ClientSession needs. It is
// satisfied by an adapter around *websocket.Conn in production and by an
// in-memory fake in tests.
type Socket interface {
	WriteText(data []byte) error
	Close(reason string) error
}

// ClientSession is one attached client's tracked state. All field access
// outside of this package must go through Registry, which owns the mutex
// guarding every session's mutable fields.
type ClientSession struct {
	ID                string
	socket            Socket
	state             State
	currentRequestID  string
	lastSeen          time.Time
	createdAt         time.Time
	systemFingerprint *fingerprint.Digest
	toolsFingerprint  *fingerprint.Digest
}

// State returns the session's current lifecycle state.
func (s *ClientSession) State() State { return s.state }

// CurrentRequestID returns the in-flight request id, empty if not Busy.
func (s *ClientSession) CurrentRequestID() string { return s.currentRequestID }

// LastSeen returns the monotonic timestamp of the most recent inbound frame.
func (s *ClientSession) LastSeen() time.Time { return s.lastSeen }

// CreatedAt returns the session's attach time.
func (s *ClientSession) CreatedAt() time.Time { return s.createdAt }

// SystemFingerprint returns the digest of the last system-prompt bundle
// sent on this session, nil if none has been sent yet.
func (s *ClientSession) SystemFingerprint() *fingerprint.Digest { return s.systemFingerprint }

// ToolsFingerprint returns the digest of the last tool catalog sent on
// this session, nil if none has been sent yet.
func (s *ClientSession) ToolsFingerprint() *fingerprint.Digest { return s.toolsFingerprint }

// Socket exposes the session's transport so callers can write frames to it
// outside of the registry lock (writes must never happen while holding
// the registry mutex).
func (s *ClientSession) Socket() Socket { return s.socket }

// Snapshot is an immutable copy of a ClientSession's state, safe to read
// without holding the registry lock.
type Snapshot struct {
	ID       string
	State    State
	LastSeen time.Time
}
