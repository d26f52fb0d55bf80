// Package correlator matches in-flight request ids to their eventual
// reply, reconciling an asynchronous socket reply with a synchronous HTTP
// caller.
package correlator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrDuplicateRequestID is returned by Register if the id is already
// pending.
var ErrDuplicateRequestID = errors.New("duplicate request id")

// ErrTimeout is returned by Await when the deadline elapses first.
var ErrTimeout = errors.New("correlator: timeout")

// Result is what a PendingRequest eventually resolves to.
type Result struct {
	Payload any
	Err     error
}

// ClientGoneError is the reason reported to a PendingRequest whose owning
// session was detached (disconnect, heartbeat timeout, or send failure)
// before a reply arrived.
type ClientGoneError struct{ Reason string }

func (e ClientGoneError) Error() string { return "client_gone: " + e.Reason }

// ReportedError wraps an error object a client embedded directly in its
// completion_response frame.
type ReportedError struct{ Message string }

func (e ReportedError) Error() string { return e.Message }

type pendingRequest struct {
	requestID string
	clientID  string
	done      chan Result
	resolved  bool // a Result has been sent on done
}

// Correlator maps request ids to one-shot completion waiters.
//
// Its mutex is smaller in scope than, and always acquired before, the
// registry mutex if both were ever needed together; in this implementation
// no code path holds both at once, so the ordering constraint holds
// vacuously.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	log     *slog.Logger
}

// New constructs an empty Correlator.
func New(log *slog.Logger) *Correlator {
	if log == nil {
		log = slog.Default()
	}
	return &Correlator{pending: make(map[string]*pendingRequest), log: log}
}

// NewRequestID generates the spec-mandated "req_" + 8 hex char id.
func NewRequestID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate request id: %w", err)
	}
	return "req_" + hex.EncodeToString(buf), nil
}

// Register inserts a new pending request. It must be called before the
// corresponding frame is written to the client's socket, so that a reply
// can never arrive before its waiter exists.
func (c *Correlator) Register(requestID, clientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[requestID]; exists {
		return ErrDuplicateRequestID
	}
	c.pending[requestID] = &pendingRequest{
		requestID: requestID,
		clientID:  clientID,
		done:      make(chan Result, 1),
	}
	return nil
}

// Resolve delivers payload as the reply for requestID. If the id is not
// currently pending (already resolved, timed out, or unknown), the reply
// is logged and dropped. It returns the client id that owned the request
// and whether the resolution actually matched a pending entry — callers
// must only act on the owning session (e.g. mark it idle again) once
// matched is true, never on the basis of a prior, possibly-stale lookup.
func (c *Correlator) Resolve(requestID string, payload any) (clientID string, matched bool) {
	return c.resolve(requestID, Result{Payload: payload})
}

// Fail delivers err as the terminal outcome for requestID. See Resolve for
// the meaning of the return values.
func (c *Correlator) Fail(requestID string, err error) (clientID string, matched bool) {
	return c.resolve(requestID, Result{Err: err})
}

func (c *Correlator) resolve(requestID string, result Result) (string, bool) {
	c.mu.Lock()
	pr, ok := c.pending[requestID]
	if ok && pr.resolved {
		ok = false
	}
	if ok {
		// The entry stays until Await collects the result, so a reply that
		// arrives before Await is called is still delivered.
		pr.resolved = true
	}
	c.mu.Unlock()

	if !ok {
		c.log.Warn("late or unknown reply discarded", "request_id", requestID)
		return "", false
	}
	pr.done <- result
	return pr.clientID, true
}

// Await blocks until requestID is resolved or ctx is done, whichever comes
// first; a result delivered before Await was called is returned at once.
// Either way it removes the entry, so on timeout/cancellation a subsequent
// late reply is discarded rather than delivered to a waiter no one is
// listening on.
func (c *Correlator) Await(ctx context.Context, requestID string) (any, error) {
	c.mu.Lock()
	pr, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("await: unknown request id %q", requestID)
	}

	select {
	case result := <-pr.done:
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Payload, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return nil, ErrTimeout
	}
}

// AwaitWithDeadline is a convenience wrapper building a context from an
// absolute deadline.
func (c *Correlator) AwaitWithDeadline(deadline time.Time, requestID string) (any, error) {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	return c.Await(ctx, requestID)
}

// Pending returns the count of currently outstanding (not yet resolved)
// requests, for stats.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, pr := range c.pending {
		if !pr.resolved {
			n++
		}
	}
	return n
}
