package dispatcher

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relaybridge/chatrelay/internal/registry"
)

type fakeSocket struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeSocket) WriteText([]byte) error { return nil }

func (f *fakeSocket) Close(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestSelectReturnsErrNoClientAvailable(t *testing.T) {
	reg := registry.New(nil)
	d := New(reg, time.Minute, nil)

	if _, err := d.Select("req_1"); !errors.Is(err, ErrNoClientAvailable) {
		t.Fatalf("expected ErrNoClientAvailable, got %v", err)
	}
}

func TestSelectEvictsStaleSessionsEncounteredDuringScan(t *testing.T) {
	reg := registry.New(nil)
	stale := reg.Attach(&fakeSocket{})

	// Let the first session's last_seen fall behind a 1ms connection
	// timeout, then attach a second session so only it is fresh.
	d := New(reg, time.Millisecond, nil)
	time.Sleep(5 * time.Millisecond)
	reg.Attach(&fakeSocket{})

	winner, err := d.Select("req_1")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if winner == nil {
		t.Fatal("expected a winner")
	}
	if _, ok := reg.Get(stale.ID); ok {
		t.Fatal("expected stale session to be evicted from the registry")
	}
}
