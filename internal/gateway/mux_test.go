package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/relaybridge/chatrelay/internal/correlator"
	"github.com/relaybridge/chatrelay/internal/domain"
	"github.com/relaybridge/chatrelay/internal/registry"
)

type fakeSocket struct {
	mu     sync.Mutex
	writes [][]byte
}

func (f *fakeSocket) WriteText(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeSocket) Close(string) error { return nil }

func (f *fakeSocket) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

func newTestHandler() (*Handler, *registry.Registry, *correlator.Correlator) {
	reg := registry.New(nil)
	corr := correlator.New(nil)
	return New(reg, corr, nil, nil), reg, corr
}

func TestHandleFrameUnknownTypeRepliesWithError(t *testing.T) {
	h, reg, _ := newTestHandler()
	sock := &fakeSocket{}
	session := reg.Attach(sock)

	h.handleFrame(session.ID, []byte(`{"type":"mystery"}`))

	var errFrame domain.ErrorFrame
	if err := json.Unmarshal(sock.last(), &errFrame); err != nil {
		t.Fatalf("expected an error frame reply, got decode error: %v", err)
	}
	if errFrame.Type != domain.FrameError {
		t.Fatalf("expected error frame type, got %q", errFrame.Type)
	}
}

func TestHandleFrameCompletionResponseResolvesCorrelator(t *testing.T) {
	h, reg, corr := newTestHandler()
	session := reg.Attach(&fakeSocket{})
	reg.MarkBusy(session.ID, "req_1")
	if err := corr.Register("req_1", session.ID); err != nil {
		t.Fatalf("Register: %v", err)
	}

	payload, _ := json.Marshal(domain.CompletionResponseFrame{
		Type:      domain.FrameCompletionResponse,
		RequestID: "req_1",
		Content:   "<content>hi</content><response_done>",
	})

	done := make(chan any, 1)
	go func() {
		result, _ := corr.Await(context.Background(), "req_1")
		done <- result
	}()

	h.handleFrame(session.ID, payload)

	result := <-done
	resp, ok := result.(domain.CompletionResponseFrame)
	if !ok {
		t.Fatalf("expected CompletionResponseFrame, got %T", result)
	}
	if resp.RequestID != "req_1" {
		t.Fatalf("unexpected request id %q", resp.RequestID)
	}

	s, _ := reg.Get(session.ID)
	if s.State() != registry.Idle {
		t.Fatalf("expected session to return to Idle after an owned reply, got %v", s.State())
	}
}

func TestHandleFrameClientReadyIgnoredWhileBusy(t *testing.T) {
	h, reg, _ := newTestHandler()
	session := reg.Attach(&fakeSocket{})
	reg.MarkBusy(session.ID, "req_1")

	h.handleFrame(session.ID, []byte(`{"type":"client_ready"}`))

	s, _ := reg.Get(session.ID)
	if s.State() != registry.Busy {
		t.Fatalf("client_ready must not interrupt a Busy session, got %v", s.State())
	}
}

func TestHandleFrameCompletionResponseFromNonOwnerDoesNotAffectState(t *testing.T) {
	h, reg, corr := newTestHandler()
	owner := reg.Attach(&fakeSocket{})
	other := reg.Attach(&fakeSocket{})
	reg.MarkBusy(owner.ID, "req_1")
	if err := corr.Register("req_1", owner.ID); err != nil {
		t.Fatalf("Register: %v", err)
	}

	payload, _ := json.Marshal(domain.CompletionResponseFrame{
		Type:      domain.FrameCompletionResponse,
		RequestID: "req_1",
		Content:   "<content>hi</content><response_done>",
	})

	// A reply claiming to answer req_1 but arriving on a socket that does
	// not own it must not flip that socket's own state.
	h.handleFrame(other.ID, payload)

	s, _ := reg.Get(other.ID)
	if s.State() != registry.Idle {
		t.Fatalf("non-owning session state must be untouched, got %v", s.State())
	}
}
