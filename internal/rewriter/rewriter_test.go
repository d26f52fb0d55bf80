package rewriter

import (
	"strings"
	"testing"

	"github.com/relaybridge/chatrelay/internal/domain"
	"github.com/relaybridge/chatrelay/internal/registry"
)

type fakeSocket struct{}

func (fakeSocket) WriteText([]byte) error { return nil }
func (fakeSocket) Close(string) error     { return nil }

func newSession(t *testing.T) (*registry.Registry, *registry.ClientSession) {
	t.Helper()
	r := registry.New(nil)
	return r, r.Attach(fakeSocket{})
}

func TestRewriteKeepsOnlyLastUserMessage(t *testing.T) {
	_, session := newSession(t)
	req := domain.ChatCompletionRequest{
		Model: "relay-gateway",
		Messages: []domain.ChatMessage{
			{Role: "user", Content: "first"},
			{Role: "user", Content: "second"},
		},
	}

	outcome, err := Rewrite(req, "req_1", session)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if len(outcome.Frame.Messages) != 1 || outcome.Frame.Messages[0].Content != "second" {
		t.Fatalf("expected only the last user message to survive, got %+v", outcome.Frame.Messages)
	}
}

func TestRewriteAppendsPreambleOnce(t *testing.T) {
	_, session := newSession(t)
	req := domain.ChatCompletionRequest{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: "S"},
			{Role: "user", Content: "ping"},
		},
	}

	outcome, err := Rewrite(req, "req_1", session)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !outcome.SetSystem {
		t.Fatal("expected system to be sent on first request")
	}
	sysMsg := outcome.Frame.Messages[0]
	if !strings.Contains(sysMsg.Content, responseFormatMarker) {
		t.Fatal("expected preamble to be appended to system content")
	}
	if strings.Count(sysMsg.Content, responseFormatMarker) != 1 {
		t.Fatal("expected exactly one RESPONSE FORMAT marker")
	}
}

func TestRewriteSkipsPreambleIfMarkerPresent(t *testing.T) {
	_, session := newSession(t)
	req := domain.ChatCompletionRequest{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: "S\n\nRESPONSE FORMAT already here"},
			{Role: "user", Content: "ping"},
		},
	}

	outcome, err := Rewrite(req, "req_1", session)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if strings.Count(outcome.Frame.Messages[0].Content, responseFormatMarker) != 1 {
		t.Fatal("expected marker to remain unduplicated")
	}
}

// TestFingerprintIdempotence exercises P4 / scenario 2: sending the same
// system message three times to the same session transmits it exactly
// once.
func TestFingerprintIdempotence(t *testing.T) {
	reg, session := newSession(t)
	req := domain.ChatCompletionRequest{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: "S"},
			{Role: "user", Content: "ping"},
		},
	}

	sentCount := 0
	for i := 0; i < 3; i++ {
		outcome, err := Rewrite(req, "req_x", session)
		if err != nil {
			t.Fatalf("Rewrite #%d: %v", i, err)
		}
		if outcome.SetSystem {
			sentCount++
		}
		reg.UpdateFingerprints(session.ID, outcome.SystemDigest, outcome.ToolsDigest, outcome.SetSystem, outcome.SetTools)
	}

	if sentCount != 1 {
		t.Fatalf("expected exactly 1 transmission of unchanged system content, got %d", sentCount)
	}
}

// TestToolCatalogChangeDetection exercises scenario 3: tools appear in
// request #1 and #3, are absent in #2 (T1, T1, T2).
func TestToolCatalogChangeDetection(t *testing.T) {
	reg, session := newSession(t)
	t1 := []domain.Tool{{Type: "function", Function: domain.FunctionDescriptor{Name: "t1"}}}
	t2 := []domain.Tool{{Type: "function", Function: domain.FunctionDescriptor{Name: "t2"}}}

	baseReq := func(tools []domain.Tool) domain.ChatCompletionRequest {
		return domain.ChatCompletionRequest{
			Messages: []domain.ChatMessage{{Role: "user", Content: "ping"}},
			Tools:    tools,
		}
	}

	var sent []bool
	for _, tools := range [][]domain.Tool{t1, t1, t2} {
		outcome, err := Rewrite(baseReq(tools), "req_x", session)
		if err != nil {
			t.Fatalf("Rewrite: %v", err)
		}
		sent = append(sent, outcome.SetTools)
		reg.UpdateFingerprints(session.ID, outcome.SystemDigest, outcome.ToolsDigest, outcome.SetSystem, outcome.SetTools)
	}

	if !sent[0] || sent[1] || !sent[2] {
		t.Fatalf("expected tools sent pattern [true false true], got %v", sent)
	}
}
