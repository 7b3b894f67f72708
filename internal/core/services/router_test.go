package services

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"meshpad/internal/core/domain"
)

func newTestRouter(t *testing.T) (*Router, *CodeSync, *CanvasSync, *ChatSync, *fakeSender) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	sender := &fakeSender{}
	code := NewCodeSync(sender, logger)
	canvas := NewCanvasSync(sender, logger)
	chat := NewChatSync(sender, logger)
	return NewRouter(code, canvas, chat, logger), code, canvas, chat, sender
}

func TestRouter_RoutesToHandlers(t *testing.T) {
	router, code, canvas, chat, _ := newTestRouter(t)

	router.DispatchMessage("peer-2", domain.Message{
		Type:      domain.MessageTypeCodeOperation,
		Operation: &domain.CodeOperation{Insert: "abc"},
	})
	if got := code.Snapshot().Code; got != "abc" {
		t.Errorf("code = %q, want abc", got)
	}

	s := testStroke("s1")
	router.DispatchMessage("peer-2", domain.Message{
		Type:   domain.MessageTypeCanvas,
		Action: domain.CanvasActionStroke,
		Stroke: &s,
	})
	if got := len(canvas.Snapshot().Strokes); got != 1 {
		t.Errorf("strokes = %d, want 1", got)
	}

	router.DispatchMessage("peer-2", domain.Message{
		Type: domain.MessageTypeChat,
		ID:   "m1",
		Text: "hi",
	})
	if got := len(chat.Snapshot().Messages); got != 1 {
		t.Errorf("chat messages = %d, want 1", got)
	}
}

func TestRouter_StateRequestFansOutCodeThenCanvas(t *testing.T) {
	router, code, canvas, _, sender := newTestRouter(t)
	code.SetText("doc")
	canvas.AddStroke(testStroke("s1"))

	router.DispatchMessage("peer-9", domain.Message{Type: domain.MessageTypeStateRequest})

	replies := sender.sentTo("peer-9")
	if len(replies) != 2 {
		t.Fatalf("expected two targeted replies, got %d", len(replies))
	}
	if replies[0].Type != domain.MessageTypeStateSync {
		t.Errorf("first reply = %q, want state-sync", replies[0].Type)
	}
	if replies[1].Type != domain.MessageTypeCanvasSync {
		t.Errorf("second reply = %q, want canvas-sync", replies[1].Type)
	}
}

func TestRouter_UnknownTypeIgnored(t *testing.T) {
	router, code, canvas, chat, sender := newTestRouter(t)

	router.DispatchMessage("peer-2", domain.Message{Type: "holographic-sync"})

	if code.Snapshot().Code != "" || len(canvas.Snapshot().Strokes) != 0 || len(chat.Snapshot().Messages) != 0 {
		t.Error("unknown type must not reach any handler")
	}
	if got := sender.broadcastCount(); got != 0 {
		t.Errorf("unknown type must not trigger traffic, got %d broadcasts", got)
	}
}

func TestRouter_MalformedPayloadDropped(t *testing.T) {
	router, code, _, _, _ := newTestRouter(t)

	router.Dispatch("peer-2", []byte(`{not json`))
	router.Dispatch("peer-2", []byte(``))

	if got := code.Snapshot().Code; got != "" {
		t.Errorf("malformed payloads must be dropped, code = %q", got)
	}
}

func TestRouter_DispatchDecodesWire(t *testing.T) {
	router, code, _, _, _ := newTestRouter(t)

	router.Dispatch("peer-2", []byte(`{"type":"code-operation","operation":[0,"forwarded"],"operationCount":1}`))

	if got := code.Snapshot().Code; got != "forwarded" {
		t.Errorf("code = %q, want forwarded", got)
	}
}

func TestRouter_ExecutionEventsReachCallback(t *testing.T) {
	router, _, _, _, _ := newTestRouter(t)

	var got []domain.Message
	router.OnExecution(func(from domain.PeerID, msg domain.Message) {
		if from != "peer-2" {
			t.Errorf("from = %q, want peer-2", from)
		}
		got = append(got, msg)
	})

	router.DispatchMessage("peer-2", domain.Message{
		Type:      domain.MessageTypeExecutionStart,
		Language:  "python",
		Timestamp: 100,
	})
	exit := 0
	router.DispatchMessage("peer-2", domain.Message{
		Type:     domain.MessageTypeExecutionResult,
		Stdout:   "ok",
		ExitCode: &exit,
	})

	if len(got) != 2 {
		t.Fatalf("expected two execution events, got %d", len(got))
	}
	if got[0].Type != domain.MessageTypeExecutionStart || got[1].Type != domain.MessageTypeExecutionResult {
		t.Errorf("unexpected event order: %q then %q", got[0].Type, got[1].Type)
	}
}

func TestRouter_ExecutionWithoutCallbackIsNoOp(t *testing.T) {
	router, _, _, _, _ := newTestRouter(t)

	// Must not panic with no handler registered.
	router.DispatchMessage("peer-2", domain.Message{Type: domain.MessageTypeExecutionStart})
}
