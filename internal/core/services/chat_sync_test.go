package services

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"meshpad/internal/core/domain"
)

func newTestChatSync(t *testing.T) (*ChatSync, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	cs := NewChatSync(sender, zaptest.NewLogger(t).Sugar())
	return cs, sender
}

func TestChatSync_SendMessageOptimistic(t *testing.T) {
	cs, sender := newTestChatSync(t)
	cs.SetLocalName("Alice")

	msg, sent := cs.SendMessage("hi there")
	if !sent {
		t.Fatal("SendMessage reported delivery failure")
	}
	if msg.ID == "" {
		t.Error("expected a generated message id")
	}
	if !msg.Local || msg.Acked {
		t.Errorf("expected local unacked message, got %+v", msg)
	}
	if msg.Sender != "Alice" {
		t.Errorf("sender = %q, want Alice", msg.Sender)
	}

	snap := cs.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].Text != "hi there" {
		t.Errorf("expected the message recorded before any confirmation, got %+v", snap.Messages)
	}

	out, ok := sender.lastBroadcast()
	if !ok || out.Type != domain.MessageTypeChat {
		t.Fatalf("expected chat broadcast, got %+v", out)
	}
	if out.ID != msg.ID || out.Text != "hi there" || out.Sender != "Alice" {
		t.Errorf("broadcast payload mismatch: %+v", out)
	}
	if out.Timestamp == 0 {
		t.Error("broadcast timestamp missing")
	}
}

func TestChatSync_SendMessageRejectsEmpty(t *testing.T) {
	cs, sender := newTestChatSync(t)

	if _, sent := cs.SendMessage(""); sent {
		t.Error("expected empty text rejected")
	}
	if got := sender.broadcastCount(); got != 0 {
		t.Errorf("expected no broadcast, got %d", got)
	}
}

func TestChatSync_OwnEchoNeverDuplicates(t *testing.T) {
	cs, sender := newTestChatSync(t)

	msg, _ := cs.SendMessage("hello")

	// The mesh can route our own broadcast back at us.
	cs.Handle("peer-2", domain.Message{
		Type:      domain.MessageTypeChat,
		ID:        msg.ID,
		Text:      "hello",
		Sender:    "anonymous",
		Timestamp: msg.Timestamp,
	})

	snap := cs.Snapshot()
	if len(snap.Messages) != 1 {
		t.Errorf("expected one message, got %d", len(snap.Messages))
	}
	if got := sender.sentTo("peer-2"); len(got) != 0 {
		t.Errorf("an echo of our own message must not be acked, got %+v", got)
	}
}

func TestChatSync_DuplicateInboundDropped(t *testing.T) {
	cs, sender := newTestChatSync(t)

	first := domain.Message{
		Type:      domain.MessageTypeChat,
		ID:        "m1",
		Text:      "First",
		Sender:    "Bob",
		Timestamp: 1000,
	}
	cs.Handle("peer-2", first)

	// Same id via another mesh path, contents differing.
	second := first
	second.Text = "First!"
	cs.Handle("peer-3", second)

	snap := cs.Snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(snap.Messages))
	}
	if snap.Messages[0].Text != "First" {
		t.Errorf("first occurrence must win, got %q", snap.Messages[0].Text)
	}

	if got := sender.sentTo("peer-2"); len(got) != 1 {
		t.Errorf("expected one ack to the first path, got %d", len(got))
	}
	if got := sender.sentTo("peer-3"); len(got) != 0 {
		t.Errorf("duplicate must not be acked, got %d", len(got))
	}
}

func TestChatSync_FirstSeenInboundAcksSender(t *testing.T) {
	cs, sender := newTestChatSync(t)

	cs.Handle("peer-2", domain.Message{
		Type:      domain.MessageTypeChat,
		ID:        "m42",
		Text:      "ping",
		Sender:    "Bob",
		Timestamp: 5,
	})

	acks := sender.sentTo("peer-2")
	if len(acks) != 1 {
		t.Fatalf("expected one ack, got %d", len(acks))
	}
	if acks[0].Type != domain.MessageTypeChatAck || acks[0].MessageID != "m42" {
		t.Errorf("unexpected ack: %+v", acks[0])
	}
}

func TestChatSync_AckFallsBackToBroadcast(t *testing.T) {
	cs, sender := newTestChatSync(t)
	sender.failSendTo = true

	cs.Handle("peer-2", domain.Message{
		Type: domain.MessageTypeChat,
		ID:   "m1",
		Text: "x",
	})

	acks := sender.broadcastsOfType(domain.MessageTypeChatAck)
	if len(acks) != 1 || acks[0].MessageID != "m1" {
		t.Errorf("expected broadcast ack fallback, got %+v", acks)
	}
}

func TestChatSync_AckMarksExactlyOnce(t *testing.T) {
	cs, _ := newTestChatSync(t)
	msg, _ := cs.SendMessage("confirm me")

	notifications := 0
	cs.Subscribe(func(domain.ChatSnapshot) { notifications++ })

	cs.Handle("peer-2", domain.Message{Type: domain.MessageTypeChatAck, MessageID: msg.ID})
	if got := cs.Snapshot().Messages[0]; !got.Acked {
		t.Fatal("expected message acked")
	}
	if notifications != 1 {
		t.Fatalf("expected one notification, got %d", notifications)
	}

	// A second confirmation from another peer changes nothing.
	cs.Handle("peer-3", domain.Message{Type: domain.MessageTypeChatAck, MessageID: msg.ID})
	if notifications != 1 {
		t.Errorf("repeat ack must not notify, got %d", notifications)
	}
}

func TestChatSync_AckForUnknownIDIgnored(t *testing.T) {
	cs, _ := newTestChatSync(t)

	cs.Handle("peer-2", domain.Message{Type: domain.MessageTypeChatAck, MessageID: "ghost"})
	cs.Handle("peer-2", domain.Message{Type: domain.MessageTypeChatAck})

	if got := len(cs.Snapshot().Messages); got != 0 {
		t.Errorf("expected no messages, got %d", got)
	}
}

func TestChatSync_InboundWithoutIDIgnored(t *testing.T) {
	cs, _ := newTestChatSync(t)

	cs.Handle("peer-2", domain.Message{Type: domain.MessageTypeChat, Text: "no id"})

	if got := len(cs.Snapshot().Messages); got != 0 {
		t.Errorf("expected message without id dropped, got %d", got)
	}
}

func TestChatSync_PendingAcks(t *testing.T) {
	cs, _ := newTestChatSync(t)

	first, _ := cs.SendMessage("one")
	cs.SendMessage("two")
	cs.Handle("peer-2", domain.Message{Type: domain.MessageTypeChat, ID: "r1", Text: "theirs"})

	if got := cs.PendingAcks(); got != 2 {
		t.Fatalf("pending acks = %d, want 2", got)
	}

	cs.Handle("peer-2", domain.Message{Type: domain.MessageTypeChatAck, MessageID: first.ID})
	if got := cs.PendingAcks(); got != 1 {
		t.Errorf("pending acks = %d, want 1", got)
	}
}

func TestChatSync_Reset(t *testing.T) {
	cs, _ := newTestChatSync(t)
	cs.SendMessage("gone")
	cs.Handle("peer-2", domain.Message{Type: domain.MessageTypeChat, ID: "r1", Text: "also gone"})

	cs.Reset()

	snap := cs.Snapshot()
	if len(snap.Messages) != 0 || snap.SeenWindow != 0 {
		t.Errorf("expected empty log and window, got %+v", snap)
	}

	// Previously seen ids are acceptable again after a reset.
	cs.Handle("peer-2", domain.Message{Type: domain.MessageTypeChat, ID: "r1", Text: "fresh"})
	if got := len(cs.Snapshot().Messages); got != 1 {
		t.Errorf("expected id accepted after reset, got %d messages", got)
	}
}
