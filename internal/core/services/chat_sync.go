package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"
)

// ChatSync owns the chat log, the dedup window, and acknowledgment
// tracking. Outbound messages are recorded optimistically before any
// peer confirms them; inbound duplicates arriving over alternate mesh
// paths are dropped silently.
type ChatSync struct {
	mu sync.Mutex

	messages  []domain.ChatMessage
	indexByID map[string]int
	window    *DedupWindow

	localName string

	sender ports.MessageSender
	subs   subscription[domain.ChatSnapshot]
	logger *zap.SugaredLogger

	now func() time.Time
}

func NewChatSync(sender ports.MessageSender, logger *zap.SugaredLogger) *ChatSync {
	return &ChatSync{
		indexByID: make(map[string]int),
		window:    NewDedupWindow(),
		localName: "anonymous",
		sender:    sender,
		logger:    logger,
		now:       time.Now,
	}
}

func (c *ChatSync) SetLocalName(name string) {
	c.mu.Lock()
	if name != "" {
		c.localName = name
	}
	c.mu.Unlock()
}

func (c *ChatSync) Subscribe(fn func(domain.ChatSnapshot)) int {
	return c.subs.add(fn)
}

func (c *ChatSync) Unsubscribe(id int) {
	c.subs.remove(id)
}

func (c *ChatSync) Snapshot() domain.ChatSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *ChatSync) snapshotLocked() domain.ChatSnapshot {
	messages := make([]domain.ChatMessage, len(c.messages))
	copy(messages, c.messages)
	return domain.ChatSnapshot{
		Messages:   messages,
		SeenWindow: c.window.Len(),
	}
}

// SendMessage records the message locally with a fresh id and
// broadcasts it. The id enters the dedup window immediately so a mesh
// echo of our own message can never duplicate it.
func (c *ChatSync) SendMessage(text string) (domain.ChatMessage, bool) {
	if text == "" {
		return domain.ChatMessage{}, false
	}

	c.mu.Lock()
	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    c.localName,
		Timestamp: c.now().UnixMilli(),
		Local:     true,
	}
	c.window.Add(msg.ID)
	c.indexByID[msg.ID] = len(c.messages)
	c.messages = append(c.messages, msg)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.subs.notify(snap)
	sent := c.sender.Broadcast(domain.NewChatMessageEnvelope(msg.ID, msg.Text, msg.Sender, msg.Timestamp))
	return msg, sent
}

// Handle applies one inbound chat or ack message.
func (c *ChatSync) Handle(from domain.PeerID, msg domain.Message) {
	switch msg.Type {
	case domain.MessageTypeChat:
		c.handleInbound(from, msg)
	case domain.MessageTypeChatAck:
		c.handleAck(msg.MessageID)
	}
}

func (c *ChatSync) handleInbound(from domain.PeerID, msg domain.Message) {
	if msg.ID == "" {
		return
	}

	c.mu.Lock()
	if !c.window.Add(msg.ID) {
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Debugw("dropping duplicate chat message", "message_id", msg.ID, "from", from)
		}
		return
	}
	c.indexByID[msg.ID] = len(c.messages)
	c.messages = append(c.messages, domain.ChatMessage{
		ID:        msg.ID,
		Text:      msg.Text,
		Sender:    msg.Sender,
		Timestamp: msg.Timestamp,
	})
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.subs.notify(snap)
	// Confirm receipt along the path the message arrived by.
	if !c.sender.SendTo(from, domain.NewChatAckMessage(msg.ID)) {
		c.sender.Broadcast(domain.NewChatAckMessage(msg.ID))
	}
}

func (c *ChatSync) handleAck(messageID string) {
	if messageID == "" {
		return
	}

	c.mu.Lock()
	idx, ok := c.indexByID[messageID]
	if !ok || idx >= len(c.messages) || c.messages[idx].Acked {
		c.mu.Unlock()
		return
	}
	c.messages[idx].Acked = true
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.subs.notify(snap)
}

// PendingAcks counts locally sent messages no peer has confirmed yet.
func (c *ChatSync) PendingAcks() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := 0
	for _, m := range c.messages {
		if m.Local && !m.Acked {
			pending++
		}
	}
	return pending
}

func (c *ChatSync) Reset() {
	c.mu.Lock()
	c.messages = nil
	c.indexByID = make(map[string]int)
	c.window.Reset()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.subs.notify(snap)
}
