package services

import (
	"sync"

	"go.uber.org/zap"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"
)

const defaultLanguage = "javascript"

// CodeSync keeps the shared code document consistent across peers. It
// owns the document text, the language, diagnostic operation counters,
// and the per-peer cursor map. Inbound messages arrive through Handle;
// local edits go through the Local* methods, which broadcast to the
// mesh and bump the local counter.
type CodeSync struct {
	mu sync.Mutex

	code      string
	language  string
	localOps  int
	remoteOps int
	cursors   map[domain.PeerID]domain.CursorInfo

	localPeerID domain.PeerID
	localName   string

	sender ports.MessageSender
	subs   subscription[domain.CodeSnapshot]
	logger *zap.SugaredLogger
}

func NewCodeSync(sender ports.MessageSender, logger *zap.SugaredLogger) *CodeSync {
	return &CodeSync{
		language: defaultLanguage,
		cursors:  make(map[domain.PeerID]domain.CursorInfo),
		sender:   sender,
		logger:   logger,
	}
}

// SetLocalIdentity records who local cursor broadcasts should be
// attributed to.
func (c *CodeSync) SetLocalIdentity(peerID domain.PeerID, name string) {
	c.mu.Lock()
	c.localPeerID = peerID
	c.localName = name
	c.mu.Unlock()
}

func (c *CodeSync) Subscribe(fn func(domain.CodeSnapshot)) int {
	return c.subs.add(fn)
}

func (c *CodeSync) Unsubscribe(id int) {
	c.subs.remove(id)
}

func (c *CodeSync) Snapshot() domain.CodeSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *CodeSync) snapshotLocked() domain.CodeSnapshot {
	cursors := make([]domain.CursorInfo, 0, len(c.cursors))
	for _, cur := range c.cursors {
		cursors = append(cursors, cur)
	}
	return domain.CodeSnapshot{
		Code:             c.code,
		Language:         c.language,
		LocalOperations:  c.localOps,
		RemoteOperations: c.remoteOps,
		Cursors:          cursors,
	}
}

// Handle applies one inbound message. Unknown or malformed content is
// dropped silently; nothing here returns an error to the router.
func (c *CodeSync) Handle(from domain.PeerID, msg domain.Message) {
	switch msg.Type {
	case domain.MessageTypeCodeOperation:
		if msg.Operation == nil {
			return
		}
		c.mu.Lock()
		c.code = msg.Operation.Apply(c.code)
		c.remoteOps++
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.subs.notify(snap)

	case domain.MessageTypeCode, domain.MessageTypeStateSync:
		if msg.Code == nil {
			return
		}
		c.mu.Lock()
		c.code = *msg.Code
		if msg.Language != "" {
			c.language = msg.Language
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.subs.notify(snap)

	case domain.MessageTypeCursor:
		if msg.Position == nil || msg.PeerID == "" {
			return
		}
		c.mu.Lock()
		peer := domain.PeerID(msg.PeerID)
		c.cursors[peer] = domain.CursorInfo{
			PeerID:   peer,
			Position: *msg.Position,
			Name:     msg.Name,
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.subs.notify(snap)

	case domain.MessageTypeLanguage:
		if msg.Language == "" {
			return
		}
		c.mu.Lock()
		c.language = msg.Language
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.subs.notify(snap)

	case domain.MessageTypeStateRequest:
		c.mu.Lock()
		reply := domain.NewStateSyncMessage(c.code, c.language)
		c.mu.Unlock()
		if !c.sender.SendTo(from, reply) {
			c.sender.Broadcast(reply)
		}
	}
}

// ApplyLocal applies a local edit and broadcasts it. Returns false
// when no peer accepted the message (still applied locally).
func (c *CodeSync) ApplyLocal(op domain.CodeOperation) bool {
	c.mu.Lock()
	c.code = op.Apply(c.code)
	c.localOps++
	count := c.localOps
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.subs.notify(snap)
	return c.sender.Broadcast(domain.NewCodeOperationMessage(op, count))
}

// SetText replaces the whole document, broadcasting a wholesale code
// message. Used for local loads and pastes where an incremental
// operation would be meaningless.
func (c *CodeSync) SetText(code string) bool {
	c.mu.Lock()
	c.code = code
	c.localOps++
	language := c.language
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.subs.notify(snap)
	return c.sender.Broadcast(domain.NewCodeMessage(code, language))
}

func (c *CodeSync) SetLanguage(language string) bool {
	if language == "" {
		return false
	}
	c.mu.Lock()
	c.language = language
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.subs.notify(snap)
	return c.sender.Broadcast(domain.NewLanguageMessage(language))
}

// MoveCursor broadcasts the local caret position.
func (c *CodeSync) MoveCursor(position int) bool {
	c.mu.Lock()
	peerID := c.localPeerID
	name := c.localName
	c.mu.Unlock()

	if peerID == "" {
		return false
	}
	return c.sender.Broadcast(domain.NewCursorMessage(peerID, position, name))
}

// PeerLeft drops the departed peer's cursor.
func (c *CodeSync) PeerLeft(peerID domain.PeerID) {
	c.mu.Lock()
	if _, ok := c.cursors[peerID]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.cursors, peerID)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.subs.notify(snap)
}

// Reset returns the document to its initial state.
func (c *CodeSync) Reset() {
	c.mu.Lock()
	c.code = ""
	c.language = defaultLanguage
	c.localOps = 0
	c.remoteOps = 0
	c.cursors = make(map[domain.PeerID]domain.CursorInfo)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.subs.notify(snap)
}
