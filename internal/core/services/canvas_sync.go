package services

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"
)

// liveDrawRate bounds live-drawing broadcasts; intermediate frames are
// droppable because only the latest preview matters.
const liveDrawRate = 20

const defaultZoom = 1.0

// RemoteViewport is another peer's advertised view. Kept for display
// only; it never feeds back into the local viewport.
type RemoteViewport struct {
	Zoom float64
	Pan  domain.PanOffset
}

// CanvasSync keeps the shared stroke list consistent. Strokes are
// append-only on the wire: local adds go out incrementally, while any
// local removal or in-place edit goes out as a full canvas-sync. The
// local viewport is broadcast but never overwritten by remote
// broadcasts, so each peer pans and zooms independently.
type CanvasSync struct {
	mu sync.Mutex

	strokes      []domain.Stroke
	zoom         float64
	pan          domain.PanOffset
	liveDrawings map[domain.PeerID]json.RawMessage
	remoteViews  map[domain.PeerID]RemoteViewport
	history      *CanvasHistory

	sender      ports.MessageSender
	liveLimiter *rate.Limiter
	subs        subscription[domain.CanvasSnapshot]
	logger      *zap.SugaredLogger
}

func NewCanvasSync(sender ports.MessageSender, logger *zap.SugaredLogger) *CanvasSync {
	return &CanvasSync{
		zoom:         defaultZoom,
		liveDrawings: make(map[domain.PeerID]json.RawMessage),
		remoteViews:  make(map[domain.PeerID]RemoteViewport),
		history:      NewCanvasHistory(),
		sender:       sender,
		liveLimiter:  rate.NewLimiter(rate.Limit(liveDrawRate), liveDrawRate),
		logger:       logger,
	}
}

func (c *CanvasSync) Subscribe(fn func(domain.CanvasSnapshot)) int {
	return c.subs.add(fn)
}

func (c *CanvasSync) Unsubscribe(id int) {
	c.subs.remove(id)
}

func (c *CanvasSync) Snapshot() domain.CanvasSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *CanvasSync) snapshotLocked() domain.CanvasSnapshot {
	return domain.CanvasSnapshot{
		Strokes:   domain.CloneStrokes(c.strokes),
		Zoom:      c.zoom,
		PanOffset: c.pan,
		CanUndo:   c.history.CanUndo(),
		CanRedo:   c.history.CanRedo(),
	}
}

// Handle applies one inbound message. Malformed content degrades to a
// no-op; remote viewport broadcasts never touch local strokes or the
// local viewport.
func (c *CanvasSync) Handle(from domain.PeerID, msg domain.Message) {
	switch msg.Type {
	case domain.MessageTypeCanvas:
		c.handleCanvas(from, msg)

	case domain.MessageTypeCanvasView:
		if msg.Zoom == nil || msg.PanOffset == nil {
			return
		}
		c.mu.Lock()
		c.remoteViews[from] = RemoteViewport{Zoom: *msg.Zoom, Pan: *msg.PanOffset}
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.subs.notify(snap)

	case domain.MessageTypeCanvasClear:
		c.mu.Lock()
		c.strokes = nil
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.subs.notify(snap)

	case domain.MessageTypeCanvasSync:
		c.mu.Lock()
		c.strokes = domain.CloneStrokes(msg.Strokes)
		if msg.Zoom != nil {
			c.zoom = *msg.Zoom
		}
		if msg.PanOffset != nil {
			c.pan = *msg.PanOffset
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.subs.notify(snap)

	case domain.MessageTypeStateRequest:
		c.mu.Lock()
		zoom := c.zoom
		pan := c.pan
		reply := domain.NewCanvasSyncMessage(domain.CloneStrokes(c.strokes), &zoom, &pan)
		c.mu.Unlock()
		if !c.sender.SendTo(from, reply) {
			c.sender.Broadcast(reply)
		}
	}
}

func (c *CanvasSync) handleCanvas(from domain.PeerID, msg domain.Message) {
	switch msg.Action {
	case domain.CanvasActionStroke:
		if msg.Stroke == nil {
			return
		}
		c.mu.Lock()
		c.strokes = append(c.strokes, msg.Stroke.Clone())
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.subs.notify(snap)

	case domain.CanvasActionDrawing:
		peer := from
		if msg.PeerID != "" {
			peer = domain.PeerID(msg.PeerID)
		}
		c.mu.Lock()
		c.liveDrawings[peer] = msg.Data
		c.mu.Unlock()
	}
}

// AddStroke appends a locally drawn stroke and broadcasts it
// incrementally. The pre-change state is snapshotted for undo.
func (c *CanvasSync) AddStroke(stroke domain.Stroke) bool {
	c.mu.Lock()
	c.history.Push(c.strokes)
	c.strokes = append(c.strokes, stroke.Clone())
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.subs.notify(snap)
	return c.sender.Broadcast(domain.NewStrokeMessage(stroke))
}

// UpdateStroke edits a stroke in place, for example attaching a text
// label. Edits of already-shared strokes go out as a full resync.
func (c *CanvasSync) UpdateStroke(stroke domain.Stroke) bool {
	c.mu.Lock()
	found := false
	for i := range c.strokes {
		if c.strokes[i].ID == stroke.ID {
			c.history.Push(c.strokes)
			c.strokes[i] = stroke.Clone()
			found = true
			break
		}
	}
	if !found {
		c.mu.Unlock()
		return false
	}
	snap := c.snapshotLocked()
	resync := c.syncMessageLocked()
	c.mu.Unlock()

	c.subs.notify(snap)
	return c.sender.Broadcast(resync)
}

// RemoveStroke deletes one stroke locally and resyncs the full list,
// since removal cannot be expressed incrementally.
func (c *CanvasSync) RemoveStroke(id string) bool {
	c.mu.Lock()
	idx := -1
	for i := range c.strokes {
		if c.strokes[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		c.mu.Unlock()
		return false
	}
	c.history.Push(c.strokes)
	c.strokes = append(c.strokes[:idx], c.strokes[idx+1:]...)
	snap := c.snapshotLocked()
	resync := c.syncMessageLocked()
	c.mu.Unlock()

	c.subs.notify(snap)
	return c.sender.Broadcast(resync)
}

// Undo restores the previous local snapshot and resyncs peers with the
// resulting state.
func (c *CanvasSync) Undo() bool {
	c.mu.Lock()
	restored, ok := c.history.Undo(c.strokes)
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.strokes = restored
	snap := c.snapshotLocked()
	resync := c.syncMessageLocked()
	c.mu.Unlock()

	c.subs.notify(snap)
	c.sender.Broadcast(resync)
	return true
}

func (c *CanvasSync) Redo() bool {
	c.mu.Lock()
	restored, ok := c.history.Redo(c.strokes)
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.strokes = restored
	snap := c.snapshotLocked()
	resync := c.syncMessageLocked()
	c.mu.Unlock()

	c.subs.notify(snap)
	c.sender.Broadcast(resync)
	return true
}

// Clear empties the local canvas and forwards the clear verbatim.
func (c *CanvasSync) Clear() bool {
	c.mu.Lock()
	c.history.Push(c.strokes)
	c.strokes = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.subs.notify(snap)
	return c.sender.Broadcast(domain.NewCanvasClearMessage())
}

// SetViewport moves the local view and advertises it. Remote peers
// record the advertisement without adopting it.
func (c *CanvasSync) SetViewport(zoom float64, pan domain.PanOffset) bool {
	c.mu.Lock()
	c.zoom = zoom
	c.pan = pan
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.subs.notify(snap)
	return c.sender.Broadcast(domain.NewCanvasViewMessage(zoom, pan))
}

// LiveDraw broadcasts an in-progress drawing preview, rate limited;
// dropped frames are fine because each one supersedes the last.
func (c *CanvasSync) LiveDraw(peerID domain.PeerID, data json.RawMessage) bool {
	if !c.liveLimiter.Allow() {
		return false
	}
	return c.sender.Broadcast(domain.NewLiveDrawingMessage(peerID, data))
}

func (c *CanvasSync) RemoteViewport(peerID domain.PeerID) (RemoteViewport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.remoteViews[peerID]
	return v, ok
}

func (c *CanvasSync) LiveDrawing(peerID domain.PeerID) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.liveDrawings[peerID]
	return d, ok
}

// PeerLeft forgets the departed peer's ephemeral live drawing and
// viewport. Its committed strokes stay.
func (c *CanvasSync) PeerLeft(peerID domain.PeerID) {
	c.mu.Lock()
	delete(c.liveDrawings, peerID)
	delete(c.remoteViews, peerID)
	c.mu.Unlock()
}

func (c *CanvasSync) Reset() {
	c.mu.Lock()
	c.strokes = nil
	c.zoom = defaultZoom
	c.pan = domain.PanOffset{}
	c.liveDrawings = make(map[domain.PeerID]json.RawMessage)
	c.remoteViews = make(map[domain.PeerID]RemoteViewport)
	c.history.Reset()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.subs.notify(snap)
}

// syncMessageLocked builds a full-list resync without viewport fields,
// so a resync never disturbs remote viewports.
func (c *CanvasSync) syncMessageLocked() domain.Message {
	return domain.NewCanvasSyncMessage(domain.CloneStrokes(c.strokes), nil, nil)
}
