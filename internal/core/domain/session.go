package domain

// SignalingSession is the local participant's rendezvous identity. One
// instance per participant regardless of how many peer links exist.
type SignalingSession struct {
	ServerURL   string
	SessionID   SessionID
	PeerID      PeerID
	DisplayName string
	IsHost      bool
	Connected   bool
}

// CodeSnapshot is the code store's read snapshot.
type CodeSnapshot struct {
	Code             string
	Language         string
	LocalOperations  int
	RemoteOperations int
	Cursors          []CursorInfo
}

// CanvasSnapshot is the canvas store's read snapshot.
type CanvasSnapshot struct {
	Strokes   []Stroke
	Zoom      float64
	PanOffset PanOffset
	CanUndo   bool
	CanRedo   bool
}

// ChatSnapshot is the chat store's read snapshot.
type ChatSnapshot struct {
	Messages   []ChatMessage
	SeenWindow int
}

// DiagnosticsSnapshot bundles every read-only view the orchestrator
// exposes for inspection.
type DiagnosticsSnapshot struct {
	Session SignalingSession
	Links   []PeerLinkInfo
	Code    CodeSnapshot
	Canvas  CanvasSnapshot
	Chat    ChatSnapshot
}
