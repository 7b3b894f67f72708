package services

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"meshpad/internal/core/domain"
)

// Router dispatches inbound data-channel payloads to the sync
// handlers. Within one peer link, dispatch preserves transport arrival
// order, including when a single message fans out to more than one
// handler. Unknown types are a deliberate no-op so newer peers can
// speak to older ones.
type Router struct {
	code   *CodeSync
	canvas *CanvasSync
	chat   *ChatSync
	logger *zap.SugaredLogger

	mu          sync.Mutex
	onExecution func(from domain.PeerID, msg domain.Message)
}

func NewRouter(code *CodeSync, canvas *CanvasSync, chat *ChatSync, logger *zap.SugaredLogger) *Router {
	return &Router{
		code:   code,
		canvas: canvas,
		chat:   chat,
		logger: logger,
	}
}

// OnExecution registers the handler for peer execution events.
func (r *Router) OnExecution(fn func(from domain.PeerID, msg domain.Message)) {
	r.mu.Lock()
	r.onExecution = fn
	r.mu.Unlock()
}

// Dispatch decodes raw channel bytes and routes the message. Malformed
// payloads are dropped without surfacing an error; a broken message
// from one peer must never take down the session.
func (r *Router) Dispatch(from domain.PeerID, data []byte) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		if r.logger != nil {
			r.logger.Debugw("dropping malformed channel payload",
				"from", from,
				"error", err,
			)
		}
		return
	}
	r.DispatchMessage(from, msg)
}

// DispatchMessage routes one decoded message to its handlers.
func (r *Router) DispatchMessage(from domain.PeerID, msg domain.Message) {
	switch msg.Type {
	case domain.MessageTypeCodeOperation,
		domain.MessageTypeCode,
		domain.MessageTypeStateSync,
		domain.MessageTypeCursor,
		domain.MessageTypeLanguage:
		r.code.Handle(from, msg)

	case domain.MessageTypeStateRequest:
		// Fans out: both handlers reply with their own sync.
		r.code.Handle(from, msg)
		r.canvas.Handle(from, msg)

	case domain.MessageTypeCanvas,
		domain.MessageTypeCanvasView,
		domain.MessageTypeCanvasClear,
		domain.MessageTypeCanvasSync:
		r.canvas.Handle(from, msg)

	case domain.MessageTypeChat,
		domain.MessageTypeChatAck:
		r.chat.Handle(from, msg)

	case domain.MessageTypeExecutionStart,
		domain.MessageTypeExecutionResult:
		r.mu.Lock()
		fn := r.onExecution
		r.mu.Unlock()
		if fn != nil {
			fn(from, msg)
		}

	default:
		// Unknown types are ignored on purpose; future message kinds
		// must not break old peers.
	}
}
