package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType discriminates the data-channel payload union. Every value
// carried over an open peer channel is a Message tagged with one of
// these. Unknown types are ignored by the router, never rejected.
type MessageType string

const (
	MessageTypeCodeOperation   MessageType = "code-operation"
	MessageTypeCode            MessageType = "code"
	MessageTypeStateSync       MessageType = "state-sync"
	MessageTypeCursor          MessageType = "cursor"
	MessageTypeLanguage        MessageType = "language"
	MessageTypeStateRequest    MessageType = "state-request"
	MessageTypeCanvas          MessageType = "canvas"
	MessageTypeCanvasView      MessageType = "canvas-view"
	MessageTypeCanvasClear     MessageType = "canvas-clear"
	MessageTypeCanvasSync      MessageType = "canvas-sync"
	MessageTypeChat            MessageType = "message"
	MessageTypeChatAck         MessageType = "message-ack"
	MessageTypeExecutionStart  MessageType = "execution-start"
	MessageTypeExecutionResult MessageType = "execution-result"
)

// Canvas message actions.
const (
	CanvasActionStroke  = "stroke"
	CanvasActionDrawing = "drawing"
)

// Message is the flat wire representation of one data-channel payload.
// Fields are populated per Type as listed in the protocol table; absent
// fields are omitted from the encoding. Pointer fields distinguish
// "present but zero" from "absent" where that matters (an empty code
// replace, cursor position 0, zoom omitted from a canvas-sync).
type Message struct {
	Type MessageType `json:"type"`

	// code-operation
	Operation      *CodeOperation `json:"operation,omitempty"`
	OperationCount int            `json:"operationCount,omitempty"`

	// code, state-sync, language, execution-start
	Code     *string `json:"code,omitempty"`
	Language string  `json:"language,omitempty"`

	// cursor, canvas live-drawing
	PeerID   string `json:"peerId,omitempty"`
	Position *int   `json:"position,omitempty"`
	Name     string `json:"name,omitempty"`

	// canvas
	Action string          `json:"action,omitempty"`
	Stroke *Stroke         `json:"stroke,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`

	// canvas-view, canvas-sync
	Strokes   []Stroke   `json:"strokes,omitempty"`
	Zoom      *float64   `json:"zoom,omitempty"`
	PanOffset *PanOffset `json:"panOffset,omitempty"`

	// message (chat), execution-start
	ID        string `json:"id,omitempty"`
	Text      string `json:"text,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// message-ack
	MessageID string `json:"messageId,omitempty"`

	// execution-result
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Duration int64  `json:"duration,omitempty"`
}

// CodeOperation is one incremental text edit: keep Retain characters
// from the start, then either insert Insert or delete Delete characters.
// On the wire it is a two-element array [retain, insertText] or
// [retain, -deleteCount].
type CodeOperation struct {
	Retain int
	Insert string
	Delete int
}

func (op CodeOperation) MarshalJSON() ([]byte, error) {
	if op.Delete > 0 {
		return json.Marshal([2]interface{}{op.Retain, -op.Delete})
	}
	return json.Marshal([2]interface{}{op.Retain, op.Insert})
}

func (op *CodeOperation) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("operation must have 2 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &op.Retain); err != nil {
		return fmt.Errorf("operation retain: %w", err)
	}
	if op.Retain < 0 {
		return fmt.Errorf("operation retain must be >= 0, got %d", op.Retain)
	}

	var insert string
	if err := json.Unmarshal(parts[1], &insert); err == nil {
		op.Insert = insert
		op.Delete = 0
		return nil
	}
	var count int
	if err := json.Unmarshal(parts[1], &count); err != nil {
		return errors.New("operation payload must be a string or a negative integer")
	}
	if count >= 0 {
		return fmt.Errorf("numeric operation payload must be negative, got %d", count)
	}
	op.Insert = ""
	op.Delete = -count
	return nil
}

// Apply runs the operation against text and returns the result. Out of
// range positions clamp to the text bounds instead of failing, so a
// stale operation degrades to a best-effort edit.
func (op CodeOperation) Apply(text string) string {
	runes := []rune(text)
	retain := op.Retain
	if retain > len(runes) {
		retain = len(runes)
	}
	if op.Delete > 0 {
		end := retain + op.Delete
		if end > len(runes) {
			end = len(runes)
		}
		return string(runes[:retain]) + string(runes[end:])
	}
	return string(runes[:retain]) + op.Insert + string(runes[retain:])
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type PanOffset struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one drawn element. Points is the full path for freehand
// tools or the anchor corners for shapes; Text is set for labels.
type Stroke struct {
	ID     string  `json:"id"`
	PeerID string  `json:"peerId,omitempty"`
	Tool   string  `json:"tool"`
	Points []Point `json:"points"`
	Color  string  `json:"color,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Text   string  `json:"text,omitempty"`
}

// Clone deep-copies the stroke so history snapshots cannot alias the
// live list.
func (s Stroke) Clone() Stroke {
	c := s
	c.Points = make([]Point, len(s.Points))
	copy(c.Points, s.Points)
	return c
}

func CloneStrokes(strokes []Stroke) []Stroke {
	out := make([]Stroke, len(strokes))
	for i := range strokes {
		out[i] = strokes[i].Clone()
	}
	return out
}

// ChatMessage is one chat entry as held by the chat store. Local marks
// messages this peer sent; Acked flips when any peer confirms receipt.
type ChatMessage struct {
	ID        string
	Text      string
	Sender    string
	Timestamp int64
	Local     bool
	Acked     bool
}

// CursorInfo is one remote peer's ephemeral cursor, last write wins.
type CursorInfo struct {
	PeerID   PeerID
	Position int
	Name     string
}

// Message constructors. Handlers build outbound payloads through these
// so the per-type field sets stay in one place.

func NewCodeOperationMessage(op CodeOperation, count int) Message {
	return Message{Type: MessageTypeCodeOperation, Operation: &op, OperationCount: count}
}

func NewCodeMessage(code, language string) Message {
	return Message{Type: MessageTypeCode, Code: &code, Language: language}
}

func NewStateSyncMessage(code, language string) Message {
	return Message{Type: MessageTypeStateSync, Code: &code, Language: language}
}

func NewCursorMessage(peerID PeerID, position int, name string) Message {
	return Message{Type: MessageTypeCursor, PeerID: string(peerID), Position: &position, Name: name}
}

func NewLanguageMessage(language string) Message {
	return Message{Type: MessageTypeLanguage, Language: language}
}

func NewStateRequestMessage() Message {
	return Message{Type: MessageTypeStateRequest}
}

func NewStrokeMessage(stroke Stroke) Message {
	return Message{Type: MessageTypeCanvas, Action: CanvasActionStroke, Stroke: &stroke}
}

func NewLiveDrawingMessage(peerID PeerID, data json.RawMessage) Message {
	return Message{Type: MessageTypeCanvas, Action: CanvasActionDrawing, PeerID: string(peerID), Data: data}
}

func NewCanvasViewMessage(zoom float64, pan PanOffset) Message {
	return Message{Type: MessageTypeCanvasView, Zoom: &zoom, PanOffset: &pan}
}

func NewCanvasClearMessage() Message {
	return Message{Type: MessageTypeCanvasClear}
}

func NewCanvasSyncMessage(strokes []Stroke, zoom *float64, pan *PanOffset) Message {
	return Message{Type: MessageTypeCanvasSync, Strokes: strokes, Zoom: zoom, PanOffset: pan}
}

func NewChatMessageEnvelope(id, text, sender string, timestamp int64) Message {
	return Message{Type: MessageTypeChat, ID: id, Text: text, Sender: sender, Timestamp: timestamp}
}

func NewChatAckMessage(messageID string) Message {
	return Message{Type: MessageTypeChatAck, MessageID: messageID}
}

func NewExecutionStartMessage(language string, timestamp int64) Message {
	return Message{Type: MessageTypeExecutionStart, Language: language, Timestamp: timestamp}
}

func NewExecutionResultMessage(stdout, stderr string, exitCode int, durationMs int64) Message {
	return Message{Type: MessageTypeExecutionResult, Stdout: stdout, Stderr: stderr, ExitCode: &exitCode, Duration: durationMs}
}
