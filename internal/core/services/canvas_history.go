package services

import (
	"meshpad/internal/core/domain"
)

const historyDepth = 10

// CanvasHistory holds bounded undo/redo stacks of deep-copied stroke
// snapshots. It is local-only: remote peers never see an undo, only
// the full resync its owner sends afterwards.
type CanvasHistory struct {
	undo  [][]domain.Stroke
	redo  [][]domain.Stroke
	depth int
}

func NewCanvasHistory() *CanvasHistory {
	return &CanvasHistory{depth: historyDepth}
}

// Push snapshots the state as it was before a new local change and
// clears redo. The undo stack keeps at most depth entries, dropping
// the oldest.
func (h *CanvasHistory) Push(strokes []domain.Stroke) {
	h.undo = append(h.undo, domain.CloneStrokes(strokes))
	if len(h.undo) > h.depth {
		h.undo = h.undo[len(h.undo)-h.depth:]
	}
	h.redo = nil
}

// Undo returns the previous snapshot, moving the current state onto
// the redo stack. ok is false when there is nothing to undo.
func (h *CanvasHistory) Undo(current []domain.Stroke) (restored []domain.Stroke, ok bool) {
	if len(h.undo) == 0 {
		return nil, false
	}
	restored = h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]

	h.redo = append(h.redo, domain.CloneStrokes(current))
	if len(h.redo) > h.depth {
		h.redo = h.redo[len(h.redo)-h.depth:]
	}
	return restored, true
}

// Redo returns the most recently undone snapshot, moving the current
// state back onto the undo stack.
func (h *CanvasHistory) Redo(current []domain.Stroke) (restored []domain.Stroke, ok bool) {
	if len(h.redo) == 0 {
		return nil, false
	}
	restored = h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]

	h.undo = append(h.undo, domain.CloneStrokes(current))
	if len(h.undo) > h.depth {
		h.undo = h.undo[len(h.undo)-h.depth:]
	}
	return restored, true
}

func (h *CanvasHistory) CanUndo() bool { return len(h.undo) > 0 }
func (h *CanvasHistory) CanRedo() bool { return len(h.redo) > 0 }

func (h *CanvasHistory) Reset() {
	h.undo = nil
	h.redo = nil
}
