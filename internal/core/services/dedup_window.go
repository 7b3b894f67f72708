package services

const (
	dedupMaxSize = 1000
	dedupTrimTo  = 500
)

// DedupWindow is a bounded set of recently seen message ids. In a mesh
// the same chat message can arrive over more than one path; the window
// makes reprocessing it impossible. Once the set exceeds maxSize only
// the trimTo most recently inserted ids survive, where recency is
// insertion order, not arrival-time ties.
type DedupWindow struct {
	maxSize int
	trimTo  int
	seen    map[string]struct{}
	order   []string
}

func NewDedupWindow() *DedupWindow {
	return NewDedupWindowWithBounds(dedupMaxSize, dedupTrimTo)
}

func NewDedupWindowWithBounds(maxSize, trimTo int) *DedupWindow {
	return &DedupWindow{
		maxSize: maxSize,
		trimTo:  trimTo,
		seen:    make(map[string]struct{}),
	}
}

// Add inserts the id and reports whether it was new. Duplicates do not
// refresh their position.
func (w *DedupWindow) Add(id string) bool {
	if _, dup := w.seen[id]; dup {
		return false
	}
	w.seen[id] = struct{}{}
	w.order = append(w.order, id)

	if len(w.order) > w.maxSize {
		w.trim()
	}
	return true
}

func (w *DedupWindow) Has(id string) bool {
	_, ok := w.seen[id]
	return ok
}

func (w *DedupWindow) Len() int {
	return len(w.order)
}

func (w *DedupWindow) Reset() {
	w.seen = make(map[string]struct{})
	w.order = nil
}

func (w *DedupWindow) trim() {
	keep := w.order[len(w.order)-w.trimTo:]
	w.seen = make(map[string]struct{}, len(keep))
	for _, id := range keep {
		w.seen[id] = struct{}{}
	}
	w.order = append([]string(nil), keep...)
}
