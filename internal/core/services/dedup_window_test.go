package services

import (
	"fmt"
	"testing"
)

func TestDedupWindow_AddReportsNew(t *testing.T) {
	w := NewDedupWindow()

	if !w.Add("a") {
		t.Error("first insert must report new")
	}
	if w.Add("a") {
		t.Error("repeat insert must report duplicate")
	}
	if !w.Has("a") {
		t.Error("expected id present")
	}
	if w.Has("b") {
		t.Error("unexpected id present")
	}
	if got := w.Len(); got != 1 {
		t.Errorf("len = %d, want 1", got)
	}
}

func TestDedupWindow_TrimKeepsMostRecent(t *testing.T) {
	w := NewDedupWindow()

	for i := 0; i < 1001; i++ {
		w.Add(fmt.Sprintf("id-%04d", i))
	}

	if got := w.Len(); got != 500 {
		t.Fatalf("len after trim = %d, want 500", got)
	}
	if w.Has("id-0000") {
		t.Error("oldest id must be evicted")
	}
	if w.Has("id-0500") {
		t.Error("id below the kept range must be evicted")
	}
	if !w.Has("id-0501") {
		t.Error("first kept id missing")
	}
	if !w.Has("id-1000") {
		t.Error("newest id missing")
	}
}

func TestDedupWindow_DuplicateDoesNotRefreshPosition(t *testing.T) {
	w := NewDedupWindowWithBounds(4, 3)

	w.Add("old")
	w.Add("b")
	w.Add("c")
	w.Add("d")
	w.Add("old") // duplicate; were its position refreshed it would survive the trim below
	w.Add("e")   // fifth distinct id triggers the trim

	if w.Has("old") {
		t.Error("duplicate re-add must not have refreshed the id's position")
	}
	if !w.Has("c") || !w.Has("d") || !w.Has("e") {
		t.Error("most recently inserted ids must survive the trim")
	}
	if got := w.Len(); got != 3 {
		t.Errorf("len after trim = %d, want 3", got)
	}
}

func TestDedupWindow_EvictedIDAcceptedAgain(t *testing.T) {
	w := NewDedupWindowWithBounds(4, 2)

	for i := 0; i < 5; i++ {
		w.Add(fmt.Sprintf("x%d", i))
	}
	if w.Has("x0") {
		t.Fatal("expected x0 evicted")
	}
	if !w.Add("x0") {
		t.Error("evicted id must be treated as new again")
	}
}

func TestDedupWindow_Reset(t *testing.T) {
	w := NewDedupWindow()
	w.Add("a")
	w.Add("b")

	w.Reset()

	if w.Len() != 0 || w.Has("a") {
		t.Error("expected empty window after reset")
	}
	if !w.Add("a") {
		t.Error("expected id accepted after reset")
	}
}
