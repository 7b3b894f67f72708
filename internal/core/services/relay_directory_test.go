package services

import (
	"context"
	"testing"
	"time"

	"meshpad/internal/core/domain"

	"go.uber.org/zap/zaptest"
)

type fakeProber struct {
	probes []domain.RelayProbe
	calls  int
}

func (f *fakeProber) ProbeAll(ctx context.Context, urls []string) []domain.RelayProbe {
	f.calls++
	return f.probes
}

func TestRelayDirectoryRanksByRTT(t *testing.T) {
	prober := &fakeProber{probes: []domain.RelayProbe{
		{URL: "stun:slow.example.com", Reachable: true, RTT: 80 * time.Millisecond},
		{URL: "stun:down.example.com", Reachable: false},
		{URL: "stun:fast.example.com", Reachable: true, RTT: 12 * time.Millisecond},
	}}
	dir := NewRelayDirectory(prober, []string{"a", "b", "c"}, zaptest.NewLogger(t).Sugar())

	dir.Refresh(context.Background())

	if !dir.HasRelayServers() {
		t.Fatal("HasRelayServers() = false with reachable servers")
	}
	best := dir.BestServers(0)
	want := []string{"stun:fast.example.com", "stun:slow.example.com"}
	if len(best) != len(want) {
		t.Fatalf("BestServers(0) returned %d urls, want %d", len(best), len(want))
	}
	for i := range want {
		if best[i] != want[i] {
			t.Errorf("BestServers(0)[%d] = %q, want %q", i, best[i], want[i])
		}
	}
}

func TestRelayDirectoryBestServersTruncates(t *testing.T) {
	prober := &fakeProber{probes: []domain.RelayProbe{
		{URL: "stun:one", Reachable: true, RTT: 5 * time.Millisecond},
		{URL: "stun:two", Reachable: true, RTT: 10 * time.Millisecond},
		{URL: "stun:three", Reachable: true, RTT: 20 * time.Millisecond},
	}}
	dir := NewRelayDirectory(prober, []string{"a", "b", "c"}, zaptest.NewLogger(t).Sugar())
	dir.Refresh(context.Background())

	best := dir.BestServers(2)
	if len(best) != 2 {
		t.Fatalf("BestServers(2) returned %d urls, want 2", len(best))
	}
	if best[0] != "stun:one" || best[1] != "stun:two" {
		t.Errorf("BestServers(2) = %v, want the two fastest", best)
	}
}

func TestRelayDirectoryAllUnreachable(t *testing.T) {
	prober := &fakeProber{probes: []domain.RelayProbe{
		{URL: "stun:down.example.com", Reachable: false},
	}}
	dir := NewRelayDirectory(prober, []string{"a"}, zaptest.NewLogger(t).Sugar())
	dir.Refresh(context.Background())

	if dir.HasRelayServers() {
		t.Error("HasRelayServers() = true with nothing reachable")
	}
	if best := dir.BestServers(3); len(best) != 0 {
		t.Errorf("BestServers(3) = %v, want empty", best)
	}
}

func TestRelayDirectoryEmptyConfigNeverProbes(t *testing.T) {
	prober := &fakeProber{}
	dir := NewRelayDirectory(prober, nil, zaptest.NewLogger(t).Sugar())
	dir.Refresh(context.Background())

	if prober.calls != 0 {
		t.Errorf("prober called %d times with no configured urls, want 0", prober.calls)
	}
	if dir.HasRelayServers() {
		t.Error("HasRelayServers() = true with no configured urls")
	}
}

func TestRelayDirectoryStartNotifies(t *testing.T) {
	prober := &fakeProber{probes: []domain.RelayProbe{
		{URL: "stun:fast", Reachable: true, RTT: 5 * time.Millisecond},
	}}
	dir := NewRelayDirectory(prober, []string{"a"}, zaptest.NewLogger(t).Sugar())

	var got []bool
	dir.Start(context.Background(), 0, func(has bool) { got = append(got, has) })

	if len(got) != 1 || !got[0] {
		t.Errorf("onChange calls = %v, want one true verdict from the immediate refresh", got)
	}
}

func TestRelayDirectorySnapshotCopies(t *testing.T) {
	prober := &fakeProber{probes: []domain.RelayProbe{
		{URL: "stun:fast", Reachable: true, RTT: 5 * time.Millisecond},
	}}
	dir := NewRelayDirectory(prober, []string{"a"}, zaptest.NewLogger(t).Sugar())
	dir.Refresh(context.Background())

	probes, probedAt := dir.Snapshot()
	if len(probes) != 1 {
		t.Fatalf("Snapshot() returned %d probes, want 1", len(probes))
	}
	if probedAt.IsZero() {
		t.Error("Snapshot() probedAt is zero after Refresh")
	}

	probes[0].URL = "mutated"
	fresh, _ := dir.Snapshot()
	if fresh[0].URL != "stun:fast" {
		t.Error("Snapshot() exposed internal state to mutation")
	}
}
