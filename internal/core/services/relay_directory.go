package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"meshpad/internal/core/domain"

	"go.uber.org/zap"
)

// RelayProber measures reachability of relay server URLs. Implemented
// by the stun infrastructure package.
type RelayProber interface {
	ProbeAll(ctx context.Context, urls []string) []domain.RelayProbe
}

// RelayDirectory keeps the ranked list of reachable relay servers and
// answers whether relay fallback is available at all. A probe failure
// degrades to "no relay" rather than erroring; links then simply run
// without the relay flag.
type RelayDirectory struct {
	prober RelayProber
	urls   []string
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	ranked   []domain.RelayProbe
	probedAt time.Time
}

func NewRelayDirectory(prober RelayProber, urls []string, logger *zap.SugaredLogger) *RelayDirectory {
	return &RelayDirectory{
		prober: prober,
		urls:   urls,
		logger: logger,
	}
}

// Refresh probes every configured server and replaces the ranking with
// the reachable ones ordered by round-trip time.
func (d *RelayDirectory) Refresh(ctx context.Context) {
	if len(d.urls) == 0 {
		return
	}

	probes := d.prober.ProbeAll(ctx, d.urls)

	ranked := make([]domain.RelayProbe, 0, len(probes))
	for _, probe := range probes {
		if probe.Reachable {
			ranked = append(ranked, probe)
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].RTT < ranked[j].RTT })

	d.mu.Lock()
	d.ranked = ranked
	d.probedAt = time.Now()
	d.mu.Unlock()

	d.logger.Infow("relay servers probed",
		"configured", len(d.urls),
		"reachable", len(ranked),
	)
}

// Start runs an immediate refresh and then re-probes on the interval
// until the context ends. After every refresh onChange receives the
// current availability verdict.
func (d *RelayDirectory) Start(ctx context.Context, interval time.Duration, onChange func(has bool)) {
	refresh := func() {
		d.Refresh(ctx)
		if onChange != nil {
			onChange(d.HasRelayServers())
		}
	}
	refresh()

	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				refresh()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (d *RelayDirectory) HasRelayServers() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ranked) > 0
}

// BestServers returns up to n reachable server URLs, fastest first.
func (d *RelayDirectory) BestServers(n int) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n <= 0 || n > len(d.ranked) {
		n = len(d.ranked)
	}
	urls := make([]string, 0, n)
	for _, probe := range d.ranked[:n] {
		urls = append(urls, probe.URL)
	}
	return urls
}

// Snapshot returns the last probe results for diagnostics display.
func (d *RelayDirectory) Snapshot() ([]domain.RelayProbe, time.Time) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	probes := make([]domain.RelayProbe, len(d.ranked))
	copy(probes, d.ranked)
	return probes, d.probedAt
}
