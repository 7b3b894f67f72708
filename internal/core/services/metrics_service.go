package services

import (
	"sync"
	"time"

	"meshpad/internal/core/domain"
)

const defaultHistoryDepth = 120

// MetricsService keeps a bounded per-peer history of link samples for
// trend display, plus the hysteresis-smoothed tier shown to the user.
type MetricsService struct {
	mu sync.RWMutex

	quality      *QualityService
	historyDepth int

	history     map[domain.PeerID][]domain.LinkSample
	displayTier map[domain.PeerID]domain.QualityTier
}

func NewMetricsService(quality *QualityService) *MetricsService {
	return &MetricsService{
		quality:      quality,
		historyDepth: defaultHistoryDepth,
		history:      make(map[domain.PeerID][]domain.LinkSample),
		displayTier:  make(map[domain.PeerID]domain.QualityTier),
	}
}

// Record scores the sample, applies display hysteresis against the
// peer's previous tier, and appends it to the bounded history.
func (m *MetricsService) Record(peerID domain.PeerID, metrics domain.LinkMetrics, topology domain.NetworkTopology) domain.LinkSample {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.displayTier[peerID]
	if !ok {
		prev = domain.QualityUnknown
	}
	tier := m.quality.StableTier(prev, metrics)
	m.displayTier[peerID] = tier

	sample := domain.LinkSample{
		PeerID:    peerID,
		Metrics:   metrics,
		Quality:   tier,
		Topology:  topology,
		Timestamp: metrics.SampledAt,
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	samples := append(m.history[peerID], sample)
	if len(samples) > m.historyDepth {
		samples = samples[len(samples)-m.historyDepth:]
	}
	m.history[peerID] = samples
	return sample
}

// History returns a copy of the peer's sample history, oldest first.
func (m *MetricsService) History(peerID domain.PeerID) []domain.LinkSample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	samples := m.history[peerID]
	out := make([]domain.LinkSample, len(samples))
	copy(out, samples)
	return out
}

func (m *MetricsService) Latest(peerID domain.PeerID) (domain.LinkSample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	samples := m.history[peerID]
	if len(samples) == 0 {
		return domain.LinkSample{}, false
	}
	return samples[len(samples)-1], true
}

func (m *MetricsService) DisplayTier(peerID domain.PeerID) domain.QualityTier {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if tier, ok := m.displayTier[peerID]; ok {
		return tier
	}
	return domain.QualityUnknown
}

// RemovePeer forgets everything recorded for a departed peer.
func (m *MetricsService) RemovePeer(peerID domain.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, peerID)
	delete(m.displayTier, peerID)
}

// SessionStats aggregates the current links into one session view.
func (m *MetricsService) SessionStats(sessionID domain.SessionID, links []domain.PeerLinkInfo) domain.SessionStats {
	stats := domain.SessionStats{
		SessionID:    sessionID,
		PeerCount:    len(links),
		WorstQuality: domain.QualityUnknown,
		Timestamp:    time.Now(),
	}

	var latencySum float64
	var latencyCount int
	worst := -1
	for _, link := range links {
		if link.State == domain.LinkConnected {
			stats.ConnectedPeers++
		}
		if !link.Metrics.SampledAt.IsZero() {
			latencySum += link.Metrics.LatencyMs
			latencyCount++
		}
		if link.Quality == domain.QualityUnknown {
			continue
		}
		if rank := tierRank(link.Quality); worst == -1 || rank < worst {
			worst = rank
			stats.WorstQuality = link.Quality
		}
	}
	if latencyCount > 0 {
		stats.AvgLatencyMs = latencySum / float64(latencyCount)
	}
	return stats
}
