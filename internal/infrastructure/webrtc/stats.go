package webrtc

import (
	"math"
	"time"

	"meshpad/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// announceSelectedPair reports which candidate types ICE settled on,
// read off the transport once the agent reaches connected.
func (c *Connector) announceSelectedPair(l *link) {
	sctp := l.pc.SCTP()
	if sctp == nil {
		return
	}
	dtls := sctp.Transport()
	if dtls == nil {
		return
	}
	ice := dtls.ICETransport()
	if ice == nil {
		return
	}

	pair, err := ice.GetSelectedCandidatePair()
	if err != nil || pair == nil || pair.Local == nil || pair.Remote == nil {
		return
	}

	c.events.OnSelectedPair(l.peerID, candidateType(pair.Local.Typ), candidateType(pair.Remote.Typ))
}

func candidateType(t webrtc.ICECandidateType) domain.CandidateType {
	switch t {
	case webrtc.ICECandidateTypeRelay:
		return domain.CandidateRelay
	case webrtc.ICECandidateTypeSrflx, webrtc.ICECandidateTypePrflx:
		return domain.CandidateSrflx
	default:
		return domain.CandidateHost
	}
}

func (c *Connector) startStats(l *link) {
	l.startOnce.Do(func() {
		go c.sampleLoop(l)
	})
}

func (c *Connector) sampleLoop(l *link) {
	ticker := time.NewTicker(c.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.events.OnStats(l.peerID, c.sample(l))
		case <-l.statsStop:
			return
		}
	}
}

// sample reads the nominated candidate pair out of the stats report.
// Round-trip time comes from STUN consent checks; jitter is smoothed
// from RTT deltas in the RFC 3550 manner. The SCTP stack does not
// expose per-packet loss, so those counters stay zero.
func (c *Connector) sample(l *link) domain.LinkMetrics {
	metrics := domain.LinkMetrics{SampledAt: time.Now()}

	report := l.pc.GetStats()
	for _, s := range report {
		pairStats, ok := s.(webrtc.ICECandidatePairStats)
		if !ok || pairStats.State != webrtc.StatsICECandidatePairStateSucceeded || !pairStats.Nominated {
			continue
		}
		metrics.LatencyMs = pairStats.CurrentRoundTripTime * 1000
		metrics.BytesSent = pairStats.BytesSent
		metrics.BytesReceived = pairStats.BytesReceived
		break
	}

	if metrics.LatencyMs > 0 {
		if l.lastRttMs > 0 {
			delta := math.Abs(metrics.LatencyMs - l.lastRttMs)
			l.jitterMs += (delta - l.jitterMs) / 16
		}
		l.lastRttMs = metrics.LatencyMs
	}
	metrics.JitterMs = l.jitterMs

	return metrics
}
