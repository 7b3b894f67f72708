package services

import (
	"testing"
	"time"

	"meshpad/internal/core/domain"
)

func sampledMetrics(latencyMs float64, lost, sent uint32, jitterMs float64) domain.LinkMetrics {
	return domain.LinkMetrics{
		LatencyMs:   latencyMs,
		JitterMs:    jitterMs,
		PacketsLost: lost,
		PacketsSent: sent,
		SampledAt:   time.Now(),
	}
}

func TestQualityService_Tier(t *testing.T) {
	qs := NewQualityService()

	tests := []struct {
		name    string
		metrics domain.LinkMetrics
		want    domain.QualityTier
	}{
		{
			name:    "no sample yet",
			metrics: domain.LinkMetrics{},
			want:    domain.QualityUnknown,
		},
		{
			name:    "clean low-latency link",
			metrics: sampledMetrics(20, 0, 1000, 5),
			want:    domain.QualityExcellent,
		},
		{
			name:    "everything bad",
			metrics: sampledMetrics(500, 100, 1000, 150),
			want:    domain.QualityPoor,
		},
		{
			name:    "lossy high-latency link",
			metrics: sampledMetrics(400, 100, 1000, 150),
			want:    domain.QualityPoor,
		},
		{
			name:    "moderate latency only",
			metrics: sampledMetrics(200, 0, 1000, 5),
			want:    domain.QualityGood,
		},
		{
			name:    "latency penalty maxed but nothing else",
			metrics: sampledMetrics(1000, 0, 1000, 0),
			want:    domain.QualityGood,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := qs.Tier(tt.metrics); got != tt.want {
				t.Errorf("Tier() = %v, want %v (score %.1f)", got, tt.want, qs.Score(tt.metrics))
			}
		})
	}
}

func TestQualityService_ScoreExactlyEightyIsExcellent(t *testing.T) {
	qs := NewQualityService()

	// 150ms latency is 100ms over the floor at 1 point per 5ms, a
	// penalty of exactly 20 with zero loss and idle jitter.
	m := sampledMetrics(150, 0, 1000, 5)
	if score := qs.Score(m); score != 80 {
		t.Fatalf("expected score exactly 80, got %.2f", score)
	}
	if got := qs.Tier(m); got != domain.QualityExcellent {
		t.Errorf("expected a score of 80 to read excellent, got %v", got)
	}
}

func TestQualityService_ScoreNeverNegative(t *testing.T) {
	qs := NewQualityService()
	m := sampledMetrics(10000, 1000, 1000, 10000)
	if score := qs.Score(m); score != 0 {
		t.Errorf("expected floor of 0, got %.2f", score)
	}
}

func TestQualityService_PenaltiesIndependentlyCapped(t *testing.T) {
	qs := NewQualityService()

	// Extreme latency alone cannot push the score below 60.
	latOnly := sampledMetrics(100000, 0, 1000, 0)
	if score := qs.Score(latOnly); score != 60 {
		t.Errorf("expected latency cap to leave score 60, got %.2f", score)
	}

	// Total loss alone cannot push below 60 either.
	lossOnly := sampledMetrics(20, 1000, 1000, 0)
	if score := qs.Score(lossOnly); score != 60 {
		t.Errorf("expected loss cap to leave score 60, got %.2f", score)
	}

	// Extreme jitter alone costs at most 20 points.
	jitterOnly := sampledMetrics(20, 0, 1000, 100000)
	if score := qs.Score(jitterOnly); score != 80 {
		t.Errorf("expected jitter cap to leave score 80, got %.2f", score)
	}
}

func TestQualityService_StableTier(t *testing.T) {
	qs := NewQualityService()

	// 155ms scores 79, just under the excellent boundary.
	borderline := sampledMetrics(155, 0, 1000, 5)
	if got := qs.StableTier(domain.QualityExcellent, borderline); got != domain.QualityExcellent {
		t.Errorf("expected borderline dip to hold excellent, got %v", got)
	}

	// A clear drop below boundary-margin must demote.
	clearlyGood := sampledMetrics(180, 0, 1000, 5)
	if got := qs.StableTier(domain.QualityExcellent, clearlyGood); got != domain.QualityGood {
		t.Errorf("expected clear drop to demote to good, got %v", got)
	}

	// Improving from good needs to clear the boundary by the margin.
	barelyExcellent := sampledMetrics(145, 0, 1000, 5)
	if got := qs.StableTier(domain.QualityGood, barelyExcellent); got != domain.QualityGood {
		t.Errorf("expected barely-over score to hold good, got %v", got)
	}
	wellExcellent := sampledMetrics(50, 0, 1000, 5)
	if got := qs.StableTier(domain.QualityGood, wellExcellent); got != domain.QualityExcellent {
		t.Errorf("expected clear improvement to promote, got %v", got)
	}

	// From unknown the raw tier applies immediately.
	if got := qs.StableTier(domain.QualityUnknown, borderline); got != domain.QualityGood {
		t.Errorf("expected raw tier from unknown, got %v", got)
	}

	// No sample stays unknown regardless of history.
	if got := qs.StableTier(domain.QualityExcellent, domain.LinkMetrics{}); got != domain.QualityUnknown {
		t.Errorf("expected zero sample to read unknown, got %v", got)
	}
}
