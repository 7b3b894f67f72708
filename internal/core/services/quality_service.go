package services

import (
	"meshpad/internal/core/domain"
)

// QualityThresholds are the tunable constants of the link scoring
// formula. Scoring starts at 100 and subtracts three independently
// capped penalties:
//
//	latency: 1 point per LatencyStepMs above LatencyFloorMs, capped
//	loss:    LossPointsPerPct per percent lost, capped
//	jitter:  1 point per JitterStepMs above JitterFloorMs, capped
//
// The defaults put 20ms/0%/5ms at a perfect 100 and drive
// 400ms/10%/150ms all the way to 0.
type QualityThresholds struct {
	LatencyFloorMs    float64
	LatencyStepMs     float64
	LatencyMaxPenalty float64

	LossPointsPerPct float64
	LossMaxPenalty   float64

	JitterFloorMs    float64
	JitterStepMs     float64
	JitterMaxPenalty float64

	// Tier boundaries on the resulting score. A score equal to a
	// boundary reads as the higher tier.
	ExcellentMin float64
	GoodMin      float64
	FairMin      float64

	// TierMargin is the hysteresis band used by display smoothing; a
	// tier only changes once the score clears the boundary by this
	// much.
	TierMargin float64
}

func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		LatencyFloorMs:    50,
		LatencyStepMs:     5,
		LatencyMaxPenalty: 40,
		LossPointsPerPct:  4,
		LossMaxPenalty:    40,
		JitterFloorMs:     10,
		JitterStepMs:      5,
		JitterMaxPenalty:  20,
		ExcellentMin:      80,
		GoodMin:           60,
		FairMin:           40,
		TierMargin:        5,
	}
}

type QualityService struct {
	thresholds QualityThresholds
}

func NewQualityService() *QualityService {
	return &QualityService{thresholds: DefaultQualityThresholds()}
}

func NewQualityServiceWithThresholds(t QualityThresholds) *QualityService {
	return &QualityService{thresholds: t}
}

func (qs *QualityService) Thresholds() QualityThresholds {
	return qs.thresholds
}

// Score computes the 0..100 link score. The unknown case (no sample
// yet) is handled by Tier, not here.
func (qs *QualityService) Score(m domain.LinkMetrics) float64 {
	t := qs.thresholds

	latencyPenalty := clampPenalty((m.LatencyMs-t.LatencyFloorMs)/t.LatencyStepMs, t.LatencyMaxPenalty)
	lossPenalty := clampPenalty(m.LossRatio()*100*t.LossPointsPerPct, t.LossMaxPenalty)
	jitterPenalty := clampPenalty((m.JitterMs-t.JitterFloorMs)/t.JitterStepMs, t.JitterMaxPenalty)

	score := 100 - latencyPenalty - lossPenalty - jitterPenalty
	if score < 0 {
		return 0
	}
	return score
}

// Tier maps a metrics sample to its quality tier. A link with no
// sample yet is unknown.
func (qs *QualityService) Tier(m domain.LinkMetrics) domain.QualityTier {
	if m.SampledAt.IsZero() {
		return domain.QualityUnknown
	}
	return qs.tierForScore(qs.Score(m))
}

func (qs *QualityService) tierForScore(score float64) domain.QualityTier {
	t := qs.thresholds
	switch {
	case score >= t.ExcellentMin:
		return domain.QualityExcellent
	case score >= t.GoodMin:
		return domain.QualityGood
	case score >= t.FairMin:
		return domain.QualityFair
	default:
		return domain.QualityPoor
	}
}

// StableTier applies hysteresis for display purposes: the reported
// tier sticks to prev until the score clears the relevant boundary by
// TierMargin in either direction. Raw Tier stays authoritative for
// link decisions.
func (qs *QualityService) StableTier(prev domain.QualityTier, m domain.LinkMetrics) domain.QualityTier {
	if m.SampledAt.IsZero() {
		return domain.QualityUnknown
	}
	score := qs.Score(m)
	next := qs.tierForScore(score)
	if prev == domain.QualityUnknown || prev == next {
		return next
	}

	margin := qs.thresholds.TierMargin
	boundary := qs.boundaryBetween(prev, next)
	if tierRank(next) > tierRank(prev) {
		// Improving: require the score to clear the boundary upward.
		if score >= boundary+margin {
			return next
		}
		return prev
	}
	// Degrading: require the score to fall clearly below.
	if score <= boundary-margin {
		return next
	}
	return prev
}

func (qs *QualityService) boundaryBetween(a, b domain.QualityTier) float64 {
	lower := a
	if tierRank(b) < tierRank(a) {
		lower = b
	}
	t := qs.thresholds
	switch lower {
	case domain.QualityPoor:
		return t.FairMin
	case domain.QualityFair:
		return t.GoodMin
	default:
		return t.ExcellentMin
	}
}

func tierRank(t domain.QualityTier) int {
	switch t {
	case domain.QualityPoor:
		return 0
	case domain.QualityFair:
		return 1
	case domain.QualityGood:
		return 2
	case domain.QualityExcellent:
		return 3
	default:
		return -1
	}
}

func clampPenalty(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
