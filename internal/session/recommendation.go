package session

import "github.com/aristath/regime-engine/internal/domain"

// Stance bands over the composite 0-100 sentiment score. Boundaries are
// inclusive on the lower edge so every score in [0,100] resolves to exactly
// one stance:
//
//	[65,100] bullish_bias
//	[55,65)  mild_bullish
//	[45,55)  neutral
//	[35,45)  mild_bearish
//	[0,35)   risk_off
const (
	bullishThreshold     = 65.0
	mildBullishThreshold = 55.0
	neutralThreshold     = 45.0
	mildBearishThreshold = 35.0
)

// BandScore maps a composite sentiment score to a discrete stance
func BandScore(score float64) domain.Recommendation {
	rec := domain.Recommendation{SentimentScore: score}

	switch {
	case score >= bullishThreshold:
		rec.Stance = domain.StanceBullish
	case score >= mildBullishThreshold:
		rec.Stance = domain.StanceMildBullish
	case score >= neutralThreshold:
		rec.Stance = domain.StanceNeutral
	case score >= mildBearishThreshold:
		rec.Stance = domain.StanceMildBearish
	default:
		rec.Stance = domain.StanceRiskOff
	}

	return rec
}

// StanceRank orders stances from most bearish (0) to most bullish (4)
func StanceRank(stance string) int {
	switch stance {
	case domain.StanceRiskOff:
		return 0
	case domain.StanceMildBearish:
		return 1
	case domain.StanceNeutral:
		return 2
	case domain.StanceMildBullish:
		return 3
	case domain.StanceBullish:
		return 4
	default:
		return -1
	}
}
