package engine

import (
	"math"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

// OverallConfidence scores how much trust to place in the analysis as
// a whole. It starts from a fixed base, rises with document quality,
// and drops for every severe risk factor. The result is clamped to
// [0,100] and rounded.
func OverallConfidence(docs []domain.DocumentAnalysis, factors []domain.RiskFactor) int {
	confidence := 70.0

	if len(docs) > 0 {
		var sum float64
		for _, doc := range docs {
			sum += (doc.Authenticity + doc.Quality) / 2
		}
		confidence += sum / float64(len(docs)) * 20
	}

	for _, f := range factors {
		if f.Severity == domain.SeverityHigh || f.Severity == domain.SeverityCritical {
			confidence -= 5
		}
	}

	confidence = math.Round(confidence)
	if confidence < 0 {
		return 0
	}
	if confidence > 100 {
		return 100
	}
	return int(confidence)
}

// RecommendedPayout maps legitimacy to a payout fraction of the claim
// amount. The tiers make payout monotonic in legitimacy and never
// exceed the claimed amount.
func RecommendedPayout(amount, legitimacy float64) float64 {
	switch {
	case legitimacy > 0.9:
		return amount
	case legitimacy > 0.7:
		return amount * 0.8
	case legitimacy > 0.5:
		return amount * 0.6
	case legitimacy > 0.3:
		return amount * 0.3
	default:
		return 0
	}
}
