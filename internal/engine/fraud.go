// Package engine runs claim analyses: it blends the extracted fraud
// signals, profiles risk factors, generates findings and
// recommendations, and persists the resulting record.
package engine

import (
	"github.com/opensource-insurance/kestrel/internal/domain"
	"github.com/opensource-insurance/kestrel/internal/signals"
)

// Signal weights. They sum to 1 so a fraud score stays in [0,1] as
// long as each signal does.
const (
	weightAmount      = 0.25
	weightTiming      = 0.20
	weightHistory     = 0.30
	weightGeographic  = 0.15
	weightDescription = 0.10
)

// FraudSignals carries the five extracted signals into the blend.
type FraudSignals struct {
	Amount      signals.Result
	Timing      signals.Result
	History     signals.Result
	Geographic  signals.Result
	Description signals.Result
}

// BlendFraudScore combines the signals into a fraud assessment.
// Reasons are collected from every signal that fired, in blend order.
func BlendFraudScore(s FraudSignals) domain.FraudAssessment {
	score := s.Amount.Score*weightAmount +
		s.Timing.Score*weightTiming +
		s.History.Score*weightHistory +
		s.Geographic.Score*weightGeographic +
		s.Description.Score*weightDescription

	legitimacy := 1 - score
	if legitimacy < 0 {
		legitimacy = 0
	}

	var reasons []string
	for _, r := range []signals.Result{s.Amount, s.Timing, s.History, s.Geographic, s.Description} {
		reasons = append(reasons, r.Reasons...)
	}

	return domain.FraudAssessment{
		FraudScore:      score,
		LegitimacyScore: legitimacy,
		RiskLevel:       RiskLevelFor(score),
		Reasons:         reasons,
	}
}

// RiskLevelFor maps a fraud score to its risk band. Boundaries belong
// to the lower band.
func RiskLevelFor(score float64) string {
	switch {
	case score > 0.8:
		return domain.RiskCritical
	case score > 0.6:
		return domain.RiskHigh
	case score > 0.4:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}
