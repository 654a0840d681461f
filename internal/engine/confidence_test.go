package engine

import (
	"testing"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

func TestOverallConfidence(t *testing.T) {
	t.Run("NoInputsUsesBase", func(t *testing.T) {
		if got := OverallConfidence(nil, nil); got != 70 {
			t.Errorf("confidence = %d, want 70", got)
		}
	})

	t.Run("DocumentsRaiseConfidence", func(t *testing.T) {
		docs := []domain.DocumentAnalysis{
			{Authenticity: 1.0, Quality: 1.0},
		}
		if got := OverallConfidence(docs, nil); got != 90 {
			t.Errorf("confidence = %d, want 90", got)
		}
	})

	t.Run("DocumentQualityAveraged", func(t *testing.T) {
		docs := []domain.DocumentAnalysis{
			{Authenticity: 1.0, Quality: 1.0},
			{Authenticity: 0.5, Quality: 0.5},
		}
		// avg of per-doc means (1.0, 0.5) is 0.75, adding 15
		if got := OverallConfidence(docs, nil); got != 85 {
			t.Errorf("confidence = %d, want 85", got)
		}
	})

	t.Run("SevereFactorsLowerConfidence", func(t *testing.T) {
		factors := []domain.RiskFactor{
			{FactorName: "a", Severity: domain.SeverityHigh},
			{FactorName: "b", Severity: domain.SeverityHigh},
			{FactorName: "c", Severity: domain.SeverityMedium},
			{FactorName: "d", Severity: domain.SeverityLow},
		}
		if got := OverallConfidence(nil, factors); got != 60 {
			t.Errorf("confidence = %d, want 60", got)
		}
	})

	t.Run("CriticalFactorsCountAsSevere", func(t *testing.T) {
		factors := []domain.RiskFactor{
			{FactorName: "a", Severity: domain.SeverityCritical},
			{FactorName: "b", Severity: domain.SeverityHigh},
		}
		if got := OverallConfidence(nil, factors); got != 60 {
			t.Errorf("confidence = %d, want 60", got)
		}
	})

	t.Run("ClampedToZero", func(t *testing.T) {
		factors := make([]domain.RiskFactor, 20)
		for i := range factors {
			factors[i] = domain.RiskFactor{Severity: domain.SeverityHigh}
		}
		if got := OverallConfidence(nil, factors); got != 0 {
			t.Errorf("confidence = %d, want 0", got)
		}
	})
}

func TestRecommendedPayout(t *testing.T) {
	const amount = 10000.0

	cases := []struct {
		legitimacy float64
		want       float64
	}{
		{0.95, 10000},
		{0.9, 8000},
		{0.75, 8000},
		{0.7, 6000},
		{0.55, 6000},
		{0.5, 3000},
		{0.35, 3000},
		{0.3, 0},
		{0.1, 0},
	}

	for _, tc := range cases {
		if got := RecommendedPayout(amount, tc.legitimacy); !approx(got, tc.want) {
			t.Errorf("RecommendedPayout(%v, %v) = %v, want %v", amount, tc.legitimacy, got, tc.want)
		}
	}

	t.Run("NeverExceedsAmount", func(t *testing.T) {
		for _, legit := range []float64{0.2, 0.4, 0.6, 0.8, 1.0} {
			if got := RecommendedPayout(amount, legit); got > amount {
				t.Errorf("payout %v exceeds amount at legitimacy %v", got, legit)
			}
		}
	})
}
