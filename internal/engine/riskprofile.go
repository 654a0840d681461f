package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

// CustomerRiskFactors derives risk factors from a customer's claim
// profile.
func CustomerRiskFactors(profile *domain.CustomerProfile) []domain.RiskFactor {
	if profile == nil {
		return nil
	}
	var factors []domain.RiskFactor
	if profile.TotalClaims > 3 {
		severity := domain.SeverityMedium
		if profile.TotalClaims > 5 {
			severity = domain.SeverityHigh
		}
		factors = append(factors, domain.RiskFactor{
			FactorName:  "High Claim Frequency",
			Description: fmt.Sprintf("Customer has filed %d claims", profile.TotalClaims),
			Severity:    severity,
			Score:       math.Min(float64(profile.TotalClaims)/10, 1),
			Weight:      25,
		})
	}
	if profile.RejectedClaims > 1 {
		severity := domain.SeverityMedium
		if profile.RejectedClaims > 2 {
			severity = domain.SeverityHigh
		}
		factors = append(factors, domain.RiskFactor{
			FactorName:  "Previous Claim Rejections",
			Description: fmt.Sprintf("Customer has %d rejected claims", profile.RejectedClaims),
			Severity:    severity,
			Score:       math.Min(float64(profile.RejectedClaims)/5, 1),
			Weight:      30,
		})
	}
	return factors
}

// PolicyRiskFactors derives risk factors from the claim itself.
func PolicyRiskFactors(claim *domain.Claim, now time.Time) []domain.RiskFactor {
	var factors []domain.RiskFactor
	if now.Sub(claim.CreatedAt).Hours()/24 < 30 {
		factors = append(factors, domain.RiskFactor{
			FactorName:  "New Policy Claim",
			Description: "Claim filed within 30 days of policy start",
			Severity:    domain.SeverityMedium,
			Score:       0.6,
			Weight:      15,
		})
	}
	if claim.Amount > 100_000 {
		severity := domain.SeverityMedium
		if claim.Amount > 500_000 {
			severity = domain.SeverityHigh
		}
		factors = append(factors, domain.RiskFactor{
			FactorName:  "High Value Claim",
			Description: fmt.Sprintf("Claim amount %.2f is unusually large", claim.Amount),
			Severity:    severity,
			Score:       math.Min(claim.Amount/1_000_000, 0.8),
			Weight:      20,
		})
	}
	return factors
}

// ExternalRiskFactors covers signals outside the customer and policy.
// The geographic assessment is a fixed placeholder until a location
// source exists; weekend filing adds a small factor.
func ExternalRiskFactors(claim *domain.Claim) []domain.RiskFactor {
	factors := []domain.RiskFactor{{
		FactorName:  "Geographic Risk Assessment",
		Description: "No elevated geographic risk detected",
		Severity:    domain.SeverityLow,
		Score:       0.1,
		Weight:      10,
	}}
	switch claim.CreatedAt.Weekday() {
	case time.Saturday, time.Sunday:
		factors = append(factors, domain.RiskFactor{
			FactorName:  "Weekend Filing",
			Description: "Claim filed on a weekend",
			Severity:    domain.SeverityLow,
			Score:       0.2,
			Weight:      5,
		})
	}
	return factors
}

// OverallRiskScore is the weighted average of the factors. An empty
// factor list scores zero.
func OverallRiskScore(factors []domain.RiskFactor) float64 {
	var weighted, weights float64
	for _, f := range factors {
		weighted += f.Score * f.Weight
		weights += f.Weight
	}
	if weights == 0 {
		return 0
	}
	return weighted / weights
}

// HistoricalPatternsFor converts type aggregates into reportable
// patterns. Only groups with more than one claim are reported.
func HistoricalPatternsFor(groups []domain.TypePattern) []domain.HistoricalPattern {
	var patterns []domain.HistoricalPattern
	for _, g := range groups {
		if g.Count <= 1 {
			continue
		}
		patterns = append(patterns, domain.HistoricalPattern{
			PatternType:   "repeat_claim_type",
			Description:   fmt.Sprintf("%d prior %s/%s claims", g.Count, g.InsuranceType, g.InsuranceCategory),
			Frequency:     g.Count,
			Confidence:    math.Min(float64(g.Count)*20, 95),
			AvgAmount:     g.AvgAmount,
			AvgFraudScore: g.AvgFraudScore,
		})
	}
	return patterns
}
