package domain

import (
	"fmt"
	"sort"
)

// InsurancePlan is one coverage tier within a line of business.
type InsurancePlan struct {
	Name              string  `json:"name"`
	CoveragePercent   float64 `json:"coverage_percent"`
	PremiumMultiplier float64 `json:"premium_multiplier"`
	Description       string  `json:"description"`
}

// InsuranceLine is a line of business with its plans and the claim
// types it accepts.
type InsuranceLine struct {
	Name       string                   `json:"name"`
	Plans      map[string]InsurancePlan `json:"plans"`
	ClaimTypes []string                 `json:"claim_types"`
}

// CoverageResult is the payout breakdown for a claim amount under a
// plan. Eligible amount is always the full claimed amount; plans cap
// by percentage, not by absolute limits.
type CoverageResult struct {
	ClaimedAmount     float64 `json:"claimed_amount"`
	EligibleAmount    float64 `json:"eligible_amount"`
	CoveragePercent   float64 `json:"coverage_percent"`
	CoveredAmount     float64 `json:"covered_amount"`
	CustomerLiability float64 `json:"customer_liability"`
}

// InsuranceCatalog maps insurance types to their lines. The catalog is
// built once at startup and read-only afterwards.
type InsuranceCatalog struct {
	lines map[string]InsuranceLine
}

// DefaultCatalog returns the built-in product catalog.
func DefaultCatalog() *InsuranceCatalog {
	return &InsuranceCatalog{lines: map[string]InsuranceLine{
		"motor": {
			Name: "Motor Insurance",
			Plans: map[string]InsurancePlan{
				"silver": {Name: "Silver Plan", CoveragePercent: 50, PremiumMultiplier: 1.0, Description: "Basic motor coverage, 50% damage coverage"},
				"bronze": {Name: "Bronze Plan", CoveragePercent: 70, PremiumMultiplier: 1.4, Description: "Enhanced motor coverage, 70% damage coverage"},
				"gold":   {Name: "Gold Plan", CoveragePercent: 100, PremiumMultiplier: 2.0, Description: "Premium motor coverage, 100% damage coverage"},
			},
			ClaimTypes: []string{"accident", "theft", "vandalism", "natural_disaster", "third_party"},
		},
		"property": {
			Name: "Property Insurance",
			Plans: map[string]InsurancePlan{
				"basic":         {Name: "Basic Property", CoveragePercent: 60, PremiumMultiplier: 1.0, Description: "Basic property coverage, 60% damage coverage"},
				"comprehensive": {Name: "Comprehensive", CoveragePercent: 85, PremiumMultiplier: 1.6, Description: "Comprehensive property coverage, 85% damage coverage"},
				"premium":       {Name: "Premium Property", CoveragePercent: 100, PremiumMultiplier: 2.2, Description: "Premium property coverage, 100% damage coverage"},
			},
			ClaimTypes: []string{"fire", "flood", "earthquake", "burglary", "structural_damage", "natural_disaster"},
		},
		"life": {
			Name: "Life Insurance",
			Plans: map[string]InsurancePlan{
				"term":      {Name: "Term Life", CoveragePercent: 100, PremiumMultiplier: 1.0, Description: "Term life insurance, full coverage for specified term"},
				"whole":     {Name: "Whole Life", CoveragePercent: 100, PremiumMultiplier: 2.5, Description: "Whole life insurance, lifetime coverage with investment"},
				"universal": {Name: "Universal Life", CoveragePercent: 100, PremiumMultiplier: 2.0, Description: "Universal life insurance, flexible premiums and coverage"},
			},
			ClaimTypes: []string{"death", "terminal_illness", "disability", "accidental_death"},
		},
		"health": {
			Name: "Health Insurance",
			Plans: map[string]InsurancePlan{
				"basic":   {Name: "Basic Health", CoveragePercent: 70, PremiumMultiplier: 1.0, Description: "Basic health coverage, 70% medical expenses"},
				"family":  {Name: "Family Health", CoveragePercent: 85, PremiumMultiplier: 1.8, Description: "Family health coverage, 85% medical expenses"},
				"premium": {Name: "Premium Health", CoveragePercent: 95, PremiumMultiplier: 2.5, Description: "Premium health coverage, 95% medical expenses"},
			},
			ClaimTypes: []string{"hospitalization", "surgery", "medication", "emergency", "specialist_consultation"},
		},
	}}
}

// Line returns the line of business for an insurance type.
func (c *InsuranceCatalog) Line(insuranceType string) (InsuranceLine, bool) {
	line, ok := c.lines[insuranceType]
	return line, ok
}

// Plan returns the plan for an insurance type and category.
func (c *InsuranceCatalog) Plan(insuranceType, category string) (InsurancePlan, bool) {
	line, ok := c.lines[insuranceType]
	if !ok {
		return InsurancePlan{}, false
	}
	plan, ok := line.Plans[category]
	return plan, ok
}

// ValidClaimType reports whether claimType is accepted by the line.
func (c *InsuranceCatalog) ValidClaimType(insuranceType, claimType string) bool {
	line, ok := c.lines[insuranceType]
	if !ok {
		return false
	}
	for _, t := range line.ClaimTypes {
		if t == claimType {
			return true
		}
	}
	return false
}

// InsuranceTypes returns all configured insurance types, sorted.
func (c *InsuranceCatalog) InsuranceTypes() []string {
	types := make([]string, 0, len(c.lines))
	for t := range c.lines {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Coverage computes the payout breakdown for amount under the plan
// identified by insuranceType and category.
func (c *InsuranceCatalog) Coverage(insuranceType, category string, amount float64) (*CoverageResult, error) {
	plan, ok := c.Plan(insuranceType, category)
	if !ok {
		return nil, fmt.Errorf("no plan for insurance type %q category %q", insuranceType, category)
	}
	covered := amount * plan.CoveragePercent / 100
	return &CoverageResult{
		ClaimedAmount:     amount,
		EligibleAmount:    amount,
		CoveragePercent:   plan.CoveragePercent,
		CoveredAmount:     covered,
		CustomerLiability: amount - covered,
	}, nil
}
