package domain

import (
	"fmt"
	"strings"
	"time"
)

// Claim lifecycle statuses.
const (
	StatusPending     = "pending"
	StatusUnderReview = "under_review"
	StatusApproved    = "approved"
	StatusRejected    = "rejected"
	StatusCancelled   = "cancelled"
	StatusDeleted     = "deleted"
)

// Claim handling priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Claim is an insurance claim under management. FraudScore and RiskLevel
// hold the most recent assessment and are zero until a claim has been
// analyzed at least once.
type Claim struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	ClaimNumber       string     `json:"claim_number"`
	CustomerID        string     `json:"customer_id"`
	PolicyNumber      string     `json:"policy_number"`
	InsuranceType     string     `json:"insurance_type"`
	InsuranceCategory string     `json:"insurance_category"`
	ClaimType         string     `json:"claim_type"`
	Amount            float64    `json:"amount"`
	Description       string     `json:"description"`
	IncidentDate      time.Time  `json:"incident_date"`
	Status            string     `json:"status"`
	Priority          string     `json:"priority"`
	AssignedTo        string     `json:"assigned_to,omitempty"`
	ProcessedBy       string     `json:"processed_by,omitempty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	FraudScore        float64    `json:"fraud_score"`
	RiskLevel         string     `json:"risk_level,omitempty"`
	CoveragePercent   float64    `json:"coverage_percent"`
	CoveredAmount     float64    `json:"covered_amount"`
	AdminNotes        string     `json:"admin_notes,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Validate checks the fields a caller must supply before a claim can be
// persisted. Coverage and priority are derived later from the catalog.
func (c *Claim) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("claim ID is required")
	}
	if c.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if c.CustomerID == "" {
		return fmt.Errorf("customer ID is required")
	}
	if c.InsuranceType == "" {
		return fmt.Errorf("insurance type is required")
	}
	if c.InsuranceCategory == "" {
		return fmt.Errorf("insurance category is required")
	}
	if c.ClaimType == "" {
		return fmt.Errorf("claim type is required")
	}
	if c.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// ClaimWithStats is a claim joined with aggregates over the same
// customer's other claims, which the analysis pipeline consumes.
type ClaimWithStats struct {
	Claim
	CustomerTotalClaims   int     `json:"customer_total_claims"`
	CustomerAvgFraudScore float64 `json:"customer_avg_fraud_score"`
}

// CustomerHistory summarizes a customer's prior claims, excluding the
// claim currently under analysis.
type CustomerHistory struct {
	TotalClaims    int     `json:"total_claims"`
	AvgFraudScore  float64 `json:"avg_fraud_score"`
	RejectedClaims int     `json:"rejected_claims"`
}

// CustomerProfile extends CustomerHistory with the fields the risk
// profiler needs.
type CustomerProfile struct {
	TotalClaims    int        `json:"total_claims"`
	ApprovedClaims int        `json:"approved_claims"`
	RejectedClaims int        `json:"rejected_claims"`
	AvgClaimAmount float64    `json:"avg_claim_amount"`
	FirstClaimAt   *time.Time `json:"first_claim_at,omitempty"`
	LastClaimAt    *time.Time `json:"last_claim_at,omitempty"`
}

// TimeBucket is a (day of week, hour of day) filing slot with how many
// of a customer's claims fall into it. DayOfWeek is 0=Sunday.
type TimeBucket struct {
	DayOfWeek int `json:"day_of_week"`
	HourOfDay int `json:"hour_of_day"`
	Frequency int `json:"frequency"`
}

// AmountBucket groups a customer's claims by amount rounded to the
// nearest thousand.
type AmountBucket struct {
	AmountRange   float64 `json:"amount_range"`
	Frequency     int     `json:"frequency"`
	AvgFraudScore float64 `json:"avg_fraud_score"`
}

// TypePattern aggregates claims sharing an insurance type and category.
type TypePattern struct {
	InsuranceType     string  `json:"insurance_type"`
	InsuranceCategory string  `json:"insurance_category"`
	Count             int     `json:"count"`
	AvgAmount         float64 `json:"avg_amount"`
	AvgFraudScore     float64 `json:"avg_fraud_score"`
}

// Document is a file attached to a claim as supporting evidence.
type Document struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	ClaimID      string    `json:"claim_id"`
	FileName     string    `json:"file_name"`
	DocumentType string    `json:"document_type"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// PriorityFor derives the handling priority of a new claim from its
// amount and line of business. Very large claims escalate regardless of
// type; life and health claims never start below medium, and motor
// accident claims bump low to medium.
func PriorityFor(insuranceType, claimType string, amount float64) string {
	switch {
	case amount > 50_000_000:
		return PriorityUrgent
	case amount > 10_000_000:
		return PriorityHigh
	}
	priority := PriorityMedium
	if amount < 500_000 {
		priority = PriorityLow
	}
	switch insuranceType {
	case "life", "health":
		if priority == PriorityLow {
			priority = PriorityMedium
		}
	case "motor":
		if priority == PriorityLow && strings.EqualFold(claimType, "accident") {
			priority = PriorityMedium
		}
	}
	return priority
}
