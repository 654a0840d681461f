package domain

import (
	"strings"
	"time"
)

// Risk levels for a claim's fraud assessment, ordered from least to
// most severe.
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

// Severity grades for risk factors and detected patterns.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Recommendation and finding severities use the lower-cased form.
const (
	FindingLow    = "low"
	FindingMedium = "medium"
	FindingHigh   = "high"
)

// Recommended action types.
const (
	ActionApprove         = "approve"
	ActionInvestigate     = "investigate"
	ActionPartialApproval = "partial_approval"
)

// Admin responses to a recommendation.
const (
	AdminActionAccept  = "accept"
	AdminActionReview  = "review"
	AdminActionDismiss = "dismiss"
)

// FraudAssessment is the fixed-weight fraud score of a single claim.
// LegitimacyScore is the complement of FraudScore, floored at zero.
type FraudAssessment struct {
	FraudScore      float64  `json:"fraud_score"`
	LegitimacyScore float64  `json:"legitimacy_score"`
	RiskLevel       string   `json:"risk_level"`
	Reasons         []string `json:"reasons,omitempty"`
}

// ReasonSummary joins the fired conditions into a single display line.
func (fa FraudAssessment) ReasonSummary() string {
	return strings.Join(fa.Reasons, "; ")
}

// RiskFactor is one weighted contribution to the risk analysis track.
type RiskFactor struct {
	FactorName  string  `json:"factor_name"`
	Description string  `json:"description"`
	Severity    string  `json:"severity"`
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
}

// HistoricalPattern describes repeated claim shapes in a customer's
// history, grouped by insurance type and category.
type HistoricalPattern struct {
	PatternType   string  `json:"pattern_type"`
	Description   string  `json:"description"`
	Frequency     int     `json:"frequency"`
	Confidence    float64 `json:"confidence"`
	AvgAmount     float64 `json:"avg_amount"`
	AvgFraudScore float64 `json:"avg_fraud_score"`
}

// RiskAnalysis is the weighted-factor risk track. It is reported
// alongside the fraud assessment and never folded into it.
type RiskAnalysis struct {
	RiskFactors        []RiskFactor        `json:"risk_factors"`
	HistoricalPatterns []HistoricalPattern `json:"historical_patterns"`
	OverallRiskScore   float64             `json:"overall_risk_score"`
}

// Pattern is a suspicious regularity detected across a customer's
// claims.
type Pattern struct {
	PatternType string  `json:"pattern_type"`
	Description string  `json:"description"`
	Frequency   int     `json:"frequency"`
	Confidence  float64 `json:"confidence"`
	Severity    string  `json:"severity,omitempty"`
}

// Finding is a headline observation surfaced to reviewers.
type Finding struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Severity    string  `json:"severity"`
	Confidence  float64 `json:"confidence"`
}

// Recommendation is a suggested disposition for a claim. Several may
// apply to the same analysis.
type Recommendation struct {
	ID                 string   `json:"id"`
	ActionType         string   `json:"action_type"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Priority           string   `json:"priority"`
	Confidence         float64  `json:"confidence"`
	ExpectedImpact     string   `json:"expected_impact,omitempty"`
	SuggestedAmount    float64  `json:"suggested_amount,omitempty"`
	SupportingEvidence []string `json:"supporting_evidence,omitempty"`
}

// DocumentAnalysis is the verification verdict for one attached
// document. Scores are in [0,1].
type DocumentAnalysis struct {
	DocumentID   string         `json:"document_id"`
	DocumentType string         `json:"document_type"`
	Authenticity float64        `json:"authenticity"`
	Quality      float64        `json:"quality"`
	Completeness float64        `json:"completeness"`
	Issues       []string       `json:"issues,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// AnalysisResult is the full output bundle of one analysis run.
type AnalysisResult struct {
	OverallConfidence int                `json:"overall_confidence"`
	FraudRiskLevel    string             `json:"fraud_risk_level"`
	LegitimacyScore   float64            `json:"legitimacy_score"`
	RecommendedPayout float64            `json:"recommended_payout"`
	FraudAssessment   FraudAssessment    `json:"fraud_assessment"`
	KeyFindings       []Finding          `json:"key_findings"`
	RiskAnalysis      *RiskAnalysis      `json:"risk_analysis,omitempty"`
	Recommendations   []Recommendation   `json:"recommendations,omitempty"`
	DocumentAnalysis  []DocumentAnalysis `json:"document_analysis,omitempty"`
	PatternDetection  []Pattern          `json:"pattern_detection,omitempty"`
}

// AnalysisRecord is one persisted analysis run. Records are append
// only; re-analyzing a claim adds a new record.
type AnalysisRecord struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	ClaimID    string         `json:"claim_id"`
	FraudScore float64        `json:"fraud_score"`
	RiskLevel  string         `json:"risk_level"`
	Confidence int            `json:"confidence"`
	Result     AnalysisResult `json:"result"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ActionRecord logs an admin's response to a recommendation.
type ActionRecord struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	ClaimID          string    `json:"claim_id"`
	RecommendationID string    `json:"recommendation_id"`
	Action           string    `json:"action"`
	AdminID          string    `json:"admin_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// AnalysisStats is the tenant-wide summary served by the stats
// endpoint.
type AnalysisStats struct {
	TotalAnalyses int     `json:"total_analyses"`
	AvgConfidence float64 `json:"avg_confidence"`
	AvgFraudScore float64 `json:"avg_fraud_score"`
	CriticalRisk  int     `json:"critical_risk"`
	HighRisk      int     `json:"high_risk"`
	MediumRisk    int     `json:"medium_risk"`
	LowRisk       int     `json:"low_risk"`
}
