package engine

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/opensource-insurance/kestrel/internal/domain"
)

// KeyFindings surfaces the headline observations for reviewers. Each
// trigger is independent; none, some, or all may fire.
func KeyFindings(claim *domain.ClaimWithStats, fa domain.FraudAssessment, docs []domain.DocumentAnalysis) []domain.Finding {
	var findings []domain.Finding

	if fa.FraudScore > 0.7 {
		findings = append(findings, domain.Finding{
			Title:       "High Fraud Risk",
			Description: fmt.Sprintf("Fraud score %.2f exceeds the high-risk threshold: %s", fa.FraudScore, fa.ReasonSummary()),
			Severity:    domain.FindingHigh,
			Confidence:  92,
		})
	}

	if claim.CustomerTotalClaims > 3 {
		severity := domain.FindingMedium
		if claim.CustomerTotalClaims > 5 {
			severity = domain.FindingHigh
		}
		findings = append(findings, domain.Finding{
			Title:       "Frequent Claims History",
			Description: fmt.Sprintf("Customer has filed %d claims", claim.CustomerTotalClaims),
			Severity:    severity,
			Confidence:  88,
		})
	}

	if claim.Amount > 100_000 {
		findings = append(findings, domain.Finding{
			Title:       "High-Value Claim",
			Description: fmt.Sprintf("Claim amount %.2f warrants additional scrutiny", claim.Amount),
			Severity:    domain.FindingMedium,
			Confidence:  95,
		})
	}

	for _, doc := range docs {
		if len(doc.Issues) > 0 {
			findings = append(findings, domain.Finding{
				Title:       "Document Verification Issues",
				Description: fmt.Sprintf("%d attached documents raised verification issues", countDocsWithIssues(docs)),
				Severity:    domain.FindingMedium,
				Confidence:  90,
			})
			break
		}
	}

	return findings
}

func countDocsWithIssues(docs []domain.DocumentAnalysis) int {
	n := 0
	for _, doc := range docs {
		if len(doc.Issues) > 0 {
			n++
		}
	}
	return n
}

// Recommendations evaluates every disposition rule against the fraud
// assessment. Rules are independent, so a single analysis can carry
// several recommendations.
func Recommendations(claim *domain.ClaimWithStats, fa domain.FraudAssessment) []domain.Recommendation {
	var recs []domain.Recommendation

	if fa.RiskLevel == domain.RiskLow && fa.LegitimacyScore > 0.8 {
		recs = append(recs, domain.Recommendation{
			ID:             uuid.New().String(),
			ActionType:     domain.ActionApprove,
			Title:          "Auto-Approve Claim",
			Description:    fmt.Sprintf("Low fraud risk and legitimacy %.2f support automatic approval", fa.LegitimacyScore),
			Priority:       domain.PriorityHigh,
			Confidence:     92,
			ExpectedImpact: "Faster processing, improved customer satisfaction",
			SupportingEvidence: []string{
				fmt.Sprintf("fraud score %.2f", fa.FraudScore),
				fmt.Sprintf("legitimacy score %.2f", fa.LegitimacyScore),
			},
		})
	}

	if fa.RiskLevel == domain.RiskHigh || fa.RiskLevel == domain.RiskCritical {
		recs = append(recs, domain.Recommendation{
			ID:                 uuid.New().String(),
			ActionType:         domain.ActionInvestigate,
			Title:              "Open Fraud Investigation",
			Description:        fmt.Sprintf("Risk level %s requires investigation before any payout", fa.RiskLevel),
			Priority:           domain.PriorityUrgent,
			Confidence:         95,
			ExpectedImpact:     "Prevent fraudulent payouts, protect company assets",
			SupportingEvidence: fa.Reasons,
		})
	}

	if fa.LegitimacyScore > 0.5 && fa.LegitimacyScore < 0.8 {
		suggested := math.Round(claim.Amount * fa.LegitimacyScore)
		recs = append(recs, domain.Recommendation{
			ID:              uuid.New().String(),
			ActionType:      domain.ActionPartialApproval,
			Title:           "Partial Approval",
			Description:     fmt.Sprintf("Moderate legitimacy %.2f supports a reduced settlement of %.0f", fa.LegitimacyScore, suggested),
			Priority:        domain.PriorityMedium,
			Confidence:      78,
			ExpectedImpact:  "Balance risk mitigation with customer satisfaction",
			SuggestedAmount: suggested,
		})
	}

	return recs
}
