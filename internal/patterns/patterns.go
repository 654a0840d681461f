// Package patterns detects suspicious regularities across a
// customer's claims: clusters of similar claims, repeated filing
// times, and repeated amounts.
package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

// Weekday names indexed the way time buckets store them, 0=Sunday.
var weekdays = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Detector runs the pattern queries for one claim. A failed query is
// logged and skipped so a storage hiccup degrades detection instead of
// failing the whole analysis.
type Detector struct {
	repo   domain.Repository
	logger *slog.Logger
}

// NewDetector creates a pattern detector backed by repo.
func NewDetector(repo domain.Repository, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{repo: repo, logger: logger}
}

// Detect runs all pattern detectors for claim and merges their output.
func (d *Detector) Detect(ctx context.Context, tenantID string, claim *domain.Claim) []domain.Pattern {
	var patterns []domain.Pattern
	patterns = append(patterns, d.similarClaims(ctx, tenantID, claim)...)
	patterns = append(patterns, d.timeBuckets(ctx, tenantID, claim)...)
	patterns = append(patterns, d.amountBuckets(ctx, tenantID, claim)...)
	return patterns
}

// HistoricalPatterns aggregates the customer's prior claims by
// insurance type and category for the risk analysis track.
func (d *Detector) HistoricalPatterns(ctx context.Context, tenantID string, claim *domain.Claim) []domain.TypePattern {
	groups, err := d.repo.GetTypePatterns(ctx, tenantID, claim)
	if err != nil {
		d.logger.Warn("type pattern query failed", "tenant_id", tenantID, "claim_id", claim.ID, "error", err)
		return nil
	}
	return groups
}

func (d *Detector) similarClaims(ctx context.Context, tenantID string, claim *domain.Claim) []domain.Pattern {
	similar, err := d.repo.GetSimilarClaims(ctx, tenantID, claim)
	if err != nil {
		d.logger.Warn("similar claim query failed", "tenant_id", tenantID, "claim_id", claim.ID, "error", err)
		return nil
	}
	count := len(similar)
	if count <= 2 {
		return nil
	}
	severity := domain.SeverityMedium
	if count > 5 {
		severity = domain.SeverityHigh
	}
	return []domain.Pattern{{
		PatternType: "similar_claims",
		Description: fmt.Sprintf("%d similar claims by the same customer", count),
		Frequency:   count,
		Confidence:  85,
		Severity:    severity,
	}}
}

func (d *Detector) timeBuckets(ctx context.Context, tenantID string, claim *domain.Claim) []domain.Pattern {
	buckets, err := d.repo.GetTimeBuckets(ctx, tenantID, claim.CustomerID, claim.ID)
	if err != nil {
		d.logger.Warn("time bucket query failed", "tenant_id", tenantID, "claim_id", claim.ID, "error", err)
		return nil
	}
	var patterns []domain.Pattern
	for _, b := range buckets {
		if b.Frequency <= 1 {
			continue
		}
		day := "unknown day"
		if b.DayOfWeek >= 0 && b.DayOfWeek < len(weekdays) {
			day = weekdays[b.DayOfWeek]
		}
		patterns = append(patterns, domain.Pattern{
			PatternType: "filing_time",
			Description: fmt.Sprintf("%d claims filed on %s around %02d:00", b.Frequency, day, b.HourOfDay),
			Frequency:   b.Frequency,
			Confidence:  math.Min(float64(b.Frequency)*15, 85),
		})
	}
	return patterns
}

func (d *Detector) amountBuckets(ctx context.Context, tenantID string, claim *domain.Claim) []domain.Pattern {
	buckets, err := d.repo.GetAmountBuckets(ctx, tenantID, claim.CustomerID, claim.ID)
	if err != nil {
		d.logger.Warn("amount bucket query failed", "tenant_id", tenantID, "claim_id", claim.ID, "error", err)
		return nil
	}
	var patterns []domain.Pattern
	for _, b := range buckets {
		if b.Frequency <= 1 {
			continue
		}
		patterns = append(patterns, domain.Pattern{
			PatternType: "repeat_amount",
			Description: fmt.Sprintf("%d claims near %.0f", b.Frequency, b.AmountRange),
			Frequency:   b.Frequency,
			Confidence:  math.Min(float64(b.Frequency)*20, 90),
		})
	}
	return patterns
}
