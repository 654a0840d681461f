package patterns

import (
	"context"
	"errors"
	"testing"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

// stubRepo feeds canned query results into the detector.
type stubRepo struct {
	domain.Repository

	similar []*domain.Claim
	times   []domain.TimeBucket
	amounts []domain.AmountBucket
	groups  []domain.TypePattern
	err     error
}

func (r *stubRepo) GetSimilarClaims(ctx context.Context, tenantID string, claim *domain.Claim) ([]*domain.Claim, error) {
	return r.similar, r.err
}

func (r *stubRepo) GetTimeBuckets(ctx context.Context, tenantID, customerID, excludeClaimID string) ([]domain.TimeBucket, error) {
	return r.times, r.err
}

func (r *stubRepo) GetAmountBuckets(ctx context.Context, tenantID, customerID, excludeClaimID string) ([]domain.AmountBucket, error) {
	return r.amounts, r.err
}

func (r *stubRepo) GetTypePatterns(ctx context.Context, tenantID string, claim *domain.Claim) ([]domain.TypePattern, error) {
	return r.groups, r.err
}

func claims(n int) []*domain.Claim {
	out := make([]*domain.Claim, n)
	for i := range out {
		out[i] = &domain.Claim{ID: "c", CustomerID: "cust-1"}
	}
	return out
}

func TestDetectSimilarClaims(t *testing.T) {
	ctx := context.Background()
	claim := &domain.Claim{ID: "claim-1", CustomerID: "cust-1"}

	t.Run("BelowThreshold", func(t *testing.T) {
		d := NewDetector(&stubRepo{similar: claims(2)}, nil)
		if got := d.Detect(ctx, "tenant-a", claim); len(got) != 0 {
			t.Errorf("expected no patterns, got %v", got)
		}
	})

	t.Run("MediumCluster", func(t *testing.T) {
		d := NewDetector(&stubRepo{similar: claims(3)}, nil)
		got := d.Detect(ctx, "tenant-a", claim)
		if len(got) != 1 {
			t.Fatalf("expected 1 pattern, got %d", len(got))
		}
		p := got[0]
		if p.PatternType != "similar_claims" || p.Frequency != 3 {
			t.Errorf("pattern = %+v", p)
		}
		if p.Severity != domain.SeverityMedium || p.Confidence != 85 {
			t.Errorf("severity = %q confidence = %v", p.Severity, p.Confidence)
		}
	})

	t.Run("LargeClusterEscalates", func(t *testing.T) {
		d := NewDetector(&stubRepo{similar: claims(6)}, nil)
		got := d.Detect(ctx, "tenant-a", claim)
		if len(got) != 1 || got[0].Severity != domain.SeverityHigh {
			t.Errorf("patterns = %+v", got)
		}
	})
}

func TestDetectTimeBuckets(t *testing.T) {
	ctx := context.Background()
	claim := &domain.Claim{ID: "claim-1", CustomerID: "cust-1"}

	d := NewDetector(&stubRepo{
		times: []domain.TimeBucket{
			{DayOfWeek: 0, HourOfDay: 9, Frequency: 3},
			{DayOfWeek: 2, HourOfDay: 14, Frequency: 1},
			{DayOfWeek: 6, HourOfDay: 23, Frequency: 8},
		},
	}, nil)

	got := d.Detect(ctx, "tenant-a", claim)
	if len(got) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(got))
	}

	if got[0].PatternType != "filing_time" || got[0].Confidence != 45 {
		t.Errorf("first pattern = %+v", got[0])
	}
	if got[0].Description != "3 claims filed on Sunday around 09:00" {
		t.Errorf("description = %q", got[0].Description)
	}

	// confidence caps at 85
	if got[1].Confidence != 85 {
		t.Errorf("capped confidence = %v", got[1].Confidence)
	}
	if got[1].Description != "8 claims filed on Saturday around 23:00" {
		t.Errorf("description = %q", got[1].Description)
	}
}

func TestDetectAmountBuckets(t *testing.T) {
	ctx := context.Background()
	claim := &domain.Claim{ID: "claim-1", CustomerID: "cust-1"}

	d := NewDetector(&stubRepo{
		amounts: []domain.AmountBucket{
			{AmountRange: 25000, Frequency: 2},
			{AmountRange: 5000, Frequency: 1},
			{AmountRange: 10000, Frequency: 9},
		},
	}, nil)

	got := d.Detect(ctx, "tenant-a", claim)
	if len(got) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(got))
	}
	if got[0].PatternType != "repeat_amount" || got[0].Confidence != 40 {
		t.Errorf("first pattern = %+v", got[0])
	}
	if got[1].Confidence != 90 {
		t.Errorf("capped confidence = %v", got[1].Confidence)
	}
}

func TestDetectDegradesOnQueryFailure(t *testing.T) {
	ctx := context.Background()
	claim := &domain.Claim{ID: "claim-1", CustomerID: "cust-1"}

	d := NewDetector(&stubRepo{err: errors.New("connection reset")}, nil)
	if got := d.Detect(ctx, "tenant-a", claim); len(got) != 0 {
		t.Errorf("expected no patterns on failure, got %v", got)
	}
	if got := d.HistoricalPatterns(ctx, "tenant-a", claim); got != nil {
		t.Errorf("expected nil type patterns on failure, got %v", got)
	}
}

func TestHistoricalPatterns(t *testing.T) {
	ctx := context.Background()
	claim := &domain.Claim{ID: "claim-1", CustomerID: "cust-1"}

	groups := []domain.TypePattern{
		{InsuranceType: "motor", InsuranceCategory: "gold", Count: 4},
	}
	d := NewDetector(&stubRepo{groups: groups}, nil)

	got := d.HistoricalPatterns(ctx, "tenant-a", claim)
	if len(got) != 1 || got[0].Count != 4 {
		t.Errorf("type patterns = %+v", got)
	}
}
