package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

// timestampLayouts covers the formats our drivers hand back for
// timestamp expressions: sqlite's stored text and postgres values that
// arrive as text.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// aggTime scans MIN/MAX timestamp expressions. Aggregates lose the
// column type, so sqlite returns raw text that database/sql will not
// convert into time.Time on its own.
type aggTime struct {
	Time  time.Time
	Valid bool
}

func (a *aggTime) Scan(value any) error {
	a.Time, a.Valid = time.Time{}, false
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		a.Time, a.Valid = v, true
		return nil
	case []byte:
		return a.parse(string(v))
	case string:
		return a.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into timestamp", value)
	}
}

func (a *aggTime) parse(s string) error {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			a.Time, a.Valid = t, true
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// GetCustomerHistory aggregates a customer's prior claims, excluding
// the claim under analysis.
func (r *SQLRepository) GetCustomerHistory(ctx context.Context, tenantID string, customerID string, excludeClaimID string) (*domain.CustomerHistory, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*),
			   COALESCE(AVG(fraud_score), 0),
			   COUNT(CASE WHEN status = 'rejected' THEN 1 END)
		FROM claims
		WHERE tenant_id = ? AND customer_id = ? AND id != ?
	`

	var h domain.CustomerHistory
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, customerID, excludeClaimID).Scan(
		&h.TotalClaims, &h.AvgFraudScore, &h.RejectedClaims,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// GetCustomerProfile aggregates the fields the risk profiler needs.
func (r *SQLRepository) GetCustomerProfile(ctx context.Context, tenantID string, customerID string, excludeClaimID string) (*domain.CustomerProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*),
			   COUNT(CASE WHEN status = 'approved' THEN 1 END),
			   COUNT(CASE WHEN status = 'rejected' THEN 1 END),
			   COALESCE(AVG(amount), 0),
			   MIN(created_at),
			   MAX(created_at)
		FROM claims
		WHERE tenant_id = ? AND customer_id = ? AND id != ?
	`

	var p domain.CustomerProfile
	var first, last aggTime
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, customerID, excludeClaimID).Scan(
		&p.TotalClaims, &p.ApprovedClaims, &p.RejectedClaims, &p.AvgClaimAmount, &first, &last,
	)
	if err != nil {
		return nil, err
	}
	if first.Valid {
		t := first.Time
		p.FirstClaimAt = &t
	}
	if last.Valid {
		t := last.Time
		p.LastClaimAt = &t
	}
	return &p, nil
}

// GetSimilarClaims finds the customer's other claims that share the
// insurance type or category, or fall within 20% of the amount.
func (r *SQLRepository) GetSimilarClaims(ctx context.Context, tenantID string, claim *domain.Claim) ([]*domain.Claim, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + claimColumns + `
		FROM claims
		WHERE tenant_id = ? AND customer_id = ? AND id != ?
		  AND (insurance_type = ? OR insurance_category = ? OR ABS(amount - ?) < ?)
		ORDER BY created_at DESC
		LIMIT 25
	`

	tolerance := claim.Amount * 0.2
	rows, err := r.db.QueryContext(ctx, r.rebind(query),
		tenantID, claim.CustomerID, claim.ID,
		claim.InsuranceType, claim.InsuranceCategory, claim.Amount, tolerance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []*domain.Claim
	for rows.Next() {
		var c domain.Claim
		if err := scanClaim(rows, &c); err != nil {
			return nil, err
		}
		claims = append(claims, &c)
	}
	return claims, rows.Err()
}

// GetTimeBuckets groups the customer's other claims by filing day of
// week and hour of day. Date-part extraction differs per driver.
func (r *SQLRepository) GetTimeBuckets(ctx context.Context, tenantID string, customerID string, excludeClaimID string) ([]domain.TimeBucket, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var query string
	if r.driver == "postgres" {
		query = `
			SELECT EXTRACT(DOW FROM created_at)::int AS dow,
				   EXTRACT(HOUR FROM created_at)::int AS hod,
				   COUNT(*)
			FROM claims
			WHERE tenant_id = ? AND customer_id = ? AND id != ?
			GROUP BY dow, hod
			HAVING COUNT(*) > 1
		`
	} else {
		query = `
			SELECT CAST(strftime('%w', created_at) AS INTEGER) AS dow,
				   CAST(strftime('%H', created_at) AS INTEGER) AS hod,
				   COUNT(*)
			FROM claims
			WHERE tenant_id = ? AND customer_id = ? AND id != ?
			GROUP BY dow, hod
			HAVING COUNT(*) > 1
		`
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, customerID, excludeClaimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []domain.TimeBucket
	for rows.Next() {
		var b domain.TimeBucket
		if err := rows.Scan(&b.DayOfWeek, &b.HourOfDay, &b.Frequency); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// GetAmountBuckets groups the customer's other claims by amount
// rounded to the nearest thousand.
func (r *SQLRepository) GetAmountBuckets(ctx context.Context, tenantID string, customerID string, excludeClaimID string) ([]domain.AmountBucket, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ROUND(amount / 1000) * 1000 AS bucket,
			   COUNT(*),
			   COALESCE(AVG(fraud_score), 0)
		FROM claims
		WHERE tenant_id = ? AND customer_id = ? AND id != ?
		GROUP BY bucket
		HAVING COUNT(*) > 1
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, customerID, excludeClaimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []domain.AmountBucket
	for rows.Next() {
		var b domain.AmountBucket
		if err := rows.Scan(&b.AmountRange, &b.Frequency, &b.AvgFraudScore); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// GetTypePatterns groups the customer's other claims on the same
// insurance type or category as the claim under analysis.
func (r *SQLRepository) GetTypePatterns(ctx context.Context, tenantID string, claim *domain.Claim) ([]domain.TypePattern, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT insurance_type, insurance_category, COUNT(*),
			   COALESCE(AVG(amount), 0), COALESCE(AVG(fraud_score), 0)
		FROM claims
		WHERE tenant_id = ? AND customer_id = ? AND id != ?
		  AND (insurance_type = ? OR insurance_category = ?)
		GROUP BY insurance_type, insurance_category
		HAVING COUNT(*) > 1
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, claim.CustomerID, claim.ID,
		claim.InsuranceType, claim.InsuranceCategory)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []domain.TypePattern
	for rows.Next() {
		var g domain.TypePattern
		if err := rows.Scan(&g.InsuranceType, &g.InsuranceCategory, &g.Count, &g.AvgAmount, &g.AvgFraudScore); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// GetAnalysisStats summarizes all analyses for a tenant.
func (r *SQLRepository) GetAnalysisStats(ctx context.Context, tenantID string) (*domain.AnalysisStats, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*),
			   COALESCE(AVG(confidence), 0),
			   COALESCE(AVG(fraud_score), 0),
			   COUNT(CASE WHEN risk_level = 'CRITICAL' THEN 1 END),
			   COUNT(CASE WHEN risk_level = 'HIGH' THEN 1 END),
			   COUNT(CASE WHEN risk_level = 'MEDIUM' THEN 1 END),
			   COUNT(CASE WHEN risk_level = 'LOW' THEN 1 END)
		FROM claim_analyses
		WHERE tenant_id = ?
	`

	var s domain.AnalysisStats
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(
		&s.TotalAnalyses, &s.AvgConfidence, &s.AvgFraudScore,
		&s.CriticalRisk, &s.HighRisk, &s.MediumRisk, &s.LowRisk,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
