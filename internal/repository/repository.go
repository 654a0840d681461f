// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const claimColumns = `id, tenant_id, claim_number, customer_id,
	   COALESCE(policy_number, ''), insurance_type, insurance_category, claim_type,
	   amount, COALESCE(description, ''), incident_date, status, priority,
	   COALESCE(assigned_to, ''), COALESCE(processed_by, ''), processed_at,
	   fraud_score, COALESCE(risk_level, ''), coverage_percent, covered_amount,
	   COALESCE(admin_notes, ''), created_at, updated_at`

func scanClaim(row interface{ Scan(...any) error }, c *domain.Claim) error {
	var processedAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.TenantID, &c.ClaimNumber, &c.CustomerID,
		&c.PolicyNumber, &c.InsuranceType, &c.InsuranceCategory, &c.ClaimType,
		&c.Amount, &c.Description, &c.IncidentDate, &c.Status, &c.Priority,
		&c.AssignedTo, &c.ProcessedBy, &processedAt,
		&c.FraudScore, &c.RiskLevel, &c.CoveragePercent, &c.CoveredAmount,
		&c.AdminNotes, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if processedAt.Valid {
		t := processedAt.Time
		c.ProcessedAt = &t
	}
	return nil
}

// SaveClaim stores a claim with tenant isolation.
func (r *SQLRepository) SaveClaim(ctx context.Context, tenantID string, claim *domain.Claim) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO claims (
			id, tenant_id, claim_number, customer_id, policy_number,
			insurance_type, insurance_category, claim_type, amount, description,
			incident_date, status, priority, assigned_to, processed_by, processed_at,
			fraud_score, risk_level, coverage_percent, covered_amount,
			admin_notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		claim.ID, tenantID, claim.ClaimNumber, claim.CustomerID, claim.PolicyNumber,
		claim.InsuranceType, claim.InsuranceCategory, claim.ClaimType, claim.Amount, claim.Description,
		claim.IncidentDate, claim.Status, claim.Priority, claim.AssignedTo, claim.ProcessedBy, claim.ProcessedAt,
		claim.FraudScore, claim.RiskLevel, claim.CoveragePercent, claim.CoveredAmount,
		claim.AdminNotes, claim.CreatedAt, claim.UpdatedAt,
	)
	return err
}

// GetClaim retrieves a claim by ID with tenant isolation.
func (r *SQLRepository) GetClaim(ctx context.Context, tenantID string, claimID string) (*domain.Claim, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + claimColumns + ` FROM claims WHERE tenant_id = ? AND id = ?`

	var claim domain.Claim
	err := scanClaim(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, claimID), &claim)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

// GetClaimWithStats retrieves a claim together with aggregates over the
// customer's other claims. Scalar subqueries keep the statement
// portable across SQLite and PostgreSQL.
func (r *SQLRepository) GetClaimWithStats(ctx context.Context, tenantID string, claimID string) (*domain.ClaimWithStats, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT c.id, c.tenant_id, c.claim_number, c.customer_id,
			   COALESCE(c.policy_number, ''), c.insurance_type, c.insurance_category, c.claim_type,
			   c.amount, COALESCE(c.description, ''), c.incident_date, c.status, c.priority,
			   COALESCE(c.assigned_to, ''), COALESCE(c.processed_by, ''), c.processed_at,
			   c.fraud_score, COALESCE(c.risk_level, ''), c.coverage_percent, c.covered_amount,
			   COALESCE(c.admin_notes, ''), c.created_at, c.updated_at,
			   (SELECT COUNT(*) FROM claims o
				WHERE o.tenant_id = c.tenant_id AND o.customer_id = c.customer_id AND o.id != c.id),
			   (SELECT COALESCE(AVG(o.fraud_score), 0) FROM claims o
				WHERE o.tenant_id = c.tenant_id AND o.customer_id = c.customer_id AND o.id != c.id)
		FROM claims c
		WHERE c.tenant_id = ? AND c.id = ?
	`

	var cs domain.ClaimWithStats
	var processedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, claimID).Scan(
		&cs.ID, &cs.TenantID, &cs.ClaimNumber, &cs.CustomerID,
		&cs.PolicyNumber, &cs.InsuranceType, &cs.InsuranceCategory, &cs.ClaimType,
		&cs.Amount, &cs.Description, &cs.IncidentDate, &cs.Status, &cs.Priority,
		&cs.AssignedTo, &cs.ProcessedBy, &processedAt,
		&cs.FraudScore, &cs.RiskLevel, &cs.CoveragePercent, &cs.CoveredAmount,
		&cs.AdminNotes, &cs.CreatedAt, &cs.UpdatedAt,
		&cs.CustomerTotalClaims, &cs.CustomerAvgFraudScore,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		t := processedAt.Time
		cs.ProcessedAt = &t
	}
	return &cs, nil
}

// UpdateClaimAssessment mirrors the latest analysis onto the claim row.
func (r *SQLRepository) UpdateClaimAssessment(ctx context.Context, tenantID string, claimID string, fraudScore float64, riskLevel string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE claims
		SET fraud_score = ?, risk_level = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	return r.execExpectingRow(ctx, query, fraudScore, riskLevel, time.Now().UTC(), tenantID, claimID)
}

// UpdateClaimStatus transitions a claim and records who processed it.
func (r *SQLRepository) UpdateClaimStatus(ctx context.Context, tenantID string, claimID string, status string, processedBy string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	query := `
		UPDATE claims
		SET status = ?, processed_by = ?, processed_at = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	return r.execExpectingRow(ctx, query, status, processedBy, now, now, tenantID, claimID)
}

// FlagClaimForReview moves a claim to manual review at high priority
// and appends a note for the reviewer.
func (r *SQLRepository) FlagClaimForReview(ctx context.Context, tenantID string, claimID string, note string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE claims
		SET status = ?, priority = ?,
			admin_notes = CASE WHEN COALESCE(admin_notes, '') = '' THEN ? ELSE admin_notes || '
' || ? END,
			updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	return r.execExpectingRow(ctx, query,
		domain.StatusUnderReview, domain.PriorityHigh, note, note, time.Now().UTC(), tenantID, claimID)
}

// SaveDocument stores a document reference with tenant isolation.
func (r *SQLRepository) SaveDocument(ctx context.Context, tenantID string, doc *domain.Document) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO claim_documents (id, tenant_id, claim_id, file_name, document_type, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		doc.ID, tenantID, doc.ClaimID, doc.FileName, doc.DocumentType, doc.UploadedAt)
	return err
}

// ListClaimDocuments retrieves all documents attached to a claim.
func (r *SQLRepository) ListClaimDocuments(ctx context.Context, tenantID string, claimID string) ([]*domain.Document, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, claim_id, file_name, document_type, uploaded_at
		FROM claim_documents
		WHERE tenant_id = ? AND claim_id = ?
		ORDER BY uploaded_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		var doc domain.Document
		if err := rows.Scan(&doc.ID, &doc.TenantID, &doc.ClaimID, &doc.FileName, &doc.DocumentType, &doc.UploadedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// SaveAnalysis appends an analysis record with tenant isolation.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, tenantID string, record *domain.AnalysisRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	result, err := json.Marshal(record.Result)
	if err != nil {
		return fmt.Errorf("failed to encode analysis result: %w", err)
	}

	query := `
		INSERT INTO claim_analyses (id, tenant_id, claim_id, fraud_score, risk_level, confidence, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		record.ID, tenantID, record.ClaimID, record.FraudScore, record.RiskLevel,
		record.Confidence, string(result), record.CreatedAt)
	return err
}

// ListAnalyses retrieves a claim's analysis history, newest first.
func (r *SQLRepository) ListAnalyses(ctx context.Context, tenantID string, claimID string, limit int) ([]*domain.AnalysisRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, tenant_id, claim_id, fraud_score, risk_level, confidence, result, created_at
		FROM claim_analyses
		WHERE tenant_id = ? AND claim_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, claimID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.AnalysisRecord
	for rows.Next() {
		var rec domain.AnalysisRecord
		var result string
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.ClaimID, &rec.FraudScore, &rec.RiskLevel,
			&rec.Confidence, &result, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(result), &rec.Result); err != nil {
			return nil, fmt.Errorf("failed to decode analysis %s: %w", rec.ID, err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// SaveAction logs an admin action with tenant isolation.
func (r *SQLRepository) SaveAction(ctx context.Context, tenantID string, action *domain.ActionRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO claim_actions (id, tenant_id, claim_id, recommendation_id, action, admin_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		action.ID, tenantID, action.ClaimID, action.RecommendationID, action.Action,
		action.AdminID, action.CreatedAt)
	return err
}

// SaveRiskRule stores a risk rule, upserting on (id, tenant, version).
func (r *SQLRepository) SaveRiskRule(ctx context.Context, tenantID string, rule *domain.RiskRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO risk_rules (
			id, tenant_id, name, description, version, expression, severity, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Severity, rule.Weight, enabled,
		now, now,
	)
	return err
}

// GetRiskRule retrieves the latest enabled version of a rule.
func (r *SQLRepository) GetRiskRule(ctx context.Context, tenantID string, ruleID string) (*domain.RiskRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, COALESCE(description, ''), version, expression, severity, weight, enabled
		FROM risk_rules
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var rule domain.RiskRule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Version, &rule.Expression, &rule.Severity, &rule.Weight, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	return &rule, nil
}

// ListRiskRules retrieves all enabled risk rules for a tenant.
func (r *SQLRepository) ListRiskRules(ctx context.Context, tenantID string) ([]*domain.RiskRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, COALESCE(description, ''), version, expression, severity, weight, enabled
		FROM risk_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rulesList []*domain.RiskRule
	for rows.Next() {
		var rule domain.RiskRule
		var enabled int
		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Version, &rule.Expression, &rule.Severity, &rule.Weight, &enabled,
		); err != nil {
			return nil, err
		}
		rule.Enabled = enabled == 1
		rulesList = append(rulesList, &rule)
	}
	return rulesList, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// execExpectingRow runs an UPDATE and maps zero affected rows to
// ErrNotFound.
func (r *SQLRepository) execExpectingRow(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
