// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Claim operations
	SaveClaim(ctx context.Context, tenantID string, claim *Claim) error
	GetClaim(ctx context.Context, tenantID string, claimID string) (*Claim, error)
	GetClaimWithStats(ctx context.Context, tenantID string, claimID string) (*ClaimWithStats, error)
	UpdateClaimAssessment(ctx context.Context, tenantID string, claimID string, fraudScore float64, riskLevel string) error
	UpdateClaimStatus(ctx context.Context, tenantID string, claimID string, status string, processedBy string) error
	FlagClaimForReview(ctx context.Context, tenantID string, claimID string, note string) error

	// Customer history aggregates. excludeClaimID keeps the claim
	// under analysis out of its own history.
	GetCustomerHistory(ctx context.Context, tenantID string, customerID string, excludeClaimID string) (*CustomerHistory, error)
	GetCustomerProfile(ctx context.Context, tenantID string, customerID string, excludeClaimID string) (*CustomerProfile, error)

	// Pattern detection queries
	GetSimilarClaims(ctx context.Context, tenantID string, claim *Claim) ([]*Claim, error)
	GetTimeBuckets(ctx context.Context, tenantID string, customerID string, excludeClaimID string) ([]TimeBucket, error)
	GetAmountBuckets(ctx context.Context, tenantID string, customerID string, excludeClaimID string) ([]AmountBucket, error)
	GetTypePatterns(ctx context.Context, tenantID string, claim *Claim) ([]TypePattern, error)

	// Document operations
	SaveDocument(ctx context.Context, tenantID string, doc *Document) error
	ListClaimDocuments(ctx context.Context, tenantID string, claimID string) ([]*Document, error)

	// Analysis results (append only)
	SaveAnalysis(ctx context.Context, tenantID string, record *AnalysisRecord) error
	ListAnalyses(ctx context.Context, tenantID string, claimID string, limit int) ([]*AnalysisRecord, error)
	GetAnalysisStats(ctx context.Context, tenantID string) (*AnalysisStats, error)

	// Admin action log
	SaveAction(ctx context.Context, tenantID string, action *ActionRecord) error

	// Custom risk rule operations
	SaveRiskRule(ctx context.Context, tenantID string, rule *RiskRule) error
	GetRiskRule(ctx context.Context, tenantID string, ruleID string) (*RiskRule, error)
	ListRiskRules(ctx context.Context, tenantID string) ([]*RiskRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
