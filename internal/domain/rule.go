package domain

import (
	"fmt"
	"time"
)

// RiskRule is an operator-defined CEL expression that contributes an
// extra factor to the risk analysis track. Rules never alter the fixed
// fraud score.
type RiskRule struct {
	ID          string  `json:"id"`
	TenantID    string  `json:"tenant_id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Version     string  `json:"version"`
	Expression  string  `json:"expression"`
	Severity    string  `json:"severity"`
	Weight      float64 `json:"weight"`
	Enabled     bool    `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks rule fields before compilation.
func (r *RiskRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Expression == "" {
		return fmt.Errorf("rule expression is required")
	}
	if r.Weight < 0 {
		return fmt.Errorf("rule weight must be non-negative")
	}
	switch r.Severity {
	case "", SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return fmt.Errorf("invalid rule severity %q", r.Severity)
	}
	return nil
}
