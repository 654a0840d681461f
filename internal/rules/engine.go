// Package rules provides the CEL-Go engine for operator-defined risk
// rules. Rule scores feed the risk analysis track as extra factors;
// they never change the fixed fraud score.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-insurance/kestrel/internal/domain"
)

// Engine compiles and evaluates custom risk rules.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.RiskRule
	Program cel.Program
}

// NewEngine creates a risk rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// CEL environment with the claim vocabulary
	env, err := cel.NewEnv(
		cel.Variable("claim", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("insurance_type", cel.StringType),
		cel.Variable("insurance_category", cel.StringType),
		cel.Variable("claim_type", cel.StringType),
		cel.Variable("description_length", cel.IntType),
		cel.Variable("days_since_filing", cel.DoubleType),
		cel.Variable("weekend", cel.BoolType),
		cel.Variable("customer_total_claims", cel.IntType),
		cel.Variable("customer_avg_fraud", cel.DoubleType),
		cel.Variable("customer_rejected_claims", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without mutating the loaded set.
func (e *Engine) ValidateRule(rule *domain.RiskRule) error {
	if rule == nil {
		return fmt.Errorf("risk rule is required")
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.RiskRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiledRules[rule.ID] = compiled

	return nil
}

// LoadRules compiles and loads every enabled rule.
func (e *Engine) LoadRules(rules []*domain.RiskRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ClaimFacts holds the claim data exposed to rule expressions.
type ClaimFacts struct {
	ClaimID                string
	Amount                 float64
	InsuranceType          string
	InsuranceCategory      string
	ClaimType              string
	DescriptionLength      int
	DaysSinceFiling        float64
	Weekend                bool
	CustomerTotalClaims    int
	CustomerAvgFraud       float64
	CustomerRejectedClaims int
}

// Evaluate runs every loaded rule against facts in parallel and
// returns a risk factor for each rule that scored above zero. A rule
// that fails to evaluate is skipped.
func (e *Engine) Evaluate(facts *ClaimFacts) []domain.RiskFactor {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	activation := map[string]any{
		"claim": map[string]any{
			"id":                 facts.ClaimID,
			"amount":             facts.Amount,
			"insurance_type":     facts.InsuranceType,
			"insurance_category": facts.InsuranceCategory,
			"claim_type":         facts.ClaimType,
		},
		"amount":                   facts.Amount,
		"insurance_type":           facts.InsuranceType,
		"insurance_category":       facts.InsuranceCategory,
		"claim_type":               facts.ClaimType,
		"description_length":       facts.DescriptionLength,
		"days_since_filing":        facts.DaysSinceFiling,
		"weekend":                  facts.Weekend,
		"customer_total_claims":    facts.CustomerTotalClaims,
		"customer_avg_fraud":       facts.CustomerAvgFraud,
		"customer_rejected_claims": facts.CustomerRejectedClaims,
	}

	// Parallel evaluation with bounded concurrency
	results := make([]*domain.RiskFactor, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = evaluateRule(r, activation)
		}(i, rule)
	}

	wg.Wait()

	factors := make([]domain.RiskFactor, 0, len(results))
	for _, f := range results {
		if f != nil {
			factors = append(factors, *f)
		}
	}
	return factors
}

// evaluateRule runs a single rule and converts its score to a factor.
func evaluateRule(rule *CompiledRule, activation map[string]any) *domain.RiskFactor {
	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		return nil
	}

	score := toScore(out)
	if score <= 0 {
		return nil
	}
	if score > 1 {
		score = 1
	}

	severity := rule.Rule.Severity
	if severity == "" {
		severity = domain.SeverityMedium
	}

	return &domain.RiskFactor{
		FactorName:  rule.Rule.Name,
		Description: rule.Rule.Description,
		Severity:    severity,
		Score:       score,
		Weight:      rule.Rule.Weight,
	}
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(rules []*domain.RiskRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		newRules[rule.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rules.
func (e *Engine) GetLoadedRules() []*domain.RiskRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RiskRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Rule)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.RiskRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", rule.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:    rule,
		Program: program,
	}, nil
}
