package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-insurance/kestrel/internal/domain"
	"github.com/opensource-insurance/kestrel/internal/engine"
	"github.com/opensource-insurance/kestrel/internal/repository"
	"github.com/opensource-insurance/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	analyzer  *engine.Analyzer
	riskRules *rules.Engine
	catalog   *domain.InsuranceCatalog
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, analyzer *engine.Analyzer, riskRules *rules.Engine, catalog *domain.InsuranceCatalog, version string) *Handler {
	if catalog == nil {
		catalog = domain.DefaultCatalog()
	}
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		analyzer:  analyzer,
		riskRules: riskRules,
		catalog:   catalog,
		version:   version,
	}
}

// SubmitClaimRequest is the request body for POST /claims.
type SubmitClaimRequest struct {
	CustomerID        string  `json:"customerId"`
	PolicyNumber      string  `json:"policyNumber"`
	InsuranceType     string  `json:"insuranceType"`
	InsuranceCategory string  `json:"insuranceCategory"`
	ClaimType         string  `json:"claimType"`
	Amount            float64 `json:"amount"`
	Description       string  `json:"description"`
	IncidentDate      string  `json:"incidentDate,omitempty"`
}

// SubmitClaimResponse is the response for POST /claims.
type SubmitClaimResponse struct {
	Claim    *domain.Claim          `json:"claim"`
	Coverage *domain.CoverageResult `json:"coverage"`
}

// SubmitClaim handles POST /claims requests.
func (h *Handler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req SubmitClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.CustomerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customerId is required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}

	// Validate against the product catalog
	if _, ok := h.catalog.Line(req.InsuranceType); !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown insurance type %q, valid types: %s", req.InsuranceType, strings.Join(h.catalog.InsuranceTypes(), ", ")),
		})
		return
	}
	if _, ok := h.catalog.Plan(req.InsuranceType, req.InsuranceCategory); !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown category %q for insurance type %q", req.InsuranceCategory, req.InsuranceType),
		})
		return
	}
	if !h.catalog.ValidClaimType(req.InsuranceType, req.ClaimType) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("claim type %q is not covered by %s insurance", req.ClaimType, req.InsuranceType),
		})
		return
	}

	now := time.Now().UTC()
	incidentDate := now
	if req.IncidentDate != "" {
		parsed, err := time.Parse(time.RFC3339, req.IncidentDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "incidentDate must be RFC 3339",
			})
			return
		}
		incidentDate = parsed.UTC()
	}

	coverage, err := h.catalog.Coverage(req.InsuranceType, req.InsuranceCategory, req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	claimID := uuid.New().String()
	claim := &domain.Claim{
		ID:                claimID,
		TenantID:          tenantID,
		ClaimNumber:       newClaimNumber(now),
		CustomerID:        req.CustomerID,
		PolicyNumber:      req.PolicyNumber,
		InsuranceType:     req.InsuranceType,
		InsuranceCategory: req.InsuranceCategory,
		ClaimType:         req.ClaimType,
		Amount:            req.Amount,
		Description:       req.Description,
		IncidentDate:      incidentDate,
		Status:            domain.StatusPending,
		Priority:          domain.PriorityFor(req.InsuranceType, req.ClaimType, req.Amount),
		CoveragePercent:   coverage.CoveragePercent,
		CoveredAmount:     coverage.CoveredAmount,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := claim.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SaveClaim(ctx, tenantID, claim); err != nil {
		slog.Error("failed to save claim", "claim_id", claimID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save claim",
		})
		return
	}

	// Announce the claim so async workers pick it up
	if h.bus != nil {
		payload, _ := json.Marshal(domain.ClaimEvent{ClaimID: claimID, TenantID: tenantID})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicClaimSubmitted, payload); err != nil {
			slog.Error("failed to publish claim event", "claim_id", claimID, "error", err)
		}
	}

	slog.Info("claim submitted",
		"claim_id", claimID,
		"claim_number", claim.ClaimNumber,
		"tenant_id", tenantID,
		"insurance_type", claim.InsuranceType,
		"amount", claim.Amount,
		"priority", claim.Priority,
	)

	writeJSON(w, http.StatusCreated, SubmitClaimResponse{Claim: claim, Coverage: coverage})
}

// newClaimNumber builds a human-referenceable claim number.
func newClaimNumber(now time.Time) string {
	suffix := strings.ToUpper(uuid.New().String()[:8])
	return fmt.Sprintf("CLM-%s-%s", now.Format("20060102"), suffix)
}

// GetClaim retrieves a claim by ID.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	claimID := chi.URLParam(r, "id")

	claim, err := h.repo.GetClaim(ctx, tenantID, claimID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "claim not found",
			})
			return
		}
		slog.Error("failed to get claim", "claim_id", claimID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get claim",
		})
		return
	}

	writeJSON(w, http.StatusOK, claim)
}

// AnalyzeClaimRequest selects which analysis sections to produce.
// Omitted flags default to true.
type AnalyzeClaimRequest struct {
	IncludeRecommendations *bool `json:"includeRecommendations,omitempty"`
	IncludeRiskFactors     *bool `json:"includeRiskFactors,omitempty"`
	IncludeDocuments       *bool `json:"includeDocuments,omitempty"`
}

func (req *AnalyzeClaimRequest) options() engine.Options {
	opts := engine.DefaultOptions()
	if req.IncludeRecommendations != nil {
		opts.IncludeRecommendations = *req.IncludeRecommendations
	}
	if req.IncludeRiskFactors != nil {
		opts.IncludeRiskFactors = *req.IncludeRiskFactors
	}
	if req.IncludeDocuments != nil {
		opts.IncludeDocuments = *req.IncludeDocuments
	}
	return opts
}

// AnalyzeClaim handles POST /claims/{id}/analysis requests.
func (h *Handler) AnalyzeClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	claimID := chi.URLParam(r, "id")

	var req AnalyzeClaimRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	record, err := h.analyzer.Analyze(ctx, tenantID, claimID, req.options())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "claim not found",
			})
			return
		}
		slog.Error("claim analysis failed", "claim_id", claimID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "claim analysis failed",
		})
		return
	}

	// Completed analyses are announced for downstream consumers
	if h.bus != nil {
		payload, _ := json.Marshal(domain.ClaimEvent{
			ClaimID:    claimID,
			TenantID:   tenantID,
			AnalysisID: record.ID,
			RiskLevel:  record.RiskLevel,
			FraudScore: record.FraudScore,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicAnalysisCompleted, payload); err != nil {
			slog.Error("failed to publish analysis event", "claim_id", claimID, "error", err)
		}

		if record.RiskLevel == domain.RiskHigh || record.RiskLevel == domain.RiskCritical {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicAnalysisAlert, payload); err != nil {
				slog.Error("failed to publish alert event", "claim_id", claimID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, record)
}

// AnalysisHistory handles GET /claims/{id}/analysis/history requests.
func (h *Handler) AnalysisHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	claimID := chi.URLParam(r, "id")

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}

	analyses, err := h.repo.ListAnalyses(ctx, tenantID, claimID, limit)
	if err != nil {
		slog.Error("failed to list analyses", "claim_id", claimID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list analyses",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"claimId":  claimID,
		"analyses": analyses,
		"count":    len(analyses),
	})
}

// BatchAnalyzeRequest is the request body for POST /claims/analysis/batch.
type BatchAnalyzeRequest struct {
	ClaimIDs []string `json:"claimIds"`
	AnalyzeClaimRequest
}

// BatchAnalyze handles POST /claims/analysis/batch requests.
func (h *Handler) BatchAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req BatchAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	items, err := h.analyzer.AnalyzeBatch(ctx, tenantID, req.ClaimIDs, req.options())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	analyzed := 0
	for _, item := range items {
		if item.Success {
			analyzed++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":  items,
		"total":    len(items),
		"analyzed": analyzed,
	})
}

// ActionRequest is the request body for POST /claims/{id}/analysis/action.
type ActionRequest struct {
	RecommendationID string `json:"recommendationId"`
	Action           string `json:"action"`
	AdminID          string `json:"adminId"`
}

// RecommendationAction handles an admin's decision on a recommendation.
func (h *Handler) RecommendationAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	claimID := chi.URLParam(r, "id")

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.RecommendationID == "" || req.AdminID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "recommendationId and adminId are required",
		})
		return
	}

	switch req.Action {
	case domain.AdminActionAccept, domain.AdminActionReview, domain.AdminActionDismiss:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("action must be one of %s, %s, %s",
				domain.AdminActionAccept, domain.AdminActionReview, domain.AdminActionDismiss),
		})
		return
	}

	rec, err := h.findRecommendation(r, tenantID, claimID, req.RecommendationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "recommendation not found",
			})
			return
		}
		slog.Error("failed to resolve recommendation", "claim_id", claimID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to resolve recommendation",
		})
		return
	}

	switch req.Action {
	case domain.AdminActionAccept:
		if err := h.repo.UpdateClaimStatus(ctx, tenantID, claimID, domain.StatusApproved, req.AdminID); err != nil {
			slog.Error("failed to approve claim", "claim_id", claimID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to approve claim",
			})
			return
		}
	case domain.AdminActionReview:
		note := fmt.Sprintf("flagged for review by %s on recommendation %q", req.AdminID, rec.Title)
		if err := h.repo.FlagClaimForReview(ctx, tenantID, claimID, note); err != nil {
			slog.Error("failed to flag claim", "claim_id", claimID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to flag claim for review",
			})
			return
		}
	case domain.AdminActionDismiss:
		slog.Info("recommendation dismissed",
			"claim_id", claimID,
			"recommendation_id", req.RecommendationID,
			"admin_id", req.AdminID,
		)
	}

	action := &domain.ActionRecord{
		ID:               uuid.New().String(),
		TenantID:         tenantID,
		ClaimID:          claimID,
		RecommendationID: req.RecommendationID,
		Action:           req.Action,
		AdminID:          req.AdminID,
		CreatedAt:        time.Now().UTC(),
	}
	if err := h.repo.SaveAction(ctx, tenantID, action); err != nil {
		slog.Error("failed to record action", "claim_id", claimID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to record action",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"action":         action,
		"recommendation": rec,
	})
}

// findRecommendation scans the claim's analyses for the recommendation.
func (h *Handler) findRecommendation(r *http.Request, tenantID, claimID, recommendationID string) (*domain.Recommendation, error) {
	analyses, err := h.repo.ListAnalyses(r.Context(), tenantID, claimID, 50)
	if err != nil {
		return nil, err
	}
	for _, analysis := range analyses {
		for i := range analysis.Result.Recommendations {
			if analysis.Result.Recommendations[i].ID == recommendationID {
				return &analysis.Result.Recommendations[i], nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

// AnalysisStats handles GET /analysis/stats requests.
func (h *Handler) AnalysisStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	stats, err := h.repo.GetAnalysisStats(ctx, tenantID)
	if err != nil {
		slog.Error("failed to get analysis stats", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get analysis stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Catalog handles GET /catalog requests.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	types := h.catalog.InsuranceTypes()
	lines := make(map[string]domain.InsuranceLine, len(types))
	for _, t := range types {
		line, _ := h.catalog.Line(t)
		lines[t] = line
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"insuranceTypes": types,
		"lines":          lines,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns all loaded rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.riskRules.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.riskRules.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a risk rule.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Severity    string  `json:"severity,omitempty"`
	Weight      float64 `json:"weight"`
	Enabled     bool    `json:"enabled"`
}

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// CreateRule creates a new risk rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	now := time.Now().UTC()
	rule := &domain.RiskRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Severity:    req.Severity,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Compile before persisting so broken expressions never reach the
	// database
	if err := h.riskRules.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRiskRule(ctx, GlobalTenantID, rule); err != nil {
		slog.Error("failed to save risk rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("risk rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbRules, err := h.repo.ListRiskRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.riskRules.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("risk rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
