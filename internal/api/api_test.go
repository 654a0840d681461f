package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-insurance/kestrel/internal/bus"
	"github.com/opensource-insurance/kestrel/internal/docverify"
	"github.com/opensource-insurance/kestrel/internal/domain"
	"github.com/opensource-insurance/kestrel/internal/engine"
	"github.com/opensource-insurance/kestrel/internal/patterns"
	"github.com/opensource-insurance/kestrel/internal/repository"
	"github.com/opensource-insurance/kestrel/internal/rules"
)

type testEnv struct {
	server *Server
	repo   domain.Repository
	bus    domain.EventBus
}

// createTestEnv wires a full server against a temp sqlite store and
// exposes the backing pieces for fixtures and subscriptions.
func createTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel_api_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	riskRules, err := rules.NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}

	detector := patterns.NewDetector(repo, nil)
	verifier := docverify.Static{Authenticity: 0.9, Quality: 0.9, Completeness: 0.9}
	analyzer := engine.NewAnalyzer(repo, nil, detector, verifier, riskRules, nil)

	server := NewServer(cfg, repo, nil, eventBus, analyzer, riskRules, nil, "test-v1")
	return &testEnv{server: server, repo: repo, bus: eventBus}
}

func createTestServer(t *testing.T) *Server {
	t.Helper()
	return createTestEnv(t).server
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-001")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func submitClaim(t *testing.T, server *Server, req SubmitClaimRequest) SubmitClaimResponse {
	t.Helper()

	rr := doJSON(t, server, http.MethodPost, "/claims", req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp SubmitClaimResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func validClaimRequest() SubmitClaimRequest {
	return SubmitClaimRequest{
		CustomerID:        "cust-001",
		PolicyNumber:      "POL-100",
		InsuranceType:     "motor",
		InsuranceCategory: "bronze",
		ClaimType:         "accident",
		Amount:            100000,
		Description:       "Vehicle damage from a collision on the highway",
	}
}

func TestSubmitClaim(t *testing.T) {
	server := createTestServer(t)

	t.Run("Success", func(t *testing.T) {
		resp := submitClaim(t, server, validClaimRequest())

		if resp.Claim.ID == "" || resp.Claim.ClaimNumber == "" {
			t.Errorf("claim missing identity: %+v", resp.Claim)
		}
		if resp.Claim.Status != domain.StatusPending {
			t.Errorf("status = %q, want pending", resp.Claim.Status)
		}
		if resp.Claim.Priority != domain.PriorityLow {
			t.Errorf("priority = %q, want low", resp.Claim.Priority)
		}
		if resp.Coverage.CoveredAmount != 70000 {
			t.Errorf("covered amount = %v, want 70000", resp.Coverage.CoveredAmount)
		}
		if resp.Coverage.CustomerLiability != 30000 {
			t.Errorf("liability = %v, want 30000", resp.Coverage.CustomerLiability)
		}
	})

	t.Run("MissingTenantHeader", func(t *testing.T) {
		body, _ := json.Marshal(validClaimRequest())
		req := httptest.NewRequest(http.MethodPost, "/claims", bytes.NewBuffer(body))

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownInsuranceType", func(t *testing.T) {
		req := validClaimRequest()
		req.InsuranceType = "pet"
		rr := doJSON(t, server, http.MethodPost, "/claims", req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("UnknownCategory", func(t *testing.T) {
		req := validClaimRequest()
		req.InsuranceCategory = "platinum"
		rr := doJSON(t, server, http.MethodPost, "/claims", req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ClaimTypeNotCovered", func(t *testing.T) {
		req := validClaimRequest()
		req.ClaimType = "flood"
		rr := doJSON(t, server, http.MethodPost, "/claims", req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NonPositiveAmount", func(t *testing.T) {
		req := validClaimRequest()
		req.Amount = 0
		rr := doJSON(t, server, http.MethodPost, "/claims", req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("EscalatedPriority", func(t *testing.T) {
		req := validClaimRequest()
		req.Amount = 20_000_000
		resp := submitClaim(t, server, req)
		if resp.Claim.Priority != domain.PriorityHigh {
			t.Errorf("priority = %q, want high", resp.Claim.Priority)
		}
	})
}

func TestGetClaim(t *testing.T) {
	server := createTestServer(t)
	created := submitClaim(t, server, validClaimRequest())

	t.Run("Found", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/claims/"+created.Claim.ID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var claim domain.Claim
		if err := json.Unmarshal(rr.Body.Bytes(), &claim); err != nil {
			t.Fatalf("unmarshal claim: %v", err)
		}
		if claim.ID != created.Claim.ID {
			t.Errorf("claim ID = %q", claim.ID)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/claims/no-such-claim", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("OtherTenantCannotSee", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/claims/"+created.Claim.ID, nil)
		req.Header.Set("X-Tenant-ID", "tenant-002")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestAnalyzeClaim(t *testing.T) {
	server := createTestServer(t)
	created := submitClaim(t, server, validClaimRequest())

	t.Run("FullAnalysis", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/claims/"+created.Claim.ID+"/analysis", AnalyzeClaimRequest{})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var record domain.AnalysisRecord
		if err := json.Unmarshal(rr.Body.Bytes(), &record); err != nil {
			t.Fatalf("unmarshal record: %v", err)
		}
		if record.ClaimID != created.Claim.ID {
			t.Errorf("claim ID = %q", record.ClaimID)
		}
		if record.RiskLevel == "" {
			t.Error("missing risk level")
		}
		if record.Result.RiskAnalysis == nil {
			t.Error("expected risk analysis section by default")
		}
		if record.Confidence < 0 || record.Confidence > 100 {
			t.Errorf("confidence = %d", record.Confidence)
		}
	})

	t.Run("SectionsCanBeDisabled", func(t *testing.T) {
		off := false
		rr := doJSON(t, server, http.MethodPost, "/claims/"+created.Claim.ID+"/analysis", AnalyzeClaimRequest{
			IncludeRecommendations: &off,
			IncludeRiskFactors:     &off,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var record domain.AnalysisRecord
		if err := json.Unmarshal(rr.Body.Bytes(), &record); err != nil {
			t.Fatalf("unmarshal record: %v", err)
		}
		if record.Result.RiskAnalysis != nil {
			t.Error("risk analysis present despite disabled flag")
		}
		if record.Result.Recommendations != nil {
			t.Error("recommendations present despite disabled flag")
		}
	})

	t.Run("UnknownClaim", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/claims/no-such-claim/analysis", AnalyzeClaimRequest{})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestAnalyzeClaimPublishesEvents(t *testing.T) {
	env := createTestEnv(t)
	ctx := context.Background()

	// Prior rejected high-fraud claims push the history signal to its
	// maximum, so a large urgent claim lands in the HIGH band.
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		prior := &domain.Claim{
			ID:                fmt.Sprintf("prior-%d", i),
			TenantID:          "tenant-001",
			ClaimNumber:       fmt.Sprintf("CLM-PRIOR-%d", i),
			CustomerID:        "cust-risky",
			PolicyNumber:      "POL-900",
			InsuranceType:     "motor",
			InsuranceCategory: "gold",
			ClaimType:         "theft",
			Amount:            600000,
			Description:       "Vehicle reported stolen from a residential street overnight",
			IncidentDate:      base.AddDate(0, 0, -1),
			Status:            domain.StatusRejected,
			FraudScore:        0.9,
			CreatedAt:         base.AddDate(0, 0, i),
			UpdatedAt:         base.AddDate(0, 0, i),
		}
		if err := env.repo.SaveClaim(ctx, "tenant-001", prior); err != nil {
			t.Fatalf("SaveClaim failed: %v", err)
		}
	}

	var completed, alerts atomic.Int32
	if _, err := env.bus.Subscribe(ctx, "tenant-001", domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
		completed.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := env.bus.Subscribe(ctx, "tenant-001", domain.TopicAnalysisAlert, func(ctx context.Context, msg *domain.Message) error {
		alerts.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	req := validClaimRequest()
	req.CustomerID = "cust-risky"
	req.Amount = 600000
	req.Description = "urgent cash emergency need immediate payout desperate"
	created := submitClaim(t, env.server, req)

	rr := doJSON(t, env.server, http.MethodPost, "/claims/"+created.Claim.ID+"/analysis", AnalyzeClaimRequest{})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var record domain.AnalysisRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if record.RiskLevel != domain.RiskHigh {
		t.Fatalf("risk level = %q, want HIGH", record.RiskLevel)
	}

	deadline := time.Now().Add(5 * time.Second)
	for alerts.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if completed.Load() == 0 {
		t.Error("completion event not published")
	}
	if alerts.Load() == 0 {
		t.Error("alert event not published for HIGH risk analysis")
	}
}

func TestAnalysisHistory(t *testing.T) {
	server := createTestServer(t)
	created := submitClaim(t, server, validClaimRequest())

	for i := 0; i < 3; i++ {
		rr := doJSON(t, server, http.MethodPost, "/claims/"+created.Claim.ID+"/analysis", AnalyzeClaimRequest{})
		if rr.Code != http.StatusOK {
			t.Fatalf("analysis %d failed: %d", i, rr.Code)
		}
	}

	t.Run("ReturnsAll", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/claims/"+created.Claim.ID+"/analysis/history", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Analyses []domain.AnalysisRecord `json:"analyses"`
			Count    int                     `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.Count != 3 {
			t.Errorf("count = %d, want 3", resp.Count)
		}
	})

	t.Run("LimitApplies", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/claims/"+created.Claim.ID+"/analysis/history?limit=2", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 2 {
			t.Errorf("count = %d, want 2", resp.Count)
		}
	})

	t.Run("BadLimit", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/claims/"+created.Claim.ID+"/analysis/history?limit=zero", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestBatchAnalyze(t *testing.T) {
	server := createTestServer(t)

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		created := submitClaim(t, server, validClaimRequest())
		ids = append(ids, created.Claim.ID)
	}
	ids = append(ids, "missing-claim")

	t.Run("MixedOutcomes", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/claims/analysis/batch", BatchAnalyzeRequest{ClaimIDs: ids})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Results  []engine.BatchItem `json:"results"`
			Total    int                `json:"total"`
			Analyzed int                `json:"analyzed"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.Total != 4 || resp.Analyzed != 3 {
			t.Errorf("total = %d analyzed = %d", resp.Total, resp.Analyzed)
		}
		if resp.Results[3].Status != "not_found" {
			t.Errorf("missing claim status = %q", resp.Results[3].Status)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/claims/analysis/batch", BatchAnalyzeRequest{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("OversizedBatch", func(t *testing.T) {
		big := make([]string, engine.MaxBatchSize+1)
		for i := range big {
			big[i] = "claim"
		}
		rr := doJSON(t, server, http.MethodPost, "/claims/analysis/batch", BatchAnalyzeRequest{ClaimIDs: big})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestRecommendationAction(t *testing.T) {
	server := createTestServer(t)
	created := submitClaim(t, server, validClaimRequest())

	// Produce an analysis carrying recommendations
	rr := doJSON(t, server, http.MethodPost, "/claims/"+created.Claim.ID+"/analysis", AnalyzeClaimRequest{})
	if rr.Code != http.StatusOK {
		t.Fatalf("analysis failed: %d", rr.Code)
	}
	var record domain.AnalysisRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if len(record.Result.Recommendations) == 0 {
		t.Fatal("expected at least one recommendation")
	}
	recID := record.Result.Recommendations[0].ID

	t.Run("Accept", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/claims/"+created.Claim.ID+"/analysis/action", ActionRequest{
			RecommendationID: recID,
			Action:           domain.AdminActionAccept,
			AdminID:          "admin-7",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		// Claim moved to approved
		get := doJSON(t, server, http.MethodGet, "/claims/"+created.Claim.ID, nil)
		var claim domain.Claim
		json.Unmarshal(get.Body.Bytes(), &claim)
		if claim.Status != domain.StatusApproved {
			t.Errorf("status = %q, want approved", claim.Status)
		}
		if claim.ProcessedBy != "admin-7" {
			t.Errorf("processed by = %q", claim.ProcessedBy)
		}
	})

	t.Run("UnknownRecommendation", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/claims/"+created.Claim.ID+"/analysis/action", ActionRequest{
			RecommendationID: "no-such-rec",
			Action:           domain.AdminActionDismiss,
			AdminID:          "admin-7",
		})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("InvalidAction", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/claims/"+created.Claim.ID+"/analysis/action", ActionRequest{
			RecommendationID: recID,
			Action:           "escalate",
			AdminID:          "admin-7",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestAnalysisStats(t *testing.T) {
	server := createTestServer(t)
	created := submitClaim(t, server, validClaimRequest())

	rr := doJSON(t, server, http.MethodPost, "/claims/"+created.Claim.ID+"/analysis", AnalyzeClaimRequest{})
	if rr.Code != http.StatusOK {
		t.Fatalf("analysis failed: %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodGet, "/analysis/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var stats domain.AnalysisStats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.TotalAnalyses != 1 {
		t.Errorf("total analyses = %d, want 1", stats.TotalAnalyses)
	}
}

func TestRuleEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("CreateAndReload", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rules", CreateRuleRequest{
			ID:         "big-claims",
			Name:       "Big Claims",
			Expression: "amount > 250000.0",
			Severity:   domain.SeverityHigh,
			Weight:     20,
			Enabled:    true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		// Not loaded until reload
		rr = doJSON(t, server, http.MethodGet, "/rules/big-claims", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 before reload, got %d", rr.Code)
		}

		rr = doJSON(t, server, http.MethodPost, "/rules/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("reload failed: %d: %s", rr.Code, rr.Body.String())
		}

		rr = doJSON(t, server, http.MethodGet, "/rules/big-claims", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200 after reload, got %d", rr.Code)
		}

		rr = doJSON(t, server, http.MethodGet, "/rules", nil)
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("rule count = %d, want 1", resp.Count)
		}
	})

	t.Run("InvalidExpressionRejected", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rules", CreateRuleRequest{
			ID:         "broken",
			Name:       "Broken",
			Expression: "amount >>> 5",
			Enabled:    true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rules", CreateRuleRequest{ID: "x"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("status = %q", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("version = %q", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestCatalogEndpoint(t *testing.T) {
	server := createTestServer(t)

	rr := doJSON(t, server, http.MethodGet, "/catalog", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp struct {
		InsuranceTypes []string                        `json:"insuranceTypes"`
		Lines          map[string]domain.InsuranceLine `json:"lines"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.InsuranceTypes) != 4 {
		t.Errorf("insurance types = %v", resp.InsuranceTypes)
	}
	if _, ok := resp.Lines["motor"].Plans["gold"]; !ok {
		t.Error("missing motor gold plan")
	}
}
