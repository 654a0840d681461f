// Package worker provides async claim analysis for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-insurance/kestrel/internal/domain"
	"github.com/opensource-insurance/kestrel/internal/engine"
)

// Worker analyzes submitted claims asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	analyzer *engine.Analyzer

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, analyzer *engine.Analyzer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		analyzer: analyzer,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing submitted claims for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicClaimSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicClaimSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.processClaim(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicClaimSubmitted,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processClaim(ctx, msg.TenantID, msg)
}

// processClaim runs the analysis pipeline on a submitted claim.
func (w *Worker) processClaim(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var event domain.ClaimEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse claim event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use event tenant if provided
	if event.TenantID != "" {
		tenantID = event.TenantID
	}

	slog.Debug("analyzing claim",
		"claim_id", event.ClaimID,
		"tenant_id", tenantID,
	)

	record, err := w.analyzer.Analyze(ctx, tenantID, event.ClaimID, engine.DefaultOptions())
	if err != nil {
		slog.Error("claim analysis failed",
			"claim_id", event.ClaimID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	result := domain.ClaimEvent{
		ClaimID:    record.ClaimID,
		TenantID:   tenantID,
		AnalysisID: record.ID,
		RiskLevel:  record.RiskLevel,
		FraudScore: record.FraudScore,
	}
	resultPayload, _ := json.Marshal(result)

	if err := w.bus.Publish(ctx, tenantID, domain.TopicAnalysisCompleted, resultPayload); err != nil {
		slog.Error("failed to publish analysis result",
			"claim_id", event.ClaimID,
			"error", err,
		)
	}

	// High-risk claims also go to the alert topic
	if record.RiskLevel == domain.RiskHigh || record.RiskLevel == domain.RiskCritical {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAnalysisAlert, resultPayload); err != nil {
			slog.Error("failed to publish alert",
				"claim_id", event.ClaimID,
				"error", err,
			)
		}
	}

	slog.Info("claim analyzed",
		"claim_id", event.ClaimID,
		"tenant_id", tenantID,
		"risk_level", record.RiskLevel,
		"fraud_score", record.FraudScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
