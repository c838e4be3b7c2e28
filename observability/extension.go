// Package observability provides a metrics plugin for the reconciliation
// engine that records pipeline event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/reconcile/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin              = (*MetricsExtension)(nil)
	_ plugin.OnInit              = (*MetricsExtension)(nil)
	_ plugin.OnEventRecorded     = (*MetricsExtension)(nil)
	_ plugin.OnEventDeduped      = (*MetricsExtension)(nil)
	_ plugin.OnResolutionFailed  = (*MetricsExtension)(nil)
	_ plugin.OnPlanSynced        = (*MetricsExtension)(nil)
	_ plugin.OnSyncIneffective   = (*MetricsExtension)(nil)
	_ plugin.OnDunningChanged    = (*MetricsExtension)(nil)
	_ plugin.OnRecoveryEmailSent = (*MetricsExtension)(nil)
	_ plugin.OnWebhookReceived   = (*MetricsExtension)(nil)
	_ plugin.OnWebhookProcessed  = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide pipeline metrics.
// Register it as a reconcile plugin to automatically track billing metrics.
type MetricsExtension struct {
	// Event ledger metrics
	EventsRecorded Counter
	EventsDeduped  Counter

	// Resolution metrics
	WorkspaceResolutionFailed Counter
	PlanResolutionFailed      Counter

	// Plan sync metrics
	PlansSynced     Counter
	SyncIneffective Counter

	// Dunning metrics
	DunningTransitions Counter
	RecoveryEmailsSent Counter

	// Webhook metrics
	WebhookReceived  Counter
	WebhookProcessed Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		// Event ledger metrics
		EventsRecorded: factory.Counter("reconcile.events.recorded"),
		EventsDeduped:  factory.Counter("reconcile.events.deduped"),

		// Resolution metrics
		WorkspaceResolutionFailed: factory.Counter("reconcile.resolution.workspace.failed"),
		PlanResolutionFailed:      factory.Counter("reconcile.resolution.plan.failed"),

		// Plan sync metrics
		PlansSynced:     factory.Counter("reconcile.sync.effective"),
		SyncIneffective: factory.Counter("reconcile.sync.ineffective"),

		// Dunning metrics
		DunningTransitions: factory.Counter("reconcile.dunning.transitions"),
		RecoveryEmailsSent: factory.Counter("reconcile.dunning.recovery_emails"),

		// Webhook metrics
		WebhookReceived:  factory.Counter("reconcile.webhook.received"),
		WebhookProcessed: factory.Counter("reconcile.webhook.processed"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Event ledger hooks
// ──────────────────────────────────────────────────

// OnEventRecorded implements plugin.OnEventRecorded.
func (m *MetricsExtension) OnEventRecorded(_ context.Context, _ interface{}) error {
	m.EventsRecorded.Inc()
	return nil
}

// OnEventDeduped implements plugin.OnEventDeduped.
func (m *MetricsExtension) OnEventDeduped(_ context.Context, _, _ string) error {
	m.EventsDeduped.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Resolution hooks
// ──────────────────────────────────────────────────

// OnResolutionFailed implements plugin.OnResolutionFailed.
func (m *MetricsExtension) OnResolutionFailed(_ context.Context, _ interface{}, stage string, _ error) error {
	if stage == "plan" {
		m.PlanResolutionFailed.Inc()
	} else {
		m.WorkspaceResolutionFailed.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Plan sync hooks
// ──────────────────────────────────────────────────

// OnPlanSynced implements plugin.OnPlanSynced.
func (m *MetricsExtension) OnPlanSynced(_ context.Context, _, _ string, _ interface{}) error {
	m.PlansSynced.Inc()
	return nil
}

// OnSyncIneffective implements plugin.OnSyncIneffective.
func (m *MetricsExtension) OnSyncIneffective(_ context.Context, _, _ string, _ interface{}) error {
	m.SyncIneffective.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Dunning hooks
// ──────────────────────────────────────────────────

// OnDunningChanged implements plugin.OnDunningChanged.
func (m *MetricsExtension) OnDunningChanged(_ context.Context, _ interface{}) error {
	m.DunningTransitions.Inc()
	return nil
}

// OnRecoveryEmailSent implements plugin.OnRecoveryEmailSent.
func (m *MetricsExtension) OnRecoveryEmailSent(_ context.Context, _, _ string) error {
	m.RecoveryEmailsSent.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Provider hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (m *MetricsExtension) OnWebhookReceived(_ context.Context, _ string, _ []byte) error {
	m.WebhookReceived.Inc()
	return nil
}

// OnWebhookProcessed implements plugin.OnWebhookProcessed.
func (m *MetricsExtension) OnWebhookProcessed(_ context.Context, _, _ string, _ bool) error {
	m.WebhookProcessed.Inc()
	return nil
}
