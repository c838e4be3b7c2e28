// Package audithook bridges reconciliation pipeline events to an audit
// trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/reconcile/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin              = (*Extension)(nil)
	_ plugin.OnEventRecorded     = (*Extension)(nil)
	_ plugin.OnEventDeduped      = (*Extension)(nil)
	_ plugin.OnResolutionFailed  = (*Extension)(nil)
	_ plugin.OnPlanSynced        = (*Extension)(nil)
	_ plugin.OnSyncIneffective   = (*Extension)(nil)
	_ plugin.OnDunningChanged    = (*Extension)(nil)
	_ plugin.OnRecoveryEmailSent = (*Extension)(nil)
	_ plugin.OnWebhookReceived   = (*Extension)(nil)
	_ plugin.OnWebhookProcessed  = (*Extension)(nil)
	_ plugin.OnBannerDismissed   = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly — callers inject
// the concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges reconciliation pipeline events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Event ledger hooks
// ──────────────────────────────────────────────────

// OnEventRecorded implements plugin.OnEventRecorded.
func (e *Extension) OnEventRecorded(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionEventRecorded, SeverityInfo, OutcomeSuccess,
		ResourceEvent, "", CategoryBilling, nil,
		"event", "event_recorded",
	)
}

// OnEventDeduped implements plugin.OnEventDeduped.
func (e *Extension) OnEventDeduped(ctx context.Context, dedupeKey, existingID string) error {
	return e.record(ctx, ActionEventDeduped, SeverityInfo, OutcomeSuccess,
		ResourceEvent, existingID, CategoryBilling, nil,
		"dedupe_key", dedupeKey,
		"existing_id", existingID,
	)
}

// ──────────────────────────────────────────────────
// Resolution hooks
// ──────────────────────────────────────────────────

// OnResolutionFailed implements plugin.OnResolutionFailed.
func (e *Extension) OnResolutionFailed(ctx context.Context, _ interface{}, stage string, err error) error {
	action := ActionWorkspaceResolutionFailed
	if stage == "plan" {
		action = ActionPlanResolutionFailed
	}
	return e.record(ctx, action, SeverityWarning, OutcomeFailure,
		ResourceEvent, "", CategoryBilling, err,
		"stage", stage,
	)
}

// ──────────────────────────────────────────────────
// Plan sync hooks
// ──────────────────────────────────────────────────

// OnPlanSynced implements plugin.OnPlanSynced.
func (e *Extension) OnPlanSynced(ctx context.Context, workspaceID, plan string, _ interface{}) error {
	return e.record(ctx, ActionPlanSynced, SeverityInfo, OutcomeSuccess,
		ResourceBillingRecord, workspaceID, CategoryBilling, nil,
		"workspace_id", workspaceID,
		"plan", plan,
	)
}

// OnSyncIneffective implements plugin.OnSyncIneffective.
func (e *Extension) OnSyncIneffective(ctx context.Context, workspaceID, plan string, _ interface{}) error {
	return e.record(ctx, ActionSyncIneffective, SeverityCritical, OutcomeFailure,
		ResourceBillingRecord, workspaceID, CategoryBilling, nil,
		"workspace_id", workspaceID,
		"plan", plan,
	)
}

// ──────────────────────────────────────────────────
// Dunning hooks
// ──────────────────────────────────────────────────

// OnDunningChanged implements plugin.OnDunningChanged.
func (e *Extension) OnDunningChanged(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionDunningChanged, SeverityWarning, OutcomeSuccess,
		ResourceDunningState, "", CategoryDunning, nil,
		"event", "dunning_changed",
	)
}

// OnRecoveryEmailSent implements plugin.OnRecoveryEmailSent.
func (e *Extension) OnRecoveryEmailSent(ctx context.Context, workspaceID, email string) error {
	return e.record(ctx, ActionRecoveryEmailSent, SeverityInfo, OutcomeSuccess,
		ResourceDunningState, workspaceID, CategoryDunning, nil,
		"workspace_id", workspaceID,
		"email", email,
	)
}

// OnBannerDismissed implements plugin.OnBannerDismissed.
func (e *Extension) OnBannerDismissed(ctx context.Context, workspaceID string) error {
	return e.record(ctx, ActionBannerDismissed, SeverityInfo, OutcomeSuccess,
		ResourceDunningState, workspaceID, CategoryAccess, nil,
		"workspace_id", workspaceID,
	)
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (e *Extension) OnWebhookReceived(ctx context.Context, provider string, _ []byte) error {
	return e.record(ctx, ActionWebhookReceived, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, "", CategoryIntegration, nil,
		"provider", provider,
	)
}

// OnWebhookProcessed implements plugin.OnWebhookProcessed.
func (e *Extension) OnWebhookProcessed(ctx context.Context, provider, eventID string, ok bool) error {
	outcome := OutcomeSuccess
	severity := SeverityInfo
	if !ok {
		outcome = OutcomeFailure
		severity = SeverityWarning
	}
	return e.record(ctx, ActionWebhookProcessed, severity, outcome,
		ResourceWebhook, eventID, CategoryIntegration, nil,
		"provider", provider,
		"event_id", eventID,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
