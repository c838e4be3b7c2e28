package audithook

// Action constants for audit events.
const (
	// Event ledger actions
	ActionEventRecorded = "event.recorded"
	ActionEventDeduped  = "event.deduped"

	// Resolution actions
	ActionWorkspaceResolutionFailed = "resolution.workspace_failed"
	ActionPlanResolutionFailed      = "resolution.plan_failed"

	// Plan sync actions
	ActionPlanSynced      = "plan.synced"
	ActionSyncIneffective = "plan.sync_ineffective"

	// Dunning actions
	ActionDunningChanged    = "dunning.changed"
	ActionRecoveryEmailSent = "dunning.recovery_email_sent"
	ActionBannerDismissed   = "dunning.banner_dismissed"

	// Webhook actions
	ActionWebhookReceived  = "webhook.received"
	ActionWebhookProcessed = "webhook.processed"
)

// Resource constants for audit events.
const (
	ResourceEvent         = "event"
	ResourceBillingRecord = "billing_record"
	ResourceWorkspace     = "workspace"
	ResourceDunningState  = "dunning_state"
	ResourceWebhook       = "webhook"
)

// Category constants for audit events.
const (
	CategoryBilling     = "billing"
	CategoryDunning     = "dunning"
	CategoryAccess      = "access"
	CategoryIntegration = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
