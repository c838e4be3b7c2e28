// Package plugin provides an extensible plugin system for the reconciliation
// engine. Plugins can hook into pipeline events to extend functionality.
package plugin

import (
	"context"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Event ledger hooks
// ──────────────────────────────────────────────────

// OnEventRecorded is called when a new event is written to the ledger.
type OnEventRecorded interface {
	Plugin
	OnEventRecorded(ctx context.Context, entry interface{}) error
}

// OnEventDeduped is called when an inbound event is absorbed as a duplicate.
type OnEventDeduped interface {
	Plugin
	OnEventDeduped(ctx context.Context, dedupeKey string, existingID string) error
}

// ──────────────────────────────────────────────────
// Resolution hooks
// ──────────────────────────────────────────────────

// OnResolutionFailed is called when workspace or plan resolution fails for
// an event. Stage is "workspace" or "plan".
type OnResolutionFailed interface {
	Plugin
	OnResolutionFailed(ctx context.Context, entry interface{}, stage string, err error) error
}

// ──────────────────────────────────────────────────
// Plan sync hooks
// ──────────────────────────────────────────────────

// OnPlanSynced is called after an effective plan sync pass.
type OnPlanSynced interface {
	Plugin
	OnPlanSynced(ctx context.Context, workspaceID string, plan string, result interface{}) error
}

// OnSyncIneffective is called when a sync pass completed but no
// authoritative sink read back the desired plan.
type OnSyncIneffective interface {
	Plugin
	OnSyncIneffective(ctx context.Context, workspaceID string, plan string, result interface{}) error
}

// ──────────────────────────────────────────────────
// Dunning hooks
// ──────────────────────────────────────────────────

// OnDunningChanged is called when a workspace's dunning phase changes.
type OnDunningChanged interface {
	Plugin
	OnDunningChanged(ctx context.Context, transition interface{}) error
}

// OnRecoveryEmailSent is called after a recovery email goes out.
type OnRecoveryEmailSent interface {
	Plugin
	OnRecoveryEmailSent(ctx context.Context, workspaceID string, email string) error
}

// ──────────────────────────────────────────────────
// Payment provider hooks
// ──────────────────────────────────────────────────

// PaymentProviderPlugin provides a payment provider implementation.
type PaymentProviderPlugin interface {
	Plugin
	Provider() interface{} // Returns provider.Provider
}

// NotifierPlugin provides a recovery email sender.
type NotifierPlugin interface {
	Plugin
	Notifier() interface{} // Returns dunning.Notifier
}

// OnWebhookReceived is called when a webhook is received.
type OnWebhookReceived interface {
	Plugin
	OnWebhookReceived(ctx context.Context, provider string, payload []byte) error
}

// OnWebhookProcessed is called after a webhook has run through the pipeline.
type OnWebhookProcessed interface {
	Plugin
	OnWebhookProcessed(ctx context.Context, provider string, eventID string, ok bool) error
}

// OnBannerDismissed is called when a workspace owner dismisses the recovery
// banner.
type OnBannerDismissed interface {
	Plugin
	OnBannerDismissed(ctx context.Context, workspaceID string) error
}
