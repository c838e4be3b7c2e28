package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit              []OnInit
	onShutdown          []OnShutdown
	onEventRecorded     []OnEventRecorded
	onEventDeduped      []OnEventDeduped
	onResolutionFailed  []OnResolutionFailed
	onPlanSynced        []OnPlanSynced
	onSyncIneffective   []OnSyncIneffective
	onDunningChanged    []OnDunningChanged
	onRecoveryEmailSent []OnRecoveryEmailSent
	onWebhookReceived   []OnWebhookReceived
	onWebhookProcessed  []OnWebhookProcessed
	onBannerDismissed   []OnBannerDismissed
	paymentProviders    []PaymentProviderPlugin
	notifiers           []NotifierPlugin
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnEventRecorded); ok {
		r.onEventRecorded = append(r.onEventRecorded, v)
	}
	if v, ok := p.(OnEventDeduped); ok {
		r.onEventDeduped = append(r.onEventDeduped, v)
	}
	if v, ok := p.(OnResolutionFailed); ok {
		r.onResolutionFailed = append(r.onResolutionFailed, v)
	}
	if v, ok := p.(OnPlanSynced); ok {
		r.onPlanSynced = append(r.onPlanSynced, v)
	}
	if v, ok := p.(OnSyncIneffective); ok {
		r.onSyncIneffective = append(r.onSyncIneffective, v)
	}
	if v, ok := p.(OnDunningChanged); ok {
		r.onDunningChanged = append(r.onDunningChanged, v)
	}
	if v, ok := p.(OnRecoveryEmailSent); ok {
		r.onRecoveryEmailSent = append(r.onRecoveryEmailSent, v)
	}
	if v, ok := p.(OnWebhookReceived); ok {
		r.onWebhookReceived = append(r.onWebhookReceived, v)
	}
	if v, ok := p.(OnWebhookProcessed); ok {
		r.onWebhookProcessed = append(r.onWebhookProcessed, v)
	}
	if v, ok := p.(OnBannerDismissed); ok {
		r.onBannerDismissed = append(r.onBannerDismissed, v)
	}
	if v, ok := p.(PaymentProviderPlugin); ok {
		r.paymentProviders = append(r.paymentProviders, v)
	}
	if v, ok := p.(NotifierPlugin); ok {
		r.notifiers = append(r.notifiers, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	// Check each interface
	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	// List all interfaces to check
	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnEventRecorded)(nil)).Elem(), "OnEventRecorded")
	checkInterface(reflect.TypeOf((*OnEventDeduped)(nil)).Elem(), "OnEventDeduped")
	checkInterface(reflect.TypeOf((*OnResolutionFailed)(nil)).Elem(), "OnResolutionFailed")
	checkInterface(reflect.TypeOf((*OnPlanSynced)(nil)).Elem(), "OnPlanSynced")
	checkInterface(reflect.TypeOf((*OnSyncIneffective)(nil)).Elem(), "OnSyncIneffective")
	checkInterface(reflect.TypeOf((*OnDunningChanged)(nil)).Elem(), "OnDunningChanged")
	checkInterface(reflect.TypeOf((*OnRecoveryEmailSent)(nil)).Elem(), "OnRecoveryEmailSent")
	checkInterface(reflect.TypeOf((*OnWebhookReceived)(nil)).Elem(), "OnWebhookReceived")
	checkInterface(reflect.TypeOf((*OnWebhookProcessed)(nil)).Elem(), "OnWebhookProcessed")
	checkInterface(reflect.TypeOf((*OnBannerDismissed)(nil)).Elem(), "OnBannerDismissed")
	checkInterface(reflect.TypeOf((*PaymentProviderPlugin)(nil)).Elem(), "PaymentProvider")
	checkInterface(reflect.TypeOf((*NotifierPlugin)(nil)).Elem(), "Notifier")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEventRecorded emits an event recorded event.
func (r *Registry) EmitEventRecorded(ctx context.Context, entry interface{}) {
	r.mu.RLock()
	plugins := r.onEventRecorded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEventRecorded(ctx, entry)
		}); err != nil {
			r.logger.Warn("plugin OnEventRecorded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEventDeduped emits a duplicate absorption event.
func (r *Registry) EmitEventDeduped(ctx context.Context, dedupeKey, existingID string) {
	r.mu.RLock()
	plugins := r.onEventDeduped
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEventDeduped(ctx, dedupeKey, existingID)
		}); err != nil {
			r.logger.Warn("plugin OnEventDeduped failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitResolutionFailed emits a resolution failure event.
func (r *Registry) EmitResolutionFailed(ctx context.Context, entry interface{}, stage string, failure error) {
	r.mu.RLock()
	plugins := r.onResolutionFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnResolutionFailed(ctx, entry, stage, failure)
		}); err != nil {
			r.logger.Warn("plugin OnResolutionFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPlanSynced emits an effective plan sync event.
func (r *Registry) EmitPlanSynced(ctx context.Context, workspaceID, plan string, result interface{}) {
	r.mu.RLock()
	plugins := r.onPlanSynced
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPlanSynced(ctx, workspaceID, plan, result)
		}); err != nil {
			r.logger.Warn("plugin OnPlanSynced failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSyncIneffective emits an ineffective sync event.
func (r *Registry) EmitSyncIneffective(ctx context.Context, workspaceID, plan string, result interface{}) {
	r.mu.RLock()
	plugins := r.onSyncIneffective
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSyncIneffective(ctx, workspaceID, plan, result)
		}); err != nil {
			r.logger.Warn("plugin OnSyncIneffective failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitDunningChanged emits a dunning phase transition event.
func (r *Registry) EmitDunningChanged(ctx context.Context, transition interface{}) {
	r.mu.RLock()
	plugins := r.onDunningChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnDunningChanged(ctx, transition)
		}); err != nil {
			r.logger.Warn("plugin OnDunningChanged failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitRecoveryEmailSent emits a recovery email sent event.
func (r *Registry) EmitRecoveryEmailSent(ctx context.Context, workspaceID, email string) {
	r.mu.RLock()
	plugins := r.onRecoveryEmailSent
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRecoveryEmailSent(ctx, workspaceID, email)
		}); err != nil {
			r.logger.Warn("plugin OnRecoveryEmailSent failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitWebhookReceived emits a webhook received event.
func (r *Registry) EmitWebhookReceived(ctx context.Context, provider string, payload []byte) {
	r.mu.RLock()
	plugins := r.onWebhookReceived
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnWebhookReceived(ctx, provider, payload)
		}); err != nil {
			r.logger.Warn("plugin OnWebhookReceived failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitWebhookProcessed emits a webhook processed event.
func (r *Registry) EmitWebhookProcessed(ctx context.Context, provider, eventID string, ok bool) {
	r.mu.RLock()
	plugins := r.onWebhookProcessed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnWebhookProcessed(ctx, provider, eventID, ok)
		}); err != nil {
			r.logger.Warn("plugin OnWebhookProcessed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitBannerDismissed emits a banner dismissed event.
func (r *Registry) EmitBannerDismissed(ctx context.Context, workspaceID string) {
	r.mu.RLock()
	plugins := r.onBannerDismissed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnBannerDismissed(ctx, workspaceID)
		}); err != nil {
			r.logger.Warn("plugin OnBannerDismissed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// GetPaymentProviders returns all registered payment provider plugins.
func (r *Registry) GetPaymentProviders() []PaymentProviderPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]PaymentProviderPlugin, len(r.paymentProviders))
	copy(result, r.paymentProviders)
	return result
}

// GetNotifiers returns all registered notifier plugins.
func (r *Registry) GetNotifiers() []NotifierPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]NotifierPlugin, len(r.notifiers))
	copy(result, r.notifiers)
	return result
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the reconciliation pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
