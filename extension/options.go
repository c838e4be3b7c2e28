package extension

import (
	"time"

	reconcile "github.com/xraph/reconcile"
	"github.com/xraph/reconcile/plugin"
	"github.com/xraph/reconcile/store"
)

// Option configures the Reconcile Forge extension.
type Option func(*Extension)

// WithStore sets the store for the reconciliation engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes a reconcile.Option through to the underlying engine.
func WithEngineOption(opt reconcile.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a reconcile plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, reconcile.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for reconcile routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithRecoveryEmailCooldown sets the minimum delay between recovery emails
// sent to the same workspace.
func WithRecoveryEmailCooldown(d time.Duration) Option {
	return func(e *Extension) { e.config.RecoveryEmailCooldown = d }
}
