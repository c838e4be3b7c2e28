// Package extension provides the Forge extension adapter for Reconcile.
//
// It implements the forge.Extension interface to integrate the billing
// reconciliation engine into a Forge application with DI registration
// and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.reconcile" or
// "reconcile" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	reconcile "github.com/xraph/reconcile"
	"github.com/xraph/reconcile/store"
	"github.com/xraph/reconcile/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "reconcile"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Billing state reconciliation engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Reconcile as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *reconcile.Engine
	store      store.Store
	engineOpts []reconcile.Option
}

// New creates a new Reconcile Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying reconciliation engine.
// This is nil until Register is called.
func (e *Extension) Engine() *reconcile.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the reconciliation engine, and registers it in the
// DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	opts := e.buildEngineOpts()

	eng := reconcile.New(e.store, opts...)
	e.engine = eng

	return vessel.Provide(fapp.Container(), func() (*reconcile.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("reconcile: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("reconcile: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs reconcile.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []reconcile.Option {
	opts := make([]reconcile.Option, 0, len(e.engineOpts)+1)

	if e.config.RecoveryEmailCooldown > 0 {
		opts = append(opts, reconcile.WithRecoveryEmailCooldown(e.config.RecoveryEmailCooldown))
	}

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("reconcile: configuration is required but not found in config files; " +
				"ensure 'extensions.reconcile' or 'reconcile' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("reconcile: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("recovery_email_cooldown", e.config.RecoveryEmailCooldown),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.reconcile" first (namespaced pattern).
	if cm.IsSet("extensions.reconcile") {
		if err := cm.Bind("extensions.reconcile", &cfg); err == nil {
			e.Logger().Debug("reconcile: loaded config from file",
				forge.F("key", "extensions.reconcile"),
			)
			return cfg, true
		}
		e.Logger().Warn("reconcile: failed to bind extensions.reconcile config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "reconcile" key.
	if cm.IsSet("reconcile") {
		if err := cm.Bind("reconcile", &cfg); err == nil {
			e.Logger().Debug("reconcile: loaded config from file",
				forge.F("key", "reconcile"),
			)
			return cfg, true
		}
		e.Logger().Warn("reconcile: failed to bind reconcile config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.RecoveryEmailCooldown == 0 {
		cfg.RecoveryEmailCooldown = defaults.RecoveryEmailCooldown
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}

	// Duration fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.RecoveryEmailCooldown == 0 && programmaticConfig.RecoveryEmailCooldown != 0 {
		yamlConfig.RecoveryEmailCooldown = programmaticConfig.RecoveryEmailCooldown
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
