package extension

import "time"

// Config holds the Reconcile extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.reconcile" or "reconcile" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for reconcile routes (default: "/billing").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// RecoveryEmailCooldown is the minimum delay between recovery emails
	// sent to the same workspace (default: 24h).
	RecoveryEmailCooldown time.Duration `json:"recovery_email_cooldown" mapstructure:"recovery_email_cooldown" yaml:"recovery_email_cooldown"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:              "/billing",
		RecoveryEmailCooldown: 24 * time.Hour,
	}
}
