// Package billing defines the canonical subscription-plan state for a
// workspace and the legacy mirror locations it is copied into.
package billing

import (
	"strings"

	"github.com/xraph/reconcile/id"
	"github.com/xraph/reconcile/types"
)

// Plan is the canonical plan tier for a workspace.
type Plan string

const (
	PlanFree   Plan = "free"
	PlanSolo   Plan = "solo"
	PlanPro    Plan = "pro"
	PlanStudio Plan = "studio"
)

// ParsePlan maps a raw plan label to a known Plan. Unknown labels are
// rejected rather than bucketed, so callers never invent a tier.
func ParsePlan(raw string) (Plan, bool) {
	switch Plan(strings.ToLower(strings.TrimSpace(raw))) {
	case PlanFree:
		return PlanFree, true
	case PlanSolo:
		return PlanSolo, true
	case PlanPro:
		return PlanPro, true
	case PlanStudio:
		return PlanStudio, true
	default:
		return "", false
	}
}

// Interval is the billing interval of a subscription.
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalAnnual  Interval = "annual"
	IntervalNone    Interval = "" // unknown or non-recurring
)

// NormalizeInterval maps a provider recurring-interval label to a canonical
// Interval. Anything that is not monthly or annual (weekly, daily, one-off)
// normalizes to IntervalNone rather than an invented bucket.
func NormalizeInterval(raw string) Interval {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "month", "monthly":
		return IntervalMonthly
	case "year", "yearly", "annual", "annually":
		return IntervalAnnual
	default:
		return IntervalNone
	}
}

// NormalizeStatus lowercases and trims a provider subscription status label.
// Status values are stored normalized but otherwise free-text (active,
// past_due, canceled, unpaid, trialing, ...).
func NormalizeStatus(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Record is the canonical billing record — the single source of truth for a
// workspace's subscription state. Mutated only by the plan sync writer.
type Record struct {
	types.Entity
	WorkspaceID            id.WorkspaceID `json:"workspace_id"`
	Plan                   Plan           `json:"plan"`
	Interval               Interval       `json:"interval,omitempty"`
	Status                 string         `json:"status"`
	ProviderCustomerID     string         `json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID string         `json:"provider_subscription_id,omitempty"`
}

// Legacy mirror targets. Older read paths still consult these copies, so the
// sync writer keeps them updated alongside the canonical record. New mirrors
// are added by registering another sink, not by special-casing tables.
const (
	MirrorMembership = "membership"
	MirrorUser       = "user"
)

// MirrorTargets lists the legacy mirror locations in write order.
func MirrorTargets() []string {
	return []string{MirrorMembership, MirrorUser}
}
