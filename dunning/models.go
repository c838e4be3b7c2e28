// Package dunning tracks per-workspace payment-recovery state: whether a
// workspace needs the recovery banner, whether its owner dismissed it, and
// when the last recovery email went out.
package dunning

import (
	"time"

	"github.com/xraph/reconcile/id"
	"github.com/xraph/reconcile/types"
)

// Phase is the derived dunning phase of a workspace.
type Phase string

const (
	PhaseHealthy          Phase = "healthy"
	PhaseRecoveryRequired Phase = "recovery_required"
	PhaseBannerDismissed  Phase = "recovery_required_banner_dismissed"
)

// Subscription statuses that move a workspace into recovery.
var triggeringStatuses = map[string]bool{
	"past_due": true,
	"unpaid":   true,
	"canceled": true,
}

// Subscription statuses that move a workspace back to healthy.
var clearingStatuses = map[string]bool{
	"active":   true,
	"trialing": true,
}

// Triggers reports whether a normalized subscription status requires
// payment recovery.
func Triggers(status string) bool { return triggeringStatuses[status] }

// Clears reports whether a normalized subscription status resolves
// payment recovery.
func Clears(status string) bool { return clearingStatuses[status] }

// State is the persisted dunning state of one workspace.
type State struct {
	types.Entity
	WorkspaceID         id.WorkspaceID `json:"workspace_id"`
	RecoveryRequired    bool           `json:"recovery_required"`
	LastStatus          string         `json:"last_status,omitempty"`
	BannerDismissedAt   *time.Time     `json:"banner_dismissed_at,omitempty"`
	LastRecoveryEmailAt *time.Time     `json:"last_recovery_email_at,omitempty"`
}

// NewState returns a healthy state for the workspace.
func NewState(workspaceID id.WorkspaceID) *State {
	return &State{
		Entity:      types.NewEntity(),
		WorkspaceID: workspaceID,
	}
}

// Phase derives the workspace's current phase.
func (s *State) Phase() Phase {
	if !s.RecoveryRequired {
		return PhaseHealthy
	}
	if s.BannerDismissedAt != nil {
		return PhaseBannerDismissed
	}
	return PhaseRecoveryRequired
}

// Transition describes one phase change produced by applying a status.
type Transition struct {
	WorkspaceID id.WorkspaceID `json:"workspace_id"`
	From        Phase          `json:"from"`
	To          Phase          `json:"to"`
	Status      string         `json:"status"`
	Changed     bool           `json:"changed"`
}
