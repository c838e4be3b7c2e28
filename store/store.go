package store

import (
	"context"
	"time"

	"github.com/xraph/reconcile/billing"
	"github.com/xraph/reconcile/dunning"
	"github.com/xraph/reconcile/event"
	"github.com/xraph/reconcile/id"
	"github.com/xraph/reconcile/workspace"
)

// Store is the unified storage interface for all reconciliation state.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
type Store interface {
	// Event ledger methods
	RecordEvent(ctx context.Context, e *event.Entry) (inserted bool, existing id.EventID, err error)
	AnnotateOutcome(ctx context.Context, entryID id.EventID, o *event.Outcome) error
	GetEvent(ctx context.Context, entryID id.EventID) (*event.Entry, error)
	GetEventByDedupeKey(ctx context.Context, dedupeKey string) (*event.Entry, error)
	ListEvents(ctx context.Context, workspaceID id.WorkspaceID, opts event.ListOpts) ([]*event.Entry, error)

	// Canonical billing record methods
	UpsertBillingRecord(ctx context.Context, rec *billing.Record) error
	GetBillingRecord(ctx context.Context, workspaceID id.WorkspaceID) (*billing.Record, error)

	// Legacy mirror methods
	UpsertMirrorPlan(ctx context.Context, target string, workspaceID id.WorkspaceID, plan billing.Plan, status string) error
	ReadMirrorPlan(ctx context.Context, target string, workspaceID id.WorkspaceID) (billing.Plan, error)

	// Workspace directory methods
	PutWorkspace(ctx context.Context, ws *workspace.Workspace) error
	GetWorkspace(ctx context.Context, workspaceID id.WorkspaceID) (*workspace.Workspace, error)
	PutUser(ctx context.Context, u *workspace.User) error
	GetUser(ctx context.Context, userID id.UserID) (*workspace.User, error)
	ActiveWorkspace(ctx context.Context, userID id.UserID) (*workspace.Workspace, error)
	WorkspacesOwnedBy(ctx context.Context, userID id.UserID) ([]*workspace.Workspace, error)

	// Dunning methods
	GetDunningState(ctx context.Context, workspaceID id.WorkspaceID) (*dunning.State, error)
	PutDunningState(ctx context.Context, s *dunning.State) error
	ClaimRecoveryEmail(ctx context.Context, workspaceID id.WorkspaceID, at time.Time, cooldown time.Duration) (claimed bool, prior *time.Time, err error)
	ReleaseRecoveryEmail(ctx context.Context, workspaceID id.WorkspaceID, prior *time.Time) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
