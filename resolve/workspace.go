// Package resolve maps an event's identifying hints to exactly one workspace
// and one canonical plan.
//
// Both resolvers are ordered chains of strategies. Each strategy either
// returns a resolved value or abstains; the first resolved value wins, and
// resolution fails only when every strategy abstains. Ambiguity is a
// failure, never a guess.
package resolve

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xraph/reconcile/event"
	"github.com/xraph/reconcile/id"
	"github.com/xraph/reconcile/workspace"
)

// Sentinel errors reported when a chain cannot produce a value.
var (
	ErrWorkspaceUnresolved = errors.New("resolve: workspace unresolved")
	ErrWorkspaceAmbiguous  = errors.New("resolve: user owns more than one workspace")
)

// WorkspaceStrategy is one step of the workspace resolution chain.
// A strategy abstains by returning ok=false with a nil error.
type WorkspaceStrategy interface {
	Name() string
	ResolveWorkspace(ctx context.Context, e *event.Entry) (id.WorkspaceID, bool, error)
}

// WorkspaceResolver runs strategies in order and returns the first match.
type WorkspaceResolver struct {
	strategies []WorkspaceStrategy
	logger     *slog.Logger
}

// NewWorkspaceResolver builds the default chain against the directory:
// explicit workspace id, then the user's active workspace, then the sole
// owned workspace.
func NewWorkspaceResolver(dir workspace.Directory, logger *slog.Logger) *WorkspaceResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkspaceResolver{
		strategies: []WorkspaceStrategy{
			explicitWorkspace{dir: dir},
			activeWorkspace{dir: dir},
			soleOwnedWorkspace{dir: dir},
		},
		logger: logger,
	}
}

// NewWorkspaceResolverWith builds a resolver from a custom strategy chain.
func NewWorkspaceResolverWith(logger *slog.Logger, strategies ...WorkspaceStrategy) *WorkspaceResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkspaceResolver{strategies: strategies, logger: logger}
}

// Resolve returns the workspace for the event, or ErrWorkspaceUnresolved
// (possibly wrapping ErrWorkspaceAmbiguous) when every strategy abstains.
// Given the same event and directory contents, the result is deterministic.
func (r *WorkspaceResolver) Resolve(ctx context.Context, e *event.Entry) (id.WorkspaceID, error) {
	var ambiguous bool
	for _, s := range r.strategies {
		wsID, ok, err := s.ResolveWorkspace(ctx, e)
		if err != nil {
			if errors.Is(err, ErrWorkspaceAmbiguous) {
				// Ambiguity means this strategy must not guess; later
				// strategies do not get to either.
				ambiguous = true
				break
			}
			return id.Nil, err
		}
		if ok {
			r.logger.Debug("workspace resolved",
				"strategy", s.Name(),
				"workspace_id", wsID.String(),
				"dedupe_key", e.DedupeKey,
			)
			return wsID, nil
		}
	}

	if ambiguous {
		return id.Nil, errors.Join(ErrWorkspaceUnresolved, ErrWorkspaceAmbiguous)
	}
	return id.Nil, ErrWorkspaceUnresolved
}

// ──────────────────────────────────────────────────
// Strategies
// ──────────────────────────────────────────────────

// explicitWorkspace matches a workspace id carried in event metadata,
// provided the workspace actually exists.
type explicitWorkspace struct {
	dir workspace.Directory
}

func (explicitWorkspace) Name() string { return "explicit_workspace_id" }

func (s explicitWorkspace) ResolveWorkspace(ctx context.Context, e *event.Entry) (id.WorkspaceID, bool, error) {
	raw, ok := e.Meta[event.MetaWorkspaceID]
	if !ok || raw == "" {
		return id.Nil, false, nil
	}
	wsID, err := id.ParseWorkspaceID(raw)
	if err != nil {
		// A malformed hint is an abstention, not a hard failure: later
		// strategies may still resolve via the user.
		return id.Nil, false, nil
	}
	if _, err := s.dir.GetWorkspace(ctx, wsID); err != nil {
		return id.Nil, false, nil
	}
	return wsID, true, nil
}

// activeWorkspace matches the active workspace of the user identified by a
// user-id hint in the event metadata.
type activeWorkspace struct {
	dir workspace.Directory
}

func (activeWorkspace) Name() string { return "active_workspace_of_user" }

func (s activeWorkspace) ResolveWorkspace(ctx context.Context, e *event.Entry) (id.WorkspaceID, bool, error) {
	userID, ok := userHint(e)
	if !ok {
		return id.Nil, false, nil
	}
	ws, err := s.dir.ActiveWorkspace(ctx, userID)
	if err != nil {
		return id.Nil, false, nil
	}
	return ws.ID, true, nil
}

// soleOwnedWorkspace matches when the hinted user owns exactly one
// workspace. Owning more than one is ambiguous and fails the whole chain.
type soleOwnedWorkspace struct {
	dir workspace.Directory
}

func (soleOwnedWorkspace) Name() string { return "sole_owned_workspace" }

func (s soleOwnedWorkspace) ResolveWorkspace(ctx context.Context, e *event.Entry) (id.WorkspaceID, bool, error) {
	userID, ok := userHint(e)
	if !ok {
		return id.Nil, false, nil
	}
	owned, err := s.dir.WorkspacesOwnedBy(ctx, userID)
	if err != nil {
		return id.Nil, false, nil
	}
	switch len(owned) {
	case 0:
		return id.Nil, false, nil
	case 1:
		return owned[0].ID, true, nil
	default:
		return id.Nil, false, ErrWorkspaceAmbiguous
	}
}

func userHint(e *event.Entry) (id.UserID, bool) {
	raw, ok := e.Meta[event.MetaUserID]
	if !ok || raw == "" {
		return id.Nil, false
	}
	userID, err := id.ParseUserID(raw)
	if err != nil {
		return id.Nil, false
	}
	return userID, true
}
