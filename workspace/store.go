package workspace

import (
	"context"

	"github.com/xraph/reconcile/id"
)

// Directory is the read path into the tenant directory. The engine never
// creates or mutates workspaces or users through it.
type Directory interface {
	GetWorkspace(ctx context.Context, workspaceID id.WorkspaceID) (*Workspace, error)
	GetUser(ctx context.Context, userID id.UserID) (*User, error)

	// ActiveWorkspace returns the workspace the user last selected, or an
	// error satisfying IsNotFound semantics when the user has none.
	ActiveWorkspace(ctx context.Context, userID id.UserID) (*Workspace, error)

	// WorkspacesOwnedBy lists every workspace owned by the user.
	WorkspacesOwnedBy(ctx context.Context, userID id.UserID) ([]*Workspace, error)
}
