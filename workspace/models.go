// Package workspace defines the tenant directory records the engine reads.
//
// Workspaces and users are created and owned by the surrounding application;
// the reconciliation engine only reads them to resolve which tenant an
// inbound billing event belongs to.
package workspace

import (
	"github.com/xraph/reconcile/id"
	"github.com/xraph/reconcile/types"
)

// Workspace is a tenant owning billing state.
type Workspace struct {
	types.Entity
	ID          id.WorkspaceID `json:"id"`
	Name        string         `json:"name"`
	OwnerUserID id.UserID      `json:"owner_user_id"`
}

// User is a directory record for a workspace user. ActiveWorkspaceID is the
// workspace the user last selected in the application, if any.
type User struct {
	types.Entity
	ID                id.UserID      `json:"id"`
	Email             string         `json:"email"`
	ActiveWorkspaceID id.WorkspaceID `json:"active_workspace_id,omitempty"`
}
