package event

import (
	"context"

	"github.com/xraph/reconcile/id"
)

// Store is the persistence interface for the event ledger.
type Store interface {
	// RecordEvent appends an entry under its dedupe key. If an entry with
	// the same key already exists, it returns inserted=false and the id of
	// the existing entry, with no other side effect. The insert is
	// unique-constrained at the storage layer, so exactly one concurrent
	// caller observes inserted=true.
	RecordEvent(ctx context.Context, e *Entry) (inserted bool, existing id.EventID, err error)

	// AnnotateOutcome appends the pipeline outcome to an existing entry.
	AnnotateOutcome(ctx context.Context, entryID id.EventID, o *Outcome) error

	GetEvent(ctx context.Context, entryID id.EventID) (*Entry, error)
	GetEventByDedupeKey(ctx context.Context, dedupeKey string) (*Entry, error)
	ListEvents(ctx context.Context, workspaceID id.WorkspaceID, opts ListOpts) ([]*Entry, error)
}

// ListOpts narrows ledger history queries. Entries are returned newest first.
type ListOpts struct {
	EventType string
	Limit     int
	Offset    int
}
