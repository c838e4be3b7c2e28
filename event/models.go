// Package event defines the append-only ledger of inbound billing events.
//
// The ledger is the single idempotency boundary of the reconciliation
// pipeline: every inbound event is recorded exactly once under its dedupe
// key, and the recorded entry is later annotated with the outcome of the
// pipeline run so the full history stays auditable.
package event

import (
	"time"

	"github.com/xraph/reconcile/id"
	"github.com/xraph/reconcile/types"
)

// Well-known metadata keys carried on ledger entries. Resolution strategies
// read these hints; providers and the manual reconcile path write them.
const (
	MetaWorkspaceID = "workspace_id"
	MetaUserID      = "user_id"
	MetaPlan        = "plan"
	MetaPriceID     = "price_id"
	MetaProductID   = "product_id"
	MetaInterval    = "interval"
	MetaCustomerID  = "customer_id"
)

// ManualKeyPrefix prefixes dedupe keys synthesized for operator-triggered
// reconcile requests, which carry no provider event id.
const ManualKeyPrefix = "manual:"

// ManualDedupeKey synthesizes a dedupe key for a manual reconcile request
// from its correlation id. Retries with the same correlation id are absorbed
// as duplicates.
func ManualDedupeKey(correlationID string) string {
	return ManualKeyPrefix + correlationID
}

// Entry is a single recorded billing event. Immutable once written, except
// for the Outcome annex which the orchestrator appends after processing.
type Entry struct {
	types.Entity
	ID          id.EventID        `json:"id"`
	DedupeKey   string            `json:"dedupe_key"`
	WorkspaceID id.WorkspaceID    `json:"workspace_id,omitempty"` // Nil until resolved
	ActorEmail  string            `json:"actor_email,omitempty"`
	EventType   string            `json:"event_type"`
	ObjectID    string            `json:"object_id"` // provider subscription/session id
	Status      string            `json:"status"`    // raw provider status label
	Meta        map[string]string `json:"meta,omitempty"`
	Outcome     *Outcome          `json:"outcome,omitempty"`
}

// Stage identifies how far the pipeline progressed for an entry.
type Stage string

const (
	StageReceived          Stage = "received"
	StageDeduped           Stage = "deduped"
	StageWorkspaceResolved Stage = "workspace_resolved"
	StagePlanResolved      Stage = "plan_resolved"
	StageSynced            Stage = "synced"
	StageDone              Stage = "done"
	StageFailed            Stage = "failed"
)

// Outcome is the audit annex appended to an entry after the pipeline run.
// It never alters the original event payload.
type Outcome struct {
	Stage       Stage             `json:"stage"`
	FailedStage Stage             `json:"failed_stage,omitempty"` // set when Stage == StageFailed
	Code        string            `json:"code,omitempty"`
	WorkspaceID id.WorkspaceID    `json:"workspace_id,omitempty"`
	Plan        string            `json:"plan,omitempty"`
	Interval    string            `json:"interval,omitempty"`
	Wrote       map[string]bool   `json:"wrote,omitempty"`
	Readback    map[string]string `json:"readback,omitempty"`
	Effective   bool              `json:"effective"`
	Note        string            `json:"note,omitempty"`
	RecordedAt  time.Time         `json:"recorded_at"`
}

// Failed reports whether the pipeline stopped before completion.
func (o *Outcome) Failed() bool {
	return o != nil && o.Stage == StageFailed
}
