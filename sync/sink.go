// Package sync writes a resolved plan to every billing sink and verifies the
// write by reading it back.
//
// The canonical billing record and each legacy mirror are modeled as sinks
// behind one interface. The writer fans a desired record out to all of them,
// tolerates per-sink failures, and judges overall effectiveness from the
// readback of authoritative sinks only.
package sync

import (
	"context"
	"fmt"

	"github.com/xraph/reconcile/billing"
	"github.com/xraph/reconcile/id"
)

// Sink is one destination for a workspace's plan state.
type Sink interface {
	// Name identifies the sink in results and logs.
	Name() string

	// Authoritative reports whether this sink's readback counts toward the
	// effectiveness verdict. Mirrors that old read paths still consult are
	// authoritative; purely informational copies are not.
	Authoritative() bool

	// Write persists the desired record to the sink.
	Write(ctx context.Context, rec *billing.Record) error

	// Read returns the plan the sink currently holds for the workspace.
	Read(ctx context.Context, workspaceID id.WorkspaceID) (billing.Plan, error)
}

// CanonicalStore is the store subset backing the canonical sink.
type CanonicalStore interface {
	UpsertBillingRecord(ctx context.Context, rec *billing.Record) error
	GetBillingRecord(ctx context.Context, workspaceID id.WorkspaceID) (*billing.Record, error)
}

// MirrorStore is the store subset backing the legacy mirror sinks.
type MirrorStore interface {
	UpsertMirrorPlan(ctx context.Context, target string, workspaceID id.WorkspaceID, plan billing.Plan, status string) error
	ReadMirrorPlan(ctx context.Context, target string, workspaceID id.WorkspaceID) (billing.Plan, error)
}

// CanonicalName is the sink name of the canonical billing record.
const CanonicalName = "canonical"

// NewCanonicalSink wraps the canonical billing record as a sink.
func NewCanonicalSink(store CanonicalStore) Sink {
	return &canonicalSink{store: store}
}

type canonicalSink struct {
	store CanonicalStore
}

func (s *canonicalSink) Name() string        { return CanonicalName }
func (s *canonicalSink) Authoritative() bool { return true }

func (s *canonicalSink) Write(ctx context.Context, rec *billing.Record) error {
	if err := s.store.UpsertBillingRecord(ctx, rec); err != nil {
		return fmt.Errorf("canonical sink write: %w", err)
	}
	return nil
}

func (s *canonicalSink) Read(ctx context.Context, workspaceID id.WorkspaceID) (billing.Plan, error) {
	rec, err := s.store.GetBillingRecord(ctx, workspaceID)
	if err != nil {
		return "", fmt.Errorf("canonical sink read: %w", err)
	}
	return rec.Plan, nil
}

// NewMirrorSink wraps one legacy mirror target as a sink. Mirrors carry only
// the plan and status, not provider identifiers.
func NewMirrorSink(store MirrorStore, target string) Sink {
	return &mirrorSink{store: store, target: target}
}

type mirrorSink struct {
	store  MirrorStore
	target string
}

func (s *mirrorSink) Name() string        { return s.target }
func (s *mirrorSink) Authoritative() bool { return true }

func (s *mirrorSink) Write(ctx context.Context, rec *billing.Record) error {
	if err := s.store.UpsertMirrorPlan(ctx, s.target, rec.WorkspaceID, rec.Plan, rec.Status); err != nil {
		return fmt.Errorf("mirror sink %s write: %w", s.target, err)
	}
	return nil
}

func (s *mirrorSink) Read(ctx context.Context, workspaceID id.WorkspaceID) (billing.Plan, error) {
	plan, err := s.store.ReadMirrorPlan(ctx, s.target, workspaceID)
	if err != nil {
		return "", fmt.Errorf("mirror sink %s read: %w", s.target, err)
	}
	return plan, nil
}

// DefaultSinks builds the standard sink set: the canonical record plus the
// legacy mirror targets.
func DefaultSinks(canonical CanonicalStore, mirrors MirrorStore) []Sink {
	sinks := []Sink{NewCanonicalSink(canonical)}
	for _, target := range billing.MirrorTargets() {
		sinks = append(sinks, NewMirrorSink(mirrors, target))
	}
	return sinks
}
