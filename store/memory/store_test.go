package memory_test

import (
	"context"
	"testing"
	"time"

	reconcile "github.com/xraph/reconcile"
	"github.com/xraph/reconcile/billing"
	"github.com/xraph/reconcile/event"
	"github.com/xraph/reconcile/id"
	"github.com/xraph/reconcile/store/memory"
	"github.com/xraph/reconcile/types"
	"github.com/xraph/reconcile/workspace"
)

func newEntry(wsID id.WorkspaceID, dedupeKey, eventType string) *event.Entry {
	return &event.Entry{
		Entity:      types.NewEntity(),
		ID:          id.NewEventID(),
		DedupeKey:   dedupeKey,
		EventType:   eventType,
		WorkspaceID: wsID,
		Meta:        map[string]string{"plan": "pro"},
	}
}

func TestRecordEventDedupe(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	wsID := id.NewWorkspaceID()

	first := newEntry(wsID, "evt_1", "checkout.session.completed")
	inserted, gotID, err := s.RecordEvent(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted || gotID != first.ID {
		t.Fatalf("first record: inserted=%v id=%s, want fresh insert", inserted, gotID)
	}

	dup := newEntry(wsID, "evt_1", "checkout.session.completed")
	inserted, gotID, err = s.RecordEvent(ctx, dup)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("duplicate dedupe key should not insert")
	}
	if gotID != first.ID {
		t.Errorf("duplicate returned id %s, want original %s", gotID, first.ID)
	}
}

func TestRecordEventMissingDedupeKey(t *testing.T) {
	s := memory.New()
	_, _, err := s.RecordEvent(context.Background(), newEntry(id.NewWorkspaceID(), "", "checkout.session.completed"))
	if err != reconcile.ErrMissingDedupeKey {
		t.Fatalf("err = %v, want ErrMissingDedupeKey", err)
	}
}

func TestAnnotateOutcome(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	wsID := id.NewWorkspaceID()

	e := newEntry(id.Nil, "evt_annotate", "checkout.session.completed")
	if _, _, err := s.RecordEvent(ctx, e); err != nil {
		t.Fatal(err)
	}

	o := &event.Outcome{
		Stage:       event.StageDone,
		WorkspaceID: wsID,
		Plan:        string(billing.PlanPro),
		Effective:   true,
		RecordedAt:  time.Now().UTC(),
	}
	if err := s.AnnotateOutcome(ctx, e.ID, o); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEvent(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Outcome == nil || got.Outcome.Plan != string(billing.PlanPro) {
		t.Fatalf("outcome = %+v, want plan pro", got.Outcome)
	}
	if got.Status != string(event.StageDone) {
		t.Errorf("status = %q, want %q", got.Status, event.StageDone)
	}
	if got.WorkspaceID != wsID {
		t.Errorf("workspace backfill = %s, want %s", got.WorkspaceID, wsID)
	}
}

func TestAnnotateOutcomeUnknownEvent(t *testing.T) {
	s := memory.New()
	err := s.AnnotateOutcome(context.Background(), id.NewEventID(), &event.Outcome{Stage: event.StageDone})
	if !reconcile.IsNotFound(err) {
		t.Fatalf("err = %v, want not-found", err)
	}
}

func TestGetEventByDedupeKey(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	e := newEntry(id.NewWorkspaceID(), "evt_lookup", "customer.subscription.updated")
	if _, _, err := s.RecordEvent(ctx, e); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEventByDedupeKey(ctx, "evt_lookup")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != e.ID {
		t.Errorf("got id %s, want %s", got.ID, e.ID)
	}

	if _, err := s.GetEventByDedupeKey(ctx, "evt_absent"); !reconcile.IsNotFound(err) {
		t.Fatalf("absent key err = %v, want not-found", err)
	}
}

func TestListEvents(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	wsID := id.NewWorkspaceID()
	other := id.NewWorkspaceID()

	eventTypes := []string{
		"checkout.session.completed",
		"customer.subscription.updated",
		"customer.subscription.updated",
	}
	ids := make([]id.EventID, 0, len(eventTypes))
	for i, et := range eventTypes {
		e := newEntry(wsID, "evt_list_"+string(rune('a'+i)), et)
		if _, _, err := s.RecordEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, e.ID)
	}
	if _, _, err := s.RecordEvent(ctx, newEntry(other, "evt_other", "checkout.session.completed")); err != nil {
		t.Fatal(err)
	}

	// Newest first, other workspaces excluded.
	got, err := s.ListEvents(ctx, wsID, event.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i := range got {
		if got[i].ID != ids[len(ids)-1-i] {
			t.Errorf("position %d = %s, want %s", i, got[i].ID, ids[len(ids)-1-i])
		}
	}

	// Type filter.
	got, err = s.ListEvents(ctx, wsID, event.ListOpts{EventType: "customer.subscription.updated"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("filtered len = %d, want 2", len(got))
	}

	// Offset and limit.
	got, err = s.ListEvents(ctx, wsID, event.ListOpts{Offset: 1, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != ids[1] {
		t.Fatalf("paged result = %+v, want the middle entry", got)
	}

	// Offset past the end is empty, not an error.
	got, err = s.ListEvents(ctx, wsID, event.ListOpts{Offset: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("past-the-end len = %d, want 0", len(got))
	}
}

func TestUpsertBillingRecordPreservesCreatedAt(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	wsID := id.NewWorkspaceID()

	first := &billing.Record{
		Entity:      types.NewEntity(),
		WorkspaceID: wsID,
		Plan:        billing.PlanSolo,
		Interval:    billing.IntervalMonthly,
		Status:      "active",
	}
	if err := s.UpsertBillingRecord(ctx, first); err != nil {
		t.Fatal(err)
	}

	update := &billing.Record{
		Entity:      types.NewEntity(),
		WorkspaceID: wsID,
		Plan:        billing.PlanPro,
		Interval:    billing.IntervalAnnual,
		Status:      "active",
	}
	if err := s.UpsertBillingRecord(ctx, update); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetBillingRecord(ctx, wsID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Plan != billing.PlanPro || got.Interval != billing.IntervalAnnual {
		t.Errorf("record = %+v, want updated plan and interval", got)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at = %v, want original %v", got.CreatedAt, first.CreatedAt)
	}

	if _, err := s.GetBillingRecord(ctx, id.NewWorkspaceID()); !reconcile.IsNotFound(err) {
		t.Fatalf("absent record err = %v, want not-found", err)
	}
}

func TestMirrorPlans(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	wsID := id.NewWorkspaceID()

	if _, err := s.ReadMirrorPlan(ctx, billing.MirrorMembership, wsID); !reconcile.IsNotFound(err) {
		t.Fatalf("absent mirror err = %v, want not-found", err)
	}

	if err := s.UpsertMirrorPlan(ctx, billing.MirrorMembership, wsID, billing.PlanStudio, "active"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertMirrorPlan(ctx, billing.MirrorUser, wsID, billing.PlanFree, "active"); err != nil {
		t.Fatal(err)
	}

	// Targets are independent rows.
	plan, err := s.ReadMirrorPlan(ctx, billing.MirrorMembership, wsID)
	if err != nil {
		t.Fatal(err)
	}
	if plan != billing.PlanStudio {
		t.Errorf("membership plan = %q, want studio", plan)
	}
	plan, err = s.ReadMirrorPlan(ctx, billing.MirrorUser, wsID)
	if err != nil {
		t.Fatal(err)
	}
	if plan != billing.PlanFree {
		t.Errorf("user plan = %q, want free", plan)
	}
}

func TestActiveWorkspace(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if _, err := s.ActiveWorkspace(ctx, id.NewUserID()); !reconcile.IsNotFound(err) {
		t.Fatalf("unknown user err = %v, want not-found", err)
	}

	u := &workspace.User{
		Entity: types.NewEntity(),
		ID:     id.NewUserID(),
		Email:  "owner@example.com",
	}
	if err := s.PutUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ActiveWorkspace(ctx, u.ID); err != reconcile.ErrNoActiveWorkspace {
		t.Fatalf("nil active err = %v, want ErrNoActiveWorkspace", err)
	}

	ws := &workspace.Workspace{
		Entity:      types.NewEntity(),
		ID:          id.NewWorkspaceID(),
		Name:        "studio",
		OwnerUserID: u.ID,
	}
	if err := s.PutWorkspace(ctx, ws); err != nil {
		t.Fatal(err)
	}
	u.ActiveWorkspaceID = ws.ID
	if err := s.PutUser(ctx, u); err != nil {
		t.Fatal(err)
	}

	got, err := s.ActiveWorkspace(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != ws.ID {
		t.Errorf("active workspace = %s, want %s", got.ID, ws.ID)
	}
}

func TestWorkspacesOwnedBySorted(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	owner := id.NewUserID()

	for i := 0; i < 3; i++ {
		ws := &workspace.Workspace{
			Entity:      types.NewEntity(),
			ID:          id.NewWorkspaceID(),
			Name:        "ws",
			OwnerUserID: owner,
		}
		if err := s.PutWorkspace(ctx, ws); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.PutWorkspace(ctx, &workspace.Workspace{
		Entity:      types.NewEntity(),
		ID:          id.NewWorkspaceID(),
		Name:        "other",
		OwnerUserID: id.NewUserID(),
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.WorkspacesOwnedBy(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].ID.String() >= got[i].ID.String() {
			t.Errorf("result not sorted by id at %d: %s >= %s", i, got[i-1].ID, got[i].ID)
		}
	}
}

func TestClaimRecoveryEmail(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	wsID := id.NewWorkspaceID()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cooldown := 24 * time.Hour

	// First claim synthesizes the state row.
	claimed, prior, err := s.ClaimRecoveryEmail(ctx, wsID, base, cooldown)
	if err != nil {
		t.Fatal(err)
	}
	if !claimed || prior != nil {
		t.Fatalf("first claim = (%v, %v), want claimed with no prior", claimed, prior)
	}

	// Inside the window the claim is refused and the prior comes back.
	claimed, prior, err = s.ClaimRecoveryEmail(ctx, wsID, base.Add(23*time.Hour), cooldown)
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Error("claim inside cooldown should be refused")
	}
	if prior == nil || !prior.Equal(base) {
		t.Errorf("prior = %v, want %v", prior, base)
	}

	// Past the window the claim goes through and returns the displaced stamp.
	at := base.Add(25 * time.Hour)
	claimed, prior, err = s.ClaimRecoveryEmail(ctx, wsID, at, cooldown)
	if err != nil {
		t.Fatal(err)
	}
	if !claimed {
		t.Fatal("claim past cooldown should succeed")
	}
	if prior == nil || !prior.Equal(base) {
		t.Errorf("displaced prior = %v, want %v", prior, base)
	}

	// Release restores the displaced stamp so a retry is not throttled.
	if err := s.ReleaseRecoveryEmail(ctx, wsID, prior); err != nil {
		t.Fatal(err)
	}
	claimed, _, err = s.ClaimRecoveryEmail(ctx, wsID, at, cooldown)
	if err != nil {
		t.Fatal(err)
	}
	if !claimed {
		t.Error("claim after release should succeed")
	}
}

func TestReleaseRecoveryEmailUnknownWorkspace(t *testing.T) {
	s := memory.New()
	err := s.ReleaseRecoveryEmail(context.Background(), id.NewWorkspaceID(), nil)
	if !reconcile.IsNotFound(err) {
		t.Fatalf("err = %v, want not-found", err)
	}
}

func TestCloneIsolation(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	e := newEntry(id.NewWorkspaceID(), "evt_clone", "checkout.session.completed")
	if _, _, err := s.RecordEvent(ctx, e); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's entry after recording does not leak in.
	e.Meta["plan"] = "mutated"
	got, err := s.GetEvent(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta["plan"] != "pro" {
		t.Errorf("stored meta = %q, want insulated copy", got.Meta["plan"])
	}

	// Mutating a returned entry does not leak back.
	got.Meta["plan"] = "tampered"
	again, err := s.GetEvent(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Meta["plan"] != "pro" {
		t.Errorf("re-read meta = %q, want original", again.Meta["plan"])
	}
}
