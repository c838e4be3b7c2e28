package resolve_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/xraph/reconcile/event"
	"github.com/xraph/reconcile/id"
	"github.com/xraph/reconcile/resolve"
	"github.com/xraph/reconcile/store/memory"
	"github.com/xraph/reconcile/types"
	"github.com/xraph/reconcile/workspace"
)

func seedWorkspace(t *testing.T, s *memory.Store, owner id.UserID) id.WorkspaceID {
	t.Helper()
	ws := &workspace.Workspace{
		Entity:      types.NewEntity(),
		ID:          id.NewWorkspaceID(),
		Name:        "studio",
		OwnerUserID: owner,
	}
	if err := s.PutWorkspace(context.Background(), ws); err != nil {
		t.Fatal(err)
	}
	return ws.ID
}

func seedUser(t *testing.T, s *memory.Store, active id.WorkspaceID) id.UserID {
	t.Helper()
	u := &workspace.User{
		Entity:            types.NewEntity(),
		ID:                id.NewUserID(),
		Email:             "owner@example.com",
		ActiveWorkspaceID: active,
	}
	if err := s.PutUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return u.ID
}

func entryWithMeta(meta map[string]string) *event.Entry {
	return &event.Entry{
		Entity:    types.NewEntity(),
		ID:        id.NewEventID(),
		DedupeKey: "evt_test",
		EventType: "customer.subscription.updated",
		Meta:      meta,
	}
}

func TestWorkspaceResolverExplicitID(t *testing.T) {
	s := memory.New()
	owner := id.NewUserID()
	wsID := seedWorkspace(t, s, owner)

	r := resolve.NewWorkspaceResolver(s, slog.Default())
	got, err := r.Resolve(context.Background(), entryWithMeta(map[string]string{
		event.MetaWorkspaceID: wsID.String(),
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got != wsID {
		t.Errorf("resolved %s, want %s", got, wsID)
	}
}

func TestWorkspaceResolverMalformedHintFallsThrough(t *testing.T) {
	s := memory.New()
	wsID := seedWorkspace(t, s, id.NewUserID())
	userID := seedUser(t, s, wsID)

	r := resolve.NewWorkspaceResolver(s, slog.Default())
	got, err := r.Resolve(context.Background(), entryWithMeta(map[string]string{
		event.MetaWorkspaceID: "not-a-workspace-id",
		event.MetaUserID:      userID.String(),
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got != wsID {
		t.Errorf("resolved %s, want active workspace %s", got, wsID)
	}
}

func TestWorkspaceResolverUnknownExplicitIDFallsThrough(t *testing.T) {
	s := memory.New()
	wsID := seedWorkspace(t, s, id.NewUserID())
	userID := seedUser(t, s, wsID)

	r := resolve.NewWorkspaceResolver(s, slog.Default())
	got, err := r.Resolve(context.Background(), entryWithMeta(map[string]string{
		event.MetaWorkspaceID: id.NewWorkspaceID().String(), // well-formed but absent
		event.MetaUserID:      userID.String(),
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got != wsID {
		t.Errorf("resolved %s, want %s", got, wsID)
	}
}

func TestWorkspaceResolverSoleOwned(t *testing.T) {
	s := memory.New()
	userID := seedUser(t, s, id.Nil) // no active workspace
	wsID := seedWorkspace(t, s, userID)

	r := resolve.NewWorkspaceResolver(s, slog.Default())
	got, err := r.Resolve(context.Background(), entryWithMeta(map[string]string{
		event.MetaUserID: userID.String(),
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got != wsID {
		t.Errorf("resolved %s, want sole owned %s", got, wsID)
	}
}

func TestWorkspaceResolverAmbiguousOwnership(t *testing.T) {
	s := memory.New()
	userID := seedUser(t, s, id.Nil)
	seedWorkspace(t, s, userID)
	seedWorkspace(t, s, userID)

	r := resolve.NewWorkspaceResolver(s, slog.Default())
	_, err := r.Resolve(context.Background(), entryWithMeta(map[string]string{
		event.MetaUserID: userID.String(),
	}))
	if !errors.Is(err, resolve.ErrWorkspaceUnresolved) {
		t.Fatalf("err = %v, want ErrWorkspaceUnresolved", err)
	}
	if !errors.Is(err, resolve.ErrWorkspaceAmbiguous) {
		t.Errorf("err = %v, want wrapped ErrWorkspaceAmbiguous", err)
	}
}

func TestWorkspaceResolverUnresolved(t *testing.T) {
	s := memory.New()

	r := resolve.NewWorkspaceResolver(s, slog.Default())
	_, err := r.Resolve(context.Background(), entryWithMeta(nil))
	if !errors.Is(err, resolve.ErrWorkspaceUnresolved) {
		t.Fatalf("err = %v, want ErrWorkspaceUnresolved", err)
	}
	if errors.Is(err, resolve.ErrWorkspaceAmbiguous) {
		t.Error("plain unresolved must not claim ambiguity")
	}
}

func TestWorkspaceResolverDeterministic(t *testing.T) {
	s := memory.New()
	userID := seedUser(t, s, id.Nil)
	wsID := seedWorkspace(t, s, userID)

	r := resolve.NewWorkspaceResolver(s, slog.Default())
	e := entryWithMeta(map[string]string{event.MetaUserID: userID.String()})
	for i := 0; i < 3; i++ {
		got, err := r.Resolve(context.Background(), e)
		if err != nil {
			t.Fatal(err)
		}
		if got != wsID {
			t.Fatalf("pass %d resolved %s, want %s", i, got, wsID)
		}
	}
}
