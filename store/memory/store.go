package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/reconcile"
	"github.com/xraph/reconcile/billing"
	"github.com/xraph/reconcile/dunning"
	"github.com/xraph/reconcile/event"
	"github.com/xraph/reconcile/id"
	reconcilestore "github.com/xraph/reconcile/store"
	"github.com/xraph/reconcile/workspace"
)

var _ reconcilestore.Store = (*Store)(nil)

type Store struct {
	mu sync.Mutex

	// Event ledger storage
	events      map[string]*event.Entry // by entry id
	byDedupeKey map[string]id.EventID
	order       []id.EventID // insertion order, oldest first

	// Canonical billing records, by workspace id
	billingRecords map[string]*billing.Record

	// Legacy mirrors, keyed target + workspace id
	mirrors map[mirrorKey]mirrorRow

	// Workspace directory
	workspaces map[string]*workspace.Workspace
	users      map[string]*workspace.User

	// Dunning state, by workspace id
	dunningStates map[string]*dunning.State
}

type mirrorKey struct {
	target      string
	workspaceID string
}

type mirrorRow struct {
	plan   billing.Plan
	status string
}

func New() *Store {
	return &Store{
		events:         make(map[string]*event.Entry),
		byDedupeKey:    make(map[string]id.EventID),
		billingRecords: make(map[string]*billing.Record),
		mirrors:        make(map[mirrorKey]mirrorRow),
		workspaces:     make(map[string]*workspace.Workspace),
		users:          make(map[string]*workspace.User),
		dunningStates:  make(map[string]*dunning.State),
	}
}

// Event ledger implementation
func (s *Store) RecordEvent(_ context.Context, e *event.Entry) (bool, id.EventID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.DedupeKey == "" {
		return false, id.Nil, reconcile.ErrMissingDedupeKey
	}
	if existingID, ok := s.byDedupeKey[e.DedupeKey]; ok {
		return false, existingID, nil
	}

	cp := cloneEntry(e)
	s.events[cp.ID.String()] = cp
	s.byDedupeKey[cp.DedupeKey] = cp.ID
	s.order = append(s.order, cp.ID)
	return true, cp.ID, nil
}

func (s *Store) AnnotateOutcome(_ context.Context, entryID id.EventID, o *event.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[entryID.String()]
	if !ok {
		return reconcile.ErrEventNotFound
	}
	oc := *o
	e.Outcome = &oc
	e.Status = string(o.Stage)
	if !o.WorkspaceID.IsNil() {
		e.WorkspaceID = o.WorkspaceID
	}
	e.Touch()
	return nil
}

func (s *Store) GetEvent(_ context.Context, entryID id.EventID) (*event.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.events[entryID.String()]; ok {
		return cloneEntry(e), nil
	}
	return nil, reconcile.ErrEventNotFound
}

func (s *Store) GetEventByDedupeKey(_ context.Context, dedupeKey string) (*event.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.byDedupeKey[dedupeKey]; ok {
		return cloneEntry(s.events[entryID.String()]), nil
	}
	return nil, reconcile.ErrEventNotFound
}

func (s *Store) ListEvents(_ context.Context, workspaceID id.WorkspaceID, opts event.ListOpts) ([]*event.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*event.Entry, 0)
	// Newest first.
	for i := len(s.order) - 1; i >= 0; i-- {
		e := s.events[s.order[i].String()]
		if e.WorkspaceID != workspaceID {
			continue
		}
		if opts.EventType != "" && e.EventType != opts.EventType {
			continue
		}
		result = append(result, cloneEntry(e))
	}

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

// Canonical billing record implementation
func (s *Store) UpsertBillingRecord(_ context.Context, rec *billing.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	if prev, ok := s.billingRecords[rec.WorkspaceID.String()]; ok {
		cp.CreatedAt = prev.CreatedAt
	}
	cp.Touch()
	s.billingRecords[rec.WorkspaceID.String()] = &cp
	return nil
}

func (s *Store) GetBillingRecord(_ context.Context, workspaceID id.WorkspaceID) (*billing.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.billingRecords[workspaceID.String()]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, reconcile.ErrBillingRecordNotFound
}

// Legacy mirror implementation
func (s *Store) UpsertMirrorPlan(_ context.Context, target string, workspaceID id.WorkspaceID, plan billing.Plan, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mirrors[mirrorKey{target: target, workspaceID: workspaceID.String()}] = mirrorRow{plan: plan, status: status}
	return nil
}

func (s *Store) ReadMirrorPlan(_ context.Context, target string, workspaceID id.WorkspaceID) (billing.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row, ok := s.mirrors[mirrorKey{target: target, workspaceID: workspaceID.String()}]; ok {
		return row.plan, nil
	}
	return "", reconcile.ErrMirrorNotFound
}

// Workspace directory implementation
func (s *Store) PutWorkspace(_ context.Context, ws *workspace.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ws
	s.workspaces[ws.ID.String()] = &cp
	return nil
}

func (s *Store) GetWorkspace(_ context.Context, workspaceID id.WorkspaceID) (*workspace.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ws, ok := s.workspaces[workspaceID.String()]; ok {
		cp := *ws
		return &cp, nil
	}
	return nil, reconcile.ErrWorkspaceNotFound
}

func (s *Store) PutUser(_ context.Context, u *workspace.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *u
	s.users[u.ID.String()] = &cp
	return nil
}

func (s *Store) GetUser(_ context.Context, userID id.UserID) (*workspace.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[userID.String()]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, reconcile.ErrUserNotFound
}

func (s *Store) ActiveWorkspace(_ context.Context, userID id.UserID) (*workspace.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID.String()]
	if !ok {
		return nil, reconcile.ErrUserNotFound
	}
	if u.ActiveWorkspaceID.IsNil() {
		return nil, reconcile.ErrNoActiveWorkspace
	}
	ws, ok := s.workspaces[u.ActiveWorkspaceID.String()]
	if !ok {
		return nil, reconcile.ErrWorkspaceNotFound
	}
	cp := *ws
	return &cp, nil
}

func (s *Store) WorkspacesOwnedBy(_ context.Context, userID id.UserID) ([]*workspace.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*workspace.Workspace, 0)
	for _, ws := range s.workspaces {
		if ws.OwnerUserID == userID {
			cp := *ws
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

// Dunning implementation
func (s *Store) GetDunningState(_ context.Context, workspaceID id.WorkspaceID) (*dunning.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.dunningStates[workspaceID.String()]; ok {
		return cloneDunningState(st), nil
	}
	return nil, reconcile.ErrDunningStateNotFound
}

func (s *Store) PutDunningState(_ context.Context, st *dunning.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dunningStates[st.WorkspaceID.String()] = cloneDunningState(st)
	return nil
}

func (s *Store) ClaimRecoveryEmail(_ context.Context, workspaceID id.WorkspaceID, at time.Time, cooldown time.Duration) (bool, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.dunningStates[workspaceID.String()]
	if !ok {
		st = dunning.NewState(workspaceID)
		s.dunningStates[workspaceID.String()] = st
	}
	prior := st.LastRecoveryEmailAt
	if prior != nil && at.Sub(*prior) < cooldown {
		cp := *prior
		return false, &cp, nil
	}
	st.LastRecoveryEmailAt = &at
	st.Touch()
	if prior == nil {
		return true, nil, nil
	}
	cp := *prior
	return true, &cp, nil
}

func (s *Store) ReleaseRecoveryEmail(_ context.Context, workspaceID id.WorkspaceID, prior *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.dunningStates[workspaceID.String()]
	if !ok {
		return reconcile.ErrDunningStateNotFound
	}
	st.LastRecoveryEmailAt = prior
	st.Touch()
	return nil
}

// Store management
func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}

// Helper functions
func cloneEntry(e *event.Entry) *event.Entry {
	cp := *e
	if e.Meta != nil {
		cp.Meta = make(map[string]string, len(e.Meta))
		for k, v := range e.Meta {
			cp.Meta[k] = v
		}
	}
	if e.Outcome != nil {
		oc := *e.Outcome
		cp.Outcome = &oc
	}
	return &cp
}

func cloneDunningState(st *dunning.State) *dunning.State {
	cp := *st
	if st.BannerDismissedAt != nil {
		t := *st.BannerDismissedAt
		cp.BannerDismissedAt = &t
	}
	if st.LastRecoveryEmailAt != nil {
		t := *st.LastRecoveryEmailAt
		cp.LastRecoveryEmailAt = &t
	}
	return &cp
}
