package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/reconcile"
	"github.com/xraph/reconcile/billing"
	"github.com/xraph/reconcile/dunning"
	"github.com/xraph/reconcile/event"
	"github.com/xraph/reconcile/id"
	reconcilestore "github.com/xraph/reconcile/store"
	"github.com/xraph/reconcile/workspace"
)

// compile-time interface check
var _ reconcilestore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("reconcile/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("reconcile/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Event Ledger ====================

func (s *Store) RecordEvent(ctx context.Context, e *event.Entry) (bool, id.EventID, error) {
	if e.DedupeKey == "" {
		return false, id.Nil, reconcile.ErrMissingDedupeKey
	}

	m := toEventModel(e)
	res, err := s.pg.NewInsert(m).
		OnConflict("(dedupe_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, id.Nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, id.Nil, err
	}
	if rows > 0 {
		return true, e.ID, nil
	}

	// Lost the race or a true duplicate; surface the winner's id.
	var existingID string
	err = s.pg.NewRaw(`SELECT id FROM reconcile_events WHERE dedupe_key = ?`, e.DedupeKey).
		Scan(ctx, &existingID)
	if err != nil {
		return false, id.Nil, err
	}
	existing, err := id.ParseEventID(existingID)
	if err != nil {
		return false, id.Nil, err
	}
	return false, existing, nil
}

func (s *Store) AnnotateOutcome(ctx context.Context, entryID id.EventID, o *event.Outcome) error {
	outcome, err := json.Marshal(o)
	if err != nil {
		return err
	}

	q := s.pg.NewUpdate((*eventModel)(nil)).
		Set("outcome = ?", string(outcome)).
		Set("status = ?", string(o.Stage)).
		Set("updated_at = ?", now()).
		Where("id = ?", entryID.String())
	if !o.WorkspaceID.IsNil() {
		q = q.Set("workspace_id = ?", o.WorkspaceID.String())
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return reconcile.ErrEventNotFound
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, entryID id.EventID) (*event.Entry, error) {
	m := new(eventModel)
	err := s.pg.NewSelect(m).
		Where("id = ?", entryID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, reconcile.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) GetEventByDedupeKey(ctx context.Context, dedupeKey string) (*event.Entry, error) {
	m := new(eventModel)
	err := s.pg.NewSelect(m).
		Where("dedupe_key = ?", dedupeKey).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, reconcile.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, workspaceID id.WorkspaceID, opts event.ListOpts) ([]*event.Entry, error) {
	var models []eventModel
	q := s.pg.NewSelect(&models).
		Where("workspace_id = ?", workspaceID.String())

	if opts.EventType != "" {
		q = q.Where("event_type = ?", opts.EventType)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*event.Entry, len(models))
	for i := range models {
		e, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// ==================== Canonical Billing Record ====================

func (s *Store) UpsertBillingRecord(ctx context.Context, rec *billing.Record) error {
	m := toBillingRecordModel(rec)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	m.UpdatedAt = now()

	_, err := s.pg.NewInsert(m).
		OnConflict("(workspace_id) DO UPDATE").
		Set("plan = EXCLUDED.plan").
		Set("billing_interval = EXCLUDED.billing_interval").
		Set("status = EXCLUDED.status").
		Set("provider_customer_id = EXCLUDED.provider_customer_id").
		Set("provider_subscription_id = EXCLUDED.provider_subscription_id").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetBillingRecord(ctx context.Context, workspaceID id.WorkspaceID) (*billing.Record, error) {
	m := new(billingRecordModel)
	err := s.pg.NewSelect(m).
		Where("workspace_id = ?", workspaceID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, reconcile.ErrBillingRecordNotFound
		}
		return nil, err
	}
	return fromBillingRecordModel(m)
}

// ==================== Legacy Mirrors ====================

func (s *Store) UpsertMirrorPlan(ctx context.Context, target string, workspaceID id.WorkspaceID, plan billing.Plan, status string) error {
	m := &mirrorModel{
		MirrorKey:   mirrorKeyFor(target, workspaceID),
		Target:      target,
		WorkspaceID: workspaceID.String(),
		Plan:        string(plan),
		Status:      status,
		UpdatedAt:   now(),
	}
	_, err := s.pg.NewInsert(m).
		OnConflict("(mirror_key) DO UPDATE").
		Set("plan = EXCLUDED.plan").
		Set("status = EXCLUDED.status").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) ReadMirrorPlan(ctx context.Context, target string, workspaceID id.WorkspaceID) (billing.Plan, error) {
	m := new(mirrorModel)
	err := s.pg.NewSelect(m).
		Where("mirror_key = ?", mirrorKeyFor(target, workspaceID)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return "", reconcile.ErrMirrorNotFound
		}
		return "", err
	}
	return billing.Plan(m.Plan), nil
}

// ==================== Workspace Directory ====================

func (s *Store) PutWorkspace(ctx context.Context, ws *workspace.Workspace) error {
	m := toWorkspaceModel(ws)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	m.UpdatedAt = now()

	_, err := s.pg.NewInsert(m).
		OnConflict("(id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("owner_user_id = EXCLUDED.owner_user_id").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetWorkspace(ctx context.Context, workspaceID id.WorkspaceID) (*workspace.Workspace, error) {
	m := new(workspaceModel)
	err := s.pg.NewSelect(m).
		Where("id = ?", workspaceID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, reconcile.ErrWorkspaceNotFound
		}
		return nil, err
	}
	return fromWorkspaceModel(m)
}

func (s *Store) PutUser(ctx context.Context, u *workspace.User) error {
	m := toUserModel(u)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	m.UpdatedAt = now()

	_, err := s.pg.NewInsert(m).
		OnConflict("(id) DO UPDATE").
		Set("email = EXCLUDED.email").
		Set("active_workspace_id = EXCLUDED.active_workspace_id").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*workspace.User, error) {
	m := new(userModel)
	err := s.pg.NewSelect(m).
		Where("id = ?", userID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, reconcile.ErrUserNotFound
		}
		return nil, err
	}
	return fromUserModel(m)
}

func (s *Store) ActiveWorkspace(ctx context.Context, userID id.UserID) (*workspace.Workspace, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.ActiveWorkspaceID.IsNil() {
		return nil, reconcile.ErrNoActiveWorkspace
	}
	return s.GetWorkspace(ctx, u.ActiveWorkspaceID)
}

func (s *Store) WorkspacesOwnedBy(ctx context.Context, userID id.UserID) ([]*workspace.Workspace, error) {
	var models []workspaceModel
	err := s.pg.NewSelect(&models).
		Where("owner_user_id = ?", userID.String()).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*workspace.Workspace, len(models))
	for i := range models {
		ws, err := fromWorkspaceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = ws
	}
	return result, nil
}

// ==================== Dunning ====================

func (s *Store) GetDunningState(ctx context.Context, workspaceID id.WorkspaceID) (*dunning.State, error) {
	m := new(dunningStateModel)
	err := s.pg.NewSelect(m).
		Where("workspace_id = ?", workspaceID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, reconcile.ErrDunningStateNotFound
		}
		return nil, err
	}
	return fromDunningStateModel(m)
}

func (s *Store) PutDunningState(ctx context.Context, st *dunning.State) error {
	m := toDunningStateModel(st)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	m.UpdatedAt = now()

	_, err := s.pg.NewInsert(m).
		OnConflict("(workspace_id) DO UPDATE").
		Set("recovery_required = EXCLUDED.recovery_required").
		Set("last_status = EXCLUDED.last_status").
		Set("banner_dismissed_at = EXCLUDED.banner_dismissed_at").
		Set("last_recovery_email_at = EXCLUDED.last_recovery_email_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) ClaimRecoveryEmail(ctx context.Context, workspaceID id.WorkspaceID, at time.Time, cooldown time.Duration) (bool, *time.Time, error) {
	// Make sure a row exists so the guarded update below has something to
	// claim against.
	seed := &dunningStateModel{
		WorkspaceID: workspaceID.String(),
		CreatedAt:   now(),
		UpdatedAt:   now(),
	}
	if _, err := s.pg.NewInsert(seed).
		OnConflict("(workspace_id) DO NOTHING").
		Exec(ctx); err != nil {
		return false, nil, err
	}

	m := new(dunningStateModel)
	if err := s.pg.NewSelect(m).
		Where("workspace_id = ?", workspaceID.String()).
		Scan(ctx); err != nil {
		return false, nil, err
	}
	prior := m.LastRecoveryEmailAt

	threshold := at.Add(-cooldown)
	res, err := s.pg.NewUpdate((*dunningStateModel)(nil)).
		Set("last_recovery_email_at = ?", at).
		Set("updated_at = ?", now()).
		Where("workspace_id = ?", workspaceID.String()).
		Where("(last_recovery_email_at IS NULL OR last_recovery_email_at <= ?)", threshold).
		Exec(ctx)
	if err != nil {
		return false, nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, nil, err
	}
	if rows == 0 {
		return false, prior, nil
	}
	return true, prior, nil
}

func (s *Store) ReleaseRecoveryEmail(ctx context.Context, workspaceID id.WorkspaceID, prior *time.Time) error {
	res, err := s.pg.NewUpdate((*dunningStateModel)(nil)).
		Set("last_recovery_email_at = ?", prior).
		Set("updated_at = ?", now()).
		Where("workspace_id = ?", workspaceID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return reconcile.ErrDunningStateNotFound
	}
	return nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
