package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	reconcile "github.com/xraph/reconcile"
	"github.com/xraph/reconcile/billing"
	"github.com/xraph/reconcile/dunning"
	"github.com/xraph/reconcile/event"
	"github.com/xraph/reconcile/id"
	reconcilestore "github.com/xraph/reconcile/store"
	"github.com/xraph/reconcile/workspace"
)

// Collection name constants.
const (
	colEvents         = "reconcile_events"
	colBillingRecords = "reconcile_billing_records"
	colPlanMirrors    = "reconcile_plan_mirrors"
	colWorkspaces     = "reconcile_workspaces"
	colUsers          = "reconcile_users"
	colDunningStates  = "reconcile_dunning_states"
)

// compile-time interface check
var _ reconcilestore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all reconcile collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("reconcile/mongo: migrate %s indexes: %w", col, err)
		}
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
		return false, id.EventID{}, reconcile.ErrMissingDedupeKey
	}

	m := toEventModel(e)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		// The unique index on dedupe_key makes the first writer win; losers
		// surface the winner's entry id instead of an error.
		if mongo.IsDuplicateKeyError(err) {
			existing, lookupErr := s.GetEventByDedupeKey(ctx, e.DedupeKey)
			if lookupErr != nil {
				return false, id.EventID{}, fmt.Errorf("reconcile/mongo: record event: lookup after duplicate: %w", lookupErr)
			}
			return false, existing.ID, nil
		}
		return false, id.EventID{}, fmt.Errorf("reconcile/mongo: record event: %w", err)
	}
	return true, e.ID, nil
}

func (s *Store) AnnotateOutcome(ctx context.Context, entryID id.EventID, o *event.Outcome) error {
	set := bson.M{
		"outcome":    toOutcomeModel(o),
		"status":     string(o.Stage),
		"updated_at": now(),
	}
	if !o.WorkspaceID.IsNil() {
		set["workspace_id"] = o.WorkspaceID.String()
	}

	res, err := s.mdb.NewUpdate((*eventModel)(nil)).
		Filter(bson.M{"_id": entryID.String()}).
		SetUpdate(bson.M{"$set": set}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reconcile/mongo: annotate outcome: %w", err)
	}
	if res.MatchedCount() == 0 {
		return reconcile.ErrEventNotFound
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, entryID id.EventID) (*event.Entry, error) {
	var m eventModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": entryID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, reconcile.ErrEventNotFound
		}
		return nil, fmt.Errorf("reconcile/mongo: get event: %w", err)
	}
	return fromEventModel(&m)
}

func (s *Store) GetEventByDedupeKey(ctx context.Context, dedupeKey string) (*event.Entry, error) {
	var m eventModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"dedupe_key": dedupeKey}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, reconcile.ErrEventNotFound
		}
		return nil, fmt.Errorf("reconcile/mongo: get event by dedupe key: %w", err)
	}
	return fromEventModel(&m)
}

func (s *Store) ListEvents(ctx context.Context, workspaceID id.WorkspaceID, opts event.ListOpts) ([]*event.Entry, error) {
	var models []eventModel

	filter := bson.M{"workspace_id": workspaceID.String()}
	if opts.EventType != "" {
		filter["event_type"] = opts.EventType
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("reconcile/mongo: list events: %w", err)
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

// ==================== Billing Records ====================

func (s *Store) UpsertBillingRecord(ctx context.Context, rec *billing.Record) error {
	m := toBillingRecordModel(rec)
	t := now()

	_, err := s.mdb.NewUpdate((*billingRecordModel)(nil)).
		Filter(bson.M{"_id": m.WorkspaceID}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"plan":                     m.Plan,
				"billing_interval":         m.Interval,
				"status":                   m.Status,
				"provider_customer_id":     m.ProviderCustomerID,
				"provider_subscription_id": m.ProviderSubscriptionID,
				"updated_at":               t,
			},
			"$setOnInsert": bson.M{"created_at": t},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reconcile/mongo: upsert billing record: %w", err)
	}
	return nil
}

func (s *Store) GetBillingRecord(ctx context.Context, workspaceID id.WorkspaceID) (*billing.Record, error) {
	var m billingRecordModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": workspaceID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, reconcile.ErrBillingRecordNotFound
		}
		return nil, fmt.Errorf("reconcile/mongo: get billing record: %w", err)
	}
	return fromBillingRecordModel(&m)
}

// ==================== Plan Mirrors ====================

func (s *Store) UpsertMirrorPlan(ctx context.Context, target string, workspaceID id.WorkspaceID, plan billing.Plan, status string) error {
	t := now()

	_, err := s.mdb.NewUpdate((*mirrorModel)(nil)).
		Filter(bson.M{"_id": mirrorKeyFor(target, workspaceID)}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"target":       target,
				"workspace_id": workspaceID.String(),
				"plan":         string(plan),
				"status":       status,
				"updated_at":   t,
			},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reconcile/mongo: upsert mirror plan: %w", err)
	}
	return nil
}

func (s *Store) ReadMirrorPlan(ctx context.Context, target string, workspaceID id.WorkspaceID) (billing.Plan, error) {
	var m mirrorModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": mirrorKeyFor(target, workspaceID)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return "", reconcile.ErrMirrorNotFound
		}
		return "", fmt.Errorf("reconcile/mongo: read mirror plan: %w", err)
	}
	return billing.Plan(m.Plan), nil
}

// ==================== Workspace Directory ====================

func (s *Store) PutWorkspace(ctx context.Context, ws *workspace.Workspace) error {
	m := toWorkspaceModel(ws)
	t := now()

	_, err := s.mdb.NewUpdate((*workspaceModel)(nil)).
		Filter(bson.M{"_id": m.ID}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"name":          m.Name,
				"owner_user_id": m.OwnerUserID,
				"updated_at":    t,
			},
			"$setOnInsert": bson.M{"created_at": t},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reconcile/mongo: put workspace: %w", err)
	}
	return nil
}

func (s *Store) GetWorkspace(ctx context.Context, workspaceID id.WorkspaceID) (*workspace.Workspace, error) {
	var m workspaceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": workspaceID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, reconcile.ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("reconcile/mongo: get workspace: %w", err)
	}
	return fromWorkspaceModel(&m)
}

func (s *Store) PutUser(ctx context.Context, u *workspace.User) error {
	m := toUserModel(u)
	t := now()

	_, err := s.mdb.NewUpdate((*userModel)(nil)).
		Filter(bson.M{"_id": m.ID}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"email":               m.Email,
				"active_workspace_id": m.ActiveWorkspaceID,
				"updated_at":          t,
			},
			"$setOnInsert": bson.M{"created_at": t},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reconcile/mongo: put user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*workspace.User, error) {
	var m userModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, reconcile.ErrUserNotFound
		}
		return nil, fmt.Errorf("reconcile/mongo: get user: %w", err)
	}
	return fromUserModel(&m)
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

	err := s.mdb.NewFind(&models).
		Filter(bson.M{"owner_user_id": userID.String()}).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile/mongo: workspaces owned by: %w", err)
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
	var m dunningStateModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": workspaceID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, reconcile.ErrDunningStateNotFound
		}
		return nil, fmt.Errorf("reconcile/mongo: get dunning state: %w", err)
	}
	return fromDunningStateModel(&m)
}

func (s *Store) PutDunningState(ctx context.Context, st *dunning.State) error {
	m := toDunningStateModel(st)
	t := now()

	_, err := s.mdb.NewUpdate((*dunningStateModel)(nil)).
		Filter(bson.M{"_id": m.WorkspaceID}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"recovery_required":      m.RecoveryRequired,
				"last_status":            m.LastStatus,
				"banner_dismissed_at":    m.BannerDismissedAt,
				"last_recovery_email_at": m.LastRecoveryEmailAt,
				"updated_at":             t,
			},
			"$setOnInsert": bson.M{"created_at": t},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reconcile/mongo: put dunning state: %w", err)
	}
	return nil
}

func (s *Store) ClaimRecoveryEmail(ctx context.Context, workspaceID id.WorkspaceID, at time.Time, cooldown time.Duration) (bool, *time.Time, error) {
	key := workspaceID.String()
	t := now()

	// Seed the document so the guarded update below always has one to match.
	_, err := s.mdb.NewUpdate((*dunningStateModel)(nil)).
		Filter(bson.M{"_id": key}).
		SetUpdate(bson.M{
			"$setOnInsert": bson.M{
				"recovery_required": false,
				"last_status":       "",
				"created_at":        t,
				"updated_at":        t,
			},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("reconcile/mongo: claim recovery email: seed: %w", err)
	}

	var m dunningStateModel
	err = s.mdb.NewFind(&m).
		Filter(bson.M{"_id": key}).
		Scan(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("reconcile/mongo: claim recovery email: read prior: %w", err)
	}
	var prior *time.Time
	if m.LastRecoveryEmailAt != nil {
		p := *m.LastRecoveryEmailAt
		prior = &p
	}

	// Matches only while the cooldown window is open; a nil filter value also
	// matches documents that never sent an email.
	threshold := at.Add(-cooldown)
	res, err := s.mdb.NewUpdate((*dunningStateModel)(nil)).
		Filter(bson.M{
			"_id": key,
			"$or": []bson.M{
				{"last_recovery_email_at": nil},
				{"last_recovery_email_at": bson.M{"$lte": threshold}},
			},
		}).
		SetUpdate(bson.M{"$set": bson.M{
			"last_recovery_email_at": at,
			"updated_at":             now(),
		}}).
		Exec(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("reconcile/mongo: claim recovery email: %w", err)
	}
	return res.MatchedCount() > 0, prior, nil
}

func (s *Store) ReleaseRecoveryEmail(ctx context.Context, workspaceID id.WorkspaceID, prior *time.Time) error {
	res, err := s.mdb.NewUpdate((*dunningStateModel)(nil)).
		Filter(bson.M{"_id": workspaceID.String()}).
		SetUpdate(bson.M{"$set": bson.M{
			"last_recovery_email_at": prior,
			"updated_at":             now(),
		}}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reconcile/mongo: release recovery email: %w", err)
	}
	if res.MatchedCount() == 0 {
		return reconcile.ErrDunningStateNotFound
	}
	return nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all reconcile collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colEvents: {
			{
				Keys:    bson.D{{Key: "dedupe_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "workspace_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "event_type", Value: 1}}},
		},
		colBillingRecords: {
			{Keys: bson.D{{Key: "provider_customer_id", Value: 1}}},
		},
		colPlanMirrors: {
			{Keys: bson.D{{Key: "workspace_id", Value: 1}}},
		},
		colWorkspaces: {
			{Keys: bson.D{{Key: "owner_user_id", Value: 1}}},
		},
		colUsers:         {},
		colDunningStates: {},
	}
}
