package sqlite

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/reconcile/billing"
	"github.com/xraph/reconcile/dunning"
	"github.com/xraph/reconcile/event"
	"github.com/xraph/reconcile/id"
	"github.com/xraph/reconcile/types"
	"github.com/xraph/reconcile/workspace"
)

// ==================== Event models ====================

type eventModel struct {
	grove.BaseModel `grove:"table:reconcile_events"`

	ID          string            `grove:"id,pk"`
	DedupeKey   string            `grove:"dedupe_key"`
	WorkspaceID string            `grove:"workspace_id"`
	ActorEmail  string            `grove:"actor_email"`
	EventType   string            `grove:"event_type"`
	ObjectID    string            `grove:"object_id"`
	Status      string            `grove:"status"`
	Meta        map[string]string `grove:"meta,type:jsonb"`
	Outcome     json.RawMessage   `grove:"outcome,type:jsonb"`
	CreatedAt   time.Time         `grove:"created_at"`
	UpdatedAt   time.Time         `grove:"updated_at"`
}

func toEventModel(e *event.Entry) *eventModel {
	var outcome json.RawMessage
	if e.Outcome != nil {
		outcome, _ = json.Marshal(e.Outcome) //nolint:errcheck // best-effort
	}

	m := &eventModel{
		ID:         e.ID.String(),
		DedupeKey:  e.DedupeKey,
		ActorEmail: e.ActorEmail,
		EventType:  e.EventType,
		ObjectID:   e.ObjectID,
		Status:     e.Status,
		Meta:       e.Meta,
		Outcome:    outcome,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
	if !e.WorkspaceID.IsNil() {
		m.WorkspaceID = e.WorkspaceID.String()
	}
	return m
}

func fromEventModel(m *eventModel) (*event.Entry, error) {
	entryID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, err
	}

	e := &event.Entry{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         entryID,
		DedupeKey:  m.DedupeKey,
		ActorEmail: m.ActorEmail,
		EventType:  m.EventType,
		ObjectID:   m.ObjectID,
		Status:     m.Status,
		Meta:       m.Meta,
	}
	if m.WorkspaceID != "" {
		wsID, err := id.ParseWorkspaceID(m.WorkspaceID)
		if err != nil {
			return nil, err
		}
		e.WorkspaceID = wsID
	}
	if len(m.Outcome) > 0 && string(m.Outcome) != "null" {
		e.Outcome = new(event.Outcome)
		_ = json.Unmarshal(m.Outcome, e.Outcome) //nolint:errcheck // best-effort
	}
	return e, nil
}

// ==================== Billing record models ====================

type billingRecordModel struct {
	grove.BaseModel `grove:"table:reconcile_billing_records"`

	WorkspaceID            string    `grove:"workspace_id,pk"`
	Plan                   string    `grove:"plan"`
	Interval               string    `grove:"billing_interval"`
	Status                 string    `grove:"status"`
	ProviderCustomerID     string    `grove:"provider_customer_id"`
	ProviderSubscriptionID string    `grove:"provider_subscription_id"`
	CreatedAt              time.Time `grove:"created_at"`
	UpdatedAt              time.Time `grove:"updated_at"`
}

func toBillingRecordModel(rec *billing.Record) *billingRecordModel {
	return &billingRecordModel{
		WorkspaceID:            rec.WorkspaceID.String(),
		Plan:                   string(rec.Plan),
		Interval:               string(rec.Interval),
		Status:                 rec.Status,
		ProviderCustomerID:     rec.ProviderCustomerID,
		ProviderSubscriptionID: rec.ProviderSubscriptionID,
		CreatedAt:              rec.CreatedAt,
		UpdatedAt:              rec.UpdatedAt,
	}
}

func fromBillingRecordModel(m *billingRecordModel) (*billing.Record, error) {
	wsID, err := id.ParseWorkspaceID(m.WorkspaceID)
	if err != nil {
		return nil, err
	}

	return &billing.Record{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		WorkspaceID:            wsID,
		Plan:                   billing.Plan(m.Plan),
		Interval:               billing.Interval(m.Interval),
		Status:                 m.Status,
		ProviderCustomerID:     m.ProviderCustomerID,
		ProviderSubscriptionID: m.ProviderSubscriptionID,
	}, nil
}

// ==================== Mirror models ====================

type mirrorModel struct {
	grove.BaseModel `grove:"table:reconcile_plan_mirrors"`

	MirrorKey   string    `grove:"mirror_key,pk"` // target + ":" + workspace id
	Target      string    `grove:"target"`
	WorkspaceID string    `grove:"workspace_id"`
	Plan        string    `grove:"plan"`
	Status      string    `grove:"status"`
	UpdatedAt   time.Time `grove:"updated_at"`
}

func mirrorKeyFor(target string, workspaceID id.WorkspaceID) string {
	return target + ":" + workspaceID.String()
}

// ==================== Workspace directory models ====================

type workspaceModel struct {
	grove.BaseModel `grove:"table:reconcile_workspaces"`

	ID          string    `grove:"id,pk"`
	Name        string    `grove:"name"`
	OwnerUserID string    `grove:"owner_user_id"`
	CreatedAt   time.Time `grove:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"`
}

func toWorkspaceModel(ws *workspace.Workspace) *workspaceModel {
	return &workspaceModel{
		ID:          ws.ID.String(),
		Name:        ws.Name,
		OwnerUserID: ws.OwnerUserID.String(),
		CreatedAt:   ws.CreatedAt,
		UpdatedAt:   ws.UpdatedAt,
	}
}

func fromWorkspaceModel(m *workspaceModel) (*workspace.Workspace, error) {
	wsID, err := id.ParseWorkspaceID(m.ID)
	if err != nil {
		return nil, err
	}
	ownerID, err := id.ParseUserID(m.OwnerUserID)
	if err != nil {
		return nil, err
	}

	return &workspace.Workspace{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          wsID,
		Name:        m.Name,
		OwnerUserID: ownerID,
	}, nil
}

type userModel struct {
	grove.BaseModel `grove:"table:reconcile_users"`

	ID                string    `grove:"id,pk"`
	Email             string    `grove:"email"`
	ActiveWorkspaceID string    `grove:"active_workspace_id"`
	CreatedAt         time.Time `grove:"created_at"`
	UpdatedAt         time.Time `grove:"updated_at"`
}

func toUserModel(u *workspace.User) *userModel {
	m := &userModel{
		ID:        u.ID.String(),
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	if !u.ActiveWorkspaceID.IsNil() {
		m.ActiveWorkspaceID = u.ActiveWorkspaceID.String()
	}
	return m
}

func fromUserModel(m *userModel) (*workspace.User, error) {
	userID, err := id.ParseUserID(m.ID)
	if err != nil {
		return nil, err
	}

	u := &workspace.User{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:    userID,
		Email: m.Email,
	}
	if m.ActiveWorkspaceID != "" {
		wsID, err := id.ParseWorkspaceID(m.ActiveWorkspaceID)
		if err != nil {
			return nil, err
		}
		u.ActiveWorkspaceID = wsID
	}
	return u, nil
}

// ==================== Dunning models ====================

type dunningStateModel struct {
	grove.BaseModel `grove:"table:reconcile_dunning_states"`

	WorkspaceID         string     `grove:"workspace_id,pk"`
	RecoveryRequired    bool       `grove:"recovery_required"`
	LastStatus          string     `grove:"last_status"`
	BannerDismissedAt   *time.Time `grove:"banner_dismissed_at"`
	LastRecoveryEmailAt *time.Time `grove:"last_recovery_email_at"`
	CreatedAt           time.Time  `grove:"created_at"`
	UpdatedAt           time.Time  `grove:"updated_at"`
}

func toDunningStateModel(st *dunning.State) *dunningStateModel {
	return &dunningStateModel{
		WorkspaceID:         st.WorkspaceID.String(),
		RecoveryRequired:    st.RecoveryRequired,
		LastStatus:          st.LastStatus,
		BannerDismissedAt:   st.BannerDismissedAt,
		LastRecoveryEmailAt: st.LastRecoveryEmailAt,
		CreatedAt:           st.CreatedAt,
		UpdatedAt:           st.UpdatedAt,
	}
}

func fromDunningStateModel(m *dunningStateModel) (*dunning.State, error) {
	wsID, err := id.ParseWorkspaceID(m.WorkspaceID)
	if err != nil {
		return nil, err
	}

	return &dunning.State{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		WorkspaceID:         wsID,
		RecoveryRequired:    m.RecoveryRequired,
		LastStatus:          m.LastStatus,
		BannerDismissedAt:   m.BannerDismissedAt,
		LastRecoveryEmailAt: m.LastRecoveryEmailAt,
	}, nil
}
