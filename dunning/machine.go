package dunning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/reconcile/billing"
	"github.com/xraph/reconcile/id"
)

// DefaultEmailCooldown is the minimum gap between recovery emails to the
// same workspace.
const DefaultEmailCooldown = 24 * time.Hour

// Store is the persistence subset the machine needs.
type Store interface {
	// GetDunningState returns the workspace's state, or a not-found error
	// when the workspace has never entered dunning.
	GetDunningState(ctx context.Context, workspaceID id.WorkspaceID) (*State, error)

	// PutDunningState persists the full state.
	PutDunningState(ctx context.Context, s *State) error

	// ClaimRecoveryEmail atomically advances LastRecoveryEmailAt to at if
	// the previous value is older than the cooldown. It returns whether the
	// claim succeeded and the previous timestamp for release on send
	// failure. Concurrent claimants see at most one success per cooldown
	// window.
	ClaimRecoveryEmail(ctx context.Context, workspaceID id.WorkspaceID, at time.Time, cooldown time.Duration) (claimed bool, prior *time.Time, err error)

	// ReleaseRecoveryEmail restores LastRecoveryEmailAt to prior after a
	// failed send, so the throttle window is not consumed by a send that
	// never happened.
	ReleaseRecoveryEmail(ctx context.Context, workspaceID id.WorkspaceID, prior *time.Time) error
}

// Notifier delivers recovery emails. Implementations must be safe for
// concurrent use.
type Notifier interface {
	SendRecoveryEmail(ctx context.Context, workspaceID id.WorkspaceID, email string) error
}

// IsNotFound matches the store's not-found classification. Wired at
// construction so this package does not depend on the store package.
type IsNotFound func(error) bool

// Machine applies subscription statuses to per-workspace dunning state and
// throttles recovery emails.
type Machine struct {
	store      Store
	notifier   Notifier
	isNotFound IsNotFound
	cooldown   time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithNotifier sets the recovery email sender. Without one,
// MaybeSendRecoveryEmail reports not sent.
func WithNotifier(n Notifier) Option {
	return func(m *Machine) { m.notifier = n }
}

// WithCooldown overrides the recovery email cooldown.
func WithCooldown(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.cooldown = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMachine builds a dunning machine over the store. isNotFound classifies
// the store's not-found errors.
func NewMachine(store Store, isNotFound IsNotFound, opts ...Option) *Machine {
	m := &Machine{
		store:      store,
		isNotFound: isNotFound,
		cooldown:   DefaultEmailCooldown,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ApplyStatus folds a normalized subscription status into the workspace's
// dunning state. Triggering statuses (past_due, unpaid, canceled) enter
// recovery; clearing statuses (active, trialing) leave it and wipe any
// banner dismissal. Other statuses only record the observation. Applying the
// same status twice is a no-op beyond the LastStatus update.
func (m *Machine) ApplyStatus(ctx context.Context, workspaceID id.WorkspaceID, status string) (*Transition, error) {
	status = billing.NormalizeStatus(status)

	st, err := m.load(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	from := st.Phase()
	switch {
	case Triggers(status):
		// Entering recovery never resurrects an old dismissal: the banner
		// must reappear for a fresh payment problem.
		if !st.RecoveryRequired {
			st.RecoveryRequired = true
			st.BannerDismissedAt = nil
		}
	case Clears(status):
		st.RecoveryRequired = false
		st.BannerDismissedAt = nil
	}
	st.LastStatus = status
	st.Touch()

	if err := m.store.PutDunningState(ctx, st); err != nil {
		return nil, fmt.Errorf("persist dunning state: %w", err)
	}

	tr := &Transition{
		WorkspaceID: workspaceID,
		From:        from,
		To:          st.Phase(),
		Status:      status,
		Changed:     from != st.Phase(),
	}
	if tr.Changed {
		m.logger.Info("dunning phase changed",
			"workspace_id", workspaceID.String(),
			"from", string(tr.From),
			"to", string(tr.To),
			"status", status,
		)
	}
	return tr, nil
}

// Dismiss records that the workspace owner dismissed the recovery banner.
// Dismissing while healthy is a no-op. The dismissal survives repeated
// triggering statuses and is wiped only by a clearing status or a fresh
// entry into recovery.
func (m *Machine) Dismiss(ctx context.Context, workspaceID id.WorkspaceID) error {
	st, err := m.load(ctx, workspaceID)
	if err != nil {
		return err
	}
	if !st.RecoveryRequired || st.BannerDismissedAt != nil {
		return nil
	}
	at := m.now().UTC()
	st.BannerDismissedAt = &at
	st.Touch()
	if err := m.store.PutDunningState(ctx, st); err != nil {
		return fmt.Errorf("persist banner dismissal: %w", err)
	}
	return nil
}

// State returns the workspace's dunning state, synthesizing a healthy one
// for workspaces that never entered dunning.
func (m *Machine) State(ctx context.Context, workspaceID id.WorkspaceID) (*State, error) {
	return m.load(ctx, workspaceID)
}

// MaybeSendRecoveryEmail sends a recovery email if the workspace is in
// recovery and no email went out within the cooldown window. The claim on
// the throttle window is taken before sending and released if the send
// fails, so a failed send does not silence the next attempt. Returns whether
// an email was actually sent.
func (m *Machine) MaybeSendRecoveryEmail(ctx context.Context, workspaceID id.WorkspaceID, email string) (bool, error) {
	if m.notifier == nil || email == "" {
		return false, nil
	}

	st, err := m.load(ctx, workspaceID)
	if err != nil {
		return false, err
	}
	if !st.RecoveryRequired {
		return false, nil
	}

	at := m.now().UTC()
	claimed, prior, err := m.store.ClaimRecoveryEmail(ctx, workspaceID, at, m.cooldown)
	if err != nil {
		return false, fmt.Errorf("claim recovery email window: %w", err)
	}
	if !claimed {
		m.logger.Debug("recovery email throttled",
			"workspace_id", workspaceID.String(),
			"cooldown", m.cooldown.String(),
		)
		return false, nil
	}

	if err := m.notifier.SendRecoveryEmail(ctx, workspaceID, email); err != nil {
		if relErr := m.store.ReleaseRecoveryEmail(ctx, workspaceID, prior); relErr != nil {
			m.logger.Error("release recovery email window failed",
				"workspace_id", workspaceID.String(),
				"error", relErr,
			)
		}
		return false, fmt.Errorf("send recovery email: %w", err)
	}

	m.logger.Info("recovery email sent",
		"workspace_id", workspaceID.String(),
	)
	return true, nil
}

func (m *Machine) load(ctx context.Context, workspaceID id.WorkspaceID) (*State, error) {
	st, err := m.store.GetDunningState(ctx, workspaceID)
	if err != nil {
		if m.isNotFound != nil && m.isNotFound(err) {
			return NewState(workspaceID), nil
		}
		return nil, fmt.Errorf("load dunning state: %w", err)
	}
	return st, nil
}
