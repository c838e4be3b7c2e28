package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/reconcile/billing"
	"github.com/xraph/reconcile/dunning"
	"github.com/xraph/reconcile/event"
	"github.com/xraph/reconcile/id"
	"github.com/xraph/reconcile/plugin"
	"github.com/xraph/reconcile/provider"
	"github.com/xraph/reconcile/resolve"
	"github.com/xraph/reconcile/store"
	"github.com/xraph/reconcile/sync"
	"github.com/xraph/reconcile/types"
)

// Provider event types the engine understands. Unknown types are still
// recorded in the ledger but only these drive plan changes.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventManualReconcile     = "manual.reconcile"
)

// Engine is the billing state reconciliation engine. It consumes provider
// events exactly once, resolves each to a workspace and plan, fans the plan
// out to every billing sink, and folds the subscription status into the
// workspace's dunning state.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	provider provider.Provider
	catalog  *billing.Catalog
	notifier dunning.Notifier
	sinks    []sync.Sink

	wsResolver   *resolve.WorkspaceResolver
	planResolver *resolve.PlanResolver
	writer       *sync.Writer
	machine      *dunning.Machine

	// Configuration
	recoveryEmailCooldown time.Duration
	now                   func() time.Time
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:                 s,
		plugins:               plugin.NewRegistry(),
		logger:                slog.Default(),
		catalog:               billing.DefaultCatalog(),
		recoveryEmailCooldown: dunning.DefaultEmailCooldown,
		now:                   time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.wsResolver = resolve.NewWorkspaceResolver(s, e.logger)
	e.planResolver = resolve.NewPlanResolver(e.catalog, e.provider, e.logger)
	if e.sinks == nil {
		e.sinks = sync.DefaultSinks(s, s)
	}
	e.writer = sync.NewWriter(e.logger, e.sinks...)
	e.machine = dunning.NewMachine(s, IsNotFound,
		dunning.WithNotifier(e.notifier),
		dunning.WithCooldown(e.recoveryEmailCooldown),
		dunning.WithClock(e.now),
		dunning.WithLogger(e.logger),
	)

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithProvider sets the payment provider used to verify sessions and fetch
// subscriptions.
func WithProvider(p provider.Provider) Option {
	return func(e *Engine) {
		e.provider = p
	}
}

// WithNotifier sets the recovery email sender.
func WithNotifier(n dunning.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithSinks overrides the default sink set (canonical record plus the legacy
// mirrors).
func WithSinks(sinks ...sync.Sink) Option {
	return func(e *Engine) {
		e.sinks = sinks
	}
}

// WithPlanCatalog overrides the built-in price table.
func WithPlanCatalog(c *billing.Catalog) Option {
	return func(e *Engine) {
		if c != nil {
			e.catalog = c
		}
	}
}

// WithRecoveryEmailCooldown sets the minimum gap between recovery emails to
// the same workspace.
func WithRecoveryEmailCooldown(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.recoveryEmailCooldown = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Start migrates the store and initializes plugins. Plugins that provide a
// payment provider or notifier fill those slots if no explicit one was
// configured.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	if e.provider == nil {
		for _, pp := range e.plugins.GetPaymentProviders() {
			if p, ok := pp.Provider().(provider.Provider); ok {
				e.provider = p
				e.planResolver = resolve.NewPlanResolver(e.catalog, e.provider, e.logger)
				break
			}
		}
	}
	if e.notifier == nil {
		for _, np := range e.plugins.GetNotifiers() {
			if n, ok := np.Notifier().(dunning.Notifier); ok {
				e.notifier = n
				e.machine = dunning.NewMachine(e.store, IsNotFound,
					dunning.WithNotifier(e.notifier),
					dunning.WithCooldown(e.recoveryEmailCooldown),
					dunning.WithClock(e.now),
					dunning.WithLogger(e.logger),
				)
				break
			}
		}
	}

	e.logger.Info("reconciliation engine started",
		"sinks", e.writer.Sinks(),
		"recovery_email_cooldown", e.recoveryEmailCooldown.String(),
		"plugins", e.plugins.Count(),
	)
	return nil
}

// Stop shuts down the engine.
func (e *Engine) Stop() error {
	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)
	return e.store.Close()
}

// ──────────────────────────────────────────────────
// Event Processing
// ──────────────────────────────────────────────────

// Inbound is one provider webhook event handed to the engine. EventID is the
// provider's event id and doubles as the dedupe key.
type Inbound struct {
	EventID    string            `json:"event_id"`
	EventType  string            `json:"event_type"`
	ObjectID   string            `json:"object_id"` // subscription or session id
	Status     string            `json:"status,omitempty"`
	ActorEmail string            `json:"actor_email,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Result reports what one reconciliation pass did.
type Result struct {
	OK          bool                    `json:"ok"`
	Code        string                  `json:"code,omitempty"`
	Deduped     bool                    `json:"deduped"`
	EventID     id.EventID              `json:"event_id"`
	WorkspaceID id.WorkspaceID          `json:"workspace_id,omitempty"`
	Plan        billing.Plan            `json:"plan,omitempty"`
	Interval    billing.Interval        `json:"interval,omitempty"`
	Wrote       map[string]bool         `json:"wrote,omitempty"`
	Readback    map[string]billing.Plan `json:"readback,omitempty"`
	Effective   bool                    `json:"effective"`
	Dunning     *dunning.Transition     `json:"dunning,omitempty"`
}

// ProcessEvent runs one inbound provider event through the full pipeline.
// Re-delivering an event with the same id is absorbed as a duplicate with no
// side effects; the result replays the recorded outcome. Domain failures
// (unverifiable session, unresolvable workspace or plan, ineffective sync)
// come back as a non-OK Result with a code, not an error; errors are
// reserved for infrastructure faults.
func (e *Engine) ProcessEvent(ctx context.Context, in *Inbound) (*Result, error) {
	if in.EventID == "" {
		return nil, ErrMissingDedupeKey
	}
	if in.EventType == "" {
		return nil, ValidationError{Field: "event_type", Message: "must not be empty"}
	}

	entry := &event.Entry{
		Entity:     types.NewEntity(),
		ID:         id.NewEventID(),
		DedupeKey:  in.EventID,
		ActorEmail: in.ActorEmail,
		EventType:  in.EventType,
		ObjectID:   in.ObjectID,
		Status:     string(event.StageReceived),
		Meta:       cloneMeta(in.Meta),
	}
	if billing.NormalizeStatus(in.Status) != "" {
		entry.Meta = setMeta(entry.Meta, "subscription_status", billing.NormalizeStatus(in.Status))
	}

	return e.process(ctx, entry)
}

// Request is an operator-triggered reconcile. CorrelationID makes retries of
// the same request idempotent.
type Request struct {
	CorrelationID  string            `json:"correlation_id"`
	SessionID      string            `json:"session_id,omitempty"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	ActorEmail     string            `json:"actor_email,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
}

// Reconcile runs a manual reconciliation pass. It flows through the same
// ledger and pipeline as webhook events; only the dedupe key is synthesized
// from the correlation id.
func (e *Engine) Reconcile(ctx context.Context, req *Request) (*Result, error) {
	if req.CorrelationID == "" {
		return nil, ValidationError{Field: "correlation_id", Message: "must not be empty"}
	}

	objectID := req.SubscriptionID
	if req.SessionID != "" {
		objectID = req.SessionID
	}
	if objectID == "" {
		return nil, ValidationError{Field: "object_id", Message: "session_id or subscription_id required"}
	}

	entry := &event.Entry{
		Entity:     types.NewEntity(),
		ID:         id.NewEventID(),
		DedupeKey:  event.ManualDedupeKey(req.CorrelationID),
		ActorEmail: req.ActorEmail,
		EventType:  EventManualReconcile,
		ObjectID:   objectID,
		Status:     string(event.StageReceived),
		Meta:       cloneMeta(req.Meta),
	}
	if req.SessionID != "" {
		entry.Meta = setMeta(entry.Meta, "session_id", req.SessionID)
	}

	return e.process(ctx, entry)
}

// process is the shared pipeline behind ProcessEvent and Reconcile.
func (e *Engine) process(ctx context.Context, entry *event.Entry) (*Result, error) {
	// Stage 1: record exactly once.
	inserted, existingID, err := e.store.RecordEvent(ctx, entry)
	if err != nil {
		return nil, err
	}
	if !inserted {
		e.plugins.EmitEventDeduped(ctx, entry.DedupeKey, existingID.String())
		e.logger.Info("duplicate event absorbed",
			"dedupe_key", entry.DedupeKey,
			"existing_id", existingID.String(),
		)
		return e.replay(ctx, existingID)
	}
	e.plugins.EmitEventRecorded(ctx, entry)

	res := &Result{EventID: entry.ID}

	// Stage 2: verify against the provider and collect plan hints.
	status, failCode, err := e.enrich(ctx, entry)
	if err != nil {
		return nil, err
	}
	if failCode != "" {
		return res, e.fail(ctx, entry, res, event.StageReceived, failCode)
	}

	// Stage 3: resolve the workspace.
	wsID, err := e.wsResolver.Resolve(ctx, entry)
	if err != nil {
		if !errors.Is(err, resolve.ErrWorkspaceUnresolved) {
			return nil, err
		}
		e.plugins.EmitResolutionFailed(ctx, entry, "workspace", err)
		return res, e.fail(ctx, entry, res, event.StageWorkspaceResolved, CodeWorkspaceResolutionFailed)
	}
	entry.WorkspaceID = wsID
	res.WorkspaceID = wsID

	// Stage 4: resolve the plan. Subscription deletion always lands on free;
	// there is nothing to look up.
	var plan billing.Plan
	if entry.EventType == EventSubscriptionDeleted {
		plan = billing.PlanFree
	} else {
		plan, err = e.planResolver.Resolve(ctx, entry)
		if err != nil {
			if !errors.Is(err, resolve.ErrPlanUnresolved) {
				return nil, err
			}
			e.plugins.EmitResolutionFailed(ctx, entry, "plan", err)
			return res, e.fail(ctx, entry, res, event.StagePlanResolved, CodePlanResolutionFailed)
		}
	}
	res.Plan = plan
	res.Interval = e.planResolver.Interval(entry, e.catalog)

	// Stage 5: fan the plan out to every sink and verify by readback.
	rec := &billing.Record{
		Entity:                 types.NewEntity(),
		WorkspaceID:            wsID,
		Plan:                   plan,
		Interval:               res.Interval,
		Status:                 status,
		ProviderCustomerID:     entry.Meta[event.MetaCustomerID],
		ProviderSubscriptionID: subscriptionID(entry),
	}
	syncRes := e.writer.Apply(ctx, rec)
	res.Wrote = syncRes.Wrote
	res.Readback = syncRes.Readback
	res.Effective = syncRes.Effective

	if !syncRes.Effective {
		e.plugins.EmitSyncIneffective(ctx, wsID.String(), string(plan), syncRes)
		return res, e.fail(ctx, entry, res, event.StageSynced, CodePlanSyncNoEffect)
	}
	e.plugins.EmitPlanSynced(ctx, wsID.String(), string(plan), syncRes)

	// Stage 6: fold the status into dunning state.
	if status != "" {
		tr, err := e.machine.ApplyStatus(ctx, wsID, status)
		if err != nil {
			return nil, err
		}
		res.Dunning = tr
		if tr.Changed {
			e.plugins.EmitDunningChanged(ctx, tr)
		}
		if tr.To != dunning.PhaseHealthy {
			if sent, err := e.sendRecoveryEmail(ctx, wsID, entry.ActorEmail); err != nil {
				e.logger.Error("recovery email failed",
					"workspace_id", wsID.String(),
					"error", err,
				)
			} else if sent {
				e.plugins.EmitRecoveryEmailSent(ctx, wsID.String(), entry.ActorEmail)
			}
		}
	}

	res.OK = true
	outcome := &event.Outcome{
		Stage:       event.StageDone,
		WorkspaceID: wsID,
		Plan:        string(plan),
		Interval:    string(res.Interval),
		Wrote:       syncRes.Wrote,
		Readback:    readbackStrings(syncRes.Readback),
		Effective:   syncRes.Effective,
		RecordedAt:  e.now().UTC(),
	}
	if err := e.store.AnnotateOutcome(ctx, entry.ID, outcome); err != nil {
		return nil, err
	}

	e.logger.Info("event reconciled",
		"event_id", entry.ID.String(),
		"event_type", entry.EventType,
		"workspace_id", wsID.String(),
		"plan", string(plan),
		"effective", res.Effective,
	)
	return res, nil
}

// enrich verifies the event against the provider and copies plan hints into
// the entry's metadata. It returns the normalized subscription status and a
// non-empty failure code when the event cannot drive a plan change.
func (e *Engine) enrich(ctx context.Context, entry *event.Entry) (status string, failCode string, err error) {
	status = entry.Meta["subscription_status"]

	if e.provider == nil {
		return status, "", nil
	}

	sessionFlow := entry.EventType == EventCheckoutCompleted ||
		(entry.EventType == EventManualReconcile && entry.Meta["session_id"] != "")

	subID := entry.ObjectID
	if sessionFlow {
		sess, err := e.provider.CheckoutSession(ctx, entry.ObjectID)
		if err != nil {
			if errors.Is(err, provider.ErrNotFound) {
				return "", CodeSessionNotPaidSubscription, nil
			}
			return "", "", err
		}
		if !sess.PaidSubscription() {
			return "", CodeSessionNotPaidSubscription, nil
		}
		for k, v := range sess.Metadata {
			entry.Meta = setMeta(entry.Meta, k, v)
		}
		if sess.CustomerID != "" {
			entry.Meta = setMeta(entry.Meta, event.MetaCustomerID, sess.CustomerID)
		}
		subID = sess.SubscriptionID
	}

	sub, err := e.provider.Subscription(ctx, subID)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			// A deleted subscription is usually already purged on the
			// provider side; the downgrade to free must still go through.
			if entry.EventType == EventSubscriptionDeleted {
				return "canceled", "", nil
			}
			return "", CodeSubscriptionNotFound, nil
		}
		return "", "", err
	}

	for k, v := range sub.Metadata {
		entry.Meta = setMeta(entry.Meta, k, v)
	}
	if sub.PriceID != "" {
		entry.Meta = setMeta(entry.Meta, event.MetaPriceID, sub.PriceID)
	}
	if sub.ProductID != "" {
		entry.Meta = setMeta(entry.Meta, event.MetaProductID, sub.ProductID)
	}
	if sub.Interval != "" {
		entry.Meta = setMeta(entry.Meta, event.MetaInterval, sub.Interval)
	}
	if sub.CustomerID != "" {
		entry.Meta = setMeta(entry.Meta, event.MetaCustomerID, sub.CustomerID)
	}
	entry.Meta = setMeta(entry.Meta, "subscription_id", sub.ID)

	return billing.NormalizeStatus(sub.Status), "", nil
}

// fail annotates the entry with a failed outcome and fills the result.
func (e *Engine) fail(ctx context.Context, entry *event.Entry, res *Result, stage event.Stage, code string) error {
	res.OK = false
	res.Code = code

	outcome := &event.Outcome{
		Stage:       event.StageFailed,
		FailedStage: stage,
		Code:        code,
		WorkspaceID: res.WorkspaceID,
		Plan:        string(res.Plan),
		Wrote:       res.Wrote,
		Readback:    readbackStrings(res.Readback),
		Effective:   res.Effective,
		RecordedAt:  e.now().UTC(),
	}
	if err := e.store.AnnotateOutcome(ctx, entry.ID, outcome); err != nil {
		return err
	}

	e.logger.Warn("reconciliation failed",
		"event_id", entry.ID.String(),
		"event_type", entry.EventType,
		"stage", string(stage),
		"code", code,
	)
	return nil
}

// replay reconstructs a Result from a previously recorded entry so duplicate
// deliveries observe the original outcome.
func (e *Engine) replay(ctx context.Context, entryID id.EventID) (*Result, error) {
	prior, err := e.store.GetEvent(ctx, entryID)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Deduped:     true,
		EventID:     prior.ID,
		WorkspaceID: prior.WorkspaceID,
	}
	if o := prior.Outcome; o != nil {
		res.OK = !o.Failed()
		res.Code = o.Code
		res.Plan = billing.Plan(o.Plan)
		res.Interval = billing.Interval(o.Interval)
		res.Wrote = o.Wrote
		res.Readback = readbackPlans(o.Readback)
		res.Effective = o.Effective
	}
	return res, nil
}

// ──────────────────────────────────────────────────
// Dunning Surface
// ──────────────────────────────────────────────────

// DunningState returns the workspace's current dunning state.
func (e *Engine) DunningState(ctx context.Context, workspaceID id.WorkspaceID) (*dunning.State, error) {
	return e.machine.State(ctx, workspaceID)
}

// DismissBanner records that the workspace owner dismissed the recovery
// banner.
func (e *Engine) DismissBanner(ctx context.Context, workspaceID id.WorkspaceID) error {
	if err := e.machine.Dismiss(ctx, workspaceID); err != nil {
		return err
	}
	e.plugins.EmitBannerDismissed(ctx, workspaceID.String())
	return nil
}

// MaybeSendRecoveryEmail sends a recovery email to the workspace owner if the
// workspace is in recovery and the throttle window allows it.
func (e *Engine) MaybeSendRecoveryEmail(ctx context.Context, workspaceID id.WorkspaceID) (bool, error) {
	sent, err := e.sendRecoveryEmail(ctx, workspaceID, "")
	if err != nil {
		return false, err
	}
	if sent {
		e.plugins.EmitRecoveryEmailSent(ctx, workspaceID.String(), "")
	}
	return sent, nil
}

func (e *Engine) sendRecoveryEmail(ctx context.Context, workspaceID id.WorkspaceID, fallbackEmail string) (bool, error) {
	email, err := e.ownerEmail(ctx, workspaceID)
	if err != nil || email == "" {
		email = fallbackEmail
	}
	return e.machine.MaybeSendRecoveryEmail(ctx, workspaceID, email)
}

func (e *Engine) ownerEmail(ctx context.Context, workspaceID id.WorkspaceID) (string, error) {
	ws, err := e.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	owner, err := e.store.GetUser(ctx, ws.OwnerUserID)
	if err != nil {
		return "", err
	}
	return owner.Email, nil
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Event returns one ledger entry by id.
func (e *Engine) Event(ctx context.Context, entryID id.EventID) (*event.Entry, error) {
	return e.store.GetEvent(ctx, entryID)
}

// History lists a workspace's ledger entries, newest first.
func (e *Engine) History(ctx context.Context, workspaceID id.WorkspaceID, opts event.ListOpts) ([]*event.Entry, error) {
	return e.store.ListEvents(ctx, workspaceID, opts)
}

// BillingRecord returns the canonical billing record for a workspace.
func (e *Engine) BillingRecord(ctx context.Context, workspaceID id.WorkspaceID) (*billing.Record, error) {
	return e.store.GetBillingRecord(ctx, workspaceID)
}

// Ping reports store health.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// Plugins exposes the plugin registry.
func (e *Engine) Plugins() *plugin.Registry {
	return e.plugins
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func cloneMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	cp := make(map[string]string, len(meta))
	for k, v := range meta {
		cp[k] = v
	}
	return cp
}

func setMeta(meta map[string]string, key, value string) map[string]string {
	if meta == nil {
		meta = make(map[string]string)
	}
	if _, exists := meta[key]; !exists {
		meta[key] = value
	}
	return meta
}

func subscriptionID(entry *event.Entry) string {
	if subID, ok := entry.Meta["subscription_id"]; ok {
		return subID
	}
	if entry.EventType == EventCheckoutCompleted {
		return ""
	}
	return entry.ObjectID
}

func readbackStrings(in map[string]billing.Plan) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = string(v)
	}
	return out
}

func readbackPlans(in map[string]string) map[string]billing.Plan {
	if in == nil {
		return nil
	}
	out := make(map[string]billing.Plan, len(in))
	for k, v := range in {
		out[k] = billing.Plan(v)
	}
	return out
}
