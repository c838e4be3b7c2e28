package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	reconcile "github.com/xraph/reconcile"
	"github.com/xraph/reconcile/billing"
	"github.com/xraph/reconcile/dunning"
	"github.com/xraph/reconcile/event"
	"github.com/xraph/reconcile/id"
	"github.com/xraph/reconcile/provider"
	"github.com/xraph/reconcile/store/memory"
	"github.com/xraph/reconcile/types"
	"github.com/xraph/reconcile/workspace"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *captureNotifier) SendRecoveryEmail(_ context.Context, _ id.WorkspaceID, email string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, email)
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// fixture owns a seeded store and provider so each test starts from one paid
// workspace with a known owner.
type fixture struct {
	store    *memory.Store
	provider *provider.Fake
	engine   *reconcile.Engine
	wsID     id.WorkspaceID
	userID   id.UserID
}

func newFixture(t *testing.T, opts ...reconcile.Option) *fixture {
	t.Helper()

	s := memory.New()
	ctx := context.Background()

	userID := id.NewUserID()
	wsID := id.NewWorkspaceID()
	if err := s.PutWorkspace(ctx, &workspace.Workspace{
		Entity:      types.NewEntity(),
		ID:          wsID,
		Name:        "studio",
		OwnerUserID: userID,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutUser(ctx, &workspace.User{
		Entity:            types.NewEntity(),
		ID:                userID,
		Email:             "owner@example.com",
		ActiveWorkspaceID: wsID,
	}); err != nil {
		t.Fatal(err)
	}

	prov := provider.NewFake()
	prov.PutSubscription(&provider.Subscription{
		ID:         "sub_1",
		CustomerID: "cus_1",
		Status:     "active",
		PriceID:    "price_pro_monthly",
		Metadata:   map[string]string{event.MetaWorkspaceID: wsID.String()},
	})
	prov.PutCheckoutSession(&provider.CheckoutSession{
		ID:             "cs_paid",
		Mode:           "subscription",
		PaymentStatus:  "paid",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Metadata:       map[string]string{event.MetaWorkspaceID: wsID.String()},
	})
	prov.PutCheckoutSession(&provider.CheckoutSession{
		ID:            "cs_onetime",
		Mode:          "payment",
		PaymentStatus: "paid",
	})

	eng := reconcile.New(s, append([]reconcile.Option{reconcile.WithProvider(prov)}, opts...)...)
	if err := eng.Start(ctx); err != nil {
		t.Fatal(err)
	}

	return &fixture{store: s, provider: prov, engine: eng, wsID: wsID, userID: userID}
}

func TestProcessEventCheckoutHappyPath(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.ProcessEvent(context.Background(), &reconcile.Inbound{
		EventID:   "evt_checkout_1",
		EventType: reconcile.EventCheckoutCompleted,
		ObjectID:  "cs_paid",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Deduped {
		t.Fatalf("result = %+v, want fresh OK", res)
	}
	if res.WorkspaceID != f.wsID {
		t.Errorf("workspace = %s, want %s", res.WorkspaceID, f.wsID)
	}
	if res.Plan != billing.PlanPro || res.Interval != billing.IntervalMonthly {
		t.Errorf("plan = %s/%s, want pro monthly", res.Plan, res.Interval)
	}
	if !res.Effective {
		t.Error("sync over the memory store should be effective")
	}

	rec, err := f.engine.BillingRecord(context.Background(), f.wsID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Plan != billing.PlanPro {
		t.Errorf("canonical plan = %q, want pro", rec.Plan)
	}
	if rec.ProviderSubscriptionID != "sub_1" || rec.ProviderCustomerID != "cus_1" {
		t.Errorf("provider refs = %q/%q, want sub_1/cus_1", rec.ProviderSubscriptionID, rec.ProviderCustomerID)
	}
	for _, target := range billing.MirrorTargets() {
		plan, err := f.store.ReadMirrorPlan(context.Background(), target, f.wsID)
		if err != nil {
			t.Fatal(err)
		}
		if plan != billing.PlanPro {
			t.Errorf("mirror %q = %q, want pro", target, plan)
		}
	}
}

func TestProcessEventIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := &reconcile.Inbound{
		EventID:   "evt_once",
		EventType: reconcile.EventCheckoutCompleted,
		ObjectID:  "cs_paid",
	}

	first, err := f.engine.ProcessEvent(ctx, in)
	if err != nil {
		t.Fatal(err)
	}

	// Mutate provider state between deliveries: a replay must not observe it.
	f.provider.PutSubscription(&provider.Subscription{
		ID:      "sub_1",
		Status:  "active",
		PriceID: "price_studio_monthly",
	})

	second, err := f.engine.ProcessEvent(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Deduped {
		t.Fatal("second delivery should be absorbed as a duplicate")
	}
	if second.EventID != first.EventID {
		t.Errorf("replayed id %s, want %s", second.EventID, first.EventID)
	}
	if !second.OK || second.Plan != billing.PlanPro || !second.Effective {
		t.Errorf("replayed result = %+v, want the original outcome", second)
	}

	// Only one ledger entry exists for the key.
	entries, err := f.engine.History(ctx, f.wsID, event.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
}

func TestProcessEventSessionNotPaid(t *testing.T) {
	tests := []struct {
		name     string
		objectID string
	}{
		{"one-time payment session", "cs_onetime"},
		{"unknown session", "cs_absent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res, err := f.engine.ProcessEvent(context.Background(), &reconcile.Inbound{
				EventID:   "evt_unpaid",
				EventType: reconcile.EventCheckoutCompleted,
				ObjectID:  tt.objectID,
			})
			if err != nil {
				t.Fatal(err)
			}
			if res.OK || res.Code != reconcile.CodeSessionNotPaidSubscription {
				t.Errorf("result = %+v, want SESSION_NOT_PAID_SUBSCRIPTION", res)
			}

			// The entry is still in the ledger, annotated failed.
			e, err := f.engine.Event(context.Background(), res.EventID)
			if err != nil {
				t.Fatal(err)
			}
			if e.Outcome == nil || !e.Outcome.Failed() {
				t.Errorf("outcome = %+v, want failed annotation", e.Outcome)
			}
		})
	}
}

func TestProcessEventSubscriptionNotFound(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.ProcessEvent(context.Background(), &reconcile.Inbound{
		EventID:   "evt_gone",
		EventType: reconcile.EventSubscriptionUpdated,
		ObjectID:  "sub_absent",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Code != reconcile.CodeSubscriptionNotFound {
		t.Errorf("result = %+v, want SUBSCRIPTION_NOT_FOUND", res)
	}
}

func TestProcessEventWorkspaceResolutionFailed(t *testing.T) {
	f := newFixture(t)

	// A subscription carrying no workspace or user hints.
	f.provider.PutSubscription(&provider.Subscription{
		ID:      "sub_orphan",
		Status:  "active",
		PriceID: "price_pro_monthly",
	})

	res, err := f.engine.ProcessEvent(context.Background(), &reconcile.Inbound{
		EventID:   "evt_orphan",
		EventType: reconcile.EventSubscriptionUpdated,
		ObjectID:  "sub_orphan",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Code != reconcile.CodeWorkspaceResolutionFailed {
		t.Errorf("result = %+v, want WORKSPACE_RESOLUTION_FAILED", res)
	}
}

func TestProcessEventPlanResolutionFailed(t *testing.T) {
	f := newFixture(t)

	f.provider.PutSubscription(&provider.Subscription{
		ID:       "sub_legacy",
		Status:   "active",
		PriceID:  "price_retired_2019",
		Metadata: map[string]string{event.MetaWorkspaceID: f.wsID.String()},
	})

	res, err := f.engine.ProcessEvent(context.Background(), &reconcile.Inbound{
		EventID:   "evt_legacy",
		EventType: reconcile.EventSubscriptionUpdated,
		ObjectID:  "sub_legacy",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Code != reconcile.CodePlanResolutionFailed {
		t.Errorf("result = %+v, want PLAN_RESOLUTION_FAILED", res)
	}
	if res.WorkspaceID != f.wsID {
		t.Errorf("workspace should still be resolved, got %s", res.WorkspaceID)
	}
}

func TestProcessEventSubscriptionDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Establish a paid plan first.
	if _, err := f.engine.ProcessEvent(ctx, &reconcile.Inbound{
		EventID:   "evt_pay",
		EventType: reconcile.EventCheckoutCompleted,
		ObjectID:  "cs_paid",
	}); err != nil {
		t.Fatal(err)
	}

	// The provider has already purged the subscription; the downgrade still
	// lands on free.
	res, err := f.engine.ProcessEvent(ctx, &reconcile.Inbound{
		EventID:   "evt_del",
		EventType: reconcile.EventSubscriptionDeleted,
		ObjectID:  "sub_purged",
		Meta:      map[string]string{event.MetaWorkspaceID: f.wsID.String()},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Plan != billing.PlanFree {
		t.Fatalf("result = %+v, want free plan", res)
	}

	rec, err := f.engine.BillingRecord(ctx, f.wsID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Plan != billing.PlanFree {
		t.Errorf("canonical plan = %q, want free", rec.Plan)
	}

	// Cancellation also pushes the workspace into recovery.
	st, err := f.engine.DunningState(ctx, f.wsID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Phase() != dunning.PhaseRecoveryRequired {
		t.Errorf("dunning phase = %q, want recovery", st.Phase())
	}
}

func TestProcessEventDunningAndRecoveryEmail(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	notifier := &captureNotifier{}
	f := newFixture(t,
		reconcile.WithNotifier(notifier),
		reconcile.WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	f.provider.PutSubscription(&provider.Subscription{
		ID:       "sub_late",
		Status:   "past_due",
		PriceID:  "price_pro_monthly",
		Metadata: map[string]string{event.MetaWorkspaceID: f.wsID.String()},
	})

	res, err := f.engine.ProcessEvent(ctx, &reconcile.Inbound{
		EventID:   "evt_late_1",
		EventType: reconcile.EventSubscriptionUpdated,
		ObjectID:  "sub_late",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatalf("result = %+v, want OK with dunning transition", res)
	}
	if res.Dunning == nil || res.Dunning.To != dunning.PhaseRecoveryRequired || !res.Dunning.Changed {
		t.Fatalf("dunning = %+v, want changed transition into recovery", res.Dunning)
	}
	if notifier.count() != 1 {
		t.Fatalf("recovery emails = %d, want 1", notifier.count())
	}
	if notifier.sent[0] != "owner@example.com" {
		t.Errorf("recipient = %q, want workspace owner", notifier.sent[0])
	}

	// A second past_due event within the cooldown does not re-send.
	if _, err := f.engine.ProcessEvent(ctx, &reconcile.Inbound{
		EventID:   "evt_late_2",
		EventType: reconcile.EventSubscriptionUpdated,
		ObjectID:  "sub_late",
	}); err != nil {
		t.Fatal(err)
	}
	if notifier.count() != 1 {
		t.Errorf("recovery emails = %d, want still 1 inside cooldown", notifier.count())
	}

	// Recovery clears the dunning state.
	f.provider.PutSubscription(&provider.Subscription{
		ID:       "sub_late",
		Status:   "active",
		PriceID:  "price_pro_monthly",
		Metadata: map[string]string{event.MetaWorkspaceID: f.wsID.String()},
	})
	res, err = f.engine.ProcessEvent(ctx, &reconcile.Inbound{
		EventID:   "evt_recovered",
		EventType: reconcile.EventSubscriptionUpdated,
		ObjectID:  "sub_late",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Dunning == nil || res.Dunning.To != dunning.PhaseHealthy {
		t.Errorf("dunning = %+v, want transition back to healthy", res.Dunning)
	}
}

func TestDismissBanner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.provider.PutSubscription(&provider.Subscription{
		ID:       "sub_late",
		Status:   "unpaid",
		PriceID:  "price_pro_monthly",
		Metadata: map[string]string{event.MetaWorkspaceID: f.wsID.String()},
	})
	if _, err := f.engine.ProcessEvent(ctx, &reconcile.Inbound{
		EventID:   "evt_unpaid_1",
		EventType: reconcile.EventSubscriptionUpdated,
		ObjectID:  "sub_late",
	}); err != nil {
		t.Fatal(err)
	}

	if err := f.engine.DismissBanner(ctx, f.wsID); err != nil {
		t.Fatal(err)
	}
	st, err := f.engine.DunningState(ctx, f.wsID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Phase() != dunning.PhaseBannerDismissed {
		t.Errorf("phase = %q, want banner dismissed", st.Phase())
	}
}

func TestReconcileManual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := &reconcile.Request{
		CorrelationID: "support-4821",
		SessionID:     "cs_paid",
		ActorEmail:    "support@example.com",
	}

	res, err := f.engine.Reconcile(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Plan != billing.PlanPro {
		t.Fatalf("result = %+v, want pro plan", res)
	}

	// Retrying the same correlation id is idempotent.
	again, err := f.engine.Reconcile(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Deduped || again.EventID != res.EventID {
		t.Errorf("retry = %+v, want dedupe onto %s", again, res.EventID)
	}

	e, err := f.engine.Event(ctx, res.EventID)
	if err != nil {
		t.Fatal(err)
	}
	if e.EventType != reconcile.EventManualReconcile {
		t.Errorf("event type = %q, want manual reconcile", e.EventType)
	}
	if e.DedupeKey != event.ManualDedupeKey("support-4821") {
		t.Errorf("dedupe key = %q, want synthesized from correlation id", e.DedupeKey)
	}
	if e.ActorEmail != "support@example.com" {
		t.Errorf("actor = %q, want the operator", e.ActorEmail)
	}
}

func TestReconcileValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var verr reconcile.ValidationError

	_, err := f.engine.Reconcile(ctx, &reconcile.Request{SessionID: "cs_paid"})
	if !errors.As(err, &verr) || verr.Field != "correlation_id" {
		t.Errorf("missing correlation id err = %v, want validation error", err)
	}

	_, err = f.engine.Reconcile(ctx, &reconcile.Request{CorrelationID: "x"})
	if !errors.As(err, &verr) || verr.Field != "object_id" {
		t.Errorf("missing object err = %v, want validation error", err)
	}

	_, err = f.engine.ProcessEvent(ctx, &reconcile.Inbound{EventType: reconcile.EventCheckoutCompleted, ObjectID: "cs_paid"})
	if !errors.Is(err, reconcile.ErrMissingDedupeKey) {
		t.Errorf("missing event id err = %v, want ErrMissingDedupeKey", err)
	}

	_, err = f.engine.ProcessEvent(ctx, &reconcile.Inbound{EventID: "evt_x", ObjectID: "cs_paid"})
	if !errors.As(err, &verr) || verr.Field != "event_type" {
		t.Errorf("missing event type err = %v, want validation error", err)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, evtID := range []string{"evt_h1", "evt_h2"} {
		if _, err := f.engine.ProcessEvent(ctx, &reconcile.Inbound{
			EventID:   evtID,
			EventType: reconcile.EventSubscriptionUpdated,
			ObjectID:  "sub_1",
		}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := f.engine.History(ctx, f.wsID, event.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("history len = %d, want 2", len(entries))
	}
	// Newest first.
	if entries[0].DedupeKey != "evt_h2" || entries[1].DedupeKey != "evt_h1" {
		t.Errorf("order = [%s, %s], want newest first", entries[0].DedupeKey, entries[1].DedupeKey)
	}
}

func TestMaybeSendRecoveryEmailSurface(t *testing.T) {
	notifier := &captureNotifier{}
	f := newFixture(t, reconcile.WithNotifier(notifier))
	ctx := context.Background()

	// Healthy workspace: nothing happens.
	sent, err := f.engine.MaybeSendRecoveryEmail(ctx, f.wsID)
	if err != nil {
		t.Fatal(err)
	}
	if sent {
		t.Error("healthy workspace should not get a recovery email")
	}
}
