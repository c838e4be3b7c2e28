// Package reconcile provides an exactly-once billing state reconciliation
// engine for Go applications.
//
// Reconcile is designed as a library, not a service. Import it directly into
// your Go application and feed it payment-provider webhook events. It
// provides:
//
//   - An append-only event ledger with dedupe-key idempotency
//   - Deterministic workspace and plan resolution from event hints
//   - Multi-sink plan sync with readback verification
//   - A dunning state machine with throttled recovery emails
//   - Pluggable payment provider integration (fake built-in)
//   - Full audit trail of every pipeline outcome
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/reconcile"
//	    "github.com/xraph/reconcile/store/postgres"
//	)
//
//	// Initialize store
//	store, err := postgres.New(databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create engine
//	eng := reconcile.New(store, reconcile.WithProvider(prov))
//
//	// Start the engine (runs migrations, initializes plugins)
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// # Core Concepts
//
// Every inbound webhook event flows through one pipeline:
//
//	res, err := eng.ProcessEvent(ctx, &reconcile.Inbound{
//	    EventID:   "evt_123",
//	    EventType: reconcile.EventSubscriptionUpdated,
//	    ObjectID:  "sub_456",
//	})
//
// Re-delivering the same event id is absorbed as a duplicate: the recorded
// outcome is replayed and no billing state is touched. Operators can force a
// pass over a subscription or checkout session with Reconcile; retries are
// made idempotent by the correlation id:
//
//	res, err := eng.Reconcile(ctx, &reconcile.Request{
//	    CorrelationID:  "ticket-811",
//	    SubscriptionID: "sub_456",
//	})
//
// A pass that stops short of an effective plan write comes back as a non-OK
// Result with a code (for example PLAN_RESOLUTION_FAILED), never as a silent
// partial write. The resolved plan is written to the canonical billing
// record and every legacy mirror, then read back; the pass counts as
// effective only when an authoritative sink returns the desired plan.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	ws_01h2xcejqtf2nbrexx3vqjhp41    // Workspace ID
//	user_01h2xcejqtf2nbrexx3vqjhp41  // User ID
//	bev_01h455vb4pex5vsknk084sn02q   // Billing event ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package reconcile
