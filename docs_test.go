package reconcile_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	reconcile "github.com/xraph/reconcile"
	"github.com/xraph/reconcile/provider"
	"github.com/xraph/reconcile/store/memory"
	"github.com/xraph/reconcile/types"
)

// TestDocumentationExamples verifies that all examples in the documentation compile
func TestDocumentationExamples(t *testing.T) {
	// Test Quick Start example from README
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		// Wire the payment provider (fake for demo, Stripe adapter in production)
		prov := provider.NewFake()
		prov.PutSubscription(&provider.Subscription{
			ID:      "sub_demo",
			Status:  "active",
			PriceID: "price_pro_monthly",
		})

		// Initialize the engine
		eng := reconcile.New(store,
			reconcile.WithLogger(slog.Default()),
			reconcile.WithProvider(prov),
			reconcile.WithRecoveryEmailCooldown(24*time.Hour),
		)

		// Start the engine
		ctx := context.Background()
		if err := eng.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer eng.Stop() //nolint:errcheck

		// Feed it a provider webhook event
		res, err := eng.ProcessEvent(ctx, &reconcile.Inbound{
			EventID:   "evt_demo_1",
			EventType: reconcile.EventSubscriptionUpdated,
			ObjectID:  "sub_demo",
		})
		if err != nil {
			t.Fatal(err)
		}
		// No workspace hints on the demo subscription, so resolution fails
		// with a coded result rather than an error.
		if res.OK {
			t.Fatal("demo event without workspace hints should not reconcile")
		}
		if res.Code != reconcile.CodeWorkspaceResolutionFailed {
			t.Fatalf("code = %q, want workspace resolution failure", res.Code)
		}
	})

	// Test Money examples from documentation
	t.Run("MoneyExamples", func(t *testing.T) {
		price := types.USD(2900) // $29.00

		if price.String() != "$29.00" {
			t.Errorf("String() = %q, want $29.00", price.String())
		}

		annual := price.Multiply(12)
		if annual.Amount != 34800 {
			t.Errorf("annual = %d, want 34800", annual.Amount)
		}

		discounted := annual.Subtract(types.USD(4800))
		if !discounted.Equal(types.USD(30000)) {
			t.Errorf("discounted = %v, want $300.00", discounted)
		}
	})
}
