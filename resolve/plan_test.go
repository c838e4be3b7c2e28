package resolve_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/xraph/reconcile/billing"
	"github.com/xraph/reconcile/event"
	"github.com/xraph/reconcile/provider"
	"github.com/xraph/reconcile/resolve"
)

func TestPlanResolverChain(t *testing.T) {
	prov := provider.NewFake()
	prov.PutProduct(&provider.Product{
		ID:       "prod_studio",
		Metadata: map[string]string{"plan": "studio"},
	})
	prov.PutProduct(&provider.Product{
		ID:       "prod_mystery",
		Metadata: map[string]string{"tier": "gold"},
	})

	r := resolve.NewPlanResolver(billing.DefaultCatalog(), prov, slog.Default())

	tests := []struct {
		name    string
		meta    map[string]string
		want    billing.Plan
		wantErr bool
	}{
		{
			name: "explicit plan meta",
			meta: map[string]string{event.MetaPlan: "pro"},
			want: billing.PlanPro,
		},
		{
			name: "explicit plan meta normalized",
			meta: map[string]string{event.MetaPlan: "  Studio "},
			want: billing.PlanStudio,
		},
		{
			name: "unknown plan label falls through to price table",
			meta: map[string]string{event.MetaPlan: "enterprise", event.MetaPriceID: "price_solo_monthly"},
			want: billing.PlanSolo,
		},
		{
			name: "price table",
			meta: map[string]string{event.MetaPriceID: "price_pro_annual"},
			want: billing.PlanPro,
		},
		{
			name: "product metadata",
			meta: map[string]string{event.MetaProductID: "prod_studio"},
			want: billing.PlanStudio,
		},
		{
			name: "explicit meta wins over price table",
			meta: map[string]string{event.MetaPlan: "free", event.MetaPriceID: "price_studio_monthly"},
			want: billing.PlanFree,
		},
		{
			name:    "unknown price id unresolved",
			meta:    map[string]string{event.MetaPriceID: "price_legacy_gone"},
			wantErr: true,
		},
		{
			name:    "product without plan metadata unresolved",
			meta:    map[string]string{event.MetaProductID: "prod_mystery"},
			wantErr: true,
		},
		{
			name:    "missing product is an abstention",
			meta:    map[string]string{event.MetaProductID: "prod_unknown"},
			wantErr: true,
		},
		{
			name:    "no hints unresolved",
			meta:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), entryWithMeta(tt.meta))
			if tt.wantErr {
				if !errors.Is(err, resolve.ErrPlanUnresolved) {
					t.Fatalf("err = %v, want ErrPlanUnresolved", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("resolved %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlanResolverWithoutProvider(t *testing.T) {
	r := resolve.NewPlanResolver(billing.DefaultCatalog(), nil, slog.Default())

	// Product hints are ignored when no provider is wired.
	_, err := r.Resolve(context.Background(), entryWithMeta(map[string]string{
		event.MetaProductID: "prod_studio",
	}))
	if !errors.Is(err, resolve.ErrPlanUnresolved) {
		t.Fatalf("err = %v, want ErrPlanUnresolved", err)
	}
}

func TestInterval(t *testing.T) {
	r := resolve.NewPlanResolver(billing.DefaultCatalog(), nil, slog.Default())
	catalog := billing.DefaultCatalog()

	tests := []struct {
		name string
		meta map[string]string
		want billing.Interval
	}{
		{"raw month hint", map[string]string{event.MetaInterval: "month"}, billing.IntervalMonthly},
		{"raw year hint", map[string]string{event.MetaInterval: "year"}, billing.IntervalAnnual},
		{"weekly is none", map[string]string{event.MetaInterval: "week"}, billing.IntervalNone},
		{"catalog fallback", map[string]string{event.MetaPriceID: "price_pro_annual"}, billing.IntervalAnnual},
		{"hint beats catalog", map[string]string{event.MetaInterval: "month", event.MetaPriceID: "price_pro_annual"}, billing.IntervalMonthly},
		{"no hints", nil, billing.IntervalNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Interval(entryWithMeta(tt.meta), catalog)
			if got != tt.want {
				t.Errorf("Interval = %q, want %q", got, tt.want)
			}
		})
	}
}
