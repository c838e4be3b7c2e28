package billing_test

import (
	"testing"

	"github.com/xraph/reconcile/billing"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		raw  string
		want billing.Plan
		ok   bool
	}{
		{"pro", billing.PlanPro, true},
		{"  Studio ", billing.PlanStudio, true},
		{"FREE", billing.PlanFree, true},
		{"solo", billing.PlanSolo, true},
		{"enterprise", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := billing.ParsePlan(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParsePlan(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalizeInterval(t *testing.T) {
	tests := []struct {
		raw  string
		want billing.Interval
	}{
		{"month", billing.IntervalMonthly},
		{"Monthly", billing.IntervalMonthly},
		{"year", billing.IntervalAnnual},
		{"annually", billing.IntervalAnnual},
		{"week", billing.IntervalNone},
		{"day", billing.IntervalNone},
		{"", billing.IntervalNone},
	}

	for _, tt := range tests {
		if got := billing.NormalizeInterval(tt.raw); got != tt.want {
			t.Errorf("NormalizeInterval(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestCatalogByPriceID(t *testing.T) {
	c := billing.DefaultCatalog()

	e, ok := c.ByPriceID("price_pro_annual")
	if !ok {
		t.Fatal("price_pro_annual should be in the default catalog")
	}
	if e.Plan != billing.PlanPro || e.Interval != billing.IntervalAnnual {
		t.Errorf("entry = %+v, want pro annual", e)
	}

	if _, ok := c.ByPriceID("price_unknown"); ok {
		t.Error("unknown price id should miss")
	}
}

func TestCatalogFromProductMetadata(t *testing.T) {
	c := billing.DefaultCatalog()

	tests := []struct {
		name string
		meta map[string]string
		want billing.Plan
		ok   bool
	}{
		{"plan key", map[string]string{"plan": "studio"}, billing.PlanStudio, true},
		{"capitalized legacy key", map[string]string{"Plan": "pro"}, billing.PlanPro, true},
		{"unknown tier", map[string]string{"plan": "enterprise"}, "", false},
		{"no plan key", map[string]string{"tier": "gold"}, "", false},
		{"nil meta", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.FromProductMetadata(tt.meta)
			if got != tt.want || ok != tt.ok {
				t.Errorf("FromProductMetadata = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}
