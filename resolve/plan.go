package resolve

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xraph/reconcile/billing"
	"github.com/xraph/reconcile/event"
	"github.com/xraph/reconcile/provider"
)

// ErrPlanUnresolved is returned when no strategy can name a plan tier.
var ErrPlanUnresolved = errors.New("resolve: plan unresolved")

// PlanStrategy is one step of the plan resolution chain. A strategy
// abstains by returning ok=false with a nil error.
type PlanStrategy interface {
	Name() string
	ResolvePlan(ctx context.Context, e *event.Entry) (billing.Plan, bool, error)
}

// PlanResolver maps event hints to a canonical plan tier and, independently,
// a billing interval. The interval is advisory: a missing interval never
// fails plan resolution.
type PlanResolver struct {
	strategies []PlanStrategy
	logger     *slog.Logger
}

// NewPlanResolver builds the default chain: explicit plan metadata, then the
// price-id table, then provider product metadata.
func NewPlanResolver(catalog *billing.Catalog, prov provider.Provider, logger *slog.Logger) *PlanResolver {
	if logger == nil {
		logger = slog.Default()
	}
	strategies := []PlanStrategy{
		explicitPlanMeta{},
		priceTable{catalog: catalog},
	}
	if prov != nil {
		strategies = append(strategies, productMetadata{catalog: catalog, prov: prov})
	}
	return &PlanResolver{strategies: strategies, logger: logger}
}

// NewPlanResolverWith builds a resolver from a custom strategy chain.
func NewPlanResolverWith(logger *slog.Logger, strategies ...PlanStrategy) *PlanResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanResolver{strategies: strategies, logger: logger}
}

// Resolve returns the plan for the event, or ErrPlanUnresolved when every
// strategy abstains. Strategy errors other than abstention propagate.
func (r *PlanResolver) Resolve(ctx context.Context, e *event.Entry) (billing.Plan, error) {
	for _, s := range r.strategies {
		plan, ok, err := s.ResolvePlan(ctx, e)
		if err != nil {
			return "", err
		}
		if ok {
			r.logger.Debug("plan resolved",
				"strategy", s.Name(),
				"plan", string(plan),
				"dedupe_key", e.DedupeKey,
			)
			return plan, nil
		}
	}
	return "", ErrPlanUnresolved
}

// Interval derives the billing interval from event hints and the catalog.
// It is independent of plan resolution and never fails; unknown intervals
// come back as IntervalNone.
func (r *PlanResolver) Interval(e *event.Entry, catalog *billing.Catalog) billing.Interval {
	if raw, ok := e.Meta[event.MetaInterval]; ok {
		if iv := billing.NormalizeInterval(raw); iv != billing.IntervalNone {
			return iv
		}
	}
	if catalog != nil {
		if priceID, ok := e.Meta[event.MetaPriceID]; ok {
			if entry, ok := catalog.ByPriceID(priceID); ok {
				return entry.Interval
			}
		}
	}
	return billing.IntervalNone
}

// ──────────────────────────────────────────────────
// Strategies
// ──────────────────────────────────────────────────

// explicitPlanMeta matches a plan label carried directly in event metadata.
// Unknown labels are an abstention, never a silent downgrade.
type explicitPlanMeta struct{}

func (explicitPlanMeta) Name() string { return "explicit_plan_meta" }

func (explicitPlanMeta) ResolvePlan(_ context.Context, e *event.Entry) (billing.Plan, bool, error) {
	raw, ok := e.Meta[event.MetaPlan]
	if !ok || raw == "" {
		return "", false, nil
	}
	plan, ok := billing.ParsePlan(raw)
	if !ok {
		return "", false, nil
	}
	return plan, true, nil
}

// priceTable matches the event's price id against the static catalog.
type priceTable struct {
	catalog *billing.Catalog
}

func (priceTable) Name() string { return "price_table" }

func (s priceTable) ResolvePlan(_ context.Context, e *event.Entry) (billing.Plan, bool, error) {
	if s.catalog == nil {
		return "", false, nil
	}
	priceID, ok := e.Meta[event.MetaPriceID]
	if !ok || priceID == "" {
		return "", false, nil
	}
	entry, ok := s.catalog.ByPriceID(priceID)
	if !ok {
		return "", false, nil
	}
	return entry.Plan, true, nil
}

// productMetadata fetches the provider product and reads the plan tier its
// metadata advertises. Provider lookup failures are an abstention so that
// a flaky provider never hard-fails an event that a later retry can fix.
type productMetadata struct {
	catalog *billing.Catalog
	prov    provider.Provider
}

func (productMetadata) Name() string { return "product_metadata" }

func (s productMetadata) ResolvePlan(ctx context.Context, e *event.Entry) (billing.Plan, bool, error) {
	productID, ok := e.Meta[event.MetaProductID]
	if !ok || productID == "" {
		return "", false, nil
	}
	p, err := s.prov.Product(ctx, productID)
	if err != nil {
		return "", false, nil
	}
	catalog := s.catalog
	if catalog == nil {
		catalog = billing.DefaultCatalog()
	}
	plan, ok := catalog.FromProductMetadata(p.Metadata)
	if !ok {
		return "", false, nil
	}
	return plan, true, nil
}
