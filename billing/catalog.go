package billing

import (
	"strings"

	"github.com/xraph/reconcile/types"
)

// CatalogEntry binds one provider price id to a plan tier, interval and
// display price.
type CatalogEntry struct {
	PriceID  string      `json:"price_id"`
	Plan     Plan        `json:"plan"`
	Interval Interval    `json:"interval"`
	Price    types.Money `json:"price"`
}

// Catalog is the static lookup table from provider price and product hints
// to canonical plans. It is immutable after construction.
type Catalog struct {
	byPrice map[string]CatalogEntry
}

// NewCatalog builds a catalog from entries. Later entries win on duplicate
// price ids.
func NewCatalog(entries ...CatalogEntry) *Catalog {
	byPrice := make(map[string]CatalogEntry, len(entries))
	for _, e := range entries {
		byPrice[e.PriceID] = e
	}
	return &Catalog{byPrice: byPrice}
}

// DefaultCatalog returns the built-in price table for the standard tiers.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		CatalogEntry{PriceID: "price_solo_monthly", Plan: PlanSolo, Interval: IntervalMonthly, Price: types.USD(900)},
		CatalogEntry{PriceID: "price_solo_annual", Plan: PlanSolo, Interval: IntervalAnnual, Price: types.USD(9000)},
		CatalogEntry{PriceID: "price_pro_monthly", Plan: PlanPro, Interval: IntervalMonthly, Price: types.USD(2900)},
		CatalogEntry{PriceID: "price_pro_annual", Plan: PlanPro, Interval: IntervalAnnual, Price: types.USD(29000)},
		CatalogEntry{PriceID: "price_studio_monthly", Plan: PlanStudio, Interval: IntervalMonthly, Price: types.USD(7900)},
		CatalogEntry{PriceID: "price_studio_annual", Plan: PlanStudio, Interval: IntervalAnnual, Price: types.USD(79000)},
	)
}

// ByPriceID looks up the catalog entry for a provider price id.
func (c *Catalog) ByPriceID(priceID string) (CatalogEntry, bool) {
	e, ok := c.byPrice[priceID]
	return e, ok
}

// FromProductMetadata maps a provider product's metadata to a plan. Products
// advertise their tier under a "plan" metadata key.
func (c *Catalog) FromProductMetadata(meta map[string]string) (Plan, bool) {
	if meta == nil {
		return "", false
	}
	raw, ok := meta["plan"]
	if !ok {
		// Some legacy products used a capitalized key.
		for k, v := range meta {
			if strings.EqualFold(k, "plan") {
				raw, ok = v, true
				break
			}
		}
	}
	if !ok {
		return "", false
	}
	return ParsePlan(raw)
}

// Entries returns all catalog entries in unspecified order.
func (c *Catalog) Entries() []CatalogEntry {
	out := make([]CatalogEntry, 0, len(c.byPrice))
	for _, e := range c.byPrice {
		out = append(out, e)
	}
	return out
}
