package billing

import (
	"strings"

	"guied/internal/types"
)

// DefaultPlan is what unrecognized or missing plan input normalizes to.
const DefaultPlan = types.PlanPro

// paidPlans is the fixed set of plans a subscription row can carry.
var paidPlans = map[types.Plan]struct{}{
	types.PlanPro:     {},
	types.PlanProPlus: {},
}

// IsPaidPlan reports whether p is one of the sellable plans.
func IsPaidPlan(p types.Plan) bool {
	_, ok := paidPlans[p]
	return ok
}

// NormalizePlan maps arbitrary input onto a paid plan. Unknown values,
// including "free" and the empty string, become DefaultPlan.
func NormalizePlan(s string) types.Plan {
	p := types.Plan(strings.ToLower(strings.TrimSpace(s)))
	if IsPaidPlan(p) {
		return p
	}
	return DefaultPlan
}

// LineItem describes what a checkout preference charges for a plan.
type LineItem struct {
	Title     string
	UnitPrice float64
	Currency  string
}

// Catalog resolves the checkout line item for each plan.
type Catalog interface {
	LineItem(plan types.Plan) LineItem
}

// staticCatalog is the compile-time monthly price list.
type staticCatalog struct {
	items map[types.Plan]LineItem
}

// planDefaults is the monthly price per plan, in the configured currency.
var planDefaults = map[types.Plan]LineItem{
	types.PlanPro: {
		Title:     "Assinatura Guied – PRO (Mensal)",
		UnitPrice: 9.90,
	},
	types.PlanProPlus: {
		Title:     "Assinatura Guied – PRO+ (Mensal)",
		UnitPrice: 19.90,
	},
}

// NewStaticCatalog returns the built-in price list priced in currency.
func NewStaticCatalog(currency string) Catalog {
	m := make(map[types.Plan]LineItem, len(planDefaults))
	for k, v := range planDefaults {
		v.Currency = currency
		m[k] = v
	}
	return &staticCatalog{items: m}
}

// LineItem returns the line item for plan. Unknown plans are priced as the
// default plan so a checkout can never be created for free.
func (c *staticCatalog) LineItem(plan types.Plan) LineItem {
	if item, ok := c.items[plan]; ok {
		return item
	}
	return c.items[DefaultPlan]
}
