package loyalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// Thresholds for the quantity and variety multipliers.
const (
	bulkQuantity     = 3
	distinctProducts = 3
)

var (
	januaryMultiplier  = decimal.NewFromInt(2)
	quantityMultiplier = decimal.NewFromInt(2)
	varietyMultiplier  = decimal.RequireFromString("1.5")
)

// BonusOptions carries administrative overrides for a single evaluation.
type BonusOptions struct {
	// ForceJanuary applies the January multiplier regardless of the date.
	ForceJanuary bool
}

// Rule describes one bonus rule that applies to an evaluation.
type Rule struct {
	Name        string
	Description string
	Multiplier  decimal.Decimal
}

// Evaluate returns the points awarded for an order amount. Multipliers stack
// multiplicatively and the product is floored once at the end.
func Evaluate(amount decimal.Decimal, items []Item, at time.Time, opts BonusOptions) int64 {
	if !amount.IsPositive() {
		return 0
	}
	multiplier := decimal.NewFromInt(1)
	for _, r := range activeRules(items, at, opts) {
		multiplier = multiplier.Mul(r.Multiplier)
	}
	return amount.Mul(multiplier).Floor().IntPart()
}

// Rules lists the rules active for the given date and options. The base rule
// is always first; item-dependent rules are listed as available bonuses.
func Rules(at time.Time, opts BonusOptions) []Rule {
	rules := []Rule{baseRule()}
	if januaryActive(at, opts) {
		rules = append(rules, januaryRule())
	}
	return append(rules, quantityRule(), varietyRule())
}

func activeRules(items []Item, at time.Time, opts BonusOptions) []Rule {
	var rules []Rule
	if januaryActive(at, opts) {
		rules = append(rules, januaryRule())
	}
	if totalQuantity(items) >= bulkQuantity {
		rules = append(rules, quantityRule())
	}
	if distinctCount(items) >= distinctProducts {
		rules = append(rules, varietyRule())
	}
	return rules
}

func januaryActive(at time.Time, opts BonusOptions) bool {
	return opts.ForceJanuary || at.Month() == time.January
}

func totalQuantity(items []Item) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

func distinctCount(items []Item) int {
	seen := make(map[int64]struct{}, len(items))
	for _, it := range items {
		seen[it.ProductID] = struct{}{}
	}
	return len(seen)
}

func baseRule() Rule {
	return Rule{Name: "base", Description: "Base Rule: 1 Point per 1 EUR", Multiplier: decimal.NewFromInt(1)}
}

func januaryRule() Rule {
	return Rule{Name: "january", Description: "January Bonus: Double Points", Multiplier: januaryMultiplier}
}

func quantityRule() Rule {
	return Rule{Name: "quantity", Description: "Double Points on 3+ Items", Multiplier: quantityMultiplier}
}

func varietyRule() Rule {
	return Rule{Name: "variety", Description: "1.5x Points on 3+ Distinct Items", Multiplier: varietyMultiplier}
}
