package pricing

import (
	"pricing-service/internal/entity"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var asOf = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func percentRule(id int64, priority int, pct string) entity.PricingRule {
	return entity.PricingRule{
		ID:                 id,
		Name:               "rule",
		RuleCode:           "R" + string(rune('A'+id)),
		RuleType:           entity.RuleTypePercentageDiscount,
		Priority:           priority,
		DiscountPercentage: nullDec(pct),
		IsActive:           true,
	}
}

func TestEngine_PercentageDiscountOnTargetedProduct(t *testing.T) {
	rule := percentRule(1, 5, "0.10")
	rule.Targets = []entity.RuleTarget{productTarget("[42]")}

	res := Evaluate([]entity.PricingRule{rule}, asOf, Request{
		Items: []entity.LineItem{
			{ProductID: 42, Quantity: 1, UnitPrice: dec("100")},
			{ProductID: 7, Quantity: 1, UnitPrice: dec("100")},
		},
	})

	require.Len(t, res.Items, 2)
	assertMoney(t, "90", res.Items[0].AdjustedUnitPrice)
	assertMoney(t, "10", res.Items[0].DiscountAmount)
	require.NotNil(t, res.Items[0].AppliedRuleID)
	assert.Equal(t, int64(1), *res.Items[0].AppliedRuleID)

	assertMoney(t, "100", res.Items[1].AdjustedUnitPrice)
	assert.Nil(t, res.Items[1].AppliedRuleID)

	assert.Equal(t, []int64{1}, res.AppliedRuleIDs)
	assertMoney(t, "200", res.Subtotal)
	assertMoney(t, "10", res.DiscountTotal)
	assertMoney(t, "190", res.Total)
}

func TestEngine_QuantityTier(t *testing.T) {
	rule := entity.PricingRule{
		ID:       2,
		Name:     "volume",
		RuleType: entity.RuleTypeQuantityDiscount,
		IsActive: true,
		Tiers: []entity.QuantityTier{
			{MinQuantity: 10, TierDiscountPercentage: nullDec("0.2")},
			{MinQuantity: 1, MaxQuantity: ptr(9), TierPrice: nullDec("100")},
		},
	}

	res := Evaluate([]entity.PricingRule{rule}, asOf, Request{
		Items: []entity.LineItem{{ProductID: 1, Quantity: 10, UnitPrice: dec("100")}},
	})

	assertMoney(t, "80", res.Items[0].AdjustedUnitPrice)
	assertMoney(t, "800", res.Items[0].LineTotal)
	assertMoney(t, "200", res.Items[0].DiscountAmount)
}

func TestEngine_QuantityTierWithoutMatchFallsThrough(t *testing.T) {
	tiered := entity.PricingRule{
		ID:       1,
		Name:     "a",
		Priority: 10,
		RuleType: entity.RuleTypeQuantityDiscount,
		IsActive: true,
		Tiers:    []entity.QuantityTier{{MinQuantity: 50, TierDiscountAmount: nullDec("5")}},
	}
	fallback := percentRule(2, 1, "0.05")

	res := Evaluate([]entity.PricingRule{tiered, fallback}, asOf, Request{
		Items: []entity.LineItem{{ProductID: 1, Quantity: 3, UnitPrice: dec("20")}},
	})

	assertMoney(t, "19", res.Items[0].AdjustedUnitPrice)
	assert.Equal(t, []int64{2}, res.AppliedRuleIDs)
}

func TestEngine_HigherPriorityWins(t *testing.T) {
	low := percentRule(1, 5, "0.50")
	high := percentRule(2, 10, "0.10")

	res := Evaluate([]entity.PricingRule{low, high}, asOf, Request{
		Items: []entity.LineItem{{ProductID: 1, Quantity: 1, UnitPrice: dec("100")}},
	})

	assertMoney(t, "90", res.Items[0].AdjustedUnitPrice)
	assert.Equal(t, []int64{2}, res.AppliedRuleIDs)
}

func TestEngine_TieBreakByName(t *testing.T) {
	b := percentRule(1, 5, "0.50")
	b.Name = "beta"
	a := percentRule(2, 5, "0.20")
	a.Name = "alpha"

	res := Evaluate([]entity.PricingRule{b, a}, asOf, Request{
		Items: []entity.LineItem{{ProductID: 1, Quantity: 1, UnitPrice: dec("10")}},
	})

	assert.Equal(t, []int64{2}, res.AppliedRuleIDs)
	assertMoney(t, "8", res.Items[0].AdjustedUnitPrice)
}

func TestEngine_InactiveAndOutOfWindowNeverApply(t *testing.T) {
	inactive := percentRule(1, 30, "0.5")
	inactive.IsActive = false

	expired := percentRule(2, 20, "0.5")
	expired.EndDate = ptr(time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC))

	future := percentRule(3, 10, "0.5")
	future.StartDate = ptr(time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC))

	today := percentRule(4, 1, "0.25")
	today.StartDate = ptr(time.Date(2024, 6, 15, 23, 0, 0, 0, time.UTC))
	today.EndDate = ptr(time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC))

	res := Evaluate([]entity.PricingRule{inactive, expired, future, today}, asOf, Request{
		Items: []entity.LineItem{{ProductID: 1, Quantity: 2, UnitPrice: dec("4")}},
	})

	assert.Equal(t, []int64{4}, res.AppliedRuleIDs)
	assertMoney(t, "3", res.Items[0].AdjustedUnitPrice)

	reasons := map[int64]string{}
	for _, s := range res.SkippedRules {
		reasons[s.RuleID] = s.Reason
	}
	assert.Equal(t, ReasonInactive, reasons[1])
	assert.Equal(t, ReasonOutsideWindow, reasons[2])
	assert.Equal(t, ReasonOutsideWindow, reasons[3])
}

func TestEngine_AtMostOneRulePerLine(t *testing.T) {
	rules := []entity.PricingRule{
		percentRule(1, 3, "0.10"),
		{ID: 2, Name: "fixed", RuleType: entity.RuleTypeFixedAmountDiscount, Priority: 2, DiscountAmount: nullDec("1"), IsActive: true},
		{ID: 3, Name: "price", RuleType: entity.RuleTypeFixedPrice, Priority: 1, FixedPrice: nullDec("5"), IsActive: true},
	}
	items := []entity.LineItem{
		{ProductID: 1, Quantity: 3, UnitPrice: dec("10")},
		{ProductID: 2, Quantity: 1, UnitPrice: dec("20")},
	}

	res := Evaluate(rules, asOf, Request{Items: items})

	for _, line := range res.Items {
		require.NotNil(t, line.AppliedRuleID)
		assert.Equal(t, int64(1), *line.AppliedRuleID)
	}
	assertMoney(t, "9", res.Items[0].AdjustedUnitPrice)
	assertMoney(t, "18", res.Items[1].AdjustedUnitPrice)
	assert.Equal(t, []int64{1}, res.AppliedRuleIDs)
}

func TestEngine_Effects(t *testing.T) {
	tests := []struct {
		name      string
		rule      entity.PricingRule
		item      entity.LineItem
		applied   bool
		unit      string
		lineTotal string
	}{
		{
			name:      "fixed amount floored at zero",
			rule:      entity.PricingRule{RuleType: entity.RuleTypeFixedAmountDiscount, DiscountAmount: nullDec("15")},
			item:      entity.LineItem{Quantity: 2, UnitPrice: dec("10")},
			applied:   true,
			unit:      "0",
			lineTotal: "0",
		},
		{
			name:      "fixed price",
			rule:      entity.PricingRule{RuleType: entity.RuleTypeFixedPrice, FixedPrice: nullDec("7.5")},
			item:      entity.LineItem{Quantity: 4, UnitPrice: dec("10")},
			applied:   true,
			unit:      "7.5",
			lineTotal: "30",
		},
		{
			name:      "percentage rounds half away from zero",
			rule:      entity.PricingRule{RuleType: entity.RuleTypePercentageDiscount, DiscountPercentage: nullDec("0.5")},
			item:      entity.LineItem{Quantity: 1, UnitPrice: dec("0.05")},
			applied:   true,
			unit:      "0.03",
			lineTotal: "0.03",
		},
		{
			name:      "buy 2 get 1 free",
			rule:      entity.PricingRule{RuleType: entity.RuleTypeBuyXGetY, BuyQuantity: ptr(2), GetQuantity: ptr(1)},
			item:      entity.LineItem{Quantity: 7, UnitPrice: dec("3")},
			applied:   true,
			unit:      "2.14",
			lineTotal: "15",
		},
		{
			name:      "buy 1 get 1 half off",
			rule:      entity.PricingRule{RuleType: entity.RuleTypeBuyXGetY, BuyQuantity: ptr(1), GetQuantity: ptr(1), GetDiscountPercentage: nullDec("0.5")},
			item:      entity.LineItem{Quantity: 4, UnitPrice: dec("10")},
			applied:   true,
			unit:      "7.5",
			lineTotal: "30",
		},
		{
			name:    "buy x get y below one full group",
			rule:    entity.PricingRule{RuleType: entity.RuleTypeBuyXGetY, BuyQuantity: ptr(2), GetQuantity: ptr(1)},
			item:    entity.LineItem{Quantity: 2, UnitPrice: dec("3")},
			applied: false,
		},
		{
			name:    "percentage without a value",
			rule:    entity.PricingRule{RuleType: entity.RuleTypePercentageDiscount},
			item:    entity.LineItem{Quantity: 1, UnitPrice: dec("3")},
			applied: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.rule.ID = 9
			tt.rule.Name = tt.name
			tt.rule.IsActive = true

			res := Evaluate([]entity.PricingRule{tt.rule}, asOf, Request{Items: []entity.LineItem{tt.item}})
			line := res.Items[0]

			if !tt.applied {
				assert.Nil(t, line.AppliedRuleID)
				assertMoney(t, tt.item.UnitPrice.String(), line.AdjustedUnitPrice)
				return
			}
			require.NotNil(t, line.AppliedRuleID)
			assertMoney(t, tt.unit, line.AdjustedUnitPrice)
			assertMoney(t, tt.lineTotal, line.LineTotal)
		})
	}
}

func TestEngine_UsageCapacity(t *testing.T) {
	exhausted := percentRule(1, 10, "0.5")
	exhausted.UsageLimit = ptr(3)
	exhausted.UsageCount = 3

	perCustomer := percentRule(2, 5, "0.2")
	perCustomer.UsageLimitPerCustomer = ptr(1)

	fallback := percentRule(3, 1, "0.1")
	rules := []entity.PricingRule{exhausted, perCustomer, fallback}
	items := []entity.LineItem{{ProductID: 1, Quantity: 1, UnitPrice: dec("100")}}
	engine := NewEngine(rules, asOf)

	t.Run("anonymous client never gets a per-customer rule", func(t *testing.T) {
		res := engine.Evaluate(Request{Items: items})
		assert.Equal(t, []int64{3}, res.AppliedRuleIDs)
	})

	t.Run("known client under its limit", func(t *testing.T) {
		res := engine.Evaluate(Request{Items: items, Client: entity.ClientContext{ClientID: ptr(int64(5))}})
		assert.Equal(t, []int64{2}, res.AppliedRuleIDs)
		assertMoney(t, "80", res.Items[0].AdjustedUnitPrice)
	})

	t.Run("known client at its limit", func(t *testing.T) {
		res := engine.Evaluate(Request{
			Items:         items,
			Client:        entity.ClientContext{ClientID: ptr(int64(5))},
			CustomerUsage: map[int64]int{2: 1},
		})
		assert.Equal(t, []int64{3}, res.AppliedRuleIDs)
	})

	t.Run("excluded rule falls through", func(t *testing.T) {
		res := engine.Evaluate(Request{
			Items:    items,
			Client:   entity.ClientContext{ClientID: ptr(int64(5))},
			Excluded: map[int64]bool{2: true},
		})
		assert.Equal(t, []int64{3}, res.AppliedRuleIDs)
	})
}

func TestEngine_MalformedRuleIsSkipped(t *testing.T) {
	broken := percentRule(1, 10, "0.5")
	broken.Targets = []entity.RuleTarget{productTarget("[42")}
	good := percentRule(2, 1, "0.1")

	res := Evaluate([]entity.PricingRule{broken, good}, asOf, Request{
		Items: []entity.LineItem{{ProductID: 42, Quantity: 1, UnitPrice: dec("10")}},
	})

	assert.Equal(t, []int64{2}, res.AppliedRuleIDs)
	require.Len(t, res.SkippedRules, 1)
	assert.Equal(t, int64(1), res.SkippedRules[0].RuleID)
	assert.Contains(t, res.SkippedRules[0].Reason, ErrMalformedRule.Error())
}

func TestEngine_ConditionFailureIsSkippedAndReported(t *testing.T) {
	failing := percentRule(1, 10, "0.5")
	good := percentRule(2, 1, "0.1")
	engine := NewEngine([]entity.PricingRule{failing, good}, asOf)
	require.Len(t, engine.rules, 2)
	// Compiles fine but cannot be run against real facts.
	engine.rules[0].conditions = &Predicate{rule: []byte(`{"==": [`)}

	res := engine.Evaluate(Request{Items: []entity.LineItem{
		{ProductID: 42, Quantity: 1, UnitPrice: dec("10")},
		{ProductID: 7, Quantity: 1, UnitPrice: dec("20")},
	}})

	assert.Equal(t, []int64{2}, res.AppliedRuleIDs)
	assert.Equal(t, int64(2), *res.Items[0].AppliedRuleID)
	assert.Equal(t, int64(2), *res.Items[1].AppliedRuleID)
	require.Len(t, res.SkippedRules, 1)
	assert.Equal(t, int64(1), res.SkippedRules[0].RuleID)
	assert.Contains(t, res.SkippedRules[0].Reason, ErrMalformedRule.Error())
	assert.Contains(t, res.SkippedRules[0].Reason, "condition evaluation failed")
}

func TestEngine_ConditionsUseCartFacts(t *testing.T) {
	rule := percentRule(1, 1, "0.1")
	rule.Conditions = []entity.RuleCondition{
		{ConditionType: entity.ConditionCartTotal, Operator: entity.OperatorGreaterThanOrEqual, ValueNumber: nullDec("100"), LogicalOperator: entity.LogicalAnd, ConditionGroup: 1},
	}
	engine := NewEngine([]entity.PricingRule{rule}, asOf)

	small := engine.Evaluate(Request{Items: []entity.LineItem{{ProductID: 1, Quantity: 1, UnitPrice: dec("50")}}})
	assert.Empty(t, small.AppliedRuleIDs)

	large := engine.Evaluate(Request{Items: []entity.LineItem{
		{ProductID: 1, Quantity: 1, UnitPrice: dec("50")},
		{ProductID: 2, Quantity: 1, UnitPrice: dec("50")},
	}})
	assert.Equal(t, []int64{1}, large.AppliedRuleIDs)
	assertMoney(t, "90", large.Total)
}

func TestSortRules(t *testing.T) {
	rules := []entity.PricingRule{
		{ID: 1, Name: "b", Priority: 1},
		{ID: 2, Name: "a", Priority: 1},
		{ID: 3, Name: "z", Priority: 9},
	}
	sorted := SortRules(rules)
	assert.Equal(t, int64(3), sorted[0].ID)
	assert.Equal(t, int64(2), sorted[1].ID)
	assert.Equal(t, int64(1), sorted[2].ID)
	assert.Equal(t, int64(1), rules[0].ID)
}
