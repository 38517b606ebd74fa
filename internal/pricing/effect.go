package pricing

import (
	"pricing-service/internal/entity"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// roundMoney rounds half away from zero to cents.
func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func discounted(price, fraction decimal.Decimal) decimal.Decimal {
	return price.Mul(one.Sub(fraction))
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// applyEffect prices item under rule r. ok is false when the rule's effect does
// not apply to this line, for instance no tier covers the quantity.
func (r *compiledRule) applyEffect(item entity.LineItem) (unit, lineTotal decimal.Decimal, ok bool) {
	price := item.UnitPrice
	rule := r.rule

	switch rule.RuleType {
	case entity.RuleTypePercentageDiscount:
		if !rule.DiscountPercentage.Valid {
			return unit, lineTotal, false
		}
		unit = discounted(price, rule.DiscountPercentage.Decimal)
	case entity.RuleTypeFixedAmountDiscount:
		if !rule.DiscountAmount.Valid {
			return unit, lineTotal, false
		}
		unit = floorZero(price.Sub(rule.DiscountAmount.Decimal))
	case entity.RuleTypeFixedPrice:
		if !rule.FixedPrice.Valid {
			return unit, lineTotal, false
		}
		unit = rule.FixedPrice.Decimal
	case entity.RuleTypeQuantityDiscount:
		tier, found := resolveSorted(item.Quantity, r.tiers)
		if !found {
			return unit, lineTotal, false
		}
		switch {
		case tier.TierPrice.Valid:
			unit = tier.TierPrice.Decimal
		case tier.TierDiscountPercentage.Valid:
			unit = discounted(price, tier.TierDiscountPercentage.Decimal)
		case tier.TierDiscountAmount.Valid:
			unit = floorZero(price.Sub(tier.TierDiscountAmount.Decimal))
		default:
			return unit, lineTotal, false
		}
	case entity.RuleTypeBuyXGetY:
		return buyXGetY(rule, item)
	default:
		return unit, lineTotal, false
	}

	unit = roundMoney(unit)
	return unit, roundMoney(unit.Mul(decimal.NewFromInt(int64(item.Quantity)))), true
}

// buyXGetY discounts Y of every X+Y units and spreads the discount over the line.
func buyXGetY(rule entity.PricingRule, item entity.LineItem) (unit, lineTotal decimal.Decimal, ok bool) {
	if rule.BuyQuantity == nil || rule.GetQuantity == nil || *rule.BuyQuantity <= 0 || *rule.GetQuantity <= 0 {
		return unit, lineTotal, false
	}
	group := *rule.BuyQuantity + *rule.GetQuantity
	if item.Quantity < group {
		return unit, lineTotal, false
	}

	fraction := one
	if rule.GetDiscountPercentage.Valid {
		fraction = rule.GetDiscountPercentage.Decimal
	}
	rewarded := decimal.NewFromInt(int64(item.Quantity / group * *rule.GetQuantity))
	quantity := decimal.NewFromInt(int64(item.Quantity))

	lineTotal = roundMoney(item.UnitPrice.Mul(quantity).Sub(item.UnitPrice.Mul(rewarded).Mul(fraction)))
	unit = roundMoney(lineTotal.Div(quantity))
	return unit, lineTotal, true
}
