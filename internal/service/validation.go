package service

import (
	"errors"
	"fmt"
	"pricing-service/internal/entity"
	"pricing-service/internal/pricing"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidateRule checks a rule before it is written. Every problem found is
// reported in one ErrInvalidRule.
func ValidateRule(rule *entity.PricingRule) error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(rule.Name) == "" {
		addf("name is required")
	}
	if strings.TrimSpace(rule.RuleCode) == "" {
		addf("rule_code is required")
	}
	if rule.StoreID <= 0 {
		addf("store_id is required")
	}

	switch rule.RuleType {
	case entity.RuleTypePercentageDiscount:
		if !rule.DiscountPercentage.Valid {
			addf("discount_percentage is required for %s", rule.RuleType)
		} else if !isFraction(rule.DiscountPercentage.Decimal) {
			addf("discount_percentage must be between 0 and 1")
		}
	case entity.RuleTypeFixedAmountDiscount:
		if !rule.DiscountAmount.Valid {
			addf("discount_amount is required for %s", rule.RuleType)
		} else if rule.DiscountAmount.Decimal.IsNegative() {
			addf("discount_amount must not be negative")
		}
	case entity.RuleTypeFixedPrice:
		if !rule.FixedPrice.Valid {
			addf("fixed_price is required for %s", rule.RuleType)
		} else if rule.FixedPrice.Decimal.IsNegative() {
			addf("fixed_price must not be negative")
		}
	case entity.RuleTypeBuyXGetY:
		if rule.BuyQuantity == nil || *rule.BuyQuantity < 1 {
			addf("buy_quantity must be at least 1")
		}
		if rule.GetQuantity == nil || *rule.GetQuantity < 1 {
			addf("get_quantity must be at least 1")
		}
		if rule.GetDiscountPercentage.Valid && !isFraction(rule.GetDiscountPercentage.Decimal) {
			addf("get_discount_percentage must be between 0 and 1")
		}
	case entity.RuleTypeQuantityDiscount:
		if len(rule.Tiers) == 0 {
			addf("at least one tier is required for %s", rule.RuleType)
		}
	default:
		addf("unknown rule_type %q", rule.RuleType)
	}

	if len(rule.Tiers) > 0 {
		if rule.RuleType != entity.RuleTypeQuantityDiscount {
			addf("tiers are only allowed on %s rules", entity.RuleTypeQuantityDiscount)
		} else if err := pricing.ValidateTiers(rule.Tiers); err != nil {
			addf("%v", err)
		}
	}

	if rule.StartDate != nil && rule.EndDate != nil && rule.EndDate.Before(*rule.StartDate) {
		addf("end_date must not be before start_date")
	}
	if rule.UsageLimit != nil && *rule.UsageLimit < 0 {
		addf("usage_limit must not be negative")
	}
	if rule.UsageLimitPerCustomer != nil && *rule.UsageLimitPerCustomer < 0 {
		addf("usage_limit_per_customer must not be negative")
	}

	for i, c := range rule.Conditions {
		if !c.ConditionType.Valid() {
			addf("conditions[%d]: unknown condition_type %q", i, c.ConditionType)
		}
		if c.ConditionType != entity.ConditionCustom && !c.Operator.Valid() {
			addf("conditions[%d]: unknown operator %q", i, c.Operator)
		}
		if c.LogicalOperator != "" && !strings.EqualFold(string(c.LogicalOperator), string(entity.LogicalAnd)) &&
			!strings.EqualFold(string(c.LogicalOperator), string(entity.LogicalOr)) {
			addf("conditions[%d]: logical_operator must be AND or OR", i)
		}
	}
	for i, t := range rule.Targets {
		if !t.TargetType.Valid() {
			addf("targets[%d]: unknown target_type %q", i, t.TargetType)
		}
	}

	if err := pricing.CheckRule(*rule); err != nil {
		if !errors.Is(err, pricing.ErrMalformedRule) {
			return err
		}
		addf("%v", err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRule, strings.Join(problems, "; "))
	}
	return nil
}

func isFraction(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(1))
}
