package rulepack

import (
	"context"
	"fmt"
	"pricing-service/internal/entity"
)

// RuleCreator is the part of the rule administration service used for seeding.
type RuleCreator interface {
	List(ctx context.Context, storeID int64, includeInactive bool) ([]entity.PricingRule, error)
	Create(ctx context.Context, rule *entity.PricingRule) (*entity.PricingRule, error)
}

// Seed creates the pack's rules in a store that has none, inactive ones included.
// It returns how many rules were created. Pack ids are dropped; the store assigns its own.
func Seed(ctx context.Context, svc RuleCreator, storeID int64, rules []entity.PricingRule) (int, error) {
	existing, err := svc.List(ctx, storeID, true)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	for i, rule := range rules {
		rule.ID = 0
		rule.StoreID = storeID
		if _, err := svc.Create(ctx, &rule); err != nil {
			return i, fmt.Errorf("seed rule %s: %w", rule.RuleCode, err)
		}
	}
	return len(rules), nil
}
