package service

import (
	"context"
	"encoding/json"
	"fmt"
	"pricing-service/internal/entity"
	"pricing-service/internal/tenant"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// RuleService administers the pricing rules of a store. Every write drops the
// cached rules of the store and announces the change to the other instances.
type RuleService struct {
	rules  RuleStore
	cache  RuleCache
	writer MessageWriter
}

// NewRuleService creates a new instance of RuleService. cache and writer may be nil.
func NewRuleService(rules RuleStore, cache RuleCache, writer MessageWriter) *RuleService {
	return &RuleService{
		rules:  rules,
		cache:  cache,
		writer: writer,
	}
}

func (s *RuleService) Get(ctx context.Context, storeID, id int64) (*entity.PricingRule, error) {
	return s.rules.GetRule(ctx, storeID, id)
}

func (s *RuleService) List(ctx context.Context, storeID int64, includeInactive bool) ([]entity.PricingRule, error) {
	rules, err := s.rules.ListRules(ctx, storeID, includeInactive)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []entity.PricingRule{}
	}
	return rules, nil
}

// Create validates and stores a new rule. Usage counters always start at zero.
func (s *RuleService) Create(ctx context.Context, rule *entity.PricingRule) (*entity.PricingRule, error) {
	rule.UsageCount = 0
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	if err := s.rules.CreateRule(ctx, rule); err != nil {
		logger.Error().Err(err).Msgf("Error creating pricing rule %s", rule.RuleCode)
		return nil, err
	}
	s.changed(ctx, RuleCreated, rule)
	return rule, nil
}

// Update replaces a rule with its conditions, targets and tiers.
func (s *RuleService) Update(ctx context.Context, rule *entity.PricingRule) (*entity.PricingRule, error) {
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	if err := s.rules.UpdateRule(ctx, rule); err != nil {
		logger.Error().Err(err).Msgf("Error updating pricing rule %d", rule.ID)
		return nil, err
	}
	s.changed(ctx, RuleUpdated, rule)
	return rule, nil
}

// Patch applies an RFC 6902 JSON Patch to the JSON form of a stored rule. The
// rule id and store cannot be patched.
func (s *RuleService) Patch(ctx context.Context, storeID, id int64, patch []byte) (*entity.PricingRule, error) {
	current, err := s.rules.GetRule(ctx, storeID, id)
	if err != nil {
		return nil, err
	}

	ops, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	original, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	patched, err := ops.Apply(original)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	var rule entity.PricingRule
	if err := json.Unmarshal(patched, &rule); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	rule.ID, rule.StoreID = current.ID, current.StoreID
	return s.Update(ctx, &rule)
}

// Deactivate soft-deletes a rule; it stays readable for past documents.
func (s *RuleService) Deactivate(ctx context.Context, storeID, id int64) error {
	if err := s.rules.DeactivateRule(ctx, storeID, id); err != nil {
		return err
	}
	s.changed(ctx, RuleDeactivated, &entity.PricingRule{ID: id, StoreID: storeID})
	return nil
}

// changed invalidates the local cache and publishes the change. Failures are only logged.
func (s *RuleService) changed(ctx context.Context, eventType string, rule *entity.PricingRule) {
	tenantKey, _ := tenant.FromContext(ctx)

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, tenantKey, rule.StoreID); err != nil {
			logger.Error().Err(err).Msgf("Error invalidating rule cache of store %d", rule.StoreID)
		}
	}
	if s.writer != nil {
		if err := publishRuleChanged(ctx, s.writer, tenantKey, eventType, rule); err != nil {
			logger.Error().Err(err).Msgf("Error publishing %s event for rule %d", eventType, rule.ID)
		}
	}
}
