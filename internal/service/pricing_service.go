package service

import (
	"context"
	"fmt"
	"pricing-service/internal/entity"
	"pricing-service/internal/pricing"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PricingService evaluates carts against the active rules of a store.
type PricingService struct {
	rules RuleSource
	usage UsageStore
	now   func() time.Time
}

// NewPricingService creates a new instance of PricingService.
func NewPricingService(rules RuleSource, usage UsageStore) *PricingService {
	return &PricingService{
		rules: rules,
		usage: usage,
		now:   time.Now,
	}
}

// Evaluate prices items for client as of asOf (now when zero). When the rules or the
// client's usage cannot be read no line is priced and ErrRulesUnavailable is returned.
func (s *PricingService) Evaluate(ctx context.Context, storeID int64, items []entity.LineItem, client entity.ClientContext, asOf time.Time) (entity.EvaluationResult, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}

	// Step 1: Load the rules and what this client already used of them
	prepared, err := s.prepare(ctx, storeID, client, asOf)
	if err != nil {
		return entity.EvaluationResult{}, err
	}

	// Step 2: Run the engine
	result := prepared.engine.Evaluate(pricing.Request{
		StoreID:       storeID,
		Items:         items,
		Client:        client,
		CustomerUsage: prepared.usage,
	})
	result.EvaluationID = uuid.NewString()
	logSkipped(result)
	return result, nil
}

// preparedEvaluation is everything an evaluation reads from the stores.
type preparedEvaluation struct {
	engine *pricing.Engine
	rules  map[int64]entity.PricingRule
	usage  map[int64]int
}

// prepare builds the engine for one store at asOf together with the client's usage counts.
func (s *PricingService) prepare(ctx context.Context, storeID int64, client entity.ClientContext, asOf time.Time) (*preparedEvaluation, error) {
	rules, err := s.rules.FetchActiveRules(ctx, storeID)
	if err != nil {
		logger.Error().Err(err).Msgf("Error fetching pricing rules for store %d", storeID)
		return nil, fmt.Errorf("%w: %v", ErrRulesUnavailable, err)
	}

	prepared := &preparedEvaluation{
		engine: pricing.NewEngine(rules, asOf),
		rules:  make(map[int64]entity.PricingRule, len(rules)),
		usage:  map[int64]int{},
	}
	for _, rule := range rules {
		prepared.rules[rule.ID] = rule
	}

	live := prepared.engine.Rules()
	if client.ClientID != nil && len(live) > 0 {
		prepared.usage, err = s.usage.CustomerUsage(ctx, *client.ClientID, live)
		if err != nil {
			logger.Error().Err(err).Msgf("Error fetching usage of client %d", *client.ClientID)
			return nil, fmt.Errorf("%w: %v", ErrRulesUnavailable, err)
		}
	}
	return prepared, nil
}

func logSkipped(result entity.EvaluationResult) {
	for _, skipped := range result.SkippedRules {
		level := zerolog.DebugLevel
		if strings.HasPrefix(skipped.Reason, pricing.ErrMalformedRule.Error()) {
			level = zerolog.WarnLevel
		}
		logger.WithLevel(level).
			Str("evaluation_id", result.EvaluationID).
			Int64("store_id", result.StoreID).
			Int64("rule_id", skipped.RuleID).
			Str("rule_code", skipped.RuleCode).
			Msg(skipped.Reason)
	}
}
