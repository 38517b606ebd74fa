package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"pricing-service/internal/entity"
	"pricing-service/internal/tenant"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "repository").Logger()

// ActiveRuleSource is the read side of the rule store consumed by the pricing engine.
type ActiveRuleSource interface {
	FetchActiveRules(ctx context.Context, storeID int64) ([]entity.PricingRule, error)
}

// CachedRuleStore is a redis read-through cache in front of an ActiveRuleSource.
type CachedRuleStore struct {
	source ActiveRuleSource
	rdb    *redis.Client
	ttl    time.Duration
}

// NewCachedRuleStore creates a new instance of CachedRuleStore.
func NewCachedRuleStore(source ActiveRuleSource, rdb *redis.Client, ttl time.Duration) *CachedRuleStore {
	return &CachedRuleStore{source: source, rdb: rdb, ttl: ttl}
}

// RuleCacheKey is the redis key holding the active rules of a tenant's store.
func RuleCacheKey(tenantKey string, storeID int64) string {
	return fmt.Sprintf("pricing_rules:%s:%d", tenantKey, storeID)
}

// FetchActiveRules serves from redis when possible. Cache failures fall through
// to the source; source failures are returned.
func (s *CachedRuleStore) FetchActiveRules(ctx context.Context, storeID int64) ([]entity.PricingRule, error) {
	tenantKey, ok := tenant.FromContext(ctx)
	if !ok {
		return nil, tenant.ErrMissingTenant
	}
	key := RuleCacheKey(tenantKey, storeID)

	data, err := s.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		var rules []entity.PricingRule
		if err := json.Unmarshal([]byte(data), &rules); err == nil {
			return rules, nil
		}
		logger.Warn().Str("key", key).Msg("discarding undecodable rule cache entry")
	case !errors.Is(err, redis.Nil):
		logger.Warn().Err(err).Str("key", key).Msg("rule cache read failed")
	}

	rules, err := s.source.FetchActiveRules(ctx, storeID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(rules)
	if err != nil {
		return rules, nil
	}
	if err := s.rdb.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("rule cache write failed")
	}
	return rules, nil
}

// Invalidate drops the cached rules of a tenant's store.
func (s *CachedRuleStore) Invalidate(ctx context.Context, tenantKey string, storeID int64) error {
	return s.rdb.Del(ctx, RuleCacheKey(tenantKey, storeID)).Err()
}
