package repository

import (
	"context"
	"errors"
	"pricing-service/internal/entity"
	"pricing-service/internal/tenant"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	rules []entity.PricingRule
	err   error
	calls int
}

func (s *countingSource) FetchActiveRules(ctx context.Context, storeID int64) ([]entity.PricingRule, error) {
	s.calls++
	return s.rules, s.err
}

func newCache(t *testing.T, source ActiveRuleSource) (*CachedRuleStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewCachedRuleStore(source, rdb, time.Minute), mr
}

func TestCachedRuleStore_ReadThrough(t *testing.T) {
	source := &countingSource{rules: []entity.PricingRule{{ID: 1, StoreID: 10, Name: "Ten off", RuleCode: "TEN", IsActive: true}}}
	cache, mr := newCache(t, source)
	ctx := tenant.WithTenant(context.Background(), "acme")

	rules, err := cache.FetchActiveRules(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.True(t, mr.Exists("pricing_rules:acme:10"))
	assert.Equal(t, time.Minute, mr.TTL("pricing_rules:acme:10"))

	rules, err = cache.FetchActiveRules(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "TEN", rules[0].RuleCode)
	assert.Equal(t, 1, source.calls)

	require.NoError(t, cache.Invalidate(ctx, "acme", 10))
	assert.False(t, mr.Exists("pricing_rules:acme:10"))

	_, err = cache.FetchActiveRules(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestCachedRuleStore_TenantsDoNotShareEntries(t *testing.T) {
	source := &countingSource{}
	cache, mr := newCache(t, source)

	_, err := cache.FetchActiveRules(tenant.WithTenant(context.Background(), "acme"), 10)
	require.NoError(t, err)
	_, err = cache.FetchActiveRules(tenant.WithTenant(context.Background(), "beta"), 10)
	require.NoError(t, err)

	assert.Equal(t, 2, source.calls)
	assert.True(t, mr.Exists("pricing_rules:beta:10"))
}

func TestCachedRuleStore_UndecodableEntry(t *testing.T) {
	source := &countingSource{rules: []entity.PricingRule{{ID: 1, StoreID: 10}}}
	cache, mr := newCache(t, source)
	require.NoError(t, mr.Set("pricing_rules:acme:10", "not json"))

	rules, err := cache.FetchActiveRules(tenant.WithTenant(context.Background(), "acme"), 10)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
	assert.Equal(t, 1, source.calls)
}

func TestCachedRuleStore_RedisDown(t *testing.T) {
	source := &countingSource{rules: []entity.PricingRule{{ID: 1, StoreID: 10}}}
	cache, mr := newCache(t, source)
	mr.SetError("LOADING redis is loading the dataset in memory")

	rules, err := cache.FetchActiveRules(tenant.WithTenant(context.Background(), "acme"), 10)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestCachedRuleStore_SourceError(t *testing.T) {
	boom := errors.New("connection refused")
	cache, mr := newCache(t, &countingSource{err: boom})

	_, err := cache.FetchActiveRules(tenant.WithTenant(context.Background(), "acme"), 10)
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("pricing_rules:acme:10"))
}

func TestCachedRuleStore_MissingTenant(t *testing.T) {
	cache, _ := newCache(t, &countingSource{})

	_, err := cache.FetchActiveRules(context.Background(), 10)
	assert.ErrorIs(t, err, tenant.ErrMissingTenant)
}
