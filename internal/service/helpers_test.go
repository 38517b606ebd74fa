package service

import (
	"context"
	"errors"
	"pricing-service/internal/entity"
	"pricing-service/internal/tenant"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func tenantCtx() context.Context {
	return tenant.WithTenant(context.Background(), "acme")
}

func percentRule(id int64, priority int, pct string, productIDs string) entity.PricingRule {
	return entity.PricingRule{
		ID:                 id,
		StoreID:            10,
		Name:               "rule",
		RuleCode:           "R" + string(rune('A'+id)),
		RuleType:           entity.RuleTypePercentageDiscount,
		Priority:           priority,
		DiscountPercentage: decimal.NewNullDecimal(dec(pct)),
		IsActive:           true,
		Targets:            []entity.RuleTarget{{TargetType: entity.TargetProduct, TargetIDs: ptr(productIDs)}},
	}
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) keys() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	keys := make([]string, len(w.messages))
	for i, m := range w.messages {
		keys[i] = string(m.Key)
	}
	return keys
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (c *fakeCache) Invalidate(ctx context.Context, tenantKey string, storeID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, tenantKey)
	return nil
}

type failingSource struct{}

func (failingSource) FetchActiveRules(ctx context.Context, storeID int64) ([]entity.PricingRule, error) {
	return nil, errors.New("connection refused")
}
