package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"pricing-service/internal/service"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	messages []kafka.Message
	errs     []error
	closed   bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return kafka.Message{}, err
	}
	if len(r.messages) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type recordingCache struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (c *recordingCache) Invalidate(ctx context.Context, tenantKey string, storeID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, service.RuleChangedKey("x", tenantKey, storeID))
	return c.err
}

func ruleChanged(t *testing.T, tenant string, storeID int64) kafka.Message {
	t.Helper()
	value, err := json.Marshal(service.RuleChangedEvent{EventID: "e", Type: service.RuleUpdated, Tenant: tenant, StoreID: storeID, RuleID: 1})
	require.NoError(t, err)
	return kafka.Message{Key: []byte(service.RuleChangedKey(service.RuleUpdated, tenant, storeID)), Value: value}
}

func TestConsumer_InvalidatesCachedRules(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		ruleChanged(t, "acme", 10),
		{Key: []byte("garbage"), Value: []byte("{")},
		ruleChanged(t, "", 10),
		ruleChanged(t, "beta", 20),
	}}
	cache := &recordingCache{}

	err := NewConsumer(reader, cache).Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"pricing-rule.x.acme.10", "pricing-rule.x.beta.20"}, cache.keys)
	assert.True(t, reader.closed)
}

func TestConsumer_RetriesAfterReadError(t *testing.T) {
	reader := &fakeReader{
		errs:     []error{errors.New("broker not available")},
		messages: []kafka.Message{ruleChanged(t, "acme", 10)},
	}
	cache := &recordingCache{}
	c := NewConsumer(reader, cache)
	c.backoff = time.Millisecond

	require.NoError(t, c.Start(context.Background()))
	assert.Len(t, cache.keys, 1)
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reader := &fakeReader{errs: []error{context.Canceled}}

	assert.NoError(t, NewConsumer(reader, &recordingCache{}).Start(ctx))
	assert.True(t, reader.closed)
}
