package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"pricing-service/internal/entity"
	"pricing-service/internal/repository"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type documentFixture struct {
	svc    *DocumentService
	rules  *repository.MemoryRuleStore
	docs   *repository.MemoryDocumentStore
	cache  *fakeCache
	writer *fakeWriter
}

func newDocumentFixture(t *testing.T, rules ...entity.PricingRule) *documentFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := &documentFixture{
		rules:  repository.NewMemoryRuleStore(rules...),
		docs:   repository.NewMemoryDocumentStore(),
		cache:  &fakeCache{},
		writer: &fakeWriter{},
	}
	pricingSvc := NewPricingService(f.rules, f.rules)
	f.svc = NewDocumentService(f.docs, pricingSvc, f.rules, f.cache, f.writer, rdb)
	return f
}

func draft(clientID *int64) *entity.Document {
	return &entity.Document{
		StoreID: 10,
		Kind:    entity.DocumentInvoice,
		Client:  entity.ClientContext{ClientID: clientID},
		Lines: []entity.AdjustedLineItem{
			{LineItem: entity.LineItem{ProductID: 42, Quantity: 1, UnitPrice: dec("100")}},
		},
	}
}

func (f *documentFixture) usageCount(t *testing.T, ruleID int64) int {
	t.Helper()
	rule, err := f.rules.GetRule(tenantCtx(), 10, ruleID)
	require.NoError(t, err)
	return rule.UsageCount
}

func TestDocumentService_CreateDraftConsumesNoUsage(t *testing.T) {
	limited := percentRule(1, 5, "0.10", "[42]")
	limited.UsageLimit = ptr(1)
	f := newDocumentFixture(t, limited)

	doc, err := f.svc.Create(tenantCtx(), draft(nil))
	require.NoError(t, err)

	assert.Equal(t, entity.DocumentDraft, doc.Status)
	assert.Equal(t, []int64{1}, doc.AppliedRuleIDs)
	assertMoney(t, "90", doc.Total)
	assert.Zero(t, f.usageCount(t, 1))
}

func TestDocumentService_CreateRejectsInvalidDocument(t *testing.T) {
	f := newDocumentFixture(t)

	doc := draft(nil)
	doc.Kind = "receipt"
	_, err := f.svc.Create(tenantCtx(), doc)
	assert.ErrorIs(t, err, ErrInvalidDocument)

	doc = draft(nil)
	doc.Lines = nil
	_, err = f.svc.Create(tenantCtx(), doc)
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestDocumentService_Finalize(t *testing.T) {
	limited := percentRule(1, 5, "0.10", "[42]")
	limited.UsageLimit = ptr(5)
	f := newDocumentFixture(t, limited)

	doc, err := f.svc.Create(tenantCtx(), draft(ptr(int64(7))))
	require.NoError(t, err)

	finalized, err := f.svc.Finalize(tenantCtx(), 10, doc.ID, "key-1")
	require.NoError(t, err)

	assert.Equal(t, entity.DocumentFinalized, finalized.Status)
	assert.NotNil(t, finalized.FinalizedAt)
	assertMoney(t, "90", finalized.Total)
	assert.Equal(t, 1, f.usageCount(t, 1))
	assert.Equal(t, []string{"acme"}, f.cache.invalidated)

	require.Len(t, f.writer.messages, 1)
	assert.Equal(t, "document.finalized.acme.1", string(f.writer.messages[0].Key))
	var event DocumentEvent
	require.NoError(t, json.Unmarshal(f.writer.messages[0].Value, &event))
	assert.Equal(t, DocumentFinalized, event.Type)
	assert.Equal(t, doc.ID, event.Document.ID)

	usage, err := f.rules.CustomerUsage(tenantCtx(), 7, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{1: 1}, usage)
}

func TestDocumentService_FinalizeIsIdempotent(t *testing.T) {
	f := newDocumentFixture(t, percentRule(1, 5, "0.10", "[42]"))
	doc, err := f.svc.Create(tenantCtx(), draft(nil))
	require.NoError(t, err)

	first, err := f.svc.Finalize(tenantCtx(), 10, doc.ID, "key-1")
	require.NoError(t, err)
	again, err := f.svc.Finalize(tenantCtx(), 10, doc.ID, "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, entity.DocumentFinalized, again.Status)
	assert.Equal(t, 1, f.usageCount(t, 1))
	assert.Len(t, f.writer.messages, 1)
}

func TestDocumentService_FinalizeReleasesKeyOnFailure(t *testing.T) {
	f := newDocumentFixture(t)

	_, err := f.svc.Finalize(tenantCtx(), 10, 404, "key-1")
	assert.ErrorIs(t, err, repository.ErrDocumentNotFound)

	doc, err := f.svc.Create(tenantCtx(), draft(nil))
	require.NoError(t, err)
	_, err = f.svc.Finalize(tenantCtx(), 10, doc.ID, "key-1")
	assert.NoError(t, err)
}

func TestDocumentService_FinalizeOnlyDrafts(t *testing.T) {
	f := newDocumentFixture(t)
	doc, err := f.svc.Create(tenantCtx(), draft(nil))
	require.NoError(t, err)

	_, err = f.svc.Finalize(tenantCtx(), 10, doc.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Finalize(tenantCtx(), 10, doc.ID, "")
	assert.ErrorIs(t, err, ErrDocumentNotDraft)
	_, err = f.svc.Cancel(tenantCtx(), 10, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotDraft)
	_, err = f.svc.Update(tenantCtx(), 10, doc.ID, doc.LineItems(), doc.Client)
	assert.ErrorIs(t, err, ErrDocumentNotDraft)
}

// staleSource serves a fixed snapshot, like a rule cache that has not seen the latest usage counts.
type staleSource []entity.PricingRule

func (s staleSource) FetchActiveRules(ctx context.Context, storeID int64) ([]entity.PricingRule, error) {
	return s, nil
}

func TestDocumentService_LostClaimFallsBackToNextRule(t *testing.T) {
	scarce := percentRule(1, 10, "0.50", "[42]")
	scarce.UsageLimit = ptr(1)
	fallback := percentRule(2, 1, "0.10", "[42]")
	f := newDocumentFixture(t, scarce, fallback)
	f.svc.pricing = NewPricingService(staleSource{scarce, fallback}, f.rules)

	first, err := f.svc.Create(tenantCtx(), draft(nil))
	require.NoError(t, err)
	second, err := f.svc.Create(tenantCtx(), draft(nil))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, second.AppliedRuleIDs)

	_, err = f.svc.Finalize(tenantCtx(), 10, first.ID, "")
	require.NoError(t, err)

	finalized, err := f.svc.Finalize(tenantCtx(), 10, second.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, finalized.AppliedRuleIDs)
	assertMoney(t, "90", finalized.Total)
	assert.Equal(t, 1, f.usageCount(t, 1))
	assert.Equal(t, 1, f.usageCount(t, 2))
}

func TestDocumentService_ConcurrentFinalizeHonoursUsageLimit(t *testing.T) {
	scarce := percentRule(1, 10, "0.50", "[42]")
	scarce.UsageLimit = ptr(3)
	f := newDocumentFixture(t, scarce)

	ids := make([]int64, 10)
	for i := range ids {
		doc, err := f.svc.Create(tenantCtx(), draft(nil))
		require.NoError(t, err)
		ids[i] = doc.ID
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			doc, err := f.svc.Finalize(tenantCtx(), 10, id, "")
			if !assert.NoError(t, err) {
				return
			}
			if len(doc.AppliedRuleIDs) > 0 {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 3, applied)
	assert.Equal(t, 3, f.usageCount(t, 1))
}

func TestDocumentService_UpdateAndCancel(t *testing.T) {
	f := newDocumentFixture(t, percentRule(1, 5, "0.10", "[42]"))
	doc, err := f.svc.Create(tenantCtx(), draft(nil))
	require.NoError(t, err)

	updated, err := f.svc.Update(tenantCtx(), 10, doc.ID, []entity.LineItem{
		{ProductID: 42, Quantity: 3, UnitPrice: dec("100")},
		{ProductID: 7, Quantity: 1, UnitPrice: dec("20")},
	}, entity.ClientContext{ClientType: "retail"})
	require.NoError(t, err)
	assert.Len(t, updated.Lines, 2)
	assertMoney(t, "290", updated.Total)

	got, err := f.svc.Get(tenantCtx(), 10, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "retail", got.Client.ClientType)

	cancelled, err := f.svc.Cancel(tenantCtx(), 10, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentCancelled, cancelled.Status)
	assert.Equal(t, []string{"document.cancelled.acme.1"}, f.writer.keys())

	_, err = f.svc.Get(tenantCtx(), 11, doc.ID)
	assert.ErrorIs(t, err, repository.ErrDocumentNotFound)
}

// recordingUsage logs every usage claim and answers the first conflicts claims
// with an InnoDB deadlock.
type recordingUsage struct {
	*repository.MemoryRuleStore
	mu        sync.Mutex
	claims    []int64
	conflicts int
}

func (r *recordingUsage) ClaimUsage(ctx context.Context, tx *sql.Tx, claim repository.UsageClaim) error {
	r.mu.Lock()
	r.claims = append(r.claims, claim.RuleID)
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
	}
	r.mu.Unlock()
	return r.MemoryRuleStore.ClaimUsage(ctx, tx, claim)
}

func draftWithProducts(productIDs ...int64) *entity.Document {
	doc := draft(nil)
	doc.Lines = nil
	for _, id := range productIDs {
		doc.Lines = append(doc.Lines, entity.AdjustedLineItem{LineItem: entity.LineItem{ProductID: id, Quantity: 1, UnitPrice: dec("10")}})
	}
	return doc
}

func TestDocumentService_FinalizeClaimsInRuleIDOrder(t *testing.T) {
	f := newDocumentFixture(t, percentRule(1, 5, "0.10", "[42]"), percentRule(2, 5, "0.20", "[7]"))
	usage := &recordingUsage{MemoryRuleStore: f.rules}
	f.svc.usage = usage

	forward, err := f.svc.Create(tenantCtx(), draftWithProducts(42, 7))
	require.NoError(t, err)
	reversed, err := f.svc.Create(tenantCtx(), draftWithProducts(7, 42))
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, reversed.AppliedRuleIDs)

	_, err = f.svc.Finalize(tenantCtx(), 10, forward.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Finalize(tenantCtx(), 10, reversed.ID, "")
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 1, 2}, usage.claims)
}

func TestDocumentService_FinalizeRetriesDeadlock(t *testing.T) {
	limited := percentRule(1, 5, "0.10", "[42]")
	limited.UsageLimit = ptr(5)
	f := newDocumentFixture(t, limited)
	usage := &recordingUsage{MemoryRuleStore: f.rules, conflicts: 1}
	f.svc.usage = usage

	doc, err := f.svc.Create(tenantCtx(), draft(nil))
	require.NoError(t, err)

	finalized, err := f.svc.Finalize(tenantCtx(), 10, doc.ID, "key-1")
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentFinalized, finalized.Status)
	assert.Equal(t, []int64{1}, finalized.AppliedRuleIDs)
	assert.Equal(t, []int64{1, 1}, usage.claims)
	assert.Equal(t, 1, f.usageCount(t, 1))
}

func TestDocumentService_FinalizeGivesUpAfterRepeatedDeadlocks(t *testing.T) {
	f := newDocumentFixture(t, percentRule(1, 5, "0.10", "[42]"))
	f.svc.usage = &recordingUsage{MemoryRuleStore: f.rules, conflicts: finalizeAttempts}

	doc, err := f.svc.Create(tenantCtx(), draft(nil))
	require.NoError(t, err)

	_, err = f.svc.Finalize(tenantCtx(), 10, doc.ID, "key-1")
	assert.True(t, repository.IsRetryable(err))

	got, err := f.svc.Get(tenantCtx(), 10, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentDraft, got.Status)

	// The key was released, so the client can try again.
	_, err = f.svc.Finalize(tenantCtx(), 10, doc.ID, "key-1")
	assert.NoError(t, err)
}

func TestDocumentService_FinalizeRejectsKeyOfAnotherDocument(t *testing.T) {
	f := newDocumentFixture(t, percentRule(1, 5, "0.10", "[42]"))
	first, err := f.svc.Create(tenantCtx(), draft(nil))
	require.NoError(t, err)
	second, err := f.svc.Create(tenantCtx(), draft(nil))
	require.NoError(t, err)

	_, err = f.svc.Finalize(tenantCtx(), 10, first.ID, "key-1")
	require.NoError(t, err)

	_, err = f.svc.Finalize(tenantCtx(), 10, second.ID, "key-1")
	assert.ErrorIs(t, err, ErrIdempotentKeyReused)

	got, err := f.svc.Get(tenantCtx(), 10, second.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentDraft, got.Status)

	// The key still belongs to the first document.
	replayed, err := f.svc.Finalize(tenantCtx(), 10, first.ID, "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, replayed.ID)
	assert.Equal(t, 1, f.usageCount(t, 1))
}
