package repository

import (
	"context"
	"database/sql"
	"fmt"
	"pricing-service/internal/entity"
	"pricing-service/internal/pricing"
	"sync"
	"time"
)

// MemoryRuleStore keeps rules and usage counters in process. It has the same
// claim semantics as RuleRepository; the tx argument is ignored.
type MemoryRuleStore struct {
	mu            sync.Mutex
	nextID        int64
	rules         map[int64]entity.PricingRule
	customerUsage map[int64]map[int64]int
}

// NewMemoryRuleStore seeds a store with rules; rules without an id get one.
func NewMemoryRuleStore(rules ...entity.PricingRule) *MemoryRuleStore {
	s := &MemoryRuleStore{
		rules:         make(map[int64]entity.PricingRule),
		customerUsage: make(map[int64]map[int64]int),
	}
	for _, rule := range rules {
		if rule.ID == 0 {
			s.nextID++
			rule.ID = s.nextID
		} else if rule.ID > s.nextID {
			s.nextID = rule.ID
		}
		s.rules[rule.ID] = cloneRule(rule)
	}
	return s
}

func (s *MemoryRuleStore) FetchActiveRules(ctx context.Context, storeID int64) ([]entity.PricingRule, error) {
	return s.ListRules(ctx, storeID, false)
}

func (s *MemoryRuleStore) ListRules(ctx context.Context, storeID int64, includeInactive bool) ([]entity.PricingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rules []entity.PricingRule
	for _, rule := range s.rules {
		if rule.StoreID != storeID || (!includeInactive && !rule.IsActive) {
			continue
		}
		rules = append(rules, cloneRule(rule))
	}
	return pricing.SortRules(rules), nil
}

func (s *MemoryRuleStore) GetRule(ctx context.Context, storeID, id int64) (*entity.PricingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok || rule.StoreID != storeID {
		return nil, fmt.Errorf("%w: %d", ErrRuleNotFound, id)
	}
	rule = cloneRule(rule)
	return &rule, nil
}

func (s *MemoryRuleStore) CreateRule(ctx context.Context, rule *entity.PricingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := time.Now().UTC()
	rule.ID = s.nextID
	rule.UsageCount = 0
	rule.CreatedAt, rule.UpdatedAt = now, now
	s.rules[rule.ID] = cloneRule(*rule)
	return nil
}

func (s *MemoryRuleStore) UpdateRule(ctx context.Context, rule *entity.PricingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.rules[rule.ID]
	if !ok || current.StoreID != rule.StoreID {
		return fmt.Errorf("%w: %d", ErrRuleNotFound, rule.ID)
	}
	rule.UsageCount = current.UsageCount
	rule.CreatedAt = current.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	s.rules[rule.ID] = cloneRule(*rule)
	return nil
}

func (s *MemoryRuleStore) DeactivateRule(ctx context.Context, storeID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok || rule.StoreID != storeID {
		return fmt.Errorf("%w: %d", ErrRuleNotFound, id)
	}
	rule.IsActive = false
	rule.UpdatedAt = time.Now().UTC()
	s.rules[id] = rule
	return nil
}

func (s *MemoryRuleStore) CustomerUsage(ctx context.Context, clientID int64, ruleIDs []int64) (map[int64]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage := make(map[int64]int, len(ruleIDs))
	for _, id := range ruleIDs {
		if n := s.customerUsage[id][clientID]; n > 0 {
			usage[id] = n
		}
	}
	return usage, nil
}

// ClaimUsage checks both limits and increments both counters under one lock.
func (s *MemoryRuleStore) ClaimUsage(ctx context.Context, tx *sql.Tx, claim UsageClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[claim.RuleID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrRuleNotFound, claim.RuleID)
	}
	if !rule.HasCapacity() {
		return fmt.Errorf("%w: rule %d", ErrUsageLimitReached, claim.RuleID)
	}

	if claim.ClientID != nil {
		used := s.customerUsage[claim.RuleID][*claim.ClientID]
		if claim.PerCustomerLimit != nil && used >= *claim.PerCustomerLimit {
			return fmt.Errorf("%w: rule %d for client %d", ErrUsageLimitReached, claim.RuleID, *claim.ClientID)
		}
		if s.customerUsage[claim.RuleID] == nil {
			s.customerUsage[claim.RuleID] = make(map[int64]int)
		}
		s.customerUsage[claim.RuleID][*claim.ClientID] = used + 1
	}

	rule.UsageCount++
	s.rules[claim.RuleID] = rule
	return nil
}

func cloneRule(rule entity.PricingRule) entity.PricingRule {
	rule.Conditions = append([]entity.RuleCondition(nil), rule.Conditions...)
	rule.Targets = append([]entity.RuleTarget(nil), rule.Targets...)
	rule.Tiers = append([]entity.QuantityTier(nil), rule.Tiers...)
	return rule
}

// MemoryDocumentStore keeps documents in process. Transactions are no-ops.
type MemoryDocumentStore struct {
	mu     sync.Mutex
	nextID int64
	docs   map[int64]entity.Document
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[int64]entity.Document)}
}

func (s *MemoryDocumentStore) BeginTx(ctx context.Context) (*sql.Tx, error) { return nil, nil }

func (s *MemoryDocumentStore) CommitTx(ctx context.Context, tx *sql.Tx) error { return nil }

func (s *MemoryDocumentStore) Rollback(ctx context.Context, tx *sql.Tx) error { return nil }

func (s *MemoryDocumentStore) Save(ctx context.Context, doc *entity.Document, tx *sql.Tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := time.Now().UTC()
	doc.ID = s.nextID
	doc.CreatedAt, doc.UpdatedAt = now, now
	s.docs[doc.ID] = cloneDocument(*doc)
	return nil
}

func (s *MemoryDocumentStore) Update(ctx context.Context, doc *entity.Document, tx *sql.Tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.ID]; !ok {
		return fmt.Errorf("%w: %d", ErrDocumentNotFound, doc.ID)
	}
	doc.UpdatedAt = time.Now().UTC()
	s.docs[doc.ID] = cloneDocument(*doc)
	return nil
}

func (s *MemoryDocumentStore) FindByID(ctx context.Context, storeID, id int64, tx *sql.Tx) (*entity.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok || doc.StoreID != storeID {
		return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}
	doc = cloneDocument(doc)
	return &doc, nil
}

func (s *MemoryDocumentStore) FindByIDForUpdate(ctx context.Context, storeID, id int64, tx *sql.Tx) (*entity.Document, error) {
	return s.FindByID(ctx, storeID, id, tx)
}

func cloneDocument(doc entity.Document) entity.Document {
	doc.Lines = append([]entity.AdjustedLineItem(nil), doc.Lines...)
	doc.AppliedRuleIDs = append([]int64(nil), doc.AppliedRuleIDs...)
	return doc
}
