package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"pricing-service/internal/entity"
	"pricing-service/internal/pricing"
	"pricing-service/internal/repository"
	"pricing-service/internal/tenant"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	idempotencyTTL   = 24 * time.Hour
	finalizeAttempts = 3
)

// DocumentService drives invoices and quotes from draft to finalized. Drafts are
// priced but consume no rule usage; finalization claims usage for every applied rule.
type DocumentService struct {
	docs    DocumentStore
	pricing *PricingService
	usage   UsageStore
	cache   RuleCache
	writer  MessageWriter
	rdb     *redis.Client
}

// NewDocumentService creates a new instance of DocumentService. cache, writer and rdb may be nil.
func NewDocumentService(docs DocumentStore, pricingService *PricingService, usage UsageStore, cache RuleCache, writer MessageWriter, rdb *redis.Client) *DocumentService {
	return &DocumentService{
		docs:    docs,
		pricing: pricingService,
		usage:   usage,
		cache:   cache,
		writer:  writer,
		rdb:     rdb,
	}
}

// Create prices the lines of a new draft and stores it.
func (s *DocumentService) Create(ctx context.Context, doc *entity.Document) (*entity.Document, error) {
	if doc.Kind != entity.DocumentInvoice && doc.Kind != entity.DocumentQuote {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidDocument, doc.Kind)
	}
	if len(doc.Lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInvalidDocument)
	}

	result, err := s.pricing.Evaluate(ctx, doc.StoreID, doc.LineItems(), doc.Client, time.Time{})
	if err != nil {
		return nil, err
	}
	doc.ID = 0
	doc.Status = entity.DocumentDraft
	doc.FinalizedAt = nil
	doc.ApplyEvaluation(result)

	if err := s.docs.Save(ctx, doc, nil); err != nil {
		logger.Error().Err(err).Msg("Error saving document")
		return nil, err
	}
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, storeID, id int64) (*entity.Document, error) {
	return s.docs.FindByID(ctx, storeID, id, nil)
}

// Update replaces the lines and client of a draft and prices it again.
func (s *DocumentService) Update(ctx context.Context, storeID, id int64, items []entity.LineItem, client entity.ClientContext) (*entity.Document, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInvalidDocument)
	}

	tx, err := s.docs.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer s.docs.Rollback(ctx, tx)

	doc, err := s.docs.FindByIDForUpdate(ctx, storeID, id, tx)
	if err != nil {
		return nil, err
	}
	if doc.Status != entity.DocumentDraft {
		return nil, fmt.Errorf("%w: document %d is %s", ErrDocumentNotDraft, id, doc.Status)
	}

	result, err := s.pricing.Evaluate(ctx, storeID, items, client, time.Time{})
	if err != nil {
		return nil, err
	}
	doc.Client = client
	doc.ApplyEvaluation(result)

	if err := s.docs.Update(ctx, doc, tx); err != nil {
		logger.Error().Err(err).Msgf("Error updating document %d", id)
		return nil, err
	}
	if err := s.docs.CommitTx(ctx, tx); err != nil {
		return nil, err
	}
	return doc, nil
}

// Finalize prices a draft one last time and claims usage for every rule it
// applies. A rule whose claim is lost to a concurrent finalization is excluded
// and the document is priced again, so a usage limit is never exceeded.
// A repeated idempotentKey returns the finalized document without claiming again.
func (s *DocumentService) Finalize(ctx context.Context, storeID, id int64, idempotentKey string) (doc *entity.Document, err error) {
	tenantKey, _ := tenant.FromContext(ctx)

	// Step 1: Reserve the idempotent key
	if idempotentKey != "" && s.rdb != nil {
		redisKey := fmt.Sprintf("idempotent-key:%s:%s", tenantKey, idempotentKey)
		reserved, setErr := s.rdb.SetNX(ctx, redisKey, id, idempotencyTTL).Result()
		if setErr != nil {
			return nil, setErr
		}
		if !reserved {
			return s.replay(ctx, redisKey, storeID, id)
		}
		defer func() {
			// Release the key so the client can retry a failed finalization
			if err == nil {
				return
			}
			if delErr := s.rdb.Del(ctx, redisKey).Err(); delErr != nil {
				logger.Error().Err(delErr).Msgf("Error releasing idempotent key %s", idempotentKey)
			}
		}()
	}

	// Step 2: Price and claim in one transaction, again from the start when it loses a lock conflict
	var claimed bool
	for attempt := 1; ; attempt++ {
		doc, claimed, err = s.finalize(ctx, storeID, id)
		if err == nil || attempt == finalizeAttempts || !repository.IsRetryable(err) {
			break
		}
		logger.Warn().Err(err).Msgf("Retrying finalization of document %d (attempt %d)", id, attempt)
	}
	if err != nil {
		return nil, err
	}

	// Step 3: Cached rules carry usage counts; drop them when a capped rule was used
	if s.cache != nil && claimed {
		if cacheErr := s.cache.Invalidate(ctx, tenantKey, storeID); cacheErr != nil {
			logger.Error().Err(cacheErr).Msgf("Error invalidating rule cache of store %d", storeID)
		}
	}

	// Step 4: Announce after commit
	s.publish(ctx, tenantKey, DocumentFinalized, doc)
	return doc, nil
}

// replay answers a repeated finalization request. The key must have been
// reserved for the same document.
func (s *DocumentService) replay(ctx context.Context, redisKey string, storeID, id int64) (*entity.Document, error) {
	owner, err := s.rdb.Get(ctx, redisKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Released by a failed attempt in the meantime
			return nil, ErrDuplicateRequest
		}
		return nil, err
	}
	if owner != id {
		return nil, fmt.Errorf("%w: reserved for document %d", ErrIdempotentKeyReused, owner)
	}

	doc, err := s.docs.FindByID(ctx, storeID, id, nil)
	if err != nil {
		return nil, err
	}
	if doc.Status != entity.DocumentFinalized {
		return nil, ErrDuplicateRequest
	}
	return doc, nil
}

// finalize reports whether a rule with a global usage limit was claimed.
func (s *DocumentService) finalize(ctx context.Context, storeID, id int64) (*entity.Document, bool, error) {
	tx, err := s.docs.BeginTx(ctx)
	if err != nil {
		return nil, false, err
	}
	defer s.docs.Rollback(ctx, tx)

	doc, err := s.docs.FindByIDForUpdate(ctx, storeID, id, tx)
	if err != nil {
		return nil, false, err
	}
	if doc.Status != entity.DocumentDraft {
		return nil, false, fmt.Errorf("%w: document %d is %s", ErrDocumentNotDraft, id, doc.Status)
	}

	now := s.pricing.now()
	result, capped, err := s.claimLoop(ctx, tx, doc, now)
	if err != nil {
		return nil, false, err
	}

	doc.ApplyEvaluation(result)
	doc.Status = entity.DocumentFinalized
	finalizedAt := now.UTC()
	doc.FinalizedAt = &finalizedAt

	if err := s.docs.Update(ctx, doc, tx); err != nil {
		logger.Error().Err(err).Msgf("Error finalizing document %d", id)
		return nil, false, err
	}
	if err := s.docs.CommitTx(ctx, tx); err != nil {
		return nil, false, err
	}
	return doc, capped, nil
}

// claimLoop evaluates the document and claims one usage per applied rule until
// every applied rule holds a claim. Claims already won are kept across rounds.
func (s *DocumentService) claimLoop(ctx context.Context, tx *sql.Tx, doc *entity.Document, asOf time.Time) (entity.EvaluationResult, bool, error) {
	prepared, err := s.pricing.prepare(ctx, doc.StoreID, doc.Client, asOf)
	if err != nil {
		return entity.EvaluationResult{}, false, err
	}

	items := doc.LineItems()
	excluded := map[int64]bool{}
	claimed := map[int64]bool{}
	capped := false
	for {
		result := prepared.engine.Evaluate(pricing.Request{
			StoreID:       doc.StoreID,
			Items:         items,
			Client:        doc.Client,
			CustomerUsage: prepared.usage,
			Excluded:      excluded,
		})

		// Claim in rule id order so that concurrent finalizations lock rule rows in the same order
		var pending []int64
		for _, ruleID := range result.AppliedRuleIDs {
			if !claimed[ruleID] {
				pending = append(pending, ruleID)
			}
		}
		sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

		lost := false
		for _, ruleID := range pending {
			rule := prepared.rules[ruleID]
			err := s.usage.ClaimUsage(ctx, tx, repository.UsageClaim{
				RuleID:           ruleID,
				ClientID:         doc.Client.ClientID,
				PerCustomerLimit: rule.UsageLimitPerCustomer,
			})
			if errors.Is(err, repository.ErrUsageLimitReached) {
				logger.Warn().Msgf("Usage claim for rule %d lost while finalizing document %d", ruleID, doc.ID)
				excluded[ruleID] = true
				lost = true
				break
			}
			if err != nil {
				return entity.EvaluationResult{}, false, err
			}
			claimed[ruleID] = true
			capped = capped || rule.UsageLimit != nil
		}

		if !lost {
			result.EvaluationID = uuid.NewString()
			logSkipped(result)
			return result, capped, nil
		}
	}
}

// Cancel moves a draft to cancelled.
func (s *DocumentService) Cancel(ctx context.Context, storeID, id int64) (*entity.Document, error) {
	tx, err := s.docs.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer s.docs.Rollback(ctx, tx)

	doc, err := s.docs.FindByIDForUpdate(ctx, storeID, id, tx)
	if err != nil {
		return nil, err
	}
	if doc.Status != entity.DocumentDraft {
		return nil, fmt.Errorf("%w: document %d is %s", ErrDocumentNotDraft, id, doc.Status)
	}

	doc.Status = entity.DocumentCancelled
	if err := s.docs.Update(ctx, doc, tx); err != nil {
		logger.Error().Err(err).Msgf("Error cancelling document %d", id)
		return nil, err
	}
	if err := s.docs.CommitTx(ctx, tx); err != nil {
		return nil, err
	}

	tenantKey, _ := tenant.FromContext(ctx)
	s.publish(ctx, tenantKey, DocumentCancelled, doc)
	return doc, nil
}

func (s *DocumentService) publish(ctx context.Context, tenantKey, eventType string, doc *entity.Document) {
	if s.writer == nil {
		return
	}
	if err := publishDocumentEvent(ctx, s.writer, tenantKey, eventType, doc); err != nil {
		logger.Error().Err(err).Msgf("Error publishing %s event for document %d", eventType, doc.ID)
	}
}
