package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"pricing-service/internal/entity"
	"pricing-service/internal/repository"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "service").Logger()

var (
	ErrRulesUnavailable    = errors.New("pricing rules unavailable")
	ErrInvalidRule         = errors.New("invalid pricing rule")
	ErrInvalidDocument     = errors.New("invalid document")
	ErrDocumentNotDraft    = errors.New("document is not a draft")
	ErrDuplicateRequest    = errors.New("idempotent key already exists")
	ErrIdempotentKeyReused = errors.New("idempotent key belongs to another document")
)

// RuleSource yields the active rules of a store.
type RuleSource interface {
	FetchActiveRules(ctx context.Context, storeID int64) ([]entity.PricingRule, error)
}

// UsageStore reads and claims rule usage.
type UsageStore interface {
	CustomerUsage(ctx context.Context, clientID int64, ruleIDs []int64) (map[int64]int, error)
	ClaimUsage(ctx context.Context, tx *sql.Tx, claim repository.UsageClaim) error
}

// RuleStore is the administrative side of the rule store.
type RuleStore interface {
	GetRule(ctx context.Context, storeID, id int64) (*entity.PricingRule, error)
	ListRules(ctx context.Context, storeID int64, includeInactive bool) ([]entity.PricingRule, error)
	CreateRule(ctx context.Context, rule *entity.PricingRule) error
	UpdateRule(ctx context.Context, rule *entity.PricingRule) error
	DeactivateRule(ctx context.Context, storeID, id int64) error
}

type RuleCache interface {
	Invalidate(ctx context.Context, tenantKey string, storeID int64) error
}

type DocumentStore interface {
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(ctx context.Context, tx *sql.Tx) error
	Rollback(ctx context.Context, tx *sql.Tx) error
	Save(ctx context.Context, doc *entity.Document, tx *sql.Tx) error
	Update(ctx context.Context, doc *entity.Document, tx *sql.Tx) error
	FindByID(ctx context.Context, storeID, id int64, tx *sql.Tx) (*entity.Document, error)
	FindByIDForUpdate(ctx context.Context, storeID, id int64, tx *sql.Tx) (*entity.Document, error)
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}
