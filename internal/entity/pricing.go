package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is one invoice/quote line submitted for pricing.
type LineItem struct {
	ProductID    int64           `json:"product_id" yaml:"product_id" validate:"required"`
	SKU          string          `json:"sku" yaml:"sku"`
	CategoryID   *int64          `json:"category_id" yaml:"category_id"`
	CategoryName string          `json:"category_name" yaml:"category_name"`
	Tags         []string        `json:"tags" yaml:"tags"`
	Quantity     int             `json:"quantity" yaml:"quantity" validate:"gte=0"`
	UnitPrice    decimal.Decimal `json:"unit_price" yaml:"unit_price" validate:"gte=0"`
}

// ClientContext describes the buyer; a nil ClientID is an anonymous (walk-in) client.
type ClientContext struct {
	ClientID   *int64   `json:"client_id" yaml:"client_id"`
	ClientType string   `json:"client_type" yaml:"client_type"`
	Tags       []string `json:"tags" yaml:"tags"`
}

type AdjustedLineItem struct {
	LineItem
	BasePrice         decimal.Decimal `json:"base_price"`
	AdjustedUnitPrice decimal.Decimal `json:"adjusted_unit_price"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"` // Whole line, not per unit
	LineTotal         decimal.Decimal `json:"line_total"`
	AppliedRuleID     *int64          `json:"applied_rule_id"`
	AppliedRuleCode   string          `json:"applied_rule_code,omitempty"`
}

type SkippedRule struct {
	RuleID   int64  `json:"rule_id"`
	RuleCode string `json:"rule_code"`
	Reason   string `json:"reason"`
}

// EvaluationResult is the outcome of pricing a cart against a store's rules.
type EvaluationResult struct {
	EvaluationID   string             `json:"evaluation_id"`
	StoreID        int64              `json:"store_id"`
	AsOf           time.Time          `json:"as_of"`
	Items          []AdjustedLineItem `json:"items"`
	AppliedRuleIDs []int64            `json:"applied_rule_ids"`
	SkippedRules   []SkippedRule      `json:"skipped_rules,omitempty"`
	Subtotal       decimal.Decimal    `json:"subtotal"`
	DiscountTotal  decimal.Decimal    `json:"discount_total"`
	Total          decimal.Decimal    `json:"total"`
}
