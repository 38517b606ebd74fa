package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type DocumentKind string

const (
	DocumentInvoice DocumentKind = "invoice"
	DocumentQuote   DocumentKind = "quote"
)

type DocumentStatus string

const (
	DocumentDraft     DocumentStatus = "draft"
	DocumentFinalized DocumentStatus = "finalized"
	DocumentCancelled DocumentStatus = "cancelled"
)

// Document is an invoice or a quote whose lines are priced by the engine.
type Document struct {
	ID             int64              `json:"id"`
	StoreID        int64              `json:"store_id"`
	Kind           DocumentKind       `json:"kind"`
	Status         DocumentStatus     `json:"status"`
	Client         ClientContext      `json:"client"`
	Lines          []AdjustedLineItem `json:"lines"`
	Subtotal       decimal.Decimal    `json:"subtotal"`
	DiscountTotal  decimal.Decimal    `json:"discount_total"`
	Total          decimal.Decimal    `json:"total"`
	AppliedRuleIDs []int64            `json:"applied_rule_ids"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	FinalizedAt    *time.Time         `json:"finalized_at"`
}

// ApplyEvaluation copies priced lines and totals onto the document.
func (d *Document) ApplyEvaluation(res EvaluationResult) {
	d.Lines = res.Items
	d.Subtotal = res.Subtotal
	d.DiscountTotal = res.DiscountTotal
	d.Total = res.Total
	d.AppliedRuleIDs = res.AppliedRuleIDs
}

// LineItems returns the unpriced input lines of the document.
func (d *Document) LineItems() []LineItem {
	items := make([]LineItem, len(d.Lines))
	for i, l := range d.Lines {
		items[i] = l.LineItem
	}
	return items
}
