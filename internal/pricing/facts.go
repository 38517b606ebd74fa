package pricing

import (
	"encoding/json"
	"pricing-service/internal/entity"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CartTotals aggregates the whole cart so that line-level conditions can test it.
type CartTotals struct {
	Total    decimal.Decimal
	Quantity int
}

// NewCartTotals sums base line totals and quantities over items.
func NewCartTotals(items []entity.LineItem) CartTotals {
	var totals CartTotals
	for _, item := range items {
		totals.Total = totals.Total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		totals.Quantity += item.Quantity
	}
	return totals
}

type productFacts struct {
	ID         string   `json:"id"`
	SKU        string   `json:"sku"`
	Category   string   `json:"category"`
	CategoryID string   `json:"category_id"`
	Tags       []string `json:"tags"`
}

type clientFacts struct {
	ID   string   `json:"id"`
	Type string   `json:"type"`
	Tags []string `json:"tags"`
}

// Facts is the data document conditions are evaluated against.
type Facts struct {
	Quantity     int          `json:"quantity"`
	UnitPrice    float64      `json:"unit_price"`
	LineTotal    float64      `json:"line_total"`
	CartTotal    float64      `json:"cart_total"`
	CartQuantity int          `json:"cart_quantity"`
	Product      productFacts `json:"product"`
	Client       clientFacts  `json:"client"`
	Date         int          `json:"date"`
	DayOfWeek    int          `json:"day_of_week"`
}

// NewFacts builds the facts of one line item. Ids are rendered in canonical string form,
// unknown ids as the empty string.
func NewFacts(item entity.LineItem, client entity.ClientContext, cart CartTotals, asOf time.Time) Facts {
	f := Facts{
		Quantity:     item.Quantity,
		UnitPrice:    item.UnitPrice.InexactFloat64(),
		LineTotal:    item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).InexactFloat64(),
		CartTotal:    cart.Total.InexactFloat64(),
		CartQuantity: cart.Quantity,
		Product: productFacts{
			ID:       strconv.FormatInt(item.ProductID, 10),
			SKU:      item.SKU,
			Category: item.CategoryName,
			Tags:     nonNil(item.Tags),
		},
		Client: clientFacts{
			Type: client.ClientType,
			Tags: nonNil(client.Tags),
		},
		Date:      dateKey(asOf),
		DayOfWeek: int(asOf.Weekday()),
	}
	if item.CategoryID != nil {
		f.Product.CategoryID = strconv.FormatInt(*item.CategoryID, 10)
	}
	if client.ClientID != nil {
		f.Client.ID = strconv.FormatInt(*client.ClientID, 10)
	}
	return f
}

// Document renders the facts as the JSON data handed to the JsonLogic evaluator.
func (f Facts) Document() ([]byte, error) {
	return json.Marshal(f)
}

// dateKey turns a calendar day into a YYYYMMDD integer.
func dateKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// canonicalID normalizes numeric ids so that 42, "42" and "42.0" compare equal.
func canonicalID(s string) string {
	s = strings.TrimSpace(s)
	if d, err := decimal.NewFromString(s); err == nil {
		return d.String()
	}
	return s
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
