package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type RuleType string

const (
	RuleTypePercentageDiscount  RuleType = "percentage_discount"
	RuleTypeFixedAmountDiscount RuleType = "fixed_amount_discount"
	RuleTypeFixedPrice          RuleType = "fixed_price"
	RuleTypeBuyXGetY            RuleType = "buy_x_get_y"
	RuleTypeQuantityDiscount    RuleType = "quantity_discount"
)

// Valid reports whether t is one of the supported rule types.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypePercentageDiscount, RuleTypeFixedAmountDiscount, RuleTypeFixedPrice, RuleTypeBuyXGetY, RuleTypeQuantityDiscount:
		return true
	}
	return false
}

// PricingRule is a conditional pricing/discount policy owned by a store.
type PricingRule struct {
	ID                    int64               `json:"id"`
	StoreID               int64               `json:"store_id"`
	Name                  string              `json:"name"`
	RuleCode              string              `json:"rule_code"`
	RuleType              RuleType            `json:"rule_type"`
	Description           string              `json:"description"`
	// Higher is evaluated first.
	Priority              int                 `json:"priority"`
	// Fraction, 0.10 = 10%.
	DiscountPercentage    decimal.NullDecimal `json:"discount_percentage"`
	DiscountAmount        decimal.NullDecimal `json:"discount_amount"`
	FixedPrice            decimal.NullDecimal `json:"fixed_price"`
	BuyQuantity           *int                `json:"buy_quantity"`
	GetQuantity           *int                `json:"get_quantity"`
	GetDiscountPercentage decimal.NullDecimal `json:"get_discount_percentage"` // Absent means the "get" units are free
	IsActive              bool                `json:"is_active"`
	StartDate             *time.Time          `json:"start_date"`
	EndDate               *time.Time          `json:"end_date"`
	UsageLimit            *int                `json:"usage_limit"`
	UsageLimitPerCustomer *int                `json:"usage_limit_per_customer"`
	UsageCount            int                 `json:"usage_count"`
	Conditions            []RuleCondition     `json:"conditions"`
	Targets               []RuleTarget        `json:"targets"`
	Tiers                 []QuantityTier      `json:"tiers"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

// HasCapacity reports whether the global usage cap still allows an application.
func (r PricingRule) HasCapacity() bool {
	return r.UsageLimit == nil || r.UsageCount < *r.UsageLimit
}

type ConditionOperator string

const (
	OperatorEquals             ConditionOperator = "equals"
	OperatorNotEquals          ConditionOperator = "not_equals"
	OperatorGreaterThan        ConditionOperator = "greater_than"
	OperatorGreaterThanOrEqual ConditionOperator = "greater_than_or_equal"
	OperatorLessThan           ConditionOperator = "less_than"
	OperatorLessThanOrEqual    ConditionOperator = "less_than_or_equal"
	OperatorInRange            ConditionOperator = "in_range"
	OperatorIn                 ConditionOperator = "in"
	OperatorNotIn              ConditionOperator = "not_in"
)

func (o ConditionOperator) Valid() bool {
	switch o {
	case OperatorEquals, OperatorNotEquals, OperatorGreaterThan, OperatorGreaterThanOrEqual, OperatorLessThan,
		OperatorLessThanOrEqual, OperatorInRange, OperatorIn, OperatorNotIn:
		return true
	}
	return false
}

type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

type ConditionType string

const (
	ConditionQuantity        ConditionType = "quantity"
	ConditionUnitPrice       ConditionType = "unit_price"
	ConditionLineTotal       ConditionType = "line_total"
	ConditionCartTotal       ConditionType = "cart_total"
	ConditionCartQuantity    ConditionType = "cart_quantity"
	ConditionProductID       ConditionType = "product_id"
	ConditionProductSKU      ConditionType = "product_sku"
	ConditionProductCategory ConditionType = "product_category"
	ConditionProductTag      ConditionType = "product_tag"
	ConditionClientID        ConditionType = "client_id"
	ConditionClientType      ConditionType = "client_type"
	ConditionClientTag       ConditionType = "client_tag"
	ConditionDate            ConditionType = "date"
	ConditionDayOfWeek       ConditionType = "day_of_week"
	ConditionCustom          ConditionType = "custom"
)

func (t ConditionType) Valid() bool {
	switch t {
	case ConditionQuantity, ConditionUnitPrice, ConditionLineTotal, ConditionCartTotal, ConditionCartQuantity,
		ConditionProductID, ConditionProductSKU, ConditionProductCategory, ConditionProductTag, ConditionClientID,
		ConditionClientType, ConditionClientTag, ConditionDate, ConditionDayOfWeek, ConditionCustom:
		return true
	}
	return false
}

// RuleCondition is one predicate of a rule. Which value field is read depends on Operator.
type RuleCondition struct {
	ID              int64               `json:"id"`
	RuleID          int64               `json:"rule_id"`
	ConditionType   ConditionType       `json:"condition_type"`
	Operator        ConditionOperator   `json:"operator"`
	ValueText       *string             `json:"value_text"`
	ValueNumber     decimal.NullDecimal `json:"value_number"`
	ValueArray      *string             `json:"value_array"` // JSON array
	ValueStart      *string             `json:"value_start"`
	ValueEnd        *string             `json:"value_end"`
	LogicalOperator LogicalOperator     `json:"logical_operator"`
	ConditionGroup  int                 `json:"condition_group"`
	SortOrder       int                 `json:"sort_order"`
}

type TargetType string

const (
	TargetProduct  TargetType = "product"
	TargetCategory TargetType = "category"
	TargetClient   TargetType = "client"
	TargetTag      TargetType = "tag"
)

func (t TargetType) Valid() bool {
	switch t {
	case TargetProduct, TargetCategory, TargetClient, TargetTag:
		return true
	}
	return false
}

type RuleTarget struct {
	ID         int64      `json:"id"`
	RuleID     int64      `json:"rule_id"`
	TargetType TargetType `json:"target_type"`
	TargetIDs  *string    `json:"target_ids"`  // JSON array of ids
	TargetTags *string    `json:"target_tags"` // JSON array of names
}

// QuantityTier carries exactly one pricing outcome for quantities in [MinQuantity, MaxQuantity].
type QuantityTier struct {
	ID                     int64               `json:"id"`
	RuleID                 int64               `json:"rule_id"`
	MinQuantity            int                 `json:"min_quantity"`
	MaxQuantity            *int                `json:"max_quantity"` // nil is unbounded
	TierPrice              decimal.NullDecimal `json:"tier_price"`
	TierDiscountPercentage decimal.NullDecimal `json:"tier_discount_percentage"`
	TierDiscountAmount     decimal.NullDecimal `json:"tier_discount_amount"`
}

// Contains reports whether quantity falls inside the tier bounds.
func (t QuantityTier) Contains(quantity int) bool {
	if quantity < t.MinQuantity {
		return false
	}
	return t.MaxQuantity == nil || quantity <= *t.MaxQuantity
}
