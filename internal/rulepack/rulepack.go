// Package rulepack reads pricing rules written by hand in YAML, for the CLI
// and for seeding a store.
package rulepack

import (
	"encoding/json"
	"fmt"
	"os"
	"pricing-service/internal/entity"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Pack is the YAML document: one store and its rules.
type Pack struct {
	StoreID int64  `yaml:"store_id"`
	Rules   []Rule `yaml:"rules"`
}

type Rule struct {
	ID                    int64            `yaml:"id"`
	Name                  string           `yaml:"name"`
	Code                  string           `yaml:"code"`
	Type                  entity.RuleType  `yaml:"type"`
	Description           string           `yaml:"description"`
	Priority              int              `yaml:"priority"`
	DiscountPercentage    *decimal.Decimal `yaml:"discount_percentage"`
	DiscountAmount        *decimal.Decimal `yaml:"discount_amount"`
	FixedPrice            *decimal.Decimal `yaml:"fixed_price"`
	BuyQuantity           *int             `yaml:"buy_quantity"`
	GetQuantity           *int             `yaml:"get_quantity"`
	GetDiscountPercentage *decimal.Decimal `yaml:"get_discount_percentage"`
	Active                *bool            `yaml:"active"` // Defaults to true
	StartDate             *time.Time       `yaml:"start_date"`
	EndDate               *time.Time       `yaml:"end_date"`
	UsageLimit            *int             `yaml:"usage_limit"`
	UsageLimitPerCustomer *int             `yaml:"usage_limit_per_customer"`
	UsageCount            int              `yaml:"usage_count"`
	Conditions            []Condition      `yaml:"conditions"`
	Targets               []Target         `yaml:"targets"`
	Tiers                 []Tier           `yaml:"tiers"`
}

// Condition takes its operand from value, values, start/end or expression,
// whichever the operator reads.
type Condition struct {
	Type       entity.ConditionType     `yaml:"type"`
	Operator   entity.ConditionOperator `yaml:"operator"`
	Value      yaml.Node                `yaml:"value"`
	Values     []yaml.Node              `yaml:"values"`
	Start      string                   `yaml:"start"`
	End        string                   `yaml:"end"`
	Expression yaml.Node                `yaml:"expression"`
	Logical    entity.LogicalOperator   `yaml:"logical"`
	Group      int                      `yaml:"group"`
	Order      int                      `yaml:"order"`
}

type Target struct {
	Type entity.TargetType `yaml:"type"`
	IDs  []yaml.Node       `yaml:"ids"`
	Tags []string          `yaml:"tags"`
}

type Tier struct {
	Min                int              `yaml:"min"`
	Max                *int             `yaml:"max"`
	Price              *decimal.Decimal `yaml:"price"`
	DiscountPercentage *decimal.Decimal `yaml:"discount_percentage"`
	DiscountAmount     *decimal.Decimal `yaml:"discount_amount"`
}

// LoadFile reads and converts the rule pack at path.
func LoadFile(path string) (int64, []entity.PricingRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read rule pack %s: %w", path, err)
	}
	return Parse(data)
}

// Parse converts a YAML rule pack into rules of its store. Rules without an id
// are numbered after the highest explicit id.
func Parse(data []byte) (int64, []entity.PricingRule, error) {
	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return 0, nil, fmt.Errorf("failed to parse rule pack: %w", err)
	}

	var nextID int64
	for _, r := range pack.Rules {
		if r.ID > nextID {
			nextID = r.ID
		}
	}

	rules := make([]entity.PricingRule, 0, len(pack.Rules))
	for i, r := range pack.Rules {
		rule, err := r.toEntity(pack.StoreID)
		if err != nil {
			return 0, nil, fmt.Errorf("rule %d (%s): %w", i, r.Code, err)
		}
		if rule.ID == 0 {
			nextID++
			rule.ID = nextID
		}
		rules = append(rules, rule)
	}
	return pack.StoreID, rules, nil
}

func (r Rule) toEntity(storeID int64) (entity.PricingRule, error) {
	rule := entity.PricingRule{
		ID:                    r.ID,
		StoreID:               storeID,
		Name:                  r.Name,
		RuleCode:              r.Code,
		RuleType:              r.Type,
		Description:           r.Description,
		Priority:              r.Priority,
		DiscountPercentage:    nullDecimal(r.DiscountPercentage),
		DiscountAmount:        nullDecimal(r.DiscountAmount),
		FixedPrice:            nullDecimal(r.FixedPrice),
		BuyQuantity:           r.BuyQuantity,
		GetQuantity:           r.GetQuantity,
		GetDiscountPercentage: nullDecimal(r.GetDiscountPercentage),
		IsActive:              r.Active == nil || *r.Active,
		StartDate:             r.StartDate,
		EndDate:               r.EndDate,
		UsageLimit:            r.UsageLimit,
		UsageLimitPerCustomer: r.UsageLimitPerCustomer,
		UsageCount:            r.UsageCount,
	}
	if rule.Name == "" {
		rule.Name = r.Code
	}

	for i, c := range r.Conditions {
		cond, err := c.toEntity()
		if err != nil {
			return rule, fmt.Errorf("condition %d: %w", i, err)
		}
		cond.ID = int64(i + 1)
		cond.RuleID = rule.ID
		rule.Conditions = append(rule.Conditions, cond)
	}
	for i, t := range r.Targets {
		target := entity.RuleTarget{ID: int64(i + 1), RuleID: rule.ID, TargetType: t.Type}
		if len(t.IDs) > 0 {
			ids, err := jsonArray(t.IDs)
			if err != nil {
				return rule, fmt.Errorf("target %d: %w", i, err)
			}
			target.TargetIDs = &ids
		}
		if len(t.Tags) > 0 {
			tags, err := json.Marshal(t.Tags)
			if err != nil {
				return rule, err
			}
			text := string(tags)
			target.TargetTags = &text
		}
		rule.Targets = append(rule.Targets, target)
	}
	for i, t := range r.Tiers {
		rule.Tiers = append(rule.Tiers, entity.QuantityTier{
			ID:                     int64(i + 1),
			RuleID:                 rule.ID,
			MinQuantity:            t.Min,
			MaxQuantity:            t.Max,
			TierPrice:              nullDecimal(t.Price),
			TierDiscountPercentage: nullDecimal(t.DiscountPercentage),
			TierDiscountAmount:     nullDecimal(t.DiscountAmount),
		})
	}
	return rule, nil
}

func (c Condition) toEntity() (entity.RuleCondition, error) {
	cond := entity.RuleCondition{
		ConditionType:   c.Type,
		Operator:        c.Operator,
		LogicalOperator: c.Logical,
		ConditionGroup:  c.Group,
		SortOrder:       c.Order,
	}
	if cond.LogicalOperator == "" {
		cond.LogicalOperator = entity.LogicalAnd
	}

	if c.Value.Kind == yaml.ScalarNode {
		if c.Value.Tag == "!!int" || c.Value.Tag == "!!float" {
			d, err := decimal.NewFromString(c.Value.Value)
			if err != nil {
				return cond, err
			}
			cond.ValueNumber = decimal.NewNullDecimal(d)
		} else {
			text := c.Value.Value
			cond.ValueText = &text
		}
	}
	if len(c.Values) > 0 {
		values, err := jsonArray(c.Values)
		if err != nil {
			return cond, err
		}
		cond.ValueArray = &values
	}
	if c.Start != "" {
		cond.ValueStart = &c.Start
	}
	if c.End != "" {
		cond.ValueEnd = &c.End
	}
	if c.Expression.Kind != 0 {
		var logic any
		if err := c.Expression.Decode(&logic); err != nil {
			return cond, err
		}
		raw, err := json.Marshal(logic)
		if err != nil {
			return cond, fmt.Errorf("expression is not JSON compatible: %w", err)
		}
		text := string(raw)
		cond.ValueText = &text
	}
	return cond, nil
}

// jsonArray renders YAML scalars as a JSON array, keeping numbers as numbers.
func jsonArray(nodes []yaml.Node) (string, error) {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Kind != yaml.ScalarNode {
			return "", fmt.Errorf("line %d: list items must be scalars", n.Line)
		}
		if n.Tag == "!!int" || n.Tag == "!!float" {
			parts = append(parts, n.Value)
			continue
		}
		quoted, err := json.Marshal(n.Value)
		if err != nil {
			return "", err
		}
		parts = append(parts, string(quoted))
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}
