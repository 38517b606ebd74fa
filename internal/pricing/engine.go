package pricing

import (
	"fmt"
	"pricing-service/internal/entity"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Reasons recorded on skipped rules.
const (
	ReasonInactive             = "rule is inactive"
	ReasonOutsideWindow        = "outside validity window"
	ReasonUsageLimitReached    = "usage limit reached"
	ReasonCustomerLimitReached = "per-customer usage limit reached"
	ReasonAnonymousClient      = "per-customer limit requires a known client"
	ReasonExcluded             = "usage claim lost"
)

// Request is one evaluation of a cart against the engine's rules.
type Request struct {
	StoreID int64
	Items   []entity.LineItem
	Client  entity.ClientContext
	// CustomerUsage holds how many times Client already used each rule.
	CustomerUsage map[int64]int
	// Excluded rules are treated as not applicable.
	Excluded map[int64]bool
}

type compiledRule struct {
	rule       entity.PricingRule
	targets    []targetMatcher
	conditions *Predicate
	tiers      []entity.QuantityTier
}

func compileRule(rule entity.PricingRule) (*compiledRule, error) {
	targets, err := compileTargets(rule.Targets)
	if err != nil {
		return nil, err
	}
	conditions, err := CompileConditions(rule.Conditions)
	if err != nil {
		return nil, err
	}
	return &compiledRule{
		rule:       rule,
		targets:    targets,
		conditions: conditions,
		tiers:      SortTiers(rule.Tiers),
	}, nil
}

// CheckRule compiles the targets and conditions of rule, returning the
// ErrMalformedRule the engine would skip it for.
func CheckRule(rule entity.PricingRule) error {
	_, err := compileRule(rule)
	return err
}

// Engine prices carts against a fixed rule set as of one instant. Rules are
// filtered and compiled once, so an Engine can evaluate many requests.
type Engine struct {
	asOf    time.Time
	rules   []*compiledRule
	skipped []entity.SkippedRule
}

// NewEngine keeps the live rules among rules (active and inside their validity window at asOf)
// in priority order and compiles them. Malformed rules are dropped and reported as skipped.
func NewEngine(rules []entity.PricingRule, asOf time.Time) *Engine {
	e := &Engine{asOf: asOf}
	for _, rule := range SortRules(rules) {
		if !rule.IsActive {
			e.skip(rule, ReasonInactive)
			continue
		}
		if !InWindow(rule, asOf) {
			e.skip(rule, ReasonOutsideWindow)
			continue
		}
		compiled, err := compileRule(rule)
		if err != nil {
			e.skip(rule, err.Error())
			continue
		}
		e.rules = append(e.rules, compiled)
	}
	return e
}

func (e *Engine) skip(rule entity.PricingRule, reason string) {
	e.skipped = append(e.skipped, entity.SkippedRule{RuleID: rule.ID, RuleCode: rule.RuleCode, Reason: reason})
}

// Evaluate is a convenience for a single evaluation.
func Evaluate(rules []entity.PricingRule, asOf time.Time, req Request) entity.EvaluationResult {
	return NewEngine(rules, asOf).Evaluate(req)
}

// Evaluate prices every line item. For each item the first rule, in priority order,
// whose targets, conditions, capacity and effect all apply wins; rules never stack.
func (e *Engine) Evaluate(req Request) entity.EvaluationResult {
	result := entity.EvaluationResult{
		StoreID:        req.StoreID,
		AsOf:           e.asOf,
		Items:          make([]entity.AdjustedLineItem, 0, len(req.Items)),
		AppliedRuleIDs: []int64{},
		SkippedRules:   append([]entity.SkippedRule(nil), e.skipped...),
		Subtotal:       decimal.Zero,
		DiscountTotal:  decimal.Zero,
		Total:          decimal.Zero,
	}

	// Step 1: Drop rules this client or this request cannot use
	live := make([]*compiledRule, 0, len(e.rules))
	for _, r := range e.rules {
		if reason, blocked := capacityBlock(r.rule, req); blocked {
			result.SkippedRules = append(result.SkippedRules, entity.SkippedRule{RuleID: r.rule.ID, RuleCode: r.rule.RuleCode, Reason: reason})
			continue
		}
		live = append(live, r)
	}

	// Step 2: Price each line independently
	cart := NewCartTotals(req.Items)
	applied := make(map[int64]bool)
	failed := make(map[int64]bool)
	onError := func(r *compiledRule, err error) {
		if failed[r.rule.ID] {
			return
		}
		failed[r.rule.ID] = true
		result.SkippedRules = append(result.SkippedRules, entity.SkippedRule{
			RuleID:   r.rule.ID,
			RuleCode: r.rule.RuleCode,
			Reason:   fmt.Sprintf("%v: condition evaluation failed: %v", ErrMalformedRule, err),
		})
	}
	for _, item := range req.Items {
		line := e.priceLine(item, req.Client, cart, live, onError)
		if line.AppliedRuleID != nil && !applied[*line.AppliedRuleID] {
			applied[*line.AppliedRuleID] = true
			result.AppliedRuleIDs = append(result.AppliedRuleIDs, *line.AppliedRuleID)
		}
		result.Items = append(result.Items, line)
		result.Subtotal = result.Subtotal.Add(roundMoney(line.BasePrice.Mul(decimal.NewFromInt(int64(line.Quantity)))))
		result.DiscountTotal = result.DiscountTotal.Add(line.DiscountAmount)
		result.Total = result.Total.Add(line.LineTotal)
	}
	return result
}

// priceLine reports rules whose conditions cannot be evaluated on this line to onError;
// such a rule does not apply to the line.
func (e *Engine) priceLine(item entity.LineItem, client entity.ClientContext, cart CartTotals, rules []*compiledRule,
	onError func(*compiledRule, error)) entity.AdjustedLineItem {
	quantity := decimal.NewFromInt(int64(item.Quantity))
	base := roundMoney(item.UnitPrice.Mul(quantity))
	line := entity.AdjustedLineItem{
		LineItem:          item,
		BasePrice:         item.UnitPrice,
		AdjustedUnitPrice: item.UnitPrice,
		DiscountAmount:    decimal.Zero,
		LineTotal:         base,
	}

	var doc []byte
	for _, r := range rules {
		if !matchAny(r.targets, item, client) {
			continue
		}
		if !r.conditions.IsConstant() && doc == nil {
			var err error
			if doc, err = NewFacts(item, client, cart, e.asOf).Document(); err != nil {
				return line
			}
		}
		matched, err := r.conditions.Apply(doc)
		if err != nil {
			onError(r, err)
			continue
		}
		if !matched {
			continue
		}
		unit, total, ok := r.applyEffect(item)
		if !ok {
			continue
		}
		id := r.rule.ID
		line.AdjustedUnitPrice = unit
		line.LineTotal = total
		line.DiscountAmount = base.Sub(total)
		line.AppliedRuleID = &id
		line.AppliedRuleCode = r.rule.RuleCode
		return line
	}
	return line
}

func capacityBlock(rule entity.PricingRule, req Request) (string, bool) {
	if req.Excluded[rule.ID] {
		return ReasonExcluded, true
	}
	if !rule.HasCapacity() {
		return ReasonUsageLimitReached, true
	}
	if rule.UsageLimitPerCustomer == nil {
		return "", false
	}
	if req.Client.ClientID == nil {
		return ReasonAnonymousClient, true
	}
	if req.CustomerUsage[rule.ID] >= *rule.UsageLimitPerCustomer {
		return ReasonCustomerLimitReached, true
	}
	return "", false
}

// InWindow reports whether asOf falls inside the rule's validity window, compared by calendar day.
// Absent bounds are unbounded.
func InWindow(rule entity.PricingRule, asOf time.Time) bool {
	day := dateKey(asOf)
	if rule.StartDate != nil && day < dateKey(rule.StartDate.In(asOf.Location())) {
		return false
	}
	if rule.EndDate != nil && day > dateKey(rule.EndDate.In(asOf.Location())) {
		return false
	}
	return true
}

// SortRules returns a copy of rules ordered by priority descending, then name ascending.
func SortRules(rules []entity.PricingRule) []entity.PricingRule {
	sorted := make([]entity.PricingRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// Rules returns the ids of the rules the engine considers live, in evaluation order.
func (e *Engine) Rules() []int64 {
	ids := make([]int64, len(e.rules))
	for i, r := range e.rules {
		ids[i] = r.rule.ID
	}
	return ids
}
