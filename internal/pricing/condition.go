package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"pricing-service/internal/entity"
	"sort"
	"strings"

	"github.com/diegoholiveira/jsonlogic/v3"
)

// Predicate is a compiled condition set. Sets that reduce to a constant never reach the JsonLogic evaluator.
type Predicate struct {
	constant *bool
	rule     []byte
}

// CompileConditions turns a rule's conditions into a single JsonLogic expression.
// Conditions are partitioned by group, folded left to right inside a group with
// each condition's own logical operator, and the groups are OR'd together.
func CompileConditions(conditions []entity.RuleCondition) (*Predicate, error) {
	if len(conditions) == 0 {
		return constantPredicate(true), nil
	}

	groups := make(map[int][]entity.RuleCondition)
	var keys []int
	for _, c := range conditions {
		if _, ok := groups[c.ConditionGroup]; !ok {
			keys = append(keys, c.ConditionGroup)
		}
		groups[c.ConditionGroup] = append(groups[c.ConditionGroup], c)
	}
	sort.Ints(keys)

	branches := make([]any, 0, len(keys))
	for _, key := range keys {
		group := groups[key]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].SortOrder != group[j].SortOrder {
				return group[i].SortOrder < group[j].SortOrder
			}
			return group[i].ID < group[j].ID
		})

		var running any
		for i, c := range group {
			node, err := compileCondition(c)
			if err != nil {
				return nil, fmt.Errorf("%w: condition %d: %v", ErrMalformedRule, c.ID, err)
			}
			switch {
			case i == 0:
				running = node
			case strings.EqualFold(string(c.LogicalOperator), string(entity.LogicalOr)):
				running = anyOf(running, node)
			default:
				running = allOf(running, node)
			}
		}
		branches = append(branches, running)
	}

	logic := anyOf(branches...)
	if b, ok := logic.(bool); ok {
		return constantPredicate(b), nil
	}

	rule, err := json.Marshal(logic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRule, err)
	}
	p := &Predicate{rule: rule}

	// A dry run against empty facts rejects expressions the evaluator cannot run.
	doc, err := Facts{Product: productFacts{Tags: []string{}}, Client: clientFacts{Tags: []string{}}}.Document()
	if err != nil {
		return nil, err
	}
	if _, err := p.Apply(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRule, err)
	}
	return p, nil
}

// EvaluateConditions reports whether the condition set matches facts.
func EvaluateConditions(conditions []entity.RuleCondition, facts Facts) (bool, error) {
	p, err := CompileConditions(conditions)
	if err != nil {
		return false, err
	}
	if p.constant != nil {
		return *p.constant, nil
	}
	doc, err := facts.Document()
	if err != nil {
		return false, err
	}
	return p.Apply(doc)
}

// Apply evaluates the predicate against a facts document.
func (p *Predicate) Apply(doc []byte) (matched bool, err error) {
	if p.constant != nil {
		return *p.constant, nil
	}
	defer func() {
		if r := recover(); r != nil {
			matched, err = false, fmt.Errorf("jsonlogic: %v", r)
		}
	}()

	var out bytes.Buffer
	if err := jsonlogic.Apply(bytes.NewReader(p.rule), bytes.NewReader(doc), &out); err != nil {
		return false, err
	}
	result := bytes.TrimSpace(out.Bytes())
	if len(result) == 0 {
		return false, nil
	}
	var v any
	if err := json.Unmarshal(result, &v); err != nil {
		return false, err
	}
	return truthy(v), nil
}

// Holds is Apply with evaluation errors treated as a non-match.
func (p *Predicate) Holds(doc []byte) bool {
	ok, err := p.Apply(doc)
	return err == nil && ok
}

// IsConstant reports whether the predicate has a fixed outcome.
func (p *Predicate) IsConstant() bool {
	return p.constant != nil
}

func constantPredicate(b bool) *Predicate {
	return &Predicate{constant: &b}
}

func compileCondition(c entity.RuleCondition) (any, error) {
	value, ok, err := ResolveValue(c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return false, nil
	}
	if expr, isExpr := value.(ExpressionValue); isExpr {
		return expr.Logic, nil
	}

	spec := factSpecs[c.ConditionType]
	switch c.Operator {
	case entity.OperatorEquals, entity.OperatorNotEquals:
		v := value.(ScalarValue).Value
		var node any
		if spec.kind == setFact {
			node = contains(spec.paths[0].name, v)
		} else {
			node = overPaths(spec, func(p factPath) any {
				return op("==", variable(p.name), operand(p, v))
			})
		}
		if c.Operator == entity.OperatorNotEquals {
			return negate(node), nil
		}
		return node, nil

	case entity.OperatorGreaterThan, entity.OperatorGreaterThanOrEqual, entity.OperatorLessThan, entity.OperatorLessThanOrEqual:
		if spec.kind != numericFact {
			return false, nil
		}
		return op(comparators[c.Operator], variable(spec.paths[0].name), value.(ScalarValue).Value), nil

	case entity.OperatorInRange:
		r := value.(RangeValue)
		name := spec.paths[0].name
		return allOf(op(">=", variable(name), r.Start), op("<=", variable(name), r.End)), nil

	case entity.OperatorIn, entity.OperatorNotIn:
		values := value.(SetValue).Values
		var node any
		if spec.kind == setFact {
			nodes := make([]any, 0, len(values))
			for _, v := range values {
				nodes = append(nodes, contains(spec.paths[0].name, v))
			}
			node = anyOf(nodes...)
		} else if len(values) == 0 {
			node = false
		} else {
			node = overPaths(spec, func(p factPath) any {
				set := make([]any, len(values))
				for i, v := range values {
					set[i] = operand(p, v)
				}
				return op("in", variable(p.name), set)
			})
		}
		if c.Operator == entity.OperatorNotIn {
			return negate(node), nil
		}
		return node, nil
	}
	return false, nil
}

var comparators = map[entity.ConditionOperator]string{
	entity.OperatorGreaterThan:        ">",
	entity.OperatorGreaterThanOrEqual: ">=",
	entity.OperatorLessThan:           "<",
	entity.OperatorLessThanOrEqual:    "<=",
}

func overPaths(spec factSpec, build func(factPath) any) any {
	nodes := make([]any, 0, len(spec.paths))
	for _, p := range spec.paths {
		nodes = append(nodes, build(p))
	}
	return anyOf(nodes...)
}

func operand(p factPath, v any) any {
	if s, ok := v.(string); ok && p.id {
		return canonicalID(s)
	}
	return v
}

func variable(name string) any {
	return map[string]any{"var": name}
}

func op(name string, args ...any) any {
	return map[string]any{name: args}
}

func contains(setPath string, v any) any {
	return op("in", v, variable(setPath))
}

func allOf(a, b any) any {
	if v, ok := a.(bool); ok {
		if !v {
			return false
		}
		return b
	}
	if v, ok := b.(bool); ok {
		if !v {
			return false
		}
		return a
	}
	return op("and", a, b)
}

func anyOf(nodes ...any) any {
	rest := make([]any, 0, len(nodes))
	for _, n := range nodes {
		if v, ok := n.(bool); ok {
			if v {
				return true
			}
			continue
		}
		rest = append(rest, n)
	}
	switch len(rest) {
	case 0:
		return false
	case 1:
		return rest[0]
	}
	return op("or", rest...)
}

// negate uses "if" so the operand is never wrapped in an argument list.
func negate(node any) any {
	if v, ok := node.(bool); ok {
		return !v
	}
	return op("if", node, false, true)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	default:
		return true
	}
}
