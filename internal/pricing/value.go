package pricing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"pricing-service/internal/entity"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMalformedRule marks rule data that cannot be parsed. The engine skips such rules.
var ErrMalformedRule = errors.New("malformed pricing rule")

// ConditionValue is the operand of a condition, resolved from the persisted
// value fields according to the condition's operator.
type ConditionValue interface {
	isConditionValue()
}

// ScalarValue is read by equals, not_equals and the ordering operators.
type ScalarValue struct {
	Value any
}

// SetValue is read by in and not_in.
type SetValue struct {
	Values []any
}

// RangeValue is read by in_range. Both bounds are inclusive.
type RangeValue struct {
	Start any
	End   any
}

// ExpressionValue is the raw JsonLogic rule of a custom condition.
type ExpressionValue struct {
	Logic any
}

func (ScalarValue) isConditionValue()     {}
func (SetValue) isConditionValue()        {}
func (RangeValue) isConditionValue()      {}
func (ExpressionValue) isConditionValue() {}

type factKind int

const (
	numericFact factKind = iota
	textFact
	setFact
)

type factPath struct {
	name string
	id   bool
}

type factSpec struct {
	kind  factKind
	paths []factPath
	// parses text operands of numeric facts; nil means a plain decimal
	parse func(string) (float64, error)
}

var factSpecs = map[entity.ConditionType]factSpec{
	entity.ConditionQuantity:        {kind: numericFact, paths: []factPath{{name: "quantity"}}},
	entity.ConditionUnitPrice:       {kind: numericFact, paths: []factPath{{name: "unit_price"}}},
	entity.ConditionLineTotal:       {kind: numericFact, paths: []factPath{{name: "line_total"}}},
	entity.ConditionCartTotal:       {kind: numericFact, paths: []factPath{{name: "cart_total"}}},
	entity.ConditionCartQuantity:    {kind: numericFact, paths: []factPath{{name: "cart_quantity"}}},
	entity.ConditionDate:            {kind: numericFact, paths: []factPath{{name: "date"}}, parse: parseDateKey},
	entity.ConditionDayOfWeek:       {kind: numericFact, paths: []factPath{{name: "day_of_week"}}, parse: parseWeekday},
	entity.ConditionProductID:       {kind: textFact, paths: []factPath{{name: "product.id", id: true}}},
	entity.ConditionProductSKU:      {kind: textFact, paths: []factPath{{name: "product.sku"}}},
	entity.ConditionProductCategory: {kind: textFact, paths: []factPath{{name: "product.category"}, {name: "product.category_id", id: true}}},
	entity.ConditionClientID:        {kind: textFact, paths: []factPath{{name: "client.id", id: true}}},
	entity.ConditionClientType:      {kind: textFact, paths: []factPath{{name: "client.type"}}},
	entity.ConditionProductTag:      {kind: setFact, paths: []factPath{{name: "product.tags"}}},
	entity.ConditionClientTag:       {kind: setFact, paths: []factPath{{name: "client.tags"}}},
}

// ResolveValue converts the value bag of c into the operand its operator reads.
// ok is false when the field the operator needs is absent or unusable; err is
// only returned for unparsable serialized data.
func ResolveValue(c entity.RuleCondition) (value ConditionValue, ok bool, err error) {
	if c.ConditionType == entity.ConditionCustom {
		if c.ValueText == nil || strings.TrimSpace(*c.ValueText) == "" {
			return nil, false, nil
		}
		logic, err := decodeJSON(*c.ValueText)
		if err != nil {
			return nil, false, fmt.Errorf("custom expression: %w", err)
		}
		return ExpressionValue{Logic: logic}, true, nil
	}

	spec, known := factSpecs[c.ConditionType]
	if !known {
		return nil, false, nil
	}

	switch c.Operator {
	case entity.OperatorIn, entity.OperatorNotIn:
		if c.ValueArray == nil {
			return nil, false, nil
		}
		values, err := parseArray(*c.ValueArray, spec)
		if err != nil {
			return nil, false, err
		}
		return SetValue{Values: values}, true, nil
	case entity.OperatorInRange:
		if spec.kind != numericFact || c.ValueStart == nil || c.ValueEnd == nil {
			return nil, false, nil
		}
		start, err1 := spec.number(*c.ValueStart)
		end, err2 := spec.number(*c.ValueEnd)
		if err1 != nil || err2 != nil {
			return nil, false, nil
		}
		return RangeValue{Start: start, End: end}, true, nil
	default:
		v, ok := scalarOperand(c, spec)
		if !ok {
			return nil, false, nil
		}
		return ScalarValue{Value: v}, true, nil
	}
}

func scalarOperand(c entity.RuleCondition, spec factSpec) (any, bool) {
	if spec.kind == numericFact {
		if c.ValueNumber.Valid {
			return c.ValueNumber.Decimal.InexactFloat64(), true
		}
		if c.ValueText != nil {
			n, err := spec.number(*c.ValueText)
			if err != nil {
				return nil, false
			}
			return n, true
		}
		return nil, false
	}
	if c.ValueText != nil {
		text := strings.TrimSpace(*c.ValueText)
		return text, text != ""
	}
	if c.ValueNumber.Valid {
		return c.ValueNumber.Decimal.String(), true
	}
	return nil, false
}

func (s factSpec) number(text string) (float64, error) {
	text = strings.TrimSpace(text)
	if s.parse != nil {
		return s.parse(text)
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

func parseArray(raw string, spec factSpec) ([]any, error) {
	decoded, err := decodeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("value array: %w", err)
	}
	items, ok := decoded.([]any)
	if !ok {
		return nil, fmt.Errorf("value array: expected a JSON array, got %s", raw)
	}
	values := make([]any, 0, len(items))
	for _, item := range items {
		text, err := arrayElement(item)
		if err != nil {
			return nil, fmt.Errorf("value array: %w", err)
		}
		if spec.kind == numericFact {
			n, err := spec.number(text)
			if err != nil {
				return nil, fmt.Errorf("value array: %q is not a number", text)
			}
			values = append(values, n)
			continue
		}
		if text != "" {
			values = append(values, text)
		}
	}
	return values, nil
}

// parseStringList decodes a serialized JSON array of ids or names.
func parseStringList(raw *string) ([]string, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	decoded, err := decodeJSON(*raw)
	if err != nil {
		return nil, err
	}
	if decoded == nil {
		return nil, nil
	}
	items, ok := decoded.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON array, got %s", *raw)
	}
	list := make([]string, 0, len(items))
	for _, item := range items {
		text, err := arrayElement(item)
		if err != nil {
			return nil, err
		}
		list = append(list, text)
	}
	return list, nil
}

func arrayElement(item any) (string, error) {
	switch v := item.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unsupported array element %v", item)
	}
}

func decodeJSON(raw string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

func parseDateKey(text string) (float64, error) {
	if t, err := time.Parse("2006-01-02", text); err == nil {
		return float64(dateKey(t)), nil
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < 10000101 || n > 99991231 {
		return 0, fmt.Errorf("invalid date %q", text)
	}
	return float64(n), nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekday(text string) (float64, error) {
	if d, ok := weekdays[strings.ToLower(text)]; ok {
		return float64(d), nil
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < 0 || n > 6 {
		return 0, fmt.Errorf("invalid day of week %q", text)
	}
	return float64(n), nil
}
