package pricing

import (
	"fmt"
	"pricing-service/internal/entity"
	"strconv"
)

type targetMatcher struct {
	kind entity.TargetType
	ids  map[string]bool
	tags map[string]bool
}

func compileTargets(targets []entity.RuleTarget) ([]targetMatcher, error) {
	matchers := make([]targetMatcher, 0, len(targets))
	for _, t := range targets {
		ids, err := parseStringList(t.TargetIDs)
		if err != nil {
			return nil, fmt.Errorf("%w: target %d ids: %v", ErrMalformedRule, t.ID, err)
		}
		tags, err := parseStringList(t.TargetTags)
		if err != nil {
			return nil, fmt.Errorf("%w: target %d tags: %v", ErrMalformedRule, t.ID, err)
		}
		m := targetMatcher{kind: t.TargetType, ids: make(map[string]bool, len(ids)), tags: make(map[string]bool, len(tags))}
		for _, id := range ids {
			m.ids[canonicalID(id)] = true
		}
		for _, tag := range tags {
			m.tags[tag] = true
		}
		matchers = append(matchers, m)
	}
	return matchers, nil
}

func (m targetMatcher) match(item entity.LineItem, client entity.ClientContext) bool {
	switch m.kind {
	case entity.TargetProduct:
		return m.ids[strconv.FormatInt(item.ProductID, 10)]
	case entity.TargetCategory:
		if item.CategoryID != nil && m.ids[strconv.FormatInt(*item.CategoryID, 10)] {
			return true
		}
		return item.CategoryName != "" && (m.tags[item.CategoryName] || m.ids[item.CategoryName])
	case entity.TargetClient:
		if client.ClientID != nil && m.ids[strconv.FormatInt(*client.ClientID, 10)] {
			return true
		}
		return m.anyTag(client.Tags)
	case entity.TargetTag:
		return m.anyTag(item.Tags)
	}
	return false
}

func (m targetMatcher) anyTag(tags []string) bool {
	for _, tag := range tags {
		if m.tags[tag] {
			return true
		}
	}
	return false
}

func matchAny(matchers []targetMatcher, item entity.LineItem, client entity.ClientContext) bool {
	if len(matchers) == 0 {
		return true
	}
	for _, m := range matchers {
		if m.match(item, client) {
			return true
		}
	}
	return false
}

// MatchTargets reports whether a rule scoped by targets applies to the item and client.
// An empty target list applies universally; several targets are OR'd.
func MatchTargets(targets []entity.RuleTarget, item entity.LineItem, client entity.ClientContext) (bool, error) {
	matchers, err := compileTargets(targets)
	if err != nil {
		return false, err
	}
	return matchAny(matchers, item, client), nil
}
