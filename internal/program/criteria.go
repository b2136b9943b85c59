package program

import (
	"fmt"
	"strconv"
	"strings"
)

// Criterion is one advanced-selection filter expression of the form
// "field__op=value", e.g. "household_size__gte=3" or "region__eq=north".
// Criteria combine with AND semantics.
type Criterion struct {
	Field string
	Op    string
	Value string
}

var criterionOps = map[string]bool{
	"eq": true, "ne": true,
	"lt": true, "lte": true,
	"gt": true, "gte": true,
	"contains": true,
}

// ParseCriterion parses a filter expression.
func ParseCriterion(expr string) (Criterion, error) {
	left, value, found := strings.Cut(expr, "=")
	if !found {
		return Criterion{}, fmt.Errorf("criterion %q: missing '='", expr)
	}
	field, op, found := strings.Cut(left, "__")
	if !found {
		field, op = left, "eq"
	}
	field = strings.TrimSpace(field)
	op = strings.TrimSpace(op)
	if field == "" {
		return Criterion{}, fmt.Errorf("criterion %q: empty field", expr)
	}
	if !criterionOps[op] {
		return Criterion{}, fmt.Errorf("criterion %q: unknown operator %q", expr, op)
	}
	return Criterion{Field: field, Op: op, Value: strings.TrimSpace(value)}, nil
}

// ParseCriteria parses a list of filter expressions.
func ParseCriteria(exprs []string) ([]Criterion, error) {
	out := make([]Criterion, 0, len(exprs))
	for _, expr := range exprs {
		c, err := ParseCriterion(expr)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Matches evaluates the criterion against one beneficiary's extension data.
// Missing fields never match.
func (c Criterion) Matches(b Beneficiary) bool {
	raw, ok := b.Ext[c.Field]
	if !ok {
		return false
	}

	if lv, lok := toFloat(raw); lok {
		if rv, rok := toFloat(c.Value); rok {
			switch c.Op {
			case "eq":
				return lv == rv
			case "ne":
				return lv != rv
			case "lt":
				return lv < rv
			case "lte":
				return lv <= rv
			case "gt":
				return lv > rv
			case "gte":
				return lv >= rv
			}
			return false
		}
	}

	lv := fmt.Sprintf("%v", raw)
	switch c.Op {
	case "eq":
		return lv == c.Value
	case "ne":
		return lv != c.Value
	case "contains":
		return strings.Contains(strings.ToLower(lv), strings.ToLower(c.Value))
	}
	return false
}

// Select returns the beneficiaries matching every criterion. An empty
// criteria list selects the whole population.
func Select(beneficiaries []Beneficiary, criteria []Criterion) []Beneficiary {
	if len(criteria) == 0 {
		return beneficiaries
	}
	var out []Beneficiary
	for _, b := range beneficiaries {
		matched := true
		for _, c := range criteria {
			if !c.Matches(b) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, b)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
