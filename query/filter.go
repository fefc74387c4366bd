package query

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Operator identifies a filter comparison. The set is closed: predicates are
// dispatched through a table built at package load, never through a
// runtime-selected method name.
type Operator string

const (
	OpEq    Operator = "eq"
	OpNeq   Operator = "neq"
	OpIn    Operator = "in"
	OpGt    Operator = "gt"
	OpGte   Operator = "gte"
	OpLt    Operator = "lt"
	OpLte   Operator = "lte"
	OpLike  Operator = "like"
	OpILike Operator = "ilike"
)

// comparators is the validated dispatch table. like and ilike intentionally
// share one implementation: both mean case-insensitive substring containment,
// and client-side evaluation must match the server-side contract exactly.
var comparators = map[Operator]func(have, want any) bool{
	OpEq:    compareEq,
	OpNeq:   func(have, want any) bool { return !compareEq(have, want) },
	OpIn:    compareIn,
	OpGt:    ordinal(func(c int) bool { return c > 0 }),
	OpGte:   ordinal(func(c int) bool { return c >= 0 }),
	OpLt:    ordinal(func(c int) bool { return c < 0 }),
	OpLte:   ordinal(func(c int) bool { return c <= 0 }),
	OpLike:  compareContains,
	OpILike: compareContains,
}

// Valid reports whether the operator belongs to the closed set.
func (op Operator) Valid() bool {
	_, ok := comparators[op]
	return ok
}

// Filter is a single column predicate.
type Filter struct {
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Filters maps column names to predicates. All predicates must match (AND).
type Filters map[string]Filter

// Predicate constructors used by call sites and tests.

func Eq(value any) Filter    { return Filter{Operator: OpEq, Value: value} }
func Neq(value any) Filter   { return Filter{Operator: OpNeq, Value: value} }
func Gt(value any) Filter    { return Filter{Operator: OpGt, Value: value} }
func Gte(value any) Filter   { return Filter{Operator: OpGte, Value: value} }
func Lt(value any) Filter    { return Filter{Operator: OpLt, Value: value} }
func Lte(value any) Filter   { return Filter{Operator: OpLte, Value: value} }
func Like(value any) Filter  { return Filter{Operator: OpLike, Value: value} }
func ILike(value any) Filter { return Filter{Operator: OpILike, Value: value} }

func In(values ...any) Filter { return Filter{Operator: OpIn, Value: values} }

// normalized resolves shorthand predicates: a missing operator means equality,
// or set membership when the value is a slice.
func (f Filter) normalized() Filter {
	if f.Operator != "" {
		return f
	}
	if f.Value != nil && reflect.TypeOf(f.Value).Kind() == reflect.Slice {
		f.Operator = OpIn
	} else {
		f.Operator = OpEq
	}
	return f
}

// Validate rejects filters whose operator falls outside the closed set.
func (fs Filters) Validate() error {
	for column, f := range fs {
		if op := f.normalized().Operator; !op.Valid() {
			return fmt.Errorf("filter %q: unknown operator %q", column, op)
		}
	}
	return nil
}

// Matches reports whether the row satisfies every predicate. Predicates with
// an unknown operator never match; Validate catches them earlier at the
// façade boundary.
func (fs Filters) Matches(row Row) bool {
	for column, f := range fs {
		f = f.normalized()
		compare, ok := comparators[f.Operator]
		if !ok {
			return false
		}

		have, present := row[column]
		if !present {
			return false
		}
		if !compare(have, f.Value) {
			return false
		}
	}
	return true
}

// Apply evaluates the predicates over a row set, preserving order.
func Apply(rows []Row, fs Filters) []Row {
	if len(fs) == 0 {
		return rows
	}

	matched := make([]Row, 0, len(rows))
	for _, row := range rows {
		if fs.Matches(row) {
			matched = append(matched, row)
		}
	}
	return matched
}

func compareEq(have, want any) bool {
	if hn, ok := asFloat(have); ok {
		if wn, wok := asFloat(want); wok {
			return hn == wn
		}
		return false
	}
	return reflect.DeepEqual(have, want)
}

func compareIn(have, want any) bool {
	if want == nil {
		return false
	}

	v := reflect.ValueOf(want)
	if v.Kind() != reflect.Slice {
		return compareEq(have, want)
	}

	for i := 0; i < v.Len(); i++ {
		if compareEq(have, v.Index(i).Interface()) {
			return true
		}
	}
	return false
}

// ordinal builds a comparator from the sign of compareOrd.
func ordinal(accept func(int) bool) func(have, want any) bool {
	return func(have, want any) bool {
		c, ok := compareOrd(have, want)
		return ok && accept(c)
	}
}

// compareOrd orders two values numerically when both coerce to numbers,
// lexically when both are strings.
func compareOrd(have, want any) (int, bool) {
	if hn, ok := asFloat(have); ok {
		wn, wok := asFloat(want)
		if !wok {
			return 0, false
		}
		switch {
		case hn < wn:
			return -1, true
		case hn > wn:
			return 1, true
		default:
			return 0, true
		}
	}

	hs, hok := have.(string)
	ws, wok := want.(string)
	if hok && wok {
		return strings.Compare(hs, ws), true
	}
	return 0, false
}

func compareContains(have, want any) bool {
	hs, hok := have.(string)
	ws, wok := want.(string)
	if !hok || !wok {
		return false
	}

	// SQL-style wildcards arrive from callers used to the server syntax.
	pattern := strings.Trim(ws, "%")
	return strings.Contains(strings.ToLower(hs), strings.ToLower(pattern))
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
