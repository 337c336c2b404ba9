package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/stagespec/packages/core/document"
)

// Set is the value produced by set literals, set comprehensions and set().
// Iteration follows insertion order.
type Set struct {
	index map[string]int
	items []any
}

// NewSet builds a set from hashable items.
func NewSet(items ...any) (*Set, error) {
	s := &Set{index: make(map[string]int)}
	for _, it := range items {
		if err := s.Add(it); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add inserts v unless an equal value is already present.
func (s *Set) Add(v any) error {
	k, err := hashKey(v)
	if err != nil {
		return err
	}
	if _, ok := s.index[k]; !ok {
		s.index[k] = len(s.items)
		s.items = append(s.items, v)
	}
	return nil
}

// Contains reports membership. Unhashable values are never members.
func (s *Set) Contains(v any) bool {
	k, err := hashKey(v)
	if err != nil {
		return false
	}
	_, ok := s.index[k]
	return ok
}

func (s *Set) Len() int { return len(s.items) }

// Items returns the members in insertion order.
func (s *Set) Items() []any {
	out := make([]any, len(s.items))
	copy(out, s.items)
	return out
}

// MarshalJSON encodes the set as a JSON array.
func (s *Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.items)
}

func hashKey(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "n", nil
	case bool:
		if t {
			return "i:1", nil
		}
		return "i:0", nil
	case int:
		return "i:" + strconv.Itoa(t), nil
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e18 {
			return "i:" + strconv.Itoa(int(t)), nil
		}
		return "f:" + strconv.FormatFloat(t, 'g', -1, 64), nil
	case string:
		return "s:" + t, nil
	}
	return "", newError(KindType, 0, "unhashable type: %s", typeName(v))
}

// native converts host values into the evaluator's value types.
func native(v any) any {
	switch v.(type) {
	case nil, bool, int, float64, string, []any, map[string]any, *Set:
		return v
	}
	return document.Normalize(v)
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	case *Set:
		return "set"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Truthy applies the usual truthiness rules: None, False, zero, and empty
// strings or containers are false.
func Truthy(v any) bool {
	switch t := native(v).(type) {
	case nil:
		return false
	case bool:
		return t
	case int:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case *Set:
		return t.Len() > 0
	}
	return true
}

func equal(a, b any) bool {
	if sa, ok := a.(*Set); ok {
		sb, ok := b.(*Set)
		if !ok || sa.Len() != sb.Len() {
			return false
		}
		for _, it := range sa.items {
			if !sb.Contains(it) {
				return false
			}
		}
		return true
	}
	if _, ok := b.(*Set); ok {
		return false
	}
	if x, ok := a.([]any); ok {
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equal(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	if x, ok := a.(map[string]any); ok {
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !equal(xv, yv) {
				return false
			}
		}
		return true
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch b.(type) {
	case []any, map[string]any:
		return false
	}
	return a == b
}

// toFloat accepts int, float64 and bool.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// ToText renders a value as it appears when interpolated into a larger
// string: strings verbatim, None as null, booleans lowercase, numbers in
// their shortest form and containers as JSON.
func ToText(v any) string {
	switch t := native(v).(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case float64:
		return formatFloat(t)
	case []any, map[string]any, *Set:
		data, err := json.Marshal(jsonable(t))
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// jsonable replaces values encoding/json cannot handle.
func jsonable(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = jsonable(vv)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = jsonable(vv)
		}
		return out
	case *Set:
		return jsonable(t.Items())
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return formatFloat(t)
		}
	}
	return v
}

// Plain converts sets into lists so results can leave the evaluator as
// ordinary document trees.
func Plain(v any) any {
	switch t := v.(type) {
	case *Set:
		return Plain(t.Items())
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = Plain(vv)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = Plain(vv)
		}
		return out
	}
	return v
}

// iterate returns the elements produced by iterating v: list items, set
// members, dict keys in sorted order or the characters of a string.
func iterate(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case *Set:
		return t.Items(), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, nil
	case string:
		out := make([]any, 0, len(t))
		for _, r := range t {
			out = append(out, string(r))
		}
		return out, nil
	}
	return nil, newError(KindType, 0, "%s object is not iterable", typeName(v))
}

func compareValues(a, b any) (int, error) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, nil
			case fa > fb:
				return 1, nil
			}
			return 0, nil
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb), nil
		}
	}
	if la, ok := a.([]any); ok {
		if lb, ok := b.([]any); ok {
			for i := 0; i < len(la) && i < len(lb); i++ {
				c, err := compareValues(la[i], lb[i])
				if err != nil {
					return 0, err
				}
				if c != 0 {
					return c, nil
				}
			}
			return compareInts(len(la), len(lb)), nil
		}
	}
	return 0, newError(KindType, 0, "cannot order %s and %s", typeName(a), typeName(b))
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
