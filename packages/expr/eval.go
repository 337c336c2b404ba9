// Package expr evaluates the restricted expression language used inside
// templates and verification expressions. Programs can only read variables
// and call a fixed set of built-in functions and methods.
package expr

import (
	"errors"
	"math"
	"strings"
	"sync"
)

// DefaultMaxComprehension bounds the total number of elements produced by
// comprehensions, range() and sequence repetition within one evaluation.
const DefaultMaxComprehension = 10000

// Vars is the read-only view of variables available to an expression.
type Vars interface {
	Lookup(name string) (any, bool)
}

// MapVars adapts a plain map to Vars.
type MapVars map[string]any

func (m MapVars) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Option configures an evaluation.
type Option func(*evaluator)

// WithMaxComprehension overrides DefaultMaxComprehension. Values <= 0 keep
// the default.
func WithMaxComprehension(n int) Option {
	return func(ev *evaluator) {
		if n > 0 {
			ev.budget = n
		}
	}
}

// Function is a host-provided callable. Arguments arrive as plain values
// and the result is normalized like any variable.
type Function func(args []any, kwargs map[string]any) (any, error)

// WithFunctions makes extra functions callable by name. Built-in functions
// keep precedence.
func WithFunctions(funcs map[string]Function) Option {
	return func(ev *evaluator) {
		ev.funcs = funcs
	}
}

// Program is a compiled expression. It is immutable and safe for concurrent
// use.
type Program struct {
	src  string
	root node
}

// Compile parses src.
func Compile(src string) (*Program, error) {
	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	return &Program{src: src, root: root}, nil
}

var programs sync.Map

// CompileCached is Compile backed by a process-wide cache.
func CompileCached(src string) (*Program, error) {
	if p, ok := programs.Load(src); ok {
		return p.(*Program), nil
	}
	p, err := Compile(src)
	if err != nil {
		return nil, err
	}
	programs.Store(src, p)
	return p, nil
}

// Source returns the expression text.
func (p *Program) Source() string { return p.src }

// Eval evaluates the program against vars.
func (p *Program) Eval(vars Vars, opts ...Option) (any, error) {
	if vars == nil {
		vars = MapVars(nil)
	}
	ev := &evaluator{vars: vars, budget: DefaultMaxComprehension}
	for _, opt := range opts {
		opt(ev)
	}
	v, err := ev.eval(p.root, nil)
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.Expr == "" {
			e.Expr = p.src
		}
		return nil, err
	}
	return Plain(v), nil
}

// Eval compiles and evaluates src in one step.
func Eval(src string, vars Vars, opts ...Option) (any, error) {
	p, err := CompileCached(src)
	if err != nil {
		return nil, err
	}
	return p.Eval(vars, opts...)
}

type scope struct {
	parent *scope
	vars   map[string]any
}

func (s *scope) lookup(name string) (any, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

type evaluator struct {
	vars   Vars
	funcs  map[string]Function
	budget int
	used   int
}

// spend charges n units against the complexity budget.
func (ev *evaluator) spend(n int, at int) error {
	if n < 0 || n > ev.budget-ev.used {
		return ev.tooComplex(at)
	}
	ev.used += n
	return nil
}

// spendProduct charges size*count units without computing an overflowing
// product.
func (ev *evaluator) spendProduct(size, count int, at int) error {
	if size < 0 || count < 0 {
		return ev.tooComplex(at)
	}
	if size > 0 && count > (ev.budget-ev.used)/size {
		return ev.tooComplex(at)
	}
	return ev.spend(size*count, at)
}

func (ev *evaluator) tooComplex(at int) error {
	return newError(KindTooComplex, at, "more than %d elements produced", ev.budget)
}

func (ev *evaluator) lookup(n string, sc *scope) (any, bool) {
	if v, ok := sc.lookup(n); ok {
		return v, true
	}
	v, ok := ev.vars.Lookup(n)
	if !ok {
		return nil, false
	}
	return native(v), true
}

func (ev *evaluator) eval(n node, sc *scope) (any, error) {
	switch n := n.(type) {
	case *literal:
		return n.value, nil

	case *name:
		v, ok := ev.lookup(n.ident, sc)
		if !ok {
			return nil, newError(KindUndefinedName, n.at, "name %q is not defined", n.ident)
		}
		return v, nil

	case *unary:
		x, err := ev.eval(n.x, sc)
		if err != nil {
			return nil, err
		}
		return evalUnary(n, x)

	case *binary:
		x, err := ev.eval(n.x, sc)
		if err != nil {
			return nil, err
		}
		y, err := ev.eval(n.y, sc)
		if err != nil {
			return nil, err
		}
		return ev.arith(n.op, x, y, n.at)

	case *boolOp:
		x, err := ev.eval(n.x, sc)
		if err != nil {
			return nil, err
		}
		if n.op == "and" && !Truthy(x) || n.op == "or" && Truthy(x) {
			return x, nil
		}
		return ev.eval(n.y, sc)

	case *compare:
		return ev.evalCompare(n, sc)

	case *conditional:
		test, err := ev.eval(n.test, sc)
		if err != nil {
			return nil, err
		}
		if Truthy(test) {
			return ev.eval(n.then, sc)
		}
		return ev.eval(n.els, sc)

	case *attr:
		x, err := ev.eval(n.x, sc)
		if err != nil {
			return nil, err
		}
		return getAttr(x, n.name, n.at)

	case *index:
		x, err := ev.eval(n.x, sc)
		if err != nil {
			return nil, err
		}
		idx, err := ev.eval(n.idx, sc)
		if err != nil {
			return nil, err
		}
		return getIndex(x, idx, n.at)

	case *slice:
		return ev.evalSlice(n, sc)

	case *call:
		return ev.evalCall(n, sc)

	case *listLit:
		out := make([]any, 0, len(n.elems))
		for _, e := range n.elems {
			v, err := ev.eval(e, sc)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case *setLit:
		s, _ := NewSet()
		for _, e := range n.elems {
			v, err := ev.eval(e, sc)
			if err != nil {
				return nil, err
			}
			if err := s.Add(v); err != nil {
				return nil, at(err, e.pos())
			}
		}
		return s, nil

	case *dictLit:
		out := make(map[string]any, len(n.keys))
		for i := range n.keys {
			k, err := ev.eval(n.keys[i], sc)
			if err != nil {
				return nil, err
			}
			key, err := dictKey(k, n.keys[i].pos())
			if err != nil {
				return nil, err
			}
			v, err := ev.eval(n.values[i], sc)
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil

	case *comprehension:
		return ev.evalComprehension(n, sc)
	}
	return nil, newError(KindSyntax, n.pos(), "unsupported expression")
}

// at fills in the position of an error raised by a helper that had none.
func at(err error, pos int) error {
	var e *Error
	if errors.As(err, &e) && e.Pos == 0 {
		e.Pos = pos
	}
	return err
}

func dictKey(k any, pos int) (string, error) {
	switch k.(type) {
	case string:
		return k.(string), nil
	case int, float64, bool:
		return ToText(k), nil
	}
	return "", newError(KindType, pos, "unhashable dict key type: %s", typeName(k))
}

func evalUnary(n *unary, x any) (any, error) {
	switch n.op {
	case "not":
		return !Truthy(x), nil
	case "-":
		switch t := x.(type) {
		case int:
			return -t, nil
		case float64:
			return -t, nil
		case bool:
			if t {
				return -1, nil
			}
			return 0, nil
		}
	case "+":
		switch t := x.(type) {
		case int, float64:
			return t, nil
		case bool:
			if t {
				return 1, nil
			}
			return 0, nil
		}
	}
	return nil, newError(KindType, n.at, "bad operand type for unary %s: %s", n.op, typeName(x))
}

func (ev *evaluator) evalCompare(n *compare, sc *scope) (any, error) {
	left, err := ev.eval(n.x, sc)
	if err != nil {
		return nil, err
	}
	for i, op := range n.ops {
		right, err := ev.eval(n.ys[i], sc)
		if err != nil {
			return nil, err
		}
		ok, err := compareOp(op, left, right)
		if err != nil {
			return nil, at(err, n.at)
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

func compareOp(op string, a, b any) (bool, error) {
	switch op {
	case "==":
		return equal(a, b), nil
	case "!=":
		return !equal(a, b), nil
	case "is":
		return identical(a, b), nil
	case "is not":
		return !identical(a, b), nil
	case "in":
		return contains(b, a)
	case "not in":
		ok, err := contains(b, a)
		return !ok, err
	}
	c, err := compareValues(a, b)
	if err != nil {
		return false, err
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, newError(KindSyntax, 0, "unknown comparison %q", op)
}

func identical(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ba, aok := a.(bool)
	bb, bok := b.(bool)
	if aok || bok {
		return aok && bok && ba == bb
	}
	return false
}

func contains(container, item any) (bool, error) {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, newError(KindType, 0, "'in <string>' requires string as left operand, not %s", typeName(item))
		}
		return strings.Contains(c, s), nil
	case []any:
		for _, v := range c {
			if equal(v, item) {
				return true, nil
			}
		}
		return false, nil
	case *Set:
		if _, err := hashKey(item); err != nil {
			return false, err
		}
		return c.Contains(item), nil
	case map[string]any:
		key, err := dictKey(item, 0)
		if err != nil {
			return false, nil
		}
		_, ok := c[key]
		return ok, nil
	}
	return false, newError(KindType, 0, "argument of type %s is not a container", typeName(container))
}

func (ev *evaluator) arith(op string, x, y any, pos int) (any, error) {
	switch op {
	case "+":
		switch a := x.(type) {
		case string:
			if b, ok := y.(string); ok {
				return a + b, nil
			}
		case []any:
			if b, ok := y.([]any); ok {
				if err := ev.spend(len(a)+len(b), pos); err != nil {
					return nil, err
				}
				out := make([]any, 0, len(a)+len(b))
				return append(append(out, a...), b...), nil
			}
		}
	case "*":
		if v, ok, err := ev.repeat(x, y, pos); ok || err != nil {
			return v, err
		}
		if v, ok, err := ev.repeat(y, x, pos); ok || err != nil {
			return v, err
		}
	}

	ai, aInt := intValue(x)
	bi, bInt := intValue(y)
	af, aNum := toFloat(x)
	bf, bNum := toFloat(y)
	if !aNum || !bNum {
		return nil, newError(KindType, pos, "unsupported operand types for %s: %s and %s", op, typeName(x), typeName(y))
	}
	bothInt := aInt && bInt

	switch op {
	case "+":
		if bothInt {
			return ai + bi, nil
		}
		return af + bf, nil
	case "-":
		if bothInt {
			return ai - bi, nil
		}
		return af - bf, nil
	case "*":
		if bothInt {
			return ai * bi, nil
		}
		return af * bf, nil
	case "/":
		if bf == 0 {
			return nil, newError(KindZeroDivision, pos, "division by zero")
		}
		return af / bf, nil
	case "//":
		if bf == 0 {
			return nil, newError(KindZeroDivision, pos, "integer division by zero")
		}
		if bothInt {
			return floorDiv(ai, bi), nil
		}
		return math.Floor(af / bf), nil
	case "%":
		if bf == 0 {
			return nil, newError(KindZeroDivision, pos, "modulo by zero")
		}
		if bothInt {
			return ai - floorDiv(ai, bi)*bi, nil
		}
		return af - math.Floor(af/bf)*bf, nil
	case "**":
		if bothInt && bi >= 0 {
			if r, ok := intPow(ai, bi); ok {
				return r, nil
			}
		}
		if af == 0 && bf < 0 {
			return nil, newError(KindZeroDivision, pos, "zero to a negative power")
		}
		return math.Pow(af, bf), nil
	}
	return nil, newError(KindSyntax, pos, "unknown operator %q", op)
}

// repeat implements sequence * int.
func (ev *evaluator) repeat(seq, count any, pos int) (any, bool, error) {
	n, ok := intValue(count)
	if !ok {
		return nil, false, nil
	}
	if n < 0 {
		n = 0
	}
	switch s := seq.(type) {
	case string:
		if err := ev.spendProduct(len(s), n, pos); err != nil {
			return nil, true, err
		}
		if len(s) == 0 {
			return "", true, nil
		}
		return strings.Repeat(s, n), true, nil
	case []any:
		if err := ev.spendProduct(len(s), n, pos); err != nil {
			return nil, true, err
		}
		if len(s) == 0 {
			return []any{}, true, nil
		}
		out := make([]any, 0, len(s)*n)
		for i := 0; i < n; i++ {
			out = append(out, s...)
		}
		return out, true, nil
	}
	return nil, false, nil
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func intPow(base, exp int) (int, bool) {
	result := 1
	for exp > 0 {
		if exp&1 == 1 {
			if !mulOK(result, base) {
				return 0, false
			}
			result *= base
		}
		exp >>= 1
		if exp > 0 {
			if !mulOK(base, base) {
				return 0, false
			}
			base *= base
		}
	}
	return result, true
}

func mulOK(a, b int) bool {
	if a == 0 || b == 0 {
		return true
	}
	c := a * b
	return c/b == a && !(a == -1 && b == math.MinInt) && !(b == -1 && a == math.MinInt)
}

func getAttr(x any, attrName string, pos int) (any, error) {
	if strings.HasPrefix(attrName, "_") {
		return nil, newError(KindAttribute, pos, "access to attribute %q is not allowed", attrName)
	}
	if m, ok := x.(map[string]any); ok {
		if v, ok := m[attrName]; ok {
			return v, nil
		}
		return nil, newError(KindAttribute, pos, "dict has no attribute or key %q", attrName)
	}
	return nil, newError(KindAttribute, pos, "%s object has no attribute %q", typeName(x), attrName)
}

func getIndex(x, idx any, pos int) (any, error) {
	switch c := x.(type) {
	case map[string]any:
		key, err := dictKey(idx, pos)
		if err != nil {
			return nil, err
		}
		v, ok := c[key]
		if !ok {
			return nil, newError(KindKey, pos, "key %q not found", key)
		}
		return v, nil
	case []any:
		i, err := seqIndex(idx, len(c), pos)
		if err != nil {
			return nil, err
		}
		return c[i], nil
	case string:
		runes := []rune(c)
		i, err := seqIndex(idx, len(runes), pos)
		if err != nil {
			return nil, err
		}
		return string(runes[i]), nil
	}
	return nil, newError(KindType, pos, "%s object is not subscriptable", typeName(x))
}

func seqIndex(idx any, length, pos int) (int, error) {
	i, ok := idx.(int)
	if !ok {
		if b, isBool := idx.(bool); isBool {
			i, ok = 0, true
			if b {
				i = 1
			}
		}
	}
	if !ok {
		return 0, newError(KindType, pos, "indices must be integers, not %s", typeName(idx))
	}
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, newError(KindIndex, pos, "index %d out of range (length %d)", idx, length)
	}
	return i, nil
}

func (ev *evaluator) evalSlice(n *slice, sc *scope) (any, error) {
	x, err := ev.eval(n.x, sc)
	if err != nil {
		return nil, err
	}
	bound := func(b node) (*int, error) {
		if b == nil {
			return nil, nil
		}
		v, err := ev.eval(b, sc)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		i, ok := intValue(v)
		if !ok {
			return nil, newError(KindType, b.pos(), "slice indices must be integers, not %s", typeName(v))
		}
		return &i, nil
	}
	lo, err := bound(n.lo)
	if err != nil {
		return nil, err
	}
	hi, err := bound(n.hi)
	if err != nil {
		return nil, err
	}
	step, err := bound(n.step)
	if err != nil {
		return nil, err
	}

	var items []any
	isString := false
	switch t := x.(type) {
	case []any:
		items = t
	case string:
		isString = true
		for _, r := range t {
			items = append(items, string(r))
		}
	default:
		return nil, newError(KindType, n.at, "%s object is not sliceable", typeName(x))
	}

	indices, err := sliceIndices(len(items), lo, hi, step, n.at)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(indices))
	for _, i := range indices {
		out = append(out, items[i])
	}
	if isString {
		var sb strings.Builder
		for _, v := range out {
			sb.WriteString(v.(string))
		}
		return sb.String(), nil
	}
	return out, nil
}

func sliceIndices(length int, lo, hi, step *int, pos int) ([]int, error) {
	st := 1
	if step != nil {
		st = *step
	}
	if st == 0 {
		return nil, newError(KindType, pos, "slice step cannot be zero")
	}

	clamp := func(p *int, def int, lower, upper int) int {
		if p == nil {
			return def
		}
		v := *p
		if v < 0 {
			v += length
			if v < lower {
				v = lower
			}
		} else if v > upper {
			v = upper
		}
		return v
	}

	var out []int
	if st > 0 {
		start := clamp(lo, 0, 0, length)
		stop := clamp(hi, length, 0, length)
		for i := start; i < stop; i += st {
			out = append(out, i)
		}
	} else {
		start := clamp(lo, length-1, -1, length-1)
		stop := clamp(hi, -1, -1, length-1)
		for i := start; i > stop; i += st {
			out = append(out, i)
		}
	}
	return out, nil
}

func (ev *evaluator) evalComprehension(n *comprehension, sc *scope) (any, error) {
	var list []any
	var set *Set
	var dict map[string]any
	switch n.kind {
	case "set":
		set, _ = NewSet()
	case "dict":
		dict = make(map[string]any)
	}

	emit := func(inner *scope) error {
		v, err := ev.eval(n.elem, inner)
		if err != nil {
			return err
		}
		switch n.kind {
		case "set":
			return at(set.Add(v), n.elem.pos())
		case "dict":
			k, err := ev.eval(n.key, inner)
			if err != nil {
				return err
			}
			key, err := dictKey(k, n.key.pos())
			if err != nil {
				return err
			}
			dict[key] = v
		default:
			list = append(list, v)
		}
		return nil
	}

	if err := ev.runClauses(n.clauses, sc, emit); err != nil {
		return nil, err
	}
	switch n.kind {
	case "set":
		return set, nil
	case "dict":
		return dict, nil
	}
	if list == nil {
		list = []any{}
	}
	return list, nil
}

func (ev *evaluator) runClauses(clauses []compClause, sc *scope, emit func(*scope) error) error {
	if len(clauses) == 0 {
		return emit(sc)
	}
	cl := clauses[0]
	iterable, err := ev.eval(cl.iter, sc)
	if err != nil {
		return err
	}
	items, err := iterate(iterable)
	if err != nil {
		return at(err, cl.iter.pos())
	}

	for _, item := range items {
		if err := ev.spend(1, cl.iter.pos()); err != nil {
			return err
		}
		inner := &scope{parent: sc, vars: make(map[string]any, len(cl.targets))}
		if err := bindTargets(inner, cl.targets, item, cl.iter.pos()); err != nil {
			return err
		}
		keep := true
		for _, cond := range cl.conds {
			v, err := ev.eval(cond, inner)
			if err != nil {
				return err
			}
			if !Truthy(v) {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		if err := ev.runClauses(clauses[1:], inner, emit); err != nil {
			return err
		}
	}
	return nil
}

func bindTargets(sc *scope, targets []string, item any, pos int) error {
	if len(targets) == 1 {
		sc.vars[targets[0]] = item
		return nil
	}
	parts, err := iterate(item)
	if err != nil {
		return at(err, pos)
	}
	if len(parts) != len(targets) {
		return newError(KindType, pos, "cannot unpack %d values into %d names", len(parts), len(targets))
	}
	for i, t := range targets {
		sc.vars[t] = parts[i]
	}
	return nil
}
