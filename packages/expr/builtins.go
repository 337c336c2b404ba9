package expr

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
)

type callContext struct {
	ev  *evaluator
	sc  *scope
	pos int
}

type builtinFunc func(c *callContext, args []any, kwargs map[string]any) (any, error)

var builtins map[string]builtinFunc

func init() {
	builtins = map[string]builtinFunc{
		"int":       fnInt,
		"float":     fnFloat,
		"str":       fnStr,
		"bool":      fnBool,
		"list":      fnList,
		"tuple":     fnList,
		"set":       fnSet,
		"dict":      fnDict,
		"len":       fnLen,
		"min":       fnMin,
		"max":       fnMax,
		"sum":       fnSum,
		"abs":       fnAbs,
		"round":     fnRound,
		"sorted":    fnSorted,
		"reversed":  fnReversed,
		"enumerate": fnEnumerate,
		"zip":       fnZip,
		"range":     fnRange,
		"any":       fnAny,
		"all":       fnAll,
		"get_var":   fnGetVar,
		"has_var":   fnHasVar,
	}
}

// Builtins lists the callable function names.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (ev *evaluator) evalCall(n *call, sc *scope) (any, error) {
	args := make([]any, 0, len(n.args))
	for _, a := range n.args {
		v, err := ev.eval(a, sc)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	var kwargs map[string]any
	if len(n.kwargs) > 0 {
		kwargs = make(map[string]any, len(n.kwargs))
		for _, kw := range n.kwargs {
			v, err := ev.eval(kw.value, sc)
			if err != nil {
				return nil, err
			}
			kwargs[kw.name] = v
		}
	}
	c := &callContext{ev: ev, sc: sc, pos: n.at}

	switch fn := n.fn.(type) {
	case *name:
		b, ok := builtins[fn.ident]
		if !ok {
			if host, ok := ev.funcs[fn.ident]; ok {
				return callHost(fn.ident, host, args, kwargs, n.at)
			}
			if _, isVar := ev.lookup(fn.ident, sc); isVar {
				return nil, newError(KindType, fn.at, "%q is not callable", fn.ident)
			}
			return nil, newError(KindUnknownFunction, fn.at, "unknown function %q", fn.ident)
		}
		v, err := b(c, args, kwargs)
		return v, at(err, n.at)
	case *attr:
		recv, err := ev.eval(fn.x, sc)
		if err != nil {
			return nil, err
		}
		v, err := callMethod(c, recv, fn.name, args, kwargs)
		return v, at(err, fn.at)
	}
	return nil, newError(KindType, n.at, "expression is not callable")
}

func callHost(fnName string, fn Function, args []any, kwargs map[string]any, pos int) (any, error) {
	plain := make([]any, len(args))
	for i, a := range args {
		plain[i] = Plain(a)
	}
	for k, v := range kwargs {
		kwargs[k] = Plain(v)
	}
	v, err := fn(plain, kwargs)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, at(e, pos)
		}
		return nil, newError(KindType, pos, "%s(): %v", fnName, err)
	}
	return native(v), nil
}

func typeErr(format string, args ...any) error {
	return newError(KindType, 0, format, args...)
}

func arity(fnName string, args []any, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		if min == max {
			return typeErr("%s() takes %d argument(s), %d given", fnName, min, len(args))
		}
		return typeErr("%s() takes %d to %d arguments, %d given", fnName, min, max, len(args))
	}
	return nil
}

func noKwargs(fnName string, kwargs map[string]any, allowed ...string) error {
	for k := range kwargs {
		ok := false
		for _, a := range allowed {
			if k == a {
				ok = true
			}
		}
		if !ok {
			return typeErr("%s() got an unexpected keyword argument %q", fnName, k)
		}
	}
	return nil
}

func fnInt(_ *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("int", kwargs); err != nil {
		return nil, err
	}
	if err := arity("int", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return 0, nil
	}
	switch v := args[0].(type) {
	case int:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, typeErr("cannot convert %s to int", formatFloat(v))
		}
		return int(v), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, typeErr("invalid literal for int(): %q", v)
		}
		return i, nil
	}
	return nil, typeErr("int() argument must be a string or a number, not %s", typeName(args[0]))
}

func fnFloat(_ *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("float", kwargs); err != nil {
		return nil, err
	}
	if err := arity("float", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return 0.0, nil
	}
	if s, ok := args[0].(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, typeErr("could not convert string to float: %q", s)
		}
		return f, nil
	}
	if f, ok := toFloat(args[0]); ok {
		return f, nil
	}
	return nil, typeErr("float() argument must be a string or a number, not %s", typeName(args[0]))
}

func fnStr(_ *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("str", kwargs); err != nil {
		return nil, err
	}
	if err := arity("str", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return "", nil
	}
	return ToText(args[0]), nil
}

func fnBool(_ *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("bool", kwargs); err != nil {
		return nil, err
	}
	if err := arity("bool", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return false, nil
	}
	return Truthy(args[0]), nil
}

func fnList(_ *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("list", kwargs); err != nil {
		return nil, err
	}
	if err := arity("list", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return []any{}, nil
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	copy(out, items)
	return out, nil
}

func fnSet(_ *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("set", kwargs); err != nil {
		return nil, err
	}
	if err := arity("set", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return NewSet()
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	return NewSet(items...)
}

func fnDict(_ *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := arity("dict", args, 0, 1); err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if len(args) == 1 {
		switch src := args[0].(type) {
		case map[string]any:
			for k, v := range src {
				out[k] = v
			}
		default:
			pairs, err := iterate(src)
			if err != nil {
				return nil, err
			}
			for _, p := range pairs {
				kv, ok := p.([]any)
				if !ok || len(kv) != 2 {
					return nil, typeErr("dict() sequence elements must be pairs")
				}
				key, err := dictKey(kv[0], 0)
				if err != nil {
					return nil, err
				}
				out[key] = kv[1]
			}
		}
	}
	for k, v := range kwargs {
		out[k] = v
	}
	return out, nil
}

func fnLen(_ *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("len", kwargs); err != nil {
		return nil, err
	}
	if err := arity("len", args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case string:
		return len([]rune(v)), nil
	case []any:
		return len(v), nil
	case map[string]any:
		return len(v), nil
	case *Set:
		return v.Len(), nil
	}
	return nil, typeErr("object of type %s has no len()", typeName(args[0]))
}

func extremum(fnName string, args []any, kwargs map[string]any, want int) (any, error) {
	if err := noKwargs(fnName, kwargs, "default"); err != nil {
		return nil, err
	}
	if err := arity(fnName, args, 1, -1); err != nil {
		return nil, err
	}
	items := args
	if len(args) == 1 {
		var err error
		items, err = iterate(args[0])
		if err != nil {
			return nil, err
		}
	}
	if len(items) == 0 {
		if def, ok := kwargs["default"]; ok {
			return def, nil
		}
		return nil, typeErr("%s() arg is an empty sequence", fnName)
	}
	best := items[0]
	for _, v := range items[1:] {
		c, err := compareValues(v, best)
		if err != nil {
			return nil, err
		}
		if c == want {
			best = v
		}
	}
	return best, nil
}

func fnMin(_ *callContext, args []any, kwargs map[string]any) (any, error) {
	return extremum("min", args, kwargs, -1)
}

func fnMax(_ *callContext, args []any, kwargs map[string]any) (any, error) {
	return extremum("max", args, kwargs, 1)
}

func fnSum(c *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("sum", kwargs); err != nil {
		return nil, err
	}
	if err := arity("sum", args, 1, 2); err != nil {
		return nil, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	var total any = 0
	if len(args) == 2 {
		total = args[1]
	}
	for _, v := range items {
		total, err = c.ev.arith("+", total, v, c.pos)
		if err != nil {
			return nil, err
		}
	}
	return total, nil
}

func fnAbs(_ *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("abs", kwargs); err != nil {
		return nil, err
	}
	if err := arity("abs", args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case int:
		if v < 0 {
			return -v, nil
		}
		return v, nil
	case float64:
		return math.Abs(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	return nil, typeErr("bad operand type for abs(): %s", typeName(args[0]))
}

func fnRound(_ *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("round", kwargs, "ndigits"); err != nil {
		return nil, err
	}
	if err := arity("round", args, 1, 2); err != nil {
		return nil, err
	}
	f, ok := toFloat(args[0])
	if !ok {
		return nil, typeErr("round() argument must be a number, not %s", typeName(args[0]))
	}
	var nd any
	if len(args) == 2 {
		nd = args[1]
	} else if v, ok := kwargs["ndigits"]; ok {
		nd = v
	}
	if nd == nil {
		return int(math.RoundToEven(f)), nil
	}
	digits, ok := intValue(nd)
	if !ok {
		return nil, typeErr("round() ndigits must be an integer")
	}
	scale := math.Pow(10, float64(digits))
	return math.RoundToEven(f*scale) / scale, nil
}

func fnSorted(_ *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("sorted", kwargs, "reverse"); err != nil {
		return nil, err
	}
	if err := arity("sorted", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	copy(out, items)

	var sortErr error
	sort.SliceStable(out, func(i, j int) bool {
		c, err := compareValues(out[i], out[j])
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	if Truthy(kwargs["reverse"]) {
		reverse(out)
	}
	return out, nil
}

func reverse(items []any) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

func fnReversed(_ *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("reversed", kwargs); err != nil {
		return nil, err
	}
	if err := arity("reversed", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	copy(out, items)
	reverse(out)
	return out, nil
}

func fnEnumerate(c *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("enumerate", kwargs, "start"); err != nil {
		return nil, err
	}
	if err := arity("enumerate", args, 1, 2); err != nil {
		return nil, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	start := 0
	if len(args) == 2 {
		kwargs = map[string]any{"start": args[1]}
	}
	if v, ok := kwargs["start"]; ok {
		s, ok := intValue(v)
		if !ok {
			return nil, typeErr("enumerate() start must be an integer")
		}
		start = s
	}
	if err := c.ev.spend(len(items), c.pos); err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = []any{start + i, v}
	}
	return out, nil
}

func fnZip(c *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("zip", kwargs); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return []any{}, nil
	}
	seqs := make([][]any, len(args))
	shortest := -1
	for i, a := range args {
		items, err := iterate(a)
		if err != nil {
			return nil, err
		}
		seqs[i] = items
		if shortest < 0 || len(items) < shortest {
			shortest = len(items)
		}
	}
	if err := c.ev.spend(shortest, c.pos); err != nil {
		return nil, err
	}
	out := make([]any, shortest)
	for i := 0; i < shortest; i++ {
		row := make([]any, len(seqs))
		for j := range seqs {
			row[j] = seqs[j][i]
		}
		out[i] = row
	}
	return out, nil
}

func fnRange(c *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("range", kwargs); err != nil {
		return nil, err
	}
	if err := arity("range", args, 1, 3); err != nil {
		return nil, err
	}
	ints := make([]int, len(args))
	for i, a := range args {
		v, ok := intValue(a)
		if !ok {
			return nil, typeErr("range() arguments must be integers, not %s", typeName(a))
		}
		ints[i] = v
	}
	start, stop, step := 0, 0, 1
	switch len(ints) {
	case 1:
		stop = ints[0]
	case 2:
		start, stop = ints[0], ints[1]
	case 3:
		start, stop, step = ints[0], ints[1], ints[2]
	}
	if step == 0 {
		return nil, typeErr("range() step must not be zero")
	}

	// The span of two ints always fits in a uint64.
	var count uint64
	if step > 0 && stop > start {
		count = (uint64(stop)-uint64(start)-1)/uint64(step) + 1
	} else if step < 0 && stop < start {
		count = (uint64(start)-uint64(stop)-1)/(-uint64(step)) + 1
	}
	if count > uint64(c.ev.budget-c.ev.used) {
		return nil, c.ev.tooComplex(c.pos)
	}
	if err := c.ev.spend(int(count), c.pos); err != nil {
		return nil, err
	}
	out := make([]any, count)
	for i := range out {
		out[i] = start + i*step
	}
	return out, nil
}

func fnAny(_ *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("any", kwargs); err != nil {
		return nil, err
	}
	if err := arity("any", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	for _, v := range items {
		if Truthy(v) {
			return true, nil
		}
	}
	return false, nil
}

func fnAll(_ *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("all", kwargs); err != nil {
		return nil, err
	}
	if err := arity("all", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	for _, v := range items {
		if !Truthy(v) {
			return false, nil
		}
	}
	return true, nil
}

// resolvePath looks up a dotted variable path such as "user.roles.0".
func (c *callContext) resolvePath(path string) (any, bool) {
	parts := strings.Split(path, ".")
	v, ok := c.ev.lookup(parts[0], c.sc)
	if !ok {
		return nil, false
	}
	for _, p := range parts[1:] {
		switch t := v.(type) {
		case map[string]any:
			v, ok = t[p]
			if !ok {
				return nil, false
			}
		case []any:
			i, err := strconv.Atoi(p)
			if err != nil || i < 0 || i >= len(t) {
				return nil, false
			}
			v = t[i]
		default:
			return nil, false
		}
		v = native(v)
	}
	return v, true
}

func fnGetVar(c *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("get_var", kwargs, "default"); err != nil {
		return nil, err
	}
	if err := arity("get_var", args, 1, 2); err != nil {
		return nil, err
	}
	path, ok := args[0].(string)
	if !ok {
		return nil, typeErr("get_var() name must be a string, not %s", typeName(args[0]))
	}
	if v, ok := c.resolvePath(path); ok {
		return v, nil
	}
	if len(args) == 2 {
		return args[1], nil
	}
	return kwargs["default"], nil
}

func fnHasVar(c *callContext, args []any, kwargs map[string]any) (any, error) {
	if err := noKwargs("has_var", kwargs); err != nil {
		return nil, err
	}
	if err := arity("has_var", args, 1, 1); err != nil {
		return nil, err
	}
	path, ok := args[0].(string)
	if !ok {
		return nil, typeErr("has_var() name must be a string, not %s", typeName(args[0]))
	}
	_, found := c.resolvePath(path)
	return found, nil
}
