package expr

import (
	"sort"
	"strings"
)

type methodFunc func(c *callContext, recv any, args []any) (any, error)

var stringMethods = map[string]methodFunc{
	"lower":      strUnary(strings.ToLower),
	"upper":      strUnary(strings.ToUpper),
	"strip":      strTrim(strings.TrimSpace, strings.Trim),
	"lstrip":     strTrim(func(s string) string { return strings.TrimLeft(s, " \t\r\n") }, strings.TrimLeft),
	"rstrip":     strTrim(func(s string) string { return strings.TrimRight(s, " \t\r\n") }, strings.TrimRight),
	"startswith": strPredicate(strings.HasPrefix),
	"endswith":   strPredicate(strings.HasSuffix),
	"split":      strSplit,
	"join":       strJoin,
	"replace":    strReplace,
	"find":       strFind,
	"count":      strCount,
	"isdigit":    strIsDigit,
}

var dictMethods = map[string]methodFunc{
	"get":    dictGet,
	"keys":   dictKeys,
	"values": dictValues,
	"items":  dictItems,
}

var listMethods = map[string]methodFunc{
	"index": listIndex,
	"count": listCount,
}

func callMethod(c *callContext, recv any, method string, args []any, kwargs map[string]any) (any, error) {
	if strings.HasPrefix(method, "_") {
		return nil, newError(KindAttribute, 0, "access to attribute %q is not allowed", method)
	}
	var table map[string]methodFunc
	switch recv.(type) {
	case string:
		table = stringMethods
	case map[string]any:
		table = dictMethods
	case []any:
		table = listMethods
	}
	fn, ok := table[method]
	if !ok {
		return nil, newError(KindAttribute, 0, "%s object has no method %q", typeName(recv), method)
	}
	if len(kwargs) > 0 {
		return nil, typeErr("%s() takes no keyword arguments", method)
	}
	return fn(c, recv, args)
}

func strUnary(f func(string) string) methodFunc {
	return func(_ *callContext, recv any, args []any) (any, error) {
		if err := arity("str method", args, 0, 0); err != nil {
			return nil, err
		}
		return f(recv.(string)), nil
	}
}

func strTrim(plain func(string) string, cutset func(string, string) string) methodFunc {
	return func(_ *callContext, recv any, args []any) (any, error) {
		if err := arity("strip", args, 0, 1); err != nil {
			return nil, err
		}
		s := recv.(string)
		if len(args) == 0 || args[0] == nil {
			return plain(s), nil
		}
		chars, ok := args[0].(string)
		if !ok {
			return nil, typeErr("strip arg must be a string")
		}
		return cutset(s, chars), nil
	}
}

func strPredicate(f func(string, string) bool) methodFunc {
	return func(_ *callContext, recv any, args []any) (any, error) {
		if err := arity("startswith/endswith", args, 1, 1); err != nil {
			return nil, err
		}
		s := recv.(string)
		switch p := args[0].(type) {
		case string:
			return f(s, p), nil
		case []any:
			for _, item := range p {
				if ps, ok := item.(string); ok && f(s, ps) {
					return true, nil
				}
			}
			return false, nil
		}
		return nil, typeErr("startswith/endswith argument must be a string or list of strings")
	}
}

func strSplit(c *callContext, recv any, args []any) (any, error) {
	if err := arity("split", args, 0, 2); err != nil {
		return nil, err
	}
	s := recv.(string)
	var parts []string
	if len(args) == 0 || args[0] == nil {
		parts = strings.Fields(s)
	} else {
		sep, ok := args[0].(string)
		if !ok || sep == "" {
			return nil, typeErr("split() separator must be a non-empty string")
		}
		n := -1
		if len(args) == 2 {
			m, ok := intValue(args[1])
			if !ok {
				return nil, typeErr("split() maxsplit must be an integer")
			}
			if m >= 0 {
				n = m + 1
			}
		}
		parts = strings.SplitN(s, sep, n)
	}
	if err := c.ev.spend(len(parts), c.pos); err != nil {
		return nil, err
	}
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func strJoin(_ *callContext, recv any, args []any) (any, error) {
	if err := arity("join", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	parts := make([]string, len(items))
	for i, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, typeErr("join() sequence item %d: expected str, found %s", i, typeName(it))
		}
		parts[i] = s
	}
	return strings.Join(parts, recv.(string)), nil
}

func strReplace(_ *callContext, recv any, args []any) (any, error) {
	if err := arity("replace", args, 2, 3); err != nil {
		return nil, err
	}
	old, ok1 := args[0].(string)
	repl, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return nil, typeErr("replace() arguments must be strings")
	}
	n := -1
	if len(args) == 3 {
		m, ok := intValue(args[2])
		if !ok {
			return nil, typeErr("replace() count must be an integer")
		}
		n = m
	}
	return strings.Replace(recv.(string), old, repl, n), nil
}

func strFind(_ *callContext, recv any, args []any) (any, error) {
	if err := arity("find", args, 1, 1); err != nil {
		return nil, err
	}
	sub, ok := args[0].(string)
	if !ok {
		return nil, typeErr("find() argument must be a string")
	}
	s := recv.(string)
	i := strings.Index(s, sub)
	if i < 0 {
		return -1, nil
	}
	return len([]rune(s[:i])), nil
}

func strCount(_ *callContext, recv any, args []any) (any, error) {
	if err := arity("count", args, 1, 1); err != nil {
		return nil, err
	}
	sub, ok := args[0].(string)
	if !ok {
		return nil, typeErr("count() argument must be a string")
	}
	return strings.Count(recv.(string), sub), nil
}

func strIsDigit(_ *callContext, recv any, args []any) (any, error) {
	if err := arity("isdigit", args, 0, 0); err != nil {
		return nil, err
	}
	s := recv.(string)
	if s == "" {
		return false, nil
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false, nil
		}
	}
	return true, nil
}

func dictGet(_ *callContext, recv any, args []any) (any, error) {
	if err := arity("get", args, 1, 2); err != nil {
		return nil, err
	}
	key, err := dictKey(args[0], 0)
	if err != nil {
		return nil, err
	}
	if v, ok := recv.(map[string]any)[key]; ok {
		return v, nil
	}
	if len(args) == 2 {
		return args[1], nil
	}
	return nil, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dictKeys(_ *callContext, recv any, args []any) (any, error) {
	if err := arity("keys", args, 0, 0); err != nil {
		return nil, err
	}
	m := recv.(map[string]any)
	out := make([]any, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, k)
	}
	return out, nil
}

func dictValues(_ *callContext, recv any, args []any) (any, error) {
	if err := arity("values", args, 0, 0); err != nil {
		return nil, err
	}
	m := recv.(map[string]any)
	out := make([]any, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, m[k])
	}
	return out, nil
}

func dictItems(_ *callContext, recv any, args []any) (any, error) {
	if err := arity("items", args, 0, 0); err != nil {
		return nil, err
	}
	m := recv.(map[string]any)
	out := make([]any, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, []any{k, m[k]})
	}
	return out, nil
}

func listIndex(_ *callContext, recv any, args []any) (any, error) {
	if err := arity("index", args, 1, 1); err != nil {
		return nil, err
	}
	for i, v := range recv.([]any) {
		if equal(v, args[0]) {
			return i, nil
		}
	}
	return nil, newError(KindIndex, 0, "%s is not in list", ToText(args[0]))
}

func listCount(_ *callContext, recv any, args []any) (any, error) {
	if err := arity("count", args, 1, 1); err != nil {
		return nil, err
	}
	n := 0
	for _, v := range recv.([]any) {
		if equal(v, args[0]) {
			n++
		}
	}
	return n, nil
}
