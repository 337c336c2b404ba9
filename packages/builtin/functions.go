package builtin

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/abdul-hamid-achik/stagespec/packages/expr"
)

const (
	alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	lowercase    = "abcdefghijklmnopqrstuvwxyz"
)

type Registry struct {
	funcs map[string]expr.Function
	now   func() time.Time
}

func NewRegistry() *Registry {
	r := &Registry{
		funcs: make(map[string]expr.Function),
		now:   time.Now,
	}
	r.registerDefaults()
	return r
}

func (r *Registry) registerDefaults() {
	r.funcs["now"] = r.funcNow
	r.funcs["timestamp"] = r.funcTimestamp
	r.funcs["timestampMs"] = r.funcTimestampMs
	r.funcs["date"] = r.funcDate
	r.funcs["uuid"] = funcUUID
	r.funcs["random"] = funcRandom
	r.funcs["randomString"] = lengthFunc("randomString", 16, alphanumeric)
	r.funcs["randomAlphanumeric"] = lengthFunc("randomAlphanumeric", 8, alphanumeric)
	r.funcs["randomEmail"] = funcRandomEmail
	r.funcs["base64"] = stringFunc("base64", func(s string) (any, error) {
		return base64.StdEncoding.EncodeToString([]byte(s)), nil
	})
	r.funcs["base64Decode"] = stringFunc("base64Decode", func(s string) (any, error) {
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, err
		}
		return string(decoded), nil
	})
	r.funcs["md5"] = stringFunc("md5", func(s string) (any, error) {
		hash := md5.Sum([]byte(s))
		return hex.EncodeToString(hash[:]), nil
	})
	r.funcs["sha256"] = stringFunc("sha256", func(s string) (any, error) {
		hash := sha256.Sum256([]byte(s))
		return hex.EncodeToString(hash[:]), nil
	})
	r.funcs["urlEncode"] = stringFunc("urlEncode", func(s string) (any, error) {
		return url.QueryEscape(s), nil
	})
	r.funcs["urlDecode"] = stringFunc("urlDecode", func(s string) (any, error) {
		return url.QueryUnescape(s)
	})
	r.funcs["env"] = funcEnv
}

// Register adds or replaces a function.
func (r *Registry) Register(name string, fn expr.Function) {
	r.funcs[name] = fn
}

// Functions returns the registered functions for expr.WithFunctions.
func (r *Registry) Functions() map[string]expr.Function {
	return r.funcs
}

// Option returns an expr option exposing the registry.
func (r *Registry) Option() expr.Option {
	return expr.WithFunctions(r.funcs)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// arg returns the i-th positional argument or the keyword argument name.
func arg(args []any, kwargs map[string]any, i int, name string) (any, bool) {
	if i < len(args) {
		return args[i], true
	}
	v, ok := kwargs[name]
	return v, ok
}

func intArg(fnName string, args []any, kwargs map[string]any, i int, name string, def int) (int, error) {
	v, ok := arg(args, kwargs, i, name)
	if !ok {
		return def, nil
	}
	n, isInt := v.(int)
	if !isInt {
		return 0, fmt.Errorf("%s() %s must be an integer, got %v", fnName, name, v)
	}
	return n, nil
}

func stringFunc(fnName string, fn func(string) (any, error)) expr.Function {
	return func(args []any, kwargs map[string]any) (any, error) {
		v, ok := arg(args, kwargs, 0, "value")
		if !ok {
			return nil, fmt.Errorf("%s() missing value argument", fnName)
		}
		s, isString := v.(string)
		if !isString {
			s = expr.ToText(v)
		}
		return fn(s)
	}
}

func lengthFunc(fnName string, def int, charset string) expr.Function {
	return func(args []any, kwargs map[string]any) (any, error) {
		n, err := intArg(fnName, args, kwargs, 0, "length", def)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("%s() length must not be negative", fnName)
		}
		return randomString(n, charset), nil
	}
}

func (r *Registry) funcNow(_ []any, _ map[string]any) (any, error) {
	return r.now().UTC().Format(time.RFC3339), nil
}

func (r *Registry) funcTimestamp(_ []any, _ map[string]any) (any, error) {
	return int(r.now().Unix()), nil
}

func (r *Registry) funcTimestampMs(_ []any, _ map[string]any) (any, error) {
	return int(r.now().UnixMilli()), nil
}

func (r *Registry) funcDate(args []any, kwargs map[string]any) (any, error) {
	layout := "2006-01-02"
	if v, ok := arg(args, kwargs, 0, "layout"); ok {
		s, isString := v.(string)
		if !isString {
			return nil, fmt.Errorf("layout must be a string")
		}
		layout = s
	}
	return r.now().UTC().Format(layout), nil
}

func funcUUID(_ []any, _ map[string]any) (any, error) {
	return uuid.New().String(), nil
}

func funcRandom(args []any, kwargs map[string]any) (any, error) {
	lo, err := intArg("random", args, kwargs, 0, "min", 0)
	if err != nil {
		return nil, err
	}
	hi, err := intArg("random", args, kwargs, 1, "max", 100)
	if err != nil {
		return nil, err
	}
	if hi < lo {
		return nil, fmt.Errorf("max %d is less than min %d", hi, lo)
	}
	return rand.IntN(hi-lo+1) + lo, nil
}

func funcRandomEmail(_ []any, _ map[string]any) (any, error) {
	user := randomString(8, lowercase)
	domain := randomString(6, lowercase)
	return fmt.Sprintf("%s@%s.com", user, domain), nil
}

func funcEnv(args []any, kwargs map[string]any) (any, error) {
	v, ok := arg(args, kwargs, 0, "name")
	if !ok {
		return nil, fmt.Errorf("missing name argument")
	}
	name, isString := v.(string)
	if !isString {
		return nil, fmt.Errorf("name must be a string")
	}
	if value, ok := os.LookupEnv(name); ok {
		return value, nil
	}
	def, _ := arg(args, kwargs, 1, "default")
	return def, nil
}

func randomString(length int, charset string) string {
	result := make([]byte, length)
	for i := range result {
		result[i] = charset[rand.IntN(len(charset))]
	}
	return string(result)
}
