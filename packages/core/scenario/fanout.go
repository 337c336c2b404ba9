package scenario

import (
	"fmt"
	"strings"
)

// SavePolicy decides how the saves of parallel iterations reach the global
// context.
type SavePolicy string

const (
	SaveNone    SavePolicy = "none"
	SaveLast    SavePolicy = "last"
	SaveMerge   SavePolicy = "merge"
	SaveCollect SavePolicy = "collect"
)

// IterationKey is set in every iteration overlay to the iteration index.
const IterationKey = "iteration"

// FanOutSettings are shared by every fan-out variant.
type FanOutSettings struct {
	MaxConcurrency int
	FailFast       bool
	Rate           float64
	Burst          int
	Save           SavePolicy
}

// FanOut describes a parallel stage. The implementations are RepeatFanOut
// and ParametrizeFanOut.
type FanOut interface {
	// Iterations returns one variable overlay per iteration, in index order.
	Iterations() ([]map[string]any, error)
	Settings() FanOutSettings
}

// RepeatFanOut runs the stage Count times.
type RepeatFanOut struct {
	Count int
	FanOutSettings
}

// Parameter is one parametrize entry. With several Names, each value is a
// list holding one element per name.
type Parameter struct {
	Names  []string
	Values []any
}

// ParametrizeFanOut runs the stage once per combination of parameter
// values, taking the cartesian product in declared order.
type ParametrizeFanOut struct {
	Params []Parameter
	FanOutSettings
}

func (f *RepeatFanOut) Settings() FanOutSettings      { return f.FanOutSettings }
func (f *ParametrizeFanOut) Settings() FanOutSettings { return f.FanOutSettings }

func (f *RepeatFanOut) Iterations() ([]map[string]any, error) {
	out := make([]map[string]any, f.Count)
	for i := range out {
		out[i] = map[string]any{IterationKey: i}
	}
	return out, nil
}

func (f *ParametrizeFanOut) Iterations() ([]map[string]any, error) {
	combos := []map[string]any{{}}
	for _, p := range f.Params {
		var next []map[string]any
		for _, base := range combos {
			for _, v := range p.Values {
				bound, err := p.bind(v)
				if err != nil {
					return nil, err
				}
				m := make(map[string]any, len(base)+len(bound)+1)
				for k, bv := range base {
					m[k] = bv
				}
				for k, bv := range bound {
					m[k] = bv
				}
				next = append(next, m)
			}
		}
		combos = next
	}
	for i, m := range combos {
		m[IterationKey] = i
	}
	return combos, nil
}

func (p Parameter) bind(v any) (map[string]any, error) {
	if len(p.Names) == 1 {
		return map[string]any{p.Names[0]: v}, nil
	}
	vals, ok := v.([]any)
	if !ok || len(vals) != len(p.Names) {
		return nil, fmt.Errorf("parametrize %s: each value must be a list of %d items", strings.Join(p.Names, ","), len(p.Names))
	}
	out := make(map[string]any, len(vals))
	for i, name := range p.Names {
		out[name] = vals[i]
	}
	return out, nil
}

type rawParameter struct {
	Name   any   `mapstructure:"name"`
	Values []any `mapstructure:"values"`
}

type rawFanOut struct {
	Repeat         *int           `mapstructure:"repeat"`
	Parametrize    []rawParameter `mapstructure:"parametrize"`
	MaxConcurrency int            `mapstructure:"max_concurrency"`
	FailFast       bool           `mapstructure:"fail_fast"`
	Rate           float64        `mapstructure:"rate"`
	Burst          int            `mapstructure:"burst"`
	Save           string         `mapstructure:"save"`
}

// DecodeFanOut decodes a parallel descriptor holding exactly one of repeat or
// parametrize.
func DecodeFanOut(v any) (FanOut, error) {
	m, err := asMap(v, "")
	if err != nil {
		return nil, err
	}
	var raw rawFanOut
	if err := decodeStrict(m, &raw); err != nil {
		return nil, wrapErr("", err)
	}

	settings := FanOutSettings{
		MaxConcurrency: raw.MaxConcurrency,
		FailFast:       raw.FailFast,
		Rate:           raw.Rate,
		Burst:          raw.Burst,
		Save:           SavePolicy(strings.ToLower(raw.Save)),
	}
	switch settings.Save {
	case "":
		settings.Save = SaveNone
	case SaveNone, SaveLast, SaveMerge, SaveCollect:
	default:
		return nil, decodeErr("save", "unknown policy %q (want none, last, merge or collect)", raw.Save)
	}
	if settings.MaxConcurrency < 0 {
		return nil, decodeErr("max_concurrency", "must not be negative")
	}
	if settings.Rate < 0 {
		return nil, decodeErr("rate", "must not be negative")
	}

	switch {
	case raw.Repeat != nil && raw.Parametrize != nil:
		return nil, decodeErr("", "use only one of repeat or parametrize")
	case raw.Repeat != nil:
		if *raw.Repeat < 1 {
			return nil, decodeErr("repeat", "must be at least 1")
		}
		return &RepeatFanOut{Count: *raw.Repeat, FanOutSettings: settings}, nil
	case raw.Parametrize != nil:
		f := &ParametrizeFanOut{FanOutSettings: settings}
		for i, rp := range raw.Parametrize {
			p, err := decodeParameter(rp)
			if err != nil {
				return nil, wrapErr(fmt.Sprintf("parametrize[%d]", i), err)
			}
			f.Params = append(f.Params, p)
		}
		if len(f.Params) == 0 {
			return nil, decodeErr("parametrize", "must not be empty")
		}
		if _, err := f.Iterations(); err != nil {
			return nil, wrapErr("parametrize", err)
		}
		return f, nil
	}
	return nil, decodeErr("", "one of repeat or parametrize is required")
}

func decodeParameter(rp rawParameter) (Parameter, error) {
	var names []string
	switch n := rp.Name.(type) {
	case string:
		names = []string{n}
	case []any:
		for _, item := range n {
			s, ok := item.(string)
			if !ok {
				return Parameter{}, decodeErr("name", "names must be strings")
			}
			names = append(names, s)
		}
	default:
		return Parameter{}, decodeErr("name", "must be a string or a list of strings")
	}
	if len(names) == 0 {
		return Parameter{}, decodeErr("name", "is required")
	}
	if len(rp.Values) == 0 {
		return Parameter{}, decodeErr("values", "must not be empty")
	}
	return Parameter{Names: names, Values: rp.Values}, nil
}
