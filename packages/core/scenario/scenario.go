// Package scenario decodes resolved documents into typed scenarios: stages,
// request templates, response-processing steps and fan-out descriptors.
package scenario

import (
	"fmt"
	"time"
)

// Scenario is an ordered list of stages plus scenario-wide settings.
type Scenario struct {
	Name        string
	Description string
	Variables   map[string]any
	Auth        map[string]any
	TLS         *TLSConfig
	Stages      []*Stage

	// Path is the file the scenario was loaded from, when known.
	Path string
}

// TLSConfig holds scenario-wide certificate settings.
type TLSConfig struct {
	Verify *bool  `mapstructure:"verify"`
	Cert   string `mapstructure:"cert"`
	Key    string `mapstructure:"key"`
}

// Retry re-runs a failing stage up to Max more times.
type Retry struct {
	Max   int           `mapstructure:"max"`
	Delay time.Duration `mapstructure:"delay"`
}

// Stage is one request plus the steps applied to its response.
type Stage struct {
	Name        string
	AlwaysRun   bool
	ExpectFail  bool
	Skip        bool
	SkipReason  string
	Variables   map[string]any
	Retry       *Retry
	DelayBefore time.Duration
	DelayAfter  time.Duration
	FanOut      FanOut
	Request     *RequestTemplate
	Steps       []Step
}

type rawScenario struct {
	Name        string           `mapstructure:"name"`
	Description string           `mapstructure:"description"`
	Variables   map[string]any   `mapstructure:"variables"`
	Auth        map[string]any   `mapstructure:"auth"`
	TLS         *TLSConfig       `mapstructure:"tls"`
	Stages      []map[string]any `mapstructure:"stages"`
}

type rawStage struct {
	Name        string           `mapstructure:"name"`
	AlwaysRun   bool             `mapstructure:"always_run"`
	XFail       bool             `mapstructure:"xfail"`
	Skip        any              `mapstructure:"skip"`
	Variables   map[string]any   `mapstructure:"variables"`
	Retry       *Retry           `mapstructure:"retry"`
	DelayBefore time.Duration    `mapstructure:"delay_before"`
	DelayAfter  time.Duration    `mapstructure:"delay_after"`
	Parallel    map[string]any   `mapstructure:"parallel"`
	Request     map[string]any   `mapstructure:"request"`
	Steps       []map[string]any `mapstructure:"steps"`
}

// Decode builds a Scenario from a resolved document.
func Decode(doc any) (*Scenario, error) {
	m, err := asMap(doc, "")
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, decodeErr("", "empty document")
	}

	var raw rawScenario
	if err := decodeStrict(m, &raw); err != nil {
		return nil, wrapErr("", err)
	}
	if raw.Name == "" {
		return nil, decodeErr("name", "is required")
	}
	if len(raw.Stages) == 0 {
		return nil, decodeErr("stages", "at least one stage is required")
	}

	sc := &Scenario{
		Name:        raw.Name,
		Description: raw.Description,
		Variables:   raw.Variables,
		Auth:        raw.Auth,
		TLS:         raw.TLS,
	}

	seen := make(map[string]int, len(raw.Stages))
	for i, rs := range raw.Stages {
		path := fmt.Sprintf("stages[%d]", i)
		st, err := DecodeStage(rs)
		if err != nil {
			return nil, wrapErr(path, err)
		}
		if prev, dup := seen[st.Name]; dup {
			return nil, decodeErr(path+".name", "duplicate stage name %q (also stages[%d])", st.Name, prev)
		}
		seen[st.Name] = i
		sc.Stages = append(sc.Stages, st)
	}
	return sc, nil
}

// DecodeStage decodes one stage mapping.
func DecodeStage(m map[string]any) (*Stage, error) {
	var raw rawStage
	if err := decodeStrict(m, &raw); err != nil {
		return nil, wrapErr("", err)
	}
	if raw.Name == "" {
		return nil, decodeErr("name", "is required")
	}

	st := &Stage{
		Name:        raw.Name,
		AlwaysRun:   raw.AlwaysRun,
		ExpectFail:  raw.XFail,
		Variables:   raw.Variables,
		Retry:       raw.Retry,
		DelayBefore: raw.DelayBefore,
		DelayAfter:  raw.DelayAfter,
	}
	switch s := raw.Skip.(type) {
	case nil:
	case bool:
		st.Skip = s
	case string:
		st.Skip = true
		st.SkipReason = s
	default:
		return nil, decodeErr("skip", "must be a boolean or a reason string")
	}
	if st.Retry != nil && st.Retry.Max < 0 {
		return nil, decodeErr("retry.max", "must not be negative")
	}

	if raw.Request == nil {
		return nil, decodeErr("request", "is required")
	}
	req, err := DecodeRequest(raw.Request)
	if err != nil {
		return nil, wrapErr("request", err)
	}
	st.Request = req

	if raw.Parallel != nil {
		fo, err := DecodeFanOut(raw.Parallel)
		if err != nil {
			return nil, wrapErr("parallel", err)
		}
		st.FanOut = fo
	}

	for i, rs := range raw.Steps {
		step, err := DecodeStep(rs)
		if err != nil {
			return nil, wrapErr(fmt.Sprintf("steps[%d]", i), err)
		}
		st.Steps = append(st.Steps, step)
	}
	return st, nil
}

// Stage returns the stage called name, or nil.
func (s *Scenario) Stage(name string) *Stage {
	for _, st := range s.Stages {
		if st.Name == name {
			return st
		}
	}
	return nil
}
