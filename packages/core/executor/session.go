package executor

import (
	"context"
	"maps"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/abdul-hamid-achik/stagespec/packages/core/scenario"
	"github.com/abdul-hamid-achik/stagespec/packages/core/vars"
	"github.com/abdul-hamid-achik/stagespec/packages/http"
	"github.com/abdul-hamid-achik/stagespec/packages/registry"
	"github.com/abdul-hamid-achik/stagespec/packages/template"
)

// Session is the execution state of one scenario run.
type Session struct {
	ID       string
	Scenario *scenario.Scenario
	Vars     *vars.Context
	BaseDir  string

	authMu sync.Mutex
	auth   http.Authenticator
}

// NewSession seeds the global scope with global. BaseDir defaults to the
// directory of the scenario file.
func NewSession(sc *scenario.Scenario, global map[string]any) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		Scenario: sc,
		Vars:     vars.New(maps.Clone(global)),
	}
	if sc.Path != "" {
		s.BaseDir = filepath.Dir(sc.Path)
	}
	return s
}

// Commit merges a stage delta into the global scope.
func (s *Session) Commit(delta map[string]any) {
	if len(delta) > 0 {
		s.Vars.Global().Merge(delta)
	}
}

// scenarioAuth resolves the scenario-wide auth section, templated against
// the global scope as it is at first successful use. Failures are not
// cached, so a later stage can resolve it once its variables are saved.
func (s *Session) scenarioAuth(ctx context.Context, reg *registry.Registry, w *template.Walker) (http.Authenticator, error) {
	if len(s.Scenario.Auth) == 0 {
		return nil, nil
	}
	s.authMu.Lock()
	defer s.authMu.Unlock()
	if s.auth != nil {
		return s.auth, nil
	}
	spec, err := w.WalkMap(s.Scenario.Auth)
	if err != nil {
		return nil, err
	}
	auth, err := reg.AuthFromSpec(ctx, spec)
	if err != nil {
		return nil, err
	}
	s.auth = auth
	return auth, nil
}
