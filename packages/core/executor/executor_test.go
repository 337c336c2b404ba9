package executor

import (
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/stagespec/packages/assertions"
	"github.com/abdul-hamid-achik/stagespec/packages/capture"
	"github.com/abdul-hamid-achik/stagespec/packages/core/document"
	"github.com/abdul-hamid-achik/stagespec/packages/core/scenario"
	"github.com/abdul-hamid-achik/stagespec/packages/expr"
	"github.com/abdul-hamid-achik/stagespec/packages/http"
	"github.com/abdul-hamid-achik/stagespec/packages/registry"
	"github.com/abdul-hamid-achik/stagespec/packages/template"
)

func newServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string
	mux := nethttp.NewServeMux()
	writeJSON := func(w nethttp.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("POST /users", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		w.Header().Set("Location", "/users/7")
		writeJSON(w, 201, map[string]any{"id": 7, "name": in["name"]})
	})
	mux.HandleFunc("GET /users/{id}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id, _ := strconv.Atoi(r.PathValue("id"))
		writeJSON(w, 200, map[string]any{"id": id, "auth": r.Header.Get("Authorization")})
	})
	mux.HandleFunc("GET /echo", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		writeJSON(w, 200, map[string]any{
			"trace": r.Header.Get("X-Trace"),
			"q":     r.URL.Query().Get("q"),
			"auth":  r.Header.Get("Authorization"),
		})
	})
	mux.HandleFunc("GET /text", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		_, _ = w.Write([]byte("plain text"))
	})

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		paths = append(paths, r.URL.Path)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)
	return server, &paths
}

func loadScenario(t *testing.T, src string) *scenario.Scenario {
	t.Helper()
	doc, err := document.Decode([]byte(src), ".yaml")
	require.NoError(t, err)
	sc, err := scenario.Decode(doc)
	require.NoError(t, err)
	return sc
}

func newExecutor() *Executor {
	return New(http.NewClient(), nil)
}

func TestExecuteStage_EndToEnd(t *testing.T) {
	server, paths := newServer(t)
	sc := loadScenario(t, `
name: lifecycle
stages:
  - name: create
    request:
      method: post
      url: "{{ host }}/users"
      json: {name: bob}
    steps:
      - save:
          json: {user_id: id}
          headers: {location: Location}
      - verify:
          status: 201
          vars: {user_id: 7}
          expressions: ["response.body.name == 'bob'", "response.headers['Location'] == location"]
  - name: fetch
    request:
      url: "{{ host }}/users/{{ user_id }}"
    steps:
      - verify:
          body:
            json: {id: 7}
`)
	sess := NewSession(sc, map[string]any{"host": server.URL})
	ex := newExecutor()

	res, err := ex.ExecuteStage(context.Background(), sess, sc.Stages[0], nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"user_id": 7, "location": "/users/7"}, res.Delta)
	assert.Equal(t, "POST", res.Request.Method)
	assert.Equal(t, NoIteration, res.Iteration)

	v, ok := sess.Vars.Global().Get("user_id")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	res, err = ex.ExecuteStage(context.Background(), sess, sc.Stages[1], nil)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/users/7", res.Request.URL)
	assert.Equal(t, []string{"/users", "/users/7"}, *paths)
}

func TestExecuteStage_Layering(t *testing.T) {
	server, _ := newServer(t)
	sc := loadScenario(t, `
name: layering
variables:
  base: "{{ host }}"
  trace: "t-{{ x }}"
stages:
  - name: echo
    variables:
      y: "{{ x + 1 }}"
      trace: "{{ trace }}-{{ y_injected }}"
    request:
      url: "{{ base }}/echo"
      headers: {X-Trace: "{{ trace }}"}
      params: {q: "{{ y }}"}
    steps:
      - verify:
          body:
            json: {q: "2", trace: "t-1-inj"}
`)
	sess := NewSession(sc, map[string]any{"host": server.URL, "x": 1})
	_, err := newExecutor().ExecuteStage(context.Background(), sess, sc.Stages[0], map[string]any{"y_injected": "inj"})
	require.NoError(t, err)

	_, ok := sess.Vars.Global().Get("y")
	assert.False(t, ok, "declared variables stay local to the stage")
}

func TestExecuteStage_StepsSeeEarlierSaves(t *testing.T) {
	server, _ := newServer(t)
	sc := loadScenario(t, `
name: steps
stages:
  - name: create
    request:
      method: POST
      url: "{{ host }}/users"
      json: {name: ann}
    steps:
      - save:
          json: {uid: id}
          vars: {next: "{{ uid + 1 }}"}
      - save:
          vars: {label: "user-{{ next }}"}
      - verify:
          vars: {label: user-8}
          headers: {location: "/users/{{ uid }}"}
`)
	sess := NewSession(sc, map[string]any{"host": server.URL})
	res, err := newExecutor().ExecuteStage(context.Background(), sess, sc.Stages[0], nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"uid": 7, "next": 8, "label": "user-8"}, res.Delta)
}

func TestExecuteStage_Errors(t *testing.T) {
	server, _ := newServer(t)
	closed := httptest.NewServer(nil)
	closed.Close()

	tests := []struct {
		name  string
		stage string
		phase Phase
		check func(t *testing.T, err error)
	}{
		{
			name: "undefined variable in url",
			stage: `
name: s
request: {url: "{{ host }}/{{ missing }}"}`,
			phase: PhaseRequest,
			check: func(t *testing.T, err error) {
				var se *template.SubstitutionError
				assert.True(t, errors.As(err, &se))
				assert.ErrorIs(t, err, expr.ErrUndefinedName)
			},
		},
		{
			name: "bad stage variable",
			stage: `
name: s
variables: {a: "{{ 1 / 0 }}"}
request: {url: "{{ host }}/echo"}`,
			phase: PhaseVariables,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, expr.ErrZeroDivision)
			},
		},
		{
			name: "connection refused",
			stage: `
name: s
request: {url: "` + closed.URL + `/x"}`,
			phase: PhaseRequest,
			check: func(t *testing.T, err error) {
				var re *RequestError
				require.True(t, errors.As(err, &re))
				var te *http.TransportError
				require.True(t, errors.As(err, &te))
				assert.Equal(t, http.KindConnection, te.Kind)
			},
		},
		{
			name: "missing upload",
			stage: `
name: s
request:
  method: POST
  url: "{{ host }}/echo"
  files: {f: nope.txt}`,
			phase: PhaseRequest,
			check: func(t *testing.T, err error) {
				var te *http.TransportError
				require.True(t, errors.As(err, &te))
				assert.Equal(t, http.KindFile, te.Kind)
			},
		},
		{
			name: "save from text body",
			stage: `
name: s
request: {url: "{{ host }}/text"}
steps:
  - save: {json: {x: id}}`,
			phase: PhaseSave,
			check: func(t *testing.T, err error) {
				var se *SaveError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, 0, se.Step)
				assert.ErrorIs(t, err, capture.ErrBodyNotJSON)
			},
		},
		{
			name: "status mismatch",
			stage: `
name: s
request: {url: "{{ host }}/echo"}
steps:
  - verify: {status: 200}
  - verify: {status: 404}`,
			phase: PhaseVerify,
			check: func(t *testing.T, err error) {
				var ve *VerificationError
				require.True(t, errors.As(err, &ve))
				assert.Equal(t, 1, ve.Step)
				var f *assertions.Failure
				require.True(t, errors.As(err, &f))
				assert.Equal(t, "status", f.Check)
			},
		},
		{
			name: "templated status of wrong type",
			stage: `
name: s
request: {url: "{{ host }}/echo"}
steps:
  - verify: {status: "{{ 'ok' }}"}`,
			phase: PhaseVerify,
		},
		{
			name: "unknown auth type",
			stage: `
name: s
request:
  url: "{{ host }}/echo"
  auth: {type: kerberos}`,
			phase: PhaseRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := document.Decode([]byte(tt.stage), ".yaml")
			require.NoError(t, err)
			stage, err := scenario.DecodeStage(doc.(map[string]any))
			require.NoError(t, err)
			sc := &scenario.Scenario{Name: "errors", Stages: []*scenario.Stage{stage}}
			sess := NewSession(sc, map[string]any{"host": server.URL})

			_, err = newExecutor().ExecuteStage(context.Background(), sess, stage, nil)
			var stageErr *StageError
			require.True(t, errors.As(err, &stageErr), "got %v", err)
			assert.Equal(t, "s", stageErr.Stage)
			assert.Equal(t, tt.phase, stageErr.Phase)
			assert.Equal(t, NoIteration, stageErr.Iteration)
			assert.Contains(t, stageErr.Error(), `stage "s"`)
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestExecuteStage_FailureCommitsNothing(t *testing.T) {
	server, _ := newServer(t)
	sc := loadScenario(t, `
name: partial
stages:
  - name: s
    request: {method: POST, url: "{{ host }}/users", json: {}}
    steps:
      - save: {json: {uid: id}}
      - verify: {status: 500}
`)
	sess := NewSession(sc, map[string]any{"host": server.URL})
	_, err := newExecutor().ExecuteStage(context.Background(), sess, sc.Stages[0], nil)
	require.Error(t, err)
	_, ok := sess.Vars.Global().Get("uid")
	assert.False(t, ok)
}

func TestExecuteIteration(t *testing.T) {
	server, _ := newServer(t)
	sc := loadScenario(t, `
name: fan
stages:
  - name: each
    parallel: {repeat: 3}
    request: {url: "{{ host }}/users/{{ iteration + 10 }}"}
    steps:
      - save: {json: {seen: id}}
      - verify: {expressions: ["seen != 12"]}
`)
	sess := NewSession(sc, map[string]any{"host": server.URL})
	ex := newExecutor()

	res, err := ex.ExecuteIteration(context.Background(), sess, sc.Stages[0], nil, map[string]any{"iteration": 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iteration)
	assert.Equal(t, map[string]any{"seen": 11}, res.Delta)
	_, ok := sess.Vars.Global().Get("seen")
	assert.False(t, ok, "iterations never commit")

	_, err = ex.ExecuteIteration(context.Background(), sess, sc.Stages[0], nil, map[string]any{"iteration": 2}, 2)
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, 2, stageErr.Iteration)
	assert.Contains(t, stageErr.Error(), "iteration 2")
}

func TestExecuteStage_Auth(t *testing.T) {
	server, _ := newServer(t)
	sc := loadScenario(t, `
name: auth
auth: {type: bearer, token: "{{ token }}"}
stages:
  - name: scenario auth
    request: {url: "{{ host }}/echo"}
    steps:
      - verify: {body: {json: {auth: Bearer s3cret}}}
  - name: request auth
    request:
      url: "{{ host }}/echo"
      auth: {provider: fixed}
    steps:
      - verify: {body: {json: {auth: Bearer from-registry}}}
`)
	reg := registry.New()
	reg.RegisterAuth("fixed", registry.AuthProviderFunc(func(context.Context) (http.Authenticator, error) {
		return &http.TokenAuth{Token: "from-registry"}, nil
	}))
	ex := New(http.NewClient(), reg)
	sess := NewSession(sc, map[string]any{"host": server.URL, "token": "s3cret"})

	for _, st := range sc.Stages {
		_, err := ex.ExecuteStage(context.Background(), sess, st, nil)
		require.NoError(t, err, st.Name)
	}
}

func TestExecuteStage_ScenarioAuthRetriesAfterFailure(t *testing.T) {
	server, _ := newServer(t)
	sc := loadScenario(t, `
name: late token
auth: {type: bearer, token: "{{ token }}"}
stages:
  - name: before login
    request: {url: "{{ host }}/echo"}
  - name: after login
    request: {url: "{{ host }}/echo"}
    steps:
      - verify: {body: {json: {auth: Bearer late}}}
`)
	ex := newExecutor()
	sess := NewSession(sc, map[string]any{"host": server.URL})

	_, err := ex.ExecuteStage(context.Background(), sess, sc.Stages[0], nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth")

	sess.Commit(map[string]any{"token": "late"})
	_, err = ex.ExecuteStage(context.Background(), sess, sc.Stages[1], nil)
	require.NoError(t, err)

	sess.Commit(map[string]any{"token": "rotated"})
	_, err = ex.ExecuteStage(context.Background(), sess, sc.Stages[1], nil)
	require.NoError(t, err, "resolved auth is kept for the rest of the run")
}

func TestExecutor_ExprOptions(t *testing.T) {
	server, _ := newServer(t)
	sc := loadScenario(t, `
name: budget
stages:
  - name: s
    variables: {big: "{{ [i for i in range(50)] }}"}
    request: {url: "{{ host }}/echo"}
`)
	sess := NewSession(sc, map[string]any{"host": server.URL})
	ex := New(http.NewClient(), nil, WithExprOptions(expr.WithMaxComprehension(10)))
	_, err := ex.ExecuteStage(context.Background(), sess, sc.Stages[0], nil)
	assert.ErrorIs(t, err, expr.ErrTooComplex)
}

func TestTLSOptions(t *testing.T) {
	verifyOff := false
	sess := &Session{Scenario: &scenario.Scenario{TLS: &scenario.TLSConfig{Verify: &verifyOff, Cert: "c.pem", Key: "c.key"}}, BaseDir: "/base"}

	opts, err := tlsOptions(sess, &scenario.RequestTemplate{})
	require.NoError(t, err)
	assert.Equal(t, &http.TLSOptions{InsecureSkipVerify: true, CertFile: "/base/c.pem", KeyFile: "/base/c.key"}, opts)

	opts, err = tlsOptions(sess, &scenario.RequestTemplate{Verify: true, Cert: []any{"/abs/a.pem", "a.key"}})
	require.NoError(t, err)
	assert.Equal(t, &http.TLSOptions{CertFile: "/abs/a.pem", KeyFile: "/base/a.key"}, opts)

	opts, err = tlsOptions(&Session{Scenario: &scenario.Scenario{}}, &scenario.RequestTemplate{})
	require.NoError(t, err)
	assert.Nil(t, opts)

	_, err = tlsOptions(sess, &scenario.RequestTemplate{Verify: "yes"})
	assert.Error(t, err)
	_, err = tlsOptions(sess, &scenario.RequestTemplate{Cert: []any{"only-one"}})
	assert.Error(t, err)
}

func TestResponseValue(t *testing.T) {
	v := responseValue(&http.Response{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(`{"a": [1, 2]}`),
	})
	assert.Equal(t, 200, v["status_code"])
	assert.Equal(t, map[string]any{"a": []any{1, 2}}, v["body"])
	assert.Equal(t, `{"a": [1, 2]}`, v["text"])

	v = responseValue(&http.Response{Body: []byte("hi")})
	assert.Equal(t, "hi", v["body"])
}
