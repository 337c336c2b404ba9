package registry

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/stagespec/packages/http"
)

func apply(t *testing.T, a http.Authenticator) *http.Request {
	t.Helper()
	req := http.NewRequest("GET", "https://example.com/x")
	require.NoError(t, a.Authenticate(context.Background(), req))
	return req
}

func TestRegistry_Lookup(t *testing.T) {
	r := Empty()

	_, err := r.Save("missing")
	assert.ErrorIs(t, err, ErrNotRegistered)
	_, err = r.Verify("missing")
	assert.ErrorIs(t, err, ErrNotRegistered)
	_, err = r.Auth("missing")
	assert.ErrorIs(t, err, ErrNotRegistered)

	r.RegisterSave("Echo", SaveFunc(func(_ context.Context, resp *http.Response, kw map[string]any) (map[string]any, error) {
		return map[string]any{"status": resp.StatusCode, "kw": kw["k"]}, nil
	}))
	f, err := r.Save("echo")
	require.NoError(t, err)
	out, err := f.Save(context.Background(), &http.Response{StatusCode: 204}, map[string]any{"k": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": 204, "kw": 1}, out)
}

func TestAuthFromSpec(t *testing.T) {
	r := New()
	r.RegisterAuth("static", AuthProviderFunc(func(context.Context) (http.Authenticator, error) {
		return &http.TokenAuth{Token: "from-provider"}, nil
	}))

	tests := []struct {
		name   string
		spec   map[string]any
		header string
		want   string
	}{
		{"provider", map[string]any{"provider": "static"}, "Authorization", "Bearer from-provider"},
		{"basic", map[string]any{"type": "basic", "username": "a", "password": "b"}, "Authorization", "Basic YTpi"},
		{"bearer", map[string]any{"type": "bearer", "token": "t"}, "Authorization", "Bearer t"},
		{"bearer custom header", map[string]any{"type": "bearer", "token": "t", "header": "X-Token"}, "X-Token", "t"},
		{"api key default header", map[string]any{"type": "api_key", "key": "k"}, "X-API-Key", "k"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := r.AuthFromSpec(context.Background(), tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, apply(t, a).Headers[tt.header])
		})
	}

	a, err := r.AuthFromSpec(context.Background(), map[string]any{"type": "api_key", "key": "k", "query": "api_key"})
	require.NoError(t, err)
	assert.Equal(t, "k", apply(t, a).Query["api_key"])

	a, err = r.AuthFromSpec(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestAuthFromSpec_Errors(t *testing.T) {
	r := New()
	for name, spec := range map[string]map[string]any{
		"neither":           {"username": "a"},
		"unknown type":      {"type": "kerberos"},
		"unknown provider":  {"provider": "nope"},
		"provider plus key": {"provider": "x", "type": "basic"},
		"unknown key":       {"type": "basic", "username": "a", "pasword": "typo"},
		"missing username":  {"type": "basic"},
		"missing aws keys":  {"type": "aws", "access_key": "a"},
		"jwt without key":   {"type": "jwt"},
		"oauth2 no url":     {"type": "oauth2", "client_id": "a", "client_secret": "b"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := r.AuthFromSpec(context.Background(), spec)
			assert.Error(t, err)
		})
	}
}

func TestOAuth2ClientCredentials(t *testing.T) {
	calls := 0
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		calls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		assert.Equal(t, "read write", r.PostForm.Get("scope"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "abc", "token_type": "Bearer", "expires_in": 3600,
		})
	}))
	defer server.Close()

	a, err := New().AuthFromSpec(context.Background(), map[string]any{
		"type": "oauth2", "token_url": server.URL, "client_id": "id", "client_secret": "sec",
		"scopes": []any{"read", "write"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer abc", apply(t, a).Headers["Authorization"])
	assert.Equal(t, "Bearer abc", apply(t, a).Headers["Authorization"])
	assert.Equal(t, 1, calls, "token must be cached while valid")
}

func TestJWTAuth(t *testing.T) {
	a, err := New().AuthFromSpec(context.Background(), map[string]any{
		"type": "jwt", "secret": "s3cret", "sub": "user-1", "ttl": "1m",
		"claims": map[string]any{"role": "admin"},
	})
	require.NoError(t, err)

	value := apply(t, a).Headers["Authorization"]
	require.True(t, strings.HasPrefix(value, "Bearer "))

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimPrefix(value, "Bearer "), claims, func(*jwt.Token) (any, error) {
		return []byte("s3cret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["sub"])
	assert.Equal(t, "admin", claims["role"])

	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp.Time, 5*time.Second)
}

func TestRegexFunctions(t *testing.T) {
	r := New()
	resp := &http.Response{
		StatusCode: 200,
		Headers:    map[string]string{"Location": "/users/42"},
		Body:       []byte(`created id=17 at 10:00`),
	}

	save, err := r.Save("regex")
	require.NoError(t, err)

	out, err := save.Save(context.Background(), resp, map[string]any{"expression": `id=(?P<rid>\d+)`})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rid": "17"}, out)

	out, err = save.Save(context.Background(), resp, map[string]any{"expression": `/users/\d+`, "header": "location"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"match": "/users/42"}, out)

	_, err = save.Save(context.Background(), resp, map[string]any{"expression": `nope\d`})
	assert.Error(t, err)

	verify, err := r.Verify("regex")
	require.NoError(t, err)
	ok, err := verify.Verify(context.Background(), resp, map[string]any{"expression": `at \d\d:\d\d`})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = verify.Verify(context.Background(), resp, map[string]any{"expression": `error`})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = verify.Verify(context.Background(), resp, map[string]any{"expression": `(`})
	assert.Error(t, err)
}

func TestJWTClaimsSave(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "n": 3}).SignedString([]byte("k"))
	require.NoError(t, err)
	resp := &http.Response{Body: []byte(`{"auth": {"token": "` + token + `"}}`)}

	save, err := New().Save("jwt_claims")
	require.NoError(t, err)

	out, err := save.Save(context.Background(), resp, map[string]any{"jwt_key": "auth.token"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"claims": map[string]any{"sub": "u1", "n": 3}}, out)

	out, err = save.Save(context.Background(), resp, map[string]any{"jwt_key": "auth.token", "secret": "k", "as": "tok"})
	require.NoError(t, err)
	assert.Contains(t, out, "tok")

	_, err = save.Save(context.Background(), resp, map[string]any{"jwt_key": "auth.token", "secret": "wrong"})
	assert.Error(t, err)

	_, err = save.Save(context.Background(), resp, map[string]any{"jwt_key": "missing"})
	assert.Error(t, err)
}

func TestNames(t *testing.T) {
	auth, factories, save, verify := New().Names()
	assert.Empty(t, auth)
	assert.Equal(t, []string{"api_key", "aws", "basic", "bearer", "digest", "jwt", "oauth2"}, factories)
	assert.Equal(t, []string{"jwt_claims", "regex"}, save)
	assert.Equal(t, []string{"regex"}, verify)
}
