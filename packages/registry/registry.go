// Package registry resolves the user-supplied callables a scenario refers to
// by name: authentication providers, save functions and verify functions.
//
// Callables are registered ahead of time; the executor only invokes them
// through the interfaces below.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/abdul-hamid-achik/stagespec/packages/http"
)

// ErrNotRegistered is returned when a name has no registered callable.
var ErrNotRegistered = errors.New("not registered")

// AuthProvider produces the authenticator applied to outgoing requests.
type AuthProvider interface {
	Authenticator(ctx context.Context) (http.Authenticator, error)
}

// SaveFunction extracts values from a response. kwargs are the resolved
// extra_kwargs of the call.
type SaveFunction interface {
	Save(ctx context.Context, resp *http.Response, kwargs map[string]any) (map[string]any, error)
}

// VerifyFunction checks a response.
type VerifyFunction interface {
	Verify(ctx context.Context, resp *http.Response, kwargs map[string]any) (bool, error)
}

type AuthProviderFunc func(ctx context.Context) (http.Authenticator, error)

func (f AuthProviderFunc) Authenticator(ctx context.Context) (http.Authenticator, error) {
	return f(ctx)
}

type SaveFunc func(ctx context.Context, resp *http.Response, kwargs map[string]any) (map[string]any, error)

func (f SaveFunc) Save(ctx context.Context, resp *http.Response, kwargs map[string]any) (map[string]any, error) {
	return f(ctx, resp, kwargs)
}

type VerifyFunc func(ctx context.Context, resp *http.Response, kwargs map[string]any) (bool, error)

func (f VerifyFunc) Verify(ctx context.Context, resp *http.Response, kwargs map[string]any) (bool, error) {
	return f(ctx, resp, kwargs)
}

// AuthFactory builds an authenticator from an inline auth mapping, minus
// its "type" key.
type AuthFactory func(spec map[string]any) (http.Authenticator, error)

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	auth      map[string]AuthProvider
	factories map[string]AuthFactory
	save      map[string]SaveFunction
	verify    map[string]VerifyFunction
}

// New returns a registry holding the built-in auth factories and functions.
func New() *Registry {
	r := Empty()
	r.registerDefaults()
	return r
}

// Empty returns a registry with nothing registered.
func Empty() *Registry {
	return &Registry{
		auth:      make(map[string]AuthProvider),
		factories: make(map[string]AuthFactory),
		save:      make(map[string]SaveFunction),
		verify:    make(map[string]VerifyFunction),
	}
}

func normalizeKey(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (r *Registry) RegisterAuth(name string, p AuthProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auth[normalizeKey(name)] = p
}

func (r *Registry) RegisterAuthFactory(typ string, f AuthFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeKey(typ)] = f
}

func (r *Registry) RegisterSave(name string, f SaveFunction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.save[normalizeKey(name)] = f
}

func (r *Registry) RegisterVerify(name string, f VerifyFunction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verify[normalizeKey(name)] = f
}

func (r *Registry) Auth(name string) (AuthProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.auth[normalizeKey(name)]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("auth provider %q: %w", name, ErrNotRegistered)
}

func (r *Registry) Save(name string) (SaveFunction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.save[normalizeKey(name)]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("save function %q: %w", name, ErrNotRegistered)
}

func (r *Registry) Verify(name string) (VerifyFunction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.verify[normalizeKey(name)]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("verify function %q: %w", name, ErrNotRegistered)
}

// AuthFromSpec builds an authenticator from a scenario or request auth
// mapping: {provider: name} selects a registered provider, {type: t, ...}
// runs the factory registered for t. A nil spec yields a nil authenticator.
func (r *Registry) AuthFromSpec(ctx context.Context, spec map[string]any) (http.Authenticator, error) {
	if len(spec) == 0 {
		return nil, nil
	}
	if name, ok := spec["provider"]; ok {
		if len(spec) != 1 {
			return nil, errors.New("auth: provider cannot be combined with other keys")
		}
		s, ok := name.(string)
		if !ok {
			return nil, fmt.Errorf("auth: provider must be a string, got %T", name)
		}
		p, err := r.Auth(s)
		if err != nil {
			return nil, err
		}
		return p.Authenticator(ctx)
	}

	typ, ok := spec["type"].(string)
	if !ok || typ == "" {
		return nil, errors.New("auth: one of provider or type is required")
	}
	r.mu.RLock()
	f, ok := r.factories[normalizeKey(typ)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("auth type %q: %w", typ, ErrNotRegistered)
	}

	rest := make(map[string]any, len(spec)-1)
	for k, v := range spec {
		if k != "type" {
			rest[k] = v
		}
	}
	a, err := f(rest)
	if err != nil {
		return nil, fmt.Errorf("auth type %q: %w", typ, err)
	}
	return a, nil
}

// Names lists registered names per kind, sorted. Used by the CLI.
func (r *Registry) Names() (auth, factories, save, verify []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.auth), sortedKeys(r.factories), sortedKeys(r.save), sortedKeys(r.verify)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
