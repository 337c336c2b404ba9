// Package vars implements the layered variable context: a global scope that
// lives for a whole scenario, a local scope per stage execution and a step
// scope per save or verify step.
package vars

import (
	"maps"
	"sync"
)

const (
	ScopeGlobal = "global"
	ScopeLocal  = "local"
	ScopeStep   = "step"
)

// Scope is one layer of variables. It is safe for concurrent use.
type Scope struct {
	name   string
	mu     sync.RWMutex
	values map[string]any
}

// NewScope creates a scope holding a copy of values.
func NewScope(name string, values map[string]any) *Scope {
	s := &Scope{name: name, values: make(map[string]any, len(values))}
	maps.Copy(s.values, values)
	return s
}

func (s *Scope) Name() string { return s.name }

func (s *Scope) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Scope) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Merge sets every entry of values, overwriting existing keys.
func (s *Scope) Merge(values map[string]any) {
	if len(values) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.values, values)
}

// Snapshot returns a copy of the scope's entries.
func (s *Scope) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

func (s *Scope) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Context is an ordered stack of scopes, outermost first. Lookups search from
// the innermost scope outwards; writes go to the innermost scope. Pushing a
// scope returns a new Context and leaves the receiver unchanged, so a parent
// can hand out children to concurrent stage iterations.
type Context struct {
	scopes []*Scope
}

// New creates a context with a single global scope seeded from global.
func New(global map[string]any) *Context {
	return &Context{scopes: []*Scope{NewScope(ScopeGlobal, global)}}
}

// Push returns a child context with a new innermost scope.
func (c *Context) Push(name string, values map[string]any) *Context {
	scopes := make([]*Scope, len(c.scopes), len(c.scopes)+1)
	copy(scopes, c.scopes)
	return &Context{scopes: append(scopes, NewScope(name, values))}
}

// Lookup finds name in the innermost scope that defines it.
func (c *Context) Lookup(name string) (any, bool) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if v, ok := c.scopes[i].Get(name); ok {
			return v, true
		}
	}
	return nil, false
}

// Set writes to the innermost scope.
func (c *Context) Set(name string, value any) {
	c.Innermost().Set(name, value)
}

func (c *Context) Innermost() *Scope { return c.scopes[len(c.scopes)-1] }

// Global returns the outermost scope.
func (c *Context) Global() *Scope { return c.scopes[0] }

// Scope returns the innermost scope called name, or nil.
func (c *Context) Scope(name string) *Scope {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if c.scopes[i].name == name {
			return c.scopes[i]
		}
	}
	return nil
}

// Depth returns the number of scopes.
func (c *Context) Depth() int { return len(c.scopes) }

// Snapshot merges every scope into one map, inner scopes winning.
func (c *Context) Snapshot() map[string]any {
	out := make(map[string]any)
	for _, s := range c.scopes {
		maps.Copy(out, s.Snapshot())
	}
	return out
}
