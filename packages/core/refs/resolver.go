// Package refs expands $ref nodes in loaded documents, following internal
// JSON pointers and references to other files beneath a root directory.
package refs

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/abdul-hamid-achik/stagespec/packages/core/document"
)

// DefaultMaxParentTraversal bounds the number of leading ".." segments a file
// reference may carry.
const DefaultMaxParentTraversal = 3

// Loader reads a document from an absolute path.
type Loader func(path string) (any, error)

// Resolver expands references. A Resolver holds no per-call state and may be
// shared between goroutines.
type Resolver struct {
	rootDir            string
	maxParentTraversal int
	mergeLists         bool
	load               Loader
	logger             *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRootDir confines file references to dir. When unset, the directory of
// the document being resolved is used.
func WithRootDir(dir string) Option {
	return func(r *Resolver) {
		r.rootDir = dir
	}
}

// WithMaxParentTraversal sets how many leading ".." segments are allowed.
func WithMaxParentTraversal(n int) Option {
	return func(r *Resolver) {
		if n >= 0 {
			r.maxParentTraversal = n
		}
	}
}

// WithListMerge makes sibling overlays concatenate sequences instead of
// reporting a conflict.
func WithListMerge(enabled bool) Option {
	return func(r *Resolver) {
		r.mergeLists = enabled
	}
}

// WithLoader replaces the function used to read referenced files.
func WithLoader(load Loader) Option {
	return func(r *Resolver) {
		if load != nil {
			r.load = load
		}
	}
}

// WithLogger sets the logger for debug tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		maxParentTraversal: DefaultMaxParentTraversal,
		load:               document.Load,
		logger:             slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveFile loads path and resolves every reference in it.
func (r *Resolver) ResolveFile(path string) (any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &Error{Kind: KindFile, File: path, Err: err}
	}
	doc, err := r.load(abs)
	if err != nil {
		return nil, &Error{Kind: KindFile, File: abs, Err: err}
	}
	return r.Resolve(doc, abs)
}

// Resolve returns a copy of doc with every reference node replaced by its
// target. basePath is the file doc was read from; relative file references
// are taken relative to its directory. The input is never modified.
func (r *Resolver) Resolve(doc any, basePath string) (any, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, &Error{Kind: KindFile, File: basePath, Err: err}
	}
	root := r.rootDir
	if root == "" {
		root = filepath.Dir(abs)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, &Error{Kind: KindFile, File: root, Err: err}
	}

	st := &resolution{
		Resolver: r,
		root:     filepath.Clean(root),
		active:   make(map[visitKey]bool),
	}
	return st.resolve(doc, frame{file: abs, doc: doc}, "")
}

type frame struct {
	file string
	doc  any
}

// visitKey identifies a reference target: the file it lives in plus the
// pointer inside it. Keying on the file keeps identical pointers in different
// documents apart.
type visitKey struct {
	file    string
	pointer string
}

type resolution struct {
	*Resolver
	root   string
	active map[visitKey]bool
}

func (st *resolution) resolve(node any, fr frame, path string) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		if raw, ok := n[refKey]; ok {
			return st.resolveRefNode(n, raw, fr, path)
		}
		out := make(map[string]any, len(n))
		for _, k := range document.SortedKeys(n) {
			v, err := st.resolve(n[k], fr, path+"/"+escapeToken(k))
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			rv, err := st.resolve(v, fr, fmt.Sprintf("%s/%d", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return node, nil
	}
}

func (st *resolution) resolveRefNode(n map[string]any, raw any, fr frame, path string) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, &Error{Kind: KindSyntax, File: fr.file, Path: path, Msg: fmt.Sprintf("$ref must be a string, got %s", document.TypeName(raw))}
	}
	ref, err := ParseRef(s)
	if err != nil {
		return nil, &Error{Kind: KindSyntax, File: fr.file, Path: path, Ref: s, Err: err}
	}

	st.logger.Debug("resolving reference", "ref", s, "file", fr.file, "path", path)

	var target any
	if ref.Internal() {
		target, err = st.follow(ref, s, fr, path)
	} else {
		target, err = st.followFile(ref, s, fr, path)
	}
	if err != nil {
		return nil, err
	}

	if len(n) == 1 {
		return target, nil
	}

	siblings := make(map[string]any, len(n)-1)
	for k, v := range n {
		if k != refKey {
			siblings[k] = v
		}
	}
	overlay, err := st.resolve(siblings, fr, path)
	if err != nil {
		return nil, err
	}
	merged, err := merge(target, overlay, st.mergeLists, path)
	if err != nil {
		if e, ok := err.(*Error); ok {
			e.File = fr.file
			e.Ref = s
		}
		return nil, err
	}
	return merged, nil
}

// follow resolves a pointer inside the document of fr.
func (st *resolution) follow(ref Ref, raw string, fr frame, path string) (any, error) {
	key := visitKey{file: fr.file, pointer: ref.Pointer}
	if st.active[key] {
		return nil, &Error{Kind: KindCircular, File: fr.file, Path: path, Ref: raw}
	}
	st.active[key] = true
	defer delete(st.active, key)

	ptr, err := ParsePointer(ref.Pointer)
	if err != nil {
		return nil, &Error{Kind: KindSyntax, File: fr.file, Path: path, Ref: raw, Err: err}
	}
	value, err := st.lookup(fr, ptr, path)
	if err != nil {
		if e, ok := err.(*Error); ok {
			return nil, e
		}
		return nil, &Error{Kind: KindPointer, File: fr.file, Path: path, Ref: raw, Err: err}
	}
	return st.resolve(value, fr, ref.Pointer)
}

// followFile loads the referenced file fresh and resolves the pointer in it.
func (st *resolution) followFile(ref Ref, raw string, fr frame, path string) (any, error) {
	if n := parentSegments(ref.File); n > st.maxParentTraversal {
		return nil, &Error{Kind: KindTraversal, File: fr.file, Path: path, Ref: raw,
			Msg: fmt.Sprintf("%d parent segments, at most %d allowed", n, st.maxParentTraversal)}
	}

	target := filepath.FromSlash(ref.File)
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(fr.file), target)
	}
	target = filepath.Clean(target)
	if !within(st.root, target) {
		return nil, &Error{Kind: KindEscapesRoot, File: fr.file, Path: path, Ref: raw,
			Msg: fmt.Sprintf("%s is outside %s", target, st.root)}
	}

	key := visitKey{file: target, pointer: ref.Pointer}
	if st.active[key] {
		return nil, &Error{Kind: KindCircular, File: fr.file, Path: path, Ref: raw}
	}
	st.active[key] = true
	defer delete(st.active, key)

	doc, err := st.load(target)
	if err != nil {
		return nil, &Error{Kind: KindFile, File: fr.file, Path: path, Ref: raw, Err: err}
	}
	next := frame{file: target, doc: doc}

	ptr, err := ParsePointer(ref.Pointer)
	if err != nil {
		return nil, &Error{Kind: KindSyntax, File: fr.file, Path: path, Ref: raw, Err: err}
	}
	value, err := st.lookup(next, ptr, path)
	if err != nil {
		if e, ok := err.(*Error); ok {
			return nil, e
		}
		return nil, &Error{Kind: KindPointer, File: target, Path: path, Ref: raw, Err: err}
	}
	return st.resolve(value, next, ref.Pointer)
}

// lookup walks ptr through the document of fr, resolving reference nodes met
// on the way so pointers can pass through them.
func (st *resolution) lookup(fr frame, ptr Pointer, path string) (any, error) {
	node := fr.doc
	for i, tok := range ptr {
		if m, ok := node.(map[string]any); ok {
			if _, isRef := m[refKey]; isRef {
				resolved, err := st.resolve(m, fr, Pointer(ptr[:i]).String())
				if err != nil {
					return nil, err
				}
				node = resolved
			}
		}
		next, err := step(node, tok)
		if err != nil {
			return nil, fmt.Errorf("at %s: %w", Pointer(ptr[:i+1]), err)
		}
		node = next
	}
	return node, nil
}

func parentSegments(file string) int {
	n := 0
	for _, seg := range strings.FieldsFunc(file, func(r rune) bool { return r == '/' || r == '\\' }) {
		switch seg {
		case ".":
			continue
		case "..":
			n++
		default:
			return n
		}
	}
	return n
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
