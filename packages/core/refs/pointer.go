package refs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const refKey = "$ref"

var refPattern = regexp.MustCompile(`^([^#]*)(?:#(.*))?$`)

// Ref is a parsed reference string: an optional file part and an optional
// fragment holding a JSON pointer.
type Ref struct {
	File    string
	Pointer string
}

// Internal reports whether the reference targets the current document.
func (r Ref) Internal() bool { return r.File == "" }

func (r Ref) String() string {
	return r.File + "#" + r.Pointer
}

// ParseRef splits raw into its file and pointer parts.
func ParseRef(raw string) (Ref, error) {
	if strings.TrimSpace(raw) == "" {
		return Ref{}, fmt.Errorf("empty reference")
	}
	m := refPattern.FindStringSubmatch(raw)
	if m == nil {
		return Ref{}, fmt.Errorf("malformed reference")
	}
	ref := Ref{File: m[1], Pointer: m[2]}
	if _, err := ParsePointer(ref.Pointer); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// Pointer is a decoded JSON pointer (RFC 6901). The empty pointer addresses
// the whole document.
type Pointer []string

var unescaper = strings.NewReplacer("~1", "/", "~0", "~")
var escaper = strings.NewReplacer("~", "~0", "/", "~1")

// ParsePointer decodes s into reference tokens.
func ParsePointer(s string) (Pointer, error) {
	if s == "" {
		return Pointer{}, nil
	}
	if s[0] != '/' {
		return nil, fmt.Errorf("pointer %q must start with '/'", s)
	}
	parts := strings.Split(s[1:], "/")
	ptr := make(Pointer, len(parts))
	for i, part := range parts {
		if err := checkEscapes(part); err != nil {
			return nil, fmt.Errorf("pointer %q: %w", s, err)
		}
		ptr[i] = unescaper.Replace(part)
	}
	return ptr, nil
}

func checkEscapes(token string) error {
	for i := 0; i < len(token); i++ {
		if token[i] != '~' {
			continue
		}
		if i+1 >= len(token) || (token[i+1] != '0' && token[i+1] != '1') {
			return fmt.Errorf("invalid escape in %q", token)
		}
	}
	return nil
}

func (p Pointer) String() string {
	if len(p) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, tok := range p {
		sb.WriteByte('/')
		sb.WriteString(escaper.Replace(tok))
	}
	return sb.String()
}

// Lookup walks doc along p. It does not follow references; see Resolver for
// navigation through reference nodes.
func (p Pointer) Lookup(doc any) (any, error) {
	node := doc
	for i, tok := range p {
		next, err := step(node, tok)
		if err != nil {
			return nil, fmt.Errorf("at %s: %w", p[:i+1], err)
		}
		node = next
	}
	return node, nil
}

func step(node any, tok string) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[tok]
		if !ok {
			return nil, fmt.Errorf("key %q not found", tok)
		}
		return v, nil
	case []any:
		idx, err := arrayIndex(tok)
		if err != nil {
			return nil, err
		}
		if idx >= len(n) {
			return nil, fmt.Errorf("index %d out of range (length %d)", idx, len(n))
		}
		return n[idx], nil
	default:
		return nil, fmt.Errorf("cannot index into %T with %q", node, tok)
	}
}

func arrayIndex(tok string) (int, error) {
	if tok == "" {
		return 0, fmt.Errorf("empty array index")
	}
	if len(tok) > 1 && tok[0] == '0' {
		return 0, fmt.Errorf("array index %q has a leading zero", tok)
	}
	for _, c := range tok {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid array index %q", tok)
		}
	}
	idx, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("invalid array index %q", tok)
	}
	return idx, nil
}

func escapeToken(tok string) string {
	return escaper.Replace(tok)
}
