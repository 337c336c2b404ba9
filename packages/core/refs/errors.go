package refs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies resolution failures.
type Kind int

const (
	KindSyntax Kind = iota + 1
	KindCircular
	KindMergeConflict
	KindFile
	KindPointer
	KindTraversal
	KindEscapesRoot
)

var (
	ErrSyntax        = errors.New("invalid reference")
	ErrCircular      = errors.New("circular reference")
	ErrMergeConflict = errors.New("merge conflict")
	ErrFile          = errors.New("unreadable referenced file")
	ErrPointer       = errors.New("unresolvable pointer")
	ErrTraversal     = errors.New("too many parent directory segments")
	ErrEscapesRoot   = errors.New("reference escapes root directory")
)

var kindErrors = map[Kind]error{
	KindSyntax:        ErrSyntax,
	KindCircular:      ErrCircular,
	KindMergeConflict: ErrMergeConflict,
	KindFile:          ErrFile,
	KindPointer:       ErrPointer,
	KindTraversal:     ErrTraversal,
	KindEscapesRoot:   ErrEscapesRoot,
}

// Error describes a failed resolution. File and Path locate the node that was
// being resolved; Ref is the raw $ref string when one is involved.
type Error struct {
	Kind Kind
	File string
	Path string
	Ref  string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(kindErrors[e.Kind].Error())
	if e.Ref != "" {
		fmt.Fprintf(&sb, " %q", e.Ref)
	}
	if e.File != "" || e.Path != "" {
		fmt.Fprintf(&sb, " at %s#%s", e.File, e.Path)
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return kindErrors[e.Kind] == target
}
