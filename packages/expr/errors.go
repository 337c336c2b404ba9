package expr

import (
	"errors"
	"fmt"
)

// ErrorKind classifies evaluation failures.
type ErrorKind int

const (
	KindSyntax ErrorKind = iota + 1
	KindUndefinedName
	KindUnknownFunction
	KindAttribute
	KindType
	KindZeroDivision
	KindIndex
	KindKey
	KindTooComplex
)

var (
	ErrSyntax          = errors.New("syntax error")
	ErrUndefinedName   = errors.New("undefined name")
	ErrUnknownFunction = errors.New("unknown function")
	ErrAttribute       = errors.New("attribute error")
	ErrType            = errors.New("type error")
	ErrZeroDivision    = errors.New("division by zero")
	ErrIndex           = errors.New("index error")
	ErrKey             = errors.New("key error")
	ErrTooComplex      = errors.New("expression too complex")
)

var kindErrors = map[ErrorKind]error{
	KindSyntax:          ErrSyntax,
	KindUndefinedName:   ErrUndefinedName,
	KindUnknownFunction: ErrUnknownFunction,
	KindAttribute:       ErrAttribute,
	KindType:            ErrType,
	KindZeroDivision:    ErrZeroDivision,
	KindIndex:           ErrIndex,
	KindKey:             ErrKey,
	KindTooComplex:      ErrTooComplex,
}

func (k ErrorKind) String() string {
	if err, ok := kindErrors[k]; ok {
		return err.Error()
	}
	return "expression error"
}

// Error is returned for every failure to compile or evaluate an expression.
type Error struct {
	Kind ErrorKind
	Expr string
	Pos  int
	Msg  string
}

func (e *Error) Error() string {
	if e.Expr == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s (in %q at offset %d)", e.Kind, e.Msg, e.Expr, e.Pos)
}

func (e *Error) Is(target error) bool {
	return kindErrors[e.Kind] == target
}

func newError(kind ErrorKind, pos int, format string, args ...any) *Error {
	return &Error{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func syntaxError(src string, pos int, format string, args ...any) *Error {
	e := newError(KindSyntax, pos, format, args...)
	e.Expr = src
	return e
}
