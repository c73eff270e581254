package sql

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrSyntax         = errors.New("syntax error")
	ErrUnsupported    = errors.New("unsupported statement")
	ErrTableNotFound  = errors.New("table not found")
	ErrColumnNotFound = errors.New("column not found")
)

// Error is returned for statements that can not be turned into a plan.
// Identifier names the offending table, column or token and may be empty
// when the error is not tied to one, such as a syntax error at the end of
// the input.
type Error struct {
	Err        error
	Identifier string
	msg        string
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Err.Error())
	if e.Identifier != "" {
		fmt.Fprintf(&sb, ": %q", e.Identifier)
	}
	if e.msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.msg)
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

func unsupported(identifier, format string, args ...any) *Error {
	return &Error{Err: ErrUnsupported, Identifier: identifier, msg: fmt.Sprintf(format, args...)}
}

var nearRe = regexp.MustCompile(`(?s)near "(.*)"`)

// syntaxError converts a parser error. The identifier is the first token of
// the text the parser reported the error near.
func syntaxError(err error) *Error {
	msg := err.Error()
	e := &Error{Err: ErrSyntax, msg: msg}
	if m := nearRe.FindStringSubmatch(msg); m != nil {
		if fields := strings.Fields(m[1]); len(fields) > 0 {
			e.Identifier = fields[0]
		}
	}
	return e
}
