package probe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/grafana/planprobe/pkg/engine"
	"github.com/grafana/planprobe/pkg/engine/options"
	"github.com/grafana/planprobe/pkg/engine/source"
	"github.com/grafana/planprobe/pkg/engine/sql"
)

// Stage names the pipeline stage an error originates from.
type Stage string

const (
	StageConfig       Stage = "config"
	StageRegistration Stage = "registration"
	StageParse        Stage = "parse"
	StageOptimize     Stage = "optimize"
	StagePlanning     Stage = "planning"
	StageExecution    Stage = "execution"
	StageInspect      Stage = "inspect"
)

// Error is implemented by all errors returned from this package.
type Error interface {
	error
	// Stage returns the stage that failed.
	Stage() Stage
	// Kind returns the kind of failure within the stage.
	Kind() string
	// Identifier returns the offending option, table, column or token, if
	// any.
	Identifier() string
}

var (
	_ Error = (*ConfigError)(nil)
	_ Error = (*RegistrationError)(nil)
	_ Error = (*ParseError)(nil)
	_ Error = (*OptimizeError)(nil)
	_ Error = (*PlanningError)(nil)
	_ Error = (*ExecutionError)(nil)
	_ Error = (*ColumnError)(nil)
)

type ConfigErrorKind int

const (
	UnknownOption ConfigErrorKind = iota
	TypeMismatch
)

func (k ConfigErrorKind) String() string {
	switch k {
	case UnknownOption:
		return "UnknownOption"
	case TypeMismatch:
		return "TypeMismatch"
	}
	return fmt.Sprintf("ConfigErrorKind(%d)", k)
}

// ConfigError is returned for invalid execution options.
type ConfigError struct {
	ErrKind ConfigErrorKind
	Option  string
	Err     error
}

func (e *ConfigError) Error() string      { return fmt.Sprintf("invalid configuration: %v", e.Err) }
func (e *ConfigError) Unwrap() error      { return e.Err }
func (e *ConfigError) Stage() Stage       { return StageConfig }
func (e *ConfigError) Kind() string       { return e.ErrKind.String() }
func (e *ConfigError) Identifier() string { return e.Option }

type RegistrationErrorKind int

const (
	DuplicateName RegistrationErrorKind = iota
	SourceUnavailable
)

func (k RegistrationErrorKind) String() string {
	switch k {
	case DuplicateName:
		return "DuplicateName"
	case SourceUnavailable:
		return "SourceUnavailable"
	}
	return fmt.Sprintf("RegistrationErrorKind(%d)", k)
}

// RegistrationError is returned when a relation can not be registered.
type RegistrationError struct {
	ErrKind RegistrationErrorKind
	Name    string
	URI     string
	Err     error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registering %s from %s: %v", e.Name, e.URI, e.Err)
}
func (e *RegistrationError) Unwrap() error      { return e.Err }
func (e *RegistrationError) Stage() Stage       { return StageRegistration }
func (e *RegistrationError) Kind() string       { return e.ErrKind.String() }
func (e *RegistrationError) Identifier() string { return e.Name }

// ParseError is returned for malformed SQL and unresolvable tables or
// columns.
type ParseError struct {
	Token string
	Err   error
}

func (e *ParseError) Error() string { return fmt.Sprintf("compiling query: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }
func (e *ParseError) Stage() Stage  { return StageParse }
func (e *ParseError) Identifier() string {
	return e.Token
}

func (e *ParseError) Kind() string {
	switch {
	case errors.Is(e.Err, sql.ErrTableNotFound):
		return "TableNotFound"
	case errors.Is(e.Err, sql.ErrColumnNotFound):
		return "ColumnNotFound"
	case errors.Is(e.Err, sql.ErrUnsupported):
		return "Unsupported"
	}
	return "Syntax"
}

// OptimizeError is returned when the logical optimizer fails.
type OptimizeError struct {
	Err error
}

func (e *OptimizeError) Error() string      { return fmt.Sprintf("optimizing plan: %v", e.Err) }
func (e *OptimizeError) Unwrap() error      { return e.Err }
func (e *OptimizeError) Stage() Stage       { return StageOptimize }
func (e *OptimizeError) Kind() string       { return "Optimize" }
func (e *OptimizeError) Identifier() string { return "" }

// PlanningError is returned when physical planning fails.
type PlanningError struct {
	Err error
}

func (e *PlanningError) Error() string      { return fmt.Sprintf("creating physical plan: %v", e.Err) }
func (e *PlanningError) Unwrap() error      { return e.Err }
func (e *PlanningError) Stage() Stage       { return StagePlanning }
func (e *PlanningError) Kind() string       { return "Planning" }
func (e *PlanningError) Identifier() string { return "" }

type ExecutionErrorKind int

const (
	Runtime ExecutionErrorKind = iota
	IO
	Timeout
)

func (k ExecutionErrorKind) String() string {
	switch k {
	case Runtime:
		return "Runtime"
	case IO:
		return "IO"
	case Timeout:
		return "Timeout"
	}
	return fmt.Sprintf("ExecutionErrorKind(%d)", k)
}

// ExecutionError is returned for failures while running a plan.
type ExecutionError struct {
	ErrKind ExecutionErrorKind
	Err     error
}

func (e *ExecutionError) Error() string      { return fmt.Sprintf("executing plan: %v", e.Err) }
func (e *ExecutionError) Unwrap() error      { return e.Err }
func (e *ExecutionError) Stage() Stage       { return StageExecution }
func (e *ExecutionError) Kind() string       { return e.ErrKind.String() }
func (e *ExecutionError) Identifier() string { return "" }

type ColumnErrorKind int

const (
	NotFound ColumnErrorKind = iota
)

func (k ColumnErrorKind) String() string {
	if k == NotFound {
		return "NotFound"
	}
	return fmt.Sprintf("ColumnErrorKind(%d)", k)
}

// ColumnError is returned when a result column can not be previewed.
type ColumnError struct {
	ErrKind ColumnErrorKind
	Column  string
	Reason  string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("column %q: %s", e.Column, e.Reason)
}
func (e *ColumnError) Stage() Stage       { return StageInspect }
func (e *ColumnError) Kind() string       { return e.ErrKind.String() }
func (e *ColumnError) Identifier() string { return e.Column }

func errNilPlan(kind string) error {
	return fmt.Errorf("%s plan is nil", kind)
}

func configError(err error) error {
	var optErr *options.Error
	if !errors.As(err, &optErr) {
		return &ConfigError{ErrKind: TypeMismatch, Err: err}
	}
	kind := TypeMismatch
	if errors.Is(err, options.ErrUnknownOption) {
		kind = UnknownOption
	}
	return &ConfigError{ErrKind: kind, Option: optErr.Name, Err: err}
}

func registrationError(name, uri string, err error) error {
	kind := SourceUnavailable
	if errors.Is(err, engine.ErrTableExists) {
		kind = DuplicateName
	}
	return &RegistrationError{ErrKind: kind, Name: name, URI: uri, Err: err}
}

// classify maps an engine error to the error of the stage it came from.
func classify(err error) error {
	var sqlErr *sql.Error
	switch {
	case errors.As(err, &sqlErr):
		return &ParseError{Token: sqlErr.Identifier, Err: err}
	case errors.Is(err, engine.ErrOptimizationFailed):
		return &OptimizeError{Err: err}
	case errors.Is(err, engine.ErrPlanningFailed):
		return &PlanningError{Err: err}
	}
	return executionError(err)
}

func executionError(err error) error {
	kind := Runtime
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = Timeout
	case errors.Is(err, source.ErrRead), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrClosed):
		kind = IO
	}
	return &ExecutionError{ErrKind: kind, Err: err}
}
