// Package apperrors defines the error kinds surfaced by a weft run.
//
// Structural errors (CycleError, UnknownDependencyError) abort the run before
// any script executes. Per-node errors (ExecError, ResultShapeError,
// ValueTypeError, SchemaConflictError, LoadError) are isolated to the failing
// node and collected into the run report.
package apperrors

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle. Members lists the identities on the
// cycle in dependency order, starting and ending at the same node.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Members, " -> "))
}

// UnknownDependencyError reports a declared dependency that does not resolve
// to any discovered script.
type UnknownDependencyError struct {
	Script     string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("script %s depends on unknown script %s", e.Script, e.Dependency)
}

// ExecError wraps a failure raised while running a script body.
type ExecError struct {
	Script string
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("script %s failed: %v", e.Script, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// ResultShapeError reports script output that is not an ordered sequence of
// records.
type ResultShapeError struct {
	Script string
	Detail string
}

func (e *ResultShapeError) Error() string {
	return fmt.Sprintf("script %s returned malformed result set: %s", e.Script, e.Detail)
}

// ValueTypeError reports a runtime value kind that has no database mapping.
type ValueTypeError struct {
	Field string
	Kind  string
}

func (e *ValueTypeError) Error() string {
	return fmt.Sprintf("field %s holds unsupported value kind %s", e.Field, e.Kind)
}

// SchemaConflictError reports a drift reconciliation that would narrow an
// existing column.
type SchemaConflictError struct {
	Table  string
	Column string
	From   string
	To     string
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("table %s column %s: cannot narrow %s to %s", e.Table, e.Column, e.From, e.To)
}

// LoadError wraps a persistence failure, surfacing the table and the number
// of rows that were being written.
type LoadError struct {
	Table string
	Rows  int
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %d rows into %s: %v", e.Rows, e.Table, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
