// Package script runs a single transformation script in isolation.
//
// Scripts are plain Go files interpreted at runtime. A script declares
// `package main` and exports:
//
//	func Run(deps map[string][]map[string]any) ([]map[string]any, error)
//
// The deps parameter and the error return are both optional. Optional
// metadata exports (Table, Key, Columns, DependsOn) are read statically by
// the graph builder, never here.
package script

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"github.com/weftdata/weft/pkg/apperrors"
	"github.com/weftdata/weft/pkg/model"
)

const runFuncName = "Run"

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Executor interprets scripts and captures their result sets. Each Execute
// call builds a fresh interpreter, so concurrently running scripts share no
// state.
type Executor struct {
	logger *zap.Logger
}

// NewExecutor creates a script executor.
func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{logger: logger.Named("script")}
}

// Execute runs one script, supplying the materialized outputs of its
// dependencies keyed by identity. Any failure from the script body is
// converted to an ExecError carrying the node identity; malformed output
// fails with ResultShapeError.
func (e *Executor) Execute(ctx context.Context, node *model.ScriptNode, deps map[string]*model.ResultSet) (rs *model.ResultSet, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &apperrors.ExecError{Script: node.Identity, Err: ctxErr}
	}

	// A panic inside the interpreted body must fail the node, not the run.
	defer func() {
		if rec := recover(); rec != nil {
			rs = nil
			err = &apperrors.ExecError{Script: node.Identity, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, &apperrors.ExecError{Script: node.Identity, Err: err}
	}
	if _, err := i.EvalPath(node.Path); err != nil {
		return nil, &apperrors.ExecError{Script: node.Identity, Err: fmt.Errorf("interpret: %w", err)}
	}

	fn, err := i.Eval(runFuncName)
	if err != nil {
		return nil, &apperrors.ExecError{
			Script: node.Identity,
			Err:    fmt.Errorf("script must define %s: %w", runFuncName, err),
		}
	}
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, &apperrors.ExecError{
			Script: node.Identity,
			Err:    fmt.Errorf("%s is not a function", runFuncName),
		}
	}

	rows, err := e.invoke(node, fn, deps)
	if err != nil {
		return nil, err
	}
	return normalize(node.Identity, rows)
}

// invoke calls the script's Run function, passing dependency outputs when
// the function accepts them.
func (e *Executor) invoke(node *model.ScriptNode, fn reflect.Value, deps map[string]*model.ResultSet) ([]map[string]any, error) {
	var args []reflect.Value
	switch fn.Type().NumIn() {
	case 0:
		// Scripts without dependencies may omit the parameter entirely.
	case 1:
		depRows := make(map[string][]map[string]any, len(deps))
		for id, out := range deps {
			converted := make([]map[string]any, len(out.Rows))
			for i, row := range out.Rows {
				converted[i] = row
			}
			depRows[id] = converted
		}
		args = []reflect.Value{reflect.ValueOf(depRows)}
	default:
		return nil, &apperrors.ExecError{
			Script: node.Identity,
			Err:    fmt.Errorf("%s must accept at most one deps argument", runFuncName),
		}
	}

	results := fn.Call(args)
	if len(results) == 0 || len(results) > 2 {
		return nil, &apperrors.ExecError{
			Script: node.Identity,
			Err:    fmt.Errorf("%s must return rows with an optional error", runFuncName),
		}
	}
	if len(results) == 2 {
		second := results[1]
		if !second.Type().Implements(errorType) {
			return nil, &apperrors.ExecError{
				Script: node.Identity,
				Err:    fmt.Errorf("%s returned a non-error second value", runFuncName),
			}
		}
		if scriptErr, ok := second.Interface().(error); ok && scriptErr != nil {
			return nil, &apperrors.ExecError{Script: node.Identity, Err: scriptErr}
		}
	}

	return coerceRows(node.Identity, results[0])
}

// coerceRows converts the script's first return value into records.
func coerceRows(identity string, value reflect.Value) ([]map[string]any, error) {
	if rows, ok := value.Interface().([]map[string]any); ok {
		return rows, nil
	}
	if value.Kind() != reflect.Slice {
		return nil, &apperrors.ResultShapeError{
			Script: identity,
			Detail: fmt.Sprintf("expected a slice of records, got %s", value.Kind()),
		}
	}
	rows := make([]map[string]any, value.Len())
	for i := 0; i < value.Len(); i++ {
		element := value.Index(i).Interface()
		row, ok := element.(map[string]any)
		if !ok {
			return nil, &apperrors.ResultShapeError{
				Script: identity,
				Detail: fmt.Sprintf("record %d is %T, not a field mapping", i, element),
			}
		}
		rows[i] = row
	}
	return rows, nil
}

// normalize builds a ResultSet with a stable field order. Sparse fields are
// filled in as explicit nulls so every record exposes every field.
func normalize(identity string, rows []map[string]any) (*model.ResultSet, error) {
	fieldSet := make(map[string]bool)
	for _, row := range rows {
		if row == nil {
			return nil, &apperrors.ResultShapeError{Script: identity, Detail: "nil record"}
		}
		for field := range row {
			fieldSet[field] = true
		}
	}

	fields := make([]string, 0, len(fieldSet))
	for field := range fieldSet {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	out := &model.ResultSet{Fields: fields, Rows: make([]model.Row, len(rows))}
	for i, row := range rows {
		normalized := make(model.Row, len(fields))
		for _, field := range fields {
			normalized[field] = row[field]
		}
		out.Rows[i] = normalized
	}
	return out, nil
}
