// Package infer turns a result set into a destination table schema.
package infer

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/weftdata/weft/pkg/apperrors"
	"github.com/weftdata/weft/pkg/model"
)

// Schema derives a table schema for a node's result set.
//
// Per field, a declared column type always wins verbatim. Otherwise the type
// is inferred from the values observed across the rows; conflicts between
// rows widen to the most general type observed instead of failing, so one
// result set always yields exactly one schema. A field whose values are all
// null falls back to nullable text.
func Schema(node *model.ScriptNode, rs *model.ResultSet) (*model.TableSchema, error) {
	schema := &model.TableSchema{Table: node.Table}

	for _, field := range rs.Fields {
		if declared, ok := node.Columns[field]; ok {
			schema.Columns = append(schema.Columns, declared)
			continue
		}
		spec, err := inferColumn(field, rs.Rows)
		if err != nil {
			return nil, err
		}
		schema.Columns = append(schema.Columns, spec)
	}

	if node.Key != "" {
		if _, ok := schema.Column(node.Key); !ok {
			return nil, fmt.Errorf("table %s: declared key %q is not among result fields", node.Table, node.Key)
		}
		schema.Key = node.Key
	} else {
		schema.Key = model.IdentityColumn
		schema.Synthesized = true
	}
	return schema, nil
}

// inferColumn inspects one field's values across all rows.
func inferColumn(field string, rows []model.Row) (model.ColumnSpec, error) {
	typ := ""
	nullable := false

	for _, row := range rows {
		value := row[field]
		if value == nil {
			nullable = true
			continue
		}
		observed, err := valueType(field, value)
		if err != nil {
			return model.ColumnSpec{}, err
		}
		if typ == "" {
			typ = observed
		} else if typ != observed {
			typ = model.Widen(typ, observed)
		}
	}

	// All nulls: a safe nullable text default.
	if typ == "" {
		return model.NewColumn(field, model.TypeText, false), nil
	}
	return model.NewColumn(field, typ, !nullable), nil
}

// valueType maps a runtime value to its database type.
func valueType(field string, value any) (string, error) {
	switch v := value.(type) {
	case string:
		return model.TypeText, nil
	case bool:
		return model.TypeBoolean, nil
	case time.Time, *time.Time:
		return model.TypeTimestamp, nil
	case []byte:
		return model.TypeBytes, nil
	case float32:
		return model.TypeDouble, nil
	case float64:
		return model.TypeDouble, nil
	case int:
		return integerType(int64(v)), nil
	case int8, int16, int32:
		return model.TypeInteger, nil
	case int64:
		return integerType(v), nil
	case uint8, uint16:
		return model.TypeInteger, nil
	case uint, uint32, uint64, uintptr:
		return model.TypeBigint, nil
	}

	// JSON-shaped composites map to jsonb; anything else has no column
	// representation and fails inference.
	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return model.TypeJSON, nil
	}
	return "", &apperrors.ValueTypeError{Field: field, Kind: fmt.Sprintf("%T", value)}
}

// integerType picks integer when the value fits a signed 32-bit range,
// bigint otherwise.
func integerType(v int64) string {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		return model.TypeInteger
	}
	return model.TypeBigint
}
