package load

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/weftdata/weft/pkg/model"
)

// encodeValue converts a runtime value into something pgx can write into a
// column of the effective type. Widened columns receive values of a narrower
// inferred type (an integer into a text column after drift), so the cast
// happens here rather than in SQL.
func encodeValue(value any, typ string) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch typ {
	case model.TypeText:
		if s, ok := value.(string); ok {
			return s, nil
		}
		if t, ok := value.(time.Time); ok {
			return t.Format(time.RFC3339Nano), nil
		}
		return fmt.Sprintf("%v", value), nil

	case model.TypeInteger, model.TypeBigint:
		return toInt64(value)

	case model.TypeDouble:
		return toFloat64(value)

	case model.TypeBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("cannot encode %T as boolean", value)

	case model.TypeTimestamp:
		switch t := value.(type) {
		case time.Time:
			return t, nil
		case *time.Time:
			return t, nil
		}
		return nil, fmt.Errorf("cannot encode %T as timestamptz", value)

	case model.TypeBytes:
		if b, ok := value.([]byte); ok {
			return b, nil
		}
		return nil, fmt.Errorf("cannot encode %T as bytea", value)

	case model.TypeJSON:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return encoded, nil
	}

	// Declared types outside the known set pass through untouched and let
	// the driver decide.
	return value, nil
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows bigint", v)
		}
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows bigint", v)
		}
		return int64(v), nil
	case uintptr:
		if uint64(v) > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows bigint", v)
		}
		return int64(v), nil
	case float64:
		return int64(v), nil
	}
	return 0, fmt.Errorf("cannot encode %T as integer", value)
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("cannot encode %T as double precision", value)
}
