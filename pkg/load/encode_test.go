package load

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftdata/weft/pkg/model"
)

func TestEncodeValueNil(t *testing.T) {
	for _, typ := range []string{model.TypeText, model.TypeInteger, model.TypeJSON} {
		got, err := encodeValue(nil, typ)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
}

func TestEncodeValueText(t *testing.T) {
	got, err := encodeValue("hello", model.TypeText)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	// Values of a narrower inferred type land in a widened text column.
	got, err = encodeValue(42, model.TypeText)
	require.NoError(t, err)
	assert.Equal(t, "42", got)

	got, err = encodeValue(true, model.TypeText)
	require.NoError(t, err)
	assert.Equal(t, "true", got)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got, err = encodeValue(ts, model.TypeText)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T12:00:00Z", got)
}

func TestEncodeValueNumeric(t *testing.T) {
	got, err := encodeValue(7, model.TypeInteger)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)

	got, err = encodeValue(int64(5000000000), model.TypeBigint)
	require.NoError(t, err)
	assert.Equal(t, int64(5000000000), got)

	got, err = encodeValue(uint64(42), model.TypeBigint)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	// Unsigned values beyond the signed range must not wrap negative.
	_, err = encodeValue(uint64(math.MaxUint64), model.TypeBigint)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflows")

	// An integer written into a widened double column.
	got, err = encodeValue(7, model.TypeDouble)
	require.NoError(t, err)
	assert.Equal(t, float64(7), got)

	got, err = encodeValue(3.5, model.TypeDouble)
	require.NoError(t, err)
	assert.Equal(t, 3.5, got)

	_, err = encodeValue("nope", model.TypeInteger)
	require.Error(t, err)
}

func TestEncodeValueStrictTypes(t *testing.T) {
	got, err := encodeValue(true, model.TypeBoolean)
	require.NoError(t, err)
	assert.Equal(t, true, got)
	_, err = encodeValue("true", model.TypeBoolean)
	require.Error(t, err)

	ts := time.Now()
	got, err = encodeValue(ts, model.TypeTimestamp)
	require.NoError(t, err)
	assert.Equal(t, ts, got)
	_, err = encodeValue("2026-01-01", model.TypeTimestamp)
	require.Error(t, err)

	got, err = encodeValue([]byte{1, 2}, model.TypeBytes)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, got)
	_, err = encodeValue(12, model.TypeBytes)
	require.Error(t, err)
}

func TestEncodeValueJSON(t *testing.T) {
	got, err := encodeValue(map[string]any{"a": 1}, model.TypeJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got.([]byte)))

	got, err = encodeValue([]any{1, "two"}, model.TypeJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,"two"]`, string(got.([]byte)))
}

func TestEncodeValueUnknownTypePassthrough(t *testing.T) {
	got, err := encodeValue("12.50", "numeric(10,2)")
	require.NoError(t, err)
	assert.Equal(t, "12.50", got)
}

func TestNormalizeDBType(t *testing.T) {
	assert.Equal(t, model.TypeTimestamp, normalizeDBType("timestamp with time zone"))
	assert.Equal(t, model.TypeText, normalizeDBType("character varying"))
	assert.Equal(t, model.TypeText, normalizeDBType("character"))
	assert.Equal(t, model.TypeBigint, normalizeDBType("bigint"))
	assert.Equal(t, model.TypeDouble, normalizeDBType("double precision"))
	assert.Equal(t, "integer", normalizeDBType("INTEGER"))
}

func TestDeclaredBaseType(t *testing.T) {
	tests := []struct {
		declared string
		want     string
	}{
		{"numeric(10,2)", "numeric"},
		{"varchar(50)", model.TypeText},
		{"character varying(50)", model.TypeText},
		{"timestamp(3) with time zone", model.TypeTimestamp},
		{"bigint", model.TypeBigint},
		{"text", model.TypeText},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, declaredBaseType(tt.declared), tt.declared)
	}
}

func TestColumnHasNull(t *testing.T) {
	schema := &model.TableSchema{
		Table: "t",
		Columns: []model.ColumnSpec{
			model.NewColumn("id", model.TypeInteger, true),
			model.NewColumn("name", model.TypeText, false),
		},
	}
	assert.False(t, columnHasNull(schema, "id"))
	assert.True(t, columnHasNull(schema, "name"))
	assert.True(t, columnHasNull(schema, "missing"))
}
