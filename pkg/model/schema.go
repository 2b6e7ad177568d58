package model

import "strings"

// Column types the inference engine produces. Declared column types may use
// any PostgreSQL type name; widening rules only apply to this closed set.
const (
	TypeText      = "text"
	TypeInteger   = "integer"
	TypeBigint    = "bigint"
	TypeDouble    = "double precision"
	TypeBoolean   = "boolean"
	TypeTimestamp = "timestamptz"
	TypeJSON      = "jsonb"
	TypeBytes     = "bytea"
)

// IdentityColumn is the synthesized primary key added when a script does not
// declare a natural key.
const IdentityColumn = "weft_id"

// ColumnSpec is an immutable column descriptor. Build one with NewColumn or
// ParseColumn; there is no post-construction mutation.
type ColumnSpec struct {
	Name    string
	Type    string
	NotNull bool
}

// NewColumn builds a fully-specified column descriptor.
func NewColumn(name, typ string, notNull bool) ColumnSpec {
	return ColumnSpec{Name: name, Type: typ, NotNull: notNull}
}

// ParseColumn parses a declared column type such as "text" or
// "bigint not null" into a ColumnSpec. The type name is kept verbatim.
func ParseColumn(name, decl string) ColumnSpec {
	typ := strings.TrimSpace(strings.ToLower(decl))
	notNull := false
	if cut, ok := strings.CutSuffix(typ, "not null"); ok {
		typ = strings.TrimSpace(cut)
		notNull = true
	}
	return ColumnSpec{Name: name, Type: typ, NotNull: notNull}
}

// TableSchema is the ordered column-level description used to create or
// reconcile a destination table. Key is the identity column: either the
// script-declared natural key or the synthesized IdentityColumn.
type TableSchema struct {
	Table   string
	Columns []ColumnSpec
	Key     string

	// Synthesized is true when Key names the generated identity column
	// rather than a data column.
	Synthesized bool
}

// Column returns the spec for name and whether it exists.
func (s *TableSchema) Column(name string) (ColumnSpec, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// widenRank orders the numeric widening chain. Types outside the chain widen
// only to text.
var widenRank = map[string]int{
	TypeInteger: 1,
	TypeBigint:  2,
	TypeDouble:  3,
}

// CanWiden reports whether a column of type from may safely hold values of
// type to without loss. Every known type widens to text.
func CanWiden(from, to string) bool {
	if from == to {
		return true
	}
	if to == TypeText {
		switch from {
		case TypeInteger, TypeBigint, TypeDouble, TypeBoolean, TypeTimestamp, TypeJSON, TypeBytes:
			return true
		}
		return false
	}
	fr, fok := widenRank[from]
	tr, tok := widenRank[to]
	return fok && tok && fr <= tr
}

// Widen resolves a type conflict by choosing the most general of the two
// candidates. Text dominates every other type, so two observed types always
// resolve to exactly one.
func Widen(a, b string) string {
	switch {
	case a == b:
		return a
	case CanWiden(a, b):
		return b
	case CanWiden(b, a):
		return a
	default:
		return TypeText
	}
}
