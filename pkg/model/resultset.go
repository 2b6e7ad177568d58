package model

// Row is a single record keyed by field name. Values come from the closed
// set of runtime kinds the loader can persist: nil, string, bool, integers,
// floats, time.Time, []byte, and JSON-shaped maps/slices.
type Row map[string]any

// ResultSet is the tabular output of one script execution. Every row exposes
// every field; sparse fields are explicit nulls, never absent keys.
type ResultSet struct {
	// Fields is the stable column order, sorted lexicographically.
	Fields []string
	Rows   []Row
}

// Empty reports whether the result set carries no rows.
func (rs *ResultSet) Empty() bool {
	return rs == nil || len(rs.Rows) == 0
}
