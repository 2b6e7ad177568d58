package model

// ScriptNode is one discovered unit of transformation logic. It is built
// during discovery and graph construction and is immutable afterwards.
type ScriptNode struct {
	// Identity is the script path relative to the project root,
	// slash-separated. It is the node's key everywhere: graph edges,
	// batches, dependency outputs, reports.
	Identity string

	// Path is the absolute path of the script file.
	Path string

	// Table is the destination table name. Defaults to the snake-cased
	// file stem when the script does not export one.
	Table string

	// Key is the script-declared natural-key column, empty when the
	// loader should synthesize an identity column.
	Key string

	// DependsOn holds declared dependency identities, normalized and
	// deduplicated. Declared dependencies must resolve to discovered
	// scripts.
	DependsOn []string

	// Columns holds declared column types keyed by field name. Declared
	// types always override inference.
	Columns map[string]ColumnSpec
}
