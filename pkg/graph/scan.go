package graph

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// ScanResult holds everything a static pass can learn about one script
// without executing it.
type ScanResult struct {
	// Declared lists identities from an exported DependsOn declaration.
	// Declared dependencies must resolve to discovered scripts.
	Declared []string

	// Referenced lists identities read from deps["..."] index expressions
	// in the script body. References that do not resolve are ignored.
	Referenced []string

	// Table, Key and Columns mirror the script's optional exported
	// declarations when they are plain literals.
	Table   string
	Key     string
	Columns map[string]string
}

// Scanner performs static analysis over script sources. It is not safe for
// concurrent use; graph building scans scripts one at a time.
type Scanner struct {
	parser *sitter.Parser
}

// NewScanner creates a scanner for Go script sources.
func NewScanner() *Scanner {
	p := sitter.NewParser()
	p.SetLanguage(golang.GetLanguage())
	return &Scanner{parser: p}
}

// Scan parses source and extracts declared dependencies, body references,
// and literal metadata declarations.
func (s *Scanner) Scan(source []byte) (*ScanResult, error) {
	tree, err := s.parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	defer tree.Close()

	result := &ScanResult{Columns: make(map[string]string)}
	s.walk(tree.RootNode(), source, result)
	return result, nil
}

func (s *Scanner) walk(node *sitter.Node, source []byte, result *ScanResult) {
	switch node.Type() {
	case "var_spec", "const_spec":
		s.readDeclaration(node, source, result)

	case "index_expression":
		// deps["other.go"] marks a dependency on another script's output.
		operand := node.ChildByFieldName("operand")
		index := node.ChildByFieldName("index")
		if operand != nil && index != nil &&
			operand.Type() == "identifier" && operand.Content(source) == "deps" {
			if ref, ok := stringLiteral(index, source); ok {
				result.Referenced = append(result.Referenced, ref)
			}
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		s.walk(node.Child(i), source, result)
	}
}

// readDeclaration inspects a top-level var/const spec for the exported
// metadata names. Non-literal values are left for the executor to resolve.
func (s *Scanner) readDeclaration(node *sitter.Node, source []byte, result *ScanResult) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}

	switch nameNode.Content(source) {
	case "DependsOn":
		collectStrings(node, source, &result.Declared)
	case "Table":
		if v, ok := firstString(node, source); ok {
			result.Table = v
		}
	case "Key":
		if v, ok := firstString(node, source); ok {
			result.Key = v
		}
	case "Columns":
		readColumnMap(node, source, result.Columns)
	}
}

// collectStrings appends every string literal under node to out.
func collectStrings(node *sitter.Node, source []byte, out *[]string) {
	if v, ok := stringLiteral(node, source); ok {
		*out = append(*out, v)
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collectStrings(node.Child(i), source, out)
	}
}

func firstString(node *sitter.Node, source []byte) (string, bool) {
	if v, ok := stringLiteral(node, source); ok {
		return v, true
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if v, ok := firstString(node.Child(i), source); ok {
			return v, true
		}
	}
	return "", false
}

// readColumnMap extracts "field": "type" pairs from a map literal. Keyed
// elements are read positionally to stay compatible across grammar versions.
func readColumnMap(node *sitter.Node, source []byte, out map[string]string) {
	if node.Type() == "keyed_element" {
		var parts []string
		for i := 0; i < int(node.NamedChildCount()); i++ {
			if v, ok := firstString(node.NamedChild(i), source); ok {
				parts = append(parts, v)
			}
		}
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		}
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		readColumnMap(node.Child(i), source, out)
	}
}

// stringLiteral returns the unquoted value of a string literal node.
func stringLiteral(node *sitter.Node, source []byte) (string, bool) {
	switch node.Type() {
	case "interpreted_string_literal", "raw_string_literal":
		raw := node.Content(source)
		if v, err := strconv.Unquote(raw); err == nil {
			return v, true
		}
		return strings.Trim(raw, "`\""), true
	}
	return "", false
}
