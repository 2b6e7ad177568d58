// Package graph builds the script dependency graph from static analysis,
// before any script executes.
package graph

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/weftdata/weft/pkg/apperrors"
	"github.com/weftdata/weft/pkg/discovery"
	"github.com/weftdata/weft/pkg/model"
)

// Graph maps each script identity to the set of identities it depends on.
// A finalized graph is acyclic, has no self-loops, and every edge endpoint
// is a known node.
type Graph struct {
	nodes map[string]*model.ScriptNode
	deps  map[string][]string
}

// Build scans every discovered script and produces a validated graph.
// Declared dependencies that do not resolve fail with UnknownDependencyError;
// body references that do not resolve are ignored as external modules.
func Build(scripts []discovery.Script, logger *zap.Logger) (*Graph, error) {
	logger = logger.Named("graph")

	known := make(map[string]bool, len(scripts))
	for _, s := range scripts {
		known[s.Identity] = true
	}

	g := &Graph{
		nodes: make(map[string]*model.ScriptNode, len(scripts)),
		deps:  make(map[string][]string, len(scripts)),
	}

	scanner := NewScanner()
	for _, s := range scripts {
		source, err := os.ReadFile(s.Path)
		if err != nil {
			return nil, fmt.Errorf("read script %s: %w", s.Identity, err)
		}
		scan, err := scanner.Scan(source)
		if err != nil {
			return nil, fmt.Errorf("scan script %s: %w", s.Identity, err)
		}

		edges := make(map[string]bool)
		for _, dep := range scan.Declared {
			dep = normalizeIdentity(s.Identity, dep)
			if !known[dep] {
				return nil, &apperrors.UnknownDependencyError{Script: s.Identity, Dependency: dep}
			}
			edges[dep] = true
		}
		for _, ref := range scan.Referenced {
			ref = normalizeIdentity(s.Identity, ref)
			if known[ref] {
				edges[ref] = true
			}
		}
		if edges[s.Identity] {
			return nil, &apperrors.CycleError{Members: []string{s.Identity, s.Identity}}
		}

		deps := make([]string, 0, len(edges))
		for dep := range edges {
			deps = append(deps, dep)
		}
		sort.Strings(deps)

		node := &model.ScriptNode{
			Identity:  s.Identity,
			Path:      s.Path,
			Table:     scan.Table,
			Key:       scan.Key,
			DependsOn: deps,
			Columns:   make(map[string]model.ColumnSpec, len(scan.Columns)),
		}
		if node.Table == "" {
			node.Table = DefaultTableName(s.Identity)
		}
		for field, decl := range scan.Columns {
			node.Columns[field] = model.ParseColumn(field, decl)
		}

		g.nodes[s.Identity] = node
		g.deps[s.Identity] = deps

		logger.Debug("script scanned",
			zap.String("identity", s.Identity),
			zap.String("table", node.Table),
			zap.Strings("depends_on", deps))
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &apperrors.CycleError{Members: cycle}
	}

	logger.Info("graph built", zap.Int("nodes", len(g.nodes)))
	return g, nil
}

// Identities returns all node identities in lexicographic order.
func (g *Graph) Identities() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Node returns the script node for an identity.
func (g *Graph) Node(id string) *model.ScriptNode {
	return g.nodes[id]
}

// Dependencies returns the identities id depends on, sorted.
func (g *Graph) Dependencies(id string) []string {
	return g.deps[id]
}

// Dependents returns the identities that depend on id, sorted.
func (g *Graph) Dependents(id string) []string {
	var out []string
	for _, other := range g.Identities() {
		for _, dep := range g.deps[other] {
			if dep == id {
				out = append(out, other)
				break
			}
		}
	}
	return out
}

// findCycle runs a depth-first search and returns the members of the first
// cycle found, in dependency order with the entry node repeated at the end.
// Returns nil for an acyclic graph.
func (g *Graph) findCycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, dep := range g.deps[id] {
			if onStack[dep] {
				// Slice the stack from the first occurrence of dep to
				// name every member of the cycle in order.
				for i, member := range stack {
					if member == dep {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, dep)
					}
				}
			}
			if !visited[dep] {
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		onStack[id] = false
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, id := range g.Identities() {
		if !visited[id] {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// normalizeIdentity resolves a reference relative to the referencing script
// and ensures the .go suffix, so "users" and "./users.go" both resolve to
// the discovered identity.
func normalizeIdentity(from, ref string) string {
	ref = strings.TrimPrefix(ref, "./")
	if !strings.HasSuffix(ref, ".go") {
		ref += ".go"
	}
	if strings.Contains(from, "/") && !strings.Contains(ref, "/") {
		if dir := path.Dir(from); dir != "." {
			ref = path.Join(dir, ref)
		}
	}
	return ref
}

// DefaultTableName derives a table name from a script identity:
// "marts/DailyOrders.go" becomes "daily_orders".
func DefaultTableName(identity string) string {
	stem := strings.TrimSuffix(path.Base(identity), ".go")

	var b strings.Builder
	for i, r := range stem {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				b.WriteRune('_')
			}
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
