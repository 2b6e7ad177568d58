// Package schedule computes and drives the batched execution order of a
// script dependency graph.
package schedule

import (
	"fmt"
	"sort"

	"github.com/weftdata/weft/pkg/graph"
)

// Plan is an ordered sequence of batches. Every node appears in exactly one
// batch and every dependency of a node sits in a strictly earlier batch, so
// all nodes of a batch may run concurrently.
type Plan struct {
	Batches [][]string `yaml:"batches"`
}

// Compute performs a layered topological sort: batch k holds every
// not-yet-batched node whose dependencies all live in batches < k. Nodes
// within a batch are ordered lexicographically so repeated runs over
// unchanged input produce identical plans.
func Compute(g *graph.Graph) (*Plan, error) {
	placed := make(map[string]bool)
	remaining := g.Identities()

	plan := &Plan{}
	for len(remaining) > 0 {
		var batch []string
		for _, id := range remaining {
			ready := true
			for _, dep := range g.Dependencies(id) {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				batch = append(batch, id)
			}
		}
		if len(batch) == 0 {
			// Unreachable once graph.Build has validated acyclicity.
			return nil, fmt.Errorf("no runnable nodes among %d remaining", len(remaining))
		}

		sort.Strings(batch)
		plan.Batches = append(plan.Batches, batch)

		for _, id := range batch {
			placed[id] = true
		}
		next := remaining[:0]
		for _, id := range remaining {
			if !placed[id] {
				next = append(next, id)
			}
		}
		remaining = next
	}
	return plan, nil
}

// Size returns the total number of nodes in the plan.
func (p *Plan) Size() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b)
	}
	return n
}

// BatchIndex returns the batch a node is placed in, or -1.
func (p *Plan) BatchIndex(id string) int {
	for i, b := range p.Batches {
		for _, member := range b {
			if member == id {
				return i
			}
		}
	}
	return -1
}
