package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weftdata/weft/pkg/graph"
	"github.com/weftdata/weft/pkg/model"
)

// NodeFunc executes a single node. It receives the materialized outputs of
// the node's dependencies keyed by identity and returns the node's result
// set (handed to dependents) plus the number of rows written.
type NodeFunc func(ctx context.Context, node *model.ScriptNode, deps map[string]*model.ResultSet) (*model.ResultSet, int, error)

// Runner drives a plan batch by batch. Nodes within a batch run
// concurrently; the runner advances only after the whole batch settles.
type Runner struct {
	graph  *graph.Graph
	jobs   int
	logger *zap.Logger

	mu      sync.Mutex
	results map[string]*model.NodeResult
	outputs map[string]*model.ResultSet
}

// Option configures a Runner.
type Option func(*Runner)

// WithJobs caps the number of nodes executing concurrently within a batch.
// Zero means no cap.
func WithJobs(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.jobs = n
		}
	}
}

// NewRunner creates a runner over a validated graph.
func NewRunner(g *graph.Graph, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		graph:  g,
		logger: logger.Named("schedule"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the plan. A node runs only after all of its dependencies
// succeeded; otherwise it is marked skipped without being attempted, and the
// skip propagates to its own dependents. A failing node never aborts its
// running siblings. The returned report covers every node in the plan.
func (r *Runner) Run(ctx context.Context, plan *Plan, fn NodeFunc) *model.RunReport {
	start := time.Now()
	runID := uuid.New().String()

	r.mu.Lock()
	r.results = make(map[string]*model.NodeResult, plan.Size())
	r.outputs = make(map[string]*model.ResultSet)
	r.mu.Unlock()

	r.logger.Info("run started",
		zap.String("run_id", runID),
		zap.Int("nodes", plan.Size()),
		zap.Int("batches", len(plan.Batches)))

	for i, batch := range plan.Batches {
		r.runBatch(ctx, i, batch, fn)
		r.pruneOutputs()
	}

	report := &model.RunReport{RunID: runID, Duration: time.Since(start)}
	r.mu.Lock()
	for _, batch := range plan.Batches {
		for _, id := range batch {
			report.Results = append(report.Results, *r.results[id])
		}
	}
	r.mu.Unlock()

	succeeded, failed, skipped := report.Counts()
	r.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
		zap.Duration("duration", report.Duration))
	return report
}

// runBatch launches every runnable node of the batch and waits for all of
// them to settle.
func (r *Runner) runBatch(ctx context.Context, index int, batch []string, fn NodeFunc) {
	var wg sync.WaitGroup
	var sem chan struct{}
	if r.jobs > 0 {
		sem = make(chan struct{}, r.jobs)
	}

	for _, id := range batch {
		if cause, blocked := r.blockedBy(id); blocked {
			r.markSkipped(id, cause)
			continue
		}
		if err := ctx.Err(); err != nil {
			r.markSkipped(id, fmt.Sprintf("run cancelled: %v", err))
			continue
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			r.runNode(ctx, id, fn)
		}(id)
	}

	wg.Wait()
	r.logger.Debug("batch settled", zap.Int("batch", index), zap.Int("nodes", len(batch)))
}

// blockedBy reports whether any dependency of id did not succeed.
func (r *Runner) blockedBy(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range r.graph.Dependencies(id) {
		res, ok := r.results[dep]
		if !ok || res.Status != model.StatusSucceeded {
			return fmt.Sprintf("dependency %s did not succeed", dep), true
		}
	}
	return "", false
}

func (r *Runner) runNode(ctx context.Context, id string, fn NodeFunc) {
	node := r.graph.Node(id)

	r.mu.Lock()
	deps := make(map[string]*model.ResultSet, len(node.DependsOn))
	for _, dep := range node.DependsOn {
		deps[dep] = r.outputs[dep]
	}
	r.mu.Unlock()

	r.logger.Info("node started", zap.String("identity", id))
	start := time.Now()

	out, rows, err := fn(ctx, node, deps)
	elapsed := time.Since(start)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.results[id] = &model.NodeResult{
			Identity: id,
			Status:   model.StatusFailed,
			Duration: elapsed,
			Err:      err,
		}
		r.logger.Error("node failed",
			zap.String("identity", id),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		return
	}

	r.outputs[id] = out
	r.results[id] = &model.NodeResult{
		Identity: id,
		Status:   model.StatusSucceeded,
		Rows:     rows,
		Duration: elapsed,
	}
	r.logger.Info("node succeeded",
		zap.String("identity", id),
		zap.Int("rows", rows),
		zap.Duration("duration", elapsed))
}

func (r *Runner) markSkipped(id, cause string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[id] = &model.NodeResult{
		Identity: id,
		Status:   model.StatusSkipped,
		Err:      fmt.Errorf("%s", cause),
	}
	r.logger.Warn("node skipped",
		zap.String("identity", id),
		zap.String("cause", cause))
}

// pruneOutputs discards result sets whose dependents have all settled, so a
// long run does not hold every intermediate table in memory.
func (r *Runner) pruneOutputs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.outputs {
		needed := false
		for _, dependent := range r.graph.Dependents(id) {
			if _, settled := r.results[dependent]; !settled {
				needed = true
				break
			}
		}
		if !needed {
			delete(r.outputs, id)
		}
	}
}
