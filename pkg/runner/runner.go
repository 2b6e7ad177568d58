// Package runner wires discovery, graph building, scheduling, execution,
// inference and loading into one invocation.
package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/weftdata/weft/pkg/config"
	"github.com/weftdata/weft/pkg/database"
	"github.com/weftdata/weft/pkg/discovery"
	"github.com/weftdata/weft/pkg/graph"
	"github.com/weftdata/weft/pkg/infer"
	"github.com/weftdata/weft/pkg/load"
	"github.com/weftdata/weft/pkg/model"
	"github.com/weftdata/weft/pkg/schedule"
	"github.com/weftdata/weft/pkg/script"
)

// Runner executes one directory of scripts to completion or failure.
type Runner struct {
	cfg    *config.Config
	logger *zap.Logger
}

// New creates a runner.
func New(cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger}
}

// Plan performs discovery, graph building and planning without executing
// anything. Structural errors (cycles, unknown dependencies) still fail here.
func (r *Runner) Plan(ctx context.Context) (*schedule.Plan, *graph.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	scripts, err := discovery.Discover(r.cfg.Root, r.cfg.Ignore, r.logger)
	if err != nil {
		return nil, nil, err
	}
	if len(scripts) == 0 {
		return nil, nil, fmt.Errorf("no scripts found under %s", r.cfg.Root)
	}

	g, err := graph.Build(scripts, r.logger)
	if err != nil {
		return nil, nil, err
	}
	plan, err := schedule.Compute(g)
	if err != nil {
		return nil, nil, err
	}
	return plan, g, nil
}

// Run executes the full pipeline and returns the per-node report. A nil
// error means the run completed; whether it succeeded is the report's call.
func (r *Runner) Run(ctx context.Context) (*model.RunReport, error) {
	plan, g, err := r.Plan(ctx)
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(ctx, &database.Config{
		URL:            r.cfg.Database.URL(),
		MaxConnections: r.cfg.Database.MaxConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("connect destination: %w", err)
	}
	defer db.Close()

	executor := script.NewExecutor(r.logger)
	loader := load.New(db, r.logger)

	sched := schedule.NewRunner(g, r.logger, schedule.WithJobs(r.cfg.Jobs))
	report := sched.Run(ctx, plan, func(ctx context.Context, node *model.ScriptNode, deps map[string]*model.ResultSet) (*model.ResultSet, int, error) {
		rs, err := executor.Execute(ctx, node, deps)
		if err != nil {
			return nil, 0, err
		}
		if rs.Empty() {
			r.logger.Warn("script produced no rows, skipping load",
				zap.String("identity", node.Identity),
				zap.String("table", node.Table))
			return rs, 0, nil
		}

		schema, err := infer.Schema(node, rs)
		if err != nil {
			return nil, 0, err
		}
		count, err := loader.Load(ctx, schema, rs)
		if err != nil {
			return nil, 0, err
		}
		return rs, count, nil
	})

	if r.cfg.Ledger {
		if err := recordRun(ctx, db, report); err != nil {
			// The ledger is an audit convenience; its failure never fails
			// the run itself.
			r.logger.Warn("run ledger not recorded", zap.Error(err))
		}
	}
	return report, nil
}
