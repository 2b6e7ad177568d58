package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weftdata/weft/pkg/model"
)

func statusOf(t *testing.T, report *model.RunReport, id string) model.NodeResult {
	t.Helper()
	for _, res := range report.Results {
		if res.Identity == id {
			return res
		}
	}
	t.Fatalf("node %s not in report", id)
	return model.NodeResult{}
}

func TestRunnerPassesDependencyOutputs(t *testing.T) {
	g := buildGraph(t, map[string][]string{
		"a.go": nil,
		"b.go": {"a.go"},
	})
	plan, err := Compute(g)
	require.NoError(t, err)

	var got *model.ResultSet
	runner := NewRunner(g, zap.NewNop())
	report := runner.Run(context.Background(), plan, func(ctx context.Context, node *model.ScriptNode, deps map[string]*model.ResultSet) (*model.ResultSet, int, error) {
		if node.Identity == "a.go" {
			return &model.ResultSet{
				Fields: []string{"n"},
				Rows:   []model.Row{{"n": 1}},
			}, 1, nil
		}
		got = deps["a.go"]
		return &model.ResultSet{}, 0, nil
	})

	assert.False(t, report.Failed())
	require.NotNil(t, got)
	assert.Equal(t, []model.Row{{"n": 1}}, got.Rows)
	assert.NotEmpty(t, report.RunID)
}

func TestRunnerSkipPropagates(t *testing.T) {
	g := buildGraph(t, map[string][]string{
		"a.go": nil,
		"b.go": {"a.go"},
		"c.go": {"b.go"},
		"d.go": nil,
	})
	plan, err := Compute(g)
	require.NoError(t, err)

	boom := errors.New("boom")
	runner := NewRunner(g, zap.NewNop())
	report := runner.Run(context.Background(), plan, func(ctx context.Context, node *model.ScriptNode, deps map[string]*model.ResultSet) (*model.ResultSet, int, error) {
		if node.Identity == "a.go" {
			return nil, 0, boom
		}
		return &model.ResultSet{}, 0, nil
	})

	assert.Equal(t, model.StatusFailed, statusOf(t, report, "a.go").Status)
	assert.Equal(t, model.StatusSkipped, statusOf(t, report, "b.go").Status)
	// The skip is transitive: c.go never ran because b.go never ran.
	assert.Equal(t, model.StatusSkipped, statusOf(t, report, "c.go").Status)
	assert.Equal(t, model.StatusSucceeded, statusOf(t, report, "d.go").Status)

	succeeded, failed, skipped := report.Counts()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, skipped)
	assert.True(t, report.Failed())
}

func TestRunnerFailureIsolation(t *testing.T) {
	// A failing node must not abort its batch siblings.
	g := buildGraph(t, map[string][]string{
		"a.go": nil,
		"b.go": nil,
		"c.go": nil,
	})
	plan, err := Compute(g)
	require.NoError(t, err)

	var ran sync.Map
	runner := NewRunner(g, zap.NewNop())
	report := runner.Run(context.Background(), plan, func(ctx context.Context, node *model.ScriptNode, deps map[string]*model.ResultSet) (*model.ResultSet, int, error) {
		ran.Store(node.Identity, true)
		if node.Identity == "b.go" {
			return nil, 0, errors.New("boom")
		}
		return &model.ResultSet{}, 0, nil
	})

	for _, id := range []string{"a.go", "b.go", "c.go"} {
		_, ok := ran.Load(id)
		assert.True(t, ok, "%s should have been attempted", id)
	}
	assert.Equal(t, model.StatusSucceeded, statusOf(t, report, "a.go").Status)
	assert.Equal(t, model.StatusFailed, statusOf(t, report, "b.go").Status)
	assert.Equal(t, model.StatusSucceeded, statusOf(t, report, "c.go").Status)
}

func TestRunnerJobsCap(t *testing.T) {
	g := buildGraph(t, map[string][]string{
		"a.go": nil, "b.go": nil, "c.go": nil, "d.go": nil, "e.go": nil, "f.go": nil,
	})
	plan, err := Compute(g)
	require.NoError(t, err)

	var active, peak int32
	runner := NewRunner(g, zap.NewNop(), WithJobs(2))
	report := runner.Run(context.Background(), plan, func(ctx context.Context, node *model.ScriptNode, deps map[string]*model.ResultSet) (*model.ResultSet, int, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return &model.ResultSet{}, 0, nil
	})

	assert.False(t, report.Failed())
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRunnerCancelledContextSkips(t *testing.T) {
	g := buildGraph(t, map[string][]string{
		"a.go": nil,
		"b.go": {"a.go"},
	})
	plan, err := Compute(g)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	runner := NewRunner(g, zap.NewNop())
	report := runner.Run(ctx, plan, func(ctx context.Context, node *model.ScriptNode, deps map[string]*model.ResultSet) (*model.ResultSet, int, error) {
		atomic.AddInt32(&calls, 1)
		return &model.ResultSet{}, 0, nil
	})

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Equal(t, model.StatusSkipped, statusOf(t, report, "a.go").Status)
	assert.Equal(t, model.StatusSkipped, statusOf(t, report, "b.go").Status)
	assert.True(t, report.Failed())
}

func TestRunnerReportOrderFollowsPlan(t *testing.T) {
	g := buildGraph(t, map[string][]string{
		"z.go": nil,
		"a.go": {"z.go"},
	})
	plan, err := Compute(g)
	require.NoError(t, err)

	runner := NewRunner(g, zap.NewNop())
	report := runner.Run(context.Background(), plan, func(ctx context.Context, node *model.ScriptNode, deps map[string]*model.ResultSet) (*model.ResultSet, int, error) {
		return &model.ResultSet{}, 0, nil
	})

	require.Len(t, report.Results, 2)
	assert.Equal(t, "z.go", report.Results[0].Identity)
	assert.Equal(t, "a.go", report.Results[1].Identity)
}
