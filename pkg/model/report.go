package model

import "time"

// NodeStatus is the terminal state of one node in a run.
type NodeStatus string

const (
	StatusSucceeded NodeStatus = "succeeded"
	StatusFailed    NodeStatus = "failed"
	StatusSkipped   NodeStatus = "skipped"
)

// NodeResult records the outcome of one node.
type NodeResult struct {
	Identity string
	Status   NodeStatus
	Rows     int
	Duration time.Duration
	Err      error
}

// RunReport aggregates per-node outcomes for one invocation.
type RunReport struct {
	RunID    string
	Results  []NodeResult
	Duration time.Duration
}

// Counts returns the number of succeeded, failed, and skipped nodes.
func (r *RunReport) Counts() (succeeded, failed, skipped int) {
	for _, res := range r.Results {
		switch res.Status {
		case StatusSucceeded:
			succeeded++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return
}

// Failed reports whether any node failed or was skipped. A skipped node means
// required work never ran, so it forces a non-zero exit as well.
func (r *RunReport) Failed() bool {
	_, failed, skipped := r.Counts()
	return failed > 0 || skipped > 0
}
