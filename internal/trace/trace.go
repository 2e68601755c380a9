// Package trace captures per-run causal traces of tool invocations.
// A FlowTrace is an ordered, parent-edged set of ToolCall nodes: linear for
// the sequential executor, DAG-capable for future fan-out pipelines.
package trace

import (
	"time"
)

// Status is the terminal status of a single tool invocation.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// RunStatus is the overall status of one pipeline execution.
type RunStatus string

const (
	RunOK             RunStatus = "ok"
	RunPartialFailure RunStatus = "partial_failure"
	RunFailed         RunStatus = "failed"
)

// ToolCall is the trace record for a single tool invocation.
// It is owned by its enclosing FlowTrace and never mutated after Finish.
type ToolCall struct {
	ID        string         `json:"id"`
	ParentID  string         `json:"parent_id,omitempty"`
	Domain    string         `json:"domain"`
	Input     map[string]any `json:"input,omitempty"`
	Summary   map[string]any `json:"summary,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	LatencyMS int64          `json:"latency_ms"`
	Status    Status         `json:"status"`
	Error     string         `json:"error,omitempty"`

	done bool
}

// Terminal reports whether the call reached a terminal status.
func (c *ToolCall) Terminal() bool {
	return c.done
}

// FlowTrace is the aggregated execution trace for one run.
// Immutable once the run ends; persisted wholesale.
type FlowTrace struct {
	RunID     string      `json:"run_id"`
	Calls     []*ToolCall `json:"calls"`
	Status    RunStatus   `json:"status"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at"`
	LatencyMS int64       `json:"latency_ms"`
}

// FailureCount returns how many calls ended in error or timeout.
func (t *FlowTrace) FailureCount() int {
	n := 0
	for _, c := range t.Calls {
		if c.Status != StatusOK {
			n++
		}
	}
	return n
}
