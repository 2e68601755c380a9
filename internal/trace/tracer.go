package trace

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	laberrors "github.com/searchlab/searchlab/internal/errors"
)

// Tracer assembles a FlowTrace while a pipeline runs. Every Begin must be
// paired with exactly one Finish; callers do this with defer so the pairing
// holds on every exit path. Seal closes any call left open, so no call ever
// remains unterminated after its run completes.
type Tracer struct {
	mu     sync.Mutex
	trace  *FlowTrace
	lastID string
	sealed bool

	// now is injectable for tests.
	now func() time.Time
}

// NewTracer creates a tracer for one run.
func NewTracer(runID string) *Tracer {
	t := &Tracer{
		trace: &FlowTrace{RunID: runID},
		now:   time.Now,
	}
	t.trace.StartedAt = t.now()
	return t
}

// Begin records the start of a tool invocation and returns its call node.
// Sequential chaining is the default edge type: the parent is the previous
// call. Use BeginChild to fan out from an explicit parent.
func (t *Tracer) Begin(domain string, input map[string]any) *ToolCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.begin(domain, input, t.lastID)
}

// BeginChild records the start of an invocation parented to an explicit
// call, for pipelines with independent parallel stages.
func (t *Tracer) BeginChild(parent *ToolCall, domain string, input map[string]any) *ToolCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	parentID := ""
	if parent != nil {
		parentID = parent.ID
	}
	return t.begin(domain, input, parentID)
}

func (t *Tracer) begin(domain string, input map[string]any, parentID string) *ToolCall {
	call := &ToolCall{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		Domain:    domain,
		Input:     input,
		StartedAt: t.now(),
	}
	t.trace.Calls = append(t.trace.Calls, call)
	t.lastID = call.ID
	return call
}

// Finish completes a call. A nil err yields status ok; a deadline or
// ERR_203 error yields timeout; anything else yields error. Finishing an
// already-terminal call is a no-op, which keeps the exactly-once pairing
// safe under defer.
func (t *Tracer) Finish(call *ToolCall, summary map[string]any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if call == nil || call.done {
		return
	}

	call.EndedAt = t.now()
	call.LatencyMS = call.EndedAt.Sub(call.StartedAt).Milliseconds()
	call.Summary = summary

	switch {
	case err == nil:
		call.Status = StatusOK
	case isTimeout(err):
		call.Status = StatusTimeout
		call.Error = err.Error()
	default:
		call.Status = StatusError
		call.Error = err.Error()
	}
	call.done = true
}

// Seal finalizes the trace and returns it. Any call still open is closed
// with an error status. After Seal the trace is immutable.
func (t *Tracer) Seal() *FlowTrace {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed {
		return t.trace
	}
	t.sealed = true

	end := t.now()
	for _, c := range t.trace.Calls {
		if !c.done {
			c.EndedAt = end
			c.LatencyMS = c.EndedAt.Sub(c.StartedAt).Milliseconds()
			c.Status = StatusError
			c.Error = "call did not terminate"
			c.done = true
		}
	}

	t.trace.EndedAt = end
	t.trace.LatencyMS = end.Sub(t.trace.StartedAt).Milliseconds()
	t.trace.Status = t.overallStatus()
	return t.trace
}

// overallStatus derives the run status from call outcomes.
func (t *Tracer) overallStatus() RunStatus {
	if len(t.trace.Calls) == 0 {
		return RunOK
	}
	failures := 0
	for _, c := range t.trace.Calls {
		if c.Status != StatusOK {
			failures++
		}
	}
	switch failures {
	case 0:
		return RunOK
	case len(t.trace.Calls):
		return RunFailed
	default:
		return RunPartialFailure
	}
}

// CallCount returns the number of calls recorded so far.
func (t *Tracer) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.trace.Calls)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		laberrors.HasCode(err, laberrors.ErrCodeToolTimeout)
}
