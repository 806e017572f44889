package supervisor

import (
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/nestor/pkg/utils"
)

// Turn is one prior exchange from the session, oldest first.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one user request entering the delegation loop.
type Request struct {
	// Query is the user's message. Required.
	Query string `json:"query"`

	// SessionID groups requests into a conversation. Optional.
	SessionID string `json:"session_id,omitempty"`

	// RequestID correlates logs, events, and metrics for one run. A
	// UUID is generated when absent.
	RequestID string `json:"request_id,omitempty"`

	// History carries prior session turns for conversational context.
	History []Turn `json:"history,omitempty"`
}

// Entry is one worker contribution to the shared state. Entries are
// append-only and ordered by creation.
type Entry struct {
	// Origin names the worker that produced the entry.
	Origin Target `json:"origin"`

	// Content is the worker's output, or "failed: <reason>" when the
	// worker returned an error.
	Content string `json:"content"`

	// Reasoning is the oracle's rationale for the delegation that
	// produced this entry.
	Reasoning string `json:"reasoning,omitempty"`

	// Err marks entries recording a worker failure.
	Err bool `json:"err,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Line renders the entry as a single labeled line for summaries.
func (e Entry) Line() string {
	return e.Origin.Label() + ": " + e.Content
}

// State is the full mutable state of one delegation loop run. It is
// owned by the loop goroutine; consumers read it only after the run
// completes.
type State struct {
	Request       Request `json:"request"`
	Entries       []Entry `json:"entries"`
	Iteration     int     `json:"iteration"`
	Complete      bool    `json:"complete"`
	FinalResponse string  `json:"final_response,omitempty"`
}

// NewState returns the initial state for a request.
func NewState(req Request) *State {
	return &State{Request: req}
}

// Summary renders the accumulated entries for the oracle prompt,
// oldest first, within a token budget. When over budget the oldest
// entries are elided whole and replaced with a count marker; a single
// entry that alone exceeds the budget is truncated rather than
// dropped, so the oracle always sees the newest evidence.
func (s *State) Summary(counter utils.Counter, budget int) string {
	if len(s.Entries) == 0 {
		return ""
	}

	lines := make([]string, len(s.Entries))
	for i, entry := range s.Entries {
		lines[i] = entry.Line()
	}

	// Walk newest to oldest, keeping whole lines while they fit.
	start := len(lines)
	total := 0
	for i := len(lines) - 1; i >= 0; i-- {
		tokens := counter.Count(lines[i])
		if total+tokens > budget {
			break
		}
		total += tokens
		start = i
	}

	if start == len(lines) {
		// The newest entry alone exceeds the budget.
		var b strings.Builder
		if len(lines) > 1 {
			fmt.Fprintf(&b, "[%d earlier entries elided]\n", len(lines)-1)
		}
		b.WriteString(counter.Truncate(lines[len(lines)-1], budget))
		return b.String()
	}

	var b strings.Builder
	if start > 0 {
		fmt.Fprintf(&b, "[%d earlier entries elided]\n", start)
	}
	b.WriteString(strings.Join(lines[start:], "\n"))
	return b.String()
}

// BestEffortSummary renders whatever evidence was gathered when no
// synthesized answer could be produced. With no entries at all it
// returns a plain apology.
func (s *State) BestEffortSummary() string {
	if len(s.Entries) == 0 {
		return "I was unable to produce a complete answer for this request. Please try rephrasing or breaking it into smaller steps."
	}

	var b strings.Builder
	b.WriteString("I could not fully synthesize an answer within the allotted steps. Here is what was gathered:\n")
	for _, entry := range s.Entries {
		b.WriteString("\n")
		b.WriteString(entry.Line())
	}
	return b.String()
}
