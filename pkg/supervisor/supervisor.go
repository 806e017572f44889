package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/observability"
	"github.com/kadirpekel/nestor/pkg/utils"
)

// DecideRequest carries everything the oracle needs for one decision.
type DecideRequest struct {
	// Query is the user's original request.
	Query string

	// History carries prior session turns, oldest first.
	History []Turn

	// StateSummary is the bounded rendering of accumulated entries.
	StateSummary string

	// Iteration and Cap tell the oracle where the loop stands.
	Iteration int
	Cap       int

	// Synthesize nudges the oracle toward finalizing. Advisory.
	Synthesize bool

	// Corrective quotes the protocol violation from the previous
	// decision. Set only on a corrective retry.
	Corrective string

	// ForceFinal demands a final decision. Set only at the iteration
	// cap.
	ForceFinal bool
}

// Chunk is one element of a streamed oracle decision. Delta carries
// user-facing message text as it arrives; Decision is set exactly once,
// on the last chunk; Err terminates the stream.
type Chunk struct {
	Delta    string
	Decision *Decision
	Err      error
}

// Oracle decides, given the query and accumulated state, whether to
// delegate or finalize.
type Oracle interface {
	// Decide returns a complete decision in one call.
	Decide(ctx context.Context, req DecideRequest) (*Decision, error)

	// DecideStreaming returns the decision incrementally. Implementations
	// must emit Delta text only for message content of a final decision,
	// so every streamed byte is safe to show the user.
	DecideStreaming(ctx context.Context, req DecideRequest) (<-chan Chunk, error)
}

// Job is one delegated unit of work.
type Job struct {
	// Task is the oracle's instruction for the worker.
	Task string

	// Summary is the shared-state summary at delegation time, giving
	// the worker context from earlier iterations.
	Summary string

	// Request is the originating user request.
	Request Request
}

// Result is a worker's contribution.
type Result struct {
	Content string
}

// Worker executes one delegated job synchronously.
type Worker interface {
	Execute(ctx context.Context, job Job) (*Result, error)
}

// Event types reported on the execution's event channel.
const (
	EventDelegating = "delegating"
	EventWorkerDone = "worker_done"
	EventCompleted  = "completed"
)

// Event is an out-of-band progress notification. Events are advisory;
// a slow consumer loses events rather than stalling the loop.
type Event struct {
	Type       string `json:"type"`
	Target     Target `json:"target,omitempty"`
	Iteration  int    `json:"iteration"`
	Err        string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// Execution is a handle on one running delegation loop. Chunks carries
// the final answer text as it streams; its closure signals completion.
// Events carries progress notifications. State blocks until the run
// finishes and then returns the terminal state.
type Execution struct {
	chunks chan string
	events chan Event
	done   chan struct{}
	state  *State
}

// Chunks returns the final answer stream. The channel is closed when
// the run completes, successfully or not.
func (e *Execution) Chunks() <-chan string {
	return e.chunks
}

// Events returns the progress event stream, closed on completion.
func (e *Execution) Events() <-chan Event {
	return e.events
}

// Done is closed when the run has finished and State is safe to read.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// State blocks until the run completes and returns the terminal state.
func (e *Execution) State() *State {
	<-e.done
	return e.state
}

func (e *Execution) send(ctx context.Context, text string) {
	if text == "" {
		return
	}
	select {
	case e.chunks <- text:
	case <-ctx.Done():
	}
}

// emit never blocks; progress events are dropped when the consumer
// falls behind.
func (e *Execution) emit(event Event) {
	select {
	case e.events <- event:
	default:
	}
}

// Supervisor runs the delegation loop: consult the oracle, validate its
// decision, delegate to a worker or finalize, and repeat under a hard
// iteration cap.
type Supervisor struct {
	oracle  Oracle
	workers map[Target]Worker
	counter utils.Counter
	cfg     config.SupervisorConfig
}

// New builds a supervisor. Every delegation target must have a worker;
// the dispatch table is fixed at construction so an invalid target can
// only ever be a validation failure, never a runtime dispatch miss.
func New(oracle Oracle, workers map[Target]Worker, counter utils.Counter, cfg config.SupervisorConfig) (*Supervisor, error) {
	if oracle == nil {
		return nil, fmt.Errorf("supervisor requires an oracle")
	}
	for _, target := range Targets() {
		if workers[target] == nil {
			return nil, fmt.Errorf("no worker registered for target '%s'", target)
		}
	}
	if counter == nil {
		counter = utils.EstimateCounter{}
	}
	cfg.SetDefaults()

	return &Supervisor{
		oracle:  oracle,
		workers: workers,
		counter: counter,
		cfg:     cfg,
	}, nil
}

// Execute starts the delegation loop for one request and returns
// immediately with a handle on the running execution.
func (s *Supervisor) Execute(ctx context.Context, req Request) *Execution {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	exec := &Execution{
		chunks: make(chan string, 64),
		events: make(chan Event, 16),
		done:   make(chan struct{}),
		state:  NewState(req),
	}

	go s.run(ctx, exec)
	return exec
}

func (s *Supervisor) run(ctx context.Context, exec *Execution) {
	defer close(exec.done)
	defer close(exec.events)
	defer close(exec.chunks)

	state := exec.state
	req := state.Request
	started := time.Now()
	defer func() {
		recordWorkflow(ctx, time.Since(started), state.Iteration, ctx.Err())
	}()

	slog.Info("Supervisor run started",
		"request_id", req.RequestID,
		"session_id", req.SessionID,
		"max_iterations", s.cfg.MaxIterations)

	for {
		select {
		case <-ctx.Done():
			slog.Warn("Supervisor run cancelled",
				"request_id", req.RequestID,
				"iteration", state.Iteration)
			return
		default:
		}

		state.Iteration++

		if state.Iteration >= s.cfg.MaxIterations {
			s.forceSynthesis(ctx, state, exec)
			return
		}

		summary := state.Summary(s.counter, s.cfg.SummaryBudget)
		dreq := DecideRequest{
			Query:        req.Query,
			History:      req.History,
			StateSummary: summary,
			Iteration:    state.Iteration,
			Cap:          s.cfg.MaxIterations,
			Synthesize:   state.Iteration >= s.cfg.SoftLimit,
		}

		decision, streamed, err := s.consultStreaming(ctx, dreq, exec)
		partial := false
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Oracle call failed, retrying once",
				"request_id", req.RequestID,
				"iteration", state.Iteration,
				"error", err)
			partial = streamed
			decision, err = s.consult(ctx, dreq)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("Oracle unavailable after retry, finalizing with best effort",
					"request_id", req.RequestID,
					"error", err)
				s.finalizeFallback(ctx, state, exec, "", streamed)
				return
			}
		}

		if verr := decision.Validate(); verr != nil {
			decision = s.retryCorrective(ctx, state, dreq, decision, verr)
			if decision == nil {
				return
			}
			if verr := decision.Validate(); verr != nil {
				s.finalizeFallback(ctx, state, exec, decision.Reasoning, streamed)
				return
			}
		}

		if decision.IsFinal {
			state.Complete = true
			state.FinalResponse = decision.Message
			if partial {
				// The failed stream already put a partial message on the
				// wire; set the retried answer off from it.
				exec.send(ctx, "\n\n"+decision.Message)
			} else if !streamed {
				exec.send(ctx, decision.Message)
			}
			exec.emit(Event{Type: EventCompleted, Iteration: state.Iteration})
			slog.Info("Supervisor run completed",
				"request_id", req.RequestID,
				"iterations", state.Iteration,
				"entries", len(state.Entries))
			return
		}

		// Validated above, cannot fail here.
		target, _ := ParseTarget(decision.DelegateTo)
		s.delegate(ctx, state, exec, target, decision, summary)
	}
}

// consultStreaming asks the oracle for a decision over its streaming
// interface, forwarding message deltas to the caller as they arrive.
// It reports whether any delta text was forwarded, so the caller knows
// text is already on the wire if the decision later proves unusable.
func (s *Supervisor) consultStreaming(ctx context.Context, dreq DecideRequest, exec *Execution) (*Decision, bool, error) {
	octx, cancel := context.WithTimeout(ctx, s.cfg.OracleTimeout)
	defer cancel()

	started := time.Now()
	stream, err := s.oracle.DecideStreaming(octx, dreq)
	if err != nil {
		recordOracleCall(ctx, time.Since(started), dreq.Corrective != "", err)
		return nil, false, err
	}

	var decision *Decision
	streamed := false
	for chunk := range stream {
		if chunk.Err != nil {
			recordOracleCall(ctx, time.Since(started), dreq.Corrective != "", chunk.Err)
			return nil, streamed, chunk.Err
		}
		if chunk.Delta != "" {
			streamed = true
			exec.send(ctx, chunk.Delta)
		}
		if chunk.Decision != nil {
			decision = chunk.Decision
		}
	}
	if decision == nil {
		err := fmt.Errorf("oracle stream ended without a decision")
		recordOracleCall(ctx, time.Since(started), dreq.Corrective != "", err)
		return nil, streamed, err
	}

	recordOracleCall(ctx, time.Since(started), dreq.Corrective != "", nil)
	return decision, streamed, nil
}

// consult asks the oracle for a decision in one non-streaming call.
// Used for retries and forced synthesis, where the message is emitted
// as a single chunk after validation instead of streamed.
func (s *Supervisor) consult(ctx context.Context, dreq DecideRequest) (*Decision, error) {
	octx, cancel := context.WithTimeout(ctx, s.cfg.OracleTimeout)
	defer cancel()

	started := time.Now()
	decision, err := s.oracle.Decide(octx, dreq)
	recordOracleCall(ctx, time.Since(started), dreq.Corrective != "", err)
	return decision, err
}

// retryCorrective gives the oracle one chance to repair an invalid
// decision, quoting the violated rule. It returns the corrected
// decision, the original decision when the retry produced nothing
// better, or nil when the context is gone.
func (s *Supervisor) retryCorrective(ctx context.Context, state *State, dreq DecideRequest, invalid *Decision, verr *ValidationError) *Decision {
	recordValidationFailure(ctx, verr.Rule)
	slog.Warn("Invalid decision, retrying with corrective instruction",
		"request_id", state.Request.RequestID,
		"iteration", state.Iteration,
		"rule", verr.Rule)

	creq := dreq
	creq.Corrective = verr.Error()

	corrected, err := s.consult(ctx, creq)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("Corrective retry failed", "error", err)
		return invalid
	}
	if cerr := corrected.Validate(); cerr != nil {
		recordValidationFailure(ctx, cerr.Rule)
		slog.Warn("Corrective retry still invalid", "rule", cerr.Rule)
		// Prefer the retry's reasoning for the fallback answer when it
		// has any, otherwise keep the original's.
		if strings.TrimSpace(corrected.Reasoning) == "" {
			corrected.Reasoning = invalid.Reasoning
		}
		return corrected
	}
	return corrected
}

// delegate hands one job to the target worker and records the outcome
// as a shared-state entry. Worker failure is recorded, never fatal.
func (s *Supervisor) delegate(ctx context.Context, state *State, exec *Execution, target Target, decision *Decision, summary string) {
	slog.Info("Delegating",
		"request_id", state.Request.RequestID,
		"iteration", state.Iteration,
		"target", target)
	exec.emit(Event{Type: EventDelegating, Target: target, Iteration: state.Iteration})

	job := Job{
		Task:    decision.Reasoning,
		Summary: summary,
		Request: state.Request,
	}

	wctx, cancel := context.WithTimeout(ctx, s.cfg.WorkerTimeout)
	started := time.Now()
	result, err := s.workers[target].Execute(wctx, job)
	duration := time.Since(started)
	cancel()

	recordDelegation(ctx, target.String(), duration, err)

	entry := Entry{
		Origin:    target,
		Reasoning: decision.Reasoning,
		Timestamp: time.Now(),
	}
	event := Event{
		Type:       EventWorkerDone,
		Target:     target,
		Iteration:  state.Iteration,
		DurationMS: duration.Milliseconds(),
	}
	switch {
	case err != nil:
		slog.Warn("Worker failed",
			"request_id", state.Request.RequestID,
			"target", target,
			"error", err)
		entry.Content = fmt.Sprintf("failed: %v", err)
		entry.Err = true
		event.Err = err.Error()
	case result == nil || strings.TrimSpace(result.Content) == "":
		entry.Content = "failed: worker returned no content"
		entry.Err = true
		event.Err = entry.Content
	default:
		entry.Content = result.Content
	}

	state.Entries = append(state.Entries, entry)
	exec.emit(event)
}

// forceSynthesis runs the iteration-cap endgame: one non-streaming
// oracle call demanding a final answer, degrading to a plain
// concatenation of gathered evidence when even that fails.
func (s *Supervisor) forceSynthesis(ctx context.Context, state *State, exec *Execution) {
	slog.Info("Iteration cap reached, forcing synthesis",
		"request_id", state.Request.RequestID,
		"iteration", state.Iteration,
		"entries", len(state.Entries))

	dreq := DecideRequest{
		Query:        state.Request.Query,
		History:      state.Request.History,
		StateSummary: state.Summary(s.counter, s.cfg.SummaryBudget),
		Iteration:    state.Iteration,
		Cap:          s.cfg.MaxIterations,
		ForceFinal:   true,
	}

	var message string
	decision, err := s.consult(ctx, dreq)
	if err == nil {
		if verr := decision.Validate(); verr == nil && decision.IsFinal {
			message = decision.Message
		} else if verr != nil {
			recordValidationFailure(ctx, verr.Rule)
		}
	}
	if message == "" {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("Forced synthesis failed, degrading to evidence summary",
			"request_id", state.Request.RequestID,
			"error", err)
		message = state.BestEffortSummary()
	}

	state.Complete = true
	state.FinalResponse = message
	exec.send(ctx, message)
	exec.emit(Event{Type: EventCompleted, Iteration: state.Iteration})
}

// finalizeFallback closes out a run whose oracle could not produce a
// valid decision. The oracle's reasoning becomes the answer when it has
// any substance; otherwise the gathered evidence or an apology does.
func (s *Supervisor) finalizeFallback(ctx context.Context, state *State, exec *Execution, reasoning string, streamed bool) {
	message := strings.TrimSpace(reasoning)
	if message == "" {
		message = state.BestEffortSummary()
	}

	state.Complete = true
	state.FinalResponse = message
	if streamed {
		// Partial text is already on the wire; set it off from the
		// fallback answer.
		exec.send(ctx, "\n\n"+message)
	} else {
		exec.send(ctx, message)
	}
	exec.emit(Event{Type: EventCompleted, Iteration: state.Iteration})
}

func recordWorkflow(ctx context.Context, duration time.Duration, iterations int, err error) {
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordWorkflow(ctx, duration, iterations, err)
	}
}

func recordDelegation(ctx context.Context, target string, duration time.Duration, err error) {
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordDelegation(ctx, target, duration, err)
	}
}

func recordOracleCall(ctx context.Context, duration time.Duration, corrective bool, err error) {
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordOracleCall(ctx, duration, corrective, err)
	}
}

func recordValidationFailure(ctx context.Context, rule string) {
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordValidationFailure(ctx, rule)
	}
}
