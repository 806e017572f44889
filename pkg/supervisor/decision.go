// Package supervisor implements the delegation loop at the heart of
// nestor: a coordinating agent that repeatedly chooses between handing
// a sub-task to one of three specialist workers or finalizing with a
// synthesized answer, under a hard iteration cap, with the final
// answer streamed to the caller.
package supervisor

import (
	"fmt"
	"strings"
)

// Target identifies a worker the supervisor can delegate to.
type Target string

const (
	TargetResearch       Target = "research"
	TargetTaskManagement Target = "task_management"
	TargetEmailDraft     Target = "email_draft"
)

// Targets returns all valid delegation targets.
func Targets() []Target {
	return []Target{TargetResearch, TargetTaskManagement, TargetEmailDraft}
}

// ParseTarget maps a string onto the closed target set. Leading and
// trailing space and letter case are forgiven since the value comes
// from model output.
func ParseTarget(s string) (Target, error) {
	switch Target(strings.ToLower(strings.TrimSpace(s))) {
	case TargetResearch:
		return TargetResearch, nil
	case TargetTaskManagement:
		return TargetTaskManagement, nil
	case TargetEmailDraft:
		return TargetEmailDraft, nil
	default:
		return "", fmt.Errorf("unknown delegation target '%s' (valid: research, task_management, email_draft)", s)
	}
}

func (t Target) String() string {
	return string(t)
}

// Label returns the human-readable name used in summaries and
// degraded output.
func (t Target) Label() string {
	switch t {
	case TargetResearch:
		return "Research"
	case TargetTaskManagement:
		return "Task Management"
	case TargetEmailDraft:
		return "Email Draft"
	default:
		return string(t)
	}
}

// Decision is the structured output of one oracle consultation.
//
// Field order matters: is_final and delegate_to precede message in the
// schema so a streaming consumer knows whether message text is
// user-facing before any of it arrives.
type Decision struct {
	// IsFinal is true when the request is complete and Message carries
	// the final answer.
	IsFinal bool `json:"is_final" jsonschema:"description=True when the request is complete and message carries the final user-facing answer"`

	// DelegateTo names the worker to consult next. Must be empty when
	// IsFinal is true.
	DelegateTo string `json:"delegate_to" jsonschema:"description=Worker to delegate to next: research task_management or email_draft. Must be empty when is_final is true"`

	// Reasoning explains the decision and doubles as the delegation
	// instruction handed to the chosen worker.
	Reasoning string `json:"reasoning" jsonschema:"description=Why this decision was made. For delegations this is the instruction the worker receives so make it specific and self-contained"`

	// Message is the final user-facing answer. Must be empty unless
	// IsFinal is true.
	Message string `json:"message" jsonschema:"description=The complete final answer for the user. Must be empty when delegating"`
}

// ValidationError describes how a decision violates the decision
// protocol. Rule is a stable identifier quoted back to the oracle in
// corrective retries.
type ValidationError struct {
	Rule   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("decision violates rule %s: %s", e.Rule, e.Detail)
}

// Validate enforces the decision protocol: a decision either finalizes
// (is_final with a non-empty message and no delegation target) or
// delegates (not final, a valid target, and no message). Anything else
// is a protocol error resolved by the loop's fallback paths, never a
// crash.
func (d *Decision) Validate() *ValidationError {
	if d.IsFinal {
		if d.DelegateTo != "" {
			return &ValidationError{
				Rule:   "final_with_delegate",
				Detail: fmt.Sprintf("is_final is true but delegate_to is set to '%s'; a final decision must not delegate", d.DelegateTo),
			}
		}
		if strings.TrimSpace(d.Message) == "" {
			return &ValidationError{
				Rule:   "final_without_message",
				Detail: "is_final is true but message is empty; a final decision must carry the answer",
			}
		}
		return nil
	}

	if strings.TrimSpace(d.DelegateTo) == "" {
		return &ValidationError{
			Rule:   "delegate_missing_target",
			Detail: "is_final is false but no delegate_to target is set; a non-final decision must name a worker",
		}
	}
	if _, err := ParseTarget(d.DelegateTo); err != nil {
		return &ValidationError{
			Rule:   "delegate_unknown_target",
			Detail: err.Error(),
		}
	}
	if strings.TrimSpace(d.Message) != "" {
		return &ValidationError{
			Rule:   "delegate_with_message",
			Detail: "a delegating decision must leave message empty; only final decisions produce user-facing text",
		}
	}
	return nil
}
