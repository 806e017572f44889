package oracle

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/nestor/pkg/supervisor"
)

// workerCatalog describes each delegation target to the supervisor
// model. Kept in sync with the workers the runtime registers.
var workerCatalog = map[supervisor.Target]string{
	supervisor.TargetResearch:       "searches the web and distills findings with sources",
	supervisor.TargetTaskManagement: "lists, creates and updates projects and tasks in the task tracker",
	supervisor.TargetEmailDraft:     "composes email drafts and saves them to the mailbox",
}

// buildSystemPrompt renders the static supervisor instructions:
// role, worker catalog, and the decision protocol. Extra instructions
// from configuration are appended verbatim.
func buildSystemPrompt(instructions string) string {
	var b strings.Builder

	b.WriteString(`You are the supervisor of a team of specialist workers. You never perform work yourself. On every turn you either delegate one task to exactly one worker or finalize with the complete answer for the user.

Workers:
`)
	for _, target := range supervisor.Targets() {
		fmt.Fprintf(&b, "- %s: %s\n", target, workerCatalog[target])
	}

	b.WriteString(`
Respond with a single JSON object and nothing else, with its fields in exactly this order: is_final, delegate_to, reasoning, message.

To delegate:
- set is_final to false
- set delegate_to to one of the worker names above
- write the worker's full, self-contained instruction in reasoning; the worker sees only that instruction and the gathered state
- leave message empty

To finalize:
- set is_final to true
- leave delegate_to empty
- explain in reasoning why the request is complete
- write the complete user-facing answer in message

Never set both a delegation target and a final message. Delegate again only when the gathered state is not enough to answer; repeat delegations that add nothing are wasted turns. Worker entries beginning with "failed:" describe a failure you should either work around or acknowledge in your final answer.`)

	if strings.TrimSpace(instructions) != "" {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(instructions))
	}

	return b.String()
}

// buildTurnPrompt renders the per-iteration user message: the request,
// the gathered state, loop position, and any directives for this turn.
func buildTurnPrompt(req supervisor.DecideRequest) string {
	var b strings.Builder

	b.WriteString("Request:\n")
	b.WriteString(req.Query)
	b.WriteString("\n\nGathered state:\n")
	if strings.TrimSpace(req.StateSummary) == "" {
		b.WriteString("(nothing gathered yet)")
	} else {
		b.WriteString(req.StateSummary)
	}

	fmt.Fprintf(&b, "\n\nIteration %d of %d.", req.Iteration, req.Cap)

	if req.ForceFinal {
		b.WriteString("\n\nThis is the last iteration. You must finalize now: set is_final to true, leave delegate_to empty, and write the best complete answer you can in message using only the gathered state.")
	} else if req.Synthesize {
		b.WriteString("\n\nYou are close to the iteration limit. Finalize now unless one more delegation is strictly necessary to answer.")
	}

	if req.Corrective != "" {
		fmt.Fprintf(&b, "\n\nYour previous response was rejected: %s. Produce a corrected decision that follows the protocol.", req.Corrective)
	}

	b.WriteString("\n\nDecide now.")
	return b.String()
}
