// Package workers implements the supervisor's specialists: research,
// task management and email drafting. Each worker wraps an LLM and a
// closed toolset in a small bounded tool loop and reports back a
// single text summary of what it found or did.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/nestor/pkg/httpclient"
	"github.com/kadirpekel/nestor/pkg/llms"
	"github.com/kadirpekel/nestor/pkg/tools"
)

// maxRetryWait caps how long a worker sleeps on a rate limited model
// before its single retry. Workers run under the supervisor's worker
// timeout, so long provider hints are not worth honoring in full.
const maxRetryWait = 15 * time.Second

// agent drives the conversation between one worker's model and its
// toolset: generate, execute the requested tool calls, feed results
// back, repeat until the model answers in plain text.
type agent struct {
	name      string
	provider  llms.LLMProvider
	registry  *tools.Registry
	maxRounds int
}

func newAgent(name string, provider llms.LLMProvider, registry *tools.Registry, maxRounds int) (*agent, error) {
	if provider == nil {
		return nil, fmt.Errorf("worker %s requires an LLM provider", name)
	}
	if registry == nil {
		return nil, fmt.Errorf("worker %s requires a tool registry", name)
	}
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &agent{name: name, provider: provider, registry: registry, maxRounds: maxRounds}, nil
}

// run executes the tool loop and returns the model's final text. When
// the model is still calling tools at the round cap, the tools are
// withdrawn and the model is asked to report with what it has.
func (a *agent) run(ctx context.Context, system, task string) (string, error) {
	messages := []llms.Message{
		llms.SystemMessage(system),
		llms.UserMessage(task),
	}
	defs := a.registry.Definitions()

	for round := 1; round <= a.maxRounds; round++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		text, toolCalls, err := a.generate(ctx, messages, defs)
		if err != nil {
			return "", err
		}

		if len(toolCalls) == 0 {
			return text, nil
		}

		slog.Debug("Worker round requested tools",
			"worker", a.name, "round", round, "tool_calls", len(toolCalls))

		// The assistant turn with its tool_calls must precede the tool
		// results for the provider round trip to line up.
		messages = append(messages, llms.Message{
			Role:      llms.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
		})

		for _, call := range toolCalls {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			default:
			}

			result, err := a.registry.Execute(ctx, call.Name, call.Arguments)
			content := result.Content
			if err != nil {
				content = "Error: " + err.Error()
			}
			messages = append(messages, llms.ToolResultMessage(call.ID, call.Name, content))
		}
	}

	messages = append(messages, llms.UserMessage(
		"You have used your tool budget for this task. Report your results now in plain text."))

	text, _, err := a.generate(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return text, nil
}

// generate calls the model, retrying once when the provider signals a
// rate limit with a usable reset hint.
func (a *agent) generate(ctx context.Context, messages []llms.Message, defs []llms.ToolDefinition) (string, []llms.ToolCall, error) {
	text, toolCalls, _, err := a.provider.Generate(ctx, messages, defs)
	if err == nil {
		return text, toolCalls, nil
	}

	var retryErr *httpclient.RetryableError
	if !errors.As(err, &retryErr) {
		return "", nil, err
	}

	wait := retryErr.RetryAfter
	if wait <= 0 || wait > maxRetryWait {
		wait = maxRetryWait
	}
	slog.Warn("Worker model rate limited, retrying once",
		"worker", a.name, "wait", wait.Round(time.Second))

	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}

	text, toolCalls, _, err = a.provider.Generate(ctx, messages, defs)
	if err != nil {
		return "", nil, err
	}
	return text, toolCalls, nil
}

// jobPrompt renders a worker's user message: the delegated task plus
// the supervisor's view of what the team has gathered already.
func jobPrompt(task, summary string) string {
	if strings.TrimSpace(summary) == "" {
		return task
	}
	return "State gathered by the team so far:\n" + summary + "\n\nYour task:\n" + task
}

// withInstructions appends configured extra instructions to a worker
// system prompt.
func withInstructions(prompt, instructions string) string {
	if strings.TrimSpace(instructions) == "" {
		return prompt
	}
	return prompt + "\n\n" + strings.TrimSpace(instructions)
}
