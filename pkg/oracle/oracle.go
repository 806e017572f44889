// Package oracle implements the supervisor's decision maker on top of
// a structured-output LLM provider. Every consultation constrains the
// model to the decision schema; streamed consultations additionally
// forward final-answer text as it is generated, without ever leaking
// a delegation's internals to the user.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/kadirpekel/nestor/pkg/llms"
	"github.com/kadirpekel/nestor/pkg/supervisor"
)

// LLMOracle turns an LLM with structured output support into a
// supervisor.Oracle.
type LLMOracle struct {
	provider llms.StructuredOutputProvider
	system   string
	schema   json.RawMessage
}

// New builds an oracle around the given provider. Extra instructions
// are appended to the supervisor system prompt.
func New(provider llms.StructuredOutputProvider, instructions string) (*LLMOracle, error) {
	if provider == nil {
		return nil, fmt.Errorf("oracle requires a structured output provider")
	}

	schema, err := decisionSchema()
	if err != nil {
		return nil, err
	}

	return &LLMOracle{
		provider: provider,
		system:   buildSystemPrompt(instructions),
		schema:   schema,
	}, nil
}

// Decide asks for a complete decision in one call.
func (o *LLMOracle) Decide(ctx context.Context, req supervisor.DecideRequest) (*supervisor.Decision, error) {
	text, _, _, err := o.provider.GenerateStructured(ctx, o.buildMessages(req), nil, o.structConfig())
	if err != nil {
		return nil, fmt.Errorf("oracle decision call failed: %w", err)
	}

	decision, err := parseDecision(text)
	if err != nil {
		return nil, fmt.Errorf("oracle returned an unparseable decision: %w", err)
	}
	return decision, nil
}

// DecideStreaming asks for a decision over the provider's streaming
// interface. Message text of a final decision is forwarded as Delta
// chunks while the model writes it; the parsed decision follows as the
// last chunk.
func (o *LLMOracle) DecideStreaming(ctx context.Context, req supervisor.DecideRequest) (<-chan supervisor.Chunk, error) {
	stream, err := o.provider.GenerateStructuredStreaming(ctx, o.buildMessages(req), nil, o.structConfig())
	if err != nil {
		return nil, fmt.Errorf("oracle streaming call failed: %w", err)
	}

	out := make(chan supervisor.Chunk, 16)
	go func() {
		defer close(out)

		scanner := newDecisionScanner()
		for chunk := range stream {
			switch chunk.Type {
			case "text":
				if delta := scanner.feed(chunk.Text); delta != "" {
					select {
					case out <- supervisor.Chunk{Delta: delta}:
					case <-ctx.Done():
						return
					}
				}
			case "error":
				err := chunk.Error
				if err == nil {
					err = fmt.Errorf("oracle stream failed")
				}
				select {
				case out <- supervisor.Chunk{Err: err}:
				case <-ctx.Done():
				}
				return
			}
		}

		decision, err := parseDecision(scanner.raw())
		if err != nil {
			select {
			case out <- supervisor.Chunk{Err: fmt.Errorf("oracle returned an unparseable decision: %w", err)}:
			case <-ctx.Done():
			}
			return
		}

		select {
		case out <- supervisor.Chunk{Decision: decision}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (o *LLMOracle) structConfig() *llms.StructuredOutputConfig {
	return &llms.StructuredOutputConfig{
		Format:           "json",
		Schema:           o.schema,
		PropertyOrdering: decisionPropertyOrdering,
	}
}

func (o *LLMOracle) buildMessages(req supervisor.DecideRequest) []llms.Message {
	messages := make([]llms.Message, 0, len(req.History)+2)
	messages = append(messages, llms.SystemMessage(o.system))

	for _, turn := range req.History {
		switch turn.Role {
		case llms.RoleAssistant:
			messages = append(messages, llms.AssistantMessage(turn.Content))
		default:
			messages = append(messages, llms.UserMessage(turn.Content))
		}
	}

	messages = append(messages, llms.UserMessage(buildTurnPrompt(req)))
	return messages
}

// parseDecision parses model output into a decision, stripping fences
// and repairing sloppy JSON before giving up.
func parseDecision(text string) (*supervisor.Decision, error) {
	trimmed := stripFences(strings.TrimSpace(text))
	if trimmed == "" {
		return nil, fmt.Errorf("empty decision payload")
	}

	var decision supervisor.Decision
	if err := json.Unmarshal([]byte(trimmed), &decision); err == nil {
		return &decision, nil
	}

	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decision is not valid JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &decision); err != nil {
		return nil, fmt.Errorf("failed to parse repaired decision: %w", err)
	}
	return &decision, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}

	rest := text
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		rest = rest[idx+1:]
	} else {
		return text
	}
	rest = strings.TrimSuffix(strings.TrimSpace(rest), "```")
	return strings.TrimSpace(rest)
}
