// Package utils provides small shared helpers for the nestor runtime.
package utils

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts and trims text by model tokens. The supervisor uses
// it to keep oracle input within budget; tests substitute cheap
// implementations.
type Counter interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// Message is a role/content pair for token accounting.
type Message struct {
	Role    string
	Content string
}

var (
	// Cache encodings, initialization downloads BPE data.
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// TokenCounter counts tokens with the tiktoken encoding for a model.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

// NewTokenCounter creates a counter for the given model.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{
			encoding: cached,
			model:    model,
		}, nil
	}

	encoding, err := tiktoken.GetEncoding(EncodingNameForModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding for model '%s': %w", model, err)
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{
		encoding: encoding,
		model:    model,
	}, nil
}

// NewCounter returns a tiktoken-backed counter for the model, falling
// back to the character heuristic when no encoding can be loaded
// (offline runs with a cold tiktoken cache).
func NewCounter(model string) Counter {
	counter, err := NewTokenCounter(model)
	if err != nil {
		return EstimateCounter{}
	}
	return counter
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	tokens := tc.encoding.Encode(text, nil, nil)
	return len(tokens)
}

// Truncate cuts text to at most maxTokens tokens, marking the cut
// with an ellipsis so readers of summaries can tell content was
// dropped.
func (tc *TokenCounter) Truncate(text string, maxTokens int) string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	if maxTokens <= 0 {
		return ""
	}

	tokens := tc.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}

	return tc.encoding.Decode(tokens[:maxTokens]) + "..."
}

// CountMessages counts tokens in a message list including the
// per-message role framing overhead, following OpenAI's published
// counting format.
func (tc *TokenCounter) CountMessages(messages []Message) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	// <|start|>role|message<|end|>
	tokensPerMessage := 3

	totalTokens := 0
	for _, msg := range messages {
		totalTokens += tokensPerMessage
		totalTokens += len(tc.encoding.Encode(msg.Role, nil, nil))
		totalTokens += len(tc.encoding.Encode(msg.Content, nil, nil))
	}

	// Every reply is primed with <|start|>assistant<|message|>
	totalTokens += 3

	return totalTokens
}

// FitWithinLimit returns the longest suffix of messages that fits the
// token budget. Most recent messages win.
func (tc *TokenCounter) FitWithinLimit(messages []Message, maxTokens int) []Message {
	if len(messages) == 0 {
		return messages
	}

	fitted := []Message{}
	currentTokens := 3 // reply priming

	for i := len(messages) - 1; i >= 0; i-- {
		msgTokens := tc.CountMessages([]Message{messages[i]})

		if currentTokens+msgTokens > maxTokens {
			break
		}

		fitted = append([]Message{messages[i]}, fitted...)
		currentTokens += msgTokens
	}

	return fitted
}

// GetModel returns the model name this counter is configured for.
func (tc *TokenCounter) GetModel() string {
	return tc.model
}

// EstimateCounter approximates tokens without an encoding: the larger
// of runes/4 and the word count.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}

	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

func (EstimateCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}

	runes := []rune(text)
	limit := maxTokens * 4
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

// EncodingNameForModel maps a model name to its tiktoken encoding.
// Anthropic and Gemini publish no tokenizer here, so cl100k_base
// stands in as a close approximation.
func EncodingNameForModel(model string) string {
	lower := strings.ToLower(model)

	for _, prefix := range []string{"gpt-4o", "gpt-5", "o1", "o3", "o4"} {
		if strings.HasPrefix(lower, prefix) {
			return "o200k_base"
		}
	}

	return "cl100k_base"
}
