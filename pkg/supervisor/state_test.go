package supervisor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordCounter makes token arithmetic in tests exact: one word, one
// token.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func (wordCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ") + "..."
}

func testEntries() []Entry {
	now := time.Now()
	return []Entry{
		{Origin: TargetResearch, Content: "found A", Timestamp: now},
		{Origin: TargetTaskManagement, Content: "created B", Timestamp: now},
		{Origin: TargetEmailDraft, Content: "drafted C", Timestamp: now},
	}
}

func TestState_Summary_Empty(t *testing.T) {
	state := NewState(Request{Query: "q"})
	assert.Empty(t, state.Summary(wordCounter{}, 100))
}

func TestState_Summary_WithinBudget(t *testing.T) {
	state := NewState(Request{Query: "q"})
	state.Entries = testEntries()

	got := state.Summary(wordCounter{}, 100)

	want := "Research: found A\nTask Management: created B\nEmail Draft: drafted C"
	assert.Equal(t, want, got)
	assert.NotContains(t, got, "elided")
}

func TestState_Summary_ElidesOldestFirst(t *testing.T) {
	state := NewState(Request{Query: "q"})
	state.Entries = testEntries()

	// Newest two lines are 4 words each; the budget of 8 excludes the
	// oldest 3-word line.
	got := state.Summary(wordCounter{}, 8)

	assert.Equal(t, "[1 earlier entries elided]\nTask Management: created B\nEmail Draft: drafted C", got)
	assert.NotContains(t, got, "found A")
}

func TestState_Summary_TruncatesOversizeNewestEntry(t *testing.T) {
	words := make([]string, 30)
	for i := range words {
		words[i] = "alpha"
	}

	state := NewState(Request{Query: "q"})
	state.Entries = []Entry{
		{Origin: TargetResearch, Content: "old finding"},
		{Origin: TargetResearch, Content: strings.Join(words, " ")},
	}

	got := state.Summary(wordCounter{}, 10)

	assert.True(t, strings.HasPrefix(got, "[1 earlier entries elided]\n"))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Contains(t, got, "Research: alpha")
	assert.NotContains(t, got, "old finding")
}

func TestState_Summary_IncludesFailedEntries(t *testing.T) {
	state := NewState(Request{Query: "q"})
	state.Entries = []Entry{
		{Origin: TargetResearch, Content: "failed: connection refused", Err: true},
	}

	got := state.Summary(wordCounter{}, 100)
	assert.Equal(t, "Research: failed: connection refused", got)
}

func TestState_BestEffortSummary_NoEntries(t *testing.T) {
	state := NewState(Request{Query: "q"})
	got := state.BestEffortSummary()
	assert.Contains(t, got, "unable to produce a complete answer")
}

func TestState_BestEffortSummary_WithEntries(t *testing.T) {
	state := NewState(Request{Query: "q"})
	state.Entries = testEntries()

	got := state.BestEffortSummary()

	require.True(t, strings.HasPrefix(got, "I could not fully synthesize"))
	assert.Contains(t, got, "Research: found A")
	assert.Contains(t, got, "Task Management: created B")
	assert.Contains(t, got, "Email Draft: drafted C")
}

func TestEntry_Line(t *testing.T) {
	entry := Entry{Origin: TargetEmailDraft, Content: "draft saved"}
	assert.Equal(t, "Email Draft: draft saved", entry.Line())
}
