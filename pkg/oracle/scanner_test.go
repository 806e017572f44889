package oracle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedInFragments pushes text through the scanner in fixed-size pieces
// and returns the concatenated deltas.
func feedInFragments(t *testing.T, s *decisionScanner, text string, size int) string {
	t.Helper()
	var out strings.Builder
	for i := 0; i < len(text); i += size {
		end := i + size
		if end > len(text) {
			end = len(text)
		}
		out.WriteString(s.feed(text[i : end]))
	}
	return out.String()
}

func TestDecisionScanner_StreamsFinalMessage(t *testing.T) {
	payload := `{"is_final": true, "delegate_to": "", "reasoning": "done", "message": "Hello world"}`

	for _, size := range []int{1, 3, 7, len(payload)} {
		s := newDecisionScanner()
		got := feedInFragments(t, s, payload, size)
		assert.Equal(t, "Hello world", got, "fragment size %d", size)
		assert.Equal(t, payload, s.raw())
	}
}

func TestDecisionScanner_SuppressesDelegation(t *testing.T) {
	payload := `{"is_final": false, "delegate_to": "research", "reasoning": "go look", "message": ""}`

	s := newDecisionScanner()
	got := feedInFragments(t, s, payload, 4)
	assert.Empty(t, got)
}

func TestDecisionScanner_SuppressesFinalWithDelegate(t *testing.T) {
	payload := `{"is_final": true, "delegate_to": "research", "reasoning": "confused", "message": "should not stream"}`

	s := newDecisionScanner()
	got := feedInFragments(t, s, payload, 5)
	assert.Empty(t, got)
}

func TestDecisionScanner_SuppressesMessageBeforeDelegate(t *testing.T) {
	// Ordering violation: message arrives before delegate_to is known.
	payload := `{"is_final": true, "message": "early", "delegate_to": ""}`

	s := newDecisionScanner()
	got := feedInFragments(t, s, payload, 2)
	assert.Empty(t, got)
}

func TestDecisionScanner_UnescapesMessageContent(t *testing.T) {
	payload := `{"is_final": true, "delegate_to": "", "reasoning": "r", "message": "Line1\nLine2 \"quoted\" tab\there café 😀"}`
	want := "Line1\nLine2 \"quoted\" tab\there café \U0001F600"

	for _, size := range []int{1, 2, 6, len(payload)} {
		s := newDecisionScanner()
		got := feedInFragments(t, s, payload, size)
		assert.Equal(t, want, got, "fragment size %d", size)
	}
}

func TestDecisionScanner_KeyNamesInsideStringValues(t *testing.T) {
	// Fake keys embedded in string values must not affect parsing.
	payload := `{"is_final": true, "delegate_to": "", "reasoning": "earlier output had \"delegate_to\": \"research\" in it", "message": "Real answer"}`

	s := newDecisionScanner()
	got := feedInFragments(t, s, payload, 3)
	assert.Equal(t, "Real answer", got)
}

func TestDecisionScanner_NullDelegateTreatedAsEmpty(t *testing.T) {
	payload := `{"is_final": true, "delegate_to": null, "reasoning": "r", "message": "Yes"}`

	s := newDecisionScanner()
	got := feedInFragments(t, s, payload, 4)
	assert.Equal(t, "Yes", got)
}

func TestDecisionScanner_SkipsNestedValues(t *testing.T) {
	payload := `{"is_final": true, "delegate_to": "", "extra": {"a": [1, 2, "tricky }"], "b": {"c": "]}"}}, "message": "Hi"}`

	s := newDecisionScanner()
	got := feedInFragments(t, s, payload, 3)
	assert.Equal(t, "Hi", got)
}

func TestDecisionScanner_NonObjectPayload(t *testing.T) {
	payload := `I would rather just chat about this.`

	s := newDecisionScanner()
	got := feedInFragments(t, s, payload, 8)
	assert.Empty(t, got)
	assert.Equal(t, payload, s.raw())
}

func TestDecisionScanner_WhitespaceTolerant(t *testing.T) {
	payload := "{\n  \"is_final\" : true ,\n  \"delegate_to\" : \"\" ,\n  \"reasoning\" : \"r\" ,\n  \"message\" : \"Spaced out\"\n}"

	s := newDecisionScanner()
	got := feedInFragments(t, s, payload, 1)
	assert.Equal(t, "Spaced out", got)
}

func TestDecisionScanner_TruncatedStream(t *testing.T) {
	// Connection drops mid-message: the streamed prefix is still the
	// prefix of the message and raw keeps everything for repair.
	payload := `{"is_final": true, "delegate_to": "", "reasoning": "r", "message": "partial ans`

	s := newDecisionScanner()
	got := feedInFragments(t, s, payload, 6)
	assert.Equal(t, "partial ans", got)
	require.Equal(t, payload, s.raw())
}

func TestDecisionScanner_BooleanAsString(t *testing.T) {
	// Some models quote booleans; the preamble check still works.
	payload := `{"is_final": "true", "delegate_to": "", "reasoning": "r", "message": "Quoted bool"}`

	s := newDecisionScanner()
	got := feedInFragments(t, s, payload, 5)
	assert.Equal(t, "Quoted bool", got)
}
