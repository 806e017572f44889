package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Target
		wantErr bool
	}{
		{name: "research", input: "research", want: TargetResearch},
		{name: "task management", input: "task_management", want: TargetTaskManagement},
		{name: "email draft", input: "email_draft", want: TargetEmailDraft},
		{name: "mixed case", input: "Research", want: TargetResearch},
		{name: "surrounding space", input: "  email_draft\n", want: TargetEmailDraft},
		{name: "unknown", input: "marketing", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unknown delegation target")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargets(t *testing.T) {
	targets := Targets()
	require.Len(t, targets, 3)
	assert.Equal(t, []Target{TargetResearch, TargetTaskManagement, TargetEmailDraft}, targets)
}

func TestTarget_Label(t *testing.T) {
	assert.Equal(t, "Research", TargetResearch.Label())
	assert.Equal(t, "Task Management", TargetTaskManagement.Label())
	assert.Equal(t, "Email Draft", TargetEmailDraft.Label())
	assert.Equal(t, "mystery", Target("mystery").Label())
}

func TestDecision_Validate(t *testing.T) {
	tests := []struct {
		name     string
		decision Decision
		wantRule string
	}{
		{
			name:     "valid final",
			decision: Decision{IsFinal: true, Message: "All done.", Reasoning: "everything gathered"},
		},
		{
			name:     "valid delegation",
			decision: Decision{DelegateTo: "research", Reasoning: "need facts"},
		},
		{
			name:     "final with delegate",
			decision: Decision{IsFinal: true, Message: "done", DelegateTo: "research"},
			wantRule: "final_with_delegate",
		},
		{
			name:     "final without message",
			decision: Decision{IsFinal: true},
			wantRule: "final_without_message",
		},
		{
			name:     "final with blank message",
			decision: Decision{IsFinal: true, Message: "   \n"},
			wantRule: "final_without_message",
		},
		{
			name:     "delegation without target",
			decision: Decision{Reasoning: "hmm"},
			wantRule: "delegate_missing_target",
		},
		{
			name:     "delegation to unknown target",
			decision: Decision{DelegateTo: "marketing"},
			wantRule: "delegate_unknown_target",
		},
		{
			name:     "delegation carrying a message",
			decision: Decision{DelegateTo: "email_draft", Message: "premature text"},
			wantRule: "delegate_with_message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := tt.decision.Validate()
			if tt.wantRule == "" {
				assert.Nil(t, verr)
				return
			}
			require.NotNil(t, verr)
			assert.Equal(t, tt.wantRule, verr.Rule)
			assert.Contains(t, verr.Error(), tt.wantRule)
		})
	}
}
