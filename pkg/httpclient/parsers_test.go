package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestParseAnthropicHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("retry-after", "30")
	headers.Set("anthropic-ratelimit-requests-remaining", "99")
	headers.Set("anthropic-ratelimit-input-tokens-remaining", "40000")
	headers.Set("anthropic-ratelimit-output-tokens-remaining", "8000")
	headers.Set("anthropic-ratelimit-requests-reset", time.Now().Add(time.Minute).Format(time.RFC3339))

	info := ParseAnthropicHeaders(headers)

	if info.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", info.RetryAfter)
	}
	if info.RequestsRemaining != 99 {
		t.Errorf("RequestsRemaining = %d, want 99", info.RequestsRemaining)
	}
	if info.InputTokensRemaining != 40000 {
		t.Errorf("InputTokensRemaining = %d, want 40000", info.InputTokensRemaining)
	}
	if info.OutputTokensRemaining != 8000 {
		t.Errorf("OutputTokensRemaining = %d, want 8000", info.OutputTokensRemaining)
	}
	if info.ResetTime == 0 {
		t.Error("ResetTime should be set from the reset header")
	}
}

func TestParseAnthropicHeaders_Empty(t *testing.T) {
	info := ParseAnthropicHeaders(http.Header{})

	if info.RetryAfter != 0 || info.ResetTime != 0 || info.RequestsRemaining != 0 {
		t.Errorf("expected zero info for empty headers, got %+v", info)
	}
}

func TestParseOpenAIHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "5")
	headers.Set("x-ratelimit-remaining-requests", "58")
	headers.Set("x-ratelimit-remaining-tokens", "149000")

	info := ParseOpenAIHeaders(headers)

	if info.RetryAfter != 5*time.Second {
		t.Errorf("RetryAfter = %v, want 5s", info.RetryAfter)
	}
	if info.RequestsRemaining != 58 {
		t.Errorf("RequestsRemaining = %d, want 58", info.RequestsRemaining)
	}
	if info.TokensRemaining != 149000 {
		t.Errorf("TokensRemaining = %d, want 149000", info.TokensRemaining)
	}
}

func TestParseOpenAIHeaders_InvalidRetryAfter(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "not-a-number")

	info := ParseOpenAIHeaders(headers)
	if info.RetryAfter != 0 {
		t.Errorf("RetryAfter = %v, want 0 for unparseable header", info.RetryAfter)
	}
}

func TestParseGeminiHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "12")

	info := ParseGeminiHeaders(headers)
	if info.RetryAfter != 12*time.Second {
		t.Errorf("RetryAfter = %v, want 12s", info.RetryAfter)
	}
}
