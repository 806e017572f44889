package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kadirpekel/nestor/pkg/config"
)

func TestNewAnthropicProvider(t *testing.T) {
	provider := NewAnthropicProvider("sk-ant-test-key", "claude-sonnet-4-20250514")

	if provider == nil {
		t.Fatal("NewAnthropicProvider() returned nil provider")
	}

	if provider.GetModelName() != "claude-sonnet-4-20250514" {
		t.Errorf("NewAnthropicProvider() model = %v, want claude-sonnet-4-20250514", provider.GetModelName())
	}

	if provider.GetMaxTokens() != 4096 {
		t.Errorf("NewAnthropicProvider() maxTokens = %v, want 4096", provider.GetMaxTokens())
	}

	if provider.GetTemperature() != 1.0 {
		t.Errorf("NewAnthropicProvider() temperature = %v, want 1.0", provider.GetTemperature())
	}
}

func TestNewAnthropicProviderFromConfig(t *testing.T) {
	cfg := &config.LLMConfig{
		Provider: config.LLMProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
		APIKey:   "sk-ant-test-key",
	}

	provider, err := NewAnthropicProviderFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewAnthropicProviderFromConfig() error = %v, want nil", err)
	}

	if cfg.BaseURL != defaultAnthropicHost {
		t.Errorf("NewAnthropicProviderFromConfig() default host = %v, want %v", cfg.BaseURL, defaultAnthropicHost)
	}

	if provider.GetModelName() != "claude-sonnet-4-20250514" {
		t.Errorf("NewAnthropicProviderFromConfig() model = %v, want claude-sonnet-4-20250514", provider.GetModelName())
	}
}

func TestNewAnthropicProviderFromConfig_MissingAPIKey(t *testing.T) {
	_, err := NewAnthropicProviderFromConfig(&config.LLMConfig{
		Provider: config.LLMProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
	})
	if err == nil {
		t.Error("NewAnthropicProviderFromConfig() expected error for missing API key")
	}
}

func TestAnthropicProvider_Close(t *testing.T) {
	provider := NewAnthropicProvider("sk-ant-test-key", "claude-sonnet-4-20250514")

	if err := provider.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestAnthropicProvider_Generate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if r.URL.Path != "/v1/messages" {
			t.Errorf("Expected /v1/messages, got %s", r.URL.Path)
		}

		if key := r.Header.Get("x-api-key"); key != "sk-ant-test-key" {
			t.Errorf("Expected x-api-key header, got %s", key)
		}
		if version := r.Header.Get("anthropic-version"); version != anthropicAPIVersion {
			t.Errorf("Expected anthropic-version %s, got %s", anthropicAPIVersion, version)
		}

		var req AnthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}

		if req.Model != "claude-sonnet-4-20250514" {
			t.Errorf("Expected model claude-sonnet-4-20250514, got %s", req.Model)
		}
		if len(req.Messages) != 1 {
			t.Errorf("Expected 1 message, got %d", len(req.Messages))
		}
		if req.Messages[0].Role != "user" {
			t.Errorf("Expected user role, got %s", req.Messages[0].Role)
		}
		if req.System != "You are helpful." {
			t.Errorf("Expected system prompt extracted, got %q", req.System)
		}

		response := AnthropicResponse{
			Content: []AnthropicContent{
				{Type: "text", Text: "Hello! How can I help you today?"},
			},
			Usage: AnthropicUsage{InputTokens: 10, OutputTokens: 25},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, err := NewAnthropicProviderFromConfig(&config.LLMConfig{
		Provider: config.LLMProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
		BaseURL:  server.URL,
		APIKey:   "sk-ant-test-key",
	})
	if err != nil {
		t.Fatalf("NewAnthropicProviderFromConfig() error = %v", err)
	}

	messages := []Message{
		SystemMessage("You are helpful."),
		UserMessage("Hello"),
	}

	text, toolCalls, tokens, err := provider.Generate(context.Background(), messages, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v, want nil", err)
	}

	if text != "Hello! How can I help you today?" {
		t.Errorf("Generate() text = %q", text)
	}
	if len(toolCalls) != 0 {
		t.Errorf("Generate() toolCalls = %d, want 0", len(toolCalls))
	}
	if tokens != 35 {
		t.Errorf("Generate() tokens = %d, want 35", tokens)
	}
}

func TestAnthropicProvider_Generate_WithTools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AnthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}

		if len(req.Tools) != 1 {
			t.Fatalf("Expected 1 tool, got %d", len(req.Tools))
		}
		if req.Tools[0].Name != "web_search" {
			t.Errorf("Expected tool web_search, got %s", req.Tools[0].Name)
		}
		if req.Tools[0].InputSchema == nil {
			t.Error("Expected input_schema to be set")
		}

		input := map[string]interface{}{"query": "golang"}
		response := AnthropicResponse{
			Content: []AnthropicContent{
				{
					Type:  "tool_use",
					ID:    "toolu_01",
					Name:  "web_search",
					Input: &input,
				},
			},
			StopReason: "tool_use",
			Usage:      AnthropicUsage{InputTokens: 20, OutputTokens: 12},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, err := NewAnthropicProviderFromConfig(&config.LLMConfig{
		Provider: config.LLMProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
		BaseURL:  server.URL,
		APIKey:   "sk-ant-test-key",
	})
	if err != nil {
		t.Fatalf("NewAnthropicProviderFromConfig() error = %v", err)
	}

	tools := []ToolDefinition{
		{
			Name:        "web_search",
			Description: "Search the web",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string"},
				},
			},
		},
	}

	_, toolCalls, _, err := provider.Generate(context.Background(), []Message{UserMessage("search golang")}, tools)
	if err != nil {
		t.Fatalf("Generate() error = %v, want nil", err)
	}

	if len(toolCalls) != 1 {
		t.Fatalf("Generate() toolCalls = %d, want 1", len(toolCalls))
	}
	if toolCalls[0].ID != "toolu_01" {
		t.Errorf("tool call ID = %s, want toolu_01", toolCalls[0].ID)
	}
	if toolCalls[0].Name != "web_search" {
		t.Errorf("tool call name = %s, want web_search", toolCalls[0].Name)
	}
	if toolCalls[0].Arguments["query"] != "golang" {
		t.Errorf("tool call query = %v, want golang", toolCalls[0].Arguments["query"])
	}
}

func TestAnthropicProvider_Generate_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "bad request"}}`))
	}))
	defer server.Close()

	provider, err := NewAnthropicProviderFromConfig(&config.LLMConfig{
		Provider: config.LLMProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
		BaseURL:  server.URL,
		APIKey:   "sk-ant-test-key",
	})
	if err != nil {
		t.Fatalf("NewAnthropicProviderFromConfig() error = %v", err)
	}

	_, _, _, err = provider.Generate(context.Background(), []Message{UserMessage("Hello")}, nil)
	if err == nil {
		t.Fatal("Generate() expected error for HTTP 400")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("Generate() error = %v, want status 400 mentioned", err)
	}
}

func TestAnthropicProvider_Generate_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	provider, err := NewAnthropicProviderFromConfig(&config.LLMConfig{
		Provider: config.LLMProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
		BaseURL:  server.URL,
		APIKey:   "sk-ant-test-key",
	})
	if err != nil {
		t.Fatalf("NewAnthropicProviderFromConfig() error = %v", err)
	}

	_, _, _, err = provider.Generate(context.Background(), []Message{UserMessage("Hello")}, nil)
	if err == nil {
		t.Error("Generate() expected error for invalid JSON response")
	}
}

func TestAnthropicProvider_GenerateStreaming_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AnthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if !req.Stream {
			t.Error("Expected stream=true in request")
		}

		w.Header().Set("Content-Type", "text/event-stream")

		events := []string{
			`event: message_start
data: {"type": "message_start", "message": {"id": "msg_123", "role": "assistant", "usage": {"input_tokens": 10, "output_tokens": 0}}}`,
			`event: content_block_start
data: {"type": "content_block_start", "index": 0, "content_block": {"type": "text", "text": ""}}`,
			`event: content_block_delta
data: {"type": "content_block_delta", "index": 0, "delta": {"type": "text_delta", "text": "Hello"}}`,
			`event: content_block_delta
data: {"type": "content_block_delta", "index": 0, "delta": {"type": "text_delta", "text": " there"}}`,
			`event: content_block_stop
data: {"type": "content_block_stop", "index": 0}`,
			`event: message_delta
data: {"type": "message_delta", "delta": {"stop_reason": "end_turn"}, "usage": {"output_tokens": 8}}`,
			`event: message_stop
data: {"type": "message_stop"}`,
		}

		for _, event := range events {
			_, _ = w.Write([]byte(event + "\n\n"))
		}
	}))
	defer server.Close()

	provider, err := NewAnthropicProviderFromConfig(&config.LLMConfig{
		Provider: config.LLMProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
		BaseURL:  server.URL,
		APIKey:   "sk-ant-test-key",
	})
	if err != nil {
		t.Fatalf("NewAnthropicProviderFromConfig() error = %v", err)
	}

	ch, err := provider.GenerateStreaming(context.Background(), []Message{UserMessage("Hello")}, nil)
	if err != nil {
		t.Fatalf("GenerateStreaming() error = %v, want nil", err)
	}

	var text strings.Builder
	var doneTokens int
	sawDone := false

	for chunk := range ch {
		switch chunk.Type {
		case "text":
			text.WriteString(chunk.Text)
		case "done":
			sawDone = true
			doneTokens = chunk.Tokens
		case "error":
			t.Fatalf("unexpected error chunk: %v", chunk.Error)
		}
	}

	if text.String() != "Hello there" {
		t.Errorf("streamed text = %q, want %q", text.String(), "Hello there")
	}
	if !sawDone {
		t.Error("expected a done chunk")
	}
	if doneTokens != 8 {
		t.Errorf("done tokens = %d, want 8", doneTokens)
	}
}

func TestAnthropicProvider_GenerateStreaming_ToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")

		events := []string{
			`event: content_block_start
data: {"type": "content_block_start", "index": 0, "content_block": {"type": "tool_use", "id": "toolu_01", "name": "web_search", "input": {}}}`,
			`event: content_block_delta
data: {"type": "content_block_delta", "index": 0, "delta": {"type": "input_json_delta", "partial_json": "{\"query\": \"go"}}`,
			`event: content_block_delta
data: {"type": "content_block_delta", "index": 0, "delta": {"type": "input_json_delta", "partial_json": " testing\"}"}}`,
			`event: content_block_stop
data: {"type": "content_block_stop", "index": 0}`,
			`event: message_delta
data: {"type": "message_delta", "delta": {"stop_reason": "tool_use"}, "usage": {"output_tokens": 15}}`,
			`event: message_stop
data: {"type": "message_stop"}`,
		}

		for _, event := range events {
			_, _ = w.Write([]byte(event + "\n\n"))
		}
	}))
	defer server.Close()

	provider, err := NewAnthropicProviderFromConfig(&config.LLMConfig{
		Provider: config.LLMProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
		BaseURL:  server.URL,
		APIKey:   "sk-ant-test-key",
	})
	if err != nil {
		t.Fatalf("NewAnthropicProviderFromConfig() error = %v", err)
	}

	ch, err := provider.GenerateStreaming(context.Background(), []Message{UserMessage("search")}, nil)
	if err != nil {
		t.Fatalf("GenerateStreaming() error = %v, want nil", err)
	}

	var toolCall *ToolCall
	for chunk := range ch {
		if chunk.Type == "tool_call" {
			toolCall = chunk.ToolCall
		}
	}

	if toolCall == nil {
		t.Fatal("expected a tool_call chunk")
	}
	if toolCall.Name != "web_search" {
		t.Errorf("tool call name = %s, want web_search", toolCall.Name)
	}
	if toolCall.Arguments["query"] != "go testing" {
		t.Errorf("accumulated query = %v, want %q", toolCall.Arguments["query"], "go testing")
	}
}

func TestAnthropicProvider_GenerateStreaming_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request"))
	}))
	defer server.Close()

	provider, err := NewAnthropicProviderFromConfig(&config.LLMConfig{
		Provider: config.LLMProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
		BaseURL:  server.URL,
		APIKey:   "sk-ant-test-key",
	})
	if err != nil {
		t.Fatalf("NewAnthropicProviderFromConfig() error = %v", err)
	}

	ch, err := provider.GenerateStreaming(context.Background(), []Message{UserMessage("Hello")}, nil)
	if err != nil {
		return
	}

	hasError := false
	for chunk := range ch {
		if chunk.Type == "error" {
			hasError = true
		}
	}

	if !hasError {
		t.Error("GenerateStreaming() expected error chunk, got none")
	}
}

func TestAnthropicProvider_GenerateStructured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AnthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}

		if !strings.Contains(req.System, "You must respond with valid JSON") {
			t.Error("Expected schema instructions in system prompt")
		}
		if !strings.Contains(req.System, "is_final") {
			t.Error("Expected schema fields in system prompt")
		}

		last := req.Messages[len(req.Messages)-1]
		if last.Role != "assistant" {
			t.Errorf("Expected trailing assistant prefill, got role %s", last.Role)
		}
		if content, ok := last.Content.(string); !ok || content != "{" {
			t.Errorf("Expected prefill %q, got %v", "{", last.Content)
		}

		response := AnthropicResponse{
			Content: []AnthropicContent{
				{Type: "text", Text: `"is_final": true, "message": "done"}`},
			},
			Usage: AnthropicUsage{InputTokens: 30, OutputTokens: 10},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, err := NewAnthropicProviderFromConfig(&config.LLMConfig{
		Provider: config.LLMProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
		BaseURL:  server.URL,
		APIKey:   "sk-ant-test-key",
	})
	if err != nil {
		t.Fatalf("NewAnthropicProviderFromConfig() error = %v", err)
	}

	structConfig := &StructuredOutputConfig{
		Format: "json",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"is_final": map[string]interface{}{"type": "boolean"},
				"message":  map[string]interface{}{"type": "string"},
			},
		},
	}

	text, _, tokens, err := provider.GenerateStructured(context.Background(), []Message{UserMessage("decide")}, nil, structConfig)
	if err != nil {
		t.Fatalf("GenerateStructured() error = %v, want nil", err)
	}

	want := `{"is_final": true, "message": "done"}`
	if text != want {
		t.Errorf("GenerateStructured() text = %q, want prefill prepended %q", text, want)
	}
	if tokens != 40 {
		t.Errorf("GenerateStructured() tokens = %d, want 40", tokens)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		t.Errorf("GenerateStructured() result is not valid JSON: %v", err)
	}
}

func TestAnthropicProvider_GenerateStructuredStreaming_PrefillFirst(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")

		events := []string{
			`event: content_block_delta
data: {"type": "content_block_delta", "index": 0, "delta": {"type": "text_delta", "text": "\"done\": true}"}}`,
			`event: message_stop
data: {"type": "message_stop"}`,
		}
		for _, event := range events {
			_, _ = w.Write([]byte(event + "\n\n"))
		}
	}))
	defer server.Close()

	provider, err := NewAnthropicProviderFromConfig(&config.LLMConfig{
		Provider: config.LLMProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
		BaseURL:  server.URL,
		APIKey:   "sk-ant-test-key",
	})
	if err != nil {
		t.Fatalf("NewAnthropicProviderFromConfig() error = %v", err)
	}

	structConfig := &StructuredOutputConfig{Format: "json"}

	ch, err := provider.GenerateStructuredStreaming(context.Background(), []Message{UserMessage("go")}, nil, structConfig)
	if err != nil {
		t.Fatalf("GenerateStructuredStreaming() error = %v, want nil", err)
	}

	var chunks []StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}

	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	if chunks[0].Type != "text" || chunks[0].Text != "{" {
		t.Errorf("first chunk = %+v, want prefill text %q", chunks[0], "{")
	}

	var text strings.Builder
	for _, chunk := range chunks {
		if chunk.Type == "text" {
			text.WriteString(chunk.Text)
		}
	}
	if text.String() != `{"done": true}` {
		t.Errorf("assembled text = %q, want %q", text.String(), `{"done": true}`)
	}
}

func TestAnthropicProvider_MessageConversion(t *testing.T) {
	provider := NewAnthropicProvider("sk-ant-test-key", "claude-sonnet-4-20250514")

	messages := []Message{
		SystemMessage("Be brief."),
		SystemMessage("Answer in English."),
		UserMessage("Hi"),
		{
			Role:    RoleAssistant,
			Content: "Let me check.",
			ToolCalls: []ToolCall{
				{ID: "toolu_01", Name: "web_search", Arguments: map[string]interface{}{"query": "hi"}},
			},
		},
		ToolResultMessage("toolu_01", "web_search", "result text"),
	}

	req := provider.buildRequest(messages, false, nil)

	if req.System != "Be brief.\n\nAnswer in English." {
		t.Errorf("system prompt = %q", req.System)
	}

	// user, assistant with tool_use, tool_result as user
	if len(req.Messages) != 3 {
		t.Fatalf("converted messages = %d, want 3", len(req.Messages))
	}

	if req.Messages[0].Role != "user" {
		t.Errorf("message 0 role = %s, want user", req.Messages[0].Role)
	}
	if req.Messages[1].Role != "assistant" {
		t.Errorf("message 1 role = %s, want assistant", req.Messages[1].Role)
	}

	contents, ok := req.Messages[1].Content.([]AnthropicContent)
	if !ok {
		t.Fatalf("assistant content type = %T", req.Messages[1].Content)
	}
	if len(contents) != 2 {
		t.Fatalf("assistant content blocks = %d, want 2", len(contents))
	}
	if contents[0].Type != "text" || contents[1].Type != "tool_use" {
		t.Errorf("assistant blocks = %s, %s", contents[0].Type, contents[1].Type)
	}

	if req.Messages[2].Role != "user" {
		t.Errorf("tool result role = %s, want user", req.Messages[2].Role)
	}
	resultContents, ok := req.Messages[2].Content.([]AnthropicContent)
	if !ok || len(resultContents) != 1 {
		t.Fatalf("tool result content = %v", req.Messages[2].Content)
	}
	if resultContents[0].Type != "tool_result" || resultContents[0].ToolUseID != "toolu_01" {
		t.Errorf("tool result block = %+v", resultContents[0])
	}
}
