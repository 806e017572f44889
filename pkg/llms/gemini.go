package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/httpclient"
)

const defaultGeminiHost = "https://generativelanguage.googleapis.com"

type GeminiProvider struct {
	config     *config.LLMConfig
	httpClient *httpclient.Client
}

type GeminiRequest struct {
	Contents         []GeminiContent         `json:"contents"`
	GenerationConfig *GeminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools            []GeminiToolSet         `json:"tools,omitempty"`
}

type GeminiGenerationConfig struct {
	Temperature      *float64               `json:"temperature,omitempty"`
	MaxOutputTokens  int                    `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string                 `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]interface{} `json:"responseSchema,omitempty"`
}

// GeminiContent role is "user" or "model".
type GeminiContent struct {
	Role  string       `json:"role"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart holds one of: text, functionCall, functionResponse.
type GeminiPart map[string]interface{}

type GeminiToolSet struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type GeminiFunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type GeminiResponse struct {
	Candidates    []GeminiCandidate    `json:"candidates"`
	UsageMetadata *GeminiUsageMetadata `json:"usageMetadata,omitempty"`
	Error         *GeminiError         `json:"error,omitempty"`
}

type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type GeminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type GeminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func NewGeminiProviderFromConfig(cfg *config.LLMConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Gemini")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiHost
	}

	return &GeminiProvider{
		config:     cfg,
		httpClient: newHTTPClient(cfg, httpclient.ParseGeminiHeaders),
	}, nil
}

func (p *GeminiProvider) GetModelName() string {
	return p.config.Model
}

func (p *GeminiProvider) GetMaxTokens() int {
	return p.config.MaxTokens
}

func (p *GeminiProvider) GetTemperature() float64 {
	if p.config.Temperature == nil {
		return 0.7
	}
	return *p.config.Temperature
}

func (p *GeminiProvider) Close() error {
	return nil
}

func (p *GeminiProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []ToolCall, int, error) {
	return p.generate(ctx, p.buildRequest(messages, tools, nil))
}

func (p *GeminiProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	return p.generateStreaming(ctx, p.buildRequest(messages, tools, nil))
}

func (p *GeminiProvider) GenerateStructured(ctx context.Context, messages []Message, tools []ToolDefinition, structConfig *StructuredOutputConfig) (string, []ToolCall, int, error) {
	return p.generate(ctx, p.buildRequest(messages, tools, structConfig))
}

func (p *GeminiProvider) GenerateStructuredStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, structConfig *StructuredOutputConfig) (<-chan StreamChunk, error) {
	return p.generateStreaming(ctx, p.buildRequest(messages, tools, structConfig))
}

func (p *GeminiProvider) SupportsStructuredOutput() bool {
	return true
}

func (p *GeminiProvider) generate(ctx context.Context, request *GeminiRequest) (string, []ToolCall, int, error) {
	startTime := time.Now()

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		p.config.BaseURL, p.config.Model, p.config.APIKey)

	respBody, err := p.makeRequest(ctx, url, request)
	duration := time.Since(startTime)

	if err != nil {
		recordLLMCall(ctx, p.config.Model, duration, 0, 0, err)
		return "", nil, 0, err
	}

	var geminiResp GeminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		parseErr := fmt.Errorf("failed to parse Gemini response: %w", err)
		recordLLMCall(ctx, p.config.Model, duration, 0, 0, parseErr)
		return "", nil, 0, parseErr
	}

	if geminiResp.Error != nil {
		apiErr := fmt.Errorf("Gemini API error: %s", geminiResp.Error.Message)
		recordLLMCall(ctx, p.config.Model, duration, 0, 0, apiErr)
		return "", nil, 0, apiErr
	}

	text, toolCalls, tokens, err := parseGeminiResponse(&geminiResp)

	promptTokens, completionTokens := 0, 0
	if geminiResp.UsageMetadata != nil {
		promptTokens = geminiResp.UsageMetadata.PromptTokenCount
		completionTokens = geminiResp.UsageMetadata.CandidatesTokenCount
	}
	recordLLMCall(ctx, p.config.Model, duration, promptTokens, completionTokens, err)

	return text, toolCalls, tokens, err
}

func (p *GeminiProvider) generateStreaming(ctx context.Context, request *GeminiRequest) (<-chan StreamChunk, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s&alt=sse",
		p.config.BaseURL, p.config.Model, p.config.APIKey)

	chunks := make(chan StreamChunk, 10)

	go func() {
		defer close(chunks)

		reqBody, err := json.Marshal(request)
		if err != nil {
			chunks <- StreamChunk{Type: "error", Error: err}
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
		if err != nil {
			chunks <- StreamChunk{Type: "error", Error: err}
			return
		}

		httpReq.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(reqBody)), nil
		}

		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(httpReq)
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				bodyBytes, _ := io.ReadAll(resp.Body)
				chunks <- StreamChunk{
					Type:  "error",
					Error: fmt.Errorf("Gemini API error (HTTP %d): %s", resp.StatusCode, string(bodyBytes)),
				}
				return
			}
		}
		if err != nil {
			chunks <- StreamChunk{Type: "error", Error: err}
			return
		}

		p.parseStreamingResponse(resp.Body, chunks)
	}()

	return chunks, nil
}

func (p *GeminiProvider) makeRequest(ctx context.Context, url string, request *GeminiRequest) ([]byte, error) {
	reqBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(reqBody)), nil
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if resp != nil {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("Gemini API error (HTTP %d): %s", resp.StatusCode, string(respBody))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("Gemini API request failed: %w", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return respBody, nil
}

func (p *GeminiProvider) buildRequest(messages []Message, tools []ToolDefinition, structConfig *StructuredOutputConfig) *GeminiRequest {
	req := &GeminiRequest{
		Contents:         p.convertMessages(messages),
		GenerationConfig: p.buildGenerationConfig(structConfig),
	}

	if len(tools) > 0 {
		req.Tools = []GeminiToolSet{
			{FunctionDeclarations: convertGeminiTools(tools)},
		}
	}

	return req
}

func (p *GeminiProvider) buildGenerationConfig(structConfig *StructuredOutputConfig) *GeminiGenerationConfig {
	genConfig := &GeminiGenerationConfig{
		MaxOutputTokens: p.config.MaxTokens,
	}

	// Omit temperature at zero so the API default applies.
	if temp := p.GetTemperature(); temp > 0 {
		genConfig.Temperature = &temp
	}

	if structConfig != nil && structConfig.Format == "json" {
		genConfig.ResponseMimeType = "application/json"
		if structConfig.Schema != nil {
			genConfig.ResponseSchema = convertSchemaToGemini(structConfig.Schema, structConfig.PropertyOrdering)
		}
	}

	return genConfig
}

// geminiSchemaKeys is the subset of JSON Schema keys the Gemini API
// accepts in responseSchema. Anything else causes a request error.
var geminiSchemaKeys = map[string]bool{
	"type":             true,
	"format":           true,
	"description":      true,
	"nullable":         true,
	"enum":             true,
	"items":            true,
	"properties":       true,
	"required":         true,
	"minItems":         true,
	"maxItems":         true,
	"minimum":          true,
	"maximum":          true,
	"propertyOrdering": true,
}

// convertSchemaToGemini adapts a JSON Schema to Gemini's stricter
// schema dialect: unsupported keys are dropped recursively and the
// propertyOrdering hint is applied at the top level.
func convertSchemaToGemini(schema interface{}, propertyOrdering []string) map[string]interface{} {
	schemaMap := schemaAsMap(schema)
	if schemaMap == nil {
		return nil
	}

	sanitized := sanitizeGeminiSchema(schemaMap)
	if len(propertyOrdering) > 0 {
		sanitized["propertyOrdering"] = propertyOrdering
	}
	return sanitized
}

func sanitizeGeminiSchema(schema map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(schema))
	for key, value := range schema {
		if !geminiSchemaKeys[key] {
			continue
		}
		switch key {
		case "properties":
			props, ok := value.(map[string]interface{})
			if !ok {
				continue
			}
			cleaned := make(map[string]interface{}, len(props))
			for name, sub := range props {
				if subMap, ok := sub.(map[string]interface{}); ok {
					cleaned[name] = sanitizeGeminiSchema(subMap)
				}
			}
			out[key] = cleaned
		case "items":
			if subMap, ok := value.(map[string]interface{}); ok {
				out[key] = sanitizeGeminiSchema(subMap)
			}
		default:
			out[key] = value
		}
	}
	return out
}

func (p *GeminiProvider) convertMessages(messages []Message) []GeminiContent {
	var contents []GeminiContent

	for _, msg := range messages {
		role := msg.Role
		if role == RoleAssistant {
			role = "model"
		}
		// Gemini has no system role; system turns become user turns.
		if role == RoleSystem {
			role = "user"
		}

		var parts []GeminiPart

		if msg.Role == RoleTool {
			role = "user"
			parts = append(parts, GeminiPart{
				"functionResponse": map[string]interface{}{
					"name": msg.Name,
					"response": map[string]interface{}{
						"content": msg.Content,
					},
				},
			})
		} else if msg.Content != "" {
			parts = append(parts, GeminiPart{"text": msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			parts = append(parts, GeminiPart{
				"functionCall": map[string]interface{}{
					"name": tc.Name,
					"args": tc.Arguments,
				},
			})
		}

		if len(parts) > 0 {
			contents = append(contents, GeminiContent{
				Role:  role,
				Parts: parts,
			})
		}
	}

	return contents
}

func convertGeminiTools(tools []ToolDefinition) []GeminiFunctionDeclaration {
	var funcs []GeminiFunctionDeclaration

	for _, tool := range tools {
		funcs = append(funcs, GeminiFunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}

	return funcs
}

func parseGeminiResponse(resp *GeminiResponse) (string, []ToolCall, int, error) {
	if len(resp.Candidates) == 0 {
		return "", nil, 0, fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	var textParts []string
	var toolCalls []ToolCall

	for _, part := range candidate.Content.Parts {
		if text, ok := part["text"].(string); ok {
			textParts = append(textParts, text)
		}

		if fc, ok := part["functionCall"].(map[string]interface{}); ok {
			name, _ := fc["name"].(string)
			args, _ := fc["args"].(map[string]interface{})

			toolCalls = append(toolCalls, ToolCall{
				ID:        fmt.Sprintf("call_%d", len(toolCalls)),
				Name:      name,
				Arguments: args,
			})
		}
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = resp.UsageMetadata.TotalTokenCount
	}

	return strings.Join(textParts, ""), toolCalls, tokens, nil
}

func (p *GeminiProvider) parseStreamingResponse(body io.Reader, chunks chan<- StreamChunk) {
	scanner := bufio.NewScanner(body)
	totalTokens := 0

	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")

		var resp GeminiResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			continue
		}

		if resp.Error != nil {
			chunks <- StreamChunk{Type: "error", Error: fmt.Errorf("%s", resp.Error.Message)}
			return
		}

		if len(resp.Candidates) > 0 {
			for _, part := range resp.Candidates[0].Content.Parts {

				if text, ok := part["text"].(string); ok {
					chunks <- StreamChunk{Type: "text", Text: text}
				}

				if fc, ok := part["functionCall"].(map[string]interface{}); ok {
					name, _ := fc["name"].(string)
					args, _ := fc["args"].(map[string]interface{})

					chunks <- StreamChunk{
						Type: "tool_call",
						ToolCall: &ToolCall{
							ID:        fmt.Sprintf("call_%d", time.Now().UnixNano()),
							Name:      name,
							Arguments: args,
						},
					}
				}
			}
		}

		if resp.UsageMetadata != nil {
			totalTokens = resp.UsageMetadata.TotalTokenCount
		}
	}

	chunks <- StreamChunk{Type: "done", Tokens: totalTokens}
}
