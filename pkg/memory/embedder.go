package memory

import (
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

const defaultEmbedBaseURL = "https://api.openai.com/v1"

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// NewOpenAIEmbedder returns an EmbedFunc backed by an OpenAI-compatible
// embeddings endpoint. Any service exposing POST /embeddings with the
// OpenAI request shape works through base_url.
func NewOpenAIEmbedder(cfg config.EmbedderConfig) (EmbedFunc, error) {
	cfg.SetDefaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedder requires an api_key (or OPENAI_API_KEY)")
	}

	baseURL := defaultEmbedBaseURL
	if cfg.BaseURL != "" {
		baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	endpoint := baseURL + "/embeddings"

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(2),
	)

	return func(ctx context.Context, text string) ([]float32, error) {
		payload, err := json.Marshal(embedRequest{Model: cfg.Model, Input: []string{text}})
		if err != nil {
			return nil, fmt.Errorf("failed to encode embedding request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

		resp, err := client.Do(req)
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
				return nil, fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
			}
		}
		if err != nil {
			return nil, fmt.Errorf("embedding request failed: %w", err)
		}

		var out embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("failed to parse embedding response: %w", err)
		}
		if len(out.Data) == 0 {
			return nil, fmt.Errorf("embedding response contained no vectors")
		}
		return out.Data[0].Embedding, nil
	}, nil
}
