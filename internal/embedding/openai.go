package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const (
	defaultBaseURL    = "https://api.openai.com"
	embeddingsPath    = "/v1/embeddings"
	defaultDimensions = 1536
)

// OpenAIClient implements Provider against an OpenAI-compatible embeddings API.
// Ollama and most local inference servers expose the same endpoint.
type OpenAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	name       string
	dimensions int
	httpClient *http.Client
	logger     *slog.Logger
}

// OpenAIOption configures the embeddings client.
type OpenAIOption func(*OpenAIClient)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) OpenAIOption {
	return func(c *OpenAIClient) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *OpenAIClient) { c.httpClient = hc }
}

// WithName overrides the provider name (e.g. "ollama").
func WithName(name string) OpenAIOption {
	return func(c *OpenAIClient) { c.name = name }
}

// WithDimensions sets the expected vector width.
func WithDimensions(d int) OpenAIOption {
	return func(c *OpenAIClient) { c.dimensions = d }
}

// NewOpenAIClient creates an OpenAI-compatible embeddings provider.
func NewOpenAIClient(apiKey, model string, logger *slog.Logger, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		name:       "openai",
		dimensions: defaultDimensions,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *OpenAIClient) Name() string    { return c.name }
func (c *OpenAIClient) Dimensions() int { return c.dimensions }

// Embed sends the texts to the embeddings endpoint and returns their vectors.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(apiEmbedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+embeddingsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if httpResp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: API error (status %d): %s", ErrUnavailable, httpResp.StatusCode, string(respBody))
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var apiResp apiEmbedResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(apiResp.Data))
	}

	// The API may return vectors out of order; the index field is authoritative.
	vectors := make([][]float32, len(texts))
	for _, d := range apiResp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	c.logger.DebugContext(ctx, "embeddings computed",
		slog.String("provider", c.name),
		slog.String("model", c.model),
		slog.Int("texts", len(texts)),
	)

	return vectors, nil
}

type apiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiEmbedResponse struct {
	Data []apiEmbedDatum `json:"data"`
}

type apiEmbedDatum struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}
