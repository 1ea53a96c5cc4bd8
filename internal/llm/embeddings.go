package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// EmbeddingsClient is a client for an OpenAI-compatible embeddings API
// (llama.cpp server or router).
type EmbeddingsClient struct {
	BaseURL      string
	APIKey       string
	Model        string
	ExpectedSize int // 0 disables size validation
	client       *http.Client
}

// NewEmbeddingsClient creates a new embeddings client.
// expectedSize is the vector size every returned embedding must have.
func NewEmbeddingsClient(baseURL, apiKey, model string, expectedSize int) *EmbeddingsClient {
	return &EmbeddingsClient{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		Model:        model,
		ExpectedSize: expectedSize,
		client:       newHTTPClient(),
	}
}

// EmbeddingsRequest represents the request payload for embeddings API.
type EmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingData represents a single embedding in the response. Servers
// running without pooling return one vector per token instead of a single
// vector, so Embedding is decoded lazily.
type EmbeddingData struct {
	Embedding json.RawMessage `json:"embedding"`
}

// EmbeddingsResponse represents the response from the embeddings API.
type EmbeddingsResponse struct {
	Data []EmbeddingData `json:"data"`
}

// EmbedTexts generates embeddings for the given texts, one vector per input
// in input order. Token-level output is mean pooled.
func (c *EmbeddingsClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("empty input array")
	}

	var embeddingsResp EmbeddingsResponse
	err := call(ctx, c.client, http.MethodPost, c.BaseURL+"/v1/embeddings", c.APIKey,
		EmbeddingsRequest{Model: c.Model, Input: texts}, &embeddingsResp)
	if err != nil {
		return nil, err
	}

	if len(embeddingsResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embeddingsResp.Data))
	}

	result := make([][]float32, len(texts))
	for i, data := range embeddingsResp.Data {
		vec, err := decodeEmbedding(data.Embedding)
		if err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
		if c.ExpectedSize > 0 && len(vec) != c.ExpectedSize {
			return nil, fmt.Errorf("embedding %d has size %d, expected %d", i, len(vec), c.ExpectedSize)
		}

		result[i] = vec
	}

	return result, nil
}

// decodeEmbedding accepts either a single vector or a list of token vectors.
func decodeEmbedding(raw json.RawMessage) ([]float32, error) {
	var flat []float64
	if err := json.Unmarshal(raw, &flat); err == nil {
		if len(flat) == 0 {
			return nil, fmt.Errorf("empty embedding")
		}
		vec := make([]float32, len(flat))
		for j, v := range flat {
			vec[j] = float32(v)
		}
		return vec, nil
	}

	var tokens [][]float64
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("unrecognised embedding shape: %w", err)
	}
	return MeanPool(tokens)
}

// MeanPool averages token vectors into one vector.
func MeanPool(tokens [][]float64) ([]float32, error) {
	if len(tokens) == 0 || len(tokens[0]) == 0 {
		return nil, fmt.Errorf("empty embedding")
	}
	dim := len(tokens[0])
	sum := make([]float64, dim)
	for i, tok := range tokens {
		if len(tok) != dim {
			return nil, fmt.Errorf("token %d has size %d, expected %d", i, len(tok), dim)
		}
		for j, v := range tok {
			sum[j] += v
		}
	}
	vec := make([]float32, dim)
	n := float64(len(tokens))
	for j, v := range sum {
		vec[j] = float32(v / n)
	}
	return vec, nil
}
