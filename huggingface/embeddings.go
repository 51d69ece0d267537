package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/alDuncanson/tsne/embedding"
)

const (
	// DefaultInferenceURL is the Inference API endpoint.
	DefaultInferenceURL = "https://api-inference.huggingface.co"

	// DefaultEmbeddingModel is a sentence-transformers model served by the
	// feature-extraction pipeline.
	DefaultEmbeddingModel = "sentence-transformers/all-MiniLM-L6-v2"

	// DefaultBatchSize is the number of texts sent per request.
	DefaultBatchSize = 32
)

// EmbeddingsClient handles HTTP communication with the Hugging Face Inference API
// for generating text embeddings.
type EmbeddingsClient struct {
	baseURL    string
	modelID    string
	token      string
	batchSize  int
	httpClient *http.Client
}

// embeddingsRequest represents the JSON payload sent to the feature-extraction pipeline.
type embeddingsRequest struct {
	Inputs  []string        `json:"inputs"`
	Options map[string]bool `json:"options,omitempty"`
}

// NewEmbeddingsClient creates a new Hugging Face embeddings client.
// If token is empty, it will attempt to read from HF_TOKEN environment variable.
func NewEmbeddingsClient(modelID, token string) *EmbeddingsClient {
	if token == "" {
		token = os.Getenv("HF_TOKEN")
	}
	return &EmbeddingsClient{
		baseURL:    DefaultInferenceURL,
		modelID:    modelID,
		token:      token,
		batchSize:  DefaultBatchSize,
		httpClient: &http.Client{},
	}
}

// WithBaseURL points the client at another Inference API deployment.
func (c *EmbeddingsClient) WithBaseURL(baseURL string) *EmbeddingsClient {
	c.baseURL = baseURL
	return c
}

// WithBatchSize sets how many texts are sent per request. Values below 1 are
// ignored.
func (c *EmbeddingsClient) WithBatchSize(batchSize int) *EmbeddingsClient {
	if batchSize > 0 {
		c.batchSize = batchSize
	}
	return c
}

// Embed converts the texts into vector embeddings, one request per batch.
func (c *EmbeddingsClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))

		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed texts %d-%d: %w", start, end-1, err)
		}
		vectors = append(vectors, batch...)
	}

	if err := embedding.CheckDimensions(vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (c *EmbeddingsClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	requestPayload := embeddingsRequest{
		Inputs:  texts,
		Options: map[string]bool{"wait_for_model": true},
	}

	jsonBody, err := json.Marshal(requestPayload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/pipeline/feature-extraction/%s", c.baseURL, c.modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	// Sentence models return one pooled vector per input: [[...], [...]]
	var response [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(response) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(response), len(texts))
	}

	return response, nil
}
