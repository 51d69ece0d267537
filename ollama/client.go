// Package ollama provides an HTTP client for the Ollama embedding API.
// Texts are sent in batches to /api/embed and come back as float32 vectors
// ready to be turned into a point set.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/alDuncanson/tsne/embedding"
)

// DefaultBatchSize is the number of texts sent per /api/embed request.
const DefaultBatchSize = 64

// Client handles HTTP communication with the Ollama embedding API.
type Client struct {
	baseURL    string       // The base URL of the Ollama server (e.g., "http://localhost:11434")
	modelName  string       // The name of the embedding model to use (e.g., "nomic-embed-text")
	batchSize  int          // Texts per request
	httpClient *http.Client // Reusable HTTP client for making requests
}

// embeddingRequest represents the JSON payload sent to the Ollama /api/embed endpoint.
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingResponse represents the JSON response from the Ollama /api/embed endpoint.
// One vector is returned per input, in input order.
type embeddingResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewClient creates a new Ollama client configured to connect to the specified
// server and use the given embedding model.
func NewClient(baseURL, modelName string) *Client {
	return &Client{
		baseURL:    baseURL,
		modelName:  modelName,
		batchSize:  DefaultBatchSize,
		httpClient: &http.Client{},
	}
}

// WithBatchSize sets how many texts are sent per request. Values below 1 are
// ignored.
func (ollamaClient *Client) WithBatchSize(batchSize int) *Client {
	if batchSize > 0 {
		ollamaClient.batchSize = batchSize
	}
	return ollamaClient
}

// Embed converts the texts into vector embeddings using the Ollama API.
// It returns one vector per text, or an error if any request fails or the
// model returns vectors of different lengths.
func (ollamaClient *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += ollamaClient.batchSize {
		end := min(start+ollamaClient.batchSize, len(texts))

		batch, err := ollamaClient.embedBatch(ctx, texts[start:end])
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

func (ollamaClient *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	// Construct the embedding request payload
	requestPayload := embeddingRequest{
		Model: ollamaClient.modelName,
		Input: texts,
	}

	jsonRequestBody, marshalError := json.Marshal(requestPayload)
	if marshalError != nil {
		return nil, fmt.Errorf("marshal request: %w", marshalError)
	}

	embeddingEndpointURL := ollamaClient.baseURL + "/api/embed"
	httpRequest, requestError := http.NewRequestWithContext(ctx, http.MethodPost, embeddingEndpointURL, bytes.NewReader(jsonRequestBody))
	if requestError != nil {
		return nil, fmt.Errorf("build request: %w", requestError)
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, postError := ollamaClient.httpClient.Do(httpRequest)
	if postError != nil {
		return nil, fmt.Errorf("post request: %w", postError)
	}
	defer httpResponse.Body.Close()

	// Verify the API returned a successful status code
	if httpResponse.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", httpResponse.StatusCode, bytes.TrimSpace(body))
	}

	var parsedResponse embeddingResponse
	if decodeError := json.NewDecoder(httpResponse.Body).Decode(&parsedResponse); decodeError != nil {
		return nil, fmt.Errorf("decode response: %w", decodeError)
	}

	// Ollama returns one embedding per input
	if len(parsedResponse.Embeddings) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(parsedResponse.Embeddings), len(texts))
	}

	return parsedResponse.Embeddings, nil
}
