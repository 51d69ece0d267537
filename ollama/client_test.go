package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alDuncanson/tsne/embedding"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ embedding.Embedder = (*Client)(nil)

// fakeOllama answers /api/embed with [len(text), index-in-batch] per input.
func fakeOllama(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var request embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, "nomic-embed-text", request.Model)

		response := embeddingResponse{}
		for i, text := range request.Input {
			response.Embeddings = append(response.Embeddings, []float32{float32(len(text)), float32(i)})
		}
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(response))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient_EmbedBatches(t *testing.T) {
	var requests atomic.Int32
	server := fakeOllama(t, &requests)

	client := NewClient(server.URL, "nomic-embed-text").WithBatchSize(2)
	vectors, err := client.Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)

	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, [][]float32{{1, 0}, {2, 1}, {3, 0}, {4, 1}, {5, 0}}, vectors)
}

func TestClient_EmbedEmpty(t *testing.T) {
	var requests atomic.Int32
	server := fakeOllama(t, &requests)

	vectors, err := NewClient(server.URL, "nomic-embed-text").Embed(context.Background(), nil)

	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Equal(t, int32(0), requests.Load())
}

func TestClient_EmbedErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer server.Close()

		_, err := NewClient(server.URL, "missing").Embed(context.Background(), []string{"a"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
		assert.Contains(t, err.Error(), "model not found")
	})

	t.Run("count mismatch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(embeddingResponse{Embeddings: [][]float32{{1}}})
		}))
		defer server.Close()

		_, err := NewClient(server.URL, "m").Embed(context.Background(), []string{"a", "b"})
		assert.Error(t, err)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(embeddingResponse{Embeddings: [][]float32{{1, 2}, {3}}})
		}))
		defer server.Close()

		_, err := NewClient(server.URL, "m").Embed(context.Background(), []string{"a", "b"})
		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		var requests atomic.Int32
		server := fakeOllama(t, &requests)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewClient(server.URL, "nomic-embed-text").Embed(ctx, []string{"a"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:11434", "nomic-embed-text")
	require.NotNil(t, client)
	assert.NotNil(t, client.httpClient)
	assert.Equal(t, DefaultBatchSize, client.batchSize)

	client.WithBatchSize(0)
	assert.Equal(t, DefaultBatchSize, client.batchSize)
}
