// Package huggingface provides clients for two Hugging Face HTTP APIs: the
// Dataset Viewer API, which supplies texts from a dataset column, and the
// Inference API, which turns texts into embeddings.
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

const (
	// DefaultDatasetsURL is the Dataset Viewer API endpoint.
	DefaultDatasetsURL = "https://datasets-server.huggingface.co"

	// rowsPageSize is the largest page the /rows endpoint serves.
	rowsPageSize = 100
)

// Client interacts with the Hugging Face Dataset Viewer API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Dataset Viewer client for the public endpoint.
func NewClient() *Client {
	return &Client{baseURL: DefaultDatasetsURL, httpClient: &http.Client{}}
}

// WithBaseURL points the client at another Dataset Viewer deployment.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

// SplitsResponse represents the response from the /splits endpoint.
type SplitsResponse struct {
	Splits []Split `json:"splits"`
}

// Split represents a dataset split.
type Split struct {
	Dataset string `json:"dataset"`
	Config  string `json:"config"`
	Split   string `json:"split"`
}

// RowsResponse represents the response from the /rows endpoint.
type RowsResponse struct {
	Rows []RowWrapper `json:"rows"`
}

// RowWrapper wraps an individual row from the dataset.
type RowWrapper struct {
	RowIdx int            `json:"row_idx"`
	Row    map[string]any `json:"row"`
}

// GetSplits fetches the available splits of a dataset.
func (c *Client) GetSplits(ctx context.Context, dataset string) (*SplitsResponse, error) {
	var result SplitsResponse
	if err := c.getJSON(ctx, "/splits", url.Values{"dataset": {dataset}}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRows fetches up to length rows of a dataset split starting at offset.
func (c *Client) GetRows(ctx context.Context, dataset, config, split string, offset, length int) (*RowsResponse, error) {
	query := url.Values{
		"dataset": {dataset},
		"config":  {config},
		"split":   {split},
		"offset":  {strconv.Itoa(offset)},
		"length":  {strconv.Itoa(length)},
	}

	var result RowsResponse
	if err := c.getJSON(ctx, "/rows", query, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ResolveConfig returns the config that owns split. An empty split matches
// the first split listed.
func (c *Client) ResolveConfig(ctx context.Context, dataset, split string) (string, error) {
	splits, err := c.GetSplits(ctx, dataset)
	if err != nil {
		return "", err
	}
	for _, candidate := range splits.Splits {
		if split == "" || candidate.Split == split {
			return candidate.Config, nil
		}
	}
	return "", fmt.Errorf("dataset %q has no split %q", dataset, split)
}

// FetchTexts fetches the non-empty string values of a column, paging through
// the split in chunks of 100 rows. maxRows <= 0 reads the whole split.
func (c *Client) FetchTexts(ctx context.Context, dataset, config, split, column string, maxRows int) ([]string, error) {
	var texts []string
	offset := 0

	for maxRows <= 0 || offset < maxRows {
		length := rowsPageSize
		if maxRows > 0 {
			length = min(length, maxRows-offset)
		}

		rows, err := c.GetRows(ctx, dataset, config, split, offset, length)
		if err != nil {
			return nil, fmt.Errorf("rows %d-%d: %w", offset, offset+length-1, err)
		}

		texts = append(texts, columnTexts(rows.Rows, column)...)
		offset += len(rows.Rows)

		if len(rows.Rows) < length {
			break
		}
	}

	return texts, nil
}

// columnTexts extracts the non-empty string values of column.
func columnTexts(rows []RowWrapper, column string) []string {
	texts := make([]string, 0, len(rows))
	for _, wrapper := range rows {
		if text, ok := wrapper.Row[column].(string); ok && text != "" {
			texts = append(texts, text)
		}
	}
	return texts
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return fmt.Errorf("API error %d: %s", response.StatusCode, bytes.TrimSpace(body))
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
