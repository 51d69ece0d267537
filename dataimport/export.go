package dataimport

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Format is an output encoding for embeddings.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// FormatFromPath picks the output format from a file extension. An empty
// path means CSV.
func FormatFromPath(path string) (Format, error) {
	if path == "" {
		return FormatCSV, nil
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported output extension: %s", ext)
	}
}

// EmbeddedPoint is one row of a JSON embedding file.
type EmbeddedPoint struct {
	Label       string    `json:"label,omitempty"`
	Coordinates []float64 `json:"coordinates"`
}

// WriteEmbedding writes an n×k embedding. labels may be nil; otherwise it
// must have one entry per row.
func WriteEmbedding(w io.Writer, format Format, embedding mat.Matrix, labels []string) error {
	rows, _ := embedding.Dims()
	if labels != nil && len(labels) != rows {
		return fmt.Errorf("got %d labels for %d rows", len(labels), rows)
	}

	switch format {
	case FormatCSV:
		return writeEmbeddingCSV(w, embedding, labels)
	case FormatJSON:
		return writeEmbeddingJSON(w, embedding, labels)
	default:
		return fmt.Errorf("unsupported output format: %q", format)
	}
}

// coordinateNames returns x, y, z for up to three dimensions and dim_0..dim_k
// beyond that.
func coordinateNames(dimensions int) []string {
	if dimensions <= 3 {
		return []string{"x", "y", "z"}[:dimensions]
	}
	names := make([]string, dimensions)
	for i := range names {
		names[i] = "dim_" + strconv.Itoa(i)
	}
	return names
}

func writeEmbeddingCSV(w io.Writer, embedding mat.Matrix, labels []string) error {
	rows, columns := embedding.Dims()
	writer := csv.NewWriter(w)

	header := coordinateNames(columns)
	if labels != nil {
		header = append([]string{"label"}, header...)
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}

	record := make([]string, 0, len(header))
	for i := 0; i < rows; i++ {
		record = record[:0]
		if labels != nil {
			record = append(record, labels[i])
		}
		for c := 0; c < columns; c++ {
			record = append(record, strconv.FormatFloat(embedding.At(i, c), 'g', -1, 64))
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("writing CSV row %d: %w", i, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flushing CSV: %w", err)
	}
	return nil
}

func writeEmbeddingJSON(w io.Writer, embedding mat.Matrix, labels []string) error {
	rows, _ := embedding.Dims()

	points := make([]EmbeddedPoint, rows)
	for i := range points {
		points[i].Coordinates = mat.Row(nil, i, embedding)
		if labels != nil {
			points[i].Label = labels[i]
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(points); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}
