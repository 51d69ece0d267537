// Package dataimport reads point sets and texts from CSV or JSON files and
// writes embeddings back out.
package dataimport

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TextWithVector is one entry of a JSON file that carries its own vector.
type TextWithVector struct {
	Text   string
	Vector []float32
}

type jsonTextObject struct {
	Text   string    `json:"text"`
	Vector []float32 `json:"vector,omitempty"`
}

// LoadTexts reads the texts to embed from a CSV file with a "text" column or a
// JSON array whose entries are strings or {"text": ...} objects. Blank CSV
// cells are skipped; blank JSON entries are an error.
func LoadTexts(path string) ([]string, error) {
	return loadByExtension(path, textsFromCSV, textsFromJSON)
}

// loadByExtension reads path as CSV records or raw JSON depending on its
// extension and hands the content to the matching decoder.
func loadByExtension[T any](path string, fromCSV func([][]string) (T, error), fromJSON func([]byte) (T, error)) (T, error) {
	var zero T

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		records, err := readCSVRecords(path)
		if err != nil {
			return zero, err
		}
		return fromCSV(records)
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return zero, fmt.Errorf("reading JSON file: %w", err)
		}
		return fromJSON(data)
	default:
		return zero, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

func readCSVRecords(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("CSV file is empty")
	}
	return records, nil
}

// findColumn returns the index of the first header matching one of names, or -1.
func findColumn(header []string, names ...string) int {
	for i, column := range header {
		for _, name := range names {
			if strings.EqualFold(strings.TrimSpace(column), name) {
				return i
			}
		}
	}
	return -1
}

func textsFromCSV(records [][]string) ([]string, error) {
	column := findColumn(records[0], "text")
	if column == -1 {
		return nil, fmt.Errorf("CSV header has no 'text' column")
	}

	texts := make([]string, 0, len(records)-1)
	for _, record := range records[1:] {
		if column >= len(record) || strings.TrimSpace(record[column]) == "" {
			continue
		}
		texts = append(texts, record[column])
	}
	return texts, nil
}

func textsFromJSON(data []byte) ([]string, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing JSON: expected an array of strings or objects with a 'text' field: %w", err)
	}

	texts := make([]string, len(entries))
	for i, entry := range entries {
		var object jsonTextObject
		if err := json.Unmarshal(entry, &texts[i]); err != nil {
			if err := json.Unmarshal(entry, &object); err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			texts[i] = object.Text
		}
		if strings.TrimSpace(texts[i]) == "" {
			return nil, fmt.Errorf("entry %d has no text", i)
		}
	}
	return texts, nil
}

// textsWithVectors checks that every object carries both a text and a vector.
func textsWithVectors(objects []jsonTextObject) ([]TextWithVector, error) {
	results := make([]TextWithVector, len(objects))
	for i, object := range objects {
		if object.Text == "" {
			return nil, fmt.Errorf("entry %d missing text field", i)
		}
		if len(object.Vector) == 0 {
			return nil, fmt.Errorf("entry %d missing vector field", i)
		}
		results[i] = TextWithVector{Text: object.Text, Vector: object.Vector}
	}
	return results, nil
}
