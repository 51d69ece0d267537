package dataimport

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// PointSet is an n×d matrix of observations with an optional label per row.
type PointSet struct {
	Matrix *mat.Dense
	Labels []string
}

// Len returns the number of points.
func (points *PointSet) Len() int {
	rows, _ := points.Matrix.Dims()
	return rows
}

// LoadPoints reads a numeric point set.
//
// CSV files hold one point per row. A header row is optional; when present,
// a column named "label" or "text" becomes the row label and every other
// column must be numeric. JSON files hold either an array of number arrays or
// an array of {"text", "vector"} objects.
func LoadPoints(path string) (*PointSet, error) {
	return loadByExtension(path, pointsFromCSV, pointsFromJSON)
}

// FromVectors builds a PointSet from float32 vectors as returned by embedding
// models and vector stores. Every vector must have the same length.
func FromVectors(vectors [][]float32, labels []string) (*PointSet, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no vectors")
	}
	if labels != nil && len(labels) != len(vectors) {
		return nil, fmt.Errorf("got %d labels for %d vectors", len(labels), len(vectors))
	}

	dimension := len(vectors[0])
	if dimension == 0 {
		return nil, fmt.Errorf("vector 0 is empty")
	}

	matrix := mat.NewDense(len(vectors), dimension, nil)
	for i, vector := range vectors {
		if len(vector) != dimension {
			return nil, fmt.Errorf("vector %d has %d dimensions, expected %d", i, len(vector), dimension)
		}
		row := matrix.RawRowView(i)
		for j, value := range vector {
			row[j] = float64(value)
		}
	}

	return &PointSet{Matrix: matrix, Labels: labels}, nil
}

func pointsFromCSV(records [][]string) (*PointSet, error) {
	labelCol := -1
	if !isNumericRow(records[0]) {
		labelCol = findColumn(records[0], "label", "text")
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("CSV file has no data rows")
	}

	dimension := len(records[0])
	if labelCol >= 0 {
		dimension--
	}
	if dimension < 1 {
		return nil, fmt.Errorf("CSV file has no numeric columns")
	}

	matrix := mat.NewDense(len(records), dimension, nil)
	var labels []string
	if labelCol >= 0 {
		labels = make([]string, len(records))
	}

	for i, record := range records {
		row := matrix.RawRowView(i)
		column := 0
		for j, field := range record {
			if j == labelCol {
				labels[i] = field
				continue
			}
			if column == dimension {
				return nil, fmt.Errorf("row %d has %d fields, expected %d", i+1, len(record), len(records[0]))
			}
			value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i+1, j+1, err)
			}
			row[column] = value
			column++
		}
		if column != dimension {
			return nil, fmt.Errorf("row %d has %d numeric values, expected %d", i+1, column, dimension)
		}
	}

	return &PointSet{Matrix: matrix, Labels: labels}, nil
}

func isNumericRow(record []string) bool {
	for _, field := range record {
		if _, err := strconv.ParseFloat(strings.TrimSpace(field), 64); err != nil {
			return false
		}
	}
	return true
}

func pointsFromJSON(data []byte) (*PointSet, error) {
	var rows [][]float64
	if err := json.Unmarshal(data, &rows); err == nil {
		return pointsFromRows(rows)
	}

	var objects []jsonTextObject
	if err := json.Unmarshal(data, &objects); err != nil {
		return nil, fmt.Errorf("parsing JSON: expected array of number arrays or objects with 'text' and 'vector' fields: %w", err)
	}

	entries, err := textsWithVectors(objects)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(entries))
	labels := make([]string, len(entries))
	for i, entry := range entries {
		vectors[i] = entry.Vector
		labels[i] = entry.Text
	}
	return FromVectors(vectors, labels)
}

func pointsFromRows(rows [][]float64) (*PointSet, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("JSON point set is empty")
	}

	dimension := len(rows[0])
	matrix := mat.NewDense(len(rows), dimension, nil)
	for i, row := range rows {
		if len(row) != dimension {
			return nil, fmt.Errorf("point %d has %d dimensions, expected %d", i, len(row), dimension)
		}
		matrix.SetRow(i, row)
	}
	return &PointSet{Matrix: matrix}, nil
}
