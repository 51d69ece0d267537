package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckDimensions(t *testing.T) {
	tests := []struct {
		name    string
		vectors [][]float32
		wantErr bool
	}{
		{"empty", nil, false},
		{"uniform", [][]float32{{1, 2}, {3, 4}}, false},
		{"ragged", [][]float32{{1, 2}, {3}}, true},
		{"empty vector", [][]float32{{}, {}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDimensions(tt.vectors)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
