package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pillarpond/facerecognizer/internal/pipeline"
)

func TestResolveLabel(t *testing.T) {
	names := []string{"Alice", "Bob", "42"}

	tests := []struct {
		name string
		arg  string
		want int
	}{
		{"index", "1", 1},
		{"name", "Alice", 0},
		{"numeric index wins over name", "2", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveLabel(names, tt.arg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveLabel_Unknown(t *testing.T) {
	names := []string{"Alice"}

	for _, arg := range []string{"-1", "1", "Carol", ""} {
		_, err := resolveLabel(names, arg)
		assert.ErrorIs(t, err, pipeline.ErrUnknownLabel, arg)
	}
}
