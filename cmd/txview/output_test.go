package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyJQ(t *testing.T) {
	input := map[string]any{
		"id": "tx-1",
		"txDataUnion": map[string]any{
			"solanaTxData": map[string]any{"lamports": "18446744073709551615"},
		},
		"tags": []string{"a", "b"},
	}

	tests := []struct {
		name    string
		filters []string
		want    []any
	}{
		{
			name:    "field access",
			filters: []string{".id"},
			want:    []any{"tx-1"},
		},
		{
			name:    "large amounts stay strings",
			filters: []string{".txDataUnion.solanaTxData.lamports"},
			want:    []any{"18446744073709551615"},
		},
		{
			name:    "filters are piped",
			filters: []string{".txDataUnion", ".solanaTxData | keys"},
			want:    []any{[]any{"lamports"}},
		},
		{
			name:    "multiple outputs fan out",
			filters: []string{".tags[]", "ascii_upcase"},
			want:    []any{"A", "B"},
		},
		{
			name:    "empty output",
			filters: []string{"select(.id == \"other\")"},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codes, err := compileJQ(tt.filters)
			require.NoError(t, err)

			got, err := applyJQ(codes, input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileJQ_Invalid(t *testing.T) {
	_, err := compileJQ([]string{".id", ".["})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `failed to parse jq filter ".["`)
}

func TestApplyJQ_RuntimeError(t *testing.T) {
	codes, err := compileJQ([]string{`error("boom")`})
	require.NoError(t, err)

	_, err = applyJQ(codes, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jq filter failed")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, map[string]int{"a": 1}, nil))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())

	buf.Reset()
	require.NoError(t, writeJSON(&buf, map[string]int{"a": 1}, []string{".a"}))
	assert.Equal(t, "1\n", buf.String())
}
