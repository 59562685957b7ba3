package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadpoint/toolengine/internal/state"
)

func TestSubsetMatch(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{
			name:     "extra actual keys are ignored",
			expected: map[string]any{"a": 1},
			actual:   map[string]any{"a": json.Number("1"), "b": "extra"},
			want:     true,
		},
		{
			name:     "missing expected key fails",
			expected: map[string]any{"a": 1, "b": 2},
			actual:   map[string]any{"a": json.Number("1")},
			want:     false,
		},
		{
			name:     "nested subset",
			expected: map[string]any{"outer": map[string]any{"inner": true}},
			actual: map[string]any{"outer": map[string]any{
				"inner": true, "other": "ignored",
			}},
			want: true,
		},
		{
			name:     "yaml int matches stored number",
			expected: 1724500000000,
			actual:   json.Number("1724500000000"),
			want:     true,
		},
		{
			name:     "number mismatch fails",
			expected: 2,
			actual:   json.Number("3"),
			want:     false,
		},
		{
			name:     "float matches int value",
			expected: 2.0,
			actual:   json.Number("2"),
			want:     true,
		},
		{
			name:     "string never matches number",
			expected: "1",
			actual:   json.Number("1"),
			want:     false,
		},
		{
			name:     "lists match by position",
			expected: []any{"a", "b"},
			actual:   []any{"a", "b"},
			want:     true,
		},
		{
			name:     "list length must match",
			expected: []any{"a"},
			actual:   []any{"a", "b"},
			want:     false,
		},
		{
			name:     "list order matters",
			expected: []any{"a", "b"},
			actual:   []any{"b", "a"},
			want:     false,
		},
		{
			name:     "nil matches nil only",
			expected: nil,
			actual:   "something",
			want:     false,
		},
		{
			name:     "map against scalar fails",
			expected: map[string]any{"a": 1},
			actual:   "not a map",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, subsetMatch(tt.expected, tt.actual))
		})
	}
}

func TestNormalizeMap_StateMap(t *testing.T) {
	m := state.Map{
		"poll1": state.Poll{
			Votes:   map[string]int64{"opt_a": 2},
			VotedBy: []string{"user1"},
		},
	}

	out, err := normalizeMap(m)
	require.NoError(t, err)

	poll, ok := out["poll1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "poll", poll["kind"])
	votes, ok := poll["votes"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("2"), votes["opt_a"])
}

func TestNormalizeMap_NilAndEmpty(t *testing.T) {
	out, err := normalizeMap(nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = normalizeMap(map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}
