package llm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSON_ValidJSON(t *testing.T) {
	valid := `{"adjectives": ["misty", "quiet"]}`
	repaired, stats, err := RepairJSON(valid)

	require.NoError(t, err)
	assert.False(t, stats.WasRepaired)
	assert.Equal(t, valid, repaired)
	assert.Equal(t, len(valid), stats.RepairedBytes)
}

func TestRepairJSON_TrailingCommas(t *testing.T) {
	repaired, stats, err := RepairJSON(`{"adjectives": ["misty", "quiet",],}`)

	require.NoError(t, err)
	assert.True(t, stats.WasRepaired)
	assert.Equal(t, `{"adjectives": ["misty", "quiet"]}`, repaired)
	assert.Equal(t, []string{"trailing_commas"}, stats.Strategies)
}

func TestRepairJSON_LibraryFallback(t *testing.T) {
	_, stats, err := RepairJSON(`{adjectives: ['misty', 'quiet']`)

	require.NoError(t, err)
	assert.Contains(t, stats.Strategies, "jsonrepair_library")
}

func TestParseAdjectives(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "plain object",
			raw:  `{"adjectives": ["Melancholic", "luminous", "windswept"]}`,
			want: []string{"Melancholic", "luminous", "windswept"},
		},
		{
			name: "fenced with prose",
			raw:  "Here you go:\n```json\n{\"adjectives\": [\"salty\", \"restless\"]}\n```",
			want: []string{"salty", "restless"},
		},
		{
			name: "bare array",
			raw:  `["foggy", "foggy", "Foggy", "warm"]`,
			want: []string{"foggy", "warm"},
		},
		{
			name: "broken json is repaired",
			raw:  `{"adjectives": ["brave", "tired",`,
			want: []string{"brave", "tired"},
		},
		{
			name: "comma separated prose",
			raw:  "curious, gentle,\n- stubborn",
			want: []string{"curious", "gentle", "stubborn"},
		},
		{
			name: "empty",
			raw:  "   ",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAdjectives(tt.raw)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseAdjectives mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
