package pgvec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name      string
		filter    map[string]interface{}
		startArg  int
		wantWhere string
		wantArgs  []interface{}
		wantErr   error
	}{
		{
			name:      "empty filter",
			filter:    nil,
			startArg:  1,
			wantWhere: "",
		},
		{
			name:      "single equality",
			filter:    map[string]interface{}{"source": "wiki"},
			startArg:  1,
			wantWhere: " WHERE metadata @> $1",
			wantArgs:  []interface{}{map[string]interface{}{"source": "wiki"}},
		},
		{
			name: "multiple keys sorted",
			filter: map[string]interface{}{
				"source": "wiki",
				"lang":   "en",
			},
			startArg:  2,
			wantWhere: " WHERE metadata @> $2 AND metadata @> $3",
			wantArgs: []interface{}{
				map[string]interface{}{"lang": "en"},
				map[string]interface{}{"source": "wiki"},
			},
		},
		{
			name:      "explicit eq operator",
			filter:    map[string]interface{}{"source": map[string]interface{}{"$eq": "wiki"}},
			startArg:  1,
			wantWhere: " WHERE metadata @> $1",
			wantArgs:  []interface{}{map[string]interface{}{"source": "wiki"}},
		},
		{
			name:      "ne operator",
			filter:    map[string]interface{}{"source": map[string]interface{}{"$ne": "wiki"}},
			startArg:  1,
			wantWhere: " WHERE NOT (metadata @> $1)",
			wantArgs:  []interface{}{map[string]interface{}{"source": "wiki"}},
		},
		{
			name:      "gte operator casts to numeric",
			filter:    map[string]interface{}{"year": map[string]interface{}{"$gte": 2020}},
			startArg:  1,
			wantWhere: " WHERE (metadata->>$1)::numeric >= $2",
			wantArgs:  []interface{}{"year", 2020},
		},
		{
			name: "range on one key",
			filter: map[string]interface{}{
				"year": map[string]interface{}{"$gte": 2020, "$lt": 2024},
			},
			startArg:  1,
			wantWhere: " WHERE (metadata->>$1)::numeric >= $2 AND (metadata->>$3)::numeric < $4",
			wantArgs:  []interface{}{"year", 2020, "year", 2024},
		},
		{
			name:     "empty operator map",
			filter:   map[string]interface{}{"year": map[string]interface{}{}},
			startArg: 1,
			wantErr:  ErrUnsupportedFilter,
		},
		{
			name:     "unknown operator",
			filter:   map[string]interface{}{"year": map[string]interface{}{"$in": []int{1, 2}}},
			startArg: 1,
			wantErr:  ErrUnsupportedFilter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args, err := buildFilter(tt.filter, tt.startArg)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantWhere, where)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, validateName("documents"))
	assert.NoError(t, validateName("my_collection_2"))
	assert.ErrorIs(t, validateName("Docs"), ErrInvalidName)
	assert.ErrorIs(t, validateName("a b"), ErrInvalidName)
	assert.ErrorIs(t, validateName("drop;table"), ErrInvalidName)
	assert.ErrorIs(t, validateName(""), ErrInvalidName)
}
