package resultcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare_EmptyBothSidesSchemaMatch(t *testing.T) {
	cmp := Compare([]string{"count"}, nil, "SELECT COUNT(*) FROM t", []string{"count"}, nil, "SELECT COUNT(*) FROM t")
	assert.Equal(t, 1.0, cmp.Score)
	assert.True(t, cmp.SchemaMatch)
	assert.True(t, cmp.RowCountMatch)
}

func TestCompare_SchemaMismatchCapsAtPointOne(t *testing.T) {
	cmp := Compare([]string{"id"}, [][]any{{1}}, "SELECT id FROM t", []string{"name"}, [][]any{{"x"}}, "SELECT name FROM t")
	assert.False(t, cmp.SchemaMatch)
	assert.Equal(t, 0.1, cmp.Score)
}

func TestCompare_ExactMatchScoresOne(t *testing.T) {
	cand := [][]any{{1, "a"}, {2, "b"}}
	ref := [][]any{{1, "a"}, {2, "b"}}
	cmp := Compare([]string{"id", "name"}, cand, "SELECT id, name FROM t ORDER BY id", []string{"id", "name"}, ref, "SELECT id, name FROM t ORDER BY id")
	assert.Equal(t, 1.0, cmp.Score)
	assert.True(t, cmp.RowCountMatch)
	assert.Equal(t, 1.0, cmp.ContentMatchRate)
}

func TestCompare_UnorderedRowsCanonicallySorted(t *testing.T) {
	cand := [][]any{{2, "b"}, {1, "a"}}
	ref := [][]any{{1, "a"}, {2, "b"}}
	// Neither SQL string has an outer ORDER BY, so both sides are sorted
	// canonically before comparison.
	cmp := Compare([]string{"id", "name"}, cand, "SELECT id, name FROM t", []string{"id", "name"}, ref, "SELECT id, name FROM t")
	assert.Equal(t, 1.0, cmp.Score)
}

func TestCompare_RowCountMismatchCapsAtPointThree(t *testing.T) {
	cand := [][]any{{1}, {2}, {3}}
	ref := [][]any{{1}}
	cmp := Compare([]string{"id"}, cand, "SELECT id FROM t", []string{"id"}, ref, "SELECT id FROM t")
	assert.True(t, cmp.SchemaMatch)
	assert.False(t, cmp.RowCountMatch)
	assert.LessOrEqual(t, cmp.Score, 0.3)
}

func TestCompare_NumericToleranceWithinEpsilon(t *testing.T) {
	cand := [][]any{{1.00001}}
	ref := [][]any{{1.00002}}
	cmp := Compare([]string{"val"}, cand, "SELECT val FROM t", []string{"val"}, ref, "SELECT val FROM t")
	assert.Equal(t, 1.0, cmp.Score)
}

func TestCompare_NullDistinctFromValue(t *testing.T) {
	cand := [][]any{{nil}}
	ref := [][]any{{0}}
	cmp := Compare([]string{"val"}, cand, "SELECT val FROM t", []string{"val"}, ref, "SELECT val FROM t")
	assert.Less(t, cmp.Score, 1.0)
}

func TestCompare_ContentMatchBands(t *testing.T) {
	// 1 of 4 compared rows differs but row count still matches (4 rows each,
	// 3 agree) => 75% content match, below the 80% band, raw rate used.
	cand := [][]any{{1}, {2}, {3}, {99}}
	ref := [][]any{{1}, {2}, {3}, {4}}
	cmp := Compare([]string{"id"}, cand, "SELECT id FROM t ORDER BY id", []string{"id"}, ref, "SELECT id FROM t ORDER BY id")
	assert.True(t, cmp.RowCountMatch)
	assert.InDelta(t, 0.75, cmp.ContentMatchRate, 1e-9)
	assert.InDelta(t, 0.75, cmp.Score, 1e-9)
}

func TestHasOuterOrderBy_DetectsTopLevelOnly(t *testing.T) {
	assert.True(t, hasOuterOrderBy("SELECT * FROM t ORDER BY id"))
	assert.False(t, hasOuterOrderBy("SELECT * FROM (SELECT * FROM t ORDER BY id) sub"))
}
