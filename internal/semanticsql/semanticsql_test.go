package semanticsql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_IdenticalQueriesScoreOne(t *testing.T) {
	sql := "SELECT COUNT(*) FROM products WHERE stock_levels > 0"
	assert.InDelta(t, 1.0, Score(sql, sql), 1e-9)
}

func TestScore_AliasAndQualifierDifferencesIgnored(t *testing.T) {
	cand := "SELECT p.stock_levels FROM products p WHERE p.stock_levels > 0"
	ref := "SELECT products.stock_levels AS stock_levels FROM products WHERE products.stock_levels > 0"
	assert.InDelta(t, 1.0, Score(cand, ref), 1e-9)
}

func TestDecompose_ExtractsClauses(t *testing.T) {
	c := Decompose("SELECT id, name FROM users u JOIN orders o ON o.user_id = u.id WHERE u.active = 1 GROUP BY id ORDER BY name")
	assert.Equal(t, []string{"id", "name"}, c.Select)
	assert.Equal(t, []string{"users"}, c.From)
	assert.Equal(t, []string{"active = 1"}, c.Where)
	assert.Equal(t, []string{"id"}, c.GroupBy)
	assert.Equal(t, []string{"name"}, c.OrderBy)
	if assert.Len(t, c.Joins, 1) {
		assert.Contains(t, c.Joins[0], "orders")
	}
}

func TestScore_CompletelyDifferentQueriesScoresLow(t *testing.T) {
	cand := "SELECT id FROM products"
	ref := "SELECT MAX(price) FROM orders GROUP BY customer_id ORDER BY price"
	assert.Less(t, Score(cand, ref), 0.5)
}

func TestOverlapCoefficient_BothEmptyIsOne(t *testing.T) {
	assert.Equal(t, 1.0, overlapCoefficient(nil, nil))
}

func TestOverlapCoefficient_OneEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, overlapCoefficient([]string{"a"}, nil))
}

func TestOverlapCoefficient_SubsetUsesSmallerSide(t *testing.T) {
	// SELECT * (one synthetic item) vs an explicit list: overlap is measured
	// against the smaller set so a superset doesn't get unfairly penalized.
	assert.Equal(t, 1.0, overlapCoefficient([]string{"*"}, []string{"*", "id"}))
}
