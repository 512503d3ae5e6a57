package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_NoRequestedIntentsSimpleSQLIsOne(t *testing.T) {
	s := Score("list everything", "SELECT id, name FROM products", nil)
	assert.Equal(t, 1.0, s)
}

func TestScore_NoRequestedIntentsComplexSQLIsPointEight(t *testing.T) {
	s := Score("list everything", "SELECT p.id FROM products p JOIN categories c ON c.id = p.category_id", nil)
	assert.Equal(t, 0.8, s)
}

func TestScore_AllRequestedIntentsFulfilledScoresHigh(t *testing.T) {
	nl := "how many products are in stock?"
	sql := "SELECT COUNT(*) FROM products WHERE stock_levels > 0"
	s := Score(nl, sql, nil)
	assert.Greater(t, s, 0.9)
}

func TestScore_MissingRequestedIntentPenalized(t *testing.T) {
	nl := "what is the highest price grouped by category?"
	sql := "SELECT category FROM products" // fulfills neither maximization nor grouping
	s := Score(nl, sql, nil)
	assert.Less(t, s, 0.5)
}

func TestFulfilled_DetectsSQLOperations(t *testing.T) {
	f := Fulfilled("SELECT category, SUM(total) FROM orders WHERE active = true GROUP BY category ORDER BY total DESC LIMIT 5")
	assert.True(t, f[Filtering])
	assert.True(t, f[Summation])
	assert.True(t, f[Grouping])
	assert.True(t, f[Sorting])
	assert.True(t, f[Limiting])
}

func TestRequested_DetectsPhrasesFromNL(t *testing.T) {
	req := Requested("show me the total sales grouped by each region", nil)
	assert.True(t, req[Summation])
	assert.True(t, req[Grouping])
}
