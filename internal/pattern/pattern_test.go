package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_SelectStarWithAggAndNoGroupByPenalized(t *testing.T) {
	s := Score("SELECT * FROM orders WHERE SUM(total) > 0")
	assert.Less(t, s, baseScore)
}

func TestScore_SelectStarWithoutLimitPenalized(t *testing.T) {
	s := Score("SELECT * FROM products")
	assert.Less(t, s, baseScore)
}

func TestScore_CommaJoinCartesianRiskPenalized(t *testing.T) {
	s := Score("SELECT id FROM orders, customers WHERE orders.customer_id = customers.id")
	assert.Less(t, s, baseScore)
}

func TestScore_LimitWithoutOrderByPenalized(t *testing.T) {
	withOrder := Score("SELECT id FROM products ORDER BY id LIMIT 10")
	withoutOrder := Score("SELECT id FROM products LIMIT 10")
	assert.Less(t, withoutOrder, withOrder)
}

func TestScore_WellFormedQueryScoresHigh(t *testing.T) {
	s := Score("SELECT p.id, p.name FROM products AS p JOIN categories AS c ON c.id = p.category_id WHERE p.active = true GROUP BY p.id ORDER BY p.name LIMIT 20")
	assert.Greater(t, s, baseScore)
}

func TestScore_ClampedToUnitInterval(t *testing.T) {
	s := Score("SELECT * FROM t1, t2, t3")
	assert.GreaterOrEqual(t, s, 0.0)
	assert.LessOrEqual(t, s, 1.0)
}
