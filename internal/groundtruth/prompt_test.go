package groundtruth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/sqlsentry/internal/discovery"
)

func TestGroupBySchema(t *testing.T) {
	cols := []discovery.Column{
		{SchemaName: "public", TableName: "orders", ColumnName: "id", DataType: "int"},
		{SchemaName: "public", TableName: "customers", ColumnName: "id", DataType: "int"},
		{SchemaName: "public", TableName: "orders", ColumnName: "customer_id", DataType: "int"},
	}
	tables := GroupBySchema(cols)
	require.Len(t, tables, 2)
	assert.Equal(t, "customers", tables[0].Table, "grouped tables are sorted deterministically")
	assert.Equal(t, "orders", tables[1].Table)
	assert.Len(t, tables[1].Columns, 2)
}

func TestInferRelationships_NamingConvention(t *testing.T) {
	tables := []SchemaTable{
		{Schema: "public", Table: "customers", Columns: []discovery.Column{{ColumnName: "id"}}},
		{Schema: "public", Table: "orders", Columns: []discovery.Column{{ColumnName: "id"}, {ColumnName: "customer_id"}}},
	}
	rels := InferRelationships(tables)
	require.Len(t, rels, 1)
	assert.Equal(t, "orders", rels[0].FromTable)
	assert.Equal(t, "customer_id", rels[0].FromColumn)
	assert.Equal(t, "customers", rels[0].ToTable)
}

func TestInferRelationships_TolerantOfCycles(t *testing.T) {
	// employees.manager_id names a "manager" table that does not exist, so
	// no relationship is inferred; inference only lists, never traverses, so
	// it cannot loop.
	tables := []SchemaTable{
		{Schema: "public", Table: "employees", Columns: []discovery.Column{{ColumnName: "id"}, {ColumnName: "manager_id"}}},
	}
	rels := InferRelationships(tables)
	assert.Empty(t, rels)
}

func TestInferRelationships_UnresolvedTargetSkipped(t *testing.T) {
	tables := []SchemaTable{
		{Schema: "public", Table: "orders", Columns: []discovery.Column{{ColumnName: "shipment_id"}}},
	}
	rels := InferRelationships(tables)
	assert.Empty(t, rels, "no table named shipment/shipments exists")
}

func TestBuildPrompt_IncludesSchemaAndCount(t *testing.T) {
	req := PromptRequest{
		AgentName: "demand-forecaster",
		Tables: []SchemaTable{
			{Schema: "public", Table: "orders", Columns: []discovery.Column{{ColumnName: "id", DataType: "int"}}},
		},
		Relationships: []Relationship{{FromTable: "orders", FromColumn: "customer_id", ToTable: "customers"}},
		Samples:       Samples{"public.orders": {{"id": 1}}},
		Count:         25,
	}
	system, user := BuildPrompt(req)
	assert.Contains(t, system, "strict JSON")
	assert.Contains(t, user, "demand-forecaster")
	assert.Contains(t, user, "orders")
	assert.Contains(t, user, "customer_id -> customers")
	assert.Contains(t, user, "Generate exactly 25")
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	req := PromptRequest{
		AgentName: "a",
		Tables: []SchemaTable{
			{Schema: "s", Table: "t", Columns: []discovery.Column{{ColumnName: "c", DataType: "int"}}},
		},
		Count: 1,
	}
	_, u1 := BuildPrompt(req)
	_, u2 := BuildPrompt(req)
	assert.Equal(t, u1, u2, "BuildPrompt is a pure function")
}

func TestBatchSizes(t *testing.T) {
	assert.Equal(t, []int{25, 25, 25, 25}, batchSizes(100))
	assert.Equal(t, []int{25, 10}, batchSizes(35))
	assert.Nil(t, batchSizes(0))
}

func TestStripFences(t *testing.T) {
	raw := "```json\n[{\"natural_language\":\"x\",\"sql\":\"SELECT 1\"}]\n```"
	cleaned := stripFences(raw)
	assert.True(t, strings.HasPrefix(cleaned, "["))
	assert.True(t, strings.HasSuffix(cleaned, "]"))
}

func TestParsePairs(t *testing.T) {
	resp := `[{"natural_language": "how many orders", "sql": "SELECT COUNT(*) FROM orders"}]`
	pairs, err := parsePairs(resp)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "how many orders", pairs[0].NaturalLanguage)
}

func TestParsePairs_FencedAndInvalid(t *testing.T) {
	_, err := parsePairs("not json at all")
	assert.Error(t, err)

	fenced := "```\n[{\"natural_language\":\"q\",\"sql\":\"SELECT 1\"}]\n```"
	pairs, err := parsePairs(fenced)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
}

func TestClassifyComplexity(t *testing.T) {
	assert.Equal(t, "simple", classifyComplexity("SELECT * FROM orders"))
	assert.Equal(t, "moderate", classifyComplexity("SELECT * FROM orders JOIN customers ON orders.customer_id = customers.id"))
	assert.Equal(t, "complex", classifyComplexity("SELECT customer_id, COUNT(*) FROM orders JOIN customers ON orders.customer_id = customers.id GROUP BY customer_id HAVING COUNT(*) > 1"))
}
