package evaluator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/sqlsentry/internal/discovery"
	"github.com/ashita-ai/sqlsentry/internal/judge"
	"github.com/ashita-ai/sqlsentry/internal/matcher"
	"github.com/ashita-ai/sqlsentry/internal/model"
	"github.com/ashita-ai/sqlsentry/internal/sqlvalidate"
)

// fakeConn is a minimal discovery.Connector backing all evaluator tests;
// it has a fixed "products" table schema and a scripted execution result.
type fakeConn struct {
	columns    []discovery.Column
	execResult discovery.ExecResult
	execErr    error
	explainErr error
}

func (f *fakeConn) Dialect() string { return "fake" }

func (f *fakeConn) DiscoverColumns(context.Context) ([]discovery.Column, error) {
	return f.columns, nil
}

func (f *fakeConn) SampleRows(context.Context, string, string, int) ([]map[string]any, error) {
	return nil, nil
}

func (f *fakeConn) Execute(context.Context, string, time.Duration, int) (*discovery.ExecResult, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	r := f.execResult
	return &r, nil
}

func (f *fakeConn) Explain(context.Context, string) error { return f.explainErr }
func (f *fakeConn) Close() error                          { return nil }

func productsSchema() []discovery.Column {
	return []discovery.Column{
		{SchemaName: "public", TableName: "products", ColumnName: "id", DataType: "int"},
		{SchemaName: "public", TableName: "products", ColumnName: "name", DataType: "text"},
		{SchemaName: "public", TableName: "products", ColumnName: "stock", DataType: "int"},
	}
}

// fakeEmbedder returns a fixed-length vector derived from the text length,
// so distinct strings land at measurably different points without needing a
// live embedding provider.
type fakeEmbedder struct{ dims int }

func (f fakeEmbedder) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	v := make([]float32, f.dims)
	for i := range v {
		v[i] = float32(len(text)+i) / 10
	}
	return pgvector.NewVector(v), nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	out := make([]pgvector.Vector, len(texts))
	for i, t := range texts {
		out[i], _ = f.Embed(ctx, t)
	}
	return out, nil
}

func (f fakeEmbedder) Dimensions() int { return f.dims }

// scriptedLLM returns a fixed response regardless of prompt content.
type scriptedLLM struct{ response string }

func (s scriptedLLM) Complete(context.Context, string, string) (string, error) {
	return s.response, nil
}

func newTestEvaluator(t *testing.T, conn discovery.Connector, llmResp string) (*Evaluator, *matcher.Registry) {
	t.Helper()
	validator := sqlvalidate.NewWithOpener(func(context.Context, string) (discovery.Connector, error) {
		return conn, nil
	})
	embedder := fakeEmbedder{dims: 8}
	registry := matcher.NewRegistry()
	sqlJudge := judge.NewSQLJudge(scriptedLLM{response: llmResp})
	outputJudge := judge.NewOutputJudge(scriptedLLM{response: llmResp})
	ev := New(validator, embedder, registry, sqlJudge, outputJudge, 0.7)
	ev.opener = func(context.Context, string) (discovery.Connector, error) { return conn, nil }
	return ev, registry
}

func testAgent() model.Agent {
	return model.Agent{AgentID: uuid.New(), AgentName: "demand-forecaster", DBURL: "postgres://fake"}
}

func sqlPtr(s string) *string { return &s }

// TestEvaluate_PathA_GroundTruthMatch covers the happy path (a products/stock query
// matching a ground-truth record is scored along path A).
func TestEvaluate_PathA_GroundTruthMatch(t *testing.T) {
	conn := &fakeConn{
		columns: productsSchema(),
		execResult: discovery.ExecResult{
			Columns:  []string{"name", "stock"},
			Rows:     [][]any{{"widget", 5}},
			RowCount: 1,
		},
	}
	ev, registry := newTestEvaluator(t, conn, "VERDICT: PASS\nCONFIDENCE: 0.9\nREASONING: equivalent logic\n")

	gtSQL := "SELECT name, stock FROM products WHERE stock < 10"
	artifact := model.GroundTruthArtifact{
		AgentName: "demand-forecaster",
		Queries: []model.GroundTruthQuery{{
			LocalID:         0,
			NaturalLanguage: "which products are low on stock",
			SQL:             gtSQL,
			ExpectedOutput: &model.ExpectedOutput{
				Columns:  []string{"name", "stock"},
				RowCount: 1,
				SampleRows: [][]any{{"widget", 5}},
			},
		}},
	}
	require.NoError(t, registry.ForAgent("demand-forecaster").Rebuild(context.Background(), fakeEmbedder{dims: 8}, artifact))

	query := model.Query{
		QueryID:      "INGEST-DEMAND-00000001",
		QueryText:    "which products are low on stock",
		AgentType:    "demand-forecaster",
		Status:       model.QueryStatusSuccess,
		GeneratedSQL: sqlPtr(gtSQL),
	}

	result, err := ev.Evaluate(context.Background(), testAgent(), query, nil)
	require.NoError(t, err)
	assert.Equal(t, PathA, result.Path)
	assert.Equal(t, model.EvalPass, result.Eval.Result)
	assert.InDelta(t, 1.0, result.Eval.StructuralScore, 0.01)
	assert.InDelta(t, 1.0, result.Eval.SemanticScore, 0.01)
	assert.Equal(t, 1.0, result.Eval.LLMScore)
	assert.Greater(t, result.Eval.FinalScore, 0.7)
}

// TestEvaluate_PathB_NoGroundTruth exercises the heuristic path when no
// ground-truth match is found.
func TestEvaluate_PathB_NoGroundTruth(t *testing.T) {
	conn := &fakeConn{
		columns: productsSchema(),
		execResult: discovery.ExecResult{
			Columns:  []string{"name"},
			Rows:     [][]any{{"widget"}},
			RowCount: 1,
		},
	}
	ev, _ := newTestEvaluator(t, conn, "CORRECTNESS: 0.8\nCOMPLETENESS: 0.8\nQUALITY: 0.9\nREASONING: fine\n")

	query := model.Query{
		QueryID:      "INGEST-DEMAND-00000002",
		QueryText:    "list all products",
		AgentType:    "demand-forecaster",
		Status:       model.QueryStatusSuccess,
		GeneratedSQL: sqlPtr("SELECT name FROM products"),
	}

	result, err := ev.Evaluate(context.Background(), testAgent(), query, nil)
	require.NoError(t, err)
	assert.Equal(t, PathB, result.Path)
	assert.Contains(t, result.Eval.EvaluationData, "intent_score")
	assert.Contains(t, result.Eval.EvaluationData, "output_validation")
}

// TestEvaluate_PathB_DriftVeto encodes the junk/irrelevant-query veto: a
// low drift quality forces FAIL regardless of the heuristic score.
func TestEvaluate_PathB_DriftVeto(t *testing.T) {
	conn := &fakeConn{columns: productsSchema()}
	ev, _ := newTestEvaluator(t, conn, "CORRECTNESS: 1\nCOMPLETENESS: 1\nQUALITY: 1\nREASONING: n/a\n")

	query := model.Query{
		QueryID:      "INGEST-DEMAND-00000003",
		QueryText:    "asdkjfh qwer",
		AgentType:    "demand-forecaster",
		Status:       model.QueryStatusSuccess,
		GeneratedSQL: sqlPtr("SELECT name FROM products WHERE id = 1"),
	}

	dq := 0.05
	result, err := ev.Evaluate(context.Background(), testAgent(), query, &dq)
	require.NoError(t, err)
	assert.Equal(t, PathB, result.Path)
	assert.Equal(t, model.EvalFail, result.Eval.Result)
	assert.Equal(t, 0.0, result.Eval.FinalScore)
	assert.Equal(t, 0.0, result.Eval.Confidence)
}

// TestEvaluate_StructuralFail_ClassifiableError covers the undefined-table
// case: preprocessing should reject the SQL outright and surface its raw
// error text for the pipeline's error-classification stage.
func TestEvaluate_StructuralFail_ClassifiableError(t *testing.T) {
	conn := &fakeConn{
		columns: productsSchema(),
		explainErr: &discovery.ExecError{
			Class: discovery.ExecUndefinedTable,
			Err:   fmt.Errorf(`relation "widgets" does not exist`),
		},
	}
	ev, _ := newTestEvaluator(t, conn, "")

	query := model.Query{
		QueryID:      "INGEST-DEMAND-00000004",
		QueryText:    "how many widgets are there",
		AgentType:    "demand-forecaster",
		Status:       model.QueryStatusSuccess,
		GeneratedSQL: sqlPtr("SELECT COUNT(*) FROM widgets"),
	}

	result, err := ev.Evaluate(context.Background(), testAgent(), query, nil)
	require.NoError(t, err)
	assert.Equal(t, PathStructuralFail, result.Path)
	assert.Equal(t, model.EvalFail, result.Eval.Result)
	assert.Equal(t, 0.0, result.Eval.FinalScore)
	assert.Contains(t, result.ClassifiableErrorText, "does not exist")
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "SELECT 1", stripFences("```sql\nSELECT 1\n```"))
	assert.Equal(t, "SELECT 1", stripFences("  SELECT 1  "))
	assert.Equal(t, "SELECT 1", stripFences("```\nSELECT 1\n```"))
}
