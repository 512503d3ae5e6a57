package sqlvalidate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/sqlsentry/internal/discovery"
)

type fakeConn struct {
	columns    []discovery.Column
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
	return &discovery.ExecResult{}, nil
}
func (f *fakeConn) Explain(context.Context, string) error { return f.explainErr }
func (f *fakeConn) Close() error                          { return nil }

func schema() []discovery.Column {
	return []discovery.Column{
		{SchemaName: "public", TableName: "products", ColumnName: "id"},
		{SchemaName: "public", TableName: "products", ColumnName: "stock"},
	}
}

func newValidator(conn discovery.Connector) *Validator {
	return NewWithOpener(func(context.Context, string) (discovery.Connector, error) { return conn, nil })
}

func TestValidate_ValidSQLScoresOne(t *testing.T) {
	v := newValidator(&fakeConn{columns: schema()})
	res, err := v.Validate(context.Background(), uuid.New(), "postgres://fake", &fakeConn{columns: schema()}, "SELECT stock FROM products WHERE id = 1")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 1.0, res.Score)
	assert.False(t, res.RequiresClassification)
}

func TestValidate_UndefinedTableIsClassifiable(t *testing.T) {
	conn := &fakeConn{
		columns:    schema(),
		explainErr: &discovery.ExecError{Class: discovery.ExecUndefinedTable, Err: fmt.Errorf(`relation "widgets" does not exist`)},
	}
	v := newValidator(conn)
	res, err := v.Validate(context.Background(), uuid.New(), "postgres://fake", conn, "SELECT * FROM widgets")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 0.0, res.Score)
	assert.True(t, res.RequiresClassification)
	assert.Equal(t, discovery.ExecUndefinedTable, res.ErrorType)
}

func TestValidate_PermissionErrorNotClassifiable(t *testing.T) {
	conn := &fakeConn{columns: schema(), explainErr: fmt.Errorf("permission denied for table products")}
	v := newValidator(conn)
	res, err := v.Validate(context.Background(), uuid.New(), "postgres://fake", conn, "SELECT * FROM products")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 0.0, res.Score)
	assert.False(t, res.RequiresClassification)
}

func TestValidate_UnresolvedColumnScoresHalf(t *testing.T) {
	conn := &fakeConn{columns: schema()}
	v := newValidator(conn)
	res, err := v.Validate(context.Background(), uuid.New(), "postgres://fake", conn, "SELECT products.nonexistent FROM products")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 0.5, res.Score)
}

func TestValidate_SchemaCacheIsReusedAcrossCalls(t *testing.T) {
	v := newValidator(&fakeConn{columns: schema()})
	agentID := uuid.New()
	conn := &fakeConn{columns: schema()}
	_, err := v.Validate(context.Background(), agentID, "postgres://fake", conn, "SELECT stock FROM products")
	require.NoError(t, err)
	_, ok := v.cache[agentID]
	assert.True(t, ok)

	v.Invalidate(agentID)
	_, ok = v.cache[agentID]
	assert.False(t, ok)
}
