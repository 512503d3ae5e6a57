package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockMySQLConn(t *testing.T) (*mysqlConn, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &mysqlConn{db: db, dbName: "agentdb"}, mock
}

func TestMySQLDiscoverColumns(t *testing.T) {
	conn, mock := newMockMySQLConn(t)

	mock.ExpectQuery("FROM information_schema.columns").WillReturnRows(
		sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "data_type", "is_nullable"}).
			AddRow("agentdb", "products", "id", "int", "NO").
			AddRow("agentdb", "products", "name", "varchar", "YES"))

	cols, err := conn.DiscoverColumns(context.Background())
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, Column{
		SchemaName: "agentdb",
		TableName:  "products",
		ColumnName: "id",
		DataType:   "int",
		IsNullable: false,
	}, cols[0])
	assert.True(t, cols[1].IsNullable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLExecuteCapsRows(t *testing.T) {
	conn, mock := newMockMySQLConn(t)

	rows := sqlmock.NewRows([]string{"id"})
	for i := 0; i < 5; i++ {
		rows.AddRow(int64(i))
	}
	mock.ExpectQuery("SELECT id FROM products").WillReturnRows(rows)

	result, err := conn.Execute(context.Background(), "SELECT id FROM products", time.Second, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, result.Columns)
	assert.Len(t, result.Rows, 3)
	assert.Equal(t, 5, result.RowCount)
}

func TestClassifyMySQLError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ExecErrorClass
	}{
		{
			name: "syntax",
			err:  errors.New("Error 1064: You have an error in your SQL syntax; check the manual"),
			want: ExecSyntaxError,
		},
		{
			name: "undefined table",
			err:  errors.New("Error 1146: Table 'agentdb.nonexistent' doesn't exist"),
			want: ExecUndefinedTable,
		},
		{
			name: "undefined column",
			err:  errors.New("Error 1054: Unknown column 'x' in 'field list'"),
			want: ExecUndefinedColumn,
		},
		{
			name: "anything else",
			err:  errors.New("Error 1044: Access denied for user"),
			want: ExecOther,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyMySQLError(tt.err)
			var execErr *ExecError
			require.ErrorAs(t, classified, &execErr)
			assert.Equal(t, tt.want, execErr.Class)
		})
	}
}
