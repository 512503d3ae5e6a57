package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/sqlsentry/internal/discovery"
	"github.com/ashita-ai/sqlsentry/internal/model"
)

// fakeLogConn is a discovery.Connector stand-in whose Execute returns a
// scripted result regardless of the SQL text, letting readQueryLogRows be
// tested without a live database.
type fakeLogConn struct {
	result discovery.ExecResult
}

func (f *fakeLogConn) Dialect() string { return "fake" }
func (f *fakeLogConn) DiscoverColumns(context.Context) ([]discovery.Column, error) {
	return nil, nil
}
func (f *fakeLogConn) SampleRows(context.Context, string, string, int) ([]map[string]any, error) {
	return nil, nil
}
func (f *fakeLogConn) Execute(context.Context, string, time.Duration, int) (*discovery.ExecResult, error) {
	r := f.result
	return &r, nil
}
func (f *fakeLogConn) Explain(context.Context, string) error { return nil }
func (f *fakeLogConn) Close() error                          { return nil }

func testCfg(watermark time.Time) model.QueryLogConfig {
	return model.QueryLogConfig{
		SchemaName:      "public",
		TableName:       "agent_logs",
		QueryTextColumn: "query_text",
		SQLColumn:       "generated_sql",
		TimestampColumn: "ts",
		StatusColumn:    "status",
		ErrorColumn:     "error_msg",
		IDColumn:        "id",
		LastSeenTimestamp: watermark,
	}
}

// TestReadQueryLogRows_S5FirstCycleReturnsBothRows encodes the first half
// of the watermark contract: two rows at t1 < t2, watermark starts at zero, both come back in
// ascending order.
func TestReadQueryLogRows_S5FirstCycleReturnsBothRows(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	conn := &fakeLogConn{result: discovery.ExecResult{
		Columns: []string{"query_text", "ts", "generated_sql", "status", "error_msg", "id"},
		Rows: [][]any{
			{"q1", t1, "SELECT 1", "success", "", "1"},
			{"q2", t2, "SELECT 2", "success", "", "2"},
		},
	}}

	rows, err := readQueryLogRows(context.Background(), conn, testCfg(time.Time{}), 100)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "q1", rows[0].queryText)
	assert.Equal(t, "q2", rows[1].queryText)
	assert.True(t, rows[1].timestamp.After(rows[0].timestamp))
}

// TestReadQueryLogRows_StatusDefaultsToSuccess confirms a missing/empty
// status column doesn't crash conversion and defaults sensibly.
func TestReadQueryLogRows_StatusDefaultsToSuccess(t *testing.T) {
	cfg := testCfg(time.Time{})
	cfg.StatusColumn = ""
	conn := &fakeLogConn{result: discovery.ExecResult{
		Columns: []string{"query_text", "ts"},
		Rows:    [][]any{{"q1", time.Now().UTC()}},
	}}
	rows, err := readQueryLogRows(context.Background(), conn, cfg, 100)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.QueryStatusSuccess, rows[0].status)
}

func TestBuildQueryLogSelect_FiltersByWatermarkAscendingCapped(t *testing.T) {
	watermark := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sqlText := buildQueryLogSelect(testCfg(watermark), 100)
	assert.Contains(t, sqlText, "public.agent_logs")
	assert.Contains(t, sqlText, "ts >")
	assert.Contains(t, sqlText, "ORDER BY ts ASC")
	assert.Contains(t, sqlText, "LIMIT 100")
	assert.Contains(t, sqlText, watermark.Format(time.RFC3339Nano))
}

// TestPollAgent_WatermarkAdvancesToMaxTimestamp encodes the watermark
// half of the watermark contract in isolation from storage: given rows at t1 < t2, the
// maximum observed timestamp and its id are what the caller would use to
// advance the watermark.
func TestPollAgent_WatermarkAdvancesToMaxTimestamp(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	conn := &fakeLogConn{result: discovery.ExecResult{
		Columns: []string{"query_text", "ts", "id"},
		Rows: [][]any{
			{"q1", t1, "1"},
			{"q2", t2, "2"},
		},
	}}
	cfg := testCfg(time.Time{})
	cfg.SQLColumn = ""
	cfg.StatusColumn = ""
	cfg.ErrorColumn = ""

	rows, err := readQueryLogRows(context.Background(), conn, cfg, 100)
	require.NoError(t, err)

	maxSeen := cfg.LastSeenTimestamp
	var lastSeenID *string
	for _, r := range rows {
		if r.timestamp.After(maxSeen) {
			maxSeen = r.timestamp
			lastSeenID = r.idPtr
		}
	}
	assert.True(t, maxSeen.Equal(t2))
	require.NotNil(t, lastSeenID)
	assert.Equal(t, "2", *lastSeenID)
}
