package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/sqlsentry/internal/discovery"
	"github.com/ashita-ai/sqlsentry/internal/model"
)

const queryLogReadTimeout = 15 * time.Second

// queryLogRow is one harvested row from an agent's configured query-log
// table, already shaped for conversion into a telemetry model.Query.
type queryLogRow struct {
	queryText string
	sql       string
	status    model.QueryStatus
	errMsg    string
	timestamp time.Time
	idPtr     *string
}

// readQueryLogRows selects rows newer than cfg's watermark from the
// configured query-log table: rows with timestamp_column strictly past the
// watermark, ordered ascending, capped at limit. conn.Execute already
// enforces the read as a plain SELECT against the agent's own database.
func readQueryLogRows(ctx context.Context, conn discovery.Connector, cfg model.QueryLogConfig, limit int) ([]queryLogRow, error) {
	ctx, cancel := context.WithTimeout(ctx, queryLogReadTimeout)
	defer cancel()

	sqlText := buildQueryLogSelect(cfg, limit)
	result, err := conn.Execute(ctx, sqlText, queryLogReadTimeout, limit)
	if err != nil {
		return nil, fmt.Errorf("scheduler: execute query log select: %w", err)
	}

	colIdx := make(map[string]int, len(result.Columns))
	for i, c := range result.Columns {
		colIdx[c] = i
	}

	rows := make([]queryLogRow, 0, len(result.Rows))
	for _, raw := range result.Rows {
		row := queryLogRow{status: model.QueryStatusSuccess}

		if i, ok := colIdx[cfg.QueryTextColumn]; ok {
			row.queryText = stringValue(raw[i])
		}
		if cfg.SQLColumn != "" {
			if i, ok := colIdx[cfg.SQLColumn]; ok {
				row.sql = stringValue(raw[i])
			}
		}
		if cfg.StatusColumn != "" {
			if i, ok := colIdx[cfg.StatusColumn]; ok {
				if s := stringValue(raw[i]); s != "" {
					row.status = model.QueryStatus(s)
				}
			}
		}
		if cfg.ErrorColumn != "" {
			if i, ok := colIdx[cfg.ErrorColumn]; ok {
				row.errMsg = stringValue(raw[i])
			}
		}
		if i, ok := colIdx[cfg.TimestampColumn]; ok {
			ts, ok := timeValue(raw[i])
			if !ok {
				continue // unparseable timestamp: row can't be watermarked safely, skip it
			}
			row.timestamp = ts
		}
		if cfg.IDColumn != "" {
			if i, ok := colIdx[cfg.IDColumn]; ok {
				if s := stringValue(raw[i]); s != "" {
					row.idPtr = &s
				}
			}
		}

		rows = append(rows, row)
	}
	return rows, nil
}

// buildQueryLogSelect shapes the bounded, ascending-order watermark select.
// Column names come from QueryLogConfig, never user input.
func buildQueryLogSelect(cfg model.QueryLogConfig, limit int) string {
	cols := cfg.QueryTextColumn + ", " + cfg.TimestampColumn
	if cfg.SQLColumn != "" {
		cols += ", " + cfg.SQLColumn
	}
	if cfg.StatusColumn != "" {
		cols += ", " + cfg.StatusColumn
	}
	if cfg.ErrorColumn != "" {
		cols += ", " + cfg.ErrorColumn
	}
	if cfg.IDColumn != "" {
		cols += ", " + cfg.IDColumn
	}
	table := cfg.TableName
	if cfg.SchemaName != "" {
		table = cfg.SchemaName + "." + table
	}
	return fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s > '%s' ORDER BY %s ASC LIMIT %d",
		cols, table, cfg.TimestampColumn, cfg.LastSeenTimestamp.UTC().Format(time.RFC3339Nano), cfg.TimestampColumn, limit,
	)
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func timeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
