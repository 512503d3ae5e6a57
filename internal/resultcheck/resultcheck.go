// Package resultcheck executes candidate (and, when needed, reference) SQL
// and scores how closely the results agree — the result validator.
package resultcheck

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/sqlsentry/internal/discovery"
	"github.com/ashita-ai/sqlsentry/internal/model"
)

const (
	statementTimeout = 10 * time.Second
	rowCap           = 10000
	numericEpsilon   = 1e-4
)

// Comparison is the result-validator verdict, one per evaluated query.
type Comparison struct {
	Score            float64
	Confidence       float64
	ExecutionSuccess bool
	SchemaMatch      bool
	RowCountMatch    bool
	ContentMatchRate float64
	CandidateTimeMs  int64
	ReferenceTimeMs  int64
}

// hasOuterOrderBy reports whether sqlText contains an ORDER BY outside any
// parenthesized subquery — the comparator only needs to know whether order
// is meaningful, not parse it precisely.
func hasOuterOrderBy(sqlText string) bool {
	depth := 0
	upper := strings.ToUpper(sqlText)
	idx := strings.Index(upper, "ORDER BY")
	for idx >= 0 {
		depth = parenDepthAt(sqlText, idx)
		if depth == 0 {
			return true
		}
		rest := upper[idx+8:]
		next := strings.Index(rest, "ORDER BY")
		if next < 0 {
			break
		}
		idx = idx + 8 + next
	}
	return false
}

func parenDepthAt(s string, pos int) int {
	depth := 0
	for i := 0; i < pos && i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	return depth
}

// Compare scores how closely two result sets agree.
func Compare(candCols []string, candRows [][]any, candSQL string, refCols []string, refRows [][]any, refSQL string) Comparison {
	schemaMatch := sameColumnSet(candCols, refCols)
	if !schemaMatch {
		return Comparison{SchemaMatch: false, ExecutionSuccess: true, Score: 0.1}
	}

	if len(candRows) == 0 && len(refRows) == 0 {
		return Comparison{SchemaMatch: true, RowCountMatch: true, ContentMatchRate: 1.0, Score: 1.0, ExecutionSuccess: true, Confidence: 1.0}
	}

	rowCountMatch := len(candRows) == len(refRows)

	ordered := hasOuterOrderBy(candSQL) || hasOuterOrderBy(refSQL)
	candOrdered := candRows
	refOrdered := refRows
	if !ordered {
		candOrdered = canonicalSort(candCols, candRows)
		refOrdered = canonicalSort(refCols, refRows)
	}

	matchRate := contentMatchRate(candOrdered, refOrdered)

	score := matchRate
	switch {
	case matchRate >= 0.99:
		score = 1.0
	case matchRate >= 0.95:
		score = 0.95
	case matchRate >= 0.80:
		score = 0.80
	}
	if !rowCountMatch && score > 0.3 {
		score = 0.3
	}

	return Comparison{
		Score:            score,
		Confidence:       matchRate,
		ExecutionSuccess: true,
		SchemaMatch:      true,
		RowCountMatch:    rowCountMatch,
		ContentMatchRate: matchRate,
	}
}

func sameColumnSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	norm := func(cols []string) map[string]int {
		m := make(map[string]int, len(cols))
		for _, c := range cols {
			m[strings.ToLower(strings.TrimSpace(c))]++
		}
		return m
	}
	ma, mb := norm(a), norm(b)
	if len(ma) != len(mb) {
		return false
	}
	for k, v := range ma {
		if mb[k] != v {
			return false
		}
	}
	return true
}

func canonicalSort(cols []string, rows [][]any) [][]any {
	out := make([][]any, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool {
		return rowKey(out[i]) < rowKey(out[j])
	})
	return out
}

func rowKey(row []any) string {
	var b strings.Builder
	for _, v := range row {
		b.WriteString(canonicalValueString(v))
		b.WriteByte('\x1f')
	}
	return b.String()
}

// canonicalValueString normalizes a value for equality/sort comparisons:
// numerics within ε, temporals in ISO form, strings trimmed, NULL distinct
// from everything (including the empty string).
func canonicalValueString(v any) string {
	if v == nil {
		return "\x00NULL"
	}
	switch t := v.(type) {
	case string:
		if ts, ok := parseTimeString(t); ok {
			return "T:" + ts.UTC().Format(time.RFC3339Nano)
		}
		return "S:" + strings.TrimSpace(t)
	case float32:
		return "N:" + formatEpsilon(float64(t))
	case float64:
		return "N:" + formatEpsilon(t)
	case int, int32, int64:
		return "N:" + formatEpsilon(toFloat64(t))
	case bool:
		return "B:" + strconv.FormatBool(t)
	case time.Time:
		return "T:" + t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("O:%v", t)
	}
}

func toFloat64(v any) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	}
	return 0
}

// formatEpsilon quantizes a float to the comparator's tolerance so two
// values within ε=1e-4 of each other produce the same canonical string.
func formatEpsilon(f float64) string {
	quantized := math.Round(f/numericEpsilon) * numericEpsilon
	return strconv.FormatFloat(quantized, 'f', 8, 64)
}

func parseTimeString(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func contentMatchRate(a, b [][]any) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	total := len(a)
	if len(b) > total {
		total = len(b)
	}
	matched := 0
	for i := 0; i < n; i++ {
		if rowKey(a[i]) == rowKey(b[i]) {
			matched++
		}
	}
	return float64(matched) / float64(total)
}

// ExecuteAndCompareAgainstExpected runs candSQL against conn and compares it
// to a stored ExpectedOutput, used when the matched ground-truth record
// already carries captured results.
func ExecuteAndCompareAgainstExpected(ctx context.Context, conn discovery.Connector, candSQL string, expected model.ExpectedOutput) (Comparison, error) {
	start := time.Now()
	result, err := conn.Execute(ctx, candSQL, statementTimeout, rowCap)
	candTimeMs := time.Since(start).Milliseconds()
	if err != nil {
		return Comparison{ExecutionSuccess: false}, fmt.Errorf("resultcheck: execute candidate: %w", err)
	}

	cmp := Compare(result.Columns, result.Rows, candSQL, expected.Columns, expected.SampleRows, "")
	cmp.CandidateTimeMs = candTimeMs
	cmp.ReferenceTimeMs = expected.ExecutionTimeMs
	return cmp, nil
}

// ExecuteAndCompareBoth runs both candSQL and refSQL against conn and
// compares their results, used when no stored expected output exists.
func ExecuteAndCompareBoth(ctx context.Context, conn discovery.Connector, candSQL, refSQL string) (Comparison, error) {
	candStart := time.Now()
	candResult, err := conn.Execute(ctx, candSQL, statementTimeout, rowCap)
	candTimeMs := time.Since(candStart).Milliseconds()
	if err != nil {
		return Comparison{ExecutionSuccess: false}, fmt.Errorf("resultcheck: execute candidate: %w", err)
	}

	refStart := time.Now()
	refResult, err := conn.Execute(ctx, refSQL, statementTimeout, rowCap)
	refTimeMs := time.Since(refStart).Milliseconds()
	if err != nil {
		return Comparison{ExecutionSuccess: false}, fmt.Errorf("resultcheck: execute reference: %w", err)
	}

	cmp := Compare(candResult.Columns, candResult.Rows, candSQL, refResult.Columns, refResult.Rows, refSQL)
	cmp.CandidateTimeMs = candTimeMs
	cmp.ReferenceTimeMs = refTimeMs
	return cmp, nil
}
