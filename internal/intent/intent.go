// Package intent implements the path-B intent heuristic: it detects
// which query intents a natural-language request asks for, which intents
// the candidate SQL actually fulfills, and scores the overlap.
package intent

import (
	"regexp"
	"strings"

	"github.com/ashita-ai/sqlsentry/internal/discovery"
)

// Intent is one of the ten recognized request/fulfillment categories.
type Intent string

const (
	Filtering    Intent = "filtering"
	Summation    Intent = "summation"
	Aggregation  Intent = "aggregation"
	Maximization Intent = "maximization"
	Minimization Intent = "minimization"
	Grouping     Intent = "grouping"
	Sorting      Intent = "sorting"
	Limiting     Intent = "limiting"
	Joining      Intent = "joining"
	Calculation  Intent = "calculation"
)

// measureTypeRe matches numeric-ish SQL type names; a column discovered with
// one of these is treated as a measure (aggregation candidate) rather than a
// dimension for schema-gated phrase matching.
var measureTypeRe = regexp.MustCompile(`(?i)^(int|integer|bigint|smallint|numeric|decimal|real|double|float|money)`)

// dimensionTypeRe matches string-ish SQL type names; a column discovered
// with one of these is treated as a dimension (GROUP BY candidate).
var dimensionTypeRe = regexp.MustCompile(`(?i)(char|text|string|uuid|enum)`)

// comparisonContextRe recognizes a bare "column > 100"-shaped comparison,
// which signals filtering rather than
// aggregation, so aggregation-context gating backs off when this matches.
var comparisonContextRe = regexp.MustCompile(`(?i)\b\w+\s*[<>=]+\s*\d+|\b(greater|less|equal|above|below)\s+(than|to)\b`)

// aggKeywordIntents mirrors _has_aggregation_context's keyword→intent
// mapping: an aggregation keyword found shortly before a measure-column
// mention in the NL text requests the corresponding intent.
var aggKeywordIntents = []struct {
	intent   Intent
	keywords []string
}{
	{Summation, []string{"total", "sum", "count", "number of"}},
	{Aggregation, []string{"average", "mean", "avg"}},
	{Maximization, []string{"highest", "maximum", "max", "top", "most"}},
	{Minimization, []string{"lowest", "minimum", "min", "bottom", "least"}},
}

// aggregationContextWindow is how many characters before a measure-column
// mention are scanned for an aggregation keyword, per _has_aggregation_context.
const aggregationContextWindow = 30

// phrasePatterns maps each intent to the NL phrases that request it,
// ungated by schema. These are deliberately broad; false positives are
// cheap (an unfulfilled "requested" intent only costs a small penalty, see
// Score). Grouping's ambiguous "per"/"by" phrasing is deliberately excluded
// here — it is only requested when hasGroupingContext confirms a measure
// column precedes and a dimension column follows in the agent's schema;
// explicit grouping phrases still fire unconditionally.
var phrasePatterns = map[Intent][]string{
	Filtering:    {"where", "only", "that are", "with a", "whose", "filter"},
	Summation:    {"total", "sum of", "how much", "combined"},
	Aggregation:  {"how many", "count of", "number of", "average", "mean"},
	Maximization: {"highest", "most", "maximum", "best", "top", "largest"},
	Minimization: {"lowest", "least", "minimum", "worst", "smallest"},
	Grouping:     {"grouped by", "broken down by", "group by", "breakdown", "break down", "split by"},
	Sorting:      {"sorted", "ordered", "ranked", "in order"},
	Limiting:     {"top ", "first ", "limit to"},
	Joining:      {"along with", "together with", "and their", "with its"},
	Calculation:  {"percentage", "ratio", "difference between", "rate of"},
}

// Requested detects intents from natural-language text. Schema-agnostic
// phrase patterns fire unconditionally; measureColumns/dimensionColumns
// additionally gate grouping and aggregation-family detection so "X per Y"
// or "total X" only request those intents when X/Y are actually measure and
// dimension columns in the agent's own schema.
func Requested(nlText string, columns []discovery.Column) map[Intent]bool {
	lower := strings.ToLower(nlText)
	measures := measureColumns(columns)
	dimensions := dimensionColumns(columns)

	requested := make(map[Intent]bool)
	for in, phrases := range phrasePatterns {
		for _, p := range phrases {
			if strings.Contains(lower, p) {
				requested[in] = true
				break
			}
		}
	}

	if hasGroupingContext(lower, measures, dimensions) {
		requested[Grouping] = true
	}
	if !comparisonContextRe.MatchString(lower) {
		for in := range aggregationContext(lower, measures) {
			requested[in] = true
		}
	}

	return requested
}

func measureColumns(columns []discovery.Column) map[string]bool {
	out := make(map[string]bool)
	for _, c := range columns {
		if measureTypeRe.MatchString(c.DataType) {
			out[strings.ToLower(c.ColumnName)] = true
		}
	}
	return out
}

func dimensionColumns(columns []discovery.Column) map[string]bool {
	out := make(map[string]bool)
	for _, c := range columns {
		if !measureTypeRe.MatchString(c.DataType) && dimensionTypeRe.MatchString(c.DataType) {
			out[strings.ToLower(c.ColumnName)] = true
		}
	}
	return out
}

// hasGroupingContext mirrors _has_grouping_context: "<measure> per|by
// <dimension>" (e.g. "revenue per campaign", "clicks by category") implies
// grouping only when both sides name columns of the expected kind.
func hasGroupingContext(lower string, measures, dimensions map[string]bool) bool {
	if len(measures) == 0 || len(dimensions) == 0 {
		return false
	}
	words := strings.Fields(lower)
	for i, w := range words {
		if w != "per" && w != "by" {
			continue
		}
		if i == 0 || i >= len(words)-1 {
			continue
		}
		before := strings.Trim(words[i-1], ".,;:")
		after := strings.Trim(words[i+1], ".,;:")
		if measures[before] && dimensions[after] {
			return true
		}
	}
	return false
}

// aggregationContext mirrors _has_aggregation_context: for each measure
// column mentioned in the text, scan the preceding window for an
// aggregation keyword and request the matching intent.
func aggregationContext(lower string, measures map[string]bool) map[Intent]bool {
	out := map[Intent]bool{}
	if len(measures) == 0 {
		return out
	}
	for measure := range measures {
		idx := strings.Index(lower, measure)
		if idx < 0 {
			continue
		}
		start := idx - aggregationContextWindow
		if start < 0 {
			start = 0
		}
		context := lower[start:idx]
		for _, ki := range aggKeywordIntents {
			for _, kw := range ki.keywords {
				if strings.Contains(context, kw) {
					out[ki.intent] = true
					break
				}
			}
		}
	}
	return out
}

var (
	whereRe      = regexp.MustCompile(`(?i)\bWHERE\b`)
	sumRe        = regexp.MustCompile(`(?i)\bSUM\s*\(`)
	countAvgRe   = regexp.MustCompile(`(?i)\b(COUNT|AVG)\s*\(`)
	maxRe        = regexp.MustCompile(`(?i)\bMAX\s*\(`)
	minRe        = regexp.MustCompile(`(?i)\bMIN\s*\(`)
	groupByRe    = regexp.MustCompile(`(?i)\bGROUP BY\b`)
	orderDescRe  = regexp.MustCompile(`(?i)\bORDER BY\b.*\bDESC\b`)
	orderAscRe   = regexp.MustCompile(`(?i)\bORDER BY\b`)
	limitRe      = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
	joinRe       = regexp.MustCompile(`(?i)\bJOIN\b`)
	arithmeticRe = regexp.MustCompile(`[+\-*/]\s*\d|\d\s*[+\-*/]`)
)

// Fulfilled detects which intents the candidate SQL actually implements.
func Fulfilled(sqlText string) map[Intent]bool {
	f := make(map[Intent]bool)
	if whereRe.MatchString(sqlText) {
		f[Filtering] = true
	}
	if sumRe.MatchString(sqlText) {
		f[Summation] = true
	}
	if countAvgRe.MatchString(sqlText) {
		f[Aggregation] = true
	}
	if maxRe.MatchString(sqlText) {
		f[Maximization] = true
	}
	if minRe.MatchString(sqlText) {
		f[Minimization] = true
	}
	if groupByRe.MatchString(sqlText) {
		f[Grouping] = true
	}
	if orderAscRe.MatchString(sqlText) || orderDescRe.MatchString(sqlText) {
		f[Sorting] = true
	}
	if limitRe.MatchString(sqlText) {
		f[Limiting] = true
	}
	if joinRe.MatchString(sqlText) {
		f[Joining] = true
	}
	if arithmeticRe.MatchString(sqlText) {
		f[Calculation] = true
	}
	return f
}

// complexSQLMarkerRe is a rough proxy for "not simple SQL": it matches a
// JOIN, a GROUP BY, or a nested SELECT. WHERE conditions are not counted.
var complexSQLMarkerRe = regexp.MustCompile(`(?i)\bJOIN\b|\bGROUP BY\b|\(\s*SELECT\b`)

// Score computes the intent-match score for path B. columns is the
// agent's discovered schema, used only to build the measure- and
// dimension-column sets that Requested consults.
func Score(nlText, sqlText string, columns []discovery.Column) float64 {
	requested := Requested(nlText, columns)
	fulfilled := Fulfilled(sqlText)

	if len(requested) == 0 {
		if complexSQLMarkerRe.MatchString(sqlText) {
			return 0.8
		}
		return 1.0
	}

	var matched, missing int
	for in := range requested {
		if fulfilled[in] {
			matched++
		} else {
			missing++
		}
	}

	var unrequestedComplexity int
	for in := range fulfilled {
		if !requested[in] {
			unrequestedComplexity++
		}
	}

	score := float64(matched) / float64(len(requested))

	// Coverage bonus: every requested intent fulfilled.
	if missing == 0 {
		score += 0.05
	}
	// Column-aliasing / specific-column-list bonus: a deliberate SELECT list
	// (not '*') signals a more intent-faithful query.
	if !strings.Contains(strings.ToUpper(sqlText), "SELECT *") {
		score += 0.05
	}

	score -= float64(missing) * 0.20
	score -= float64(unrequestedComplexity) * 0.05

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
