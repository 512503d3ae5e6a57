// Package errorclass maps a raw error string to the platform's fixed error
// taxonomy via an ordered list of keyword rules.
package errorclass

import (
	"strings"

	"github.com/ashita-ai/sqlsentry/internal/model"
)

// Classification is the outcome of classifying one error message.
type Classification struct {
	Category     model.ErrorCategory
	Subcategory  string
	Severity     model.ErrorSeverity
	SuggestedFix string
}

// rule is one ordered keyword -> classification mapping. Rules are
// evaluated in order; the first whose keywords all match wins.
type rule struct {
	keywords     []string
	category     model.ErrorCategory
	subcategory  string
	severity     model.ErrorSeverity
	suggestedFix string
}

// rules is deliberately ordered most-specific-first: a message matching an
// early rule (e.g. "syntax error" + "near") never falls through to a
// broader catch-all later in the list.
var rules = []rule{
	{
		keywords:     []string{"syntax error"},
		category:     model.ErrorSQLGeneration,
		subcategory:  "syntax_error",
		severity:     model.SeverityHigh,
		suggestedFix: "Review the generated SQL for malformed syntax near the reported token.",
	},
	{
		keywords:     []string{"does not exist", "relation"},
		category:     model.ErrorContextRetrieval,
		subcategory:  "undefined_table",
		severity:     model.SeverityMedium,
		suggestedFix: "Verify the agent's schema context includes this table; re-run discovery if it was recently added.",
	},
	{
		keywords:     []string{"no such table"},
		category:     model.ErrorContextRetrieval,
		subcategory:  "undefined_table",
		severity:     model.SeverityMedium,
		suggestedFix: "Verify the agent's schema context includes this table; re-run discovery if it was recently added.",
	},
	{
		keywords:     []string{"doesn't exist", "table"},
		category:     model.ErrorContextRetrieval,
		subcategory:  "undefined_table",
		severity:     model.SeverityMedium,
		suggestedFix: "Verify the agent's schema context includes this table; re-run discovery if it was recently added.",
	},
	{
		keywords:     []string{"does not exist", "column"},
		category:     model.ErrorContextRetrieval,
		subcategory:  "undefined_column",
		severity:     model.SeverityMedium,
		suggestedFix: "Verify the agent's schema context includes this column; re-run discovery if the schema changed.",
	},
	{
		keywords:     []string{"no such column"},
		category:     model.ErrorContextRetrieval,
		subcategory:  "undefined_column",
		severity:     model.SeverityMedium,
		suggestedFix: "Verify the agent's schema context includes this column; re-run discovery if the schema changed.",
	},
	{
		keywords:     []string{"unknown column"},
		category:     model.ErrorContextRetrieval,
		subcategory:  "undefined_column",
		severity:     model.SeverityMedium,
		suggestedFix: "Verify the agent's schema context includes this column; re-run discovery if the schema changed.",
	},
	{
		keywords:     []string{"permission denied"},
		category:     model.ErrorIntegration,
		subcategory:  "permission_denied",
		severity:     model.SeverityCritical,
		suggestedFix: "Check the agent DB credentials' grants for the referenced schema.",
	},
	{
		keywords:     []string{"timeout"},
		category:     model.ErrorIntegration,
		subcategory:  "statement_timeout",
		severity:     model.SeverityHigh,
		suggestedFix: "Query exceeded its statement timeout; check for a missing index or runaway join.",
	},
	{
		keywords:     []string{"connection refused"},
		category:     model.ErrorIntegration,
		subcategory:  "connection_refused",
		severity:     model.SeverityCritical,
		suggestedFix: "The agent's database is unreachable; verify db_url and network connectivity.",
	},
	{
		keywords:     []string{"connection reset"},
		category:     model.ErrorIntegration,
		subcategory:  "connection_reset",
		severity:     model.SeverityHigh,
		suggestedFix: "The agent's database connection was reset mid-query; check for connection pool exhaustion.",
	},
	{
		keywords:     []string{"division by zero"},
		category:     model.ErrorDataError,
		subcategory:  "division_by_zero",
		severity:     model.SeverityMedium,
		suggestedFix: "Guard the generated SQL against zero denominators (NULLIF or CASE).",
	},
	{
		keywords:     []string{"null value", "violates"},
		category:     model.ErrorDataError,
		subcategory:  "not_null_violation",
		severity:     model.SeverityMedium,
		suggestedFix: "The query assumes a non-null column that contains NULLs; add explicit NULL handling.",
	},
	{
		keywords:     []string{"duplicate key"},
		category:     model.ErrorDataError,
		subcategory:  "unique_violation",
		severity:     model.SeverityLow,
		suggestedFix: "Downstream write conflicted with an existing row; likely a non-idempotent retry.",
	},
	{
		keywords:     []string{"type mismatch"},
		category:     model.ErrorAgentLogic,
		subcategory:  "type_mismatch",
		severity:     model.SeverityMedium,
		suggestedFix: "The agent generated SQL comparing incompatible types; add an explicit cast.",
	},
	{
		keywords:     []string{"ambiguous"},
		category:     model.ErrorAgentLogic,
		subcategory:  "ambiguous_reference",
		severity:     model.SeverityLow,
		suggestedFix: "Qualify the ambiguous column reference with its table name or alias.",
	},
}

// Classify returns the taxonomy entry for errMsg. An empty errMsg or one
// matching no rule returns category UNKNOWN.
func Classify(errMsg string) Classification {
	if strings.TrimSpace(errMsg) == "" {
		return Classification{Category: model.ErrorUnknown, Subcategory: "empty_error", Severity: model.SeverityLow}
	}
	lower := strings.ToLower(errMsg)
	for _, r := range rules {
		if matchesAll(lower, r.keywords) {
			return Classification{
				Category:     r.category,
				Subcategory:  r.subcategory,
				Severity:     r.severity,
				SuggestedFix: r.suggestedFix,
			}
		}
	}
	return Classification{
		Category:     model.ErrorUnknown,
		Subcategory:  "unclassified",
		Severity:     model.SeverityLow,
		SuggestedFix: "No known rule matched this error; review manually.",
	}
}

func matchesAll(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if !strings.Contains(lower, kw) {
			return false
		}
	}
	return true
}
