package errorclass

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/sqlsentry/internal/model"
)

func TestClassify_UndefinedTable(t *testing.T) {
	c := Classify(`relation "nonexistent" does not exist`)
	assert.Equal(t, model.ErrorContextRetrieval, c.Category)
	assert.Equal(t, "undefined_table", c.Subcategory)
	assert.Equal(t, model.SeverityMedium, c.Severity)
}

func TestClassify_SyntaxErrorTakesPrecedenceOverLaterRules(t *testing.T) {
	c := Classify(`syntax error at or near "FROM"`)
	assert.Equal(t, model.ErrorSQLGeneration, c.Category)
	assert.Equal(t, "syntax_error", c.Subcategory)
	assert.Equal(t, model.SeverityHigh, c.Severity)
}

func TestClassify_ConnectionRefusedIsCritical(t *testing.T) {
	c := Classify("dial tcp: connection refused")
	assert.Equal(t, model.ErrorIntegration, c.Category)
	assert.Equal(t, model.SeverityCritical, c.Severity)
}

func TestClassify_UnknownErrorFallsThrough(t *testing.T) {
	c := Classify("the agent encountered a problem nobody has seen before")
	assert.Equal(t, model.ErrorUnknown, c.Category)
	assert.Equal(t, "unclassified", c.Subcategory)
}

func TestClassify_EmptyMessageIsUnknown(t *testing.T) {
	c := Classify("   ")
	assert.Equal(t, model.ErrorUnknown, c.Category)
	assert.Equal(t, "empty_error", c.Subcategory)
}

func TestClassify_CaseInsensitive(t *testing.T) {
	c := Classify(`SYNTAX ERROR near "SELECT"`)
	assert.Equal(t, "syntax_error", c.Subcategory)
}

func TestClassify_AllMandatoryCategoriesReachable(t *testing.T) {
	cases := map[string]model.ErrorCategory{
		"syntax error near x":               model.ErrorSQLGeneration,
		"relation foo does not exist":        model.ErrorContextRetrieval,
		"permission denied for table foo":    model.ErrorIntegration,
		"null value violates not-null":       model.ErrorDataError,
		"ambiguous column reference id":      model.ErrorAgentLogic,
		"a completely novel failure message": model.ErrorUnknown,
	}
	for msg, want := range cases {
		assert.Equal(t, want, Classify(msg).Category, msg)
	}
}
