// Package evaluator implements the two-path evaluation procedure: a
// weighted composite against a matched ground-truth query when one exists,
// otherwise a four-layer heuristic with a drift veto. It never branches by
// Go error for an evaluation outcome — the result is a tagged struct the
// caller persists uniformly.
package evaluator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/sqlsentry/internal/discovery"
	"github.com/ashita-ai/sqlsentry/internal/embedding"
	"github.com/ashita-ai/sqlsentry/internal/intent"
	"github.com/ashita-ai/sqlsentry/internal/judge"
	"github.com/ashita-ai/sqlsentry/internal/matcher"
	"github.com/ashita-ai/sqlsentry/internal/model"
	"github.com/ashita-ai/sqlsentry/internal/pattern"
	"github.com/ashita-ai/sqlsentry/internal/resultcheck"
	"github.com/ashita-ai/sqlsentry/internal/semanticsql"
	"github.com/ashita-ai/sqlsentry/internal/sqlvalidate"
)

// Path identifies which evaluation procedure produced a Result.
type Path string

const (
	PathA              Path = "path_a"         // ground truth found
	PathB              Path = "path_b"         // heuristic, no ground truth
	PathStructuralFail Path = "structural_fail" // preprocessing rejected the SQL outright
)

const outputValidationTimeout = 10 * time.Second

// Result is the discriminated outcome of one evaluation: Go errors
// are reserved for infrastructure failure, never for an evaluation verdict.
type Result struct {
	Path Path
	Eval model.Evaluation

	// ClassifiableErrorText is set only on PathStructuralFail when the
	// structural validator flagged a classifiable error (syntax, undefined
	// table, undefined column). The pipeline's error-classification stage
	// consumes it; the evaluator itself never writes error records.
	ClassifiableErrorText string
}

// Evaluator runs the two-path procedure for one agent's evaluable queries.
type Evaluator struct {
	validator     *sqlvalidate.Validator
	embedder      embedding.Provider
	registry      *matcher.Registry
	sqlJudge      *judge.SQLJudge
	outputJudge   *judge.OutputJudge
	evalThreshold float64
	// opener defaults to discovery.Open; tests substitute a fake connector
	// so path A/B scoring logic can run without a live agent database.
	opener func(ctx context.Context, dbURL string) (discovery.Connector, error)
}

// New builds an Evaluator. driftQuality for path B is supplied per call by
// the pipeline, which already computed it in its drift stage — the
// evaluator never re-runs drift detection itself.
func New(validator *sqlvalidate.Validator, embedder embedding.Provider, registry *matcher.Registry, sqlJudge *judge.SQLJudge, outputJudge *judge.OutputJudge, evalThreshold float64) *Evaluator {
	return &Evaluator{
		validator:     validator,
		embedder:      embedder,
		registry:      registry,
		sqlJudge:      sqlJudge,
		outputJudge:   outputJudge,
		evalThreshold: evalThreshold,
		opener:        discovery.Open,
	}
}

// driftQuality, when non-nil, is the 1-drift_score value already computed
// by the pipeline's drift stage for this same event; path B reuses it
// instead of recomputing.
func (e *Evaluator) Evaluate(ctx context.Context, agent model.Agent, query model.Query, driftQuality *float64) (Result, error) {
	if query.GeneratedSQL == nil {
		return Result{}, fmt.Errorf("evaluator: query %s has no generated_sql", query.QueryID)
	}
	sqlText := stripFences(*query.GeneratedSQL)

	conn, err := e.opener(ctx, agent.DBURL)
	if err != nil {
		return Result{}, fmt.Errorf("evaluator: open agent db: %w", err)
	}
	defer func() { _ = conn.Close() }()

	structResult, err := e.validator.Validate(ctx, agent.AgentID, agent.DBURL, conn, sqlText)
	if err != nil {
		return Result{}, fmt.Errorf("evaluator: structural validate: %w", err)
	}
	if !structResult.Valid && structResult.RequiresClassification {
		return Result{
			Path: PathStructuralFail,
			Eval: model.Evaluation{
				QueryID:         query.QueryID,
				StructuralScore: 0,
				FinalScore:      0,
				Confidence:      1.0,
				Result:          model.EvalFail,
				Reasoning:       fmt.Sprintf("structural validation rejected the SQL: %s", structResult.ErrorMessage),
				EvaluationData:  map[string]any{"structural_error_type": string(structResult.ErrorType)},
				CreatedAt:       time.Now().UTC(),
			},
			ClassifiableErrorText: structResult.ErrorMessage,
		}, nil
	}

	match, found, err := e.registry.Lookup(ctx, e.embedder, agent.AgentName, query.QueryText)
	if err != nil {
		return Result{}, fmt.Errorf("evaluator: ground-truth lookup: %w", err)
	}
	if found {
		return e.evaluatePathA(ctx, agent, query, sqlText, conn, structResult, match)
	}
	return e.evaluatePathB(ctx, agent, query, sqlText, conn, structResult, driftQuality)
}

func (e *Evaluator) evaluatePathA(ctx context.Context, agent model.Agent, query model.Query, sqlText string, conn discovery.Connector, structResult sqlvalidate.Result, match matcher.Match) (Result, error) {
	semanticScore := semanticsql.Score(sqlText, match.Query.SQL)

	// Each path-A signal is independently failure-tolerant: a judge outage
	// scores 0 with zero confidence instead of aborting the evaluation.
	verdict, judgeErr := e.sqlJudge.Judge(ctx, query.QueryText, sqlText, match.Query.SQL, agent.AgentName)
	if judgeErr != nil {
		verdict = judge.Verdict{Reasoning: fmt.Sprintf("llm judge unavailable: %v", judgeErr)}
	}
	llmScore := verdict.Score()

	var cmp resultcheck.Comparison
	var resultParticipated bool
	var err error
	if match.Query.ExpectedOutput != nil {
		cmp, err = resultcheck.ExecuteAndCompareAgainstExpected(ctx, conn, sqlText, *match.Query.ExpectedOutput)
		resultParticipated = err == nil
	} else {
		cmp, err = resultcheck.ExecuteAndCompareBoth(ctx, conn, sqlText, match.Query.SQL)
		resultParticipated = err == nil
	}
	if err != nil {
		// Candidate or reference execution failed; fall back to the
		// without-result-validation weighting rather than aborting.
		resultParticipated = false
	}

	var final float64
	if resultParticipated {
		final = 0.40*structResult.Score + 0.15*semanticScore + 0.15*llmScore + 0.30*cmp.Score
	} else {
		final = 0.60*structResult.Score + 0.10*semanticScore + 0.30*llmScore
	}

	result := model.EvalFail
	if final >= e.evalThreshold {
		result = model.EvalPass
	}
	confidence := (verdict.Confidence + final) / 2

	data := map[string]any{
		"matched_local_id":    match.Query.LocalID,
		"matched_score":       match.Score,
		"semantic_score":      semanticScore,
		"llm_judge_pass":      verdict.Pass,
		"llm_judge_reasoning": verdict.Reasoning,
		"result_participated": resultParticipated,
	}
	if resultParticipated {
		data["result_comparison"] = map[string]any{
			"score":              cmp.Score,
			"confidence":         cmp.Confidence,
			"execution_success":  cmp.ExecutionSuccess,
			"schema_match":       cmp.SchemaMatch,
			"row_count_match":    cmp.RowCountMatch,
			"content_match_rate": cmp.ContentMatchRate,
			"candidate_time_ms":  cmp.CandidateTimeMs,
			"reference_time_ms":  cmp.ReferenceTimeMs,
		}
	}

	return Result{
		Path: PathA,
		Eval: model.Evaluation{
			QueryID:         query.QueryID,
			StructuralScore: structResult.Score,
			SemanticScore:   semanticScore,
			LLMScore:        llmScore,
			FinalScore:      final,
			Confidence:      confidence,
			Result:          result,
			Reasoning:       verdict.Reasoning,
			EvaluationData:  data,
			CreatedAt:       time.Now().UTC(),
		},
	}, nil
}

func (e *Evaluator) evaluatePathB(ctx context.Context, agent model.Agent, query model.Query, sqlText string, conn discovery.Connector, structResult sqlvalidate.Result, driftQuality *float64) (Result, error) {
	columns, err := conn.DiscoverColumns(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("evaluator: discover columns for intent scoring: %w", err)
	}

	intentScore := intent.Score(query.QueryText, sqlText, columns)
	patternScore := pattern.Score(sqlText)

	final := 0.45*structResult.Score + 0.30*intentScore + 0.25*patternScore
	result := model.EvalFail
	if final >= e.evalThreshold {
		result = model.EvalPass
	}
	reasoning := "heuristic evaluation: no ground-truth match found"

	dq := 1.0
	if driftQuality != nil {
		dq = *driftQuality
	}
	vetoed := dq < 0.1
	if vetoed {
		final = 0
		result = model.EvalFail
		reasoning = "drift veto: query judged irrelevant to the agent's expected distribution"
	}
	confidence := final

	data := map[string]any{
		"structural_score": structResult.Score,
		"intent_score":     intentScore,
		"pattern_score":    patternScore,
		"drift_quality":    dq,
		"drift_vetoed":     vetoed,
	}

	if agent.DBURL != "" && !vetoed {
		outputVerdict, outcome, execErr := e.runOutputValidation(ctx, conn, query.QueryText, sqlText)
		if execErr != nil {
			data["output_validation_error"] = execErr.Error()
		} else {
			data["output_validation"] = map[string]any{
				"correctness":  outputVerdict.Correctness,
				"completeness": outputVerdict.Completeness,
				"quality":      outputVerdict.Quality,
				"reasoning":    outputVerdict.Reasoning,
				"weighted":     outputVerdict.Weighted(),
				"summary":      outcome,
			}
		}
	}

	return Result{
		Path: PathB,
		Eval: model.Evaluation{
			QueryID:         query.QueryID,
			StructuralScore: structResult.Score,
			SemanticScore:   0,
			LLMScore:        0,
			FinalScore:      final,
			Confidence:      confidence,
			Result:          result,
			Reasoning:       reasoning,
			EvaluationData:  data,
			CreatedAt:       time.Now().UTC(),
		},
	}, nil
}

// runOutputValidation executes sqlText and asks the LLM output judge to
// score it against nlQuery. The verdict is attached to the evaluation
// data but never folded into the weighted score.
func (e *Evaluator) runOutputValidation(ctx context.Context, conn discovery.Connector, nlQuery, sqlText string) (judge.OutputVerdict, string, error) {
	result, err := conn.Execute(ctx, sqlText, outputValidationTimeout, 100)
	if err != nil {
		return judge.OutputVerdict{}, "", fmt.Errorf("evaluator: execute for output validation: %w", err)
	}
	summary := fmt.Sprintf("%d rows returned, columns: %s", result.RowCount, strings.Join(result.Columns, ", "))
	verdict, err := e.outputJudge.Judge(ctx, nlQuery, sqlText, summary)
	if err != nil {
		return judge.OutputVerdict{}, "", fmt.Errorf("evaluator: output judge: %w", err)
	}
	return verdict, summary, nil
}

// stripFences trims whitespace and a surrounding ```sql / ``` code fence
// agents sometimes wrap generated SQL in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(s[:nl])
		if strings.EqualFold(firstLine, "sql") || firstLine == "" {
			s = s[nl+1:]
		}
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
