// Package judge wraps an LLM provider with the two prompted evaluators the
// evaluator depends on: the path-A SQL judge and the path-B output judge.
package judge

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashita-ai/sqlsentry/internal/llmsvc"
)

// Verdict is the parsed result of a judge call.
type Verdict struct {
	Pass       bool
	Confidence float64
	Reasoning  string
}

// Score returns 1.0 if the verdict passed, else 0.0.
func (v Verdict) Score() float64 {
	if v.Pass {
		return 1.0
	}
	return 0.0
}

var (
	verdictRe    = regexp.MustCompile(`(?im)^\s*VERDICT\s*:\s*(PASS|FAIL)\s*$`)
	confidenceRe = regexp.MustCompile(`(?im)^\s*CONFIDENCE\s*:\s*([0-9]*\.?[0-9]+)\s*$`)
	reasoningRe  = regexp.MustCompile(`(?ims)^\s*REASONING\s*:\s*(.+?)\s*$`)
)

// SQLJudge prompts the LLM to compare a candidate SQL statement against a
// reference, in the context of the originating natural-language query.
type SQLJudge struct {
	llm llmsvc.Provider
}

func NewSQLJudge(llm llmsvc.Provider) *SQLJudge {
	return &SQLJudge{llm: llm}
}

const sqlJudgeSystemPrompt = `You are a SQL correctness judge for a text-to-SQL observability platform.
Given a natural-language question, a candidate SQL query, and a trusted reference SQL query,
decide whether the candidate SQL answers the question equivalently to the reference.
Minor formatting, aliasing, or column-order differences do not matter; differences in
filtering, aggregation, or join logic do.
Respond with exactly three lines, no markdown, no extra commentary:
VERDICT: PASS or FAIL
CONFIDENCE: a number between 0 and 1
REASONING: one sentence`

// Judge compares candidateSQL against referenceSQL for nlQuery, scoped to
// agentType for prompt context only.
func (j *SQLJudge) Judge(ctx context.Context, nlQuery, candidateSQL, referenceSQL, agentType string) (Verdict, error) {
	user := fmt.Sprintf(
		"Agent type: %s\nNatural-language question: %s\nCandidate SQL:\n%s\nReference SQL:\n%s\n",
		agentType, nlQuery, candidateSQL, referenceSQL,
	)
	resp, err := j.llm.Complete(ctx, sqlJudgeSystemPrompt, user)
	if err != nil {
		return Verdict{}, fmt.Errorf("judge: sql judge complete: %w", err)
	}
	return parseVerdict(resp), nil
}

func parseVerdict(resp string) Verdict {
	v := Verdict{}
	if m := verdictRe.FindStringSubmatch(resp); m != nil {
		v.Pass = strings.EqualFold(m[1], "PASS")
	}
	if m := confidenceRe.FindStringSubmatch(resp); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			v.Confidence = clamp01(f)
		}
	}
	if m := reasoningRe.FindStringSubmatch(resp); m != nil {
		v.Reasoning = strings.TrimSpace(m[1])
	}
	return v
}

// OutputVerdict is the path-B output judge's structured score
// (correctness 0.5, completeness 0.3, quality 0.2), attached to the
// evaluation data but never folded into the final weighted score.
type OutputVerdict struct {
	Correctness  float64
	Completeness float64
	Quality      float64
	Reasoning    string
}

// Weighted combines the three sub-scores with their fixed weights.
func (o OutputVerdict) Weighted() float64 {
	return 0.5*o.Correctness + 0.3*o.Completeness + 0.2*o.Quality
}

// OutputJudge scores the executed result of a candidate SQL statement
// without a reference, used only when path B has agent-DB access.
type OutputJudge struct {
	llm llmsvc.Provider
}

func NewOutputJudge(llm llmsvc.Provider) *OutputJudge {
	return &OutputJudge{llm: llm}
}

const outputJudgeSystemPrompt = `You are scoring the output of a generated SQL query against the user's
natural-language question, with no reference query available.
Respond with exactly four lines, no markdown, no extra commentary:
CORRECTNESS: a number between 0 and 1 (does the result plausibly answer the question?)
COMPLETENESS: a number between 0 and 1 (does it cover everything asked?)
QUALITY: a number between 0 and 1 (is the query well-formed and efficient?)
REASONING: one sentence`

var (
	correctnessRe  = regexp.MustCompile(`(?im)^\s*CORRECTNESS\s*:\s*([0-9]*\.?[0-9]+)\s*$`)
	completenessRe = regexp.MustCompile(`(?im)^\s*COMPLETENESS\s*:\s*([0-9]*\.?[0-9]+)\s*$`)
	qualityRe      = regexp.MustCompile(`(?im)^\s*QUALITY\s*:\s*([0-9]*\.?[0-9]+)\s*$`)
)

// Judge scores the executed-result quality of sqlText for nlQuery, given a
// summary of what it returned.
func (j *OutputJudge) Judge(ctx context.Context, nlQuery, sqlText, resultSummary string) (OutputVerdict, error) {
	user := fmt.Sprintf("Natural-language question: %s\nSQL executed:\n%s\nResult summary:\n%s\n", nlQuery, sqlText, resultSummary)
	resp, err := j.llm.Complete(ctx, outputJudgeSystemPrompt, user)
	if err != nil {
		return OutputVerdict{}, fmt.Errorf("judge: output judge complete: %w", err)
	}

	out := OutputVerdict{}
	if m := correctnessRe.FindStringSubmatch(resp); m != nil {
		out.Correctness, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := completenessRe.FindStringSubmatch(resp); m != nil {
		out.Completeness, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := qualityRe.FindStringSubmatch(resp); m != nil {
		out.Quality, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := reasoningRe.FindStringSubmatch(resp); m != nil {
		out.Reasoning = strings.TrimSpace(m[1])
	}
	out.Correctness = clamp01(out.Correctness)
	out.Completeness = clamp01(out.Completeness)
	out.Quality = clamp01(out.Quality)
	return out, nil
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
