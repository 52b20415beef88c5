// Package validation scores finished answers with a secondary model, so
// answer quality can be audited independently of the agent that produced it.
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/queryhive/queryhive/pkg/llm"
	"github.com/queryhive/queryhive/pkg/models"
)

const judgeSystemPrompt = `You are a strict evaluator of answers to database questions.
Given a question, the SQL that was executed, and the final answer, judge whether
the answer actually addresses the question and is consistent with the SQL.
Respond with JSON only: {"score": <0-10>, "verdict": "pass"|"fail", "reasoning": "<one sentence>"}.
A score of 7 or above is a pass.`

// Verdict is the judge's assessment of one answer.
type Verdict struct {
	RunID     string  `json:"run_id,omitempty"`
	Score     float64 `json:"score"`
	Verdict   string  `json:"verdict"`
	Reasoning string  `json:"reasoning"`
}

// Passed reports whether the verdict is a pass.
func (v *Verdict) Passed() bool { return v.Verdict == "pass" }

// Judge scores answers with a dedicated model.
type Judge struct {
	llm    llm.Client
	model  string
	logger *slog.Logger
}

// NewJudge creates a judge using the given model.
func NewJudge(client llm.Client, model string, logger *slog.Logger) *Judge {
	return &Judge{llm: client, model: model, logger: logger.With("component", "judge")}
}

// Score evaluates one answer.
func (j *Judge) Score(ctx context.Context, question, sqlQuery, answer string) (*Verdict, error) {
	var b strings.Builder
	b.WriteString("QUESTION: ")
	b.WriteString(question)
	if sqlQuery != "" {
		b.WriteString("\nSQL:\n")
		b.WriteString(sqlQuery)
	}
	b.WriteString("\nANSWER:\n")
	b.WriteString(answer)

	response, err := j.llm.Complete(ctx, j.model, judgeSystemPrompt, b.String())
	if err != nil {
		return nil, fmt.Errorf("judge completion: %w", err)
	}
	return parseVerdict(response)
}

// ScoreRun evaluates a finished successful run.
func (j *Judge) ScoreRun(ctx context.Context, run *models.Run) (*Verdict, error) {
	if run.Status != models.RunStatusSuccess || run.Result == nil {
		return nil, fmt.Errorf("run %s is not a successful run", run.ID)
	}
	v, err := j.Score(ctx, run.Question, run.Result.SQLQuery, run.Result.FormattedResponse)
	if err != nil {
		return nil, err
	}
	v.RunID = run.ID
	return v, nil
}

// ScoreBatch evaluates several runs, skipping ones the judge cannot score.
func (j *Judge) ScoreBatch(ctx context.Context, runs []*models.Run) []Verdict {
	verdicts := make([]Verdict, 0, len(runs))
	for _, run := range runs {
		if ctx.Err() != nil {
			break
		}
		v, err := j.ScoreRun(ctx, run)
		if err != nil {
			j.logger.Warn("skipping run in judge batch", "run_id", run.ID, "error", err)
			continue
		}
		verdicts = append(verdicts, *v)
	}
	return verdicts
}

var jsonFenceReplacer = strings.NewReplacer("```json", "", "```", "")

// parseVerdict extracts the JSON verdict, tolerating code fences around it.
func parseVerdict(response string) (*Verdict, error) {
	cleaned := strings.TrimSpace(jsonFenceReplacer.Replace(response))
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("judge returned no JSON: %q", response)
	}

	var v Verdict
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("decoding judge verdict: %w", err)
	}
	if v.Score < 0 || v.Score > 10 {
		return nil, fmt.Errorf("judge score %v out of range", v.Score)
	}
	if v.Verdict != "pass" && v.Verdict != "fail" {
		// Derive from the score when the model forgot the field.
		if v.Score >= 7 {
			v.Verdict = "pass"
		} else {
			v.Verdict = "fail"
		}
	}
	return &v, nil
}
