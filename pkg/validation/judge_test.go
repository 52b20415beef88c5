package validation

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryhive/queryhive/pkg/models"
)

type fakeLLM struct {
	responses []string
	err       error
	calls     int
}

func (f *fakeLLM) Complete(_ context.Context, _, _, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	r := f.responses[f.calls%len(f.responses)]
	f.calls++
	return r, nil
}

func successfulRun(id string) *models.Run {
	return &models.Run{
		ID:       id,
		Question: "how many orders?",
		Status:   models.RunStatusSuccess,
		Result: &models.RunResult{
			FormattedResponse: "There are 42 orders.",
			SQLQuery:          "SELECT COUNT(*) FROM orders",
		},
	}
}

func TestJudge_Score(t *testing.T) {
	j := NewJudge(&fakeLLM{responses: []string{
		`{"score": 9, "verdict": "pass", "reasoning": "answer matches the query"}`,
	}}, "gpt-4o", slog.Default())

	v, err := j.Score(context.Background(), "how many orders?", "SELECT COUNT(*) FROM orders", "There are 42 orders.")
	require.NoError(t, err)
	assert.Equal(t, 9.0, v.Score)
	assert.True(t, v.Passed())
}

func TestJudge_ScoreRunRejectsFailures(t *testing.T) {
	j := NewJudge(&fakeLLM{}, "gpt-4o", slog.Default())

	_, err := j.ScoreRun(context.Background(), &models.Run{ID: "r", Status: models.RunStatusFailure})
	assert.Error(t, err)
}

func TestJudge_ScoreBatchSkipsErrors(t *testing.T) {
	j := NewJudge(&fakeLLM{responses: []string{
		`{"score": 8, "verdict": "pass", "reasoning": "ok"}`,
	}}, "gpt-4o", slog.Default())

	verdicts := j.ScoreBatch(context.Background(), []*models.Run{
		successfulRun("r1"),
		{ID: "r2", Status: models.RunStatusFailure},
		successfulRun("r3"),
	})
	require.Len(t, verdicts, 2)
	assert.Equal(t, "r1", verdicts[0].RunID)
	assert.Equal(t, "r3", verdicts[1].RunID)
}

func TestJudge_CompletionError(t *testing.T) {
	j := NewJudge(&fakeLLM{err: errors.New("down")}, "gpt-4o", slog.Default())

	_, err := j.Score(context.Background(), "q", "", "a")
	assert.Error(t, err)
}

func TestParseVerdict(t *testing.T) {
	t.Run("fenced json", func(t *testing.T) {
		v, err := parseVerdict("```json\n{\"score\": 3, \"verdict\": \"fail\", \"reasoning\": \"wrong table\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, 3.0, v.Score)
		assert.False(t, v.Passed())
	})

	t.Run("surrounding prose", func(t *testing.T) {
		v, err := parseVerdict("Sure: {\"score\": 7, \"verdict\": \"pass\", \"reasoning\": \"ok\"} hope that helps")
		require.NoError(t, err)
		assert.True(t, v.Passed())
	})

	t.Run("verdict derived from score", func(t *testing.T) {
		v, err := parseVerdict(`{"score": 8, "reasoning": "ok"}`)
		require.NoError(t, err)
		assert.True(t, v.Passed())
	})

	t.Run("score out of range", func(t *testing.T) {
		_, err := parseVerdict(`{"score": 42, "verdict": "pass"}`)
		assert.Error(t, err)
	})

	t.Run("no json", func(t *testing.T) {
		_, err := parseVerdict("I think it looks fine.")
		assert.Error(t, err)
	})
}
