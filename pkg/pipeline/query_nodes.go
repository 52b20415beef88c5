package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/queryhive/queryhive/pkg/llm"
	"github.com/queryhive/queryhive/pkg/models"
	"github.com/queryhive/queryhive/pkg/registry"
)

// ProcessInitialContext asks the model to narrow the schema context to what
// the question needs. Soft and gated by the agent's processing flag.
type ProcessInitialContext struct {
	LLM    llm.Client
	Logger *slog.Logger
}

func (ProcessInitialContext) Name() string { return "process_initial_context" }

func (n ProcessInitialContext) Run(ctx context.Context, state *State) Outcome {
	if state.FromCache || !state.Agent.ProcessingEnabled {
		return Skip()
	}
	prompt := fmt.Sprintf("SCHEMA:\n%s\nQUESTION: %s", state.SchemaContext, state.Question)
	analysis, err := n.LLM.Complete(ctx, state.Agent.ModelID, contextSystemPrompt, prompt)
	if err != nil {
		n.Logger.Warn("context analysis failed, continuing without it", "run_id", state.RunID, "error", err)
		return Skip()
	}
	state.SchemaContext = state.SchemaContext + "\nANALYSIS:\n" + analysis
	return Continue()
}

// ProcessQuery generates SQL, executes the first candidate the target
// accepts, and records the result. Fatal: a run without an executed query
// has no answer.
type ProcessQuery struct {
	Registry *registry.Registry
	LLM      llm.Client
	Logger   *slog.Logger
}

func (ProcessQuery) Name() string { return "process_query" }

func (n ProcessQuery) Run(ctx context.Context, state *State) Outcome {
	if state.FromCache {
		return Skip()
	}
	eng, err := resolveEngine(n.Registry, state)
	if err != nil {
		return Fail(models.ErrKindInternal, err)
	}

	response, err := n.LLM.Complete(ctx, state.Agent.ModelID,
		querySystemPrompt(state.ConnectionKind, state.Agent.TopK),
		queryUserPrompt(state))
	if err != nil {
		return Fail(models.ErrKindModel, err)
	}

	candidates := extractSQLCandidates(response)
	if len(candidates) == 0 {
		return Fail(models.ErrKindModel, errors.New("model response contains no usable SQL"))
	}
	state.RawAnswer = stripSQL(response)

	var lastErr error
	for _, candidate := range candidates {
		start := time.Now()
		rs, execErr := eng.Execute(ctx, candidate, state.Agent.TopK)
		if execErr != nil {
			lastErr = execErr
			n.Logger.Debug("candidate query rejected", "run_id", state.RunID, "error", execErr)
			continue
		}
		state.SQLQuery = candidate
		state.ResultText = rs.Render()
		state.ExecutionMS = time.Since(start).Milliseconds()
		state.ResultRowsCount = len(rs.Rows)
		return Continue()
	}
	return Fail(models.ErrKindQuery, fmt.Errorf("no candidate query executed: %w", lastErr))
}

// RefineResponse rewrites the draft narrative against the actual result.
// Soft and gated by the agent's refinement flag.
type RefineResponse struct {
	LLM    llm.Client
	Logger *slog.Logger
}

func (RefineResponse) Name() string { return "refine_response" }

func (n RefineResponse) Run(ctx context.Context, state *State) Outcome {
	if state.FromCache || !state.Agent.RefinementEnabled {
		return Skip()
	}
	refined, err := n.LLM.Complete(ctx, state.Agent.ModelID, refineSystemPrompt, refineUserPrompt(state))
	if err != nil {
		n.Logger.Warn("refinement failed, keeping draft answer", "run_id", state.RunID, "error", err)
		return Skip()
	}
	state.RawAnswer = refined
	return Continue()
}

// FormatResponse assembles the final answer deterministically so the UI can
// rely on its shape: narrative, fenced SQL, then execution markers.
type FormatResponse struct{}

func (FormatResponse) Name() string { return "format_response" }

func (FormatResponse) Run(_ context.Context, state *State) Outcome {
	if state.FromCache {
		return Skip()
	}
	narrative := state.RawAnswer
	if narrative == "" {
		narrative = "Here is the result of your query."
	}

	var b []byte
	b = append(b, narrative...)
	b = append(b, "\n\n```sql\n"...)
	b = append(b, state.SQLQuery...)
	b = append(b, "\n```\n\n"...)
	b = append(b, fmt.Sprintf("Execution time: %d ms\nRows returned: %d\n", state.ExecutionMS, state.ResultRowsCount)...)

	state.FormattedResponse = string(b)
	return Continue()
}
