package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/queryhive/queryhive/pkg/cache"
	"github.com/queryhive/queryhive/pkg/engine"
	"github.com/queryhive/queryhive/pkg/models"
	"github.com/queryhive/queryhive/pkg/registry"
)

// maxQuestionChars bounds submitted questions.
const maxQuestionChars = 4000

// sampleRowsPerTable is how many example rows each table contributes to the
// schema context.
const sampleRowsPerTable = 3

// Engine is the slice of the connection handle the pipeline needs.
// *engine.Handle satisfies it; tests substitute fakes.
type Engine interface {
	Dialect() models.ConnectionKind
	ListTables(ctx context.Context) ([]string, error)
	DescribeTables(ctx context.Context, tables []string, sampleRows int) (string, error)
	Execute(ctx context.Context, query string, limitRows int) (*engine.ResultSet, error)
}

// resolveEngine looks the state's engine reference up in the registry.
func resolveEngine(reg *registry.Registry, state *State) (Engine, error) {
	obj, err := reg.Get(registry.CategoryEngine, state.EngineRef)
	if err != nil {
		return nil, fmt.Errorf("engine ref %s: %w", state.EngineRef, err)
	}
	eng, ok := obj.(Engine)
	if !ok {
		return nil, fmt.Errorf("engine ref %s holds %T", state.EngineRef, obj)
	}
	return eng, nil
}

// ValidateInput rejects malformed submissions before any work happens.
type ValidateInput struct{}

func (ValidateInput) Name() string { return "validate_input" }

func (ValidateInput) Run(_ context.Context, state *State) Outcome {
	state.Question = strings.TrimSpace(state.Question)
	if state.Question == "" {
		return Fail(models.ErrKindInvalidInput, errors.New("question is empty"))
	}
	if len(state.Question) > maxQuestionChars {
		return Fail(models.ErrKindInvalidInput, fmt.Errorf("question exceeds %d characters", maxQuestionChars))
	}
	if state.Agent.SingleTableMode && state.Agent.SelectedTable == "" {
		return Fail(models.ErrKindInvalidInput, errors.New("single table mode requires a selected table"))
	}
	if state.Agent.TopK < 1 {
		state.Agent.TopK = 10
	}
	return Continue()
}

// CheckCache replays a previous answer when the question fingerprint matches
// one stored under the agent's current schema snapshot.
type CheckCache struct {
	Cache *cache.Manager
}

func (CheckCache) Name() string { return "check_cache" }

func (n CheckCache) Run(_ context.Context, state *State) Outcome {
	if n.Cache == nil {
		return Skip()
	}
	version := n.Cache.SchemaVersion(state.Agent.ID)
	if version == "" {
		return Skip()
	}
	fp := cache.Fingerprint(state.Question, state.Agent.ID, version)
	answer, ok := n.Cache.Get(state.Agent.ID, fp)
	if !ok {
		return Skip()
	}
	state.FromCache = true
	state.FormattedResponse = answer.FormattedResponse
	state.SQLQuery = answer.SQLQuery
	return Continue()
}

// PrepareContext builds the schema context for the model. Single-table agents
// describe only their selected table and never enumerate the catalog.
type PrepareContext struct {
	Registry *registry.Registry
}

func (PrepareContext) Name() string { return "prepare_context" }

func (n PrepareContext) Run(ctx context.Context, state *State) Outcome {
	if state.FromCache {
		return Skip()
	}
	eng, err := resolveEngine(n.Registry, state)
	if err != nil {
		return Fail(models.ErrKindInternal, err)
	}

	var tables []string
	if state.Agent.SingleTableMode {
		tables = []string{state.Agent.SelectedTable}
	} else {
		tables, err = eng.ListTables(ctx)
		if err != nil {
			return Fail(classifyEngineErr(err), err)
		}
		tables = filterTables(tables, state.Agent.IncludedTables)
	}
	if len(tables) == 0 {
		return Fail(models.ErrKindSchema, errors.New("no tables available for this agent"))
	}

	schema, err := eng.DescribeTables(ctx, tables, sampleRowsPerTable)
	if err != nil {
		return Fail(classifyEngineErr(err), err)
	}
	state.SchemaContext = schema
	return Continue()
}

func classifyEngineErr(err error) models.ErrorKind {
	if errors.Is(err, engine.ErrConnect) {
		return models.ErrKindConnect
	}
	return models.ErrKindSchema
}

// filterTables keeps only tables named in the comma-separated include list.
// An empty list or "*" keeps everything.
func filterTables(tables []string, included string) []string {
	included = strings.TrimSpace(included)
	if included == "" || included == "*" {
		return tables
	}
	want := make(map[string]bool)
	for _, t := range strings.Split(included, ",") {
		if t = strings.TrimSpace(t); t != "" {
			want[t] = true
		}
	}
	var out []string
	for _, t := range tables {
		if want[t] {
			out = append(out, t)
		}
	}
	return out
}
