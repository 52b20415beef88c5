package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/queryhive/queryhive/pkg/cache"
	"github.com/queryhive/queryhive/pkg/history"
	"github.com/queryhive/queryhive/pkg/models"
)

// HistoryService is the slice of chat memory the pipeline uses.
// *history.Service satisfies it.
type HistoryService interface {
	Recent(ctx context.Context, sessionID string) []models.Message
	Relevant(ctx context.Context, userID, agentID, sessionID, question string) []models.ScoredMessage
	Capture(ctx context.Context, sessionID string, runID *string, question, answer, sqlQuery string) error
}

var _ HistoryService = (*history.Service)(nil)

// HistoryRetrieve loads conversation memory into the state. Soft: a memory
// failure costs context, never the run.
type HistoryRetrieve struct {
	History HistoryService
}

func (HistoryRetrieve) Name() string { return "history_retrieve" }

func (n HistoryRetrieve) Run(ctx context.Context, state *State) Outcome {
	if state.FromCache || n.History == nil {
		return Skip()
	}
	var sessionID string
	if state.ChatSessionID != nil {
		sessionID = *state.ChatSessionID
	}
	recent := n.History.Recent(ctx, sessionID)
	similar := n.History.Relevant(ctx, state.OwnerUserID, state.Agent.ID, sessionID, state.Question)
	state.HistoryBlock = history.Render(recent, similar)
	if state.HistoryBlock == "" {
		return Skip()
	}
	return Continue()
}

// HistoryCapture appends the finished interaction to the session. Runs on
// cache hits too, so replayed answers still extend the conversation. Soft.
type HistoryCapture struct {
	History HistoryService
	Logger  *slog.Logger
}

func (HistoryCapture) Name() string { return "history_capture" }

func (n HistoryCapture) Run(ctx context.Context, state *State) Outcome {
	if n.History == nil || state.ChatSessionID == nil || state.FormattedResponse == "" {
		return Skip()
	}
	runID := state.RunID
	err := n.History.Capture(ctx, *state.ChatSessionID, &runID, state.Question, state.FormattedResponse, state.SQLQuery)
	if err != nil {
		n.Logger.Warn("history capture failed", "run_id", state.RunID, "error", err)
		return Skip()
	}
	return Continue()
}

// CacheStore records the finished answer under the schema snapshot it was
// produced against. Soft; replayed answers are not re-stored.
type CacheStore struct {
	Cache *cache.Manager
}

func (CacheStore) Name() string { return "cache_store" }

func (n CacheStore) Run(_ context.Context, state *State) Outcome {
	if n.Cache == nil || state.FromCache || state.FormattedResponse == "" {
		return Skip()
	}
	fp := cache.Fingerprint(state.Question, state.Agent.ID, state.SchemaVersion)
	n.Cache.Store(state.Agent.ID, state.SchemaVersion, fp, cache.Answer{
		FormattedResponse: state.FormattedResponse,
		SQLQuery:          state.SQLQuery,
		CreatedAt:         time.Now(),
	})
	return Continue()
}
