package pipeline

import "github.com/queryhive/queryhive/pkg/models"

// State is the mutable bag threaded through the pipeline. Everything in it
// is JSON-serialisable; live resources are referenced by registry id, never
// held directly.
type State struct {
	RunID         string  `json:"run_id"`
	OwnerUserID   string  `json:"owner_user_id"`
	ChatSessionID *string `json:"chat_session_id,omitempty"`

	Agent          models.Agent          `json:"agent"`
	ConnectionKind models.ConnectionKind `json:"connection_kind"`
	SchemaVersion  string                `json:"schema_version"`

	// EngineRef resolves to an *engine.Handle through the object registry.
	EngineRef string `json:"engine_ref"`

	Question string `json:"question"`

	// Filled by the retrieval and context nodes.
	HistoryBlock  string `json:"history_block,omitempty"`
	SchemaContext string `json:"schema_context,omitempty"`

	// Filled by the query nodes.
	SQLQuery        string `json:"sql_query,omitempty"`
	ResultText      string `json:"result_text,omitempty"`
	ExecutionMS     int64  `json:"execution_ms,omitempty"`
	ResultRowsCount int    `json:"result_rows_count,omitempty"`

	// Filled by the answer nodes.
	RawAnswer         string `json:"raw_answer,omitempty"`
	FormattedResponse string `json:"formatted_response,omitempty"`
	FromCache         bool   `json:"from_cache"`
}

// Result converts the finished state into the run's stored result.
func (s *State) Result() *models.RunResult {
	r := &models.RunResult{
		FormattedResponse: s.FormattedResponse,
		SQLQuery:          s.SQLQuery,
		FromCache:         s.FromCache,
	}
	if !s.FromCache && s.SQLQuery != "" {
		ms := s.ExecutionMS
		rows := s.ResultRowsCount
		r.ExecutionMS = &ms
		r.ResultRowsCount = &rows
	}
	return r
}
