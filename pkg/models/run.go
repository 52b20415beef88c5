package models

import "time"

// RunStatus is the lifecycle state of an async query run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailure   RunStatus = "failure"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal runs never change
// state again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailure, RunStatusCancelled:
		return true
	}
	return false
}

// ErrorKind classifies a failed run so clients can distinguish user error
// from infrastructure error.
type ErrorKind string

const (
	ErrKindInvalidInput ErrorKind = "invalid_input"
	ErrKindConnect      ErrorKind = "connect_error"
	ErrKindSchema       ErrorKind = "schema_error"
	ErrKindQuery        ErrorKind = "query_error"
	ErrKindModel        ErrorKind = "model_error"
	ErrKindTimeout      ErrorKind = "timeout_error"
	ErrKindInternal     ErrorKind = "internal_error"
)

// Run is one asynchronous question-answering job against an agent.
type Run struct {
	ID            string     `json:"id"`
	OwnerUserID   string     `json:"owner_user_id"`
	AgentID       string     `json:"agent_id"`
	ChatSessionID *string    `json:"chat_session_id,omitempty"`
	Question      string     `json:"question"`
	Status        RunStatus  `json:"status"`
	Result        *RunResult `json:"result,omitempty"`
	ErrorKind     ErrorKind  `json:"error_kind,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	WorkerID      string     `json:"-"`
	Attempts      int        `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// RunResult is the successful output of a run.
type RunResult struct {
	FormattedResponse string `json:"formatted_response"`
	SQLQuery          string `json:"sql_query,omitempty"`
	ExecutionMS       *int64 `json:"execution_ms,omitempty"`
	ResultRowsCount   *int   `json:"result_rows_count,omitempty"`
	FromCache         bool   `json:"from_cache"`
}

// RunFilter narrows run listings. Zero values mean "no filter".
type RunFilter struct {
	AgentID       string
	ChatSessionID string
	Status        RunStatus
}
