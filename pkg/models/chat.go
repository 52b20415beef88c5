package models

import "time"

// ChatSessionStatus is the lifecycle state of a chat session.
type ChatSessionStatus string

const (
	ChatSessionActive   ChatSessionStatus = "active"
	ChatSessionArchived ChatSessionStatus = "archived"
)

// ChatSession is an ordered, persistent conversation between a user and one agent.
type ChatSession struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	AgentID        string            `json:"agent_id"`
	Title          string            `json:"title"`
	Status         ChatSessionStatus `json:"status"`
	TotalMessages  int               `json:"total_messages"`
	ContextSummary string            `json:"context_summary,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivity   time.Time         `json:"last_activity"`
}

// MessageRole identifies the author of a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is a single entry in a chat session. SequenceOrder is dense and
// strictly increasing per session, starting at 1.
type Message struct {
	ID            string         `json:"id"`
	ChatSessionID string         `json:"chat_session_id"`
	RunID         *string        `json:"run_id,omitempty"`
	Role          MessageRole    `json:"role"`
	Content       string         `json:"content"`
	SQLQuery      string         `json:"sql_query,omitempty"`
	SequenceOrder int            `json:"sequence_order"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ScoredMessage is a message annotated with a retrieval relevance score.
// Source records which retrieval path produced it.
type ScoredMessage struct {
	Message
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// Retrieval sources, in descending default priority.
const (
	SourceLastInteraction = "last_interaction"
	SourceRecentSession   = "recent_session"
	SourceSemantic        = "semantic_search"
	SourceLexical         = "lexical_search"
)

// MessageEmbedding is the stored vector for one message. Absence is permitted;
// retrieval falls back to lexical search.
type MessageEmbedding struct {
	ID           string    `json:"id"`
	MessageID    string    `json:"message_id"`
	Vector       []float32 `json:"-"`
	ModelVersion string    `json:"model_version"`
	CreatedAt    time.Time `json:"created_at"`
}
