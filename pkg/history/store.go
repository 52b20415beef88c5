// Package history implements chat memory: transactional capture of
// interaction pairs and hybrid retrieval (semantic with lexical fallback)
// over past messages.
package history

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/queryhive/queryhive/pkg/models"
)

// Store persists messages and embeddings. The pool is externally owned; the
// caller creates and closes it.
type Store struct {
	pool         *pgxpool.Pool
	modelVersion string
}

// NewStore creates a history store over an existing pool. modelVersion tags
// stored vectors with the embedding model that produced them.
func NewStore(pool *pgxpool.Pool, modelVersion string) *Store {
	return &Store{pool: pool, modelVersion: modelVersion}
}

// Capture appends a user/assistant message pair to a session in one
// transaction. The session row is locked so concurrent captures against the
// same session serialise and sequence_order stays dense. Returns the ids of
// the two inserted messages.
func (s *Store) Capture(ctx context.Context, sessionID string, runID *string, question, answer, sqlQuery string) (userID, assistantID string, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", "", fmt.Errorf("begin capture tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var total int
	err = tx.QueryRow(ctx,
		`SELECT total_messages FROM chat_sessions WHERE id = $1 FOR UPDATE`,
		sessionID).Scan(&total)
	if err != nil {
		return "", "", fmt.Errorf("lock session %s: %w", sessionID, err)
	}

	var next int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_order), 0) + 1 FROM messages WHERE chat_session_id = $1`,
		sessionID).Scan(&next)
	if err != nil {
		return "", "", fmt.Errorf("next sequence for session %s: %w", sessionID, err)
	}

	userID = uuid.NewString()
	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, chat_session_id, run_id, role, content, sequence_order)
		 VALUES ($1, $2, $3, 'user', $4, $5)`,
		userID, sessionID, runID, question, next)
	if err != nil {
		return "", "", fmt.Errorf("insert user message: %w", err)
	}

	assistantID = uuid.NewString()
	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, chat_session_id, run_id, role, content, sql_query, sequence_order)
		 VALUES ($1, $2, $3, 'assistant', $4, NULLIF($5, ''), $6)`,
		assistantID, sessionID, runID, answer, sqlQuery, next+1)
	if err != nil {
		return "", "", fmt.Errorf("insert assistant message: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE chat_sessions
		 SET total_messages = total_messages + 2, last_activity = NOW()
		 WHERE id = $1`,
		sessionID)
	if err != nil {
		return "", "", fmt.Errorf("bump session counters: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return "", "", fmt.Errorf("commit capture: %w", err)
	}
	return userID, assistantID, nil
}

// RecentMessages returns the last n messages of a session in chronological
// order.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, n int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_session_id, run_id, role, content, COALESCE(sql_query, ''), sequence_order, created_at
		 FROM messages
		 WHERE chat_session_id = $1
		 ORDER BY sequence_order DESC
		 LIMIT $2`,
		sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LastInteraction returns the most recent user/assistant pair of a session,
// or nil slices when the session has no completed interaction yet.
func (s *Store) LastInteraction(ctx context.Context, sessionID string) ([]models.Message, error) {
	msgs, err := s.RecentMessages(ctx, sessionID, 2)
	if err != nil {
		return nil, err
	}
	if len(msgs) < 2 || msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		return nil, nil
	}
	return msgs, nil
}

// SemanticSearch returns messages of the user's sessions with the given
// agent whose embedding is within the cosine similarity threshold, most
// similar first.
func (s *Store) SemanticSearch(ctx context.Context, userID, agentID string, vector []float32, limit int, threshold float64) ([]models.ScoredMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.chat_session_id, m.run_id, m.role, m.content, COALESCE(m.sql_query, ''), m.sequence_order, m.created_at,
		        1 - (e.embedding <=> $1::vector) AS score
		 FROM message_embeddings e
		 JOIN messages m ON m.id = e.message_id
		 JOIN chat_sessions cs ON cs.id = m.chat_session_id
		 WHERE cs.user_id = $2 AND cs.agent_id = $3
		   AND 1 - (e.embedding <=> $1::vector) >= $4
		 ORDER BY e.embedding <=> $1::vector
		 LIMIT $5`,
		serializeVector(vector), userID, agentID, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer rows.Close()

	var out []models.ScoredMessage
	for rows.Next() {
		var sm models.ScoredMessage
		var runID *string
		if err := rows.Scan(&sm.ID, &sm.ChatSessionID, &runID, &sm.Role, &sm.Content, &sm.SQLQuery, &sm.SequenceOrder, &sm.CreatedAt, &sm.Score); err != nil {
			return nil, fmt.Errorf("semantic search scan: %w", err)
		}
		sm.RunID = runID
		sm.Source = models.SourceSemantic
		out = append(out, sm)
	}
	return out, rows.Err()
}

// LexicalCandidates returns the most recent messages of the user's sessions
// with the agent, newest first, for token-overlap scoring when no embeddings
// are usable.
func (s *Store) LexicalCandidates(ctx context.Context, userID, agentID string, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.chat_session_id, m.run_id, m.role, m.content, COALESCE(m.sql_query, ''), m.sequence_order, m.created_at
		 FROM messages m
		 JOIN chat_sessions cs ON cs.id = m.chat_session_id
		 WHERE cs.user_id = $1 AND cs.agent_id = $2
		 ORDER BY m.created_at DESC
		 LIMIT $3`,
		userID, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical candidates: %w", err)
	}
	return scanMessages(rows)
}

// MessageContent returns the text of one message. Part of the embedding
// generator's store surface.
func (s *Store) MessageContent(ctx context.Context, messageID string) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx,
		`SELECT content FROM messages WHERE id = $1`, messageID).Scan(&content)
	if err != nil {
		return "", fmt.Errorf("message content: %w", err)
	}
	return content, nil
}

// SaveEmbedding upserts the vector for a message.
func (s *Store) SaveEmbedding(ctx context.Context, messageID string, vector []float32) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO message_embeddings (id, message_id, embedding, model_version)
		 VALUES ($1, $2, $3::vector, $4)
		 ON CONFLICT (message_id) DO UPDATE
		 SET embedding = EXCLUDED.embedding, model_version = EXCLUDED.model_version`,
		uuid.NewString(), messageID, serializeVector(vector), s.modelVersion)
	if err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	return nil
}

// MessagesWithoutEmbedding lists message ids that have no stored vector,
// newest first.
func (s *Store) MessagesWithoutEmbedding(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id
		 FROM messages m
		 LEFT JOIN message_embeddings e ON e.message_id = m.id
		 WHERE e.id IS NULL
		 ORDER BY m.created_at DESC
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("scan for missing embeddings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan for missing embeddings: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()
	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var runID *string
		if err := rows.Scan(&m.ID, &m.ChatSessionID, &runID, &m.Role, &m.Content, &m.SQLQuery, &m.SequenceOrder, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.RunID = runID
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// serializeVector renders a vector as a pgvector text literal.
func serializeVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
