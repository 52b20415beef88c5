package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/queryhive/queryhive/pkg/models"
)

// sessionReuseWindow is how recent a session's last activity must be for run
// submission to append to it instead of starting a new conversation.
const sessionReuseWindow = 24 * time.Hour

// maxTitleLen bounds synthesized session titles.
const maxTitleLen = 80

// ChatSessionService manages conversations and their messages.
type ChatSessionService struct {
	pool *pgxpool.Pool
}

// NewChatSessionService creates a chat session service.
func NewChatSessionService(pool *pgxpool.Pool) *ChatSessionService {
	return &ChatSessionService{pool: pool}
}

const sessionColumns = `id, user_id, agent_id, title, status, total_messages,
	COALESCE(context_summary, ''), created_at, last_activity`

func scanSession(row pgx.Row) (*models.ChatSession, error) {
	var cs models.ChatSession
	err := row.Scan(&cs.ID, &cs.UserID, &cs.AgentID, &cs.Title, &cs.Status,
		&cs.TotalMessages, &cs.ContextSummary, &cs.CreatedAt, &cs.LastActivity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning chat session: %w", err)
	}
	return &cs, nil
}

// Create starts a new conversation between a user and an agent.
func (s *ChatSessionService) Create(ctx context.Context, userID, agentID, title string) (*models.ChatSession, error) {
	if title == "" {
		title = "New conversation"
	}
	cs := &models.ChatSession{
		ID:      uuid.NewString(),
		UserID:  userID,
		AgentID: agentID,
		Title:   truncateTitle(title),
		Status:  models.ChatSessionActive,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_sessions (id, user_id, agent_id, title)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, last_activity`,
		cs.ID, userID, agentID, cs.Title).Scan(&cs.CreatedAt, &cs.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("creating chat session: %w", err)
	}
	return cs, nil
}

// Get returns one session, enforcing ownership.
func (s *ChatSessionService) Get(ctx context.Context, userID, id string) (*models.ChatSession, error) {
	cs, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if cs.UserID != userID {
		return nil, ErrForbidden
	}
	return cs, nil
}

// List returns the user's sessions, most recently active first. agentID
// narrows the listing when non-empty.
func (s *ChatSessionService) List(ctx context.Context, userID, agentID string, page models.PageRequest) ([]models.ChatSession, models.Pagination, error) {
	page = page.Normalize()

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_sessions
		 WHERE user_id = $1 AND ($2 = '' OR agent_id = $2)`,
		userID, agentID).Scan(&total)
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("counting chat sessions: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions
		 WHERE user_id = $1 AND ($2 = '' OR agent_id = $2)
		 ORDER BY last_activity DESC
		 LIMIT $3 OFFSET $4`,
		userID, agentID, page.PerPage, page.Offset())
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("listing chat sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.ChatSession{}
	for rows.Next() {
		cs, err := scanSession(rows)
		if err != nil {
			return nil, models.Pagination{}, err
		}
		sessions = append(sessions, *cs)
	}
	return sessions, models.NewPagination(page, total), rows.Err()
}

// Archive marks a session archived; its messages stay retrievable.
func (s *ChatSessionService) Archive(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE chat_sessions SET status = 'archived' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("archiving chat session: %w", err)
	}
	return nil
}

// Delete removes a session and its messages.
func (s *ChatSessionService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting chat session: %w", err)
	}
	return nil
}

// Messages returns one page of a session's messages, newest first.
func (s *ChatSessionService) Messages(ctx context.Context, userID, sessionID string, page models.PageRequest) ([]models.Message, models.Pagination, error) {
	if _, err := s.Get(ctx, userID, sessionID); err != nil {
		return nil, models.Pagination{}, err
	}
	page = page.Normalize()

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_session_id = $1`, sessionID).Scan(&total)
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("counting messages: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_session_id, run_id, role, content, COALESCE(sql_query, ''), sequence_order, created_at
		 FROM messages
		 WHERE chat_session_id = $1
		 ORDER BY sequence_order DESC
		 LIMIT $2 OFFSET $3`,
		sessionID, page.PerPage, page.Offset())
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var m models.Message
		var runID *string
		if err := rows.Scan(&m.ID, &m.ChatSessionID, &runID, &m.Role, &m.Content, &m.SQLQuery, &m.SequenceOrder, &m.CreatedAt); err != nil {
			return nil, models.Pagination{}, fmt.Errorf("scanning message: %w", err)
		}
		m.RunID = runID
		msgs = append(msgs, m)
	}
	return msgs, models.NewPagination(page, total), rows.Err()
}

// reusable returns the user's most recently active session with the agent
// when its last activity falls inside the reuse window, else nil.
func (s *ChatSessionService) reusable(ctx context.Context, userID, agentID string) (*models.ChatSession, error) {
	cs, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions
		 WHERE user_id = $1 AND agent_id = $2 AND status = 'active'
		   AND last_activity > $3
		 ORDER BY last_activity DESC
		 LIMIT 1`,
		userID, agentID, time.Now().Add(-sessionReuseWindow)))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return cs, err
}

// EnsureSession returns the session a new run should append to: the given
// one (ownership enforced), a recent active one, or a fresh session with a
// time-stamped title built from the question.
func (s *ChatSessionService) EnsureSession(ctx context.Context, userID, agentID, question string, sessionID *string) (*models.ChatSession, error) {
	if sessionID != nil && *sessionID != "" {
		cs, err := s.Get(ctx, userID, *sessionID)
		if err != nil {
			return nil, err
		}
		if cs.AgentID != agentID {
			return nil, fmt.Errorf("%w: session belongs to a different agent", ErrInvalid)
		}
		return cs, nil
	}

	cs, err := s.reusable(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}
	if cs != nil {
		return cs, nil
	}
	return s.Create(ctx, userID, agentID, synthesizeTitle(question, time.Now()))
}

// synthesizeTitle builds a time-stamped title from the question that starts
// the conversation.
func synthesizeTitle(question string, now time.Time) string {
	stamp := now.Format("Jan 2 15:04")
	excerpt := question
	if budget := maxTitleLen - len(stamp) - 3; len(excerpt) > budget {
		excerpt = excerpt[:budget]
	}
	return excerpt + " (" + stamp + ")"
}

func truncateTitle(s string) string {
	if len(s) > maxTitleLen {
		return s[:maxTitleLen]
	}
	return s
}
