package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/queryhive/queryhive/pkg/models"
)

// RunService submits, reads, and cancels runs. Execution happens in the
// worker pool; submission only enqueues.
type RunService struct {
	pool     *pgxpool.Pool
	agents   *AgentService
	sessions *ChatSessionService
}

// NewRunService creates a run service.
func NewRunService(pool *pgxpool.Pool, agents *AgentService, sessions *ChatSessionService) *RunService {
	return &RunService{pool: pool, agents: agents, sessions: sessions}
}

// Create validates ownership, binds the run to a chat session, and enqueues
// it. The run is picked up asynchronously by the worker pool.
func (s *RunService) Create(ctx context.Context, ownerUserID, agentID, question string, sessionID *string) (*models.Run, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalid)
	}
	if _, err := s.agents.Get(ctx, ownerUserID, agentID); err != nil {
		return nil, err
	}

	session, err := s.sessions.EnsureSession(ctx, ownerUserID, agentID, question, sessionID)
	if err != nil {
		return nil, err
	}

	run := &models.Run{
		ID:            uuid.NewString(),
		OwnerUserID:   ownerUserID,
		AgentID:       agentID,
		ChatSessionID: &session.ID,
		Question:      question,
		Status:        models.RunStatusQueued,
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO runs (id, agent_id, user_id, chat_session_id, question)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		run.ID, agentID, ownerUserID, session.ID, question).Scan(&run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("enqueueing run: %w", err)
	}
	return run, nil
}

const runColumns = `id, agent_id, user_id, chat_session_id, question, status,
	COALESCE(sql_used, ''), COALESCE(result_data, ''), execution_ms, result_rows_count,
	from_cache, COALESCE(error_kind, ''), COALESCE(error_message, ''),
	created_at, started_at, finished_at`

func scanRun(row pgx.Row) (*models.Run, error) {
	var r models.Run
	var sqlUsed, resultData string
	var execMS *int64
	var rowCount *int
	var fromCache bool
	var errKind, errMsg string
	err := row.Scan(&r.ID, &r.AgentID, &r.OwnerUserID, &r.ChatSessionID, &r.Question, &r.Status,
		&sqlUsed, &resultData, &execMS, &rowCount, &fromCache, &errKind, &errMsg,
		&r.CreatedAt, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	if r.Status == models.RunStatusSuccess {
		r.Result = &models.RunResult{
			FormattedResponse: resultData,
			SQLQuery:          sqlUsed,
			ExecutionMS:       execMS,
			ResultRowsCount:   rowCount,
			FromCache:         fromCache,
		}
	}
	r.ErrorKind = models.ErrorKind(errKind)
	r.ErrorMessage = errMsg
	return &r, nil
}

// Get returns one run, enforcing ownership.
func (s *RunService) Get(ctx context.Context, ownerUserID, id string) (*models.Run, error) {
	run, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if run.OwnerUserID != ownerUserID {
		return nil, ErrForbidden
	}
	return run, nil
}

// List returns the owner's runs, newest first, narrowed by the filter.
func (s *RunService) List(ctx context.Context, ownerUserID string, filter models.RunFilter, page models.PageRequest) ([]models.Run, models.Pagination, error) {
	page = page.Normalize()

	where := ` WHERE user_id = $1
		AND ($2 = '' OR agent_id = $2)
		AND ($3 = '' OR chat_session_id = $3)
		AND ($4 = '' OR status = $4)`
	args := []any{ownerUserID, filter.AgentID, filter.ChatSessionID, string(filter.Status)}

	var total int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM runs`+where, args...).Scan(&total)
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("counting runs: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs`+where+`
		 ORDER BY created_at DESC
		 LIMIT $5 OFFSET $6`,
		append(args, page.PerPage, page.Offset())...)
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, models.Pagination{}, err
		}
		runs = append(runs, *run)
	}
	return runs, models.NewPagination(page, total), rows.Err()
}

// Cancel moves a queued run to cancelled. Only queued runs are cancellable;
// once a worker claims a run it proceeds to natural termination, so running
// and terminal runs both return ErrNotCancellable.
func (s *RunService) Cancel(ctx context.Context, ownerUserID, id string) (*models.Run, error) {
	run, err := s.Get(ctx, ownerUserID, id)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusQueued {
		return nil, ErrNotCancellable
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs
		 SET status = 'cancelled', finished_at = NOW()
		 WHERE id = $1 AND status = 'queued'`,
		id)
	if err != nil {
		return nil, fmt.Errorf("cancelling run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// A worker claimed the run between the read and the update.
		return nil, ErrNotCancellable
	}
	return s.Get(ctx, ownerUserID, id)
}
