package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/queryhive/queryhive/pkg/cache"
	"github.com/queryhive/queryhive/pkg/models"
	"github.com/queryhive/queryhive/pkg/registry"
)

// AgentService manages agent configurations.
type AgentService struct {
	pool     *pgxpool.Pool
	cache    *cache.Manager
	registry *registry.Registry
}

// NewAgentService creates an agent service. cache and reg may be nil.
func NewAgentService(pool *pgxpool.Pool, cacheManager *cache.Manager, reg *registry.Registry) *AgentService {
	return &AgentService{pool: pool, cache: cacheManager, registry: reg}
}

// AgentInput carries the mutable fields of an agent.
type AgentInput struct {
	Name              string `json:"name"`
	ConnectionID      string `json:"connection_id"`
	ModelID           string `json:"model_id"`
	TopK              int    `json:"top_k"`
	IncludedTables    string `json:"included_tables"`
	Advanced          bool   `json:"advanced"`
	ProcessingEnabled bool   `json:"processing_enabled"`
	RefinementEnabled bool   `json:"refinement_enabled"`
	SingleTableMode   bool   `json:"single_table_mode"`
	SelectedTable     string `json:"selected_table"`
}

func (in *AgentInput) validate() error {
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if in.ConnectionID == "" {
		return fmt.Errorf("%w: connection_id is required", ErrInvalid)
	}
	if in.ModelID == "" {
		return fmt.Errorf("%w: model_id is required", ErrInvalid)
	}
	if in.SingleTableMode && in.SelectedTable == "" {
		return fmt.Errorf("%w: single_table_mode requires selected_table", ErrInvalid)
	}
	if in.TopK < 1 {
		in.TopK = 10
	}
	return nil
}

// Create stores a new agent. The referenced connection must belong to the
// same owner.
func (s *AgentService) Create(ctx context.Context, ownerUserID string, in AgentInput) (*models.Agent, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.checkConnectionOwner(ctx, ownerUserID, in.ConnectionID); err != nil {
		return nil, err
	}

	agent := &models.Agent{
		ID:                uuid.NewString(),
		OwnerUserID:       ownerUserID,
		Name:              in.Name,
		ConnectionID:      in.ConnectionID,
		ModelID:           in.ModelID,
		TopK:              in.TopK,
		IncludedTables:    in.IncludedTables,
		Advanced:          in.Advanced,
		ProcessingEnabled: in.ProcessingEnabled,
		RefinementEnabled: in.RefinementEnabled,
		SingleTableMode:   in.SingleTableMode,
		SelectedTable:     in.SelectedTable,
		Version:           1,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO agents (id, owner_user_id, name, connection_id, model_id, top_k,
		                     included_tables, advanced, processing_enabled, refinement_enabled,
		                     single_table_mode, selected_table)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''))
		 RETURNING created_at, updated_at`,
		agent.ID, ownerUserID, in.Name, in.ConnectionID, in.ModelID, in.TopK,
		in.IncludedTables, in.Advanced, in.ProcessingEnabled, in.RefinementEnabled,
		in.SingleTableMode, in.SelectedTable).Scan(&agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}
	return agent, nil
}

func (s *AgentService) checkConnectionOwner(ctx context.Context, ownerUserID, connectionID string) error {
	var owner string
	err := s.pool.QueryRow(ctx,
		`SELECT owner_user_id FROM connections WHERE id = $1`, connectionID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: connection %s", ErrNotFound, connectionID)
		}
		return fmt.Errorf("checking connection owner: %w", err)
	}
	if owner != ownerUserID {
		return ErrForbidden
	}
	return nil
}

const agentColumns = `id, owner_user_id, name, connection_id, model_id, top_k,
	included_tables, advanced, processing_enabled, refinement_enabled,
	single_table_mode, COALESCE(selected_table, ''), version, created_at, updated_at`

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.OwnerUserID, &a.Name, &a.ConnectionID, &a.ModelID, &a.TopK,
		&a.IncludedTables, &a.Advanced, &a.ProcessingEnabled, &a.RefinementEnabled,
		&a.SingleTableMode, &a.SelectedTable, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	return &a, nil
}

// Get returns one agent, enforcing ownership.
func (s *AgentService) Get(ctx context.Context, ownerUserID, id string) (*models.Agent, error) {
	agent, err := scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if agent.OwnerUserID != ownerUserID {
		return nil, ErrForbidden
	}
	return agent, nil
}

// List returns the owner's agents, newest first.
func (s *AgentService) List(ctx context.Context, ownerUserID string, page models.PageRequest) ([]models.Agent, models.Pagination, error) {
	page = page.Normalize()

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM agents WHERE owner_user_id = $1`, ownerUserID).Scan(&total)
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("counting agents: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents
		 WHERE owner_user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		ownerUserID, page.PerPage, page.Offset())
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	agents := []models.Agent{}
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, models.Pagination{}, err
		}
		agents = append(agents, *agent)
	}
	return agents, models.NewPagination(page, total), rows.Err()
}

// Update replaces an agent's configuration and bumps its version. Changing
// the connection or the table scope invalidates the agent's response cache.
func (s *AgentService) Update(ctx context.Context, ownerUserID, id string, in AgentInput) (*models.Agent, error) {
	existing, err := s.Get(ctx, ownerUserID, id)
	if err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.ConnectionID != existing.ConnectionID {
		if err := s.checkConnectionOwner(ctx, ownerUserID, in.ConnectionID); err != nil {
			return nil, err
		}
	}

	agent, err := scanAgent(s.pool.QueryRow(ctx,
		`UPDATE agents
		 SET name = $2, connection_id = $3, model_id = $4, top_k = $5,
		     included_tables = $6, advanced = $7, processing_enabled = $8,
		     refinement_enabled = $9, single_table_mode = $10,
		     selected_table = NULLIF($11, ''), version = version + 1, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+agentColumns,
		id, in.Name, in.ConnectionID, in.ModelID, in.TopK,
		in.IncludedTables, in.Advanced, in.ProcessingEnabled,
		in.RefinementEnabled, in.SingleTableMode, in.SelectedTable))
	if err != nil {
		return nil, err
	}

	scopeChanged := in.ConnectionID != existing.ConnectionID ||
		in.IncludedTables != existing.IncludedTables ||
		in.SingleTableMode != existing.SingleTableMode ||
		in.SelectedTable != existing.SelectedTable
	if scopeChanged && s.cache != nil {
		s.cache.InvalidateAgent(id)
	}
	if s.registry != nil {
		s.registry.Drop(registry.CategoryAgentBundle, id)
	}
	return agent, nil
}

// Delete removes an agent and drops its cached answers.
func (s *AgentService) Delete(ctx context.Context, ownerUserID, id string) error {
	if _, err := s.Get(ctx, ownerUserID, id); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	if s.cache != nil {
		s.cache.InvalidateAgent(id)
	}
	if s.registry != nil {
		s.registry.Drop(registry.CategoryAgentBundle, id)
	}
	return nil
}

// LoadAgentBundle resolves an agent and its connection for the run executor.
// No ownership check: the run was authorised at submission time.
func (s *AgentService) LoadAgentBundle(ctx context.Context, agentID string) (models.Agent, models.Connection, error) {
	agent, err := scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, agentID))
	if err != nil {
		return models.Agent{}, models.Connection{}, err
	}

	var conn models.Connection
	var raw []byte
	err = s.pool.QueryRow(ctx,
		`SELECT id, owner_user_id, kind, payload, version, created_at, updated_at
		 FROM connections WHERE id = $1`,
		agent.ConnectionID).
		Scan(&conn.ID, &conn.OwnerUserID, &conn.Kind, &raw, &conn.Version, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Agent{}, models.Connection{}, fmt.Errorf("%w: connection %s", ErrNotFound, agent.ConnectionID)
		}
		return models.Agent{}, models.Connection{}, fmt.Errorf("loading connection: %w", err)
	}
	if err := unmarshalPayload(raw, &conn.Payload); err != nil {
		return models.Agent{}, models.Connection{}, err
	}
	return *agent, conn, nil
}
