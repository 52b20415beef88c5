package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/queryhive/queryhive/pkg/engine"
	"github.com/queryhive/queryhive/pkg/models"
	"github.com/queryhive/queryhive/pkg/registry"
)

// ConnectionService manages connection definitions and probes targets.
type ConnectionService struct {
	pool     *pgxpool.Pool
	engines  *engine.Manager
	registry *registry.Registry
}

// NewConnectionService creates a connection service. reg may be nil.
func NewConnectionService(pool *pgxpool.Pool, engines *engine.Manager, reg *registry.Registry) *ConnectionService {
	return &ConnectionService{pool: pool, engines: engines, registry: reg}
}

// validatePayload enforces the kind-specific payload shape.
func validatePayload(kind models.ConnectionKind, p models.ConnectionPayload) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalid, kind)
	}
	switch kind {
	case models.KindSQLite:
		if p.DatasetID == "" {
			return fmt.Errorf("%w: sqlite connections require dataset_id", ErrInvalid)
		}
	case models.KindPostgres, models.KindClickHouse:
		if p.Host == "" || p.Database == "" {
			return fmt.Errorf("%w: %s connections require host and database", ErrInvalid, kind)
		}
	}
	return nil
}

// Create stores a new connection for the owner.
func (s *ConnectionService) Create(ctx context.Context, ownerUserID string, kind models.ConnectionKind, payload models.ConnectionPayload) (*models.Connection, error) {
	if err := validatePayload(kind, payload); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	conn := &models.Connection{
		ID:          uuid.NewString(),
		OwnerUserID: ownerUserID,
		Kind:        kind,
		Payload:     payload,
		Version:     1,
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO connections (id, owner_user_id, kind, payload)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		conn.ID, ownerUserID, kind, raw).Scan(&conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating connection: %w", err)
	}
	return conn, nil
}

// Get returns one connection, enforcing ownership.
func (s *ConnectionService) Get(ctx context.Context, ownerUserID, id string) (*models.Connection, error) {
	conn, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn.OwnerUserID != ownerUserID {
		return nil, ErrForbidden
	}
	return conn, nil
}

func (s *ConnectionService) get(ctx context.Context, id string) (*models.Connection, error) {
	var conn models.Connection
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_user_id, kind, payload, version, created_at, updated_at
		 FROM connections WHERE id = $1`,
		id).Scan(&conn.ID, &conn.OwnerUserID, &conn.Kind, &raw, &conn.Version, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("looking up connection: %w", err)
	}
	if err := json.Unmarshal(raw, &conn.Payload); err != nil {
		return nil, fmt.Errorf("decoding payload for connection %s: %w", id, err)
	}
	return &conn, nil
}

// List returns the owner's connections, newest first.
func (s *ConnectionService) List(ctx context.Context, ownerUserID string, page models.PageRequest) ([]models.Connection, models.Pagination, error) {
	page = page.Normalize()

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM connections WHERE owner_user_id = $1`, ownerUserID).Scan(&total)
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("counting connections: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_user_id, kind, payload, version, created_at, updated_at
		 FROM connections
		 WHERE owner_user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		ownerUserID, page.PerPage, page.Offset())
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("listing connections: %w", err)
	}
	defer rows.Close()

	conns := []models.Connection{}
	for rows.Next() {
		var conn models.Connection
		var raw []byte
		if err := rows.Scan(&conn.ID, &conn.OwnerUserID, &conn.Kind, &raw, &conn.Version, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
			return nil, models.Pagination{}, fmt.Errorf("scanning connection: %w", err)
		}
		if err := json.Unmarshal(raw, &conn.Payload); err != nil {
			return nil, models.Pagination{}, fmt.Errorf("decoding payload: %w", err)
		}
		conns = append(conns, conn)
	}
	return conns, models.NewPagination(page, total), rows.Err()
}

// Update replaces a connection's payload (and optionally kind), bumps its
// version, and discards the pooled handle so the next run reconnects.
func (s *ConnectionService) Update(ctx context.Context, ownerUserID, id string, kind models.ConnectionKind, payload models.ConnectionPayload) (*models.Connection, error) {
	existing, err := s.Get(ctx, ownerUserID, id)
	if err != nil {
		return nil, err
	}
	if err := validatePayload(kind, payload); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`UPDATE connections
		 SET kind = $2, payload = $3, version = version + 1, updated_at = NOW()
		 WHERE id = $1
		 RETURNING version, updated_at`,
		id, kind, raw).Scan(&existing.Version, &existing.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("updating connection: %w", err)
	}

	s.engines.Discard(existing.Kind, existing.Payload)
	s.dropAgentBundles(ctx, id)
	existing.Kind = kind
	existing.Payload = payload
	return existing, nil
}

// dropAgentBundles evicts cached agent bundles for every agent bound to the
// connection, so their next run sees the new payload and version.
func (s *ConnectionService) dropAgentBundles(ctx context.Context, connectionID string) {
	if s.registry == nil {
		return
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM agents WHERE connection_id = $1`, connectionID)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var agentID string
		if err := rows.Scan(&agentID); err != nil {
			return
		}
		s.registry.Drop(registry.CategoryAgentBundle, agentID)
	}
}

// Delete removes a connection. Fails while agents still reference it.
func (s *ConnectionService) Delete(ctx context.Context, ownerUserID, id string) error {
	conn, err := s.Get(ctx, ownerUserID, id)
	if err != nil {
		return err
	}

	var inUse int
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM agents WHERE connection_id = $1`, id).Scan(&inUse)
	if err != nil {
		return fmt.Errorf("checking agent references: %w", err)
	}
	if inUse > 0 {
		return fmt.Errorf("%w: %d agents still use this connection", ErrConflict, inUse)
	}

	_, err = s.pool.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	s.engines.Discard(conn.Kind, conn.Payload)
	return nil
}

// ProbeResult is the outcome of a connectivity test.
type ProbeResult struct {
	Valid   bool                  `json:"valid"`
	Message string                `json:"message"`
	Kind    models.ConnectionKind `json:"kind"`
}

// Probe opens and pings the target without persisting anything. Error
// messages are masked so credentials never reach the client.
func (s *ConnectionService) Probe(ctx context.Context, kind models.ConnectionKind, payload models.ConnectionPayload) ProbeResult {
	if err := validatePayload(kind, payload); err != nil {
		return ProbeResult{Valid: false, Message: maskSecrets(err.Error(), payload), Kind: kind}
	}
	if _, err := s.engines.Open(ctx, kind, payload); err != nil {
		return ProbeResult{Valid: false, Message: maskSecrets(err.Error(), payload), Kind: kind}
	}
	return ProbeResult{Valid: true, Message: "connection successful", Kind: kind}
}

var dsnCredRe = regexp.MustCompile(`://[^/@\s]+@`)

// maskSecrets removes passwords and user:pass@ DSN fragments from an error
// message before it is surfaced to clients.
func maskSecrets(msg string, payload models.ConnectionPayload) string {
	if payload.Password != "" {
		msg = strings.ReplaceAll(msg, payload.Password, "***")
	}
	return dsnCredRe.ReplaceAllString(msg, "://***@")
}
