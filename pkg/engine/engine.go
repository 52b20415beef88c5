// Package engine is the per-connection database abstraction. It opens pooled
// handles for sqlite, postgres, and clickhouse targets and exposes typed
// metadata and execution methods so the pipeline never touches dialect
// differences directly.
//
// Deliberately there is NO driver-level "reflect all metadata" call anywhere
// in this package: ClickHouse has no information_schema, and generic
// reflection produced "Unknown table expression identifier" failures in
// production. Every metadata read below issues a dialect-appropriate
// statement instead.
package engine

import (
	"context"
	"crypto/tls"
	stdsql "database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	_ "modernc.org/sqlite"             // embedded dataset driver

	"github.com/queryhive/queryhive/pkg/models"
)

// Sentinel errors mapped to the run error taxonomy by callers.
var (
	// ErrConnect indicates the handle could not be opened or authenticated.
	ErrConnect = errors.New("engine: connect failed")

	// ErrQuery indicates the target database rejected a statement.
	ErrQuery = errors.New("engine: query failed")
)

// connectTimeout bounds the TCP/TLS handshake and auth probe.
const connectTimeout = 10 * time.Second

// Handle is an opaque, poolable resource for one target database.
type Handle struct {
	kind models.ConnectionKind
	db   *stdsql.DB
	key  string
}

// Dialect returns the SQL dialect of the handle's target.
func (h *Handle) Dialect() models.ConnectionKind {
	return h.kind
}

// Manager opens and pools handles, deduplicated by (kind, normalised payload).
type Manager struct {
	datasetDir string

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewManager creates an engine manager. datasetDir is the directory holding
// embedded sqlite datasets referenced by payload dataset ids.
func NewManager(datasetDir string) *Manager {
	return &Manager{
		datasetDir: datasetDir,
		handles:    make(map[string]*Handle),
	}
}

// Open returns a pooled handle for the connection, creating it on first use.
// Idempotent per (kind, normalised payload); the probe fails within a bounded
// timeout when the target is unreachable or rejects the credentials.
func (m *Manager) Open(ctx context.Context, kind models.ConnectionKind, payload models.ConnectionPayload) (*Handle, error) {
	payload = normalizePayload(kind, payload)
	key := handleKey(kind, payload)

	m.mu.Lock()
	if h, ok := m.handles[key]; ok {
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	db, err := m.open(kind, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Second)

	probeCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(probeCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	h := &Handle{kind: kind, db: db, key: key}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.handles[key]; ok {
		// Lost the race; keep the first handle.
		_ = db.Close()
		return existing, nil
	}
	m.handles[key] = h
	return h, nil
}

// Discard closes and forgets the pooled handle for a connection. Called when
// a connection is mutated or deleted.
func (m *Manager) Discard(kind models.ConnectionKind, payload models.ConnectionPayload) {
	payload = normalizePayload(kind, payload)
	key := handleKey(kind, payload)

	m.mu.Lock()
	h, ok := m.handles[key]
	delete(m.handles, key)
	m.mu.Unlock()

	if ok {
		_ = h.db.Close()
	}
}

// Close releases every pooled handle.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, h := range m.handles {
		_ = h.db.Close()
		delete(m.handles, key)
	}
}

func (m *Manager) open(kind models.ConnectionKind, payload models.ConnectionPayload) (*stdsql.DB, error) {
	switch kind {
	case models.KindSQLite:
		if payload.DatasetID == "" {
			return nil, errors.New("sqlite payload requires dataset_id")
		}
		path := filepath.Join(m.datasetDir, payload.DatasetID+".db")
		return stdsql.Open("sqlite", path)

	case models.KindPostgres:
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
			payload.Host, payload.Port, payload.Username, payload.Password, payload.Database)
		return stdsql.Open("pgx", dsn)

	case models.KindClickHouse:
		opts := &clickhouse.Options{
			Addr: []string{fmt.Sprintf("%s:%d", payload.Host, payload.Port)},
			Auth: clickhouse.Auth{
				Database: payload.Database,
				Username: payload.Username,
				Password: payload.Password,
			},
			Protocol:    clickhouse.HTTP,
			DialTimeout: connectTimeout,
		}
		// secure=true means HTTPS; no implicit protocol switch happens based
		// on the port alone.
		if payload.Secure {
			opts.TLS = &tls.Config{}
		}
		return clickhouse.OpenDB(opts), nil

	default:
		return nil, fmt.Errorf("unsupported connection kind %q", kind)
	}
}

// normalizePayload applies kind defaults so that equivalent payloads map to
// the same pooled handle.
func normalizePayload(kind models.ConnectionKind, p models.ConnectionPayload) models.ConnectionPayload {
	switch kind {
	case models.KindPostgres:
		if p.Port == 0 {
			p.Port = 5432
		}
	case models.KindClickHouse:
		if p.Port == 0 {
			if p.Secure {
				p.Port = 8443
			} else {
				p.Port = 8123
			}
		}
	}
	return p
}

func handleKey(kind models.ConnectionKind, p models.ConnectionPayload) string {
	return fmt.Sprintf("%s|%s|%s|%d|%s|%s|%t",
		kind, p.DatasetID, p.Host, p.Port, p.Database, p.Username, p.Secure)
}
