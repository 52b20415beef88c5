package models

import "time"

// ConnectionKind is the SQL dialect family of a connection target.
type ConnectionKind string

const (
	KindSQLite     ConnectionKind = "sqlite"
	KindPostgres   ConnectionKind = "postgres"
	KindClickHouse ConnectionKind = "clickhouse"
)

// Valid reports whether the kind is one of the supported dialects.
func (k ConnectionKind) Valid() bool {
	switch k {
	case KindSQLite, KindPostgres, KindClickHouse:
		return true
	}
	return false
}

// ConnectionPayload carries the kind-specific connection parameters.
// Exactly one shape is populated per kind: DatasetID for sqlite, the
// host/port/database/credential fields for postgres and clickhouse.
type ConnectionPayload struct {
	DatasetID string `json:"dataset_id,omitempty"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Database  string `json:"database,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Secure    bool   `json:"secure,omitempty"`
}

// Connection binds an owner to one target database.
type Connection struct {
	ID          string            `json:"id"`
	OwnerUserID string            `json:"owner_user_id"`
	Kind        ConnectionKind    `json:"kind"`
	Payload     ConnectionPayload `json:"payload"`
	Version     int               `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Agent is a user-owned configuration binding a connection, an LLM model,
// and behaviour flags. single_table_mode requires a non-empty SelectedTable.
type Agent struct {
	ID                string    `json:"id"`
	OwnerUserID       string    `json:"owner_user_id"`
	Name              string    `json:"name"`
	ConnectionID      string    `json:"connection_id"`
	ModelID           string    `json:"model_id"`
	TopK              int       `json:"top_k"`
	IncludedTables    string    `json:"included_tables"`
	Advanced          bool      `json:"advanced"`
	ProcessingEnabled bool      `json:"processing_enabled"`
	RefinementEnabled bool      `json:"refinement_enabled"`
	SingleTableMode   bool      `json:"single_table_mode"`
	SelectedTable     string    `json:"selected_table,omitempty"`
	Version           int       `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
