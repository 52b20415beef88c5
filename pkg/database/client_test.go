package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryhive/queryhive/test/util"
)

func TestNewClient_RunsMigrations(t *testing.T) {
	client := util.SetupTestDatabase(t)
	ctx := context.Background()

	for _, table := range []string{
		"users", "connections", "agents", "chat_sessions",
		"runs", "messages", "message_embeddings",
	} {
		var n int
		err := client.Pool().QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
		require.NoError(t, err, "table %s must exist after migrations", table)
		assert.Zero(t, n)
	}
}

func TestClient_Health(t *testing.T) {
	client := util.SetupTestDatabase(t)

	status := client.Health(context.Background())
	assert.True(t, status.Reachable)
	assert.Empty(t, status.Error)
}
