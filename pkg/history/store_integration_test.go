package history_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryhive/queryhive/pkg/history"
	"github.com/queryhive/queryhive/pkg/models"
	"github.com/queryhive/queryhive/test/util"
)

// seedSession inserts the user/connection/agent/session rows captures need.
func seedSession(t *testing.T, pool *pgxpool.Pool) (userID, agentID, sessionID string) {
	t.Helper()
	ctx := context.Background()

	_, err := pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, display_name)
		 VALUES ('u1', 'u1@example.com', 'x', 'Test User')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx,
		`INSERT INTO connections (id, owner_user_id, kind, payload)
		 VALUES ('c1', 'u1', 'sqlite', '{"dataset_id": "demo"}')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx,
		`INSERT INTO agents (id, owner_user_id, name, connection_id, model_id)
		 VALUES ('a1', 'u1', 'Test Agent', 'c1', 'gpt-4o')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx,
		`INSERT INTO chat_sessions (id, user_id, agent_id, title)
		 VALUES ('s1', 'u1', 'a1', 'Revenue questions')`)
	require.NoError(t, err)

	return "u1", "a1", "s1"
}

// unitVector returns a 1536-dim vector with a single 1.0 component.
func unitVector(axis int) []float32 {
	v := make([]float32, 1536)
	v[axis] = 1
	return v
}

func TestStore_CaptureKeepsSequenceDense(t *testing.T) {
	client := util.SetupTestDatabase(t)
	pool := client.Pool()
	store := history.NewStore(pool, "text-embedding-3-small")
	ctx := context.Background()

	_, _, sessionID := seedSession(t, pool)

	userID, assistantID, err := store.Capture(ctx, sessionID, nil,
		"What was revenue last month?", "Revenue was $10k.", "SELECT SUM(total) FROM orders")
	require.NoError(t, err)
	assert.NotEmpty(t, userID)
	assert.NotEmpty(t, assistantID)

	_, _, err = store.Capture(ctx, sessionID, nil,
		"And the month before?", "It was $8k.", "")
	require.NoError(t, err)

	msgs, err := store.RecentMessages(ctx, sessionID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		assert.Equal(t, i+1, m.SequenceOrder)
	}
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "SELECT SUM(total) FROM orders", msgs[1].SQLQuery)
	assert.Empty(t, msgs[3].SQLQuery, "empty sql must be stored as NULL")

	var total int
	err = pool.QueryRow(ctx,
		`SELECT total_messages FROM chat_sessions WHERE id = $1`, sessionID).Scan(&total)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestStore_LastInteraction(t *testing.T) {
	client := util.SetupTestDatabase(t)
	pool := client.Pool()
	store := history.NewStore(pool, "text-embedding-3-small")
	ctx := context.Background()

	_, _, sessionID := seedSession(t, pool)

	pair, err := store.LastInteraction(ctx, sessionID)
	require.NoError(t, err)
	assert.Nil(t, pair, "empty session has no interaction")

	_, _, err = store.Capture(ctx, sessionID, nil, "q1", "a1", "")
	require.NoError(t, err)
	_, _, err = store.Capture(ctx, sessionID, nil, "q2", "a2", "")
	require.NoError(t, err)

	pair, err = store.LastInteraction(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, pair, 2)
	assert.Equal(t, "q2", pair[0].Content)
	assert.Equal(t, "a2", pair[1].Content)
}

func TestStore_SemanticSearch(t *testing.T) {
	client := util.SetupTestDatabase(t)
	pool := client.Pool()
	store := history.NewStore(pool, "text-embedding-3-small")
	ctx := context.Background()

	userID, agentID, sessionID := seedSession(t, pool)

	msgID, _, err := store.Capture(ctx, sessionID, nil,
		"Which customers churned?", "Three customers churned.", "")
	require.NoError(t, err)

	require.NoError(t, store.SaveEmbedding(ctx, msgID, unitVector(0)))

	hits, err := store.SemanticSearch(ctx, userID, agentID, unitVector(0), 10, 0.75)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, msgID, hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, models.SourceSemantic, hits[0].Source)

	// An orthogonal query vector scores 0 and falls under the threshold.
	hits, err = store.SemanticSearch(ctx, userID, agentID, unitVector(1), 10, 0.75)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_SaveEmbeddingUpserts(t *testing.T) {
	client := util.SetupTestDatabase(t)
	pool := client.Pool()
	store := history.NewStore(pool, "text-embedding-3-small")
	ctx := context.Background()

	_, _, sessionID := seedSession(t, pool)
	msgID, _, err := store.Capture(ctx, sessionID, nil, "q", "a", "")
	require.NoError(t, err)

	require.NoError(t, store.SaveEmbedding(ctx, msgID, unitVector(0)))
	require.NoError(t, store.SaveEmbedding(ctx, msgID, unitVector(2)))

	var count int
	err = pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM message_embeddings WHERE message_id = $1`, msgID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_MessagesWithoutEmbedding(t *testing.T) {
	client := util.SetupTestDatabase(t)
	pool := client.Pool()
	store := history.NewStore(pool, "text-embedding-3-small")
	ctx := context.Background()

	_, _, sessionID := seedSession(t, pool)
	userMsgID, assistantMsgID, err := store.Capture(ctx, sessionID, nil, "q", "a", "")
	require.NoError(t, err)

	ids, err := store.MessagesWithoutEmbedding(ctx, 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{userMsgID, assistantMsgID}, ids)

	require.NoError(t, store.SaveEmbedding(ctx, userMsgID, unitVector(0)))

	ids, err = store.MessagesWithoutEmbedding(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{assistantMsgID}, ids)
}
