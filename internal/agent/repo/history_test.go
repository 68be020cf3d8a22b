package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bookchat-core/server/internal/agent/model"
	"github.com/cloudwego/eino/schema"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func historyBackends(t *testing.T) map[string]model.HistoryRepository {
	t.Helper()

	sqliteRepo, err := NewSQLiteHistoryRepository(filepath.Join(t.TempDir(), "history", "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteRepo.Close() })

	backends := map[string]model.HistoryRepository{
		"memory": NewMemoryHistoryRepository(),
		"sqlite": sqliteRepo,
	}

	if url := os.Getenv("REDIS_URL"); url != "" {
		opts, err := goredis.ParseURL(url)
		require.NoError(t, err)
		client := goredis.NewClient(opts)
		t.Cleanup(func() { _ = client.Close() })
		backends["redis"] = NewRedisHistoryRepository(client, time.Minute)
	}
	return backends
}

func TestHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, repo := range historyBackends(t) {
		t.Run(name, func(t *testing.T) {
			session := "s1-" + name + "-" + time.Now().Format("150405.000000000")
			require.NoError(t, repo.Append(ctx, session, schema.User, "X"))
			require.NoError(t, repo.Append(ctx, session, schema.Assistant, "Y"))

			records, err := repo.ReadAll(ctx, session)
			require.NoError(t, err)
			require.Len(t, records, 2)

			assert.Equal(t, schema.User, records[0].Role)
			assert.Equal(t, "X", records[0].Content)
			assert.Equal(t, schema.Assistant, records[1].Role)
			assert.Equal(t, "Y", records[1].Content)
			assert.False(t, records[1].Timestamp.Before(records[0].Timestamp))
		})
	}
}

func TestHistoryUnknownSessionIsEmpty(t *testing.T) {
	ctx := context.Background()

	for name, repo := range historyBackends(t) {
		t.Run(name, func(t *testing.T) {
			records, err := repo.ReadAll(ctx, "never-written-"+name)
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

func TestHistorySessionsAreIsolated(t *testing.T) {
	ctx := context.Background()

	for name, repo := range historyBackends(t) {
		t.Run(name, func(t *testing.T) {
			a := "iso-a-" + name + "-" + time.Now().Format("150405.000000000")
			b := "iso-b-" + name + "-" + time.Now().Format("150405.000000000")
			require.NoError(t, repo.Append(ctx, a, schema.User, "for a"))
			require.NoError(t, repo.Append(ctx, b, schema.User, "for b"))

			records, err := repo.ReadAll(ctx, a)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "for a", records[0].Content)
		})
	}
}

func TestSQLiteSameTickKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	repo, err := NewSQLiteHistoryRepository(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	defer repo.Close()

	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	for _, c := range []string{"first", "second", "third"} {
		require.NoError(t, repo.Append(ctx, "tick", schema.User, c))
	}
	records, err := repo.ReadAll(ctx, "tick")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{records[0].Content, records[1].Content, records[2].Content})
}
