package conversations

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookchat-core/server/internal/agent/model"
	"github.com/bookchat-core/server/internal/agent/repo"
)

func TestLoadTranscript(t *testing.T) {
	ctx := context.Background()
	r := repo.NewMemoryHistoryRepository()
	mm := NewMessagesManager(r, model.ConversationConfig{})

	require.NoError(t, mm.SaveUser(ctx, "s1", "What is a decorator?"))
	require.NoError(t, mm.SaveAssistant(ctx, "s1", "A callable that wraps another."))
	require.NoError(t, mm.SaveUser(ctx, "s2", "other session"))

	msgs, err := mm.LoadTranscript(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.User, msgs[0].Role)
	assert.Equal(t, schema.Assistant, msgs[1].Role)
	assert.Equal(t, "A callable that wraps another.", msgs[1].Content)

	empty, err := mm.LoadTranscript(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLoadTranscriptKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	mm := NewMessagesManager(repo.NewMemoryHistoryRepository(), model.ConversationConfig{MaxHistory: 2})

	for _, q := range []string{"one", "two", "three"} {
		require.NoError(t, mm.SaveUser(ctx, "s", q))
	}
	msgs, err := mm.LoadTranscript(ctx, "s")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)
}

func TestLoadTranscriptStartsOnUserMessage(t *testing.T) {
	ctx := context.Background()
	mm := NewMessagesManager(repo.NewMemoryHistoryRepository(), model.ConversationConfig{MaxHistory: 3})

	for _, turn := range [][2]string{{"q1", "a1"}, {"q2", "a2"}} {
		require.NoError(t, mm.SaveUser(ctx, "s", turn[0]))
		require.NoError(t, mm.SaveAssistant(ctx, "s", turn[1]))
	}
	msgs, err := mm.LoadTranscript(ctx, "s")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.User, msgs[0].Role)
	assert.Equal(t, "q2", msgs[0].Content)
	assert.Equal(t, "a2", msgs[1].Content)
}
