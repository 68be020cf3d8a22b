package prompts

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterMessages(t *testing.T) {
	transcript := []*schema.Message{schema.UserMessage("What is a closure?")}
	msgs, err := RouterMessages(context.Background(), "fluent-python", transcript)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, `"fluent-python"`)
	assert.Contains(t, msgs[0].Content, "book_retriever")
	assert.Contains(t, msgs[0].Content, "web_search")
	assert.Equal(t, "What is a closure?", msgs[1].Content)
}

func TestAnswerMessages(t *testing.T) {
	transcript := []*schema.Message{schema.UserMessage("Hello!")}

	direct, err := AnswerMessages(context.Background(), "b", transcript, true)
	require.NoError(t, err)
	require.Len(t, direct, 2)
	assert.Equal(t, "Hello!", direct[0].Content)
	assert.Equal(t, schema.System, direct[1].Role)
	assert.Contains(t, direct[1].Content, "not taken from the book")

	withEvidence, err := AnswerMessages(context.Background(), "b", transcript, false)
	require.NoError(t, err)
	assert.NotContains(t, withEvidence[1].Content, "No tool was used")
}
