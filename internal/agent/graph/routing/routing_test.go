package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/bookchat-core/server/internal/agent/graph/parsers"
	"github.com/bookchat-core/server/internal/agent/graph/tools"
	"github.com/bookchat-core/server/internal/agent/model"
	errx "github.com/bookchat-core/server/internal/core/error"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedModel struct {
	replies []*schema.Message
	err     error
	bound   []*schema.ToolInfo
	calls   int
}

func (m *scriptedModel) Generate(_ context.Context, _ []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := m.replies[m.calls%len(m.replies)]
	m.calls++
	return out, nil
}

func (m *scriptedModel) Stream(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	out, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{out}), nil
}

func (m *scriptedModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	m.bound = tools
	return m, nil
}

func callMessage(id, name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})
}

func TestRuleDecider(t *testing.T) {
	ctx := context.Background()
	d := NewRuleDecider()

	tests := []struct {
		name     string
		question string
		route    model.Route
	}{
		{"greeting", "Hello!", model.RouteAnswer},
		{"thanks", "thank you so much", model.RouteAnswer},
		{"book question", "What is a decorator?", model.RouteRetrieveBook},
		{"weather", "What's the weather in Paris today?", model.RouteWebSearch},
		{"news", "latest news about Python 3.14", model.RouteWebSearch},
		{"explicit google search", "google for the PyCon 2025 schedule", model.RouteWebSearch},
		{"company named in a book question", "What does the book say about Google's MapReduce?", model.RouteRetrieveBook},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := d.Decide(ctx, "fluent-python", []*schema.Message{schema.UserMessage(tt.question)})
			require.NoError(t, err)
			assert.Equal(t, tt.route, dec.Route)
			assert.Equal(t, SourceRules, dec.Source)
			if tt.route == model.RouteAnswer {
				assert.Nil(t, dec.Call)
				assert.Nil(t, dec.Message())
				return
			}
			require.NotNil(t, dec.Call)
			assert.Equal(t, dec.Call.Function.Name, dec.Call.ID)
			assert.JSONEq(t, parsers.QueryArguments(tt.question), dec.Call.Function.Arguments)
		})
	}
}

func TestRuleDeciderAnswersOnceEvidenceExists(t *testing.T) {
	transcript := []*schema.Message{
		schema.UserMessage("What is a decorator?"),
		callMessage("c1", model.ToolBookRetriever, `{"query":"decorator"}`),
		schema.ToolMessage("Source: b, Page: 3\nContent: A decorator wraps a function.", "c1"),
	}
	dec, err := NewRuleDecider().Decide(context.Background(), "b", transcript)
	require.NoError(t, err)
	assert.Equal(t, model.RouteAnswer, dec.Route)
}

func TestRuleDeciderIgnoresEarlierTurns(t *testing.T) {
	transcript := []*schema.Message{
		schema.UserMessage("What is a decorator?"),
		callMessage("c1", model.ToolBookRetriever, `{"query":"decorator"}`),
		schema.ToolMessage("Source: b, Page: 3\nContent: ...", "c1"),
		schema.AssistantMessage("A decorator wraps a function.", nil),
		schema.UserMessage("And what is a generator?"),
	}
	dec, err := NewRuleDecider().Decide(context.Background(), "b", transcript)
	require.NoError(t, err)
	assert.Equal(t, model.RouteRetrieveBook, dec.Route)
}

func TestPolicyFallsBackToWebSearch(t *testing.T) {
	ctx := context.Background()
	sentinelTurn := func(content string) []*schema.Message {
		return []*schema.Message{
			schema.UserMessage("Who won the match?"),
			callMessage("c1", model.ToolBookRetriever, `{"query":"match"}`),
			schema.ToolMessage(content, "c1"),
		}
	}
	// the decider must not be consulted for the fallback
	failing := &scriptedModel{err: errors.New("should not be called")}
	decider, err := NewModelDecider(failing, "gemini-2.5-flash", tools.Catalog(nil))
	require.NoError(t, err)

	for _, content := range []string{tools.NoResultsContent, tools.IndexMissingContent("b")} {
		dec, err := NewPolicy(decider, true).Decide(ctx, "b", sentinelTurn(content))
		require.NoError(t, err)
		assert.Equal(t, model.RouteWebSearch, dec.Route)
		assert.Equal(t, SourceFallback, dec.Source)
		require.NotNil(t, dec.Call)
		assert.Equal(t, model.ToolWebSearch, dec.Call.Function.Name)
		assert.Equal(t, model.ToolWebSearch, dec.Call.ID)
		assert.JSONEq(t, `{"query":"Who won the match?"}`, dec.Call.Function.Arguments)
	}
	assert.Zero(t, failing.calls)

	dec, err := NewPolicy(decider, false).Decide(ctx, "b", sentinelTurn(tools.NoResultsContent))
	require.NoError(t, err)
	assert.Equal(t, model.RouteAnswer, dec.Route)
}

func TestPolicyFallsBackOnlyOnce(t *testing.T) {
	transcript := []*schema.Message{
		schema.UserMessage("Who won the match?"),
		callMessage("c1", model.ToolWebSearch, `{"query":"match"}`),
		schema.ToolMessage("No good Google Search Result was found", "c1"),
		callMessage("c2", model.ToolBookRetriever, `{"query":"match"}`),
		schema.ToolMessage(tools.NoResultsContent, "c2"),
	}
	dec, err := NewPolicy(NewRuleDecider(), true).Decide(context.Background(), "b", transcript)
	require.NoError(t, err)
	assert.Equal(t, model.RouteAnswer, dec.Route)
}

func TestModelDecider(t *testing.T) {
	ctx := context.Background()
	transcript := []*schema.Message{schema.UserMessage("What is a decorator?")}

	t.Run("binds the catalog", func(t *testing.T) {
		m := &scriptedModel{replies: []*schema.Message{schema.AssistantMessage("hi", nil)}}
		_, err := NewModelDecider(m, "gemini-2.5-flash", tools.Catalog(tools.WebSearchInfo()))
		require.NoError(t, err)
		require.Len(t, m.bound, 2)
		assert.Equal(t, model.ToolBookRetriever, m.bound[0].Name)
	})

	t.Run("no tool call means answer", func(t *testing.T) {
		reply := schema.AssistantMessage("", nil)
		reply.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 100, CompletionTokens: 5}}
		d, err := NewModelDecider(&scriptedModel{replies: []*schema.Message{reply}}, "gemini-2.5-flash", tools.Catalog(nil))
		require.NoError(t, err)
		dec, err := d.Decide(ctx, "b", transcript)
		require.NoError(t, err)
		assert.Equal(t, model.RouteAnswer, dec.Route)
		require.NotNil(t, dec.Usage)
		assert.Greater(t, dec.Usage.Cost(), 0.0)
	})

	t.Run("tool call keeps provider id", func(t *testing.T) {
		reply := callMessage("provider-1", model.ToolBookRetriever, `{"query":"decorator"}`)
		d, err := NewModelDecider(&scriptedModel{replies: []*schema.Message{reply}}, "m", tools.Catalog(nil))
		require.NoError(t, err)
		dec, err := d.Decide(ctx, "b", transcript)
		require.NoError(t, err)
		assert.Equal(t, model.RouteRetrieveBook, dec.Route)
		assert.Equal(t, "provider-1", dec.Call.ID)
		assert.Equal(t, `{"query":"decorator"}`, dec.Call.Function.Arguments)
	})

	t.Run("missing id falls back to the tool name", func(t *testing.T) {
		reply := callMessage("", model.ToolWebSearch, `{"query":"x"}`)
		d, err := NewModelDecider(&scriptedModel{replies: []*schema.Message{reply}}, "m", tools.Catalog(nil))
		require.NoError(t, err)
		dec, err := d.Decide(ctx, "b", transcript)
		require.NoError(t, err)
		assert.Equal(t, model.ToolWebSearch, dec.Call.ID)
	})

	t.Run("unknown tool", func(t *testing.T) {
		reply := callMessage("x", "delete_book", `{}`)
		d, err := NewModelDecider(&scriptedModel{replies: []*schema.Message{reply}}, "m", tools.Catalog(nil))
		require.NoError(t, err)
		_, err = NewPolicy(d, true).Decide(ctx, "b", transcript)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errx.ErrUnknownRoute))
	})

	t.Run("provider failure is routing unavailable", func(t *testing.T) {
		d, err := NewModelDecider(&scriptedModel{err: errors.New("quota exceeded")}, "m", tools.Catalog(nil))
		require.NoError(t, err)
		_, err = NewPolicy(d, true).Decide(ctx, "b", transcript)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errx.ErrRoutingUnavailable))
		assert.Equal(t, 503, errx.StatusOf(err))
	})
}

func TestIsFiller(t *testing.T) {
	assert.True(t, IsFiller("Hi there"))
	assert.True(t, IsFiller("ok, thanks!"))
	assert.True(t, IsFiller("How are you?"))
	assert.False(t, IsFiller("Hi, what is a closure?"))
	assert.False(t, IsFiller(""))
}
