package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookchat-core/server/internal/agent/graph/prompts"
	"github.com/bookchat-core/server/internal/agent/graph/routing"
	"github.com/bookchat-core/server/internal/agent/graph/tools"
	"github.com/bookchat-core/server/internal/agent/model"
	errx "github.com/bookchat-core/server/internal/core/error"
)

func TestBeginRoutingPass(t *testing.T) {
	state := &model.AgentState{}
	for i := 0; i < 3; i++ {
		require.NoError(t, beginRoutingPass(state, 3))
	}
	err := beginRoutingPass(state, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrRoutingBudgetExceeded))
	assert.Equal(t, "could not resolve after 3 steps", errx.MessageOf(err))
}

func TestMaxRunStepsLeavesRoomForBudget(t *testing.T) {
	for _, passes := range []int{0, 1, 15} {
		n := NormalizeMaxPasses(passes)
		// intake, n router+tool pairs, the failing router pass
		assert.Greater(t, MaxRunSteps(passes), 1+2*n+1)
	}
	assert.Equal(t, DefaultMaxPasses, NormalizeMaxPasses(-1))
}

func TestRouteCondition(t *testing.T) {
	cond := NewRouteCondition()
	ctx := context.Background()

	for route, node := range RouteTargets {
		got, err := cond(ctx, &model.Delta{Next: route})
		require.NoError(t, err)
		assert.Equal(t, node, got)
	}

	_, err := cond(ctx, &model.Delta{Next: model.Route("summarize_book")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrUnknownRoute))
}

func TestTurnHasEvidence(t *testing.T) {
	msgs := []*schema.Message{
		schema.UserMessage("earlier"),
		schema.ToolMessage("old evidence", "c0"),
		schema.AssistantMessage("earlier answer", nil),
		schema.UserMessage("now"),
	}
	assert.False(t, turnHasEvidence(msgs, 3))
	assert.True(t, turnHasEvidence(append(msgs, schema.ToolMessage("new", "c1")), 3))
}

func TestRecordUsageAccumulates(t *testing.T) {
	state := &model.AgentState{SessionID: "s"}
	usage := &model.ModelUsage{Model: "gemini-2.5-flash", Tokens: &schema.TokenUsage{PromptTokens: 1_000_000}}
	recordUsage(state, usage, NodeRouter)
	recordUsage(state, usage, NodeAnswer)
	recordUsage(state, nil, NodeAnswer)
	assert.InDelta(t, 0.60, state.TotalCostUSD, 1e-9)
}

type geminiName struct {
	Name string `json:"name"`
}

type geminiRequest struct {
	Contents []struct {
		Parts []struct {
			FunctionCall     *geminiName `json:"functionCall"`
			FunctionResponse *geminiName `json:"functionResponse"`
		} `json:"parts"`
	} `json:"contents"`
}

// fakeGemini answers every generateContent call with plain text and keeps the request bodies.
type fakeGemini struct {
	mu       sync.Mutex
	requests []geminiRequest
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req geminiRequest
	_ = json.Unmarshal(body, &req)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{
		"candidates": [{"content": {"role": "model", "parts": [{"text": "Spain won the final."}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 120, "candidatesTokenCount": 6, "totalTokenCount": 126}
	}`)
}

func functionNames(req geminiRequest) (calls, responses []string) {
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if p.FunctionCall != nil {
				calls = append(calls, p.FunctionCall.Name)
			}
			if p.FunctionResponse != nil {
				responses = append(responses, p.FunctionResponse.Name)
			}
		}
	}
	return calls, responses
}

func TestGeminiFunctionResponsesMatchCalls(t *testing.T) {
	ctx := context.Background()
	gemini := &fakeGemini{}
	srv := httptest.NewServer(gemini)
	defer srv.Close()

	client, err := NewGenAIClient(ctx, "test-key", srv.URL)
	require.NoError(t, err)
	models, err := NewChatModels(ctx, client, ChatModelConfig{
		RouterConfig: &model.RouterModelConfig{Model: "gemini-2.5-flash", MaxTokens: 256},
		AnswerConfig: &model.AnswerModelConfig{Model: "gemini-2.5-flash", MaxTokens: 512},
	})
	require.NoError(t, err)

	// book retrieval finds nothing, the policy falls back to the web
	policy := routing.NewPolicy(routing.NewRuleDecider(), true)
	transcript := []*schema.Message{schema.UserMessage("Who won the Euro 2024 final?")}

	first, err := policy.Decide(ctx, "fluent-python", transcript)
	require.NoError(t, err)
	require.Equal(t, model.RouteRetrieveBook, first.Route)
	transcript = append(transcript, first.Message(), schema.ToolMessage(tools.NoResultsContent, first.Call.ID))

	second, err := policy.Decide(ctx, "fluent-python", transcript)
	require.NoError(t, err)
	require.Equal(t, routing.SourceFallback, second.Source)
	transcript = append(transcript, second.Message(), schema.ToolMessage("Spain beat England 2-1.", second.Call.ID))

	router, err := routing.NewModelDecider(models.Router, models.RouterModelName, tools.Catalog(nil))
	require.NoError(t, err)
	dec, err := router.Decide(ctx, "fluent-python", transcript)
	require.NoError(t, err)
	assert.Equal(t, model.RouteAnswer, dec.Route)

	msgs, err := prompts.AnswerMessages(ctx, "fluent-python", transcript, false)
	require.NoError(t, err)
	out, err := models.Answer.Generate(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, "Spain won the final.", strings.TrimSpace(out.Content))

	gemini.mu.Lock()
	defer gemini.mu.Unlock()
	require.Len(t, gemini.requests, 2)
	for _, req := range gemini.requests {
		calls, responses := functionNames(req)
		assert.Equal(t, []string{model.ToolBookRetriever, model.ToolWebSearch}, calls)
		assert.Equal(t, calls, responses)
	}
}
