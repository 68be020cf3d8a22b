package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/bookchat-core/server/internal/agent/graph/parsers"
	"github.com/bookchat-core/server/internal/agent/graph/prompts"
	"github.com/bookchat-core/server/internal/agent/graph/routing"
	"github.com/bookchat-core/server/internal/agent/graph/tools"
	"github.com/bookchat-core/server/internal/agent/model"
	errx "github.com/bookchat-core/server/internal/core/error"
	"github.com/bookchat-core/server/internal/knowledge"
	logx "github.com/bookchat-core/server/pkg/logger"
	"github.com/bookchat-core/server/pkg/metrics"
)

// Node keys of the response graph.
const (
	NodeIntake       = "intake"
	NodeRouter       = "router"
	NodeRetrieveBook = "retrieve_book"
	NodeWebSearch    = "web_search"
	NodeAnswer       = "answer"
)

// RouteTargets maps each route to the node executing it. A route missing here
// fails the turn with UnknownRoute instead of silently ending it.
var RouteTargets = map[model.Route]string{
	model.RouteRetrieveBook: NodeRetrieveBook,
	model.RouteWebSearch:    NodeWebSearch,
	model.RouteAnswer:       NodeAnswer,
}

// snapshot is a read-only copy of what a node needs from the state.
type snapshot struct {
	bookID     string
	sessionID  string
	transcript []*schema.Message
	turnStart  int
	call       *schema.ToolCall
}

func readState(ctx context.Context) (snapshot, error) {
	var snap snapshot
	err := compose.ProcessState(ctx, func(_ context.Context, s *model.AgentState) error {
		snap = snapshot{
			bookID:     s.BookID,
			sessionID:  s.SessionID,
			transcript: s.Transcript(),
			turnStart:  s.TurnStart,
			call:       s.PendingCall,
		}
		return nil
	})
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to access state: %w", err)
	}
	return snap, nil
}

// =========== Intake ===========

// NewIntakePreHandler seeds the per-turn state with the session, the book and the loaded history.
func NewIntakePreHandler() func(context.Context, model.TurnInput, *model.AgentState) (model.TurnInput, error) {
	return func(ctx context.Context, in model.TurnInput, s *model.AgentState) (model.TurnInput, error) {
		s.BookID = in.BookID
		s.SessionID = in.SessionID
		s.RoutingPasses = 0
		s.WebSearches = 0
		s.TotalCostUSD = 0
		for _, m := range in.History {
			if m == nil {
				continue
			}
			if err := s.Append(m); err != nil {
				return in, fmt.Errorf("load history: %w", err)
			}
		}
		s.TurnStart = len(s.Messages)
		return in, nil
	}
}

// NewIntakeNode turns the question into the turn's user message.
func NewIntakeNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.TurnInput) (*model.Delta, error) {
		return &model.Delta{Messages: []*schema.Message{schema.UserMessage(in.Question)}}, nil
	})
}

// NewIntakePostHandler appends the user message.
func NewIntakePostHandler() func(context.Context, *model.Delta, *model.AgentState) (*model.Delta, error) {
	return func(ctx context.Context, out *model.Delta, state *model.AgentState) (*model.Delta, error) {
		if err := mergeDelta(state, out, NodeIntake); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// =========== Router ===========

func NewRouterPreHandler(maxPasses int) func(context.Context, *model.Delta, *model.AgentState) (*model.Delta, error) {
	return func(ctx context.Context, in *model.Delta, state *model.AgentState) (*model.Delta, error) {
		if err := beginRoutingPass(state, maxPasses); err != nil {
			return nil, err
		}
		return in, nil
	}
}

// NewRouterNode asks the decider for the next step. The decision is returned as a
// delta carrying the assistant tool-call message, if any.
func NewRouterNode(decider routing.Decider) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *model.Delta) (*model.Delta, error) {
		snap, err := readState(ctx)
		if err != nil {
			return nil, err
		}
		dec, err := decider.Decide(ctx, snap.bookID, snap.transcript)
		if err != nil {
			return nil, err
		}
		metrics.RoutingDecisionsTotal.WithLabelValues(dec.Route.String(), dec.Source).Inc()
		logx.Debug().
			Str("session_id", snap.sessionID).
			Str("route", dec.Route.String()).
			Str("source", dec.Source).
			Msg("Routing decision")

		out := &model.Delta{Next: dec.Route, Call: dec.Call, Usage: dec.Usage}
		if msg := dec.Message(); msg != nil {
			out.Messages = []*schema.Message{msg}
		}
		return out, nil
	})
}

func NewRouterPostHandler() func(context.Context, *model.Delta, *model.AgentState) (*model.Delta, error) {
	return func(ctx context.Context, out *model.Delta, state *model.AgentState) (*model.Delta, error) {
		if err := mergeDelta(state, out, NodeRouter); err != nil {
			return nil, err
		}
		state.Next = out.Next
		state.PendingCall = out.Call
		return out, nil
	}
}

// NewRouteCondition dispatches on the decision through RouteTargets.
func NewRouteCondition() func(context.Context, *model.Delta) (string, error) {
	return func(ctx context.Context, in *model.Delta) (string, error) {
		if in == nil {
			return "", errx.UnknownRoute("")
		}
		target, ok := RouteTargets[in.Next]
		if !ok {
			return "", errx.UnknownRoute(in.Next.String())
		}
		return target, nil
	}
}

// =========== Tools ===========

// NewRetrieveBookNode searches the book bound to the conversation. The book id
// always comes from the state, never from model-produced arguments.
func NewRetrieveBookNode(retriever knowledge.Retriever, topK int) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *model.Delta) (*model.Delta, error) {
		snap, err := readState(ctx)
		if err != nil {
			return nil, err
		}
		if snap.call == nil {
			return nil, fmt.Errorf("retrieve book: no pending tool call")
		}

		query := questionOf(snap.transcript)
		if args, err := parsers.ParseToolArguments(snap.call.Function.Arguments); err == nil {
			if q, err := args.Query(); err == nil {
				query = q
			}
		}

		passages, err := retriever.Retrieve(ctx, snap.bookID, query, topK)
		var content string
		switch {
		case errors.Is(err, errx.ErrIndexNotFound):
			logx.Warn().Str("book_id", snap.bookID).Msg("No index for book")
			content = tools.IndexMissingContent(snap.bookID)
			err = nil
		case err != nil:
			metrics.ToolCallsTotal.WithLabelValues(model.ToolBookRetriever, toolStatus(err)).Inc()
			return nil, errx.ToolExecutionFailed(model.ToolBookRetriever, err)
		default:
			content = tools.FormatPassages(passages)
		}
		metrics.ToolCallsTotal.WithLabelValues(model.ToolBookRetriever, toolStatus(err)).Inc()

		logx.Debug().
			Str("book_id", snap.bookID).
			Str("query", query).
			Int("passages", len(passages)).
			Msg("Book retrieval done")

		return &model.Delta{Messages: []*schema.Message{schema.ToolMessage(content, snap.call.ID)}}, nil
	})
}

// NewWebToolsNode wraps the web search tool in an eino tools node so tool
// callbacks fire for it. Arguments are forwarded as produced, with the query normalized.
func NewWebToolsNode(ctx context.Context, webSearch tool.InvokableTool) (*compose.ToolsNode, error) {
	return compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               []tool.BaseTool{webSearch},
		ExecuteSequentially: true,
		ToolArgumentsHandler: func(ctx context.Context, name, arguments string) (string, error) {
			args, err := parsers.ParseToolArguments(arguments)
			if err != nil {
				// keep original if not JSON
				return arguments, nil
			}
			if q, err := args.Query(); err == nil {
				args["query"] = q
			}
			b, err := json.Marshal(args)
			if err != nil {
				return arguments, nil
			}
			return string(b), nil
		},
	})
}

// NewWebSearchNode runs the pending web_search call through the tools node.
func NewWebSearchNode(toolsNode *compose.ToolsNode) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *model.Delta) (*model.Delta, error) {
		snap, err := readState(ctx)
		if err != nil {
			return nil, err
		}
		if snap.call == nil {
			return nil, fmt.Errorf("web search: no pending tool call")
		}

		out, err := toolsNode.Invoke(ctx, schema.AssistantMessage("", []schema.ToolCall{*snap.call}))
		metrics.ToolCallsTotal.WithLabelValues(model.ToolWebSearch, toolStatus(err)).Inc()
		if err != nil {
			return nil, errx.ToolExecutionFailed(model.ToolWebSearch, err)
		}
		if len(out) != 1 || out[0] == nil {
			return nil, errx.ToolExecutionFailed(model.ToolWebSearch, fmt.Errorf("expected one tool result, got %d", len(out)))
		}
		msg := out[0]
		if strings.TrimSpace(msg.ToolCallID) == "" {
			msg.ToolCallID = snap.call.ID
		}
		return &model.Delta{Messages: []*schema.Message{msg}}, nil
	})
}

// NewToolPostHandler merges a tool result and clears the pending call.
func NewToolPostHandler(node string) func(context.Context, *model.Delta, *model.AgentState) (*model.Delta, error) {
	return func(ctx context.Context, out *model.Delta, state *model.AgentState) (*model.Delta, error) {
		if err := mergeDelta(state, out, node); err != nil {
			return nil, err
		}
		if node == NodeWebSearch {
			state.WebSearches++
		}
		state.PendingCall = nil
		return out, nil
	}
}

// =========== Answer ===========

// NewAnswerNode synthesizes the final reply from the transcript. Without evidence
// in this turn the prompt asks for a direct answer that does not cite the book.
func NewAnswerNode(chatModel einomodel.BaseChatModel) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *model.Delta) (*schema.Message, error) {
		snap, err := readState(ctx)
		if err != nil {
			return nil, err
		}

		msgs, err := prompts.AnswerMessages(ctx, snap.bookID, snap.transcript, !turnHasEvidence(snap.transcript, snap.turnStart))
		if err != nil {
			return nil, err
		}

		logx.Debug().Msg("AI thinking...")
		out, err := chatModel.Generate(ctx, msgs)
		if err != nil {
			return nil, errx.ToolExecutionFailed(NodeAnswer, err)
		}
		if out == nil {
			return nil, errx.ToolExecutionFailed(NodeAnswer, fmt.Errorf("model returned no message"))
		}
		// safety and max-token finishes come back with no text
		if strings.TrimSpace(out.Content) == "" {
			finish := ""
			if out.ResponseMeta != nil {
				finish = out.ResponseMeta.FinishReason
			}
			logx.Warn().Str("session_id", snap.sessionID).Str("finish_reason", finish).Msg("Answer model returned empty content")
			return nil, errx.ToolExecutionFailed(NodeAnswer, fmt.Errorf("model returned empty answer (finish reason %q)", finish))
		}
		return out, nil
	})
}

// NewAnswerPostHandler records usage and appends the final assistant message.
func NewAnswerPostHandler(modelName string) func(context.Context, *schema.Message, *model.AgentState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.AgentState) (*schema.Message, error) {
		final := schema.AssistantMessage(strings.TrimSpace(out.Content), nil)
		final.ResponseMeta = out.ResponseMeta

		recordUsage(state, model.UsageOf(modelName, out), NodeAnswer)
		if err := state.Append(final); err != nil {
			return nil, err
		}

		// Expose running total in the message Extra for visibility
		final.Extra = map[string]any{
			"usage_cost_total_usd": state.TotalCostUSD,
			"routing_passes":       state.RoutingPasses,
		}
		logx.Debug().Msg("AI response ready")
		return final, nil
	}
}

func questionOf(transcript []*schema.Message) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		if m := transcript[i]; m != nil && m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
