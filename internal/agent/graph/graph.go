package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/bookchat-core/server/internal/agent/graph/conversations"
	"github.com/bookchat-core/server/internal/agent/graph/nodes"
	"github.com/bookchat-core/server/internal/agent/graph/observers"
	"github.com/bookchat-core/server/internal/agent/graph/routing"
	"github.com/bookchat-core/server/internal/agent/graph/tools"
	"github.com/bookchat-core/server/internal/agent/model"
	errx "github.com/bookchat-core/server/internal/core/error"
	"github.com/bookchat-core/server/internal/knowledge"
	logx "github.com/bookchat-core/server/pkg/logger"
	"github.com/bookchat-core/server/pkg/metrics"
)

const (
	RouterModeModel = "model"
	RouterModeRules = "rules"
)

// Runner executes one chat turn end to end, history included.
type Runner interface {
	Invoke(ctx context.Context, in model.TurnInput) (model.Reply, error)
	History(ctx context.Context, sessionID string) ([]model.HistoryRecord, error)
}

// Config holds everything needed to compose the full response graph end-to-end.
// This is a convenience layer over GraphConfig that also constructs the chat models and MessagesManager.
type Config struct {
	APIKey  string
	BaseURL string
	// Client is reused when set, otherwise one is created from APIKey and BaseURL.
	Client *genai.Client

	Router       model.RouterModelConfig
	Answer       model.AnswerModelConfig
	Retrieval    model.RetrievalConfig
	Conversation model.ConversationConfig

	HistoryRepo model.HistoryRepository
	Retriever   knowledge.Retriever
	WebSearch   tool.InvokableTool
}

// GraphConfig holds all configuration needed to build the graph
type GraphConfig struct {
	Decider         routing.Decider
	AnswerModel     einomodel.BaseChatModel
	AnswerModelName string
	Retriever       knowledge.Retriever
	WebSearch       tool.InvokableTool
	TopK            int
	MaxPasses       int
}

// GraphBuilder handles the construction of the agent conversation graph
type GraphBuilder struct {
	config    *GraphConfig
	graph     *compose.Graph[model.TurnInput, *schema.Message]
	webSearch *compose.ToolsNode
}

type graphRunner struct {
	runnable compose.Runnable[model.TurnInput, *schema.Message]
	mm       *conversations.MessagesManager
}

// NewRunner wraps a compiled graph with history persistence.
func NewRunner(runnable compose.Runnable[model.TurnInput, *schema.Message], mm *conversations.MessagesManager) Runner {
	return &graphRunner{runnable: runnable, mm: mm}
}

// DefaultSessionID is the session used when a client does not send one.
func DefaultSessionID(bookID string) string {
	return "default_session_" + bookID
}

func (r *graphRunner) Invoke(ctx context.Context, in model.TurnInput) (model.Reply, error) {
	in.Question = strings.TrimSpace(in.Question)
	in.BookID = strings.TrimSpace(in.BookID)
	if in.Question == "" {
		return model.Reply{}, errx.InvalidInput("question must not be empty")
	}
	if err := knowledge.ValidateBookID(in.BookID); err != nil {
		return model.Reply{}, err
	}
	if strings.TrimSpace(in.SessionID) == "" {
		in.SessionID = DefaultSessionID(in.BookID)
	}

	start := time.Now()
	reply, err := r.run(ctx, in)
	metrics.TurnDuration.Observe(time.Since(start).Seconds())
	metrics.TurnsTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		logx.Error().Err(err).
			Str("session_id", in.SessionID).
			Str("book_id", in.BookID).
			Msg("Turn failed")
		return model.Reply{}, err
	}

	logx.Info().
		Str("session_id", in.SessionID).
		Str("book_id", in.BookID).
		Int("routing_passes", reply.Passes).
		Float64("cost_usd", reply.CostUSD).
		Dur("took", time.Since(start)).
		Msg("Turn answered")
	return reply, nil
}

func (r *graphRunner) run(ctx context.Context, in model.TurnInput) (model.Reply, error) {
	history, err := r.mm.LoadTranscript(ctx, in.SessionID)
	if err != nil {
		return model.Reply{}, err
	}
	in.History = history

	if err := r.mm.SaveUser(ctx, in.SessionID, in.Question); err != nil {
		return model.Reply{}, fmt.Errorf("save user message: %w", err)
	}

	out, err := r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		return model.Reply{}, err
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return model.Reply{}, errx.ToolExecutionFailed(nodes.NodeAnswer, fmt.Errorf("graph returned no answer"))
	}

	// The answer is complete, record it even if the client went away meanwhile.
	if err := r.mm.SaveAssistant(context.WithoutCancel(ctx), in.SessionID, out.Content); err != nil {
		return model.Reply{}, fmt.Errorf("save assistant message: %w", err)
	}

	reply := model.Reply{SessionID: in.SessionID, Answer: out.Content}
	if v, ok := out.Extra["usage_cost_total_usd"].(float64); ok {
		reply.CostUSD = v
	}
	if v, ok := out.Extra["routing_passes"].(int); ok {
		reply.Passes = v
	}
	return reply, nil
}

func (r *graphRunner) History(ctx context.Context, sessionID string) ([]model.HistoryRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errx.InvalidInput("session id must not be empty")
	}
	return r.mm.History(ctx, sessionID)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errx.ErrRoutingBudgetExceeded):
		return "budget_exceeded"
	case errors.Is(err, errx.ErrRoutingUnavailable):
		return "routing_unavailable"
	case errors.Is(err, errx.ErrToolExecutionFailed):
		return "tool_failed"
	case errors.Is(err, errx.ErrUnknownRoute):
		return "unknown_route"
	default:
		return "error"
	}
}

// BuildResponseGraph composes the chat models, the decider and the MessagesManager,
// builds the graph, and returns a Runner.
func BuildResponseGraph(ctx context.Context, cfg Config) (Runner, error) {
	if cfg.HistoryRepo == nil {
		return nil, fmt.Errorf("history repo is nil")
	}
	if cfg.Retriever == nil || cfg.WebSearch == nil {
		return nil, fmt.Errorf("retriever and web search are required")
	}

	client := cfg.Client
	if client == nil {
		var err error
		client, err = nodes.NewGenAIClient(ctx, cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	cms, err := nodes.NewChatModels(ctx, client, nodes.ChatModelConfig{
		RouterConfig: &cfg.Router,
		AnswerConfig: &cfg.Answer,
	})
	if err != nil {
		return nil, err
	}

	webInfo, err := cfg.WebSearch.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("web search tool info: %w", err)
	}

	var decider routing.Decider
	switch cfg.Router.Mode {
	case RouterModeRules:
		decider = routing.NewRuleDecider()
	case RouterModeModel, "":
		decider, err = routing.NewModelDecider(cms.Router, cms.RouterModelName, tools.Catalog(webInfo))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown router mode %q", cfg.Router.Mode)
	}

	runnable, err := BuildGraph(ctx, &GraphConfig{
		Decider:         routing.NewPolicy(decider, cfg.Router.WebFallback),
		AnswerModel:     cms.Answer,
		AnswerModelName: cms.AnswerModelName,
		Retriever:       cfg.Retriever,
		WebSearch:       cfg.WebSearch,
		TopK:            cfg.Retrieval.TopK,
		MaxPasses:       cfg.Router.MaxPasses,
	})
	if err != nil {
		return nil, err
	}

	logx.Debug().Str("router_mode", cfg.Router.Mode).Msg("Response graph built successfully")
	return NewRunner(runnable, conversations.NewMessagesManager(cfg.HistoryRepo, cfg.Conversation)), nil
}

// BuildGraph constructs and returns the compiled agent graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.TurnInput, *schema.Message], error) {
	// Basic config validation
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.Decider == nil {
		return nil, fmt.Errorf("decider is nil")
	}
	if config.AnswerModel == nil {
		return nil, fmt.Errorf("answer model is nil")
	}
	if config.Retriever == nil || config.WebSearch == nil {
		return nil, fmt.Errorf("tools are not properly initialized")
	}
	if config.TopK <= 0 {
		config.TopK = 4
	}
	config.MaxPasses = nodes.NormalizeMaxPasses(config.MaxPasses)

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.TurnInput, *schema.Message](
			compose.WithGenLocalState(func(ctx context.Context) *model.AgentState {
				return &model.AgentState{}
			}),
		),
	}

	if err := builder.setupTools(ctx); err != nil {
		return nil, err
	}
	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// setupTools wraps the web search tool in a tools node
func (b *GraphBuilder) setupTools(ctx context.Context) error {
	toolsNode, err := nodes.NewWebToolsNode(ctx, b.config.WebSearch)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return fmt.Errorf("failed to create tools node: %w", err)
	}
	b.webSearch = toolsNode
	return nil
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	steps := []struct {
		key  string
		node *compose.Lambda
		opts []compose.GraphAddNodeOpt
	}{
		{nodes.NodeIntake, nodes.NewIntakeNode(), []compose.GraphAddNodeOpt{
			compose.WithStatePreHandler(nodes.NewIntakePreHandler()),
			compose.WithStatePostHandler(nodes.NewIntakePostHandler()),
		}},
		{nodes.NodeRouter, nodes.NewRouterNode(b.config.Decider), []compose.GraphAddNodeOpt{
			compose.WithStatePreHandler(nodes.NewRouterPreHandler(b.config.MaxPasses)),
			compose.WithStatePostHandler(nodes.NewRouterPostHandler()),
		}},
		{nodes.NodeRetrieveBook, nodes.NewRetrieveBookNode(b.config.Retriever, b.config.TopK), []compose.GraphAddNodeOpt{
			compose.WithStatePostHandler(nodes.NewToolPostHandler(nodes.NodeRetrieveBook)),
		}},
		{nodes.NodeWebSearch, nodes.NewWebSearchNode(b.webSearch), []compose.GraphAddNodeOpt{
			compose.WithStatePostHandler(nodes.NewToolPostHandler(nodes.NodeWebSearch)),
		}},
		{nodes.NodeAnswer, nodes.NewAnswerNode(b.config.AnswerModel), []compose.GraphAddNodeOpt{
			compose.WithStatePostHandler(nodes.NewAnswerPostHandler(b.config.AnswerModelName)),
		}},
	}

	for _, s := range steps {
		opts := append([]compose.GraphAddNodeOpt{compose.WithNodeName(s.key)}, s.opts...)
		if err := b.graph.AddLambdaNode(s.key, s.node, opts...); err != nil {
			return fmt.Errorf("error adding node %s: %w", s.key, err)
		}
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeIntake},
		{nodes.NodeIntake, nodes.NodeRouter},
		{nodes.NodeRetrieveBook, nodes.NodeRouter},
		{nodes.NodeWebSearch, nodes.NodeRouter},
		{nodes.NodeAnswer, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	targets := make(map[string]bool, len(nodes.RouteTargets))
	for _, node := range nodes.RouteTargets {
		targets[node] = true
	}
	routeBranch := compose.NewGraphBranch(nodes.NewRouteCondition(), targets)
	if err := b.graph.AddBranch(nodes.NodeRouter, routeBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding route branch")
		return fmt.Errorf("error adding route branch: %w", err)
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.TurnInput, *schema.Message], error) {
	// The pass budget trips first, max steps only backstops it.
	runnable, err := b.graph.Compile(ctx,
		compose.WithGraphName("book_chat"),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
		compose.WithMaxRunSteps(nodes.MaxRunSteps(b.config.MaxPasses)),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
