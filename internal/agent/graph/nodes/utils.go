package nodes

import (
	"github.com/bookchat-core/server/internal/agent/model"
	errx "github.com/bookchat-core/server/internal/core/error"
	logx "github.com/bookchat-core/server/pkg/logger"
	"github.com/bookchat-core/server/pkg/metrics"
	"github.com/cloudwego/eino/schema"
)

const DefaultMaxPasses = 15

// NormalizeMaxPasses returns a sane default when the provided value is invalid.
func NormalizeMaxPasses(n int) int {
	if n <= 0 {
		return DefaultMaxPasses
	}
	return n
}

// MaxRunSteps bounds the compiled graph so it can never outrun the pass budget:
// each pass is a router step plus at most one tool step, with room for intake and answer.
func MaxRunSteps(maxPasses int) int {
	return 2*NormalizeMaxPasses(maxPasses) + 6
}

// beginRoutingPass counts a router entry and fails once the budget is spent.
func beginRoutingPass(state *model.AgentState, maxPasses int) error {
	maxPasses = NormalizeMaxPasses(maxPasses)
	state.RoutingPasses++
	if state.RoutingPasses > maxPasses {
		logx.Warn().
			Str("session_id", state.SessionID).
			Int("routing_passes", state.RoutingPasses).
			Int("max_passes", maxPasses).
			Msg("Routing budget exceeded")
		return errx.RoutingBudgetExceeded(maxPasses)
	}
	return nil
}

// mergeDelta applies a node's contribution to the state.
func mergeDelta(state *model.AgentState, d *model.Delta, node string) error {
	if d == nil {
		return nil
	}
	if err := state.Append(d.Messages...); err != nil {
		return err
	}
	recordUsage(state, d.Usage, node)
	return nil
}

// recordUsage accumulates the cost of one model invocation into the turn.
func recordUsage(state *model.AgentState, usage *model.ModelUsage, node string) {
	if usage == nil || usage.Tokens == nil {
		return
	}
	pricing := model.ResolvePricing(usage.Model)
	inC, outC, totalC := model.ComputeCost(usage.Tokens, pricing)
	state.TotalCostUSD += totalC
	metrics.LLMCostUSD.WithLabelValues(usage.Model).Add(totalC)

	logx.Debug().
		Str("session_id", state.SessionID).
		Str("node", node).
		Str("model", usage.Model).
		Int("prompt_tokens", usage.Tokens.PromptTokens).
		Int("completion_tokens", usage.Tokens.CompletionTokens).
		Int("total_tokens", usage.Tokens.TotalTokens).
		Float64("input_cost_usd", inC).
		Float64("output_cost_usd", outC).
		Float64("total_cost_usd", totalC).
		Msg("LLM usage")
}

// turnHasEvidence reports whether any tool message was added since the turn started.
func turnHasEvidence(msgs []*schema.Message, turnStart int) bool {
	if turnStart < 0 || turnStart > len(msgs) {
		turnStart = 0
	}
	for _, m := range msgs[turnStart:] {
		if m != nil && m.Role == schema.Tool {
			return true
		}
	}
	return false
}

func toolStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
