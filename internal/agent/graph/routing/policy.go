package routing

import (
	"context"
	"errors"

	"github.com/bookchat-core/server/internal/agent/graph/parsers"
	"github.com/bookchat-core/server/internal/agent/graph/tools"
	"github.com/bookchat-core/server/internal/agent/model"
	errx "github.com/bookchat-core/server/internal/core/error"
	logx "github.com/bookchat-core/server/pkg/logger"
	"github.com/cloudwego/eino/schema"
)

// Policy wraps a Decider with the deterministic part of the routing contract:
// an empty or missing book result is followed by exactly one web search when
// the fallback is enabled, and by Answer otherwise.
type Policy struct {
	decider     Decider
	webFallback bool
}

func NewPolicy(decider Decider, webFallback bool) *Policy {
	return &Policy{decider: decider, webFallback: webFallback}
}

func (p *Policy) Decide(ctx context.Context, bookID string, transcript []*schema.Message) (Decision, error) {
	v := viewOf(transcript)

	if last, toolName := v.lastEvidence(); last != nil && toolName == model.ToolBookRetriever && tools.IsRetrievalSentinel(last.Content) {
		if p.webFallback && !v.used(model.ToolWebSearch) {
			logx.Debug().Str("book_id", bookID).Msg("book had nothing, falling back to web search")
			return toolDecision(model.ToolWebSearch, parsers.QueryArguments(v.question), SourceFallback), nil
		}
		return answer(SourceFallback), nil
	}

	dec, err := p.decider.Decide(ctx, bookID, transcript)
	if err != nil {
		if errors.Is(err, errx.ErrUnknownRoute) {
			return Decision{}, err
		}
		return Decision{}, errx.RoutingUnavailable(err)
	}
	return dec, nil
}
