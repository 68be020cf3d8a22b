package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/bookchat-core/server/internal/agent/graph/prompts"
	"github.com/bookchat-core/server/internal/agent/model"
	errx "github.com/bookchat-core/server/internal/core/error"
	logx "github.com/bookchat-core/server/pkg/logger"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ModelDecider asks a tool-calling chat model bound to the tool catalog.
// A reply without tool calls means Answer.
type ModelDecider struct {
	chatModel einomodel.ToolCallingChatModel
	modelName string
}

func NewModelDecider(chatModel einomodel.ToolCallingChatModel, modelName string, catalog []*schema.ToolInfo) (*ModelDecider, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("router chat model is nil")
	}
	bound, err := chatModel.WithTools(catalog)
	if err != nil {
		return nil, fmt.Errorf("bind router tools: %w", err)
	}
	return &ModelDecider{chatModel: bound, modelName: modelName}, nil
}

func (d *ModelDecider) Decide(ctx context.Context, bookID string, transcript []*schema.Message) (Decision, error) {
	msgs, err := prompts.RouterMessages(ctx, bookID, transcript)
	if err != nil {
		return Decision{}, err
	}

	out, err := d.chatModel.Generate(ctx, msgs)
	if err != nil {
		return Decision{}, fmt.Errorf("router model: %w", err)
	}
	if out == nil {
		return Decision{}, fmt.Errorf("router model returned no message")
	}
	usage := model.UsageOf(d.modelName, out)

	if len(out.ToolCalls) == 0 {
		dec := answer(SourceModel)
		dec.Usage = usage
		return dec, nil
	}
	if len(out.ToolCalls) > 1 {
		logx.Warn().Int("tool_calls", len(out.ToolCalls)).Msg("router proposed several tool calls, keeping the first")
	}

	tc := out.ToolCalls[0]
	name := strings.TrimSpace(tc.Function.Name)
	if _, ok := model.RouteForTool(name); !ok {
		return Decision{}, errx.UnknownRoute(name)
	}

	dec := toolDecision(name, tc.Function.Arguments, SourceModel)
	// keep the provider's id when it gave one
	if strings.TrimSpace(tc.ID) != "" {
		dec.Call.ID = tc.ID
	}
	dec.Usage = usage
	return dec, nil
}
