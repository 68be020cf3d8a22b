package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/bookchat-core/server/internal/agent/model"
)

//go:embed template/router_prompt.txt
var routerSystemPrompt string

// RouterMessages renders the routing system prompt followed by the transcript.
// Rendering goes through the eino prompt component so prompt callbacks fire.
func RouterMessages(ctx context.Context, bookID string, transcript []*schema.Message) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(routerSystemPrompt),
		schema.MessagesPlaceholder("transcript", false),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"BookID":     bookID,
		"BookTool":   model.ToolBookRetriever,
		"WebTool":    model.ToolWebSearch,
		"transcript": transcript,
	})
	if err != nil {
		return nil, fmt.Errorf("router prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return nil, fmt.Errorf("router prompt render: empty result")
	}
	return msgs, nil
}
