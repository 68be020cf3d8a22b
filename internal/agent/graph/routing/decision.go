// Package routing decides, once per routing pass, whether a turn needs the
// book, the web or can be answered directly.
package routing

import (
	"context"
	"strings"

	"github.com/bookchat-core/server/internal/agent/model"
	"github.com/cloudwego/eino/schema"
)

// Decision is the outcome of one routing pass: Answer, or exactly one tool call.
type Decision struct {
	Route  model.Route
	Call   *schema.ToolCall
	Usage  *model.ModelUsage
	Source string
}

// Decision sources, used as a metrics label.
const (
	SourceModel    = "model"
	SourceRules    = "rules"
	SourceFallback = "fallback"
)

// Decider computes a decision from the full transcript.
type Decider interface {
	Decide(ctx context.Context, bookID string, transcript []*schema.Message) (Decision, error)
}

func answer(source string) Decision {
	return Decision{Route: model.RouteAnswer, Source: source}
}

// toolDecision builds a tool decision for a catalog tool. The call id is the tool
// name: the Gemini adapter encodes a tool message's ToolCallID as the
// functionResponse name, which must match the declared function.
func toolDecision(toolName, arguments, source string) Decision {
	route, _ := model.RouteForTool(toolName)
	return Decision{
		Route:  route,
		Source: source,
		Call: &schema.ToolCall{
			ID:       toolName,
			Type:     "function",
			Function: schema.FunctionCall{Name: toolName, Arguments: arguments},
		},
	}
}

// Message is the assistant message recording the decision, nil for Answer.
func (d Decision) Message() *schema.Message {
	if d.Call == nil {
		return nil
	}
	return schema.AssistantMessage("", []schema.ToolCall{*d.Call})
}

// turnView is the part of the transcript the policies look at.
type turnView struct {
	question string
	// evidence holds this turn's tool messages in order.
	evidence []*schema.Message
	// calls maps this turn's call ids to tool names.
	calls map[string]string
}

func viewOf(transcript []*schema.Message) turnView {
	v := turnView{calls: map[string]string{}}
	start := -1
	for i := len(transcript) - 1; i >= 0; i-- {
		if m := transcript[i]; m != nil && m.Role == schema.User {
			start = i
			v.question = strings.TrimSpace(m.Content)
			break
		}
	}
	if start < 0 {
		return v
	}
	for _, m := range transcript[start+1:] {
		if m == nil {
			continue
		}
		switch m.Role {
		case schema.Assistant:
			for _, tc := range m.ToolCalls {
				v.calls[tc.ID] = tc.Function.Name
			}
		case schema.Tool:
			v.evidence = append(v.evidence, m)
		}
	}
	return v
}

func (v turnView) lastEvidence() (*schema.Message, string) {
	if len(v.evidence) == 0 {
		return nil, ""
	}
	last := v.evidence[len(v.evidence)-1]
	return last, v.calls[last.ToolCallID]
}

func (v turnView) used(toolName string) bool {
	for _, m := range v.evidence {
		if v.calls[m.ToolCallID] == toolName {
			return true
		}
	}
	return false
}
