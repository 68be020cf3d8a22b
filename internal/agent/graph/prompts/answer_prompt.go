package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/answer_prompt.txt
var answerSystemPrompt string

// AnswerMessages renders the synthesis instructions after the transcript, so the
// model reads the evidence first and the instructions last.
func AnswerMessages(ctx context.Context, bookID string, transcript []*schema.Message, noEvidence bool) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.MessagesPlaceholder("transcript", false),
		schema.SystemMessage(answerSystemPrompt),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"BookID":     bookID,
		"NoEvidence": noEvidence,
		"transcript": transcript,
	})
	if err != nil {
		return nil, fmt.Errorf("answer prompt render: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("answer prompt render: empty result")
	}
	return msgs, nil
}
