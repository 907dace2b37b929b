package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Answerer synthesizes a natural-language answer from executed query
// results.
type Answerer interface {
	SynthesizeAnswer(ctx context.Context, question, sqlText string, rows []map[string]any) (string, error)
}

// ModelAnswerer synthesizes answers with a chat model.
type ModelAnswerer struct {
	chatModel model.BaseChatModel
}

func NewModelAnswerer(chatModel model.BaseChatModel) *ModelAnswerer {
	return &ModelAnswerer{chatModel: chatModel}
}

const answerSystemPrompt = `You answer data questions. You are given the user's question, the SQL
query that was run, and its results as JSON. Answer the question
directly in plain language, citing the concrete values from the
results. If the results are empty, say that no matching data was
found. Do not mention SQL or the query unless the user asked about it.`

func (a *ModelAnswerer) SynthesizeAnswer(ctx context.Context, question, sqlText string, rows []map[string]any) (string, error) {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result rows: %w", err)
	}

	reply, err := a.chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(answerSystemPrompt),
		schema.UserMessage(fmt.Sprintf("Question: %s\n\nQuery:\n%s\n\nResults:\n%s", question, sqlText, string(data))),
	})
	if err != nil {
		return "", fmt.Errorf("synthesize answer: %w", err)
	}
	return reply.Content, nil
}

// exhaustedAnswer is the graceful text returned when the attempt
// budget runs out. It goes to the user as a normal answer, not an
// error.
func exhaustedAnswer(question string, attempts int, lastErr string) string {
	msg := fmt.Sprintf("I could not produce a working query for %q after %d attempts.", question, attempts)
	if lastErr != "" {
		msg += fmt.Sprintf(" The last attempt failed with: %s.", lastErr)
	}
	msg += " Try rephrasing the question or naming the tables you are interested in."
	return msg
}
