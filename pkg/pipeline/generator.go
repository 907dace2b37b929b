package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Generator produces a candidate SQL statement for a question, given
// the schema context, prior conversation turns, and the rejection
// feedback from earlier attempts in this run.
type Generator interface {
	GenerateSQL(ctx context.Context, question, schemaContext string, history []*schema.Message, priorErrors []string) (string, error)
}

// ModelGenerator generates SQL with a chat model. The model is asked
// for a single statement; markdown fences in the reply are stripped.
type ModelGenerator struct {
	chatModel model.BaseChatModel
	dialect   string
	maxRows   int
}

func NewModelGenerator(chatModel model.BaseChatModel, dialect string, maxRows int) *ModelGenerator {
	return &ModelGenerator{chatModel: chatModel, dialect: dialect, maxRows: maxRows}
}

const generatorSystemPrompt = `You are a SQL generator for a %s database. Rules:
- Output exactly one SQL statement and nothing else: no explanation, no markdown fence.
- Only read queries: the statement must start with SELECT or WITH.
- Never write INSERT, UPDATE, DELETE, DROP, ALTER, TRUNCATE, or CREATE.
- Only reference tables and columns that appear in the schema below.
- Results are capped at %d rows; add ORDER BY when the question implies ranking.

Schema:
%s`

func (g *ModelGenerator) GenerateSQL(ctx context.Context, question, schemaContext string, history []*schema.Message, priorErrors []string) (string, error) {
	messages := make([]*schema.Message, 0, len(history)+3)
	messages = append(messages, schema.SystemMessage(fmt.Sprintf(generatorSystemPrompt, g.dialect, g.maxRows, schemaContext)))
	// Earlier turns let follow-up questions resolve references like
	// "the same period" or "those customers".
	messages = append(messages, history...)
	messages = append(messages, schema.UserMessage(question))

	if len(priorErrors) > 0 {
		var b strings.Builder
		b.WriteString("Your previous attempts failed:\n")
		for i, e := range priorErrors {
			fmt.Fprintf(&b, "%d. %s\n", i+1, e)
		}
		b.WriteString("Write a corrected statement.")
		messages = append(messages, schema.UserMessage(b.String()))
	}

	reply, err := g.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate sql: %w", err)
	}

	sqlText := StripMarkdownSQL(reply.Content)
	if sqlText == "" {
		return "", fmt.Errorf("model returned no sql")
	}
	return sqlText, nil
}

// StripMarkdownSQL removes a surrounding markdown code fence, if any,
// and trims whitespace. Models fence their SQL despite instructions
// often enough that this is load-bearing.
func StripMarkdownSQL(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line (```sql).
		first := strings.TrimSpace(trimmed[:idx])
		if first == "" || strings.EqualFold(first, "sql") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
