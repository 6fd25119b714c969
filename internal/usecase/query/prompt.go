package query

import (
	"strings"

	"github.com/kailas-cloud/ragflow/internal/domain"
)

const systemPrompt = "use this following context to answer the question:"

// BuildMessages renders the chat prompt: every context item becomes its own
// bullet, followed by the question.
func BuildMessages(question string, contexts []string) []domain.ChatMessage {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\nContext:\n")
	for i, c := range contexts {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	b.WriteString("\nquestion: ")
	b.WriteString(question)
	b.WriteString("\n\nanswer concisely using the context above")

	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: systemPrompt},
		{Role: domain.RoleUser, Content: b.String()},
	}
}
