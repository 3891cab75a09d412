// Package chat runs conversational turns.
//
// The orchestrator resolves the active model backend, assembles the prompt
// from the persona, relevant long-term memories and the short-term history,
// calls the provider and records the finished exchange.
package chat

import (
	"strings"

	"github.com/mirabot/mira/internal/mira/llm"
	"github.com/mirabot/mira/internal/mira/memory"
)

const noMemoriesPlaceholder = "(no previous memories)"

// buildSystemPrompt composes the system instruction from the personality
// text and the retrieved long-term memories. The memory block is always
// present so the model knows the slot exists even when it is empty.
func buildSystemPrompt(personality string, memories []memory.Record) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(personality))
	b.WriteString("\n\nLong-term memory:\n")
	if len(memories) == 0 {
		b.WriteString(noMemoriesPlaceholder)
	} else {
		for i, rec := range memories {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("- ")
			b.WriteString(rec.Content)
		}
	}
	return b.String()
}

// buildMessages assembles the full prompt: system instruction, the buffered
// conversation history in order, then the incoming user message.
func buildMessages(system string, history []memory.Turn, userMessage string) []llm.ChatMessage {
	messages := make([]llm.ChatMessage, 0, len(history)+2)
	messages = append(messages, llm.ChatMessage{Role: memory.RoleSystem, Content: system})
	for _, turn := range history {
		messages = append(messages, llm.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: memory.RoleUser, Content: userMessage})
	return messages
}
