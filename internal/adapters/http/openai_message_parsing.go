package httpadapter

import (
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

// splitChatMessages returns the latest user message as the question and the
// user/assistant turns before it as history. System messages are dropped.
func splitChatMessages(messages []openai.ChatCompletionMessage) (string, []domain.ConversationTurn, bool) {
	last := -1
	question := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != openai.ChatMessageRoleUser {
			continue
		}
		if text := extractMessageText(messages[i]); text != "" {
			last = i
			question = text
			break
		}
	}
	if last < 0 {
		return "", nil, false
	}

	history := make([]domain.ConversationTurn, 0, last)
	for _, message := range messages[:last] {
		switch message.Role {
		case openai.ChatMessageRoleUser, openai.ChatMessageRoleAssistant:
		default:
			continue
		}
		text := extractMessageText(message)
		if text == "" {
			continue
		}
		history = append(history, domain.ConversationTurn{Role: message.Role, Content: text})
	}
	return question, history, true
}

func extractMessageText(message openai.ChatCompletionMessage) string {
	if text := strings.TrimSpace(message.Content); text != "" {
		return text
	}
	parts := make([]string, 0, len(message.MultiContent))
	for _, part := range message.MultiContent {
		if part.Type != openai.ChatMessagePartTypeText {
			continue
		}
		if segment := strings.TrimSpace(part.Text); segment != "" {
			parts = append(parts, segment)
		}
	}
	return strings.Join(parts, "\n")
}
