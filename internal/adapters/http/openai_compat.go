package httpadapter

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

// verification carries the reliability data OpenAI-compatible clients would otherwise lose.
type verification struct {
	URSScore            int             `json:"ursScore"`
	URSExplanation      string          `json:"ursExplanation"`
	Sources             []domain.Source `json:"sources"`
	GapsDetected        []domain.Gap    `json:"gapsDetected"`
	HallucinationsFound int             `json:"hallucinationsFound"`
}

type chatCompletionResponse struct {
	openai.ChatCompletionResponse
	Verification verification `json:"verification"`
}

func (rt *Router) listModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, openai.ModelsList{
		Models: []openai.Model{{
			ID:        rt.modelID,
			Object:    "model",
			CreatedAt: 0,
			OwnedBy:   "verified-rag",
		}},
	})
}

func (rt *Router) chatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req openai.ChatCompletionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if model := strings.TrimSpace(req.Model); model != "" && model != rt.modelID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "model not found"})
		return
	}
	question, history, ok := splitChatMessages(req.Messages)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at least one user message is required"})
		return
	}

	result, err := rt.runAnswer(r.Context(), domain.AnswerRequest{
		Question:  question,
		TenantID:  rt.tenantFor(r, ""),
		UserID:    strings.TrimSpace(req.User),
		History:   history,
		RequestID: requestIDFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	completionID := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	if req.Stream {
		stream, err := openCompletionStream(w, completionID, created, rt.modelID)
		if err == nil {
			err = streamAnswer(stream, result.Answer, rt.streamChunkChars)
		}
		if err != nil {
			slog.Warn("chat_completion_stream_failed",
				"request_id", requestIDFromContext(r.Context()),
				"error", err,
			)
		}
		return
	}

	promptTokens := estimateTokens(question)
	for _, turn := range history {
		promptTokens += estimateTokens(turn.Content)
	}
	completionTokens := estimateTokens(result.Answer)

	writeJSON(w, http.StatusOK, chatCompletionResponse{
		ChatCompletionResponse: openai.ChatCompletionResponse{
			ID:      completionID,
			Object:  "chat.completion",
			Created: created,
			Model:   rt.modelID,
			Choices: []openai.ChatCompletionChoice{{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: result.Answer,
				},
				FinishReason: openai.FinishReasonStop,
			}},
			Usage: openai.Usage{
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				TotalTokens:      promptTokens + completionTokens,
			},
		},
		Verification: verification{
			URSScore:            result.URSScore,
			URSExplanation:      result.URSExplanation,
			Sources:             result.Sources,
			GapsDetected:        result.GapsDetected,
			HallucinationsFound: result.HallucinationsFound,
		},
	})
}

// estimateTokens approximates four characters per token.
func estimateTokens(text string) int {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n == 0 {
		return 0
	}
	return max(1, (n+3)/4)
}
