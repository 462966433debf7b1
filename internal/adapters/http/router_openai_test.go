package httpadapter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

func postChat(t *testing.T, handler http.Handler, req openai.ChatCompletionRequest, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(payload))
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httpReq)
	return res
}

func TestListModelsReturnsConfiguredModel(t *testing.T) {
	handler := newTestHandler(testConfig(), &fakeAnswerService{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var list openai.ModelsList
	if err := json.Unmarshal(res.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode models: %v", err)
	}
	if len(list.Models) != 1 || list.Models[0].ID != "verified-rag-v1" {
		t.Fatalf("unexpected models %+v", list.Models)
	}
}

func TestChatCompletionsUsesLastUserMessageAndHistory(t *testing.T) {
	answers := &fakeAnswerService{}
	handler := newTestHandler(testConfig(), answers)

	res := postChat(t, handler, openai.ChatCompletionRequest{
		Model: "verified-rag-v1",
		User:  "u-7",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Rispondi in italiano."},
			{Role: openai.ChatMessageRoleUser, Content: "Parlami del bando."},
			{Role: openai.ChatMessageRoleAssistant, Content: "Il bando riguarda le borse di studio."},
			{Role: openai.ChatMessageRoleUser, MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: "Qual è il termine?"},
			}},
		},
	}, map[string]string{tenantHeader: "t1"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	got := answers.last()
	if got.Question != "Qual è il termine?" || got.TenantID != "t1" || got.UserID != "u-7" {
		t.Fatalf("unexpected answer request %+v", got)
	}
	if len(got.History) != 2 || got.History[0].Role != "user" || got.History[1].Role != "assistant" {
		t.Fatalf("expected user/assistant history without system turn, got %+v", got.History)
	}

	var body chatCompletionResponse
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode completion: %v", err)
	}
	if len(body.Choices) != 1 || body.Choices[0].Message.Content != acceptedResult().Answer {
		t.Fatalf("unexpected choices %+v", body.Choices)
	}
	if body.Choices[0].FinishReason != openai.FinishReasonStop {
		t.Fatalf("expected stop finish reason, got %q", body.Choices[0].FinishReason)
	}
	if body.Verification.URSScore != 95 || len(body.Verification.Sources) != 1 {
		t.Fatalf("unexpected verification block %+v", body.Verification)
	}
	if body.Usage.TotalTokens != body.Usage.PromptTokens+body.Usage.CompletionTokens || body.Usage.CompletionTokens == 0 {
		t.Fatalf("unexpected usage %+v", body.Usage)
	}
}

func TestChatCompletionsValidation(t *testing.T) {
	handler := newTestHandler(testConfig(), &fakeAnswerService{})

	res := postChat(t, handler, openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: "solo sistema"}},
	}, nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without user message, got %d", res.Code)
	}

	res = postChat(t, handler, openai.ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "ciao"}},
	}, nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown model, got %d", res.Code)
	}
}

func TestChatCompletionsStreamsVerifiedAnswer(t *testing.T) {
	handler := newTestHandler(testConfig(), &fakeAnswerService{})

	res := postChat(t, handler, openai.ChatCompletionRequest{
		Stream:   true,
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "Qual è il termine?"}},
	}, map[string]string{tenantHeader: "t1"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	var (
		text   strings.Builder
		finish openai.FinishReason
		done   bool
	)
	scanner := bufio.NewScanner(strings.NewReader(res.Body.String()))
	for scanner.Scan() {
		line := strings.TrimPrefix(scanner.Text(), "data: ")
		if line == "" || line == scanner.Text() {
			continue
		}
		if line == "[DONE]" {
			done = true
			continue
		}
		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			t.Fatalf("decode chunk %q: %v", line, err)
		}
		text.WriteString(chunk.Choices[0].Delta.Content)
		if chunk.Choices[0].FinishReason != "" {
			finish = chunk.Choices[0].FinishReason
		}
	}
	if !done || finish != openai.FinishReasonStop {
		t.Fatalf("expected stop chunk and [DONE], got finish=%q done=%v", finish, done)
	}
	if text.String() != acceptedResult().Answer {
		t.Fatalf("stream reassembled to %q", text.String())
	}
}

func TestChatCompletionsMapsFatalBackendTo503(t *testing.T) {
	handler := newTestHandler(testConfig(), &fakeAnswerService{err: domain.WrapError(domain.ErrBackendQuota, "generate", errors.New("insufficient_quota"))})
	res := postChat(t, handler, openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "ciao"}},
	}, nil)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "insufficient_quota") {
		t.Fatalf("backend detail leaked: %s", res.Body.String())
	}
}

func TestSplitByRunesKeepsMultibyteCharacters(t *testing.T) {
	parts := splitByRunes("perché è così", 4)
	if strings.Join(parts, "") != "perché è così" {
		t.Fatalf("unexpected join %q", strings.Join(parts, ""))
	}
	for _, part := range parts[:len(parts)-1] {
		if len([]rune(part)) != 4 {
			t.Fatalf("unexpected part %q", part)
		}
	}
}
