package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
)

const defaultStreamChunkChars = 120

var errStreamingUnsupported = errors.New("response writer cannot flush")

// completionStream writes chat.completion.chunk events for one completion.
type completionStream struct {
	w       http.ResponseWriter
	flusher http.Flusher

	id      string
	created int64
	model   string
}

func openCompletionStream(w http.ResponseWriter, id string, created int64, model string) (*completionStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &completionStream{w: w, flusher: flusher, id: id, created: created, model: model}, nil
}

func (s *completionStream) send(delta openai.ChatCompletionStreamChoiceDelta, finish openai.FinishReason) error {
	payload, err := json.Marshal(openai.ChatCompletionStreamResponse{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []openai.ChatCompletionStreamChoice{{Delta: delta, FinishReason: finish}},
	})
	if err != nil {
		return err
	}
	return s.event(payload)
}

// close emits the stop chunk followed by the [DONE] sentinel.
func (s *completionStream) close() error {
	if err := s.send(openai.ChatCompletionStreamChoiceDelta{}, openai.FinishReasonStop); err != nil {
		return err
	}
	return s.event([]byte("[DONE]"))
}

func (s *completionStream) event(data []byte) error {
	buf := make([]byte, 0, len(data)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	if _, err := s.w.Write(buf); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// streamAnswer replays an already verified answer as deltas of chunkChars runes.
// Only the first delta carries the assistant role.
func streamAnswer(s *completionStream, answer string, chunkChars int) error {
	if chunkChars <= 0 {
		chunkChars = defaultStreamChunkChars
	}
	for i, part := range splitByRunes(answer, chunkChars) {
		delta := openai.ChatCompletionStreamChoiceDelta{Content: part}
		if i == 0 {
			delta.Role = openai.ChatMessageRoleAssistant
		}
		if err := s.send(delta, ""); err != nil {
			return err
		}
	}
	return s.close()
}

// splitByRunes never splits inside a multibyte character. Empty text yields one
// empty part so the role delta is still sent.
func splitByRunes(text string, n int) []string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		cut, count := 0, 0
		for cut < len(text) && count < n {
			_, size := utf8.DecodeRuneInString(text[cut:])
			cut += size
			count++
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	return parts
}
