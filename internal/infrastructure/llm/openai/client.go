package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/infrastructure/resilience"
)

// zeroTemperature stands in for 0: the client omits a zero temperature from the
// request body, which would leave the server default (1.0) in effect.
const zeroTemperature = math.SmallestNonzeroFloat32

type Config struct {
	APIKey     string
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type Client struct {
	api      *goopenai.Client
	cfg      Config
	executor *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "openai.new", errors.New("api key is required"))
	}
	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = goopenai.GPT4oMini
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = string(goopenai.SmallEmbedding3)
	}
	return &Client{
		api:      goopenai.NewClientWithConfig(clientConfig),
		cfg:      cfg,
		executor: executor,
	}, nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, messages []domain.ChatMessage, opts domain.GenerateOptions) (*domain.Generation, error) {
	if len(messages) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "openai.generate", errors.New("no messages"))
	}

	req := goopenai.ChatCompletionRequest{
		Model:       g.client.cfg.ChatModel,
		Messages:    toChatMessages(messages),
		MaxTokens:   opts.MaxTokens,
		Temperature: float32(opts.Temperature),
	}
	if opts.Temperature <= 0 {
		req.Temperature = zeroTemperature
	}

	resp, err := resilience.Do(ctx, g.client.executor, "openai.generate", func(ctx context.Context) (goopenai.ChatCompletionResponse, error) {
		resp, err := g.client.api.CreateChatCompletion(ctx, req)
		return resp, mapError("openai.generate", err)
	}, resilience.ClassifyDomainError)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, domain.WrapError(domain.ErrTemporary, "openai.generate", errors.New("no choices in response"))
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &domain.Generation{
		Content: strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:   model,
		Usage: domain.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, text string) (*domain.Embedding, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "openai.embed", errors.New("empty text"))
	}

	req := goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: goopenai.EmbeddingModel(e.client.cfg.EmbedModel),
	}
	resp, err := resilience.Do(ctx, e.client.executor, "openai.embed", func(ctx context.Context) (goopenai.EmbeddingResponse, error) {
		resp, err := e.client.api.CreateEmbeddings(ctx, req)
		return resp, mapError("openai.embed", err)
	}, resilience.ClassifyDomainError)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, domain.WrapError(domain.ErrTemporary, "openai.embed", errors.New("empty embedding result"))
	}
	return &domain.Embedding{Vector: resp.Data[0].Embedding, Tokens: resp.Usage.PromptTokens}, nil
}

func toChatMessages(messages []domain.ChatMessage) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := goopenai.ChatMessageRoleUser
		switch m.Role {
		case domain.RoleSystem:
			role = goopenai.ChatMessageRoleSystem
		case domain.RoleAssistant:
			role = goopenai.ChatMessageRoleAssistant
		}
		out = append(out, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// mapError attaches domain kinds to go-openai errors. Exhausted quota arrives
// as 429 with code insufficient_quota and must not be retried.
func mapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		if isQuotaError(apiErr) {
			return domain.WrapError(domain.ErrBackendQuota, operation, err)
		}
		return domain.WrapError(resilience.KindForHTTPStatus(apiErr.HTTPStatusCode), operation, err)
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests && strings.Contains(string(reqErr.Body), "insufficient_quota") {
			return domain.WrapError(domain.ErrBackendQuota, operation, err)
		}
		return domain.WrapError(resilience.KindForHTTPStatus(reqErr.HTTPStatusCode), operation, err)
	}

	return resilience.MapTransportError(operation, err)
}

func isQuotaError(apiErr *goopenai.APIError) bool {
	code := fmt.Sprint(apiErr.Code)
	return code == "insufficient_quota" || apiErr.Type == "insufficient_quota"
}
