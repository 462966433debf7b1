package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/infrastructure/resilience"
)

// deterministicSeed is sent with zero-temperature requests; Ollama honours
// temperature 0 but still samples ties without a fixed seed.
const deterministicSeed = 42

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) {
		c.executor = executor
	}
}

func New(baseURL, genModel, embedModel string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model    string               `json:"model"`
	Messages []domain.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
	Options  chatOptions          `json:"options"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
	Seed        int     `json:"seed,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, messages []domain.ChatMessage, opts domain.GenerateOptions) (*domain.Generation, error) {
	if len(messages) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ollama.generate", fmt.Errorf("no messages"))
	}

	request := chatRequest{
		Model:    g.client.genModel,
		Messages: messages,
		Stream:   false,
		Options: chatOptions{
			Temperature: max(opts.Temperature, 0),
			NumPredict:  opts.MaxTokens,
		},
	}
	if opts.Temperature <= 0 {
		request.Options.Seed = deterministicSeed
	}

	var response chatResponse
	if err := g.client.call(ctx, "generate", "/api/chat", request, &response); err != nil {
		return nil, err
	}

	model := response.Model
	if model == "" {
		model = g.client.genModel
	}
	return &domain.Generation{
		Content: strings.TrimSpace(response.Message.Content),
		Model:   model,
		Usage: domain.TokenUsage{
			InputTokens:  response.PromptEvalCount,
			OutputTokens: response.EvalCount,
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
		return nil, domain.WrapError(domain.ErrInvalidInput, "ollama.embed", fmt.Errorf("empty text"))
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}

	var response struct {
		Embeddings      [][]float32 `json:"embeddings"`
		PromptEvalCount int         `json:"prompt_eval_count"`
	}
	if err := e.client.call(ctx, "embed", "/api/embed", request, &response); err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 || len(response.Embeddings[0]) == 0 {
		return nil, domain.WrapError(domain.ErrTemporary, "ollama.embed", fmt.Errorf("empty embedding result"))
	}
	return &domain.Embedding{Vector: response.Embeddings[0], Tokens: response.PromptEvalCount}, nil
}
