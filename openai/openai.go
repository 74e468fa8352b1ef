package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	openai "github.com/sashabaranov/go-openai"

	"teachings/logger"
	"teachings/teachings"
)

const (
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultChatModel      = "gpt-3.5-turbo"
	DefaultTimeout        = 180 * time.Second
)

// ErrPermanent marks provider failures that will not succeed on retry, such
// as a bad API key or a malformed request.
var ErrPermanent = errors.New("permanent provider error")

type Config struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	// Speaker is the name used in the quoting prompt.
	Speaker string
	// Timeout bounds each HTTP request. Zero means DefaultTimeout.
	Timeout time.Duration
}

func newClient(cfg Config) *openai.Client {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(c)
}

type Embedder struct {
	client *openai.Client
	model  string
}

var _ teachings.Embedder = (*Embedder)(nil)

func NewEmbedder(cfg Config) *Embedder {
	model := cfg.EmbeddingModel
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &Embedder{client: newClient(cfg), model: model}
}

func (e *Embedder) Model() string { return e.model }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

// EmbedBatch returns one vector per input, in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, classify("creating embeddings", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("creating embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("creating embeddings: empty vector at %d", i)
		}
		out[i] = d.Embedding
	}
	return out, nil
}

// classify wraps err with ErrPermanent for 4xx responses other than 408 and
// 429, and marks it so that backoff.Retry stops immediately.
func classify(op string, err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return backoff.Permanent(fmt.Errorf("%s: %w: status %d: %w", op, ErrPermanent, status, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Generator writes the quoted answer for a question from retrieved chunks.
type Generator struct {
	client  *openai.Client
	model   string
	speaker string
	log     *logger.Logger
}

func NewGenerator(cfg Config, log *logger.Logger) *Generator {
	model := cfg.ChatModel
	if model == "" {
		model = DefaultChatModel
	}
	speaker := cfg.Speaker
	if speaker == "" {
		speaker = "Henry"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Generator{
		client:  newClient(cfg),
		model:   model,
		speaker: speaker,
		log:     log.With("service", "Generator", "model", model),
	}
}

func (g *Generator) Generate(ctx context.Context, question string, chunks []teachings.ScoredChunk) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: QuotePrompt(g.speaker, question, chunks),
			},
		},
		Temperature:      0.2,
		FrequencyPenalty: 0.6,
		PresencePenalty:  0.1,
	})
	if err != nil {
		return "", classify("generating answer", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generating answer: no choices returned")
	}
	g.log.Debug("answer generated",
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
