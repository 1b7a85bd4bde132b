package datagen

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

const (
	DefaultModel       = "meta-llama/Meta-Llama-3.1-405B-Instruct-Turbo"
	defaultMaxTokens   = 3000
	defaultTemperature = 0.7
)

type LLM interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type LLMConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

// NewLLM returns the chat-completion client selected by cfg.Provider. The
// default provider talks to any OpenAI compatible endpoint with openai-go.
func NewLLM(cfg LLMConfig) (LLM, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case "langchain":
		return NewLangChain(cfg.APIKey, cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider '%s'", cfg.Provider)
	}
}

// TokenUsage tracks usage counts per model.
type TokenUsage struct {
	CompletionTokens int64 `json:"completion_tokens"`
	PromptTokens     int64 `json:"prompt_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type OpenAI struct {
	client    openai.Client
	model     string
	temp      float64
	maxTokens int64

	mu    sync.Mutex
	usage TokenUsage
}

func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAI{
		client:    openai.NewClient(opts...),
		model:     model,
		temp:      defaultTemperature,
		maxTokens: defaultMaxTokens,
	}
}

func (o *OpenAI) Generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)

	if len(systemPrompt) > 0 {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	chatOpts := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       o.model,
		Temperature: openai.Float(o.temp),
		MaxTokens:   openai.Int(o.maxTokens),
	}

	res, err := o.client.Chat.Completions.New(ctx, chatOpts)
	if err != nil {
		slog.Error("openai error: chat completions failed", "error", err)
		return "", fmt.Errorf("openai generation failed: %w", err)
	}

	if len(res.Choices) == 0 {
		return "", fmt.Errorf("openai generation returned no choices")
	}

	o.mu.Lock()
	o.usage.CompletionTokens += res.Usage.CompletionTokens
	o.usage.PromptTokens += res.Usage.PromptTokens
	o.usage.TotalTokens += res.Usage.TotalTokens
	slog.Info("chat completion finished", "model", o.model, "prompt_tokens", res.Usage.PromptTokens, "completion_tokens", res.Usage.CompletionTokens, "total_tokens", o.usage.TotalTokens)
	o.mu.Unlock()

	return res.Choices[0].Message.Content, nil
}

func (o *OpenAI) Usage() TokenUsage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.usage
}

type LangChain struct {
	llm *lcopenai.LLM
}

func NewLangChain(apiKey, baseURL, model string) (*LangChain, error) {
	opts := []lcopenai.Option{lcopenai.WithModel(model)}
	if apiKey != "" {
		opts = append(opts, lcopenai.WithToken(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(baseURL))
	}

	client, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create langchain openai client: %w", err)
	}
	return &LangChain{llm: client}, nil
}

func (l *LangChain) Generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if len(systemPrompt) > 0 {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	res, err := l.llm.GenerateContent(ctx, messages,
		llms.WithMaxTokens(defaultMaxTokens),
		llms.WithTemperature(defaultTemperature),
	)
	if err != nil {
		slog.Error("langchain error: generate content failed", "error", err)
		return "", fmt.Errorf("langchain generation failed: %w", err)
	}

	if len(res.Choices) == 0 {
		return "", fmt.Errorf("langchain generation returned no choices")
	}

	return res.Choices[0].Content, nil
}
