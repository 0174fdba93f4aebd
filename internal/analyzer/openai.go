package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/sashabaranov/go-openai"
)

// Provider names
const (
	ProviderOpenAI = "openai"
	ProviderQwen   = "qwen"
	ProviderKimi   = "kimi"
	ProviderDoubao = "doubao"
	ProviderMiMo   = "mimo"
	ProviderGemini = "gemini"
)

type providerPreset struct {
	baseURL string
	model   string
}

// openAICompatible lists the providers reached through the OpenAI chat
// completions API. An empty preset field must come from configuration.
var openAICompatible = map[string]providerPreset{
	ProviderOpenAI: {model: "gpt-4o-mini"},
	ProviderQwen:   {baseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", model: "qwen-plus"},
	ProviderKimi:   {baseURL: "https://api.moonshot.cn/v1", model: "moonshot-v1-32k"},
	ProviderDoubao: {baseURL: "https://ark.cn-beijing.volces.com/api/v3", model: "doubao-1-5-pro-32k-250115"},
	ProviderMiMo:   {},
}

type openAIBackend struct {
	client      *openai.Client
	model       string
	temperature float32
	jsonMode    bool
}

func newOpenAI(cfg config.AnalyzerConfig) (*openAIBackend, string, error) {
	preset := openAICompatible[cfg.Provider]

	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, "", fmt.Errorf("%s: api key is required", cfg.Provider)
	}

	baseURL := firstSet(cfg.BaseURL, preset.baseURL)
	model := firstSet(cfg.Model, preset.model)
	if cfg.Provider == ProviderMiMo && (baseURL == "" || model == "") {
		return nil, "", fmt.Errorf("%s: base_url and model are required", cfg.Provider)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if baseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(baseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &openAIBackend{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: cfg.Temperature,
		jsonMode:    cfg.JSONMode,
	}, model, nil
}

func (b *openAIBackend) complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: b.temperature,
	}
	if b.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
