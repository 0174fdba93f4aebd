package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/raaihank/contract-sentinel/internal/config"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.5-flash"

type geminiBackend struct {
	client      *genai.Client
	model       string
	temperature float32
	jsonMode    bool
}

func newGemini(ctx context.Context, cfg config.AnalyzerConfig) (*geminiBackend, string, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, "", errors.New("gemini: api key is required")
	}

	model := firstSet(cfg.Model, defaultGeminiModel)

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &geminiBackend{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
		jsonMode:    cfg.JSONMode,
	}, model, nil
}

func (b *geminiBackend) complete(ctx context.Context, system, user string) (string, error) {
	model := b.client.GenerativeModel(b.model)
	model.SetTemperature(b.temperature)
	model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	if b.jsonMode {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}
	return geminiText(resp)
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("gemini returned no candidates")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", errors.New("gemini returned empty content")
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return strings.TrimSpace(text.String()), nil
}

// Close releases the Gemini client
func (b *geminiBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}
