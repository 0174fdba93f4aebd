package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/logger"
	"github.com/raaihank/contract-sentinel/internal/risk"
	"github.com/sashabaranov/go-openai"
)

// fakeCompletions serves the chat completions endpoint with a fixed reply
// and records the last request.
func fakeCompletions(t *testing.T, reply string, status int) (*httptest.Server, *openai.ChatCompletionRequest, *atomic.Int32) {
	t.Helper()

	var last openai.ChatCompletionRequest
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&last); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream failure","type":"server_error"}}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:    "chatcmpl-1",
			Model: last.Model,
			Choices: []openai.ChatCompletionChoice{{
				Index:   0,
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	return srv, &last, &calls
}

func testConfig(provider, baseURL string) config.AnalyzerConfig {
	return config.AnalyzerConfig{
		Provider:   provider,
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Timeout:    5 * time.Second,
		JSONMode:   true,
		Stance:     string(StancePartyB),
		Strictness: string(StrictnessStrict),
	}
}

func TestOpenAICompatibleProvider(t *testing.T) {
	ctx := context.Background()
	reply := `{"risks":[{"originalText":"[AMOUNT_1]","riskDescription":"fee","reason":"too low","level":"HIGH","suggestedText":"[AMOUNT_1] plus tax"}]}`

	t.Run("IdentifiesRisks", func(t *testing.T) {
		srv, last, _ := fakeCompletions(t, reply, http.StatusOK)

		a, err := New(ctx, testConfig(ProviderQwen, srv.URL+"/v1"), logger.NewNop())
		if err != nil {
			t.Fatalf("Failed to create analyzer: %v", err)
		}

		risks, err := a.IdentifyRisks(ctx, Request{DocumentText: "Pay [AMOUNT_1] on signing."})
		if err != nil {
			t.Fatalf("Failed to identify risks: %v", err)
		}
		if len(risks) != 1 || risks[0].Level != risk.LevelHigh || risks[0].OriginalText != "[AMOUNT_1]" {
			t.Errorf("Unexpected risks %+v", risks)
		}
		if risks[0].ID == "" {
			t.Error("Risk ids should be assigned")
		}

		if last.Model != "qwen-plus" {
			t.Errorf("Expected preset model qwen-plus, got '%s'", last.Model)
		}
		if last.ResponseFormat == nil || last.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
			t.Error("JSON mode should request a JSON object")
		}
		if len(last.Messages) != 2 || !strings.Contains(last.Messages[0].Content, "Party B") {
			t.Error("System prompt should carry the configured stance")
		}
		if !strings.Contains(last.Messages[1].Content, "Pay [AMOUNT_1] on signing.") {
			t.Error("User message should carry the document")
		}
	})

	t.Run("MalformedReply", func(t *testing.T) {
		srv, _, _ := fakeCompletions(t, "Sorry, I cannot help with that.", http.StatusOK)
		a, _ := New(ctx, testConfig(ProviderOpenAI, srv.URL+"/v1"), logger.NewNop())

		risks, err := a.IdentifyRisks(ctx, Request{DocumentText: "text"})
		if !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("Expected ErrMalformedResponse, got %v", err)
		}
		if risks == nil || len(risks) != 0 {
			t.Errorf("Expected empty risk list, got %v", risks)
		}
	})

	t.Run("UpstreamError", func(t *testing.T) {
		srv, _, _ := fakeCompletions(t, "", http.StatusInternalServerError)
		a, _ := New(ctx, testConfig(ProviderKimi, srv.URL+"/v1"), logger.NewNop())

		if _, err := a.IdentifyRisks(ctx, Request{DocumentText: "text"}); err == nil {
			t.Error("Expected an error from a failing provider")
		}
	})

	t.Run("RateLimited", func(t *testing.T) {
		srv, _, calls := fakeCompletions(t, reply, http.StatusOK)
		cfg := testConfig(ProviderOpenAI, srv.URL+"/v1")
		cfg.RequestsPerMinute = 1
		a, _ := New(ctx, cfg, logger.NewNop())

		if _, err := a.IdentifyRisks(ctx, Request{DocumentText: "Pay [AMOUNT_1]."}); err != nil {
			t.Fatalf("First call should pass: %v", err)
		}

		short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		if _, err := a.IdentifyRisks(short, Request{DocumentText: "Pay [AMOUNT_1]."}); err == nil {
			t.Error("Second call within the minute should be throttled")
		}
		if calls.Load() != 1 {
			t.Errorf("Throttled call must not reach the provider, got %d calls", calls.Load())
		}
	})
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("Disabled", func(t *testing.T) {
		a, err := New(ctx, config.AnalyzerConfig{Provider: "none"}, logger.NewNop())
		if err != nil {
			t.Fatalf("Failed to create analyzer: %v", err)
		}
		if a.Enabled() {
			t.Error("Provider none should be disabled")
		}
		if _, err := a.IdentifyRisks(ctx, Request{DocumentText: "x"}); !errors.Is(err, ErrDisabled) {
			t.Errorf("Expected ErrDisabled, got %v", err)
		}
	})

	t.Run("UnsupportedProvider", func(t *testing.T) {
		_, err := New(ctx, config.AnalyzerConfig{Provider: "watson", APIKey: "k"}, logger.NewNop())
		if !errors.Is(err, ErrUnsupportedProvider) {
			t.Errorf("Expected ErrUnsupportedProvider, got %v", err)
		}
	})

	t.Run("MissingKey", func(t *testing.T) {
		for _, provider := range []string{ProviderOpenAI, ProviderGemini} {
			if _, err := New(ctx, config.AnalyzerConfig{Provider: provider}, logger.NewNop()); err == nil {
				t.Errorf("%s without api key should fail", provider)
			}
		}
	})

	t.Run("MiMoNeedsEndpoint", func(t *testing.T) {
		_, err := New(ctx, config.AnalyzerConfig{Provider: ProviderMiMo, APIKey: "k", Model: "m"}, logger.NewNop())
		if err == nil {
			t.Error("MiMo without base_url should fail")
		}
	})
}

func TestBuildPrompt(t *testing.T) {
	system, user := BuildPrompt(Request{
		DocumentText: "合同正文",
		Stance:       StancePartyA,
		Strictness:   StrictnessLenient,
		RulesContext: "Payment terms over 60 days are HIGH risk.",
	})

	for _, want := range []string{"Party A", "real financial or legal harm", "over 60 days", `"originalText"`} {
		if !strings.Contains(system, want) {
			t.Errorf("System prompt missing %q", want)
		}
	}
	if !strings.Contains(user, "合同正文") {
		t.Error("User prompt missing document text")
	}

	fallback, _ := BuildPrompt(Request{DocumentText: "x", Stance: "unknown"})
	if !strings.Contains(fallback, "neutral reviewer") {
		t.Error("Unknown stance should fall back to neutral")
	}
}

func TestGeminiText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"risks":`), genai.Text(`[]}`)}},
		}},
	}
	text, err := geminiText(resp)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if text != `{"risks":[]}` {
		t.Errorf("Unexpected text '%s'", text)
	}

	if _, err := geminiText(&genai.GenerateContentResponse{}); err == nil {
		t.Error("Empty response should fail")
	}
}
