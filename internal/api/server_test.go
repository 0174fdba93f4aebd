package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/raaihank/contract-sentinel/internal/analyzer"
	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/logger"
	"github.com/raaihank/contract-sentinel/internal/masking"
	"github.com/raaihank/contract-sentinel/internal/review"
	"github.com/raaihank/contract-sentinel/internal/risk"
	"github.com/raaihank/contract-sentinel/internal/session"
	"github.com/raaihank/contract-sentinel/internal/store"
	"github.com/raaihank/contract-sentinel/internal/workspace"
)

type stubIdentifier struct {
	risks []risk.Risk
	err   error
}

func (s *stubIdentifier) IdentifyRisks(context.Context, analyzer.Request) ([]risk.Risk, error) {
	if s.err != nil {
		return nil, s.err
	}
	return risk.Clone(s.risks), nil
}

func newTestServer(t *testing.T, requestsPerMinute int, identifier analyzer.Identifier) *Server {
	t.Helper()

	cfg := config.GetDefaults()
	cfg.Server.RequestsPerMinute = requestsPerMinute
	cfg.Review.AnimationWindow = 0

	masker, err := masking.New(cfg.Masking, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to create masker: %v", err)
	}

	memory := store.NewMemory()
	manager := workspace.NewManager(cfg.Review, masker, identifier, memory, logger.NewNop())
	t.Cleanup(manager.Shutdown)

	return New(cfg, logger.NewNop(), Dependencies{
		Masker:     masker,
		Rules:      memory,
		Workspaces: manager,
		Provider:   "stub",
	})
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t, 0, nil)

	expectStatus(t, do(t, s, http.MethodGet, "/health", nil), http.StatusOK)

	rec := do(t, s, http.MethodGet, "/info", nil)
	expectStatus(t, rec, http.StatusOK)

	var info map[string]interface{}
	decodeBody(t, rec, &info)
	if info["name"] != "contract-sentinel" || info["analyzer_provider"] != "stub" {
		t.Errorf("Unexpected info %v", info)
	}
}

func TestDetectorEndpoints(t *testing.T) {
	s := newTestServer(t, 0, nil)

	rec := do(t, s, http.MethodGet, "/detectors", nil)
	expectStatus(t, rec, http.StatusOK)

	var detectors []detectorInfo
	decodeBody(t, rec, &detectors)
	if len(detectors) != len(masking.Catalog()) || detectors[0].ID != masking.DetectorMoney {
		t.Fatalf("Unexpected detector list %+v", detectors)
	}

	expectStatus(t, do(t, s, http.MethodPut, "/detectors/company", map[string]bool{"enabled": true}), http.StatusOK)
	if !s.masker.EnabledDetectors().Has(masking.DetectorCompany) {
		t.Error("Company detector should be enabled")
	}

	expectStatus(t, do(t, s, http.MethodPut, "/detectors/iban", map[string]bool{"enabled": true}), http.StatusNotFound)
}

func TestRuleEndpoints(t *testing.T) {
	s := newTestServer(t, 0, nil)

	rec := do(t, s, http.MethodPost, "/rules", masking.MaskRule{Target: "Acme", Placeholder: "[PARTY_A]"})
	expectStatus(t, rec, http.StatusCreated)

	var created masking.MaskRule
	decodeBody(t, rec, &created)
	if created.ID == "" {
		t.Fatal("Created rule should have an id")
	}

	expectStatus(t, do(t, s, http.MethodPost, "/rules", masking.MaskRule{Target: "Acme"}), http.StatusBadRequest)
	expectStatus(t, do(t, s, http.MethodPut, "/rules/missing", masking.MaskRule{Target: "x", Placeholder: "[X]"}), http.StatusNotFound)

	rec = do(t, s, http.MethodPut, "/rules/"+created.ID, masking.MaskRule{Target: "Acme Ltd", Placeholder: "[PARTY_A]"})
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, s, http.MethodGet, "/rules", nil)
	var rules []masking.MaskRule
	decodeBody(t, rec, &rules)
	if len(rules) != 1 || rules[0].Target != "Acme Ltd" {
		t.Errorf("Unexpected rules %+v", rules)
	}

	expectStatus(t, do(t, s, http.MethodDelete, "/rules/"+created.ID, nil), http.StatusNoContent)
	expectStatus(t, do(t, s, http.MethodDelete, "/rules/"+created.ID, nil), http.StatusNotFound)
}

func TestMaskAndUnmask(t *testing.T) {
	s := newTestServer(t, 0, nil)
	expectStatus(t, do(t, s, http.MethodPost, "/rules", masking.MaskRule{Target: "Acme", Placeholder: "[PARTY_A]"}), http.StatusCreated)

	original := "Acme pays $10 on signing."
	rec := do(t, s, http.MethodPost, "/mask", maskRequest{Text: original})
	expectStatus(t, rec, http.StatusOK)

	var result masking.Result
	decodeBody(t, rec, &result)
	if result.MaskedText != "[PARTY_A] pays [AMOUNT_1] on signing." {
		t.Errorf("Unexpected masked text '%s'", result.MaskedText)
	}

	rec = do(t, s, http.MethodPost, "/mask", maskRequest{Text: original, Rules: []masking.MaskRule{}, Detectors: []string{}})
	decodeBody(t, rec, &result)
	if result.MaskedText != original {
		t.Errorf("Explicit empty rules and detectors should leave the text alone, got '%s'", result.MaskedText)
	}

	expectStatus(t, do(t, s, http.MethodPost, "/mask", maskRequest{Text: original, Detectors: []string{"iban"}}), http.StatusNotFound)

	rec = do(t, s, http.MethodPost, "/unmask", map[string]interface{}{
		"text":           "[PARTY_A] pays [AMOUNT_1] on signing.",
		"placeholderMap": map[string]string{"[PARTY_A]": "Acme", "[AMOUNT_1]": "$10"},
	})
	var unmasked map[string]string
	decodeBody(t, rec, &unmasked)
	if unmasked["text"] != original {
		t.Errorf("Unmask should restore the original, got '%s'", unmasked["text"])
	}

	expectStatus(t, do(t, s, http.MethodPost, "/mask", "{not json"), http.StatusBadRequest)
}

func TestReviewFlow(t *testing.T) {
	identifier := &stubIdentifier{risks: []risk.Risk{
		{ID: "fee", OriginalText: "[AMOUNT_1]", SuggestedText: "[AMOUNT_1] plus tax", Level: risk.LevelHigh},
		{ID: "term", OriginalText: "90 days", SuggestedText: "30 days", Level: risk.LevelMedium},
	}}
	s := newTestServer(t, 0, identifier)

	rec := do(t, s, http.MethodPost, "/reviews", workspace.OpenRequest{
		Document: session.Document{Name: "msa.txt", Text: "Pay $5,000 within 90 days."},
		Mask:     true,
		Analyze:  true,
	})
	expectStatus(t, rec, http.StatusCreated)

	var view workspace.View
	decodeBody(t, rec, &view)
	base := "/reviews/" + view.SessionID

	rec = do(t, s, http.MethodPost, base+"/accept", riskAction{RiskID: "term"})
	expectStatus(t, rec, http.StatusOK)
	decodeBody(t, rec, &view)
	if view.Text != "Pay [AMOUNT_1] within 30 days." || view.SelectedID != "fee" {
		t.Errorf("Unexpected view after accept: '%s' selected '%s'", view.Text, view.SelectedID)
	}

	expectStatus(t, do(t, s, http.MethodPost, base+"/accept", riskAction{RiskID: "term"}), http.StatusConflict)
	expectStatus(t, do(t, s, http.MethodPost, base+"/ignore", riskAction{RiskID: "nope"}), http.StatusNotFound)
	expectStatus(t, do(t, s, http.MethodPost, base+"/navigate", map[string]string{"direction": "sideways"}), http.StatusBadRequest)
	expectStatus(t, do(t, s, http.MethodPost, base+"/select-first", map[string]string{"level": "高"}), http.StatusOK)

	rec = do(t, s, http.MethodGet, base+"?unmask=true", nil)
	expectStatus(t, rec, http.StatusOK)
	decodeBody(t, rec, &view)
	if view.Text != "Pay $5,000 within 30 days." {
		t.Errorf("Unmasked view should show original values, got '%s'", view.Text)
	}

	expectStatus(t, do(t, s, http.MethodPost, base+"/save", nil), http.StatusOK)
	expectStatus(t, do(t, s, http.MethodDelete, base, nil), http.StatusNoContent)
	expectStatus(t, do(t, s, http.MethodGet, base, nil), http.StatusNotFound)

	rec = do(t, s, http.MethodPost, "/sessions/"+view.SessionID+"/reopen", nil)
	expectStatus(t, rec, http.StatusOK)
	decodeBody(t, rec, &view)
	if view.Text != "Pay [AMOUNT_1] within 30 days." || view.Stats.Accepted != 1 {
		t.Errorf("Reopen should resume the saved review, got '%s' %+v", view.Text, view.Stats)
	}

	rec = do(t, s, http.MethodGet, "/sessions?limit=5", nil)
	var sessions []session.ReviewSession
	decodeBody(t, rec, &sessions)
	if len(sessions) != 1 {
		t.Errorf("Expected one saved session, got %d", len(sessions))
	}

	expectStatus(t, do(t, s, http.MethodGet, "/sessions/missing", nil), http.StatusNotFound)
	expectStatus(t, do(t, s, http.MethodGet, "/sessions?limit=x", nil), http.StatusBadRequest)
}

func TestOpenReviewErrors(t *testing.T) {
	t.Run("ProviderFailure", func(t *testing.T) {
		s := newTestServer(t, 0, &stubIdentifier{err: errors.New("upstream timeout")})
		rec := do(t, s, http.MethodPost, "/reviews", workspace.OpenRequest{
			Document: session.Document{Text: "Pay $5,000."},
			Analyze:  true,
		})
		expectStatus(t, rec, http.StatusBadGateway)
	})

	t.Run("EmptyDocument", func(t *testing.T) {
		s := newTestServer(t, 0, nil)
		rec := do(t, s, http.MethodPost, "/reviews", workspace.OpenRequest{})
		expectStatus(t, rec, http.StatusBadRequest)
	})

	t.Run("AnalyzerDisabled", func(t *testing.T) {
		s := newTestServer(t, 0, nil)
		rec := do(t, s, http.MethodPost, "/reviews", workspace.OpenRequest{
			Document: session.Document{Text: "x"},
			Analyze:  true,
		})
		expectStatus(t, rec, http.StatusBadRequest)
	})
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, 2, nil)

	for i := 0; i < 2; i++ {
		expectStatus(t, do(t, s, http.MethodGet, "/rules", nil), http.StatusOK)
	}

	rec := do(t, s, http.MethodGet, "/rules", nil)
	expectStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}

	// Health checks are not limited
	expectStatus(t, do(t, s, http.MethodGet, "/health", nil), http.StatusOK)
}

func TestRateLimiterCleanup(t *testing.T) {
	l := NewRateLimiter(10)
	l.Allow("10.0.0.1")
	l.Allow("10.0.0.2")

	l.Cleanup(0)
	if l.size() != 0 {
		t.Errorf("Expected idle clients to be dropped, %d left", l.size())
	}

	if !NewRateLimiter(0).Allow("10.0.0.1") {
		t.Error("Zero rate should disable limiting")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", session.ErrNotFound), http.StatusNotFound},
		{workspace.ErrSessionNotOpen, http.StatusNotFound},
		{review.ErrRiskAddressed, http.StatusConflict},
		{masking.ErrInvalidRule, http.StatusBadRequest},
		{fmt.Errorf("%w: %w", workspace.ErrAnalysisFailed, errors.New("boom")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, 0, nil)

	rec := do(t, s, http.MethodGet, "/rules", nil)
	if id := rec.Header().Get("X-Request-ID"); id == "" || strings.Contains(id, " ") {
		t.Errorf("Expected generated request id, got %q", id)
	}
}
