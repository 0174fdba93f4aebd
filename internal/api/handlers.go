package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/raaihank/contract-sentinel/internal/masking"
	"github.com/raaihank/contract-sentinel/internal/review"
	"github.com/raaihank/contract-sentinel/internal/risk"
	"github.com/raaihank/contract-sentinel/internal/workspace"
	"go.uber.org/zap"
)

type detectorInfo struct {
	ID             string   `json:"id"`
	Label          string   `json:"label"`
	Prefix         string   `json:"prefix"`
	DefaultEnabled bool     `json:"defaultEnabled"`
	Enabled        bool     `json:"enabled"`
	Examples       []string `json:"examples"`
}

func (s *Server) handleListDetectors(w http.ResponseWriter, _ *http.Request) {
	enabled := s.masker.EnabledDetectors()

	out := make([]detectorInfo, 0, len(masking.Catalog()))
	for _, d := range masking.Catalog() {
		out = append(out, detectorInfo{
			ID:             d.ID,
			Label:          d.Label,
			Prefix:         d.Prefix,
			DefaultEnabled: d.DefaultEnabled,
			Enabled:        enabled.Has(d.ID),
			Examples:       d.Examples,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetDetector(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	id := mux.Vars(r)["id"]
	var err error
	if body.Enabled {
		err = s.masker.EnableDetector(id)
	} else {
		err = s.masker.DisableDetector(id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"enabled": body.Enabled,
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.ListRules(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule masking.MaskRule
	if err := decode(w, r, &rule); err != nil {
		s.writeError(w, r, err)
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	s.saveRule(w, r, rule, http.StatusCreated)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule masking.MaskRule
	if err := decode(w, r, &rule); err != nil {
		s.writeError(w, r, err)
		return
	}
	rule.ID = mux.Vars(r)["id"]

	rules, err := s.rules.ListRules(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, ok := masking.NewLibrary(rules...).Get(rule.ID); !ok {
		s.writeError(w, r, fmt.Errorf("%w: %s", masking.ErrRuleNotFound, rule.ID))
		return
	}

	s.saveRule(w, r, rule, http.StatusOK)
}

func (s *Server) saveRule(w http.ResponseWriter, r *http.Request, rule masking.MaskRule, status int) {
	if err := masking.ValidateRule(rule); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.rules.SaveRule(r.Context(), rule); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.WithRequestID(getRequestID(r.Context())).Info("Mask rule saved",
		zap.String("rule_id", rule.ID),
		zap.String("placeholder", rule.Placeholder))
	writeJSON(w, status, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.DeleteRule(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type maskRequest struct {
	Text      string             `json:"text"`
	Rules     []masking.MaskRule `json:"rules"`     // nil uses the saved library
	Detectors []string           `json:"detectors"` // nil uses the enabled set
}

func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	var req maskRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	rules, err := s.rulesOrLibrary(r, req.Rules)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	enabled := s.masker.EnabledDetectors()
	if req.Detectors != nil {
		for _, id := range req.Detectors {
			if _, ok := masking.LookupDetector(id); !ok {
				s.writeError(w, r, fmt.Errorf("%w: %s", masking.ErrUnknownDetector, id))
				return
			}
		}
		enabled = masking.NewDetectorSet(req.Detectors...)
	}

	writeJSON(w, http.StatusOK, s.masker.MaskWith(r.Context(), req.Text, rules, enabled))
}

func (s *Server) handleUnmask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text           string                 `json:"text"`
		PlaceholderMap masking.PlaceholderMap `json:"placeholderMap"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": masking.Unmask(req.Text, req.PlaceholderMap)})
}

func (s *Server) rulesOrLibrary(r *http.Request, rules []masking.MaskRule) ([]masking.MaskRule, error) {
	if rules != nil {
		return rules, nil
	}
	return s.rules.ListRules(r.Context())
}

func (s *Server) handleListReviews(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"open": s.workspaces.OpenSessions()})
}

func (s *Server) handleOpenReview(w http.ResponseWriter, r *http.Request) {
	var req workspace.OpenRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Document.Text) == "" {
		s.writeError(w, r, fmt.Errorf("%w: document text is required", errBadRequest))
		return
	}

	if req.Mask {
		rules, err := s.rulesOrLibrary(r, req.Rules)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req.Rules = rules
	}

	view, err := s.workspaces.Open(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	unmask, _ := strconv.ParseBool(r.URL.Query().Get("unmask"))
	s.respondView(w, r)(s.workspaces.View(r.Context(), mux.Vars(r)["id"], unmask))
}

func (s *Server) handleCloseReview(w http.ResponseWriter, r *http.Request) {
	if err := s.workspaces.Close(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type riskAction struct {
	RiskID string `json:"riskId"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var body riskAction
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondView(w, r)(s.workspaces.Accept(r.Context(), mux.Vars(r)["id"], body.RiskID))
}

func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	var body riskAction
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondView(w, r)(s.workspaces.Ignore(r.Context(), mux.Vars(r)["id"], body.RiskID))
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	s.respondView(w, r)(s.workspaces.Undo(r.Context(), mux.Vars(r)["id"]))
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Direction string `json:"direction"`
	}
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	var dir review.Direction
	switch strings.ToLower(body.Direction) {
	case "", "next":
		dir = review.Next
	case "prev", "previous":
		dir = review.Prev
	default:
		s.writeError(w, r, fmt.Errorf("%w: unknown direction %q", errBadRequest, body.Direction))
		return
	}

	s.respondView(w, r)(s.workspaces.Navigate(r.Context(), mux.Vars(r)["id"], dir))
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var body riskAction
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondView(w, r)(s.workspaces.Select(r.Context(), mux.Vars(r)["id"], body.RiskID))
}

func (s *Server) handleSelectFirst(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Level string `json:"level"`
	}
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	var level risk.Level
	if body.Level != "" {
		parsed, ok := risk.ParseLevel(body.Level)
		if !ok {
			s.writeError(w, r, fmt.Errorf("%w: unknown level %q", errBadRequest, body.Level))
			return
		}
		level = parsed
	}

	s.respondView(w, r)(s.workspaces.SelectFirst(r.Context(), mux.Vars(r)["id"], level))
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	saved, err := s.workspaces.Save(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, fmt.Errorf("%w: invalid limit %q", errBadRequest, v))
			return
		}
		limit = n
	}

	sessions, err := s.workspaces.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	saved, err := s.workspaces.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleReopen(w http.ResponseWriter, r *http.Request) {
	s.respondView(w, r)(s.workspaces.Reopen(r.Context(), mux.Vars(r)["id"]))
}

// respondView writes a workspace view or the error that replaced it
func (s *Server) respondView(w http.ResponseWriter, r *http.Request) func(*workspace.View, error) {
	return func(v *workspace.View, err error) {
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}
