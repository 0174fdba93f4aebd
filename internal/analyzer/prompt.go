package analyzer

import (
	"fmt"
	"strings"
)

// Stance is the party whose interests the review protects
type Stance string

const (
	StancePartyA  Stance = "party_a"
	StancePartyB  Stance = "party_b"
	StanceNeutral Stance = "neutral"
)

// Strictness controls how many borderline issues are reported
type Strictness string

const (
	StrictnessStrict   Strictness = "strict"
	StrictnessBalanced Strictness = "balanced"
	StrictnessLenient  Strictness = "lenient"
)

// Request is one risk-identification call
type Request struct {
	DocumentText string     `json:"documentText"`
	Stance       Stance     `json:"stance"`
	Strictness   Strictness `json:"strictness"`
	RulesContext string     `json:"rulesContext,omitempty"`
}

var stanceInstructions = map[Stance]string{
	StancePartyA:  "You represent Party A (甲方). Flag terms that expose Party A to liability, cost or loss of rights, and terms that are vague in Party B's favour.",
	StancePartyB:  "You represent Party B (乙方). Flag terms that expose Party B to liability, cost or loss of rights, and terms that are vague in Party A's favour.",
	StanceNeutral: "You are a neutral reviewer. Flag terms that are unbalanced, ambiguous, unenforceable or missing for either party.",
}

var strictnessInstructions = map[Strictness]string{
	StrictnessStrict:   "Report every issue including minor wording problems.",
	StrictnessBalanced: "Report material issues and clearly ambiguous wording; skip purely stylistic points.",
	StrictnessLenient:  "Report only issues likely to cause real financial or legal harm.",
}

const outputInstructions = `Return only a JSON object of the form {"risks": [...]} with no prose and no code fence.
Each risk has these fields:
  "originalText":    an exact, verbatim substring of the contract (copy it character for character, including punctuation and placeholders such as [AMOUNT_1]); keep it short, one clause or sentence
  "riskDescription": a one-line summary of the risk
  "reason":          why it is a risk for the party you represent
  "level":           one of "HIGH", "MEDIUM", "LOW"
  "suggestedText":   replacement text for originalText that removes the risk
Tokens in square brackets are masked values; keep them unchanged in suggestedText.
If there are no risks return {"risks": []}.`

// BuildPrompt returns the system and user messages for req
func BuildPrompt(req Request) (string, string) {
	stance, ok := stanceInstructions[req.Stance]
	if !ok {
		stance = stanceInstructions[StanceNeutral]
	}
	strictness, ok := strictnessInstructions[req.Strictness]
	if !ok {
		strictness = strictnessInstructions[StrictnessBalanced]
	}

	var system strings.Builder
	system.WriteString("You are an experienced contract lawyer reviewing a contract for risks.\n")
	system.WriteString(stance)
	system.WriteString("\n")
	system.WriteString(strictness)
	system.WriteString("\n")
	if rules := strings.TrimSpace(req.RulesContext); rules != "" {
		system.WriteString("\nApply these review rules from the user's knowledge base:\n")
		system.WriteString(rules)
		system.WriteString("\n")
	}
	system.WriteString("\n")
	system.WriteString(outputInstructions)

	user := fmt.Sprintf("Review the following contract.\n\n<contract>\n%s\n</contract>", req.DocumentText)
	return system.String(), user
}
