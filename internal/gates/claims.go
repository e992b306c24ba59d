package gates

import (
	"fmt"
	"strings"

	"github.com/meridianhq/quill/internal/models"
)

// ClaimGate extracts factual claims from the draft body and checks each one
// against the analysis summaries by token overlap. Cheap and deterministic;
// no reasoning call. A draft with no extractable claims passes vacuously.
type ClaimGate struct {
	// SupportFraction is the minimum fraction of claims that must be
	// supported or partially supported.
	SupportFraction float64
}

func (g *ClaimGate) Name() string { return "claims" }

const (
	supportedOverlap = 0.5
	partialOverlap   = 0.25
)

func (g *ClaimGate) Check(draft *models.Draft, analyses []models.AnalysisResult) models.GateVerdict {
	claims := extractClaims(draft.Body)
	if len(claims) == 0 {
		return models.GateVerdict{
			GateName: g.Name(),
			Passed:   true,
			Score:    1.0,
			Issues:   []string{"no verifiable claims extracted"},
		}
	}

	evidence := make([][]string, 0, len(analyses))
	for _, a := range analyses {
		text := a.Summary + " " + strings.Join(a.KeyPoints, " ")
		evidence = append(evidence, claimTokens(text))
	}

	var issues []string
	supported, partial := 0, 0
	for _, claim := range claims {
		best := 0.0
		tokens := claimTokens(claim)
		for _, ev := range evidence {
			if ov := tokenOverlap(tokens, ev); ov > best {
				best = ov
			}
		}
		switch {
		case best >= supportedOverlap:
			supported++
		case best >= partialOverlap:
			partial++
		default:
			issues = append(issues, fmt.Sprintf("unsupported claim: %q", truncateClaim(claim)))
		}
	}

	score := float64(supported+partial) / float64(len(claims))
	return models.GateVerdict{
		GateName: g.Name(),
		Passed:   score >= g.SupportFraction,
		Score:    score,
		Issues:   issues,
	}
}

// extractClaims pulls declarative sentences that assert something checkable:
// either a figure or a copula/reporting construction. Questions, fragments
// and hedged framing are skipped.
func extractClaims(text string) []string {
	var claims []string
	for _, sent := range splitIntoSentences(text) {
		s := strings.TrimSpace(sent)
		if len(strings.Fields(s)) < 5 {
			continue
		}
		if strings.HasSuffix(s, "?") {
			continue
		}
		if containsDigit(s) || containsAssertionVerb(s) {
			claims = append(claims, s)
		}
	}
	return claims
}

func containsDigit(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			return true
		}
	}
	return false
}

var assertionVerbs = []string{
	" is ", " are ", " was ", " were ",
	" shows ", " showed ", " demonstrates ", " demonstrated ",
	" found ", " finds ", " reports ", " reported ",
	" increases ", " decreases ", " causes ", " caused ",
}

func containsAssertionVerb(s string) bool {
	lower := " " + strings.ToLower(s) + " "
	for _, v := range assertionVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

// claimStopwords excluded from overlap so function words do not inflate
// support.
var claimStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "in": {}, "on": {}, "to": {},
	"and": {}, "or": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"that": {}, "this": {}, "it": {}, "with": {}, "for": {}, "as": {},
	"by": {}, "at": {}, "from": {}, "be": {}, "has": {}, "have": {},
}

func claimTokens(text string) []string {
	var tokens []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?()[]\"'")
		if len(w) < 3 {
			continue
		}
		if _, stop := claimStopwords[w]; stop {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// tokenOverlap is the fraction of claim tokens present in the evidence.
func tokenOverlap(claim, evidence []string) float64 {
	if len(claim) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(evidence))
	for _, t := range evidence {
		set[t] = struct{}{}
	}
	hits := 0
	for _, t := range claim {
		if _, ok := set[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(claim))
}

func truncateClaim(s string) string {
	if len(s) <= 80 {
		return s
	}
	return s[:77] + "..."
}
