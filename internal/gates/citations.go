package gates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/meridianhq/quill/internal/models"
)

// citationNumberPattern matches inline citations like [1], [2] with a
// capture group. Compiled once at package level.
var citationNumberPattern = regexp.MustCompile(`\[(\d+)\]`)

// citationMarkerPattern matches inline citations without a capture group
// (for position finding).
var citationMarkerPattern = regexp.MustCompile(`\[\d+\]`)

// CitationGate cross-checks inline citation markers against the reference
// list. Passing requires 100% consistency in both directions: no marker
// without a reference, no reference never cited. Placement and redundancy
// problems are reported as issues but do not fail the gate.
type CitationGate struct{}

func (g *CitationGate) Name() string { return "citations" }

func (g *CitationGate) Check(draft *models.Draft, _ []models.AnalysisResult) models.GateVerdict {
	text := draft.Text()
	used := extractUsedCitationNumbers(text)

	refNums := make(map[int]bool, len(draft.References))
	for _, ref := range draft.References {
		refNums[ref.Number] = true
	}

	var issues []string

	// Direction 1: every inline marker must resolve to a reference.
	dangling := 0
	for _, n := range used {
		if !refNums[n] {
			dangling++
			issues = append(issues, fmt.Sprintf("citation [%d] has no matching reference", n))
		}
	}

	// Direction 2: every reference must be cited at least once.
	usedSet := make(map[int]bool, len(used))
	for _, n := range used {
		usedSet[n] = true
	}
	uncited := 0
	for _, ref := range draft.References {
		if !usedSet[ref.Number] {
			uncited++
			issues = append(issues, fmt.Sprintf("reference [%d] %q is never cited", ref.Number, ref.Title))
		}
	}

	if len(used) == 0 {
		issues = append(issues, "draft contains no inline citations")
	}

	// Non-blocking diagnostics carried into the issue list.
	issues = append(issues, validateCitationPlacement(text)...)
	issues = append(issues, detectRedundantCitations(text)...)

	total := len(used) + len(draft.References)
	score := 1.0
	if total > 0 {
		score = 1.0 - float64(dangling+uncited)/float64(total)
	}

	passed := dangling == 0 && uncited == 0 && len(used) > 0
	return models.GateVerdict{
		GateName: g.Name(),
		Passed:   passed,
		Score:    score,
		Issues:   issues,
	}
}

// extractUsedCitationNumbers extracts the unique citation numbers in order
// of first use.
func extractUsedCitationNumbers(text string) []int {
	matches := citationNumberPattern.FindAllStringSubmatch(text, -1)

	seen := make(map[int]bool)
	var used []int
	for _, m := range matches {
		n, _ := strconv.Atoi(m[1])
		if !seen[n] {
			seen[n] = true
			used = append(used, n)
		}
	}
	return used
}

// validateCitationPlacement returns warnings about marker placement.
func validateCitationPlacement(text string) []string {
	var warnings []string
	for _, m := range citationMarkerPattern.FindAllStringIndex(text, -1) {
		start := m[0]
		if start > 0 && isAlphanumeric(text[start-1]) {
			warnings = append(warnings, fmt.Sprintf("citation inside word at position %d", start))
		}
		if start == 0 {
			warnings = append(warnings, "citation at very start of content")
		}
	}
	return warnings
}

// detectRedundantCitations finds the same citation repeated within one
// sentence.
func detectRedundantCitations(text string) []string {
	var redundant []string
	for _, sent := range splitIntoSentences(text) {
		counts := make(map[string]int)
		for _, m := range citationNumberPattern.FindAllStringSubmatch(sent, -1) {
			counts[m[1]]++
		}
		for num, count := range counts {
			if count > 1 {
				redundant = append(redundant, fmt.Sprintf("[%s] x%d in sentence", num, count))
			}
		}
	}
	return redundant
}

func isAlphanumeric(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]*`)

// splitIntoSentences keeps the terminal punctuation with each sentence.
func splitIntoSentences(text string) []string {
	var sentences []string
	for _, p := range sentencePattern.FindAllString(text, -1) {
		if strings.TrimSpace(p) != "" {
			sentences = append(sentences, strings.TrimSpace(p))
		}
	}
	return sentences
}
