package gates

import (
	"fmt"
	"math"
	"strings"

	"github.com/meridianhq/quill/internal/models"
)

// QualityGate scores structural and statistical properties of a draft: all
// sections present, word count near target, citation density, lexical
// diversity. No reasoning call is involved.
type QualityGate struct {
	Floor       float64
	TargetWords int
}

func (g *QualityGate) Name() string { return "quality" }

func (g *QualityGate) Check(draft *models.Draft, _ []models.AnalysisResult) models.GateVerdict {
	target := g.TargetWords
	if target <= 0 {
		target = 900
	}

	var issues []string
	score := 0.0

	// Section presence: 30%.
	sections := 0
	for name, text := range map[string]string{
		"introduction": draft.Introduction,
		"body":         draft.Body,
		"conclusion":   draft.Conclusion,
	} {
		if len(strings.Fields(text)) >= 20 {
			sections++
		} else {
			issues = append(issues, fmt.Sprintf("section %q missing or too short", name))
		}
	}
	score += 0.3 * float64(sections) / 3.0

	// Word count proximity to target: 30%.
	words := len(strings.Fields(draft.Text()))
	ratio := 1.0 - math.Abs(float64(words)-float64(target))/float64(target)
	if ratio < 0 {
		ratio = 0
	}
	if ratio < 0.5 {
		issues = append(issues, fmt.Sprintf("word count %d far from target %d", words, target))
	}
	score += 0.3 * ratio

	// Citation density in the body: 20%. One marker per ~150 words is full
	// credit.
	markers := len(citationNumberPattern.FindAllString(draft.Body, -1))
	bodyWords := len(strings.Fields(draft.Body))
	if bodyWords > 0 {
		expected := float64(bodyWords) / 150.0
		if expected < 1 {
			expected = 1
		}
		density := float64(markers) / expected
		if density > 1 {
			density = 1
		}
		if markers == 0 {
			issues = append(issues, "body contains no citations")
		}
		score += 0.2 * density
	}

	// Lexical diversity: 20%. Distinct-word ratio, scaled so 0.4+ is full
	// credit (prose naturally repeats).
	diversity := lexicalDiversity(draft.Text())
	score += 0.2 * math.Min(1.0, diversity/0.4)
	if diversity < 0.2 {
		issues = append(issues, fmt.Sprintf("low lexical diversity %.2f", diversity))
	}

	return models.GateVerdict{
		GateName: g.Name(),
		Passed:   score >= g.Floor,
		Score:    score,
		Issues:   issues,
	}
}

func lexicalDiversity(text string) float64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[strings.Trim(w, ".,;:!?()[]\"'")] = struct{}{}
	}
	return float64(len(seen)) / float64(len(words))
}
