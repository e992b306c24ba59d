package synthesis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/meridianhq/quill/internal/models"
)

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

const introSystemPrompt = `You are an essay writer. Write an introduction for a research essay on the given query.
2-3 paragraphs. Frame the question and preview the main findings. Do not include citations or a heading. Return only the introduction text.`

func bodySystemPrompt(targetWords int) string {
	return fmt.Sprintf(`You are an essay writer. Write the body of a research essay on the given query, grounded in the numbered sources provided.

Requirements:
- Roughly %d words across the whole essay; the body carries most of it.
- Cite sources inline as [n] using the source numbers given. Every factual claim needs a citation.
- Only cite sources from the list. Do not invent sources.
- Return only the body text, no heading.`, targetWords)
}

const conclusionSystemPrompt = `You are an essay writer. Write a conclusion for a research essay. 1-2 paragraphs summarizing the argument and noting open questions. Do not introduce new citations. Return only the conclusion text.`

func buildIntroContent(query string, analyses []models.AnalysisResult, feedback []models.GateVerdict) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Research Query:\n%s\n\n## Key findings from the sources:\n", query))
	for i, a := range analyses {
		if i >= 8 {
			break
		}
		sb.WriteString(fmt.Sprintf("- %s\n", a.Summary))
	}
	writeFeedback(&sb, feedback)
	return sb.String()
}

func buildBodyContent(query string, sources []models.SourceRecord, analyses []models.AnalysisResult, feedback []models.GateVerdict) string {
	byID := make(map[string]models.AnalysisResult, len(analyses))
	for _, a := range analyses {
		byID[a.SourceRef] = a
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Research Query:\n%s\n\n## Sources (cite by number):\n", query))
	for i, src := range sources {
		sb.WriteString(fmt.Sprintf("[%d] %s", i+1, src.Title))
		if src.Venue != "" {
			sb.WriteString(fmt.Sprintf(" (%s", src.Venue))
			if src.PublishedYear > 0 {
				sb.WriteString(fmt.Sprintf(", %d", src.PublishedYear))
			}
			sb.WriteString(")")
		}
		sb.WriteString("\n")
		if a, ok := byID[src.ID]; ok {
			sb.WriteString(fmt.Sprintf("    Summary: %s\n", a.Summary))
			if len(a.KeyPoints) > 0 {
				sb.WriteString(fmt.Sprintf("    Key points: %s\n", strings.Join(a.KeyPoints, "; ")))
			}
		}
	}
	writeFeedback(&sb, feedback)
	return sb.String()
}

func buildConclusionContent(query, body string) string {
	// The conclusion call only needs the gist of the body, not all of it.
	excerpt := body
	if len(excerpt) > 2000 {
		excerpt = excerpt[:2000]
	}
	return fmt.Sprintf("## Research Query:\n%s\n\n## Essay body (excerpt):\n%s\n", query, excerpt)
}

// writeFeedback folds the previous attempt's failing gate verdicts into the
// redraft prompt.
func writeFeedback(sb *strings.Builder, feedback []models.GateVerdict) {
	if len(feedback) == 0 {
		return
	}
	sb.WriteString("\n## The previous draft failed review. Fix these problems:\n")
	for _, v := range feedback {
		sb.WriteString(fmt.Sprintf("- %s check failed (score %.2f)\n", v.GateName, v.Score))
		for i, issue := range v.Issues {
			if i >= 5 {
				sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(v.Issues)-i))
				break
			}
			sb.WriteString(fmt.Sprintf("  - %s\n", issue))
		}
	}
}
