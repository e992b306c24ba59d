package gates

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianhq/quill/internal/models"
)

func wellFormedDraft() *models.Draft {
	intro := strings.Repeat("This essay surveys recent evidence on the research question at hand. ", 4)
	body := strings.Repeat(
		"Recent studies found that adoption increased by 40 percent between 2019 and 2023 [1]. "+
			"The survey data shows consistent growth across multiple sectors and regions [2]. "+
			"Researchers reported that methodology quality varies widely across published work [3]. ",
		5)
	conclusion := strings.Repeat("The evidence overall points toward sustained growth with caveats about data quality. ", 4)

	return &models.Draft{
		Introduction: intro,
		Body:         body,
		Conclusion:   conclusion,
		References: []models.Reference{
			{Number: 1, SourceID: "s1", Title: "Adoption Trends 2019-2023", Venue: "Journal A", Year: 2023},
			{Number: 2, SourceID: "s2", Title: "Sector Growth Survey", Venue: "Journal B", Year: 2024},
			{Number: 3, SourceID: "s3", Title: "Methodology Review", Venue: "Journal C", Year: 2022},
		},
	}
}

func supportingAnalyses() []models.AnalysisResult {
	return []models.AnalysisResult{
		{SourceRef: "s1", Summary: "Studies found adoption increased 40 percent between 2019 and 2023.", KeyPoints: []string{"adoption increased", "40 percent growth"}},
		{SourceRef: "s2", Summary: "Survey data shows consistent growth across multiple sectors and regions.", KeyPoints: []string{"consistent sector growth"}},
		{SourceRef: "s3", Summary: "Researchers reported methodology quality varies widely across published work.", KeyPoints: []string{"methodology quality varies"}},
	}
}

func testThresholds() Thresholds {
	return Thresholds{QualityFloor: 0.6, SupportFraction: 0.7, TargetWords: 200}
}

func TestChainAllGatesPass(t *testing.T) {
	chain := NewChain(testThresholds(), zap.NewNop())

	verdicts, ok := chain.Evaluate(wellFormedDraft(), supportingAnalyses())
	assert.True(t, ok)
	require.Len(t, verdicts, 3)
	assert.Equal(t, "quality", verdicts[0].GateName)
	assert.Equal(t, "citations", verdicts[1].GateName)
	assert.Equal(t, "claims", verdicts[2].GateName)
}

func TestChainRunsAllGatesOnFailure(t *testing.T) {
	chain := NewChain(testThresholds(), zap.NewNop())

	// An empty draft fails early gates, but every gate still produces a
	// verdict for the attempt.
	verdicts, ok := chain.Evaluate(&models.Draft{}, nil)
	assert.False(t, ok)
	require.Len(t, verdicts, 3)
	assert.Equal(t, "quality", verdicts[0].GateName)
	assert.False(t, verdicts[0].Passed)
	assert.Equal(t, "citations", verdicts[1].GateName)
	assert.False(t, verdicts[1].Passed)
	assert.Equal(t, "claims", verdicts[2].GateName)
}

func TestChainSingleFailureFailsTheAttempt(t *testing.T) {
	chain := NewChain(Thresholds{QualityFloor: 1.1, SupportFraction: 0, TargetWords: 200}, zap.NewNop())

	// Citations and claims pass; the impossible quality floor alone must
	// fail the attempt while all three verdicts are reported.
	verdicts, ok := chain.Evaluate(wellFormedDraft(), supportingAnalyses())
	assert.False(t, ok)
	require.Len(t, verdicts, 3)
	assert.False(t, verdicts[0].Passed)
	assert.True(t, verdicts[1].Passed)
	assert.True(t, verdicts[2].Passed)
}

func TestQualityGateScoresEmptyDraftLow(t *testing.T) {
	g := &QualityGate{Floor: 0.6, TargetWords: 900}
	v := g.Check(&models.Draft{}, nil)
	assert.False(t, v.Passed)
	assert.Less(t, v.Score, 0.3)
	assert.NotEmpty(t, v.Issues)
}

func TestQualityGateIgnoresAnalyses(t *testing.T) {
	g := &QualityGate{Floor: 0.6, TargetWords: 200}
	v := g.Check(wellFormedDraft(), nil)
	assert.True(t, v.Passed, "quality is structural; no evidence needed, score=%.2f issues=%v", v.Score, v.Issues)
}

func TestCitationGateDanglingMarkerFails(t *testing.T) {
	d := wellFormedDraft()
	d.Body += " An additional claim rests on a missing source [9]."

	g := &CitationGate{}
	v := g.Check(d, nil)
	assert.False(t, v.Passed)
	assert.Contains(t, strings.Join(v.Issues, "\n"), "[9]")
}

func TestCitationGateUncitedReferenceFails(t *testing.T) {
	d := wellFormedDraft()
	d.References = append(d.References, models.Reference{Number: 4, SourceID: "s4", Title: "Never Cited"})

	g := &CitationGate{}
	v := g.Check(d, nil)
	assert.False(t, v.Passed)
	assert.Contains(t, strings.Join(v.Issues, "\n"), "never cited")
}

func TestCitationGateNoCitationsFails(t *testing.T) {
	d := wellFormedDraft()
	d.Introduction = "No markers here at all."
	d.Body = "Still no markers in the body text."
	d.Conclusion = "And none in the conclusion either."
	d.References = nil

	g := &CitationGate{}
	v := g.Check(d, nil)
	assert.False(t, v.Passed)
}

func TestCitationGatePlacementWarningDoesNotFail(t *testing.T) {
	d := wellFormedDraft()
	// Marker glued to the preceding word: reported, not fatal.
	d.Body = strings.Replace(d.Body, " [1]", "[1]", 1)

	g := &CitationGate{}
	v := g.Check(d, nil)
	assert.True(t, v.Passed)
	assert.Contains(t, strings.Join(v.Issues, "\n"), "inside word")
}

func TestClaimGateSupportedClaimsPass(t *testing.T) {
	g := &ClaimGate{SupportFraction: 0.7}
	v := g.Check(wellFormedDraft(), supportingAnalyses())
	assert.True(t, v.Passed, "score=%.2f issues=%v", v.Score, v.Issues)
}

func TestClaimGateUnsupportedClaimsFail(t *testing.T) {
	g := &ClaimGate{SupportFraction: 0.7}

	// Evidence about a completely different topic.
	analyses := []models.AnalysisResult{
		{SourceRef: "s1", Summary: "Oceanic plankton distribution follows seasonal thermocline layering."},
	}
	v := g.Check(wellFormedDraft(), analyses)
	assert.False(t, v.Passed)
	assert.NotEmpty(t, v.Issues)
}

func TestClaimGateNoClaimsPassesVacuously(t *testing.T) {
	g := &ClaimGate{SupportFraction: 0.7}
	d := &models.Draft{Body: "Perhaps. Maybe so? Who knows."}
	v := g.Check(d, nil)
	assert.True(t, v.Passed)
	assert.Equal(t, 1.0, v.Score)
}

func TestExtractClaimsSkipsQuestionsAndFragments(t *testing.T) {
	body := "Is this a question about growth rates? Short one. " +
		"The dataset is drawn from 12 national registries covering a decade."
	claims := extractClaims(body)
	require.Len(t, claims, 1)
	assert.Contains(t, claims[0], "12 national registries")
}
