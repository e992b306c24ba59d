package gates

import (
	"go.uber.org/zap"

	"github.com/meridianhq/quill/internal/metrics"
	"github.com/meridianhq/quill/internal/models"
)

// Gate is one automated check over a synthesized draft.
type Gate interface {
	Name() string
	Check(draft *models.Draft, analyses []models.AnalysisResult) models.GateVerdict
}

// Chain runs every gate in a fixed order. All gates are evaluated even
// when an earlier one fails, so each attempt produces the complete verdict
// set; passing requires every gate to pass.
type Chain struct {
	gates  []Gate
	logger *zap.Logger
}

// Thresholds holds the configured gate floors.
type Thresholds struct {
	QualityFloor    float64
	SupportFraction float64
	TargetWords     int
}

// NewChain builds the standard three-gate chain: quality score, citation
// consistency, claim verification.
func NewChain(t Thresholds, logger *zap.Logger) *Chain {
	return &Chain{
		gates: []Gate{
			&QualityGate{Floor: t.QualityFloor, TargetWords: t.TargetWords},
			&CitationGate{},
			&ClaimGate{SupportFraction: t.SupportFraction},
		},
		logger: logger,
	}
}

// Evaluate runs the full chain. Returns one verdict per gate and whether
// every gate passed.
func (c *Chain) Evaluate(draft *models.Draft, analyses []models.AnalysisResult) ([]models.GateVerdict, bool) {
	verdicts := make([]models.GateVerdict, 0, len(c.gates))
	passed := true

	for _, g := range c.gates {
		v := g.Check(draft, analyses)
		verdicts = append(verdicts, v)
		metrics.RecordGate(v.GateName, v.Passed)

		c.logger.Info("Gate verdict",
			zap.String("gate", v.GateName),
			zap.Bool("passed", v.Passed),
			zap.Float64("score", v.Score),
			zap.Int("issues", len(v.Issues)),
		)
		if !v.Passed {
			passed = false
		}
	}
	return verdicts, passed
}
