package cycle

import (
	"context"

	"github.com/tradegate/backend/internal/core"
	"github.com/tradegate/backend/internal/learner"
	"github.com/tradegate/backend/internal/ledger"
	"github.com/tradegate/backend/internal/regime"
)

// StaticPanel returns a fixed advice regardless of the ledger. Used by
// tests and the dry-run check where the interesting behavior lives in the
// gate, not the deliberation.
type StaticPanel struct {
	Advice Advice
	Fail   error
}

func (p StaticPanel) Deliberate(ctx context.Context, book *ledger.FactLedger, guidance []learner.Lesson) (Advice, error) {
	if p.Fail != nil {
		return Advice{}, p.Fail
	}
	return p.Advice, nil
}

// MomentumPanel is a small deterministic built-in unit: it reads the regime
// snapshot out of the ledger and proposes with the trend, holding in choppy
// or volatile markets. It exists so a deployment has a working panel before
// any external advisory service is attached.
type MomentumPanel struct {
	BaseConfidence float64 // confidence in a clean trend, default 0.7
}

func (p MomentumPanel) Deliberate(ctx context.Context, book *ledger.FactLedger, guidance []learner.Lesson) (Advice, error) {
	base := p.BaseConfidence
	if base <= 0 || base > 1 {
		base = 0.7
	}

	snap := book.Regime()
	var dir core.Direction
	confidence := base
	switch snap.Label {
	case regime.TrendingUp:
		dir = core.DirectionIncrease
	case regime.TrendingDown:
		dir = core.DirectionDecrease
	default:
		dir = core.DirectionHold
		confidence = base / 2
	}

	// Conviction splits with volatility: the two signals drift apart as the
	// tape gets noisier.
	half := snap.Volatility
	if half > 0.5 {
		half = 0.5
	}
	scores := core.ConsensusScores{A: confidence + half*confidence, B: confidence - half*confidence}
	if scores.A > 1 {
		scores.A = 1
	}
	if scores.B < 0 {
		scores.B = 0
	}

	return Advice{
		Proposal: core.TradeProposal{
			Symbol:     symbolOf(book),
			Direction:  dir,
			Confidence: confidence,
			Rationale:  "momentum follow on " + string(snap.Label) + " regime",
		},
		Scores: scores,
	}, nil
}

func symbolOf(book *ledger.FactLedger) string {
	if series, ok := book.PriceSeries(); ok {
		return series.Symbol
	}
	return ""
}
