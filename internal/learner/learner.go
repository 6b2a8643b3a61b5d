package learner

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tradegate/backend/internal/config"
	"github.com/tradegate/backend/internal/gatekeeper"
	"github.com/tradegate/backend/internal/regime"
	"github.com/tradegate/backend/internal/reviewlog"
)

// Tunable parameter names. These are the gatekeeper's tunable threshold
// keys; everything else in GateConfig is off limits to the learner.
const (
	ParamConfidenceFloor   = gatekeeper.TunableConfidenceFloor
	ParamDivergenceCeiling = gatekeeper.TunableDivergenceCeiling
)

// OutcomeRecord is the realized result of one past decision cycle.
type OutcomeRecord struct {
	LedgerID string                     `json:"ledger_id"`
	Regime   regime.Label               `json:"regime"`
	Result   gatekeeper.ExecutionResult `json:"result"`
	PnL      float64                    `json:"pnl"` // realized profit/loss, USD
	Note     string                     `json:"note,omitempty"`
}

// Adjustment describes one applied or rejected parameter move.
type Adjustment struct {
	Param     string        `json:"param"`
	Direction MoveDirection `json:"direction"`
	Delta     float64       `json:"delta"`
	NewValue  float64       `json:"new_value"`
	Rejected  bool          `json:"rejected"`
}

// Learner consumes outcome records and proposes bounded threshold moves.
type Learner struct {
	state   *ParameterState
	lessons *LessonStore
	review  reviewlog.Recorder
	step    float64
	logger  *log.Logger
	now     func() time.Time
}

// New builds a learner seeded from the current gate config. The seeded
// parameters become the live values; the config file only supplies starting
// points.
func New(cfg config.LearnerConfig, gate config.GateConfig, review reviewlog.Recorder) *Learner {
	state := NewParameterState(cfg.BrakeRepeatLimit, cfg.HistoryDepth)
	state.Define(ParamConfidenceFloor, gate.ConfidenceFloor, 0.10, 0.95)
	state.Define(ParamDivergenceCeiling, gate.DivergenceCeiling, 0.05, 0.90)

	return &Learner{
		state:   state,
		lessons: NewLessonStore(cfg.MaxLessons),
		review:  review,
		step:    0.02,
		logger:  log.New(log.Writer(), "[LEARNER] ", log.LstdFlags),
		now:     time.Now,
	}
}

// Parameters exposes the live tunable state. Install it on the gatekeeper
// with UseTunables so adjusted thresholds take effect on the next cycle.
func (l *Learner) Parameters() *ParameterState { return l.state }

// Lessons exposes the regime-tagged guidance store.
func (l *Learner) Lessons() *LessonStore { return l.lessons }

// UpdateParameters applies the threshold moves implied by one outcome.
// Rejections from the velocity brake are recorded in the review log and do
// not stop the remaining moves.
func (l *Learner) UpdateParameters(ctx context.Context, rec OutcomeRecord) []Adjustment {
	moves := l.propose(rec)
	applied := make([]Adjustment, 0, len(moves))

	for _, m := range moves {
		newValue, err := l.state.Adjust(m.Param, m.Direction, m.Delta)
		m.NewValue = newValue
		if err != nil {
			m.Rejected = true
			l.logger.Printf("⚠️ adjustment rejected: %v", err)
			l.recordRejection(ctx, rec, m, err)
		} else {
			l.logger.Printf("param=%s moved %s to %.3f (outcome pnl=%.2f)", m.Param, m.Direction, newValue, rec.PnL)
		}
		applied = append(applied, m)
	}

	if rec.Note != "" {
		l.lessons.Add(rec.Regime, rec.Note, l.now())
	}
	return applied
}

// propose maps an outcome to threshold moves. Losses on approved trades
// tighten the gate; profits relax it by the same bounded step. Non-approved
// outcomes teach nothing about the thresholds themselves.
func (l *Learner) propose(rec OutcomeRecord) []Adjustment {
	if rec.Result != gatekeeper.Approved {
		return nil
	}

	if rec.PnL < 0 {
		return []Adjustment{
			{Param: ParamConfidenceFloor, Direction: MoveUp, Delta: l.step},
			{Param: ParamDivergenceCeiling, Direction: MoveDown, Delta: l.step},
		}
	}
	return []Adjustment{
		{Param: ParamConfidenceFloor, Direction: MoveDown, Delta: l.step},
		{Param: ParamDivergenceCeiling, Direction: MoveUp, Delta: l.step},
	}
}

func (l *Learner) recordRejection(ctx context.Context, rec OutcomeRecord, m Adjustment, cause error) {
	e := reviewlog.NewEvent(reviewlog.KindBrakeRejection)
	e.LedgerID = rec.LedgerID
	e.Detail = fmt.Sprintf("param=%s direction=%s: %v", m.Param, m.Direction, cause)
	if err := l.review.Record(ctx, e); err != nil {
		l.logger.Printf("⚠️ review log write failed: %v", err)
	}
}
