// Package gatekeeper is the deterministic rule evaluator standing between a
// proposed trade and its authorization.
//
// Authorize is pure apart from the live-price pulse check and decision
// logging: given the same sealed ledger, proposal, scores, and clock, it
// returns the same result. Rules evaluate in a fixed order and the first
// match wins, later rules assume earlier ones did not fire, so the order
// must never be changed or parallelized.
package gatekeeper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tradegate/backend/internal/config"
	"github.com/tradegate/backend/internal/core"
	"github.com/tradegate/backend/internal/ledger"
	"github.com/tradegate/backend/internal/metrics"
	"github.com/tradegate/backend/internal/regime"
	"github.com/tradegate/backend/internal/reviewlog"
)

// ExecutionResult is the closed set of authorization outcomes. Downstream
// code switches on these values, never on message text.
type ExecutionResult string

const (
	Approved             ExecutionResult = "approved"
	AbortCompliance      ExecutionResult = "abort_compliance"
	AbortDataGap         ExecutionResult = "abort_data_gap"
	AbortLowConfidence   ExecutionResult = "abort_low_confidence"
	AbortDivergence      ExecutionResult = "abort_divergence"
	AbortStaleData       ExecutionResult = "abort_stale_data"
	BlockedTrend         ExecutionResult = "blocked_trend"
	AbortMarketClosed    ExecutionResult = "abort_market_closed"
	AbortCorporateAction ExecutionResult = "abort_corporate_action"
)

// Rule names recorded in decisions and the review log.
const (
	RuleDataGap         = "data_gap"
	RuleFreshness       = "freshness_recheck"
	RuleMarketSession   = "market_session"
	RuleCorporateAction = "corporate_action_guard"
	RuleCompliance      = "compliance"
	RuleConfidenceFloor = "confidence_floor"
	RuleDivergence      = "divergence"
	RuleTrendOverride   = "trend_override"
)

// Tunable threshold names. The learner publishes adjusted values under these
// keys; the gatekeeper reads them back when a TunableSource is installed.
const (
	TunableConfidenceFloor   = "confidence_floor"
	TunableDivergenceCeiling = "divergence_ceiling"
)

// TunableSource supplies live threshold values by name. A missing name means
// the caller should fall back to its static configuration.
type TunableSource interface {
	Value(name string) (float64, bool)
}

// Decision is the structured explanation returned with every outcome.
type Decision struct {
	Result          ExecutionResult `json:"result"`
	RuleFired       string          `json:"rule_fired,omitempty"`
	OriginalIntent  core.Direction  `json:"original_intent"`
	EffectiveAction core.Direction  `json:"effective_action"`
	LedgerID        string          `json:"ledger_id"`
	EvaluatedAt     time.Time       `json:"evaluated_at"`
	Detail          string          `json:"detail,omitempty"`
}

// LivePriceFunc fetches the current reference price for the pulse check.
type LivePriceFunc func(ctx context.Context, symbol string) (float64, error)

// Gatekeeper evaluates proposals against sealed ledgers.
type Gatekeeper struct {
	cfg       config.GateConfig
	staleness map[core.Capability]time.Duration
	livePrice LivePriceFunc
	review    reviewlog.Recorder
	metrics   *metrics.Metrics
	logger    *log.Logger
	now       func() time.Time
	tunables  TunableSource
}

// New builds a gatekeeper. stalenessHours is keyed by capability name as in
// the acquisition config; livePrice may not be nil.
func New(cfg config.GateConfig, stalenessHours map[string]int, livePrice LivePriceFunc, review reviewlog.Recorder, m *metrics.Metrics) *Gatekeeper {
	ceilings := make(map[core.Capability]time.Duration, len(stalenessHours))
	for name, hours := range stalenessHours {
		ceilings[core.Capability(name)] = time.Duration(hours) * time.Hour
	}
	return &Gatekeeper{
		cfg:       cfg,
		staleness: ceilings,
		livePrice: livePrice,
		review:    review,
		metrics:   m,
		logger:    log.New(log.Writer(), "[GATEKEEPER] ", log.LstdFlags),
		now:       time.Now,
	}
}

// SetClock replaces the time source for tests.
func (g *Gatekeeper) SetClock(now func() time.Time) { g.now = now }

// UseTunables installs a live threshold source. Rules that carry a tunable
// threshold read from it first and fall back to the static config when the
// source is nil or does not carry the name.
func (g *Gatekeeper) UseTunables(src TunableSource) { g.tunables = src }

func (g *Gatekeeper) confidenceFloor() float64 {
	if g.tunables != nil {
		if v, ok := g.tunables.Value(TunableConfidenceFloor); ok {
			return v
		}
	}
	return g.cfg.ConfidenceFloor
}

func (g *Gatekeeper) divergenceCeiling() float64 {
	if g.tunables != nil {
		if v, ok := g.tunables.Value(TunableDivergenceCeiling); ok {
			return v
		}
	}
	return g.cfg.DivergenceCeiling
}

// Authorize validates the proposal against the sealed ledger and scores.
// Abort outcomes are normal return values, never errors; every non-approved
// decision is written to the review log.
func (g *Gatekeeper) Authorize(ctx context.Context, l *ledger.FactLedger, proposal core.TradeProposal, scores core.ConsensusScores) Decision {
	if !l.Sealed() {
		panic(fmt.Sprintf("gatekeeper: ledger %s reached authorization unsealed", l.ID()))
	}

	now := g.now().UTC()
	decision := g.evaluate(ctx, l, proposal, scores, now)
	decision.LedgerID = l.ID()
	decision.OriginalIntent = proposal.Direction
	decision.EvaluatedAt = now

	g.metrics.Decisions.WithLabelValues(string(decision.Result)).Inc()
	if decision.Result == Approved {
		g.logger.Printf("✅ ledger=%s %s approved (confidence %.2f)", l.ID(), proposal.Direction, proposal.Confidence)
	} else {
		g.logger.Printf("🚫 ledger=%s %s -> %s (rule=%s): %s", l.ID(), proposal.Direction, decision.Result, decision.RuleFired, decision.Detail)
		g.recordReview(ctx, decision)
	}
	return decision
}

// evaluate runs the rule chain and returns a partially filled decision
// (result, rule, effective action, detail).
func (g *Gatekeeper) evaluate(ctx context.Context, l *ledger.FactLedger, proposal core.TradeProposal, scores core.ConsensusScores, now time.Time) Decision {
	// Precondition: structurally usable inputs. A malformed proposal or a
	// ledger missing the payloads the rules read is a data gap, not a rule
	// judgment.
	series, haveSeries := l.PriceSeries()
	if err := proposal.Validate(); err != nil {
		return abort(AbortDataGap, RuleDataGap, err.Error())
	}
	if !haveSeries || len(series.Bars) == 0 {
		return abort(AbortDataGap, RuleDataGap, "ledger has no price series")
	}

	// Rule 1: freshness re-check. Acquisition already enforced ceilings,
	// but time passes between sealing and authorization.
	for _, capability := range l.Capabilities() {
		ceiling, configured := g.staleness[capability]
		if !configured {
			continue
		}
		if age, ok := l.Age(capability, now); ok && age > ceiling {
			return abort(AbortStaleData, RuleFreshness,
				fmt.Sprintf("%s is %s old, ceiling %s", capability, age.Round(time.Minute), ceiling))
		}
	}

	// Rule 2: market session window (UTC hours, weekdays only).
	if !g.inSession(now) {
		return abort(AbortMarketClosed, RuleMarketSession,
			fmt.Sprintf("%s outside session %02d:00-%02d:00 UTC", now.Format("Mon 15:04"), g.cfg.SessionOpenHourUTC, g.cfg.SessionCloseHourUTC))
	}

	// Rule 3: corporate-action guard. A live price far from the captured
	// close means a split, delisting, or halt the ledger does not model.
	// A pulse-check timeout is a freshness failure, never silent success.
	pulseCtx, cancel := context.WithTimeout(ctx, g.cfg.PulseTimeout())
	defer cancel()
	live, err := g.livePrice(pulseCtx, proposal.Symbol)
	if err != nil {
		return abort(AbortStaleData, RuleCorporateAction,
			fmt.Sprintf("pulse check failed: %v", err))
	}
	captured := series.LastClose()
	if captured > 0 {
		deviation := live/captured - 1
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > g.cfg.CorporateActionDevPct {
			return abort(AbortCorporateAction, RuleCorporateAction,
				fmt.Sprintf("live %.2f deviates %.0f%% from captured %.2f", live, deviation*100, captured))
		}
	}

	// Rule 4: compliance, concentrated insider selling.
	if ownership, ok := l.Ownership(); ok {
		ratio, sellValue := ownership.SellConcentration()
		if ratio >= g.cfg.InsiderSellRatio && sellValue >= g.cfg.InsiderSellMinValueUSD {
			return abort(AbortCompliance, RuleCompliance,
				fmt.Sprintf("insider selling %.0f%% of activity ($%.0f)", ratio*100, sellValue))
		}
	}

	// Rule 5: confidence floor. The floor is tunable, a learner that has
	// been burned recently will have raised it above the configured base.
	if floor := g.confidenceFloor(); proposal.Confidence < floor {
		return abort(AbortLowConfidence, RuleConfidenceFloor,
			fmt.Sprintf("confidence %.2f below floor %.2f", proposal.Confidence, floor))
	}

	// Rule 6: divergence. Strong disagreement held with strong conviction
	// is epistemic danger, not something to average away.
	if ceiling, d := g.divergenceCeiling(), scores.Divergence(proposal.Confidence); d > ceiling {
		return abort(AbortDivergence, RuleDivergence,
			fmt.Sprintf("divergence %.3f exceeds ceiling %.3f (a=%.2f b=%.2f)", d, ceiling, scores.A, scores.B))
	}

	// Rule 7: trend override. Fighting a strong, sustained trend is
	// blocked, not failed, the effective action becomes hold.
	if detail, opposed := g.opposesTrend(l.Regime(), proposal.Direction); opposed {
		return Decision{
			Result:          BlockedTrend,
			RuleFired:       RuleTrendOverride,
			EffectiveAction: core.DirectionHold,
			Detail:          detail,
		}
	}

	return Decision{Result: Approved, EffectiveAction: proposal.Direction}
}

// abort builds a non-approved decision whose effective action is hold.
func abort(result ExecutionResult, rule, detail string) Decision {
	return Decision{
		Result:          result,
		RuleFired:       rule,
		EffectiveAction: core.DirectionHold,
		Detail:          detail,
	}
}

// inSession reports whether t falls inside the configured trading window.
func (g *Gatekeeper) inSession(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	h := t.Hour()
	return h >= g.cfg.SessionOpenHourUTC && h < g.cfg.SessionCloseHourUTC
}

// opposesTrend reports whether the proposal fights a strong sustained trend
// per the ledger's regime snapshot.
func (g *Gatekeeper) opposesTrend(snap regime.Snapshot, dir core.Direction) (string, bool) {
	switch {
	case dir == core.DirectionDecrease &&
		snap.Label == regime.TrendingUp &&
		snap.GrowthRate > g.cfg.TrendGrowthThreshold &&
		snap.LastClose > snap.LongMA:
		return fmt.Sprintf("decrease against uptrend (growth %.2f, close %.2f above long MA %.2f)",
			snap.GrowthRate, snap.LastClose, snap.LongMA), true

	case dir == core.DirectionIncrease &&
		snap.Label == regime.TrendingDown &&
		snap.GrowthRate < -g.cfg.TrendGrowthThreshold &&
		snap.LastClose < snap.LongMA:
		return fmt.Sprintf("increase against downtrend (growth %.2f, close %.2f below long MA %.2f)",
			snap.GrowthRate, snap.LastClose, snap.LongMA), true
	}
	return "", false
}

// recordReview appends the decision to the review log. Logging failures are
// reported but do not change the decision, the outcome stands either way.
func (g *Gatekeeper) recordReview(ctx context.Context, d Decision) {
	e := reviewlog.NewEvent(reviewlog.KindGateAbort)
	if d.Result == BlockedTrend {
		e.Kind = reviewlog.KindTrendOverride
	}
	e.LedgerID = d.LedgerID
	e.Result = string(d.Result)
	e.RuleFired = d.RuleFired
	e.OriginalIntent = string(d.OriginalIntent)
	e.EffectiveAction = string(d.EffectiveAction)
	e.Detail = d.Detail

	if err := g.review.Record(ctx, e); err != nil {
		g.logger.Printf("⚠️ review log write failed for ledger=%s: %v", d.LedgerID, err)
	}
}
