// Package core defines the shared domain types for the acquisition and
// authorization gate: capabilities, capability payloads, proposals, and
// consensus scores. Everything here is plain data, no behavior beyond
// validation helpers, so every other package can depend on it without
// import cycles.
package core

import (
	"fmt"
	"time"
)

// Capability identifies a kind of external data a source adapter can serve.
type Capability string

const (
	CapPriceSeries  Capability = "price_series"
	CapFundamentals Capability = "fundamentals"
	CapNews         Capability = "news"
	CapOwnership    Capability = "ownership_activity"
)

// AllCapabilities returns the closed set of known capabilities, in a fixed
// order suitable for startup validation.
func AllCapabilities() []Capability {
	return []Capability{CapPriceSeries, CapFundamentals, CapNews, CapOwnership}
}

// Valid reports whether c is one of the known capabilities.
func (c Capability) Valid() bool {
	switch c {
	case CapPriceSeries, CapFundamentals, CapNews, CapOwnership:
		return true
	}
	return false
}

// Payload is the normalized output of one adapter fetch for one capability.
// AsOf is the data's own timestamp (last bar close, filing date, publish
// time), not the wall-clock time of the fetch. Staleness checks run against
// AsOf; fetch time lives in provenance metadata instead.
type Payload interface {
	Capability() Capability
	AsOf() time.Time
}

// ============================================================================
// CAPABILITY PAYLOADS
// ============================================================================

// PricePoint is one OHLCV bar.
type PricePoint struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// PriceSeries is a daily OHLCV history, oldest bar first.
type PriceSeries struct {
	Symbol string       `json:"symbol"`
	Bars   []PricePoint `json:"bars"`
}

func (p PriceSeries) Capability() Capability { return CapPriceSeries }

func (p PriceSeries) AsOf() time.Time {
	if len(p.Bars) == 0 {
		return time.Time{}
	}
	return p.Bars[len(p.Bars)-1].Date
}

// LastClose returns the most recent closing price, or 0 if the series is empty.
func (p PriceSeries) LastClose() float64 {
	if len(p.Bars) == 0 {
		return 0
	}
	return p.Bars[len(p.Bars)-1].Close
}

// Fundamentals is a snapshot of valuation and balance-sheet ratios.
type Fundamentals struct {
	Symbol       string    `json:"symbol"`
	ReportDate   time.Time `json:"report_date"`
	MarketCap    float64   `json:"market_cap"`
	PERatio      float64   `json:"pe_ratio"`
	DebtToEquity float64   `json:"debt_to_equity"`
	RevenueTTM   float64   `json:"revenue_ttm"`
	EPS          float64   `json:"eps"`
}

func (f Fundamentals) Capability() Capability { return CapFundamentals }
func (f Fundamentals) AsOf() time.Time        { return f.ReportDate }

// NewsItem is one published headline with a vendor-supplied sentiment score.
type NewsItem struct {
	Headline    string    `json:"headline"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	Sentiment   float64   `json:"sentiment"` // -1.0 .. 1.0
}

// NewsDigest is the recent headline set for one symbol, newest first.
type NewsDigest struct {
	Symbol string     `json:"symbol"`
	Items  []NewsItem `json:"items"`
}

func (n NewsDigest) Capability() Capability { return CapNews }

func (n NewsDigest) AsOf() time.Time {
	if len(n.Items) == 0 {
		return time.Time{}
	}
	return n.Items[0].PublishedAt
}

// InsiderTransaction is one reported insider buy or sell.
type InsiderTransaction struct {
	Insider  string    `json:"insider"`
	Relation string    `json:"relation"` // CEO, CFO, Director, 10% Owner ...
	Type     string    `json:"type"`     // "buy" | "sell"
	Shares   int64     `json:"shares"`
	Value    float64   `json:"value"` // USD
	Date     time.Time `json:"date"`
}

// OwnershipActivity is the recent insider-transaction window for one symbol,
// newest first.
type OwnershipActivity struct {
	Symbol       string               `json:"symbol"`
	Transactions []InsiderTransaction `json:"transactions"`
}

func (o OwnershipActivity) Capability() Capability { return CapOwnership }

func (o OwnershipActivity) AsOf() time.Time {
	if len(o.Transactions) == 0 {
		return time.Time{}
	}
	return o.Transactions[0].Date
}

// SellConcentration returns the fraction of transaction value on the sell
// side, and the total sell value. Used by the compliance rule.
func (o OwnershipActivity) SellConcentration() (ratio float64, sellValue float64) {
	var buys, sells float64
	for _, tx := range o.Transactions {
		if tx.Type == "sell" {
			sells += tx.Value
		} else {
			buys += tx.Value
		}
	}
	total := buys + sells
	if total == 0 {
		return 0, 0
	}
	return sells / total, sells
}

// ============================================================================
// PROPOSALS & SCORES
// ============================================================================

// Direction is the structured intent of a trade proposal.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
	DirectionHold     Direction = "hold"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case DirectionIncrease, DirectionDecrease, DirectionHold:
		return true
	}
	return false
}

// TradeProposal is the action an advisory panel asks the gate to authorize.
// Rationale is opaque prose carried for the audit trail; the gatekeeper only
// reads the structured fields.
type TradeProposal struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"` // 0.0 .. 1.0
	Rationale  string    `json:"rationale"`
}

// Validate rejects proposals with out-of-range structured fields before they
// reach rule evaluation.
func (p TradeProposal) Validate() error {
	if !p.Direction.Valid() {
		return fmt.Errorf("invalid proposal direction %q", p.Direction)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("proposal confidence %.3f outside [0,1]", p.Confidence)
	}
	return nil
}

// ConsensusScores carries the two independent conviction signals attached to
// a decision cycle. A and B come from opposing reviewers; the gatekeeper's
// divergence rule combines them, it never averages them away.
type ConsensusScores struct {
	A float64 `json:"a"` // 0.0 .. 1.0
	B float64 `json:"b"` // 0.0 .. 1.0
}

// Spread is the absolute disagreement |A-B| between the two signals.
func (s ConsensusScores) Spread() float64 {
	d := s.A - s.B
	if d < 0 {
		d = -d
	}
	return d
}

// Divergence weights the spread by mean conviction: strong disagreement
// held with strong conviction scores high. meanConfidence is the average
// conviction the reviewers attached to the resulting proposal.
func (s ConsensusScores) Divergence(meanConfidence float64) float64 {
	return s.Spread() * meanConfidence
}
