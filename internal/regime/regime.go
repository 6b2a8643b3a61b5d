// Package regime classifies current market behavior from a price series.
// The classifier is a pure function: same bars in, same label out, no I/O,
// no vendor-specific logic. It runs exactly once per cycle, before the
// ledger is sealed.
package regime

import (
	"math"

	"github.com/tradegate/backend/internal/core"
)

// Label is the categorical market-state tag.
type Label string

const (
	TrendingUp   Label = "trending_up"
	TrendingDown Label = "trending_down"
	Choppy       Label = "choppy"
	Volatile     Label = "volatile"
)

// Default windows and thresholds. These describe the measurement, not gate
// policy, so they are fixed here rather than in config.
const (
	shortWindow = 20
	longWindow  = 50

	// Daily return stddev above this marks the volatile regime regardless
	// of trend direction.
	volatilityThreshold = 0.03

	// Short/long moving-average separation below this is noise, not trend.
	trendThreshold = 0.02
)

// Snapshot is the classifier output written into the ledger: the label plus
// the derived indicators the gatekeeper's trend rule reads.
type Snapshot struct {
	Label         Label   `json:"label"`
	TrendStrength float64 `json:"trend_strength"` // |shortMA-longMA| / longMA
	Volatility    float64 `json:"volatility"`     // stddev of daily returns
	GrowthRate    float64 `json:"growth_rate"`    // return over the long window
	ShortMA       float64 `json:"short_ma"`
	LongMA        float64 `json:"long_ma"`
	LastClose     float64 `json:"last_close"`
}

// Classify computes the regime for a price series (bars oldest-first). A
// series too short to measure (fewer than 2 bars) classifies as choppy with
// zero indicators, the staleness and data-gap rules upstream keep such
// series out of real cycles.
func Classify(series core.PriceSeries) Snapshot {
	n := len(series.Bars)
	if n < 2 {
		return Snapshot{Label: Choppy, LastClose: series.LastClose()}
	}

	closes := make([]float64, n)
	for i, b := range series.Bars {
		closes[i] = b.Close
	}

	short := mean(tail(closes, shortWindow))
	long := mean(tail(closes, longWindow))
	vol := stddev(dailyReturns(tail(closes, longWindow)))

	growthBase := tail(closes, longWindow)[0]
	growth := 0.0
	if growthBase != 0 {
		growth = closes[n-1]/growthBase - 1
	}

	strength := 0.0
	if long != 0 {
		strength = math.Abs(short-long) / long
	}

	snap := Snapshot{
		TrendStrength: strength,
		Volatility:    vol,
		GrowthRate:    growth,
		ShortMA:       short,
		LongMA:        long,
		LastClose:     closes[n-1],
	}

	switch {
	case vol > volatilityThreshold:
		snap.Label = Volatile
	case strength > trendThreshold && short > long:
		snap.Label = TrendingUp
	case strength > trendThreshold && short < long:
		snap.Label = TrendingDown
	default:
		snap.Label = Choppy
	}
	return snap
}

// tail returns the last w elements of xs, or all of xs when shorter.
func tail(xs []float64, w int) []float64 {
	if len(xs) <= w {
		return xs
	}
	return xs[len(xs)-w:]
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func dailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		rets = append(rets, closes[i]/closes[i-1]-1)
	}
	return rets
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
