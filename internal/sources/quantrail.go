package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/tradegate/backend/internal/core"
)

// QuantRailAdapter fetches fundamentals and insider-transaction data from
// the QuantRail API, and serves as the fallback price-history vendor when
// AlphaFeed is unavailable.
type QuantRailAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewQuantRailAdapter(baseURL, apiKey string, timeout time.Duration) (*QuantRailAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("quantrail: missing API key")
	}
	return &QuantRailAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  newVendorClient(timeout),
	}, nil
}

func (a *QuantRailAdapter) ID() string { return "quantrail" }

func (a *QuantRailAdapter) Capabilities() []core.Capability {
	return []core.Capability{core.CapFundamentals, core.CapOwnership, core.CapPriceSeries}
}

func (a *QuantRailAdapter) PrepareRequest(p Params) (*Request, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("quantrail: empty symbol")
	}

	var path string
	switch p.Capability {
	case core.CapFundamentals:
		path = "/fundamentals/" + url.PathEscape(p.Symbol)
	case core.CapOwnership:
		path = "/insider/" + url.PathEscape(p.Symbol)
	case core.CapPriceSeries:
		path = "/eod/" + url.PathEscape(p.Symbol)
	default:
		return nil, fmt.Errorf("quantrail: unsupported capability %q", p.Capability)
	}

	q := url.Values{}
	if p.Lookback > 0 {
		q.Set("window", fmt.Sprintf("%d", p.Lookback))
	}

	u := a.baseURL + path
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}

	return &Request{
		Method: http.MethodGet,
		URL:    u,
		Header: http.Header{
			"Accept":        []string{"application/json"},
			"Authorization": []string{"Bearer " + a.apiKey},
		},
	}, nil
}

func (a *QuantRailAdapter) Execute(ctx context.Context, req *Request) (*RawResponse, error) {
	return doHTTP(ctx, a.client, a.ID(), req)
}

type quantRailFundamentals struct {
	Ticker       string  `json:"ticker"`
	AsOf         string  `json:"as_of"`
	MarketCap    float64 `json:"market_cap"`
	PERatio      float64 `json:"pe"`
	DebtToEquity float64 `json:"de_ratio"`
	RevenueTTM   float64 `json:"revenue_ttm"`
	EPS          float64 `json:"eps"`
}

type quantRailInsiderTx struct {
	Name     string  `json:"name"`
	Role     string  `json:"role"`
	Side     string  `json:"side"` // "BUY" | "SELL"
	Shares   int64   `json:"shares"`
	ValueUSD float64 `json:"value_usd"`
	Filed    string  `json:"filed"`
}

type quantRailInsiders struct {
	Ticker       string               `json:"ticker"`
	Transactions []quantRailInsiderTx `json:"transactions"`
}

type quantRailEODBar struct {
	Date   string  `json:"d"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume int64   `json:"v"`
}

type quantRailEOD struct {
	Ticker string            `json:"ticker"`
	Bars   []quantRailEODBar `json:"bars"`
}

func (a *QuantRailAdapter) Normalize(p Params, raw *RawResponse) (core.Payload, error) {
	switch p.Capability {
	case core.CapFundamentals:
		return a.normalizeFundamentals(raw)
	case core.CapOwnership:
		return a.normalizeInsiders(raw)
	case core.CapPriceSeries:
		return a.normalizeEOD(raw)
	default:
		return nil, Permanent(a.ID(), "normalize", fmt.Errorf("unsupported capability %q", p.Capability))
	}
}

func (a *QuantRailAdapter) normalizeFundamentals(raw *RawResponse) (core.Payload, error) {
	var wire quantRailFundamentals
	if err := json.Unmarshal(raw.Body, &wire); err != nil {
		return nil, Permanent(a.ID(), "normalize", fmt.Errorf("fundamentals schema mismatch: %w", err))
	}
	reportDate, err := time.Parse("2006-01-02", wire.AsOf)
	if err != nil {
		return nil, Permanent(a.ID(), "normalize", fmt.Errorf("bad report date %q: %w", wire.AsOf, err))
	}
	if wire.MarketCap == 0 && wire.RevenueTTM == 0 {
		return nil, Permanent(a.ID(), "normalize", fmt.Errorf("fundamentals empty for %s", wire.Ticker))
	}

	return core.Fundamentals{
		Symbol:       wire.Ticker,
		ReportDate:   reportDate,
		MarketCap:    wire.MarketCap,
		PERatio:      wire.PERatio,
		DebtToEquity: wire.DebtToEquity,
		RevenueTTM:   wire.RevenueTTM,
		EPS:          wire.EPS,
	}, nil
}

func (a *QuantRailAdapter) normalizeInsiders(raw *RawResponse) (core.Payload, error) {
	var wire quantRailInsiders
	if err := json.Unmarshal(raw.Body, &wire); err != nil {
		return nil, Permanent(a.ID(), "normalize", fmt.Errorf("insider schema mismatch: %w", err))
	}

	activity := core.OwnershipActivity{Symbol: wire.Ticker, Transactions: make([]core.InsiderTransaction, 0, len(wire.Transactions))}
	for _, tx := range wire.Transactions {
		filed, err := time.Parse("2006-01-02", tx.Filed)
		if err != nil {
			return nil, Permanent(a.ID(), "normalize", fmt.Errorf("bad filing date %q: %w", tx.Filed, err))
		}
		side := "buy"
		if tx.Side == "SELL" {
			side = "sell"
		}
		activity.Transactions = append(activity.Transactions, core.InsiderTransaction{
			Insider: tx.Name, Relation: tx.Role, Type: side,
			Shares: tx.Shares, Value: tx.ValueUSD, Date: filed,
		})
	}
	sort.Slice(activity.Transactions, func(i, j int) bool {
		return activity.Transactions[i].Date.After(activity.Transactions[j].Date)
	})
	return activity, nil
}

func (a *QuantRailAdapter) normalizeEOD(raw *RawResponse) (core.Payload, error) {
	var wire quantRailEOD
	if err := json.Unmarshal(raw.Body, &wire); err != nil {
		return nil, Permanent(a.ID(), "normalize", fmt.Errorf("eod schema mismatch: %w", err))
	}
	if len(wire.Bars) == 0 {
		return nil, Permanent(a.ID(), "normalize", fmt.Errorf("eod series empty for %s", wire.Ticker))
	}

	series := core.PriceSeries{Symbol: wire.Ticker, Bars: make([]core.PricePoint, 0, len(wire.Bars))}
	for _, b := range wire.Bars {
		d, err := time.Parse("2006-01-02", b.Date)
		if err != nil {
			return nil, Permanent(a.ID(), "normalize", fmt.Errorf("bad bar date %q: %w", b.Date, err))
		}
		series.Bars = append(series.Bars, core.PricePoint{
			Date: d, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
		})
	}
	sort.Slice(series.Bars, func(i, j int) bool { return series.Bars[i].Date.Before(series.Bars[j].Date) })
	return series, nil
}
