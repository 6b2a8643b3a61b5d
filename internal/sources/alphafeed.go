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

// AlphaFeedAdapter fetches daily price history and news from the AlphaFeed
// REST API. It is the primary vendor for both capabilities.
type AlphaFeedAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewAlphaFeedAdapter builds the adapter. The API key is required at
// construction so a missing credential fails at startup, not mid-cycle.
func NewAlphaFeedAdapter(baseURL, apiKey string, timeout time.Duration) (*AlphaFeedAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("alphafeed: missing API key")
	}
	return &AlphaFeedAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  newVendorClient(timeout),
	}, nil
}

func (a *AlphaFeedAdapter) ID() string { return "alphafeed" }

func (a *AlphaFeedAdapter) Capabilities() []core.Capability {
	return []core.Capability{core.CapPriceSeries, core.CapNews}
}

func (a *AlphaFeedAdapter) PrepareRequest(p Params) (*Request, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("alphafeed: empty symbol")
	}

	q := url.Values{}
	q.Set("symbol", p.Symbol)
	q.Set("apikey", a.apiKey)

	var path string
	switch p.Capability {
	case core.CapPriceSeries:
		path = "/daily"
		if p.Lookback > 0 {
			q.Set("outputsize", fmt.Sprintf("%d", p.Lookback))
		}
	case core.CapNews:
		path = "/news"
		if p.Lookback > 0 {
			q.Set("limit", fmt.Sprintf("%d", p.Lookback))
		}
	default:
		return nil, fmt.Errorf("alphafeed: unsupported capability %q", p.Capability)
	}

	return &Request{
		Method: http.MethodGet,
		URL:    a.baseURL + path + "?" + q.Encode(),
		Header: http.Header{"Accept": []string{"application/json"}},
	}, nil
}

func (a *AlphaFeedAdapter) Execute(ctx context.Context, req *Request) (*RawResponse, error) {
	return doHTTP(ctx, a.client, a.ID(), req)
}

// alphaFeedBar is the vendor wire format for one daily bar.
type alphaFeedBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

type alphaFeedDaily struct {
	Symbol string         `json:"symbol"`
	Series []alphaFeedBar `json:"series"`
}

type alphaFeedArticle struct {
	Title       string  `json:"title"`
	Publisher   string  `json:"publisher"`
	PublishedAt string  `json:"published_at"`
	Sentiment   float64 `json:"sentiment_score"`
}

type alphaFeedNews struct {
	Symbol   string             `json:"symbol"`
	Articles []alphaFeedArticle `json:"articles"`
}

func (a *AlphaFeedAdapter) Normalize(p Params, raw *RawResponse) (core.Payload, error) {
	switch p.Capability {
	case core.CapPriceSeries:
		return a.normalizeDaily(raw)
	case core.CapNews:
		return a.normalizeNews(raw)
	default:
		return nil, Permanent(a.ID(), "normalize", fmt.Errorf("unsupported capability %q", p.Capability))
	}
}

func (a *AlphaFeedAdapter) normalizeDaily(raw *RawResponse) (core.Payload, error) {
	var wire alphaFeedDaily
	if err := json.Unmarshal(raw.Body, &wire); err != nil {
		return nil, Permanent(a.ID(), "normalize", fmt.Errorf("daily schema mismatch: %w", err))
	}
	if len(wire.Series) == 0 {
		return nil, Permanent(a.ID(), "normalize", fmt.Errorf("daily series empty for %s", wire.Symbol))
	}

	series := core.PriceSeries{Symbol: wire.Symbol, Bars: make([]core.PricePoint, 0, len(wire.Series))}
	for _, b := range wire.Series {
		d, err := time.Parse("2006-01-02", b.Date)
		if err != nil {
			return nil, Permanent(a.ID(), "normalize", fmt.Errorf("bad bar date %q: %w", b.Date, err))
		}
		series.Bars = append(series.Bars, core.PricePoint{
			Date: d, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
		})
	}
	// Vendor order is not guaranteed; the classifier needs oldest-first
	sort.Slice(series.Bars, func(i, j int) bool { return series.Bars[i].Date.Before(series.Bars[j].Date) })
	return series, nil
}

func (a *AlphaFeedAdapter) normalizeNews(raw *RawResponse) (core.Payload, error) {
	var wire alphaFeedNews
	if err := json.Unmarshal(raw.Body, &wire); err != nil {
		return nil, Permanent(a.ID(), "normalize", fmt.Errorf("news schema mismatch: %w", err))
	}

	digest := core.NewsDigest{Symbol: wire.Symbol, Items: make([]core.NewsItem, 0, len(wire.Articles))}
	for _, art := range wire.Articles {
		ts, err := time.Parse(time.RFC3339, art.PublishedAt)
		if err != nil {
			return nil, Permanent(a.ID(), "normalize", fmt.Errorf("bad publish time %q: %w", art.PublishedAt, err))
		}
		digest.Items = append(digest.Items, core.NewsItem{
			Headline: art.Title, Source: art.Publisher, PublishedAt: ts, Sentiment: art.Sentiment,
		})
	}
	sort.Slice(digest.Items, func(i, j int) bool { return digest.Items[i].PublishedAt.After(digest.Items[j].PublishedAt) })
	return digest, nil
}
