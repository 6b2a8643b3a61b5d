package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// QuoteClient fetches a single live reference price. The gatekeeper's pulse
// check uses it with a short timeout to detect corporate-action-scale moves
// between acquisition and authorization.
type QuoteClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewQuoteClient(endpoint, apiKey string) *QuoteClient {
	return &QuoteClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   newVendorClient(5 * time.Second),
	}
}

type quoteWire struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// Price returns the current reference price for symbol. Callers impose their
// own context deadline; a timeout surfaces as an error, never as a zero
// price.
func (q *QuoteClient) Price(ctx context.Context, symbol string) (float64, error) {
	u := q.endpoint + "?" + url.Values{"symbol": {symbol}, "apikey": {q.apiKey}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("quote endpoint returned %d", resp.StatusCode)
	}

	var wire quoteWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return 0, err
	}
	if wire.Price <= 0 {
		return 0, fmt.Errorf("quote endpoint returned non-positive price %.4f for %s", wire.Price, symbol)
	}
	return wire.Price, nil
}
