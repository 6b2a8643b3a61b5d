package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// maxResponseBytes caps vendor response bodies so a misbehaving endpoint
// cannot exhaust memory.
const maxResponseBytes = 8 << 20

// doHTTP executes a prepared request with the given client and classifies
// the outcome. Shared by every HTTP-backed adapter so classification policy
// lives in one place:
//
//	429, 5xx, timeouts, connection errors -> transient
//	401/403 (credentials), other 4xx      -> permanent
func doHTTP(ctx context.Context, client *http.Client, adapterID string, req *Request) (*RawResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, nil)
	if err != nil {
		return nil, Permanent(adapterID, "execute", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, Transient(adapterID, "execute", err)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, Transient(adapterID, "execute", err)
		}
		// Connection refused, DNS failure, reset, all worth retrying
		return nil, Transient(adapterID, "execute", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, Transient(adapterID, "execute", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return &RawResponse{StatusCode: resp.StatusCode, Body: body}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, Transient(adapterID, "execute", fmt.Errorf("vendor returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, Permanent(adapterID, "execute", fmt.Errorf("credentials rejected (%d)", resp.StatusCode))
	default:
		return nil, Permanent(adapterID, "execute", fmt.Errorf("vendor returned %d", resp.StatusCode))
	}
}

// newVendorClient builds the http.Client used by vendor adapters. The
// timeout here is a backstop; the registrar also imposes per-call context
// deadlines.
func newVendorClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
