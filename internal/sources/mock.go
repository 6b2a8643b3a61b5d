package sources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tradegate/backend/internal/core"
)

// MockAdapter is a scriptable in-memory adapter used by tests and the
// gate-check dry run. Each call pops the next scripted step; when the script
// is exhausted the last step repeats.
type MockAdapter struct {
	mu    sync.Mutex
	id    string
	caps  []core.Capability
	steps []MockStep
	calls int
}

// MockStep is one scripted invocation outcome.
type MockStep struct {
	Payload core.Payload
	Err     error
}

// NewMockAdapter builds a mock serving the given capabilities.
func NewMockAdapter(id string, caps []core.Capability, steps ...MockStep) *MockAdapter {
	return &MockAdapter{id: id, caps: caps, steps: steps}
}

// NewMockPriceAdapter is a convenience mock that always succeeds with a
// synthetic price series ending at asOf.
func NewMockPriceAdapter(id, symbol string, closes []float64, asOf time.Time) *MockAdapter {
	bars := make([]core.PricePoint, len(closes))
	for i, c := range closes {
		bars[i] = core.PricePoint{
			Date:   asOf.AddDate(0, 0, i-len(closes)+1),
			Open:   c, High: c * 1.01, Low: c * 0.99, Close: c,
			Volume: 1_000_000,
		}
	}
	return NewMockAdapter(id, []core.Capability{core.CapPriceSeries}, MockStep{
		Payload: core.PriceSeries{Symbol: symbol, Bars: bars},
	})
}

func (m *MockAdapter) ID() string                      { return m.id }
func (m *MockAdapter) Capabilities() []core.Capability { return m.caps }

// Calls reports how many Execute invocations the mock has seen.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockAdapter) PrepareRequest(p Params) (*Request, error) {
	return &Request{Method: "GET", URL: "mock://" + m.id + "/" + string(p.Capability)}, nil
}

func (m *MockAdapter) Execute(ctx context.Context, req *Request) (*RawResponse, error) {
	m.mu.Lock()
	step, ok := m.next()
	m.mu.Unlock()
	if !ok {
		return nil, Permanent(m.id, "execute", fmt.Errorf("mock %s has no scripted steps", m.id))
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &RawResponse{StatusCode: 200}, nil
}

// next advances the script. Caller must hold m.mu.
func (m *MockAdapter) next() (MockStep, bool) {
	if len(m.steps) == 0 {
		m.calls++
		return MockStep{}, false
	}
	idx := m.calls
	if idx >= len(m.steps) {
		idx = len(m.steps) - 1
	}
	m.calls++
	return m.steps[idx], true
}

func (m *MockAdapter) Normalize(p Params, raw *RawResponse) (core.Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls - 1
	if idx < 0 || len(m.steps) == 0 {
		return nil, Permanent(m.id, "normalize", fmt.Errorf("mock %s normalize before execute", m.id))
	}
	if idx >= len(m.steps) {
		idx = len(m.steps) - 1
	}
	if m.steps[idx].Payload == nil {
		return nil, Permanent(m.id, "normalize", fmt.Errorf("mock %s step has no payload", m.id))
	}
	return m.steps[idx].Payload, nil
}
