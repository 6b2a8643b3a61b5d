package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/tradegate/backend/internal/breaker"
	"github.com/tradegate/backend/internal/config"
	"github.com/tradegate/backend/internal/core"
	"github.com/tradegate/backend/internal/cycle"
	"github.com/tradegate/backend/internal/gatekeeper"
	"github.com/tradegate/backend/internal/learner"
	"github.com/tradegate/backend/internal/metrics"
	"github.com/tradegate/backend/internal/ratelimit"
	"github.com/tradegate/backend/internal/registrar"
	"github.com/tradegate/backend/internal/registry"
	"github.com/tradegate/backend/internal/reviewlog"
	"github.com/tradegate/backend/internal/sources"
)

type check struct {
	Name string
	Test func() error
}

func main() {
	fmt.Println("\033[96mTrade Authorization Gate - Pre-Flight Diagnostic\033[0m")
	fmt.Println("------------------------------------------------")

	_ = godotenv.Load()

	checks := []check{
		{"Configuration", checkConfig},
		{"Vendor Credentials", checkCredentials},
		{"Adapter Coverage", checkCoverage},
		{"Dry-Run Cycle", checkDryRunCycle},
	}

	failed := 0
	for _, c := range checks {
		fmt.Printf("Checking %-22s ", c.Name+"...")
		if err := c.Test(); err != nil {
			fmt.Println("\033[31m[FAIL]\033[0m")
			fmt.Printf("  >> %v\n", err)
			failed++
		} else {
			fmt.Println("\033[32m[OK]\033[0m")
		}
	}

	fmt.Println("------------------------------------------------")
	if failed > 0 {
		fmt.Printf("\033[31mStatus: %d check(s) failed.\033[0m\n", failed)
		os.Exit(1)
	}
	fmt.Println("\033[96mStatus: Gate ready for decision traffic.\033[0m")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

func checkConfig() error {
	_, err := config.Load(configPath())
	return err
}

// checkCredentials only verifies presence; a live-call test belongs to the
// vendors themselves, not a pre-flight that may run offline.
func checkCredentials() error {
	var missing []string
	for _, vendor := range []string{"ALPHAFEED", "QUANTRAIL"} {
		if config.APIKey(vendor) == "" {
			missing = append(missing, vendor+"_API_KEY")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing environment keys: %v", missing)
	}
	return nil
}

func checkCoverage() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}

	reg := registry.New()
	retry := sources.DefaultRetryPolicy()
	limit := ratelimit.Policy{
		Window:   time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
		MaxCalls: cfg.RateLimit.MaxCallsPerWindow,
		Burst:    cfg.RateLimit.BurstAllowance,
	}

	alpha, err := sources.NewAlphaFeedAdapter(cfg.Vendors.AlphaFeedBaseURL, "preflight", cfg.Acquisition.AdapterTimeout())
	if err != nil {
		return err
	}
	quant, err := sources.NewQuantRailAdapter(cfg.Vendors.QuantRailBaseURL, "preflight", cfg.Acquisition.AdapterTimeout())
	if err != nil {
		return err
	}

	for _, r := range []struct {
		capability core.Capability
		adapter    sources.Adapter
		priority   int
	}{
		{core.CapPriceSeries, alpha, 1},
		{core.CapPriceSeries, quant, 2},
		{core.CapNews, alpha, 1},
		{core.CapFundamentals, quant, 1},
		{core.CapOwnership, quant, 1},
	} {
		if err := reg.Register(r.capability, r.adapter, r.priority, retry, limit); err != nil {
			return err
		}
	}
	return reg.ValidateCoverage(core.AllCapabilities())
}

// checkDryRunCycle exercises the whole pipeline against scripted adapters:
// acquisition fan-out, ledger seal, regime classification, every gate rule,
// and the decision event path. No network is touched.
func checkDryRunCycle() error {
	cfg := config.Default()
	m := metrics.NewUnregistered()
	review := reviewlog.NewMemoryStore()

	now := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC) // Monday, in session

	limiter := ratelimit.New(ratelimit.Policy{Window: time.Second, MaxCalls: 1000})
	inv := sources.NewInvoker(limiter, m)
	inv.SetClock(func() time.Time { return now }, func(ctx context.Context, d time.Duration) error { return nil })

	brk := breaker.New(breaker.NewMemoryStore(), cfg.Breaker.CapitalFloorRatio, m)

	reg := registry.New()
	closes := []float64{100, 100.5, 101, 101.4, 102, 102.3, 103, 103.2, 103.8, 104}
	payloads := dryRunPayloads("PRECHK", closes, now)
	for capability, payload := range payloads {
		ad := sources.NewMockAdapter("dryrun-"+string(capability), []core.Capability{capability}, sources.MockStep{Payload: payload})
		if err := reg.Register(capability, ad, 1, sources.RetryPolicy{MaxAttempts: 1}, ratelimit.Policy{Window: time.Second, MaxCalls: 1000}); err != nil {
			return err
		}
	}

	acquirer := registrar.New(reg, inv, brk, cfg.Acquisition, m)
	acquirer.SetClock(func() time.Time { return now })

	livePrice := func(ctx context.Context, symbol string) (float64, error) { return closes[len(closes)-1], nil }
	gate := gatekeeper.New(cfg.Gate, cfg.Acquisition.StalenessHours, livePrice, review, m)
	gate.SetClock(func() time.Time { return now })

	learn := learner.New(cfg.Learner, cfg.Gate, review)
	gate.UseTunables(learn.Parameters())
	engine := cycle.New(acquirer, cycle.MomentumPanel{}, gate, learn, learner.NewOutcomeTracker(100_000), brk, review, m)
	engine.SetClock(func() time.Time { return now })

	event, err := engine.Run(context.Background(), "PRECHK")
	if err != nil {
		return err
	}
	if event.Decision.Result == "" {
		return fmt.Errorf("dry-run produced no decision")
	}
	fmt.Printf("(%s via %s) ", event.Decision.Result, orNone(event.Decision.RuleFired))
	return nil
}

func orNone(rule string) string {
	if rule == "" {
		return "no rule"
	}
	return rule
}

func dryRunPayloads(symbol string, closes []float64, now time.Time) map[core.Capability]core.Payload {
	bars := make([]core.PricePoint, len(closes))
	for i, c := range closes {
		bars[i] = core.PricePoint{
			Date: now.AddDate(0, 0, i-len(closes)+1),
			Open: c, High: c * 1.005, Low: c * 0.995, Close: c,
			Volume: 400_000,
		}
	}
	return map[core.Capability]core.Payload{
		core.CapPriceSeries:  core.PriceSeries{Symbol: symbol, Bars: bars},
		core.CapFundamentals: core.Fundamentals{Symbol: symbol, ReportDate: now.Add(-18 * time.Hour), EPS: 2.0},
		core.CapNews: core.NewsDigest{Symbol: symbol, Items: []core.NewsItem{
			{Headline: "pre-flight check headline", PublishedAt: now.Add(-time.Hour), Sentiment: 0.1},
		}},
		core.CapOwnership: core.OwnershipActivity{Symbol: symbol, Transactions: []core.InsiderTransaction{
			{Insider: "Preflight", Type: "buy", Shares: 10, Value: 1_000, Date: now.Add(-2 * time.Hour)},
		}},
	}
}
