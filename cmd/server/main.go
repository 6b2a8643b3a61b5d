package main

import (
	"flag"
	"log"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tradegate/backend/internal/api"
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

func main() {
	configPath := flag.String("config", "config.yaml", "path to yaml config")
	baseline := flag.Float64("baseline", 100_000, "baseline capital for the health ratio")
	flag.Parse()

	log.Println("🔥 Starting Trade Authorization Gate...")

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promRegistry)

	// 1. Acquisition plumbing
	limiter := ratelimit.New(ratelimit.Policy{
		Window:   time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
		MaxCalls: cfg.RateLimit.MaxCallsPerWindow,
		Burst:    cfg.RateLimit.BurstAllowance,
	})
	invoker := sources.NewInvoker(limiter, m)

	reg := registry.New()
	registerVendors(reg, limiter, cfg)
	if err := reg.ValidateCoverage(core.AllCapabilities()); err != nil {
		log.Fatalf("registry: %v", err)
	}

	// 2. Circuit breaker: Redis when available so a trip survives restarts
	// across replicas, a local state file otherwise.
	var store breaker.StateStore
	if cfg.Redis.Addr != "" {
		rs, err := breaker.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Breaker.StateKey)
		if err != nil {
			log.Fatalf("redis breaker store: %v", err)
		}
		store = rs
		log.Printf("breaker state in redis at %s", cfg.Redis.Addr)
	} else {
		store = breaker.NewFileStore("breaker_state.json")
		log.Printf("breaker state in local file (no redis configured)")
	}
	brk := breaker.New(store, cfg.Breaker.CapitalFloorRatio, m)

	// 3. Review log: Postgres when a DSN is present, JSONL file otherwise.
	var review reviewlog.Recorder
	switch {
	case cfg.Postgres.DSN != "":
		pg, err := reviewlog.NewPostgresStore(cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("postgres review log: %v", err)
		}
		defer pg.Close()
		review = pg
		log.Printf("review log in postgres")
	case cfg.ReviewLog.Path != "":
		fs, err := reviewlog.NewFileStore(cfg.ReviewLog.Path)
		if err != nil {
			log.Fatalf("file review log: %v", err)
		}
		defer fs.Close()
		review = fs
		log.Printf("review log at %s", cfg.ReviewLog.Path)
	default:
		review = reviewlog.NewMemoryStore()
		log.Printf("⚠️ review log in memory only, events are lost on restart")
	}

	// 4. Decision pipeline
	acquirer := registrar.New(reg, invoker, brk, cfg.Acquisition, m)

	quote := sources.NewQuoteClient(cfg.Vendors.LivePriceEndpoint, config.APIKey("QUOTE"))
	gate := gatekeeper.New(cfg.Gate, cfg.Acquisition.StalenessHours, quote.Price, review, m)

	learn := learner.New(cfg.Learner, cfg.Gate, review)
	gate.UseTunables(learn.Parameters())
	tracker := learner.NewOutcomeTracker(*baseline)

	engine := cycle.New(acquirer, cycle.MomentumPanel{}, gate, learn, tracker, brk, review, m)

	// 5. API surface
	server := api.NewServer(engine, brk, reg, learn, review, promRegistry)

	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil {
		log.Fatalf("invalid port %q", cfg.Server.Port)
	}
	if err := server.Start(port); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// registerVendors installs the adapter chain in fixed order. AlphaFeed is
// the primary for prices and news; QuantRail is the primary for
// fundamentals and ownership and the fallback price source.
func registerVendors(reg *registry.Registry, limiter *ratelimit.Limiter, cfg *config.Config) {
	retry := sources.DefaultRetryPolicy()
	limit := ratelimit.Policy{
		Window:   time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
		MaxCalls: cfg.RateLimit.MaxCallsPerWindow,
		Burst:    cfg.RateLimit.BurstAllowance,
	}
	timeout := cfg.Acquisition.AdapterTimeout()

	alpha, err := sources.NewAlphaFeedAdapter(cfg.Vendors.AlphaFeedBaseURL, config.APIKey("ALPHAFEED"), timeout)
	if err != nil {
		log.Fatalf("alphafeed adapter: %v", err)
	}
	quant, err := sources.NewQuantRailAdapter(cfg.Vendors.QuantRailBaseURL, config.APIKey("QUANTRAIL"), timeout)
	if err != nil {
		log.Fatalf("quantrail adapter: %v", err)
	}

	mustRegister := func(capability core.Capability, ad sources.Adapter, priority int) {
		if err := reg.Register(capability, ad, priority, retry, limit); err != nil {
			log.Fatalf("register %s for %s: %v", ad.ID(), capability, err)
		}
		limiter.SetPolicy(ad.ID(), limit)
	}

	mustRegister(core.CapPriceSeries, alpha, 1)
	mustRegister(core.CapPriceSeries, quant, 2)
	mustRegister(core.CapNews, alpha, 1)
	mustRegister(core.CapFundamentals, quant, 1)
	mustRegister(core.CapOwnership, quant, 1)
}
