package config

import (
	"os"
	"strconv"
)

// applyEnvOverrides layers deployment-environment values on top of whatever
// the yaml file provided. Secrets (DSNs, passwords) only ever arrive this
// way; endpoints and the port may be overridden for container deployments.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("TRADEGATE_ENV"); v != "" {
		cfg.Server.Env = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("REVIEW_LOG_PATH"); v != "" {
		cfg.ReviewLog.Path = v
	}
	if v := os.Getenv("ALPHAFEED_BASE_URL"); v != "" {
		cfg.Vendors.AlphaFeedBaseURL = v
	}
	if v := os.Getenv("QUANTRAIL_BASE_URL"); v != "" {
		cfg.Vendors.QuantRailBaseURL = v
	}
	if v := os.Getenv("LIVE_PRICE_ENDPOINT"); v != "" {
		cfg.Vendors.LivePriceEndpoint = v
	}
}

// APIKey returns the environment-held key for a vendor, e.g.
// APIKey("ALPHAFEED") reads ALPHAFEED_API_KEY.
func APIKey(vendor string) string {
	return os.Getenv(vendor + "_API_KEY")
}
