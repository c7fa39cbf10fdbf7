package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries every tunable that used to be a hard-coded constant: the
// verification salt, the admission ban threshold and window, cache TTLs and
// the delayed-invalidation gap. Components receive it at construction so
// tests and environments can override individual values.
type Config struct {
	// VerifySalt is mixed into the verification token digest.
	VerifySalt string
	// TokenTTL bounds how long an issued verification token stays valid.
	TokenTTL time.Duration
	// CacheTTL applies to the remaining-stock projection entries.
	CacheTTL time.Duration
	// AdmissionThreshold is the per-buyer request count above which the
	// admission counter reports the buyer as banned.
	AdmissionThreshold int64
	// AdmissionWindow is the rolling window after which a buyer's counter
	// expires and resets.
	AdmissionWindow time.Duration
	// DoubleDeleteDelay is the gap before the second cache invalidation of
	// the delayed double-delete policies.
	DoubleDeleteDelay time.Duration
	// ConsumerCongestion is an artificial per-message processing latency for
	// load experiments. Zero in production and in tests.
	ConsumerCongestion time.Duration
}

func Default() Config {
	return Config{
		VerifySalt:         "randomString",
		TokenTTL:           time.Hour,
		CacheTTL:           time.Hour,
		AdmissionThreshold: 10,
		AdmissionWindow:    time.Hour,
		DoubleDeleteDelay:  300 * time.Millisecond,
		ConsumerCongestion: 0,
	}
}

// FromEnv overlays RUSH_* environment variables on the defaults.
func FromEnv() Config {
	cfg := Default()
	if v := os.Getenv("RUSH_VERIFY_SALT"); v != "" {
		cfg.VerifySalt = v
	}
	cfg.TokenTTL = envDuration("RUSH_TOKEN_TTL", cfg.TokenTTL)
	cfg.CacheTTL = envDuration("RUSH_CACHE_TTL", cfg.CacheTTL)
	cfg.AdmissionWindow = envDuration("RUSH_ADMISSION_WINDOW", cfg.AdmissionWindow)
	cfg.DoubleDeleteDelay = envDuration("RUSH_DOUBLE_DELETE_DELAY", cfg.DoubleDeleteDelay)
	cfg.ConsumerCongestion = envDuration("RUSH_CONSUMER_CONGESTION", cfg.ConsumerCongestion)
	if v := os.Getenv("RUSH_ADMISSION_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.AdmissionThreshold = n
		}
	}
	return cfg
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
