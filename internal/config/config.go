package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RedisAddr      string
	ClickHouseDSN  string
	SQLitePath     string
	GeoIPDB        string
	CatalogPath    string
	DebugTrace     bool
	ReloadInterval time.Duration
	TokenSecret    string
	TokenTTL       time.Duration
	ServiceName    string
	Environment    string
	// NEAR attestation verification
	NEARVerificationURL          string
	NEARRequestTimeout           time.Duration
	NEARPendingRetryInterval     time.Duration
	NEARServerErrorRetryInterval time.Duration
	NEARMaxPendingDuration       time.Duration
	VerificationResultTTL        time.Duration
	// Predictor weights per ad format, as comma separated lists
	NotificationAdPredictorWeights  string
	InlineContentAdPredictorWeights string
	NewTabPageAdPredictorWeights    string
	PredictorAdvertiserRecency      bool
	PredictorPriority               bool
	// Ad event history
	AdEventRetention time.Duration
	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	// ClickHouse connection pooling configuration
	CHMaxOpenConns    int
	CHMaxIdleConns    int
	CHConnMaxLifetime time.Duration
	CHConnMaxIdleTime time.Duration
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	// empty DSN disables analytics
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "")
	cfg.SQLitePath = getenv("SQLITE_PATH", "attestads.db")
	cfg.GeoIPDB = getenv("GEOIP_DB", "")
	cfg.CatalogPath = getenv("CATALOG_PATH", "")
	cfg.DebugTrace = envBool("DEBUG_TRACE", false)
	cfg.ReloadInterval = envDuration("RELOAD_INTERVAL", 30*time.Second)
	cfg.TokenSecret = getenv("TOKEN_SECRET", "")
	cfg.TokenTTL = envDuration("TOKEN_TTL", 30*time.Minute)
	cfg.ServiceName = getenv("SERVICE_NAME", "attestads")
	cfg.Environment = getenv("ENV", "production")

	cfg.NEARVerificationURL = getenv("NEAR_VERIFICATION_URL", "http://localhost:8090")
	cfg.NEARRequestTimeout = envDuration("NEAR_REQUEST_TIMEOUT", 15*time.Second)
	cfg.NEARPendingRetryInterval = envDuration("NEAR_PENDING_RETRY_INTERVAL", 2*time.Second)
	cfg.NEARServerErrorRetryInterval = envDuration("NEAR_SERVER_ERROR_RETRY_INTERVAL", 10*time.Second)
	cfg.NEARMaxPendingDuration = envDuration("NEAR_MAX_PENDING_DURATION", 60*time.Second)
	cfg.VerificationResultTTL = envDuration("VERIFICATION_RESULT_TTL", 24*time.Hour)

	cfg.NotificationAdPredictorWeights = getenv("NOTIFICATION_AD_PREDICTOR_WEIGHTS", "")
	cfg.InlineContentAdPredictorWeights = getenv("INLINE_CONTENT_AD_PREDICTOR_WEIGHTS", "")
	cfg.NewTabPageAdPredictorWeights = getenv("NEW_TAB_PAGE_AD_PREDICTOR_WEIGHTS", "")
	cfg.PredictorAdvertiserRecency = envBool("PREDICTOR_ADVERTISER_RECENCY", true)
	cfg.PredictorPriority = envBool("PREDICTOR_PRIORITY", false)

	cfg.AdEventRetention = envDuration("AD_EVENT_RETENTION", 90*24*time.Hour)

	// SQLite allows a single writer; keep the pool small
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 4)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 2)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)

	cfg.CHMaxOpenConns = envInt("CH_MAX_OPEN_CONNS", 25)
	cfg.CHMaxIdleConns = envInt("CH_MAX_IDLE_CONNS", 5)
	cfg.CHConnMaxLifetime = envDuration("CH_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.CHConnMaxIdleTime = envDuration("CH_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
