package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// DatabaseURL selects persistence. Empty means the in-memory dev
	// stores; anything else is a Postgres connection string.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// RunMigrations applies embedded schema migrations at startup.
	RunMigrations bool

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, TILL_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and token
	// hashing must be HMAC-based.
	RequireTokenHMAC bool

	// SweepInterval is how often expired revocation records are pruned.
	SweepInterval time.Duration

	// InsecureFederated swaps the Google claim verifier for the
	// trust-anything development verifier.
	InsecureFederated bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("TILL_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("TILL_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("TILL_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TILL_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TILL_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TILL_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("TILL_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("TILL_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("TILL_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TILL_DB_MIN_CONNS", 0),

		RunMigrations: EnvBool("TILL_RUN_MIGRATIONS", true),

		ReadinessRequireDB: EnvBool("TILL_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("TILL_REQUIRE_TOKEN_HMAC", false),

		SweepInterval: EnvDuration("TILL_REVOKED_SWEEP_INTERVAL", 10*time.Minute),

		InsecureFederated: EnvBool("TILL_AUTH_INSECURE_FEDERATED", false),
	}
}
