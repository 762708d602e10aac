// Package config loads the service configuration from environment variables,
// applies defaults, normalizes and validates it.
//
// Unset and empty variables take their default, and so do values that fail
// to parse. The command line loads a .env file into the
// environment first, so this package only reads the process environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string // CORS_ALLOWED_ORIGINS, comma separated; empty allows all
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool          // ENABLE_HSTS; sent over HTTPS only
	HSTSMaxAge time.Duration // HSTS_MAX_AGE
}

// OTELConfig defines OpenTelemetry settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
	Environment string  // DEPLOYMENT_ENVIRONMENT, optional resource attribute
}

// StoreConfig locates the document store.
type StoreConfig struct {
	Path     string // DB_PATH, SQLite file
	Database string // DB_NAME
	MaxTries int    // STORE_MAX_TRIES, attempts per create
	PageSize int    // PAGE_SIZE, initiations per page
}

// KeyVaultConfig configures the key service adapter and the token service
// on top of it.
type KeyVaultConfig struct {
	Region         string        // AWS_REGION; SDK default chain when empty
	AliasPrefix    string        // KMS_ALIAS_PREFIX
	PoolSize       int           // KEY_POOL_SIZE
	KeyLifetime    time.Duration // KEY_LIFETIME
	Workers        int           // KEY_WORKERS, parallel key creations
	LoginSecret    string        // ADMIN_LOGIN_SECRET
	PasswordSecret string        // ADMIN_PASSWORD_SECRET
	SecretCacheTTL time.Duration // SECRET_CACHE_TTL
	Retries        int           // KEYVAULT_RETRIES
	TokenTTL       time.Duration // TOKEN_TTL
}

// BotConfig configures the bot and its channel connector. Empty token and
// OpenID URLs mean the public Bot Framework endpoints.
type BotConfig struct {
	AppID           string        // MS_APP_ID
	AppPassword     string        // MS_APP_PASSWORD
	TenantID        string        // TENANT_ID
	Name            string        // BOT_NAME
	AuthDisabled    bool          // BOT_AUTH_DISABLED, for the emulator only
	OpenIDURL       string        // BOT_OPENID_URL
	TokenURL        string        // BOT_TOKEN_URL
	TokenScope      string        // BOT_TOKEN_SCOPE
	TaskModuleTitle string        // TASK_MODULE_TITLE
	TaskModuleURL   string        // TASK_MODULE_URL
	FlowTimeout     time.Duration // FLOW_TIMEOUT
}

// Config holds all configuration values.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test
	ShutdownTimeout   time.Duration // graceful drain on SIGTERM

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // admin API and bot endpoint
	PABasePath     string // Power Automate endpoints

	// Storage, keys and the bot
	Store    StoreConfig
	KeyVault KeyVaultConfig
	Bot      BotConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// IdempotencyTTL is how long an Idempotency-Key replays its result.
	IdempotencyTTL time.Duration

	// Tracing
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 10*time.Second),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),
		PABasePath:     normalizeBasePath(getenv("PA_BASE_PATH", "/api/pa/v1")),

		// Document store
		Store: StoreConfig{
			Path:     getenv("DB_PATH", "bot.db"),
			Database: getenv("DB_NAME", "bot"),
			MaxTries: getint("STORE_MAX_TRIES", 3),
			PageSize: getint("PAGE_SIZE", 20),
		},

		// Key service and admin tokens
		KeyVault: KeyVaultConfig{
			Region:         getenv("AWS_REGION", ""),
			AliasPrefix:    getenv("KMS_ALIAS_PREFIX", "token-signing"),
			PoolSize:       getint("KEY_POOL_SIZE", 3),
			KeyLifetime:    getdur("KEY_LIFETIME", 168*time.Hour),
			Workers:        getint("KEY_WORKERS", 10),
			LoginSecret:    getenv("ADMIN_LOGIN_SECRET", "adminLogin"),
			PasswordSecret: getenv("ADMIN_PASSWORD_SECRET", "adminPassword"),
			SecretCacheTTL: getdur("SECRET_CACHE_TTL", 5*time.Minute),
			Retries:        getint("KEYVAULT_RETRIES", 3),
			TokenTTL:       getseconds("TOKEN_TTL", time.Hour),
		},

		// Bot Framework
		Bot: BotConfig{
			AppID:           getenv("MS_APP_ID", ""),
			AppPassword:     getenv("MS_APP_PASSWORD", ""),
			TenantID:        getenv("TENANT_ID", ""),
			Name:            getenv("BOT_NAME", ""),
			AuthDisabled:    getbool("BOT_AUTH_DISABLED", false),
			OpenIDURL:       getenv("BOT_OPENID_URL", ""),
			TokenURL:        getenv("BOT_TOKEN_URL", ""),
			TokenScope:      getenv("BOT_TOKEN_SCOPE", ""),
			TaskModuleTitle: getenv("TASK_MODULE_TITLE", ""),
			TaskModuleURL:   getenv("TASK_MODULE_URL", ""),
			FlowTimeout:     getdur("FLOW_TIMEOUT", 10*time.Second),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "notify-bot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
			Environment: getenv("DEPLOYMENT_ENVIRONMENT", ""),
		},
	}

	// --- normalization ---
	// zerolog spells it "warn"
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	// An unknown GIN_MODE falls back to release.
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	// "alias/token-signing/" and "token-signing" name the same pool
	cfg.KeyVault.AliasPrefix = strings.Trim(strings.TrimPrefix(cfg.KeyVault.AliasPrefix, "alias/"), "/")

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.APIBasePath == cfg.PABasePath {
		return cfg, errors.New("API_BASE_PATH and PA_BASE_PATH must differ")
	}
	if strings.TrimSpace(cfg.Store.Path) == "" || strings.TrimSpace(cfg.Store.Database) == "" {
		return cfg, errors.New("DB_PATH and DB_NAME must not be empty")
	}
	if cfg.Store.MaxTries < 1 {
		return cfg, errors.New("STORE_MAX_TRIES must be >= 1")
	}
	if cfg.Store.PageSize < 1 {
		return cfg, errors.New("PAGE_SIZE must be >= 1")
	}
	if cfg.KeyVault.AliasPrefix == "" {
		return cfg, errors.New("KMS_ALIAS_PREFIX must not be empty")
	}
	if cfg.KeyVault.PoolSize < 1 || cfg.KeyVault.Workers < 1 || cfg.KeyVault.Retries < 1 {
		return cfg, errors.New("KEY_POOL_SIZE, KEY_WORKERS and KEYVAULT_RETRIES must be >= 1")
	}
	// A token must never outlive the key that signed it.
	if cfg.KeyVault.KeyLifetime <= cfg.KeyVault.TokenTTL {
		return cfg, errors.New("KEY_LIFETIME must exceed TOKEN_TTL")
	}
	if cfg.KeyVault.TokenTTL <= 0 || cfg.KeyVault.SecretCacheTTL < 0 {
		return cfg, errors.New("TOKEN_TTL must be > 0 and SECRET_CACHE_TTL >= 0")
	}
	// The bot serves one tenant and refuses traffic from any other.
	if strings.TrimSpace(cfg.Bot.TenantID) == "" {
		return cfg, errors.New("TENANT_ID is required")
	}
	if !cfg.Bot.AuthDisabled && (cfg.Bot.AppID == "" || cfg.Bot.AppPassword == "") {
		return cfg, errors.New("MS_APP_ID and MS_APP_PASSWORD are required unless BOT_AUTH_DISABLED")
	}
	if cfg.Bot.FlowTimeout <= 0 {
		return cfg, errors.New("FLOW_TIMEOUT must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

// getenv returns the value of k, or def when k is unset or empty.
func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

// getfloat parses k as a float64; def when unset or malformed.
func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getint parses k as a base-10 int; def when unset or malformed.
func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getbool understands 1/0, true/false, yes/no, y/n and on/off.
func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

// getdur parses k with time.ParseDuration ("90s", "1h30m").
func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getseconds accepts a bare number of seconds ("3600") or a duration
// ("1h").
func getseconds(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return getdur(k, def)
}

// splitCSV splits on commas and drops empty entries.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing '/' (except
// root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
