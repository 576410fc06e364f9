package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// developmentJWTSecret is only accepted outside production
const developmentJWTSecret = "namaskah-development-secret-change-me"

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Providers     ProvidersConfig
	Orchestrator  OrchestratorConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	Enabled          bool
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RedisConfig holds the optional Redis connection for rate limit statistics
type RedisConfig struct {
	URL       string
	KeyPrefix string
	StatsTTL  time.Duration
}

// Enabled reports whether a Redis URL was configured
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// AuthConfig holds JWT validation settings
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
	Leeway    time.Duration
}

// ProvidersConfig holds SMS provider configurations
type ProvidersConfig struct {
	SMSActivate  ProviderConfig
	FiveSim      ProviderConfig
	TextVerified ProviderConfig
}

// ProviderConfig holds the settings shared by every SMS vendor
type ProviderConfig struct {
	Enabled        bool
	APIKey         string
	Username       string // TextVerified only
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffBase    float64
	Priority       int
	Primary        bool
	CostMultiplier float64
}

// OrchestratorConfig holds provider selection settings
type OrchestratorConfig struct {
	Strategy            string
	HealthCheckInterval time.Duration // minimum spacing between vendor probes
	WorkerInterval      time.Duration // background health sweep; 0 disables
}

// RateLimitConfig holds raw rate limiter settings. Endpoints uses the
// "path=requests:window[:burst],..." format.
type RateLimitConfig struct {
	DefaultRequests    int
	DefaultWindow      int
	Endpoints          string
	PublicPaths        []string
	IPBucketCapacity   int
	IPBucketRefill     float64
	UserBucketCapacity int
	UserBucketRefill   float64
	IdentityMultiplier int
	HighLoadThreshold  float64
	HighLoadReduction  float64
	HighLoadRetryAfter time.Duration
	CleanupInterval    time.Duration
	MaxIdle            time.Duration
}

// AuditConfig controls asynchronous provider event persistence
type AuditConfig struct {
	Workers   int
	QueueSize int
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
	GRPCHealthPort int // 0 disables the gRPC health server
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists (backend/.env when run from project root, .env when run from backend/)
	_ = godotenv.Load("backend/.env")
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://*"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "namaskah:ratelimit"),
			StatsTTL:  getEnvAsDuration("REDIS_STATS_TTL", 24*time.Hour),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", developmentJWTSecret),
			JWTIssuer: getEnv("JWT_ISSUER", "namaskah"),
			Leeway:    getEnvAsDuration("JWT_LEEWAY", 30*time.Second),
		},
		Providers: ProvidersConfig{
			SMSActivate:  loadProviderConfig("SMSACTIVATE", 100, true),
			FiveSim:      loadProviderConfig("FIVESIM", 50, false),
			TextVerified: loadProviderConfig("TEXTVERIFIED", 25, false),
		},
		Orchestrator: OrchestratorConfig{
			Strategy:            getEnv("ORCHESTRATOR_STRATEGY", "health_aware"),
			HealthCheckInterval: getEnvAsDuration("PROVIDER_HEALTH_CHECK_INTERVAL", 300*time.Second),
			WorkerInterval:      getEnvAsDuration("PROVIDER_HEALTH_WORKER_INTERVAL", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			DefaultRequests:    getEnvAsInt("RATE_LIMIT_DEFAULT_REQUESTS", 100),
			DefaultWindow:      getEnvAsInt("RATE_LIMIT_DEFAULT_WINDOW", 60),
			Endpoints:          getEnv("RATE_LIMIT_ENDPOINTS", ""),
			PublicPaths:        getEnvAsList("RATE_LIMIT_PUBLIC_PATHS", nil),
			IPBucketCapacity:   getEnvAsInt("RATE_LIMIT_IP_BURST", 20),
			IPBucketRefill:     getEnvAsFloat("RATE_LIMIT_IP_REFILL", 2),
			UserBucketCapacity: getEnvAsInt("RATE_LIMIT_USER_BURST", 50),
			UserBucketRefill:   getEnvAsFloat("RATE_LIMIT_USER_REFILL", 5),
			IdentityMultiplier: getEnvAsInt("RATE_LIMIT_USER_MULTIPLIER", 5),
			HighLoadThreshold:  getEnvAsFloat("RATE_LIMIT_HIGH_LOAD_THRESHOLD", 0.8),
			HighLoadReduction:  getEnvAsFloat("RATE_LIMIT_HIGH_LOAD_REDUCTION", 0.8),
			HighLoadRetryAfter: getEnvAsDuration("RATE_LIMIT_HIGH_LOAD_RETRY_AFTER", 60*time.Second),
			CleanupInterval:    getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", 60*time.Second),
			MaxIdle:            getEnvAsDuration("RATE_LIMIT_MAX_IDLE", time.Hour),
		},
		Audit: AuditConfig{
			Workers:   getEnvAsInt("AUDIT_WORKERS", 2),
			QueueSize: getEnvAsInt("AUDIT_QUEUE_SIZE", 1000),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			GRPCHealthPort: getEnvAsInt("GRPC_HEALTH_PORT", 0),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars), only when persistence is on
	if c.Database.Enabled {
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 bytes")
	}
	if c.IsProduction() && c.Auth.JWTSecret == developmentJWTSecret {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}

	// At least one provider must be usable in production
	if c.IsProduction() && len(c.Providers.Enabled()) == 0 {
		return fmt.Errorf("at least one SMS provider must be configured in production")
	}
	for name, p := range c.Providers.All() {
		if p.Enabled && p.APIKey == "" {
			return fmt.Errorf("provider %s is enabled but has no API key", name)
		}
		if p.APIKey == "" {
			continue
		}
		if p.CostMultiplier <= 0 {
			return fmt.Errorf("provider %s cost multiplier must be positive", name)
		}
	}
	if primaries := c.Providers.primaryCount(); primaries > 1 {
		return fmt.Errorf("only one provider may be primary, got %d", primaries)
	}

	switch c.Orchestrator.Strategy {
	case "primary_only", "round_robin", "cost_optimized", "health_aware":
	default:
		return fmt.Errorf("unknown orchestrator strategy %q", c.Orchestrator.Strategy)
	}

	if c.RateLimit.DefaultRequests < 1 || c.RateLimit.DefaultWindow < 1 {
		return fmt.Errorf("rate limit defaults must be positive")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// All returns every vendor configuration keyed by provider name
func (p ProvidersConfig) All() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"smsactivate":  p.SMSActivate,
		"fivesim":      p.FiveSim,
		"textverified": p.TextVerified,
	}
}

// Enabled returns the names of enabled providers in sorted order
func (p ProvidersConfig) Enabled() []string {
	var names []string
	for name, cfg := range p.All() {
		if cfg.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Configured returns the names of providers that have an API key, enabled
// or not, in sorted order. Disabled ones can be switched on at runtime.
func (p ProvidersConfig) Configured() []string {
	var names []string
	for name, cfg := range p.All() {
		if cfg.APIKey != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (p ProvidersConfig) primaryCount() int {
	n := 0
	for _, cfg := range p.All() {
		if cfg.APIKey != "" && cfg.Primary {
			n++
		}
	}
	return n
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Persistence is on by default when DATABASE_URL is present.
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			Enabled:          getEnvAsBool("DB_ENABLED", true),
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Enabled:         getEnvAsBool("DB_ENABLED", false),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "namaskah"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "namaskah"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadProviderConfig reads <PREFIX>_* variables. A provider is enabled by
// default once its API key is present.
func loadProviderConfig(prefix string, priority int, primary bool) ProviderConfig {
	apiKey := getEnv(prefix+"_API_KEY", "")
	return ProviderConfig{
		Enabled:        getEnvAsBool(prefix+"_ENABLED", apiKey != ""),
		APIKey:         apiKey,
		Username:       getEnv(prefix+"_USERNAME", ""),
		BaseURL:        getEnv(prefix+"_BASE_URL", ""),
		Timeout:        getEnvAsDuration(prefix+"_TIMEOUT", 30*time.Second),
		MaxRetries:     getEnvAsInt(prefix+"_MAX_RETRIES", 3),
		InitialDelay:   getEnvAsDuration(prefix+"_INITIAL_DELAY", time.Second),
		MaxDelay:       getEnvAsDuration(prefix+"_MAX_DELAY", 60*time.Second),
		BackoffBase:    getEnvAsFloat(prefix+"_BACKOFF_BASE", 2.0),
		Priority:       getEnvAsInt(prefix+"_PRIORITY", priority),
		Primary:        getEnvAsBool(prefix+"_PRIMARY", primary),
		CostMultiplier: getEnvAsFloat(prefix+"_COST_MULTIPLIER", 1.0),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping empty entries
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
