package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/namaskah/namaskah-sms/backend/auth"
	"github.com/namaskah/namaskah-sms/backend/config"
	"github.com/namaskah/namaskah-sms/backend/internal/observability"
	"github.com/namaskah/namaskah-sms/backend/middleware"
	"github.com/namaskah/namaskah-sms/backend/repositories"
	"github.com/namaskah/namaskah-sms/backend/repositories/postgres"
	"github.com/namaskah/namaskah-sms/backend/services/audit"
	"github.com/namaskah/namaskah-sms/backend/services/orchestrator"
	"github.com/namaskah/namaskah-sms/backend/services/providers"
	"github.com/namaskah/namaskah-sms/backend/services/providers/fivesim"
	"github.com/namaskah/namaskah-sms/backend/services/providers/smsactivate"
	"github.com/namaskah/namaskah-sms/backend/services/providers/textverified"
	"github.com/namaskah/namaskah-sms/backend/services/ratelimit"
)

const auditStopTimeout = 10 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Redis  *redis.Client
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	ProviderEvents repositories.ProviderEventRepository

	// Observability
	Metrics *observability.Metrics

	// Provider event persistence
	Audit *audit.AuditService

	// SMS providers
	Registry     *providers.Registry
	Orchestrator *orchestrator.Orchestrator

	// Rate limiting
	Limiter             *ratelimit.Limiter
	RateLimitStats      *ratelimit.RedisStatsStore
	RateLimitMiddleware *middleware.RateLimitMiddleware

	// Auth
	JWT            *auth.JWTValidator
	AuthMiddleware *middleware.AuthMiddleware

	// vendorFactory builds the vendor client for a configured provider
	vendorFactory VendorFactory
}

// VendorFactory builds a vendor client from its configuration
type VendorFactory func(name string, cfg config.ProviderConfig) (providers.Vendor, error)

// Option customizes NewDependencies
type Option func(*Dependencies)

// WithVendorFactory replaces the vendor client constructor
func WithVendorFactory(f VendorFactory) Option {
	return func(d *Dependencies) { d.vendorFactory = f }
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	deps := &Dependencies{
		Config:        cfg,
		Logger:        logger,
		vendorFactory: NewVendor,
	}
	for _, opt := range opts {
		opt(deps)
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()
	deps.initRedis(ctx, cfg)
	deps.initMetrics(cfg)

	if err := deps.initAudit(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize audit service: %w", err)
	}

	if err := deps.initProviders(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if err := deps.initRateLimiter(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection when enabled
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.Enabled {
		d.Logger.Warn("database disabled, provider events will not be persisted")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	if d.RepoFactory == nil {
		return
	}
	repos := d.RepoFactory.NewRepositories()
	d.ProviderEvents = repos.ProviderEvents

	d.Logger.Info("repositories initialized")
}

// initRedis connects the optional rate limit statistics store. Redis
// problems disable the store instead of failing startup.
func (d *Dependencies) initRedis(ctx context.Context, cfg *config.Config) {
	if !cfg.Redis.Enabled() {
		return
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		d.Logger.Warn("invalid REDIS_URL, rate limit statistics disabled", zap.Error(err))
		return
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		d.Logger.Warn("redis unreachable, rate limit statistics disabled", zap.Error(err))
		_ = client.Close()
		return
	}

	d.Redis = client
	d.RateLimitStats = ratelimit.NewRedisStatsStore(client,
		ratelimit.WithStatsPrefix(cfg.Redis.KeyPrefix),
		ratelimit.WithStatsTTL(cfg.Redis.StatsTTL))

	d.Logger.Info("redis connection established", zap.String("addr", opts.Addr))
}

func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		return
	}
	d.Metrics = observability.NewMetrics()
}

func (d *Dependencies) initAudit(cfg *config.Config) error {
	if d.ProviderEvents == nil {
		return nil
	}

	d.Audit = audit.NewAuditService(d.ProviderEvents, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.QueueSize,
		WorkerCount: cfg.Audit.Workers,
	})
	return d.Audit.Start()
}

// initProviders registers every vendor with an API key and builds the
// orchestrator. Vendors disabled in config start disabled.
func (d *Dependencies) initProviders(cfg *config.Config) error {
	strategy, err := orchestrator.ParseStrategy(cfg.Orchestrator.Strategy)
	if err != nil {
		return err
	}

	var observers []providers.CallObserver
	if d.Metrics != nil {
		observers = append(observers, d.Metrics)
	}
	if d.Audit != nil {
		observers = append(observers, d.Audit)
	}

	registry := providers.NewRegistry(d.Logger)
	all := cfg.Providers.All()
	for _, name := range cfg.Providers.Configured() {
		pc := all[name]
		vendor, err := d.vendorFactory(name, pc)
		if err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}

		provider := providers.NewProvider(vendor, providerConfig(pc, cfg.Orchestrator), d.Logger,
			providers.WithObservers(observers...))
		if err := registry.Register(provider, pc.Priority, pc.Primary); err != nil {
			return err
		}
		if d.Metrics != nil {
			status := providers.StatusHealthy
			if !pc.Enabled {
				status = providers.StatusUnhealthy
			}
			d.Metrics.SetProviderHealth(provider.Name(), status)
		}
	}

	if registry.Count() == 0 {
		d.Logger.Warn("no SMS providers configured")
	}

	d.Registry = registry
	d.Orchestrator = orchestrator.New(registry, strategy, d.Logger)

	d.Logger.Info("sms orchestrator initialized",
		zap.String("strategy", string(strategy)),
		zap.Int("providers", registry.Count()),
		zap.Strings("enabled", cfg.Providers.Enabled()))
	return nil
}

// NewVendor builds the HTTP client for a known vendor name
func NewVendor(name string, cfg config.ProviderConfig) (providers.Vendor, error) {
	switch name {
	case "smsactivate":
		return smsactivate.NewAdapter(smsactivate.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}), nil
	case "fivesim":
		return fivesim.NewAdapter(fivesim.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}), nil
	case "textverified":
		return textverified.NewAdapter(textverified.Config{
			APIKey:   cfg.APIKey,
			Username: cfg.Username,
			BaseURL:  cfg.BaseURL,
			Timeout:  cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func providerConfig(pc config.ProviderConfig, oc config.OrchestratorConfig) providers.ProviderConfig {
	out := providers.DefaultProviderConfig()
	out.Enabled = pc.Enabled
	out.CostMultiplier = pc.CostMultiplier
	if pc.Timeout > 0 {
		out.Timeout = pc.Timeout
	}
	if oc.HealthCheckInterval > 0 {
		out.HealthCheckInterval = oc.HealthCheckInterval
	}
	if pc.MaxRetries >= 0 {
		out.Retry.MaxRetries = pc.MaxRetries
	}
	if pc.InitialDelay > 0 {
		out.Retry.InitialDelay = pc.InitialDelay
	}
	if pc.MaxDelay > 0 {
		out.Retry.MaxDelay = pc.MaxDelay
	}
	if pc.BackoffBase > 0 {
		out.Retry.ExponentialBase = pc.BackoffBase
	}
	return out
}

// initRateLimiter builds the limiter and its HTTP middleware
func (d *Dependencies) initRateLimiter(cfg *config.Config) error {
	rlCfg, err := RateLimitConfig(cfg.RateLimit)
	if err != nil {
		return err
	}

	d.Limiter = ratelimit.NewLimiter(rlCfg, d.Logger)

	var recorders []ratelimit.StatsRecorder
	if d.RateLimitStats != nil {
		recorders = append(recorders, d.RateLimitStats)
	}
	if d.Metrics != nil {
		recorders = append(recorders, d.Metrics)
		d.Metrics.RegisterSystemLoad(d.Limiter.SystemLoad)
	}
	d.RateLimitMiddleware = middleware.NewRateLimitMiddleware(d.Limiter, d.Logger, recorders...)

	d.Logger.Info("rate limiter initialized",
		zap.Int("default_requests", rlCfg.Default.RequestsAllowed),
		zap.Int("default_window_seconds", rlCfg.Default.WindowSeconds),
		zap.Int("endpoint_overrides", len(rlCfg.Endpoints)))
	return nil
}

// RateLimitConfig converts raw settings into a validated limiter config.
// Endpoint overrides are merged over the built-in per-endpoint limits.
func RateLimitConfig(c config.RateLimitConfig) (ratelimit.Config, error) {
	out := ratelimit.DefaultConfig()

	if c.DefaultRequests > 0 {
		out.Default.RequestsAllowed = c.DefaultRequests
	}
	if c.DefaultWindow > 0 {
		out.Default.WindowSeconds = c.DefaultWindow
	}

	if c.Endpoints != "" {
		overrides, err := ratelimit.ParseEndpoints(c.Endpoints)
		if err != nil {
			return ratelimit.Config{}, err
		}
		for path, ep := range overrides {
			out.Endpoints[path] = ep
		}
	}

	if len(c.PublicPaths) > 0 {
		out.PublicPaths = c.PublicPaths
	}
	if c.IPBucketCapacity > 0 {
		out.IPBucket.Capacity = c.IPBucketCapacity
	}
	if c.IPBucketRefill > 0 {
		out.IPBucket.RefillPerSecond = c.IPBucketRefill
	}
	if c.UserBucketCapacity > 0 {
		out.IdentityBucket.Capacity = c.UserBucketCapacity
	}
	if c.UserBucketRefill > 0 {
		out.IdentityBucket.RefillPerSecond = c.UserBucketRefill
	}
	if c.IdentityMultiplier > 0 {
		out.IdentityMultiplier = c.IdentityMultiplier
	}
	if c.HighLoadThreshold > 0 {
		out.HighLoadThreshold = c.HighLoadThreshold
	}
	if c.HighLoadReduction > 0 {
		out.HighLoadReduction = c.HighLoadReduction
	}
	if c.HighLoadRetryAfter > 0 {
		out.HighLoadRetryAfter = c.HighLoadRetryAfter
	}
	if c.CleanupInterval > 0 {
		out.CleanupInterval = c.CleanupInterval
	}
	if c.MaxIdle > 0 {
		out.MaxIdle = c.MaxIdle
	}

	if err := out.Validate(); err != nil {
		return ratelimit.Config{}, err
	}
	return out, nil
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	validator, err := auth.NewJWTValidator(auth.Config{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.JWTIssuer,
		Leeway: cfg.Auth.Leeway,
	})
	if err != nil {
		return err
	}

	d.JWT = validator
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	return nil
}

// StartWorkers runs the background provider health sweep until ctx is done
func (d *Dependencies) StartWorkers(ctx context.Context) {
	interval := d.Config.Orchestrator.WorkerInterval
	if interval <= 0 || d.Orchestrator == nil {
		return
	}

	go d.Orchestrator.StartHealthCheckWorker(ctx, interval, d.onHealthCheck)
}

func (d *Dependencies) onHealthCheck(reports map[string]orchestrator.HealthReport) {
	unavailable := 0
	for name, report := range reports {
		if d.Metrics != nil {
			d.Metrics.SetProviderHealth(name, report.Health.Status)
		}
		if !report.Available {
			unavailable++
		}
	}
	if unavailable > 0 {
		d.Logger.Warn("provider health sweep found unavailable providers",
			zap.Int("unavailable", unavailable),
			zap.Int("total", len(reports)))
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain queued provider events before the pool goes away
	if d.Audit != nil {
		timeout := auditStopTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
