package ratelimit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/namaskah/namaskah-sms/backend/utils"
)

// EndpointConfig limits requests to a path prefix
type EndpointConfig struct {
	RequestsAllowed int     `validate:"required,min=1"`
	WindowSeconds   int     `validate:"required,min=1,max=3600"`
	BurstMultiplier float64 `validate:"gte=0"`
}

// Window returns the window length as a duration
func (c EndpointConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// Burst returns the advertised burst size
func (c EndpointConfig) Burst() int {
	m := c.BurstMultiplier
	if m <= 0 {
		m = DefaultBurstMultiplier
	}
	return int(float64(c.RequestsAllowed) * m)
}

// BucketConfig sizes a token bucket
type BucketConfig struct {
	Capacity        int     `validate:"required,min=1"`
	RefillPerSecond float64 `validate:"gt=0"`
}

// Config holds all rate limiter settings
type Config struct {
	Default     EndpointConfig
	Endpoints   map[string]EndpointConfig `validate:"dive"`
	PublicPaths []string

	IPBucket       BucketConfig
	IdentityBucket BucketConfig

	// IdentityMultiplier scales the window allowance of authenticated clients
	IdentityMultiplier int `validate:"min=1"`

	LoadWindow         time.Duration `validate:"gt=0"`
	LoadMinSamples     int           `validate:"min=1"`
	LoadRPSCeiling     float64       `validate:"gt=0"`
	HighLoadThreshold  float64       `validate:"gt=0,lte=1"`
	HighLoadReduction  float64       `validate:"gte=0,lt=1"`
	HighLoadRetryAfter time.Duration `validate:"gt=0"`

	CleanupInterval time.Duration `validate:"gt=0"`
	MaxIdle         time.Duration `validate:"gt=0"`
}

const DefaultBurstMultiplier = 1.5

// DefaultPublicPaths are exempt from limiting
var DefaultPublicPaths = []string{"/", "/static/", "/healthz", "/readyz", "/metrics", "/docs", "/openapi.json"}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Default: EndpointConfig{
			RequestsAllowed: 100,
			WindowSeconds:   60,
			BurstMultiplier: DefaultBurstMultiplier,
		},
		Endpoints: map[string]EndpointConfig{
			"/api/v1/numbers": {RequestsAllowed: 10, WindowSeconds: 60, BurstMultiplier: DefaultBurstMultiplier},
			"/api/v1/admin":   {RequestsAllowed: 30, WindowSeconds: 60, BurstMultiplier: DefaultBurstMultiplier},
		},
		PublicPaths:        append([]string(nil), DefaultPublicPaths...),
		IPBucket:           BucketConfig{Capacity: 20, RefillPerSecond: 2},
		IdentityBucket:     BucketConfig{Capacity: 50, RefillPerSecond: 5},
		IdentityMultiplier: 5,
		LoadWindow:         300 * time.Second,
		LoadMinSamples:     10,
		LoadRPSCeiling:     100,
		HighLoadThreshold:  0.8,
		HighLoadReduction:  0.8,
		HighLoadRetryAfter: 60 * time.Second,
		CleanupInterval:    60 * time.Second,
		MaxIdle:            3600 * time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}
	for prefix := range c.Endpoints {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("invalid rate limit config: endpoint %q must start with /", prefix)
		}
	}
	return nil
}

// ParseEndpoints parses "path=requests:window[:burst],..." overrides
func ParseEndpoints(s string) (map[string]EndpointConfig, error) {
	out := make(map[string]EndpointConfig)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		path, spec, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("rate limit endpoint %q: missing '='", item)
		}

		parts := strings.Split(spec, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("rate limit endpoint %q: want requests:window[:burst]", item)
		}

		requests, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("rate limit endpoint %q: requests: %w", item, err)
		}
		window, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("rate limit endpoint %q: window: %w", item, err)
		}
		burst := DefaultBurstMultiplier
		if len(parts) == 3 {
			if burst, err = strconv.ParseFloat(parts[2], 64); err != nil {
				return nil, fmt.Errorf("rate limit endpoint %q: burst: %w", item, err)
			}
		}

		cfg := EndpointConfig{RequestsAllowed: requests, WindowSeconds: window, BurstMultiplier: burst}
		if err := utils.ValidateStruct(cfg); err != nil {
			return nil, fmt.Errorf("rate limit endpoint %q: %w", item, err)
		}
		out[strings.TrimSpace(path)] = cfg
	}
	return out, nil
}

// resolver maps request paths to endpoint configs
type resolver struct {
	def      EndpointConfig
	exact    map[string]EndpointConfig
	prefixes []string
	public   []string
}

func newResolver(cfg Config) *resolver {
	r := &resolver{
		def:    cfg.Default,
		exact:  make(map[string]EndpointConfig, len(cfg.Endpoints)),
		public: cfg.PublicPaths,
	}
	for prefix, ec := range cfg.Endpoints {
		if ec.BurstMultiplier == 0 {
			ec.BurstMultiplier = DefaultBurstMultiplier
		}
		r.exact[prefix] = ec
		r.prefixes = append(r.prefixes, prefix)
	}
	// longest first
	sort.Slice(r.prefixes, func(i, j int) bool {
		if len(r.prefixes[i]) != len(r.prefixes[j]) {
			return len(r.prefixes[i]) > len(r.prefixes[j])
		}
		return r.prefixes[i] < r.prefixes[j]
	})
	return r
}

func (r *resolver) resolve(path string) EndpointConfig {
	if ec, ok := r.exact[path]; ok {
		return ec
	}
	for _, prefix := range r.prefixes {
		if strings.HasPrefix(path, prefix) {
			return r.exact[prefix]
		}
	}
	return r.def
}

// isPublic reports whether path bypasses limiting. "/" only matches the root.
func (r *resolver) isPublic(path string) bool {
	for _, p := range r.public {
		if p == "/" {
			if path == "/" {
				return true
			}
			continue
		}
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
