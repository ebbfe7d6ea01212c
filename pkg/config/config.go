// Package config provides unified configuration for the gatewarden server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (GATEWARDEN_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the gatewarden server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Redis         RedisConfig         `yaml:"redis"`
	Policies      PoliciesConfig      `yaml:"policies"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
}

// RedisConfig holds shared-store connection settings.
type RedisConfig struct {
	Addr         string        `yaml:"addr"` // default: "localhost:6379"
	Password     string        `yaml:"password"`
	PasswordFile string        `yaml:"password_file"` // _file variant for password
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`     // default: 10
	DialTimeout  time.Duration `yaml:"dial_timeout"`  // default: 5s
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 3s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 3s
}

// PoliciesConfig selects and configures the tenant policy provider.
type PoliciesConfig struct {
	// Provider is "static" or "postgres" (default: "static").
	Provider string `yaml:"provider"`

	// CacheTTL bounds how long fetched policies are reused (default: 5m).
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Hosts maps request hosts to tenant IDs for host-based resolution.
	Hosts map[string]int64 `yaml:"hosts"`

	Postgres PostgresConfig `yaml:"postgres"`

	// Tenants configures the static provider.
	Tenants []TenantConfig `yaml:"tenants"`
}

// PostgresConfig holds PostgreSQL-specific settings for the policy provider.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"` // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"` // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// TenantConfig is one tenant's policy set for the static provider.
type TenantConfig struct {
	ID int64 `yaml:"id"`

	RateLimit RateLimitPolicyConfig `yaml:"rate_limit"`
	Session   SessionPolicyConfig   `yaml:"session"`
	Security  SecurityPolicyConfig  `yaml:"security"`
}

// RateLimitPolicyConfig mirrors tenant.RateLimitPolicy in YAML form.
type RateLimitPolicyConfig struct {
	Strategy          string `yaml:"strategy"` // fixed_window, token_bucket, sliding_window
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	BurstCapacity     int    `yaml:"burst_capacity"`
	Enabled           *bool  `yaml:"enabled"` // nil means enabled
}

// SessionPolicyConfig mirrors tenant.SessionPolicy in YAML form.
type SessionPolicyConfig struct {
	CookieName     string        `yaml:"cookie_name"` // default: "sid"
	Timeout        time.Duration `yaml:"timeout"`     // default: 30m
	CookieSecure   bool          `yaml:"cookie_secure"`
	CookieHTTPOnly *bool         `yaml:"cookie_http_only"` // nil means true
	CookieSameSite string        `yaml:"cookie_same_site"` // strict, lax, none
	CookiePath     string        `yaml:"cookie_path"`
	CookieDomain   string        `yaml:"cookie_domain"`
}

// SecurityPolicyConfig mirrors tenant.SecurityPolicy in YAML form.
type SecurityPolicyConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	JWTSecretFile   string        `yaml:"jwt_secret_file"` // _file variant for jwt_secret
	JWTAlgorithm    string        `yaml:"jwt_algorithm"`   // default: HS256
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// PublicPaths skip authentication (exact or prefix+"/" match).
	PublicPaths []string `yaml:"public_paths"`

	// SecretCacheTTL bounds JWT secret reuse (default: 5m).
	SecretCacheTTL time.Duration `yaml:"secret_cache_ttl"`

	// RevocationTTLCeiling caps revocation entry lifetimes (default: 1h).
	RevocationTTLCeiling time.Duration `yaml:"revocation_ttl_ceiling"`

	// APIKeys enables the API key strategy when non-empty.
	APIKeys []APIKeyConfig `yaml:"api_keys"`

	// Users is a static user backend for deployments without an
	// external directory. Production setups plug in their own
	// UserService instead.
	Users []UserConfig `yaml:"users"`
}

// UserConfig describes a single static user entry.
type UserConfig struct {
	TenantID     int64    `yaml:"tenant_id"`
	ID           int64    `yaml:"id"`
	Email        string   `yaml:"email"`
	Password     string   `yaml:"password"`
	PasswordFile string   `yaml:"password_file"` // _file variant for password
	Roles        []string `yaml:"roles"`
	Permissions  []string `yaml:"permissions"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key      string   `yaml:"key"`
	KeyFile  string   `yaml:"key_file"` // _file variant for key
	TenantID int64    `yaml:"tenant_id"`
	UserID   int64    `yaml:"user_id"`
	Email    string   `yaml:"email"`
	Roles    []string `yaml:"roles"`
}

// RateLimitConfig holds limiter behavior settings.
type RateLimitConfig struct {
	// LocalFallback bounds traffic in-process while the shared store is
	// unreachable instead of admitting everything.
	LocalFallback bool `yaml:"local_fallback"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Policies: PoliciesConfig{
			Provider: "static",
			CacheTTL: 5 * time.Minute,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			PublicPaths:          []string{"/healthz", "/auth/login", "/auth/refresh"},
			SecretCacheTTL:       5 * time.Minute,
			RevocationTTLCeiling: time.Hour,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
