package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	if c.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("redis.addr is required"))
	}

	switch c.Policies.Provider {
	case "static", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("policies.provider must be \"static\" or \"postgres\", got %q", c.Policies.Provider))
	}

	if c.Policies.Provider == "postgres" {
		if c.Policies.Postgres.DSN == "" && c.Policies.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("policies.postgres.dsn or policies.postgres.dsn_file is required when policies.provider is \"postgres\""))
		}
	}

	for i, t := range c.Policies.Tenants {
		if t.ID <= 0 {
			errs = append(errs, fmt.Errorf("policies.tenants[%d].id must be > 0, got %d", i, t.ID))
		}
		switch t.RateLimit.Strategy {
		case "", "fixed_window", "token_bucket", "sliding_window":
			// valid
		default:
			errs = append(errs, fmt.Errorf("policies.tenants[%d].rate_limit.strategy must be \"fixed_window\", \"token_bucket\", or \"sliding_window\", got %q", i, t.RateLimit.Strategy))
		}
		switch t.Session.CookieSameSite {
		case "", "strict", "lax", "none":
			// valid
		default:
			errs = append(errs, fmt.Errorf("policies.tenants[%d].session.cookie_same_site must be \"strict\", \"lax\", or \"none\", got %q", i, t.Session.CookieSameSite))
		}
	}

	for i, u := range c.Auth.Users {
		if u.TenantID <= 0 {
			errs = append(errs, fmt.Errorf("auth.users[%d].tenant_id must be > 0, got %d", i, u.TenantID))
		}
		if u.ID <= 0 {
			errs = append(errs, fmt.Errorf("auth.users[%d].id must be > 0, got %d", i, u.ID))
		}
		if u.Email == "" {
			errs = append(errs, fmt.Errorf("auth.users[%d].email is required", i))
		}
	}

	for i, k := range c.Auth.APIKeys {
		if k.Key == "" && k.KeyFile == "" {
			errs = append(errs, fmt.Errorf("auth.api_keys[%d].key or key_file is required", i))
		}
		if k.TenantID <= 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys[%d].tenant_id must be > 0, got %d", i, k.TenantID))
		}
	}

	return errors.Join(errs...)
}
