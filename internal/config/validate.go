package config

import (
	"fmt"
	"strings"
)

// Validate performs business-rule validation on the loaded configuration.
// Load calls it automatically.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range (got %d)", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port out of range (got %d)", c.Server.GRPCPort)
	}
	if c.Server.HTTPPort == c.Server.GRPCPort {
		return fmt.Errorf("server.http_port and server.grpc_port must differ (both %d)", c.Server.HTTPPort)
	}

	if c.Auth.ServiceKeyHash == "" && c.Auth.AdminKeyHash == "" {
		return fmt.Errorf("auth: at least one of SERVICE_KEY_HASH or ADMIN_KEY_HASH must be set")
	}

	if err := c.Thresholds.validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if err := c.Policy.validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	if c.Sweeper.Interval < 0 {
		return fmt.Errorf("sweeper.interval must be >= 0 (got %s)", c.Sweeper.Interval)
	}
	if c.Classifier.Timeout <= 0 {
		return fmt.Errorf("classifier.timeout must be > 0 (got %s)", c.Classifier.Timeout)
	}
	if c.Redis.URL != "" && c.Redis.LockTTL <= 0 {
		return fmt.Errorf("redis.lock_ttl must be > 0 (got %s)", c.Redis.LockTTL)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error (got %q)", c.Log.Level)
	}
	return nil
}

func (t ThresholdsConfig) validate() error {
	for name, v := range map[string]float64{
		"toxic":    t.Toxic,
		"harmful":  t.Harmful,
		"sexual":   t.Sexual,
		"child":    t.Child,
		"hate":     t.Hate,
		"violence": t.Violence,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s must be in (0, 1] (got %v)", name, v)
		}
	}
	return nil
}

func (p PolicyConfig) validate() error {
	if p.MaxWarnings < 1 {
		return fmt.Errorf("max_warnings must be >= 1 (got %d)", p.MaxWarnings)
	}
	if !p.EnablePermanentBan && p.TempRestrictionDuration <= 0 {
		return fmt.Errorf("temp_restriction_duration must be > 0 when permanent bans are disabled (got %s)", p.TempRestrictionDuration)
	}
	return nil
}
