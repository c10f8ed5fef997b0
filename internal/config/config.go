// Package config loads server configuration from the environment, an
// optional .env file and an optional YAML file.
package config

import (
	"strings"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Policy     PolicyConfig     `yaml:"policy"`
	Rules      RulesConfig      `yaml:"rules"`
	Sweeper    SweeperConfig    `yaml:"sweeper"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds HTTP and gRPC listener settings.
type ServerConfig struct {
	HTTPPort           int           `yaml:"http_port"            env:"HTTP_PORT"            env-default:"8080"`
	GRPCPort           int           `yaml:"grpc_port"            env:"GRPC_PORT"            env-default:"50051"`
	ReadTimeout        time.Duration `yaml:"read_timeout"         env:"HTTP_READ_TIMEOUT"    env-default:"10s"`
	WriteTimeout       time.Duration `yaml:"write_timeout"        env:"HTTP_WRITE_TIMEOUT"   env-default:"30s"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"         env:"HTTP_IDLE_TIMEOUT"    env-default:"60s"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"     env:"SHUTDOWN_TIMEOUT"     env-default:"10s"`
	CORSAllowedOrigins string        `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"*"`
}

// DatabaseConfig holds PostgreSQL settings. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL          string `yaml:"url"            env:"DATABASE_URL"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS" env-default:"10"`
	MaxIdleConns int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS" env-default:"5"`
}

// ClickHouseConfig holds the violation event sink settings.
type ClickHouseConfig struct {
	DSN string `yaml:"dsn" env:"CLICKHOUSE_DSN"`
}

// RedisConfig enables the cross-replica user lock when URL is set.
type RedisConfig struct {
	URL     string        `yaml:"url"      env:"REDIS_URL"`
	LockTTL time.Duration `yaml:"lock_ttl" env:"REDIS_LOCK_TTL" env-default:"10s"`
}

// ClassifierConfig selects semantic classifiers.
type ClassifierConfig struct {
	Endpoint string        `yaml:"endpoint" env:"CLASSIFIER_ENDPOINT"`
	Timeout  time.Duration `yaml:"timeout"  env:"CLASSIFIER_TIMEOUT" env-default:"2s"`
	Lexical  bool          `yaml:"lexical"  env:"CLASSIFIER_LEXICAL" env-default:"true"`
}

// ThresholdsConfig holds base classifier thresholds in [0, 1].
type ThresholdsConfig struct {
	Toxic             float64 `yaml:"toxic"               env:"CONTENT_FILTER_TOXIC_THRESHOLD"    env-default:"0.95"`
	Harmful           float64 `yaml:"harmful"             env:"CONTENT_FILTER_HARMFUL_THRESHOLD"  env-default:"0.9"`
	Sexual            float64 `yaml:"sexual"              env:"CONTENT_FILTER_SEXUAL_THRESHOLD"   env-default:"0.7"`
	Child             float64 `yaml:"child"               env:"CONTENT_FILTER_CHILD_THRESHOLD"    env-default:"0.1"`
	Hate              float64 `yaml:"hate"                env:"CONTENT_FILTER_HATE_THRESHOLD"     env-default:"0.7"`
	Violence          float64 `yaml:"violence"            env:"CONTENT_FILTER_VIOLENCE_THRESHOLD" env-default:"0.8"`
	AllowAdultContent bool    `yaml:"allow_adult_content" env:"ALLOW_ADULT_CONTENT"               env-default:"false"`
}

// PolicyConfig holds the escalation policy.
type PolicyConfig struct {
	MaxWarnings             int           `yaml:"max_warnings"              env:"MAX_WARNINGS"              env-default:"3"`
	EnablePermanentBan      bool          `yaml:"enable_permanent_ban"      env:"ENABLE_PERMANENT_BAN"      env-default:"true"`
	TempRestrictionDuration time.Duration `yaml:"temp_restriction_duration" env:"TEMP_RESTRICTION_DURATION" env-default:"24h"`
	SanctionGateFailClosed  bool          `yaml:"sanction_gate_fail_closed" env:"SANCTION_GATE_FAIL_CLOSED" env-default:"false"`
	WriteRetries            uint64        `yaml:"write_retries"             env:"WRITE_RETRIES"             env-default:"3"`
}

// RulesConfig locates the rule recovery file.
type RulesConfig struct {
	SnapshotPath string `yaml:"snapshot_path" env:"RULES_SNAPSHOT_PATH" env-default:"data/rules_snapshot.json"`
}

// SweeperConfig controls the background expiry sweep. Zero disables it.
type SweeperConfig struct {
	Interval time.Duration `yaml:"interval" env:"EXPIRY_SWEEP_INTERVAL" env-default:"5m"`
}

// AuthConfig holds bcrypt hashes of the API keys.
type AuthConfig struct {
	ServiceKeyHash string        `yaml:"service_key_hash" env:"SERVICE_KEY_HASH"`
	AdminKeyHash   string        `yaml:"admin_key_hash"   env:"ADMIN_KEY_HASH"`
	CacheTTL       time.Duration `yaml:"cache_ttl"        env:"AUTH_CACHE_TTL"   env-default:"30s"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// AllowedOrigins splits the comma-separated CORS origin list.
func (c ServerConfig) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
