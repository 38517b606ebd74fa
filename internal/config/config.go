package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config holds the runtime settings of the pricing service.
type Config struct {
	Port      string
	JWTSecret string
	LogLevel  zerolog.Level

	// Tenants maps a tenant key to the DSN of its database.
	Tenants map[string]string

	RedisAddr    string
	RuleCacheTTL time.Duration

	KafkaBrokers    []string
	RuleTopic       string
	DocumentTopic   string
	ConsumerGroupID string

	RateLimit float64
	RateBurst int

	// SeedRulePack is a YAML rule pack loaded into empty stores at startup.
	SeedRulePack string
}

// Load reads an optional env file and then the environment; the environment wins.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetDefault("PORT", "8083")
	v.SetDefault("JWT_SECRET", "secret")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TENANTS", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("RULE_CACHE_TTL", "5m")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092,localhost:9093,localhost:9094")
	v.SetDefault("KAFKA_RULE_TOPIC", "pricing-rule.changed")
	v.SetDefault("KAFKA_DOCUMENT_TOPIC", "documents")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "pricing-service-group")
	v.SetDefault("RATE_LIMIT", 10)
	v.SetDefault("RATE_BURST", 30)
	v.SetDefault("SEED_RULE_PACK", "")

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", envFile, err)
			}
		}
	}
	v.AutomaticEnv()

	tenants, err := ParseTenants(v.GetString("TENANTS"))
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(strings.ToLower(v.GetString("LOG_LEVEL")))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		Port:            v.GetString("PORT"),
		JWTSecret:       v.GetString("JWT_SECRET"),
		LogLevel:        level,
		Tenants:         tenants,
		RedisAddr:       v.GetString("REDIS_ADDR"),
		RuleCacheTTL:    v.GetDuration("RULE_CACHE_TTL"),
		KafkaBrokers:    splitList(v.GetString("KAFKA_BROKERS"), ","),
		RuleTopic:       v.GetString("KAFKA_RULE_TOPIC"),
		DocumentTopic:   v.GetString("KAFKA_DOCUMENT_TOPIC"),
		ConsumerGroupID: v.GetString("KAFKA_CONSUMER_GROUP"),
		RateLimit:       v.GetFloat64("RATE_LIMIT"),
		RateBurst:       v.GetInt("RATE_BURST"),
		SeedRulePack:    v.GetString("SEED_RULE_PACK"),
	}
	if cfg.RuleCacheTTL <= 0 {
		return nil, fmt.Errorf("RULE_CACHE_TTL must be positive, got %s", v.GetString("RULE_CACHE_TTL"))
	}
	return cfg, nil
}

// ParseTenants parses "acme=dsn;beta=dsn". Only the first '=' separates key
// from DSN since DSNs may contain '=' themselves.
func ParseTenants(raw string) (map[string]string, error) {
	tenants := make(map[string]string)
	for _, entry := range splitList(raw, ";") {
		key, dsn, ok := strings.Cut(entry, "=")
		key, dsn = strings.TrimSpace(key), strings.TrimSpace(dsn)
		if !ok || key == "" || dsn == "" {
			return nil, fmt.Errorf("invalid TENANTS entry %q, want key=dsn", entry)
		}
		if _, dup := tenants[key]; dup {
			return nil, fmt.Errorf("duplicate tenant %q", key)
		}
		tenants[key] = dsn
	}
	return tenants, nil
}

// TenantKeys returns the configured tenant keys sorted.
func (c *Config) TenantKeys() []string {
	keys := make([]string, 0, len(c.Tenants))
	for key := range c.Tenants {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func splitList(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
