// Package config loads the per-command YAML files under config/.
//
// Every loader follows the same contract: a missing file yields the
// documented defaults, a present file is decoded strictly over those
// defaults, and the result is validated before it is returned. Commands
// therefore run out of the box and a config file only has to name the
// keys it overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvRedisAddr overrides any cache.addr from YAML when set.
const EnvRedisAddr = "REDIS_ADDR"

// readYAML decodes path into out, which must already hold defaults.
// A missing file is not an error: the defaults stand.
func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Cache configures the optional cross-run label cache. When Addr is
// empty the cache is process-local memory; otherwise it is Redis.
type Cache struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// DefaultCache returns the cache section defaults: disabled, in-memory,
// one day of retention once enabled.
func DefaultCache() Cache {
	return Cache{
		Enabled:    false,
		TTLSeconds: 86400,
	}
}

func (c *Cache) applyEnv() {
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		c.Addr = addr
	}
}

func (c Cache) validate() error {
	if c.Enabled && c.TTLSeconds <= 0 {
		return fmt.Errorf("cache: ttl_seconds must be positive, got %d", c.TTLSeconds)
	}
	return nil
}
