package abac

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file-backed configuration: engine knobs plus seed rules.
type Config struct {
	Engine EngineConfig `json:"engine" yaml:"engine"`
	Rules  []Rule       `json:"rules" yaml:"rules"`
}

// EngineConfig holds tuning knobs. Zero values select the defaults.
type EngineConfig struct {
	DecisionCacheTTLMS  int               `json:"decision_cache_ttl_ms" yaml:"decision_cache_ttl_ms"`
	UseRistretto        bool              `json:"use_ristretto" yaml:"use_ristretto"`
	Ristretto           RistrettoSettings `json:"ristretto" yaml:"ristretto"`
	AuditQueueSize      int               `json:"audit_queue_size" yaml:"audit_queue_size"`
	AuditQueuePolicy    string            `json:"audit_queue_policy" yaml:"audit_queue_policy"`
	AuditBlockTimeoutMS int               `json:"audit_block_timeout_ms" yaml:"audit_block_timeout_ms"`
	MaxRoleDepth        int               `json:"max_role_depth" yaml:"max_role_depth"`
	ReloadDebounceMS    int               `json:"reload_debounce_ms" yaml:"reload_debounce_ms"`
}

// ConfigLoader reads configuration from YAML or JSON files.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

// LoadFile dispatches on the file extension (.yaml/.yml/.json).
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(path)
	case ".json":
		return l.LoadJSON(path)
	default:
		return nil, fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
}

func (l *ConfigLoader) LoadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return &cfg, nil
}

func (l *ConfigLoader) LoadJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return &cfg, nil
}

// ToYAML renders the config, e.g. for the CLI convert path.
func (c *Config) ToYAML() ([]byte, error) { return yaml.Marshal(c) }

// ToJSON renders the config as indented JSON.
func (c *Config) ToJSON() ([]byte, error) { return json.MarshalIndent(c, "", "  ") }

// Validate parses every seed rule and collects the rejections without
// stopping at the first.
func (c *Config) Validate() []*ValidationError {
	var errs []*ValidationError
	for _, r := range c.Rules {
		if _, verr := parseRule(r); verr != nil {
			errs = append(errs, verr)
		}
	}
	if c.Engine.AuditQueuePolicy != "" {
		switch QueuePolicy(c.Engine.AuditQueuePolicy) {
		case QueueDropOldest, QueueBlock:
		default:
			errs = append(errs, &ValidationError{Field: "audit_queue_policy",
				Reason: fmt.Sprintf("unknown policy %q", c.Engine.AuditQueuePolicy)})
		}
	}
	return errs
}

// EnforcerOptions translates engine knobs into enforcer options.
func (c *Config) EnforcerOptions() ([]Option, error) {
	var opts []Option
	if c.Engine.DecisionCacheTTLMS > 0 {
		opts = append(opts, WithCacheTTL(time.Duration(c.Engine.DecisionCacheTTLMS)*time.Millisecond))
	}
	if c.Engine.UseRistretto {
		cache, err := NewRistrettoCache(c.Engine.Ristretto)
		if err != nil {
			return nil, fmt.Errorf("ristretto cache: %w", err)
		}
		opts = append(opts, WithDecisionCache(cache))
	}
	if c.Engine.AuditQueueSize > 0 {
		opts = append(opts, WithAuditQueueSize(c.Engine.AuditQueueSize))
	}
	if c.Engine.AuditQueuePolicy != "" {
		opts = append(opts, WithAuditQueuePolicy(QueuePolicy(c.Engine.AuditQueuePolicy)))
	}
	if c.Engine.AuditBlockTimeoutMS > 0 {
		opts = append(opts, WithAuditBlockTimeout(time.Duration(c.Engine.AuditBlockTimeoutMS)*time.Millisecond))
	}
	return opts, nil
}

// StoreOptions translates engine knobs into policy-store options.
func (c *Config) StoreOptions() []StoreOption {
	var opts []StoreOption
	if c.Engine.MaxRoleDepth > 0 {
		opts = append(opts, WithMaxRoleDepth(c.Engine.MaxRoleDepth))
	}
	return opts
}

// ReloaderOptions translates engine knobs into reloader options.
func (c *Config) ReloaderOptions() []ReloaderOption {
	var opts []ReloaderOption
	if c.Engine.ReloadDebounceMS > 0 {
		opts = append(opts, WithDebounce(time.Duration(c.Engine.ReloadDebounceMS)*time.Millisecond))
	}
	return opts
}

// ApplyRules seeds the store with the config's rules. Rules that fail
// validation are reported and skipped; the rest are persisted.
func ApplyRules(ctx context.Context, store *PolicyStore, rules []Rule) []*ValidationError {
	var errs []*ValidationError
	for _, r := range rules {
		if _, err := store.Add(ctx, r); err != nil {
			if verr, ok := err.(*ValidationError); ok {
				errs = append(errs, verr)
				continue
			}
			errs = append(errs, &ValidationError{RuleID: r.ID, Reason: err.Error()})
		}
	}
	return errs
}
