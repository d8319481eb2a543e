package abac

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oarkflow/abac/logger"
)

const sampleYAML = `
engine:
  decision_cache_ttl_ms: 15000
  audit_queue_size: 256
  audit_queue_policy: block
  audit_block_timeout_ms: 50
  max_role_depth: 5
  reload_debounce_ms: 100
rules:
  - id: p-doc
    kind: p
    v0: role:editor
    v1: "doc:*"
    v2: read
    v3: "time:after:09:00"
  - id: g-alice
    kind: g
    v0: alice
    v1: role:editor
`

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigLoadYAML(t *testing.T) {
	path := writeTempConfig(t, "abac.yaml", sampleYAML)
	cfg, err := NewConfigLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.DecisionCacheTTLMS != 15000 || cfg.Engine.AuditQueuePolicy != "block" {
		t.Fatalf("engine knobs not parsed: %+v", cfg.Engine)
	}
	if len(cfg.Rules) != 2 || cfg.Rules[0].V3 != "time:after:09:00" {
		t.Fatalf("rules not parsed: %+v", cfg.Rules)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("sample must validate cleanly: %v", errs)
	}
}

func TestConfigValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Engine: EngineConfig{AuditQueuePolicy: "spill"},
		Rules: []Rule{
			{ID: "bad1", Kind: "p", V0: "a"},
			{ID: "bad2", Kind: "p", V0: "a", V1: "o", V2: "read", V3: "department:before:eng"},
		},
	}
	if errs := cfg.Validate(); len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := writeTempConfig(t, "abac.yaml", sampleYAML)
	cfg, err := NewConfigLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	data, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	jsonPath := writeTempConfig(t, "abac.json", string(data))
	cfg2, err := NewConfigLoader().LoadFile(jsonPath)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if len(cfg2.Rules) != len(cfg.Rules) || cfg2.Engine != cfg.Engine {
		t.Fatalf("round trip mismatch")
	}
}

func TestApplyRulesSeedsStore(t *testing.T) {
	path := writeTempConfig(t, "abac.yaml", sampleYAML)
	cfg, err := NewConfigLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	store, _ := newTestStore(t)
	if errs := ApplyRules(context.Background(), store, cfg.Rules); len(errs) != 0 {
		t.Fatalf("apply: %v", errs)
	}

	opts, err := cfg.EnforcerOptions()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	e := NewEnforcer(store, append(opts, WithLogger(logger.NewNullLogger()))...)
	defer e.Close()

	attrs := BuildContext(RawRequest{Time: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)})
	d := e.Enforce(context.Background(), "alice", "doc:9", "read", attrs)
	if !d.Allowed {
		t.Fatalf("seeded rules must grant alice read via role:editor, got %q", d.Reason)
	}
}
