package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Analytics.LookaheadDays != 7 || cfg.Analytics.OverloadHours != 40 {
		t.Fatalf("unexpected analytics defaults: %+v", cfg.Analytics)
	}
	if cfg.Analytics.PhaseWeights["construction"] != 50 {
		t.Fatalf("unexpected construction weight %v", cfg.Analytics.PhaseWeights["construction"])
	}
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("analytics:\n  lookahead_days: 14\nlog:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Analytics.LookaheadDays != 14 {
		t.Fatalf("lookahead not applied: %d", cfg.Analytics.LookaheadDays)
	}
	if cfg.Analytics.OverloadHours != 40 || cfg.Store.Driver != "sqlite" || cfg.Log.Level != "debug" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestValidateRejectsWeightOrder(t *testing.T) {
	_, err := FromYAML([]byte("analytics:\n  phase_weights:\n    studies: 60\n"))
	if err == nil || !strings.Contains(err.Error(), "construction > permits > studies") {
		t.Fatalf("expected weight ordering error, got %v", err)
	}
}

func TestValidateStoreAndCache(t *testing.T) {
	cases := map[string]string{
		"store:\n  driver: postgres\n":                "dsn is required",
		"store:\n  driver: mysql\n":                   "driver must be",
		"cache:\n  enabled: true\n  addr: \"\"\n":     "cache.addr",
		"cache:\n  enabled: true\n  ttl_seconds: 0\n": "ttl_seconds",
		"log:\n  level: loud\n":                       "log.level",
	}
	for doc, want := range cases {
		_, err := FromYAML([]byte(doc))
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%q: expected error containing %q, got %v", doc, want, err)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("Load should fail without a file")
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("server:\n  addr: 0.0.0.0:9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("addr not loaded: %s", cfg.Server.Addr)
	}
}
