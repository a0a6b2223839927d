package config

import (
	"os"
	"testing"
)

func TestDefaultAppliesEnvDefaults(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Broker.WebhookDeliveryBatchSize != 25 {
		t.Errorf("Broker.WebhookDeliveryBatchSize = %d, want 25", cfg.Broker.WebhookDeliveryBatchSize)
	}
	if cfg.PAK.Prefix != "brk" {
		t.Errorf("PAK.Prefix = %q, want %q", cfg.PAK.Prefix, "brk")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	os.Unsetenv("BROKKR_DATABASE__URL")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() with no database.url should error")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/brokkr.yaml"
	if err := os.WriteFile(path, []byte("database:\n  url: postgres://file/db\nlog:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("BROKKR_LOG__LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.URL != "postgres://file/db" {
		t.Errorf("Database.URL = %q, want file value", cfg.Database.URL)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want env override %q", cfg.Log.Level, "warn")
	}
}

func TestValidSchemaName(t *testing.T) {
	cases := map[string]bool{
		"tenant_a":     true,
		"Tenant1":      true,
		"1tenant":      false,
		"tenant-a":     false,
		"":             false,
		"tenant a":     false,
		"tenant; drop": false,
	}
	for name, want := range cases {
		if got := validSchemaName(name); got != want {
			t.Errorf("validSchemaName(%q) = %v, want %v", name, got, want)
		}
	}
}
