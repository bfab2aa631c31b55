package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"swapvault/internal/config"
)

// ============================================================================
// Test: defaults
// ============================================================================

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("http_addr: got %s, want :8080", cfg.HTTPAddr)
	}
	if cfg.PersistBatchSize != 50 {
		t.Errorf("persist_batch_size: got %d, want 50", cfg.PersistBatchSize)
	}
	if cfg.DedupeCapacity != 1_000_000 {
		t.Errorf("dedupe_capacity: got %d, want 1_000_000", cfg.DedupeCapacity)
	}
}

// ============================================================================
// Test: YAML file overrides defaults
// ============================================================================

func TestLoad_YAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
http_addr: ":9999"
vault_address: "vault-main"
admin_addresses:
  - "ops-1"
  - "ops-2"
initial_cap: 5000000000
persist_flush_timeout: 25ms
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("http_addr: got %s, want :9999", cfg.HTTPAddr)
	}
	if cfg.VaultAddress != "vault-main" {
		t.Errorf("vault_address: got %s", cfg.VaultAddress)
	}
	if len(cfg.AdminAddresses) != 2 || cfg.AdminAddresses[0] != "ops-1" {
		t.Errorf("admin_addresses: got %v", cfg.AdminAddresses)
	}
	if cfg.InitialCap != 5_000_000_000 {
		t.Errorf("initial_cap: got %d", cfg.InitialCap)
	}
	if cfg.PersistFlushTimeout != 25*time.Millisecond {
		t.Errorf("persist_flush_timeout: got %v", cfg.PersistFlushTimeout)
	}
	// Untouched keys keep their defaults.
	if cfg.NATSURL != "nats://localhost:4222" {
		t.Errorf("nats_url: got %s", cfg.NATSURL)
	}
}

// ============================================================================
// Test: environment wins over file
// ============================================================================

func TestLoad_EnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`http_addr: ":9999"`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SWAPVAULT_HTTP_ADDR", ":7777")
	t.Setenv("SWAPVAULT_ADMIN_ADDRESSES", "ops-1, ops-2,ops-3")
	t.Setenv("SWAPVAULT_DEDUPE_CAPACITY", "500")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":7777" {
		t.Errorf("http_addr: got %s, want :7777", cfg.HTTPAddr)
	}
	if len(cfg.AdminAddresses) != 3 || cfg.AdminAddresses[2] != "ops-3" {
		t.Errorf("admin_addresses: got %v", cfg.AdminAddresses)
	}
	if cfg.DedupeCapacity != 500 {
		t.Errorf("dedupe_capacity: got %d, want 500", cfg.DedupeCapacity)
	}
}

// ============================================================================
// Test: missing file and validation failures
// ============================================================================

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := config.Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate_RejectsBadSizes(t *testing.T) {
	cfg := config.Default()
	cfg.PersistChanSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero persist_chan_size")
	}

	cfg = config.Default()
	cfg.VaultAddress = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty vault_address")
	}
}
