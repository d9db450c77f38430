package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadClientConfigAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "server_name: shack1\npassphrase: hunter2\n")
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.ServerName != "shack1" {
		t.Errorf("server_name = %q", cfg.ServerName)
	}
	if cfg.STUNServer == "" {
		t.Error("expected a default stun_server")
	}
	if cfg.DiagListenAddr == "" {
		t.Error("expected a default diag_listen_addr")
	}
	if cfg.BrokerAddr == "" {
		t.Error("expected a default broker_addr")
	}
}

func TestLoadClientConfigRequiresPassphrase(t *testing.T) {
	path := writeTempConfig(t, "server_name: shack1\n")
	if _, err := LoadClientConfig(path); err == nil {
		t.Fatal("expected an error for missing passphrase")
	}
}

func TestLoadClientConfigRequiresBrokerAddr(t *testing.T) {
	path := writeTempConfig(t, "server_name: shack1\npassphrase: hunter2\nbroker_addr: \"\"\n")
	if _, err := LoadClientConfig(path); err == nil {
		t.Fatal("expected an error for empty broker_addr")
	}
}

func TestLoadServerConfigAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "server_name: shack1\npassphrase: hunter2\n")
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.EventLogPath == "" {
		t.Error("expected a default event_log_path")
	}
}
