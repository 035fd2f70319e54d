package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testConfig = `
hostname: 0.0.0.0
log_level: debug

gateway:
  port: 12345
  private_key_file: /etc/warden/key.pem
  response_timeout: 2s

database:
  filename: /var/lib/warden/warden.db

assets:
  url: https://assets.example.com
  token: secret

supervisor:
  stop_timeout: 1m
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(testConfig), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WARDEN_GATEWAY_PORT", "54321")

	config, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() returned error: %v", err)
	}

	if config.Hostname != "0.0.0.0" {
		t.Errorf("hostname = %q, want 0.0.0.0", config.Hostname)
	}
	if config.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", config.LogLevel)
	}
	if config.Gateway.PrivateKeyFile != "/etc/warden/key.pem" {
		t.Errorf("private key file = %q", config.Gateway.PrivateKeyFile)
	}
	if config.Gateway.ResponseTimeout != 2*time.Second {
		t.Errorf("response timeout = %v, want 2s", config.Gateway.ResponseTimeout)
	}
	if config.Assets.URL != "https://assets.example.com" {
		t.Errorf("assets url = %q", config.Assets.URL)
	}
	if config.Supervisor.StopTimeout != time.Minute {
		t.Errorf("stop timeout = %v, want 1m", config.Supervisor.StopTimeout)
	}

	// Defaults fill anything the file leaves out.
	if config.Supervisor.PollInterval != 100*time.Millisecond {
		t.Errorf("poll interval = %v, want the 100ms default", config.Supervisor.PollInterval)
	}

	// Environment variables take precedence over the file.
	if config.Gateway.Port != 54321 {
		t.Errorf("port = %d, want the environment override 54321", config.Gateway.Port)
	}
	if got := config.GatewayAddress(); got != "0.0.0.0:54321" {
		t.Errorf("GatewayAddress() = %q, want 0.0.0.0:54321", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(t.TempDir()); err == nil {
		t.Error("LoadConfig() succeeded with no config file present")
	}
}
