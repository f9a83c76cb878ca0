package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.NodeName != defaultNodeName {
		t.Fatalf("expected default node name %s, got %s", defaultNodeName, cfg.NodeName)
	}
	if cfg.TCPAddress != defaultTCPAddress {
		t.Fatalf("expected default tcp address %s, got %s", defaultTCPAddress, cfg.TCPAddress)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Fatalf("expected default log level %s, got %s", defaultLogLevel, cfg.LogLevel)
	}
	if cfg.ShutdownGracePeriod != defaultShutdownGracePeriod {
		t.Fatalf("expected default grace %s, got %s", defaultShutdownGracePeriod, cfg.ShutdownGracePeriod)
	}
	if cfg.Keystore.Path != defaultKeystorePath {
		t.Fatalf("expected default keystore path %s, got %s", defaultKeystorePath, cfg.Keystore.Path)
	}
	if cfg.Channel.PurposeKeyTTL != defaultPurposeKeyTTL {
		t.Fatalf("expected default purpose key ttl %s, got %s", defaultPurposeKeyTTL, cfg.Channel.PurposeKeyTTL)
	}
	if cfg.Channel.MailboxSize != defaultMailboxSize {
		t.Fatalf("expected default mailbox size %d, got %d", defaultMailboxSize, cfg.Channel.MailboxSize)
	}
}

func TestLoadWithFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(`
node_name: "edge-1"
tcp_address: "127.0.0.1:7001"
log_level: "debug"
shutdown_grace_period: "5s"
keystore:
  path: "/tmp/keystore.json"
  passphrase_env: "CUSTOM_ENV"
channel:
  purpose_key_ttl: "1h"
  mailbox_size: 8
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("OCKAM_TCP_ADDRESS", ":6000")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.TCPAddress != ":6000" {
		t.Fatalf("expected env override for tcp address, got %s", cfg.TCPAddress)
	}
	if cfg.NodeName != "edge-1" {
		t.Fatalf("expected node name edge-1, got %s", cfg.NodeName)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %s", cfg.LogLevel)
	}
	if cfg.ShutdownGracePeriod != 5*time.Second {
		t.Fatalf("expected grace 5s, got %s", cfg.ShutdownGracePeriod)
	}
	if cfg.Channel.PurposeKeyTTL != time.Hour {
		t.Fatalf("expected purpose key ttl 1h, got %s", cfg.Channel.PurposeKeyTTL)
	}
	if cfg.Channel.MailboxSize != 8 {
		t.Fatalf("expected mailbox size 8, got %d", cfg.Channel.MailboxSize)
	}
	if cfg.Keystore.PassphraseEnv != "CUSTOM_ENV" {
		t.Fatalf("expected passphrase env CUSTOM_ENV, got %s", cfg.Keystore.PassphraseEnv)
	}
}

func TestPassphraseFetch(t *testing.T) {
	t.Cleanup(func() { getenv = os.Getenv })
	getenv = func(key string) string {
		if key == "CUSTOM_ENV" {
			return "hunter2"
		}
		return ""
	}

	cfg := Config{Keystore: KeystoreConfig{PassphraseEnv: "CUSTOM_ENV"}}
	pass, err := cfg.Passphrase()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pass != "hunter2" {
		t.Fatalf("expected passphrase from env, got %s", pass)
	}

	cfg.Keystore.PassphraseEnv = "MISSING_ENV"
	if _, err := cfg.Passphrase(); err == nil {
		t.Fatal("expected error when passphrase env is missing")
	}
}
