package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the node runtime parameters.
type Config struct {
	NodeName            string         `mapstructure:"node_name"`
	TCPAddress          string         `mapstructure:"tcp_address"`
	MetricsAddress      string         `mapstructure:"metrics_address"`
	LogLevel            string         `mapstructure:"log_level"`
	ShutdownGracePeriod time.Duration  `mapstructure:"shutdown_grace_period"`
	Keystore            KeystoreConfig `mapstructure:"keystore"`
	State               StateConfig    `mapstructure:"state"`
	Channel             ChannelConfig  `mapstructure:"channel"`
}

// KeystoreConfig describes how the keystore backend is initialized.
type KeystoreConfig struct {
	Path          string `mapstructure:"path"`
	PassphraseEnv string `mapstructure:"passphrase_env"`
}

// StateConfig locates the configuration database for nodes, spaces, and vaults.
type StateConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// ChannelConfig tunes secure-channel behavior.
type ChannelConfig struct {
	PurposeKeyTTL time.Duration `mapstructure:"purpose_key_ttl"`
	MailboxSize   int           `mapstructure:"mailbox_size"`
	// TrustedPeerKeys lists base64-encoded ed25519 root public keys. A
	// responder worker is started for each, ready to authenticate that
	// peer.
	TrustedPeerKeys []string `mapstructure:"trusted_peer_keys"`
}

const (
	defaultNodeName            = "default"
	defaultTCPAddress          = "0.0.0.0:4000"
	defaultMetricsAddress      = "127.0.0.1:9464"
	defaultLogLevel            = "info"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultPassphraseEnv       = "OCKAM_KEYSTORE_PASSPHRASE"
	defaultKeystorePath        = "data/keystore.json"
	defaultStateDatabasePath   = "data/state.db"
	defaultPurposeKeyTTL       = 24 * time.Hour
	defaultMailboxSize         = 32
)

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with OCKAM_ and can override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OCKAM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("node_name", defaultNodeName)
	v.SetDefault("tcp_address", defaultTCPAddress)
	v.SetDefault("metrics_address", defaultMetricsAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("keystore.path", defaultKeystorePath)
	v.SetDefault("keystore.passphrase_env", defaultPassphraseEnv)
	v.SetDefault("state.database_path", defaultStateDatabasePath)
	v.SetDefault("channel.purpose_key_ttl", defaultPurposeKeyTTL.String())
	v.SetDefault("channel.mailbox_size", defaultMailboxSize)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	if raw := v.GetString("shutdown_grace_period"); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse shutdown_grace_period: %w", err)
		}
		cfg.ShutdownGracePeriod = dur
	}
	if raw := v.GetString("channel.purpose_key_ttl"); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse channel.purpose_key_ttl: %w", err)
		}
		cfg.Channel.PurposeKeyTTL = dur
	}

	if cfg.Channel.MailboxSize <= 0 {
		cfg.Channel.MailboxSize = defaultMailboxSize
	}

	return cfg, nil
}

// getenv is swapped in tests.
var getenv = os.Getenv

// Passphrase resolves the keystore passphrase from the configured environment variable.
func (c Config) Passphrase() (string, error) {
	env := c.Keystore.PassphraseEnv
	if env == "" {
		env = defaultPassphraseEnv
	}
	pass := getenv(env)
	if pass == "" {
		return "", fmt.Errorf("keystore passphrase env %s is empty", env)
	}
	return pass, nil
}
