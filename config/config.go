package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "WARDEN_"

// Config holds the service configuration, loaded from an optional yaml
// file and overridden by WARDEN_ environment variables.
type Config struct {
	ListenAddr string `koanf:"listen_addr"`
	Domain     string `koanf:"domain"`
	RedisURL   string `koanf:"redis_url"`

	LogLevel string `koanf:"log_level"`
	LogJSON  bool   `koanf:"log_json"`

	ChallengeTTL  time.Duration `koanf:"challenge_ttl"`
	CredentialTTL time.Duration `koanf:"credential_ttl"`

	Ledger LedgerConfig `koanf:"ledger"`
}

// LedgerConfig configures the Ethereum gateway
type LedgerConfig struct {
	RPCURL          string `koanf:"rpc_url"`
	RegistryAddress string `koanf:"registry_address"`
	ChainID         int64  `koanf:"chain_id"`
	SignerKeyHex    string `koanf:"signer_key_hex"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		ListenAddr:    ":9000",
		Domain:        "give.example.org",
		RedisURL:      "redis://localhost:6379/0",
		LogLevel:      "info",
		ChallengeTTL:  15 * time.Minute,
		CredentialTTL: 2 * time.Hour,
		Ledger: LedgerConfig{
			ChainID: 1,
		},
	}
}

// Load reads configuration from path (skipped when empty) and the
// environment
func Load(path string) (Config, error) {
	k := koanf.New(".")

	cfg := Default()

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// WARDEN_LEDGER__RPC_URL -> ledger.rpc_url
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return cfg, fmt.Errorf("failed to load environment config: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}
