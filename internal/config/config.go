// Package config loads the wallet daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klingon-exchange/crypwallet/internal/backend"
	"github.com/klingon-exchange/crypwallet/internal/chain"
	"github.com/klingon-exchange/crypwallet/internal/engine"
	"github.com/klingon-exchange/crypwallet/internal/price"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// DefaultPasswordEnv is the variable the seed password is read from when no
// flag is given.
const DefaultPasswordEnv = "CRYPWALLET_PASSWORD"

// Config holds all configuration for the wallet daemon.
type Config struct {
	// Network is mainnet or testnet.
	Network chain.Network `yaml:"network"`

	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Explorer backend.Config `yaml:"explorer"`
	Sync     SyncConfig     `yaml:"sync"`
	Prices   PricesConfig   `yaml:"prices"`
	RPC      RPCConfig      `yaml:"rpc"`
	Wallet   WalletConfig   `yaml:"wallet"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the root for all data files. Each network gets its own
	// subdirectory.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stderr only).
	File     string `yaml:"file"`
	MaxRolls int    `yaml:"max_rolls"`
}

// SyncConfig holds chain sync settings.
type SyncConfig struct {
	// Checkpoints overrides the bundled checkpoint file.
	Checkpoints  string        `yaml:"checkpoints,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval"`
	HeaderBatch  int           `yaml:"header_batch"`
	GapLimit     uint32        `yaml:"gap_limit"`
}

// PricesConfig holds price board settings.
type PricesConfig struct {
	Enabled         bool          `yaml:"enabled"`
	BaseURL         string        `yaml:"base_url"`
	Quote           string        `yaml:"quote"`
	Coins           []string      `yaml:"coins"`
	TopN            int           `yaml:"top_n"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// RPCConfig holds the JSON-RPC server settings.
type RPCConfig struct {
	Listen string `yaml:"listen"`
}

// WalletConfig holds seed settings. The password itself never lives in the
// file.
type WalletConfig struct {
	PasswordEnv     string `yaml:"password_env"`
	CreateIfMissing bool   `yaml:"create_if_missing"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: chain.Testnet,
		Storage: StorageConfig{
			DataDir: "~/.crypwallet",
		},
		Logging: LoggingConfig{
			Level:    "info",
			MaxRolls: 8,
		},
		Explorer: *backend.DefaultConfig(),
		Sync: SyncConfig{
			PollInterval: engine.DefaultPollInterval,
			HeaderBatch:  engine.DefaultHeaderBatch,
			GapLimit:     engine.DefaultGapLimit,
		},
		Prices: PricesConfig{
			Enabled:         true,
			BaseURL:         price.DefaultBaseURL,
			Quote:           price.DefaultQuote,
			Coins:           append([]string(nil), price.DefaultCoins...),
			TopN:            price.DefaultTopN,
			RefreshInterval: price.DefaultRefreshInterval,
		},
		RPC: RPCConfig{
			Listen: "127.0.0.1:8645",
		},
		Wallet: WalletConfig{
			PasswordEnv:     DefaultPasswordEnv,
			CreateIfMissing: true,
		},
	}
}

// Validate checks the values a hand-edited file can get wrong.
func (c *Config) Validate() error {
	network, err := chain.ParseNetwork(string(c.Network))
	if err != nil {
		return err
	}
	c.Network = network

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if c.Sync.PollInterval < time.Second {
		return fmt.Errorf("sync.poll_interval %v is below 1s", c.Sync.PollInterval)
	}
	if c.Sync.HeaderBatch <= 0 {
		return fmt.Errorf("sync.header_batch must be positive")
	}
	if c.Sync.GapLimit == 0 {
		return fmt.Errorf("sync.gap_limit must be positive")
	}
	if c.Prices.Enabled && c.Prices.RefreshInterval < time.Second {
		return fmt.Errorf("prices.refresh_interval %v is below 1s", c.Prices.RefreshInterval)
	}
	if c.RPC.Listen == "" {
		return fmt.Errorf("rpc.listen is required")
	}
	return nil
}

// Params returns the chain parameters for the configured network.
func (c *Config) Params() (*chain.Params, error) {
	params, ok := chain.Get(c.Network)
	if !ok {
		return nil, fmt.Errorf("unsupported network %q", c.Network)
	}
	return params, nil
}

// NetworkDataDir returns the data directory of the configured network.
// Mainnet and testnet indexes never share a directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(expandPath(c.Storage.DataDir), string(c.Network))
}

// Password returns the seed password from the configured environment
// variable.
func (c *Config) Password() string {
	if c.Wallet.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.Wallet.PasswordEnv)
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	configPath := ConfigPath(dataDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# crypwallet daemon configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
