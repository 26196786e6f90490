// Package config loads the daemon configuration from a TOML file, creating
// a default file and authority keystore on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"syforge/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress         string `toml:"ListenAddress"`
	DataDir               string `toml:"DataDir"`
	NetworkName           string `toml:"NetworkName"`
	Environment           string `toml:"Environment"`
	AuthorityKeystorePath string `toml:"AuthorityKeystorePath"`
	AuthorityAddress      string `toml:"AuthorityAddress"`
	BlockTimeSeconds      int64  `toml:"BlockTimeSeconds"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if cfg.AuthorityAddress == "" {
		if err := ensureKeystore(path, cfg); err != nil {
			return nil, err
		}
	}

	applyDefaults(cfg)
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.BlockTimeSeconds <= 0 {
		return fmt.Errorf("config: BlockTimeSeconds must be positive, got %d", c.BlockTimeSeconds)
	}
	if c.AuthorityAddress != "" {
		if _, err := crypto.ParseAddress(c.AuthorityAddress); err != nil {
			return fmt.Errorf("config: AuthorityAddress: %w", err)
		}
	}
	return nil
}

// Authority resolves the configured authority address, falling back to the
// keystore's key when no explicit address is set.
func (c *Config) Authority(passphrase string) (crypto.Address, error) {
	if c.AuthorityAddress != "" {
		return crypto.ParseAddress(c.AuthorityAddress)
	}
	key, err := crypto.LoadFromKeystore(c.AuthorityKeystorePath, passphrase)
	if err != nil {
		return crypto.Address{}, err
	}
	return key.PubKey().Address(), nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.AuthorityKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.AuthorityKeystorePath != keystorePath {
		cfg.AuthorityKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:         ":8080",
		DataDir:               "./syforge-data",
		NetworkName:           "syforge-local",
		Environment:           "dev",
		AuthorityKeystorePath: keystorePath,
		BlockTimeSeconds:      3,
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "syforge-local"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./syforge-data"
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if cfg.BlockTimeSeconds == 0 {
		cfg.BlockTimeSeconds = 3
	}
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "authority.keystore")
}
