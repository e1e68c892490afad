package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the CLI's persisted configuration.
type Config struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token,omitempty"`
	Database    string `yaml:"database"`
}

// LoadConfig reads the YAML config at path, then applies overrides from
// the environment (a .env file next to the config is honored). Missing
// config files yield a zero config so login can create one.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if v := os.Getenv("WATCHTRIX_HOMESERVER"); v != "" {
		cfg.Homeserver = v
	}
	if v := os.Getenv("WATCHTRIX_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv("WATCHTRIX_ACCESS_TOKEN"); v != "" {
		cfg.AccessToken = v
	}
	if v := os.Getenv("WATCHTRIX_DATABASE"); v != "" {
		cfg.Database = v
	}
	if cfg.Database == "" {
		cfg.Database = filepath.Join(filepath.Dir(path), "watchtrix.db")
	}
	return cfg, nil
}

// SaveConfig writes the config back to path with restrictive
// permissions, since it may hold an access token.
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DefaultConfigPath returns ~/.config/watchtrix/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "watchtrix.yaml"
	}
	return filepath.Join(home, ".config", "watchtrix", "config.yaml")
}
