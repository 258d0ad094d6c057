package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// DefaultConfigName is the config file looked up in the home directory.
const DefaultConfigName = ".adminctl.yaml"

// Config is the adminctl configuration file.
type Config struct {
	BaseURL string        `yaml:"baseURL"`
	Token   string        `yaml:"token"`
	Output  string        `yaml:"output,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ConfigPath resolves path, defaulting to ~/.adminctl.yaml.
func ConfigPath(path string) (string, error) {
	if strings.TrimSpace(path) != "" {
		return homedir.Expand(path)
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigName), nil
}

// LoadConfig reads the file at path. A missing file yields an empty config.
// ADMINCTL_BASE_URL and ADMINCTL_TOKEN override the file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	resolved, err := ConfigPath(path)
	if err != nil {
		return cfg, err
	}
	raw, err := os.ReadFile(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", resolved, err)
		}
	}
	if v := strings.TrimSpace(os.Getenv("ADMINCTL_BASE_URL")); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ADMINCTL_TOKEN")); v != "" {
		cfg.Token = v
	}
	return cfg, nil
}

// SaveConfig writes cfg to path with owner-only permissions.
func SaveConfig(path string, cfg Config) error {
	resolved, err := ConfigPath(path)
	if err != nil {
		return err
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(resolved, raw, 0o600)
}
