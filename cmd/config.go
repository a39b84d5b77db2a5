package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BERNARDO31P/Password-Safe/internal/client"
	"github.com/BERNARDO31P/Password-Safe/internal/crypto"
)

// CLIConfig holds the CLI client configuration (server URL and auth token).
// Key material is never stored here; it is re-derived from the password
// whenever a command needs it.
type CLIConfig struct {
	Server string `json:"server"`
	Token  string `json:"token"`
	Email  string `json:"email,omitempty"`
}

// configDir returns the path to the password-safe config directory.
func configDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("finding config directory: %w", err)
	}
	return filepath.Join(dir, "password-safe"), nil
}

// configPath returns the path to the password-safe config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// loadConfig reads the CLI config from disk.
// Returns a clear error if not logged in.
func loadConfig() (*CLIConfig, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("not logged in: run 'password-safe login --server URL' first")
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg CLIConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the CLI config to disk with restricted permissions.
func saveConfig(cfg *CLIConfig) error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	path := filepath.Join(dir, "config.json")
	return os.WriteFile(path, data, 0600)
}

// apiClient builds a client from the saved session.
func apiClient() (*client.Client, *CLIConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return client.New(cfg.Server, cfg.Token), cfg, nil
}

// unlockSession prompts for the password and unlocks the account's key
// material from the wrapped blobs the server returns.
func unlockSession(ctx context.Context, c *client.Client) (*client.User, *crypto.KeyMaterial, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return nil, nil, err
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		return nil, nil, err
	}
	material, err := crypto.Unlock(password, me.Keys())
	if err != nil {
		return nil, nil, fmt.Errorf("unlocking keys: %w", err)
	}
	return me, material, nil
}
