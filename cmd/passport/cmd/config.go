package cmd

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/okulov/passport/users"
)

// Config is the YAML server configuration.
type Config struct {
	Listen        string        `yaml:"listen"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	RedirectHosts []string      `yaml:"redirect_hosts"`
	BrokersDB     string        `yaml:"brokers_db"`
	UsersFile     string        `yaml:"users_file"`
	HistoryDSN    string        `yaml:"history_dsn"`
}

func defaultConfig() Config {
	return Config{
		Listen:     ":8080",
		SessionTTL: time.Hour,
		BrokersDB:  "./data/brokers.db",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// loadUsers reads the user directory from a YAML file. The file holds
// a list of users with pre-hashed passwords, so secrets never sit in
// the config in plaintext.
func loadUsers(path string) (*users.Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading users file: %w", err)
	}
	var entries []users.User
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing users file: %w", err)
	}
	return users.NewDirectory(entries), nil
}
