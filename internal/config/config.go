// Package config loads runtime configuration from file and environment
// and resolves IMAP passwords from the system keyring.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
	"github.com/spf13/viper"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
)

const keyringService = "mbarie-mailsync"

// OAuthClient is one registered OAuth application.
type OAuthClient struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// Config is the full service configuration.
type Config struct {
	DataRoot string `mapstructure:"data_root"`
	HTTPAddr string `mapstructure:"http_addr"`
	LogLevel string `mapstructure:"log_level"`

	NATSURL      string `mapstructure:"nats_url"`
	AnalyzerURL  string `mapstructure:"analyzer_url"`
	JWKSURL      string `mapstructure:"jwks_url"`
	AuthDisabled bool   `mapstructure:"auth_disabled"`

	InitialSyncDays int `mapstructure:"initial_sync_days"`
	HistoryMonths   int `mapstructure:"history_months"`

	Google    OAuthClient `mapstructure:"google"`
	Microsoft OAuthClient `mapstructure:"microsoft"`
}

// DBPath is where the sqlite database lives under the data root.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataRoot, "mailsync.db")
}

// BlobRoot is where attachment blobs live under the data root.
func (c *Config) BlobRoot() string {
	return filepath.Join(c.DataRoot, "attachments")
}

// Load reads config.yaml from path (or the working directory when
// empty), with MAILSYNC_* environment variables taking precedence. A
// missing file is not an error; defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("MAILSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_root", "data")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("initial_sync_days", 30)
	v.SetDefault("history_months", 12)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// KeyringPasswordLookup resolves IMAP passwords from the OS keyring,
// keyed by account email address.
func KeyringPasswordLookup() (func(acc *domain.Account) (string, error), error) {
	kr, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}

	return func(acc *domain.Account) (string, error) {
		item, err := kr.Get(acc.EmailAddress)
		if err != nil {
			if err == keyring.ErrKeyNotFound {
				return "", nil
			}
			return "", fmt.Errorf("reading keyring entry for %s: %w", acc.EmailAddress, err)
		}
		return string(item.Data), nil
	}, nil
}

// StorePassword writes an IMAP password into the OS keyring.
func StorePassword(address, password string) error {
	kr, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
	})
	if err != nil {
		return fmt.Errorf("opening keyring: %w", err)
	}
	return kr.Set(keyring.Item{
		Key:   address,
		Label: "IMAP password for " + address,
		Data:  []byte(password),
	})
}
