package config

import (
	"fmt"
	"net/url"
	"strings"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", "syslog", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// SMTPServerConfig holds inbound SMTP server configuration.
type SMTPServerConfig struct {
	Start          bool   `toml:"start"`
	Addr           string `toml:"addr"`
	Hostname       string `toml:"hostname"`         // Hostname announced in the SMTP banner
	MaxMessageSize int64  `toml:"max_message_size"` // Maximum size for incoming messages in bytes
}

// HTTPServerConfig holds the public HTTP server configuration.
type HTTPServerConfig struct {
	Start   bool   `toml:"start"`
	Addr    string `toml:"addr"`
	BaseURL string `toml:"base_url"` // Public base URL used in feed and entry links
}

// StorageConfig holds feed storage configuration.
type StorageConfig struct {
	DataPath       string `toml:"data_path"`        // Directory holding one JSON record per feed
	FeedSizeBudget int    `toml:"feed_size_budget"` // Maximum serialized size of a feed's entries in bytes
}

// MailboxConfig holds mailbox addressing configuration.
type MailboxConfig struct {
	Host string `toml:"host"` // Domain suffix of receiving addresses: <reference>@<host>
}

// Config holds all configuration for the application.
type Config struct {
	Logging LoggingConfig    `toml:"logging"`
	SMTP    SMTPServerConfig `toml:"smtp"`
	HTTP    HTTPServerConfig `toml:"http"`
	Storage StorageConfig    `toml:"storage"`
	Mailbox MailboxConfig    `toml:"mailbox"`
}

// NewDefaultConfig returns a Config initialized with application defaults.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		SMTP: SMTPServerConfig{
			Start:          true,
			Addr:           ":2525",
			Hostname:       "localhost",
			MaxMessageSize: 25 * 1024 * 1024,
		},
		HTTP: HTTPServerConfig{
			Start:   true,
			Addr:    ":8080",
			BaseURL: "http://localhost:8080",
		},
		Storage: StorageConfig{
			DataPath:       "./data",
			FeedSizeBudget: 512 * 1024,
		},
		Mailbox: MailboxConfig{
			Host: "localhost",
		},
	}
}

// Validate checks the configuration for values that would prevent startup.
func (c *Config) Validate() error {
	if c.Mailbox.Host == "" {
		return fmt.Errorf("mailbox.host must be set")
	}
	if strings.ContainsAny(c.Mailbox.Host, "@ \t") {
		return fmt.Errorf("mailbox.host %q is not a valid domain", c.Mailbox.Host)
	}
	if c.Storage.DataPath == "" {
		return fmt.Errorf("storage.data_path must be set")
	}
	if c.Storage.FeedSizeBudget <= 0 {
		return fmt.Errorf("storage.feed_size_budget must be positive, got %d", c.Storage.FeedSizeBudget)
	}
	if _, err := c.ParsedBaseURL(); err != nil {
		return err
	}
	return nil
}

// ParsedBaseURL returns the public base URL as a *url.URL.
func (c *Config) ParsedBaseURL() (*url.URL, error) {
	u, err := url.Parse(c.HTTP.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("http.base_url %q is not a valid URL: %w", c.HTTP.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("http.base_url %q must use http or https", c.HTTP.BaseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("http.base_url %q has no host", c.HTTP.BaseURL)
	}
	return u, nil
}
