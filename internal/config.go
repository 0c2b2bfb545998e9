package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Knowledge source modes.
const (
	SourceGitHub = "github"
	SourceLocal  = "local"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Knowledge KnowledgeConfig   `yaml:"knowledge"`
	GitHub    GitHubConfig      `yaml:"github"`
	Identity  IdentityConfig    `yaml:"identity"`
	Ledger    LedgerConfig      `yaml:"ledger"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Knowledge.Validate(); err != nil {
		return err
	}
	if err := c.GitHub.Validate(); err != nil {
		return err
	}
	if c.Knowledge.Source == SourceGitHub && c.GitHub.Repo == "" {
		return fmt.Errorf("knowledge: source is %q but github.repo is empty", SourceGitHub)
	}
	return c.Ledger.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// KnowledgeConfig controls where notes are loaded from and how long a
// fetched snapshot remains fresh.
//
// Source selects the backing store:
//   - "github" (default): notes are fetched from the configured GitHub
//     repository and contributions open pull requests against it.
//   - "local": notes are read from LocalPath; useful for development
//     without a remote repository.
type KnowledgeConfig struct {
	Source    string        `yaml:"source"`
	Branch    string        `yaml:"branch"`
	LocalPath string        `yaml:"local_path"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// Validate validates the knowledge configuration.
func (c *KnowledgeConfig) Validate() error {
	if c.Source == "" {
		c.Source = SourceGitHub
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Source, validation.Required, validation.In(SourceGitHub, SourceLocal)),
		validation.Field(&c.CacheTTL, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if c.Source == SourceLocal && c.LocalPath == "" {
		return fmt.Errorf("knowledge: source is %q but local_path is empty", SourceLocal)
	}
	return nil
}

// GitHubConfig holds the remote repository settings.
type GitHubConfig struct {
	Repo          string `yaml:"repo"`
	Token         string `yaml:"token"`
	BaseURL       string `yaml:"base_url"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// Validate validates the GitHub configuration. An empty Repo or Token is
// permitted; the service then runs read-only against the local source and
// reports contributions as unconfigured.
func (c *GitHubConfig) Validate() error {
	if c.Token != "" && c.Repo == "" {
		return fmt.Errorf("github: token is set but repo is empty")
	}
	return nil
}

// IdentityConfig holds the fallback contributor identity used when no
// authenticated-user header is present on a request.
type IdentityConfig struct {
	DevName  string `yaml:"dev_name"`
	DevEmail string `yaml:"dev_email"`
}

// LedgerConfig holds the pull request ledger database configuration.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the ledger configuration.
func (c *LedgerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Knowledge: KnowledgeConfig{
			Source:   SourceGitHub,
			Branch:   "main",
			CacheTTL: 5 * time.Minute,
		},
		Ledger: LedgerConfig{
			Path: "./mimir.db",
		},
	}
}
