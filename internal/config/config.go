// Package config loads and validates the sitepress configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/sitepress/internal/command"
	"git.home.luguber.info/inful/sitepress/internal/retry"
)

// Config is the application configuration.
type Config struct {
	// Source is the content directory (or working-copy path) builds read from.
	Source string `yaml:"source,omitempty"`
	// Target is the directory built output is written to.
	Target string `yaml:"target,omitempty"`
	// Origin is the remote repository deploys clone the source from.
	Origin string `yaml:"origin,omitempty"`
	// Branch is the target branch deploys publish to.
	Branch string `yaml:"branch,omitempty"`

	Site  SiteConfig  `yaml:"site,omitempty"`
	Build BuildConfig `yaml:"build,omitempty"`
	Serve ServeConfig `yaml:"serve,omitempty"`
	Git   GitConfig   `yaml:"git,omitempty"`

	// Commands are user command definitions merged over the built-in set;
	// later sources override earlier ones on name collision.
	Commands map[string]command.Definition `yaml:"commands,omitempty"`

	Notify  NotifyConfig  `yaml:"notify,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
	History HistoryConfig `yaml:"history,omitempty"`
}

// SiteConfig is serialized and handed to the external build tool.
type SiteConfig struct {
	Title       string         `yaml:"title,omitempty"`
	BaseURL     string         `yaml:"base_url,omitempty"`
	Description string         `yaml:"description,omitempty"`
	Params      map[string]any `yaml:"params,omitempty"`
}

// BuildConfig describes the external build tool invocation.
type BuildConfig struct {
	// Tool is the generator binary, e.g. "hugo" or "zola".
	Tool string `yaml:"tool,omitempty"`
	// Args are extra arguments passed to every invocation; values may use
	// {name} placeholders resolved against the invocation scope.
	Args []string `yaml:"args,omitempty"`
	// Incremental enables incremental rebuilds when the tool supports them.
	Incremental bool `yaml:"incremental,omitempty"`
	// Timeout bounds one tool run; zero means no limit.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// ServeConfig controls the live-serving mode.
type ServeConfig struct {
	Addr string `yaml:"addr,omitempty"`
	// Interval is the change-batch flush interval.
	Interval Duration `yaml:"interval,omitempty"`
	// SyncEvery triggers a periodic deploy when non-zero.
	SyncEvery Duration `yaml:"sync_every,omitempty"`
}

// GitConfig holds committer identity and retry settings.
type GitConfig struct {
	AuthorName  string      `yaml:"author_name,omitempty"`
	AuthorEmail string      `yaml:"author_email,omitempty"`
	Retry       RetryConfig `yaml:"retry,omitempty"`
}

// RetryConfig configures backoff for transient repository failures.
type RetryConfig struct {
	Mode       string   `yaml:"mode,omitempty"` // fixed|linear|exponential
	Initial    Duration `yaml:"initial,omitempty"`
	Max        Duration `yaml:"max,omitempty"`
	MaxRetries int      `yaml:"max_retries,omitempty"`
}

// Policy converts the raw fields into a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.NewPolicy(retry.BackoffMode(r.Mode), r.Initial.Std(), r.Max.Std(), r.MaxRetries)
}

// NotifyConfig enables NATS build notifications.
type NotifyConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	URL     string `yaml:"url,omitempty"`
	Stream  string `yaml:"stream,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint in serve mode.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

// HistoryConfig locates the build-event ledger.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"`
}

// Load reads the configuration file. Environment variables are expanded in
// the raw YAML; a .env/.env.local file is loaded first (process environment
// wins over file values).
func Load(path string) (*Config, error) {
	for _, envPath := range []string{".env", ".env.local"} {
		if err := godotenv.Load(envPath); err == nil {
			fmt.Fprintf(os.Stderr, "Loaded environment variables from %s\n", envPath)
			break
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Source == "" {
		c.Source = "."
	}
	if c.Target == "" {
		c.Target = "./site"
	}
	if c.Branch == "" {
		c.Branch = "published"
	}
	if c.Build.Tool == "" {
		c.Build.Tool = "hugo"
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = ":8080"
	}
	if c.Serve.Interval <= 0 {
		c.Serve.Interval = Duration(750 * time.Millisecond)
	}
	if c.Notify.Stream == "" {
		c.Notify.Stream = "SITEPRESS"
	}
	if c.Notify.Subject == "" {
		c.Notify.Subject = "sitepress.builds"
	}
	if c.History.Path == "" {
		c.History.Path = ".sitepress-history.db"
	}
	if c.Site.Title == "" {
		c.Site.Title = defaultTitle(c.Origin, c.Source)
	}
}

// defaultTitle derives a readable site title from the origin repository
// name, falling back to the source directory.
func defaultTitle(origin, source string) string {
	name := origin
	if name == "" {
		name = source
	}
	name = strings.TrimSuffix(name, "/")
	name = strings.TrimSuffix(name, ".git")
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." {
		return "Site"
	}
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return cases.Title(language.English).String(name)
}

// Validate checks fields that would otherwise fail deep inside a pipeline.
func (c *Config) Validate() error {
	if c.Serve.Interval < 0 {
		return fmt.Errorf("serve.interval cannot be negative")
	}
	if c.Notify.Enabled && c.Notify.URL == "" {
		return fmt.Errorf("notify.enabled requires notify.url")
	}
	if err := c.Git.Retry.Policy().Validate(); err != nil {
		return fmt.Errorf("git.retry: %w", err)
	}
	return nil
}
