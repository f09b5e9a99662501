// Package config holds the run configuration of stockpilot.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Config represents the configuration of a voucher run
type Config struct {
	// BaseURL is the origin of the accounting web UI
	BaseURL string `yaml:"base_url" json:"base_url"`

	Routes    RoutesConfig   `yaml:"routes" json:"routes"`
	Browser   BrowserConfig  `yaml:"browser" json:"browser"`
	Batch     BatchConfig    `yaml:"batch" json:"batch"`
	Auth      AuthConfig     `yaml:"auth" json:"auth"`
	Transfer  TransferConfig `yaml:"transfer" json:"transfer"`
	Store     StoreConfig    `yaml:"store" json:"store"`
	Artifacts ArtifactConfig `yaml:"artifacts" json:"artifacts"`
	Report    ReportConfig   `yaml:"report" json:"report"`
	Logging   LoggingConfig  `yaml:"logging" json:"logging"`
	Pacing    PacingConfig   `yaml:"pacing" json:"pacing"`
	Metrics   MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// RoutesConfig locates pages of the UI relative to BaseURL
type RoutesConfig struct {
	Login      string `yaml:"login" json:"login"`
	Production string `yaml:"production" json:"production"`
	Ledger     string `yaml:"ledger" json:"ledger"`
	Transfer   string `yaml:"transfer" json:"transfer"`

	// Glob patterns matched against the full current URL
	LoginPattern     string `yaml:"login_pattern" json:"login_pattern"`
	TwoFactorPattern string `yaml:"two_factor_pattern" json:"two_factor_pattern"`

	// PreviewPattern is a regexp whose first group is the new document id
	PreviewPattern string `yaml:"preview_pattern" json:"preview_pattern"`
}

// BrowserConfig configures the launched browser
type BrowserConfig struct {
	Headless       bool          `yaml:"headless" json:"headless"`
	SlowMo         time.Duration `yaml:"slow_mo" json:"slow_mo"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`           // default per page operation
	WaitTimeout    time.Duration `yaml:"wait_timeout" json:"wait_timeout"` // per wait-for-element
	TypingDelay    time.Duration `yaml:"typing_delay" json:"typing_delay"`
	MaxTabs        int           `yaml:"max_tabs" json:"max_tabs"`
}

// BatchConfig configures fan-out and the retry pipeline
type BatchConfig struct {
	Concurrency      int  `yaml:"concurrency" json:"concurrency"`
	RetryConcurrency int  `yaml:"retry_concurrency" json:"retry_concurrency"`
	Retry            bool `yaml:"retry" json:"retry"`

	// Force bypasses the already-processed-today check
	Force bool `yaml:"force" json:"force"`

	// SubmitTimeout bounds the wait for the preview redirect after saving
	SubmitTimeout time.Duration `yaml:"submit_timeout" json:"submit_timeout"`

	// DecimalSeparator used when typing fractional quantities
	DecimalSeparator string `yaml:"decimal_separator" json:"decimal_separator"`

	// StockCheck enables the required-vs-available gate
	StockCheck bool `yaml:"stock_check" json:"stock_check"`
}

// AuthConfig configures the login strategies
type AuthConfig struct {
	ManualLoginTimeout time.Duration `yaml:"manual_login_timeout" json:"manual_login_timeout"`
	TwoFactorTimeout   time.Duration `yaml:"two_factor_timeout" json:"two_factor_timeout"`
	InputTimeout       time.Duration `yaml:"input_timeout" json:"input_timeout"`
	CookieFile         string        `yaml:"cookie_file" json:"cookie_file"`
}

// TransferConfig configures the transfer note emitted after a batch
type TransferConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	Source           string   `yaml:"source" json:"source"`
	Destination      string   `yaml:"destination" json:"destination"`
	DefaultUnitPrice float64  `yaml:"default_unit_price" json:"default_unit_price"`
	DecantPatterns   []string `yaml:"decant_patterns" json:"decant_patterns"`
	DecantKeywords   []string `yaml:"decant_keywords" json:"decant_keywords"`
}

// StoreDriver selects the idempotency store backend
type StoreDriver string

const (
	StoreNone   StoreDriver = "none"
	StoreSQLite StoreDriver = "sqlite"
	StoreRedis  StoreDriver = "redis"
)

// StoreConfig configures the idempotency store
type StoreConfig struct {
	Driver   StoreDriver   `yaml:"driver" json:"driver"`
	Path     string        `yaml:"path" json:"path"` // sqlite file
	Addr     string        `yaml:"addr" json:"addr"` // redis host:port
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"` // redis key expiry
}

// ArtifactConfig configures where failure screenshots go
type ArtifactConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Dir     string `yaml:"dir" json:"dir"`
}

// ReportConfig configures run reports
type ReportConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Dir      string `yaml:"dir" json:"dir"`
	JSON     bool   `yaml:"json" json:"json"`
	Markdown bool   `yaml:"markdown" json:"markdown"`
}

// LoggingConfig configures diagnostic logging
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	Dir   string `yaml:"dir" json:"dir"`
}

// PacingConfig rate limits UI actions across all tabs of a run.
// Zero ActionsPerSecond disables pacing.
type PacingConfig struct {
	ActionsPerSecond float64 `yaml:"actions_per_second" json:"actions_per_second"`
	Burst            int     `yaml:"burst" json:"burst"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "https://www.oblio.eu",
		Routes: RoutesConfig{
			Login:            "/login/",
			Production:       "/stock/production/",
			Ledger:           "/report/production/",
			Transfer:         "/stock/transfer/",
			LoginPattern:     "*/login*",
			TwoFactorPattern: "*/login/{2fa,sms,verify}*",
			PreviewPattern:   `/production/(?:preview|view)/?(?:\?id=)?(\d+)`,
		},
		Browser: BrowserConfig{
			Headless:       false,
			ViewportWidth:  1280,
			ViewportHeight: 900,
			Timeout:        10 * time.Second,
			WaitTimeout:    5 * time.Second,
			TypingDelay:    80 * time.Millisecond,
			MaxTabs:        12,
		},
		Batch: BatchConfig{
			Concurrency:      5,
			RetryConcurrency: 2,
			Retry:            true,
			SubmitTimeout:    10 * time.Second,
			DecimalSeparator: ".",
			StockCheck:       true,
		},
		Auth: AuthConfig{
			ManualLoginTimeout: 90 * time.Second,
			TwoFactorTimeout:   300 * time.Second,
			InputTimeout:       300 * time.Second,
		},
		Transfer: TransferConfig{
			Enabled:          true,
			Source:           "Depozit materii prime",
			Destination:      "Magazin",
			DefaultUnitPrice: 1,
			DecantPatterns:   []string{"*-[0-9]", "*-[0-9][0-9]"},
			DecantKeywords:   []string{"decant"},
		},
		Store: StoreConfig{
			Driver: StoreNone,
			TTL:    72 * time.Hour,
		},
		Artifacts: ArtifactConfig{
			Enabled: true,
			Dir:     ".stockpilot/artifacts",
		},
		Report: ReportConfig{
			Enabled:  true,
			Dir:      ".stockpilot/reports",
			JSON:     true,
			Markdown: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over DefaultConfig and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL, got %q", c.BaseURL)
	}

	for name, route := range map[string]string{
		"login":      c.Routes.Login,
		"production": c.Routes.Production,
		"ledger":     c.Routes.Ledger,
		"transfer":   c.Routes.Transfer,
	} {
		if !strings.HasPrefix(route, "/") {
			return fmt.Errorf("routes.%s must start with '/', got %q", name, route)
		}
	}

	for name, pattern := range map[string]string{
		"login_pattern":      c.Routes.LoginPattern,
		"two_factor_pattern": c.Routes.TwoFactorPattern,
	} {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("routes.%s is not a valid glob: %w", name, err)
		}
	}

	re, err := regexp.Compile(c.Routes.PreviewPattern)
	if err != nil {
		return fmt.Errorf("routes.preview_pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return fmt.Errorf("routes.preview_pattern needs a capture group for the document id")
	}

	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch.concurrency must be at least 1")
	}
	if c.Batch.RetryConcurrency < 1 {
		return fmt.Errorf("batch.retry_concurrency must be at least 1")
	}
	if c.Browser.MaxTabs < c.Batch.Concurrency+1 {
		return fmt.Errorf("browser.max_tabs (%d) must exceed batch.concurrency (%d)", c.Browser.MaxTabs, c.Batch.Concurrency)
	}
	if sep := c.Batch.DecimalSeparator; sep != "." && sep != "," {
		return fmt.Errorf("batch.decimal_separator must be '.' or ',', got %q", sep)
	}

	for name, d := range map[string]time.Duration{
		"browser.timeout":           c.Browser.Timeout,
		"browser.wait_timeout":      c.Browser.WaitTimeout,
		"batch.submit_timeout":      c.Batch.SubmitTimeout,
		"auth.manual_login_timeout": c.Auth.ManualLoginTimeout,
		"auth.two_factor_timeout":   c.Auth.TwoFactorTimeout,
		"auth.input_timeout":        c.Auth.InputTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.Transfer.Enabled {
		if c.Transfer.Source == "" || c.Transfer.Destination == "" {
			return fmt.Errorf("transfer.source and transfer.destination are required when transfer is enabled")
		}
		if c.Transfer.Source == c.Transfer.Destination {
			return fmt.Errorf("transfer.source and transfer.destination must differ")
		}
		if c.Transfer.DefaultUnitPrice <= 0 {
			return fmt.Errorf("transfer.default_unit_price must be positive")
		}
		for _, p := range c.Transfer.DecantPatterns {
			if _, err := glob.Compile(p); err != nil {
				return fmt.Errorf("transfer.decant_patterns: %q: %w", p, err)
			}
		}
	}

	switch c.Store.Driver {
	case StoreNone, "":
		c.Store.Driver = StoreNone
	case StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case StoreRedis:
		if c.Store.Addr == "" {
			return fmt.Errorf("store.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("invalid store.driver: %s (must be 'none', 'sqlite' or 'redis')", c.Store.Driver)
	}

	if c.Pacing.ActionsPerSecond < 0 {
		return fmt.Errorf("pacing.actions_per_second cannot be negative")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be 'debug', 'info', 'warn' or 'error')", c.Logging.Level)
	}

	return nil
}

// URL joins a route onto BaseURL
func (c *Config) URL(route string) string {
	return strings.TrimRight(c.BaseURL, "/") + route
}
