package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Global    GlobalConfig    `yaml:"global" json:"global" mapstructure:"global"`
	Scanner   ScannerConfig   `yaml:"scanner" json:"scanner" mapstructure:"scanner"`
	Suites    SuitesConfig    `yaml:"suites" json:"suites" mapstructure:"suites"`
	Storage   StorageConfig   `yaml:"storage" json:"storage" mapstructure:"storage"`
	Redis     RedisConfig     `yaml:"redis" json:"redis" mapstructure:"redis"`
	Reporting ReportingConfig `yaml:"reporting" json:"reporting" mapstructure:"reporting"`
	API       APIConfig       `yaml:"api" json:"api" mapstructure:"api"`
}

type GlobalConfig struct {
	LogLevel  string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format" mapstructure:"log_format"`
	LogFile   string `yaml:"log_file" json:"log_file" mapstructure:"log_file"`
	UserAgent string `yaml:"user_agent" json:"user_agent" mapstructure:"user_agent"`
	DataDir   string `yaml:"data_dir" json:"data_dir" mapstructure:"data_dir"`
	TempDir   string `yaml:"temp_dir" json:"temp_dir" mapstructure:"temp_dir"`
	// ScanHost identifies this machine in raw results and scan errors.
	ScanHost string `yaml:"scan_host" json:"scan_host" mapstructure:"scan_host"`
}

type ScannerConfig struct {
	// Queue is "local" or "redis".
	Queue              string                   `yaml:"queue" json:"queue" mapstructure:"queue"`
	Concurrency        int                      `yaml:"concurrency" json:"concurrency" mapstructure:"concurrency"`
	MaxConcurrentScans int                      `yaml:"max_concurrent_scans" json:"max_concurrent_scans" mapstructure:"max_concurrent_scans"`
	TaskTimeout        time.Duration            `yaml:"task_timeout" json:"task_timeout" mapstructure:"task_timeout"`
	TaskTimeouts       map[string]time.Duration `yaml:"task_timeouts" json:"task_timeouts" mapstructure:"task_timeouts"`
	Cooldown           time.Duration            `yaml:"cooldown" json:"cooldown" mapstructure:"cooldown"`
	AbortCeiling       time.Duration            `yaml:"abort_ceiling" json:"abort_ceiling" mapstructure:"abort_ceiling"`
	SweepInterval      time.Duration            `yaml:"sweep_interval" json:"sweep_interval" mapstructure:"sweep_interval"`
	Blacklist          []string                 `yaml:"blacklist" json:"blacklist" mapstructure:"blacklist"`
	EnabledSuites      []string                 `yaml:"enabled_suites" json:"enabled_suites" mapstructure:"enabled_suites"`
}

type SuitesConfig struct {
	Network       NetworkSuiteConfig    `yaml:"network" json:"network" mapstructure:"network"`
	TestSSL       TestSSLSuiteConfig    `yaml:"testssl" json:"testssl" mapstructure:"testssl"`
	Browser       BrowserSuiteConfig    `yaml:"browser" json:"browser" mapstructure:"browser"`
	ServerLeak    ServerLeakSuiteConfig `yaml:"serverleak" json:"serverleak" mapstructure:"serverleak"`
	WebAppVersion WebAppSuiteConfig     `yaml:"webappversion" json:"webappversion" mapstructure:"webappversion"`
}

type NetworkSuiteConfig struct {
	Nameservers   []string      `yaml:"nameservers" json:"nameservers" mapstructure:"nameservers"`
	DNSTimeout    time.Duration `yaml:"dns_timeout" json:"dns_timeout" mapstructure:"dns_timeout"`
	RetryAttempts int           `yaml:"retry_attempts" json:"retry_attempts" mapstructure:"retry_attempts"`
	GeoIPDatabase string        `yaml:"geoip_database" json:"geoip_database" mapstructure:"geoip_database"`
	HTTPTimeout   time.Duration `yaml:"http_timeout" json:"http_timeout" mapstructure:"http_timeout"`
}

type TestSSLSuiteConfig struct {
	// Binary is the testssl.sh path. When empty or missing the native probe is used.
	Binary       string        `yaml:"binary" json:"binary" mapstructure:"binary"`
	StageTimeout time.Duration `yaml:"stage_timeout" json:"stage_timeout" mapstructure:"stage_timeout"`
	PreloadList  string        `yaml:"preload_list" json:"preload_list" mapstructure:"preload_list"`
	MXPort       int           `yaml:"mx_port" json:"mx_port" mapstructure:"mx_port"`
}

type BrowserSuiteConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Headless        bool          `yaml:"headless" json:"headless" mapstructure:"headless"`
	InstallBrowsers bool          `yaml:"install_browsers" json:"install_browsers" mapstructure:"install_browsers"`
	PageTimeout     time.Duration `yaml:"page_timeout" json:"page_timeout" mapstructure:"page_timeout"`
	SettleTime      time.Duration `yaml:"settle_time" json:"settle_time" mapstructure:"settle_time"`
	TrackerList     string        `yaml:"tracker_list" json:"tracker_list" mapstructure:"tracker_list"`
}

type ServerLeakSuiteConfig struct {
	RateLimit   float64       `yaml:"rate_limit" json:"rate_limit" mapstructure:"rate_limit"`
	Concurrency int           `yaml:"concurrency" json:"concurrency" mapstructure:"concurrency"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
}

type WebAppSuiteConfig struct {
	// LatestVersions maps a generator name (lowercase) to its newest release.
	LatestVersions map[string]string `yaml:"latest_versions" json:"latest_versions" mapstructure:"latest_versions"`
	Timeout        time.Duration     `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
}

type StorageConfig struct {
	// Type is "sqlite" or "memory".
	Type          string `yaml:"type" json:"type" mapstructure:"type"`
	Path          string `yaml:"path" json:"path" mapstructure:"path"`
	BlobDir       string `yaml:"blob_dir" json:"blob_dir" mapstructure:"blob_dir"`
	MaxInlineSize int    `yaml:"max_inline_size" json:"max_inline_size" mapstructure:"max_inline_size"`
	Compression   bool   `yaml:"compression" json:"compression" mapstructure:"compression"`
}

type RedisConfig struct {
	Addr          string        `yaml:"addr" json:"addr" mapstructure:"addr"`
	Password      string        `yaml:"password" json:"password" mapstructure:"password"`
	DB            int           `yaml:"db" json:"db" mapstructure:"db"`
	QueueKey      string        `yaml:"queue_key" json:"queue_key" mapstructure:"queue_key"`
	ResultTTL     time.Duration `yaml:"result_ttl" json:"result_ttl" mapstructure:"result_ttl"`
	NotifyChannel string        `yaml:"notify_channel" json:"notify_channel" mapstructure:"notify_channel"`
}

type ReportingConfig struct {
	Formats    []string `yaml:"formats" json:"formats" mapstructure:"formats"`
	OutputDir  string   `yaml:"output_dir" json:"output_dir" mapstructure:"output_dir"`
	SigningKey string   `yaml:"signing_key" json:"signing_key" mapstructure:"signing_key"`
	Issuer     string   `yaml:"issuer" json:"issuer" mapstructure:"issuer"`
}

type APIConfig struct {
	Host    string        `yaml:"host" json:"host" mapstructure:"host"`
	Port    int           `yaml:"port" json:"port" mapstructure:"port"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
	Metrics bool          `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
}

func DefaultConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			LogLevel:  "info",
			LogFormat: "text",
			UserAgent: "Mozilla/5.0 (compatible; ScoreLynx/1.0; +https://github.com/bl4ck0w1/scorelynx)",
			DataDir:   "./data",
			TempDir:   "/tmp/scorelynx",
		},
		Scanner: ScannerConfig{
			Queue:              "local",
			Concurrency:        8,
			MaxConcurrentScans: 4,
			TaskTimeout:        10 * time.Minute,
			TaskTimeouts: map[string]time.Duration{
				"testssl_https": 30 * time.Minute,
				"testssl_mx":    30 * time.Minute,
			},
			Cooldown:      30 * time.Minute,
			AbortCeiling:  2 * time.Hour,
			SweepInterval: 5 * time.Minute,
			Blacklist:     []string{},
			EnabledSuites: []string{"network", "browser", "serverleak", "testssl_https", "testssl_mx", "webappversion"},
		},
		Suites: SuitesConfig{
			Network: NetworkSuiteConfig{
				Nameservers:   []string{"8.8.8.8:53", "1.1.1.1:53"},
				DNSTimeout:    5 * time.Second,
				RetryAttempts: 2,
				HTTPTimeout:   20 * time.Second,
			},
			TestSSL: TestSSLSuiteConfig{
				Binary:       "testssl.sh",
				StageTimeout: 10 * time.Minute,
				MXPort:       25,
			},
			Browser: BrowserSuiteConfig{
				Enabled:     true,
				Headless:    true,
				PageTimeout: 60 * time.Second,
				SettleTime:  3 * time.Second,
			},
			ServerLeak: ServerLeakSuiteConfig{
				RateLimit:   5,
				Concurrency: 4,
				Timeout:     10 * time.Second,
			},
			WebAppVersion: WebAppSuiteConfig{
				LatestVersions: map[string]string{
					"wordpress": "6.6.2",
					"joomla!":   "5.1.4",
					"drupal":    "11.0.5",
					"typo3 cms": "13.3.0",
				},
				Timeout: 20 * time.Second,
			},
		},
		Storage: StorageConfig{
			Type:          "sqlite",
			Path:          "./data/scorelynx.db",
			BlobDir:       "./data/raw",
			MaxInlineSize: 500 * 1024,
			Compression:   true,
		},
		Redis: RedisConfig{
			Addr:          "127.0.0.1:6379",
			QueueKey:      "scorelynx:tasks",
			ResultTTL:     24 * time.Hour,
			NotifyChannel: "scorelynx:scans",
		},
		Reporting: ReportingConfig{
			Formats:   []string{"text", "json"},
			OutputDir: "./reports",
			Issuer:    "scorelynx",
		},
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8080,
			Timeout: 30 * time.Second,
			Metrics: true,
		},
	}
}

func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Global.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		errs = append(errs, "global.log_level must be one of trace|debug|info|warn|error|fatal|panic")
	}
	if c.Global.DataDir == "" {
		errs = append(errs, "global.data_dir must not be empty")
	}

	switch c.Scanner.Queue {
	case "local", "redis":
	default:
		errs = append(errs, fmt.Sprintf("scanner.queue %q is not supported (local|redis)", c.Scanner.Queue))
	}
	if c.Scanner.Concurrency <= 0 {
		errs = append(errs, "scanner.concurrency must be > 0")
	}
	if c.Scanner.MaxConcurrentScans <= 0 {
		errs = append(errs, "scanner.max_concurrent_scans must be > 0")
	}
	if c.Scanner.TaskTimeout <= 0 {
		errs = append(errs, "scanner.task_timeout must be > 0")
	}
	for name, d := range c.Scanner.TaskTimeouts {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("scanner.task_timeouts.%s must be > 0", name))
		}
	}
	if c.Scanner.Cooldown < 0 {
		errs = append(errs, "scanner.cooldown must be >= 0")
	}
	if c.Scanner.AbortCeiling <= 0 {
		errs = append(errs, "scanner.abort_ceiling must be > 0")
	}
	for _, pattern := range c.Scanner.Blacklist {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Sprintf("scanner.blacklist pattern %q is invalid: %v", pattern, err))
		}
	}
	if len(c.Scanner.EnabledSuites) == 0 {
		errs = append(errs, "scanner.enabled_suites must include at least one suite")
	}

	if c.Suites.Network.DNSTimeout <= 0 {
		errs = append(errs, "suites.network.dns_timeout must be > 0")
	}
	if c.Suites.Network.RetryAttempts < 0 {
		errs = append(errs, "suites.network.retry_attempts must be >= 0")
	}
	if c.Suites.TestSSL.MXPort <= 0 || c.Suites.TestSSL.MXPort > 65535 {
		errs = append(errs, "suites.testssl.mx_port must be in 1..65535")
	}
	if c.Suites.ServerLeak.RateLimit < 0 {
		errs = append(errs, "suites.serverleak.rate_limit must be >= 0")
	}

	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, "storage.path must not be empty for sqlite storage")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("storage.type %q is not supported (sqlite|memory)", c.Storage.Type))
	}
	if c.Storage.MaxInlineSize < 0 {
		errs = append(errs, "storage.max_inline_size must be >= 0")
	}

	if c.Scanner.Queue == "redis" && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr must be set when scanner.queue is redis")
	}

	for _, f := range c.Reporting.Formats {
		switch f {
		case "text", "json", "yaml":
		default:
			errs = append(errs, fmt.Sprintf("reporting.format %q is not supported", f))
		}
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be in 1..65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) TimeoutFor(testName string) time.Duration {
	if d, ok := c.Scanner.TaskTimeouts[testName]; ok && d > 0 {
		return d
	}
	return c.Scanner.TaskTimeout
}

func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomically write config: %w", err)
	}
	return nil
}

func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
	}

	return c.Validate()
}

func (c *Config) IsSuiteEnabled(name string) bool {
	for _, s := range c.Scanner.EnabledSuites {
		if s == name {
			return true
		}
	}
	return false
}
