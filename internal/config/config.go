package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxDimension = 2048
	DefaultJPEGQuality  = 85
	DefaultAPIBaseURL   = "https://api.inaturalist.org/v1"

	LedgerBackendJSON   = "json"
	LedgerBackendSQLite = "sqlite"

	configFileName  = "config.yaml"
	historyJSONName = "history.json"
	historyDBName   = "history.db"
	tokenFileName   = "token.json"
)

// DefaultScanTargets are the longer-side sizes tried, largest first, when the
// original image yields no identifier.
var DefaultScanTargets = []int{2048, 1500, 1024, 800}

type Config struct {
	AppDir        string `yaml:"-"`
	HistoryPath   string `yaml:"history_path,omitempty"`
	TokenPath     string `yaml:"-"`
	LedgerBackend string `yaml:"ledger_backend"`

	ScanTargets  []int  `yaml:"scan_targets"`
	Workers      int    `yaml:"workers"`
	MaxDimension int    `yaml:"default_max_dimension"`
	JPEGQuality  int    `yaml:"default_jpeg_quality"`
	ClientID     string `yaml:"client_id"`
	APIBaseURL   string `yaml:"api_base_url"`

	Host               string        `yaml:"host"`
	Port               string        `yaml:"port"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	MaxRequestBodySize int64         `yaml:"max_request_body_size"`
	AllowedSourceHosts []string      `yaml:"allowed_source_hosts,omitempty"`
	AllowLocalPaths    bool          `yaml:"allow_local_paths"`

	AzureAccountName string `yaml:"azure_account_name,omitempty"`
	AzureAccountKey  string `yaml:"-"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration rooted at appDir.
func Default(appDir string) *Config {
	return &Config{
		AppDir:             appDir,
		LedgerBackend:      LedgerBackendJSON,
		ScanTargets:        append([]int(nil), DefaultScanTargets...),
		Workers:            0,
		MaxDimension:       DefaultMaxDimension,
		JPEGQuality:        DefaultJPEGQuality,
		APIBaseURL:         DefaultAPIBaseURL,
		Host:               "127.0.0.1",
		Port:               "8080",
		RequestTimeout:     60 * time.Second,
		FetchTimeout:       15 * time.Second,
		MaxRequestBodySize: 32 * 1024 * 1024, // 32MB
		LogLevel:           "info",
	}
}

// DefaultAppDir is ~/.vouchersnap unless VOUCHERSNAP_HOME says otherwise.
func DefaultAppDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("VOUCHERSNAP_HOME")); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".vouchersnap"), nil
}

// Load resolves configuration from defaults, the YAML file in appDir and the
// environment, in that order. An empty appDir means DefaultAppDir.
func Load(appDir string) (*Config, error) {
	if appDir == "" {
		dir, err := DefaultAppDir()
		if err != nil {
			return nil, err
		}
		appDir = dir
	}
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		return nil, fmt.Errorf("create app dir %s: %w", appDir, err)
	}

	cfg := Default(appDir)
	if err := cfg.mergeFile(cfg.FilePath()); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if cfg.HistoryPath == "" {
		cfg.HistoryPath = cfg.defaultHistoryPath()
	}
	cfg.TokenPath = filepath.Join(appDir, tokenFileName)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FilePath is where Save writes and Load reads the YAML file.
func (c *Config) FilePath() string {
	return filepath.Join(c.AppDir, configFileName)
}

func (c *Config) defaultHistoryPath() string {
	if c.LedgerBackend == LedgerBackendSQLite {
		return filepath.Join(c.AppDir, historyDBName)
	}
	return filepath.Join(c.AppDir, historyJSONName)
}

// SetLedgerBackend switches the history backend. A HistoryPath still pointing
// at the old backend's default file follows the switch.
func (c *Config) SetLedgerBackend(backend string) {
	if c.HistoryPath == c.defaultHistoryPath() {
		c.HistoryPath = ""
	}
	c.LedgerBackend = backend
	if c.HistoryPath == "" {
		c.HistoryPath = c.defaultHistoryPath()
	}
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HistoryPath = getEnvOrDefault("HISTORY_PATH", c.HistoryPath)
	c.LedgerBackend = getEnvOrDefault("LEDGER_BACKEND", c.LedgerBackend)
	c.ScanTargets = parseIntListOrDefault("SCAN_TARGETS", c.ScanTargets)
	c.Workers = int(parseIntOrDefault("SCAN_WORKERS", int64(c.Workers)))
	c.MaxDimension = int(parseIntOrDefault("MAX_DIMENSION", int64(c.MaxDimension)))
	c.JPEGQuality = int(parseIntOrDefault("JPEG_QUALITY", int64(c.JPEGQuality)))
	c.ClientID = getEnvOrDefault("INAT_CLIENT_ID", c.ClientID)
	c.APIBaseURL = getEnvOrDefault("INAT_API_URL", c.APIBaseURL)
	c.Host = getEnvOrDefault("HOST", c.Host)
	c.Port = getEnvOrDefault("PORT", c.Port)
	c.RequestTimeout = parseDurationOrDefault("REQUEST_TIMEOUT", c.RequestTimeout)
	c.FetchTimeout = parseDurationOrDefault("FETCH_TIMEOUT", c.FetchTimeout)
	c.MaxRequestBodySize = parseIntOrDefault("MAX_REQUEST_BODY_SIZE", c.MaxRequestBodySize)
	if hosts := os.Getenv("ALLOWED_SOURCE_HOSTS"); hosts != "" {
		c.AllowedSourceHosts = splitList(hosts)
	}
	c.AllowLocalPaths = parseBoolOrDefault("ALLOW_LOCAL_PATHS", c.AllowLocalPaths)
	c.AzureAccountName = getEnvOrDefault("AZURE_STORAGE_ACCOUNT", c.AzureAccountName)
	c.AzureAccountKey = getEnvOrDefault("AZURE_STORAGE_KEY", c.AzureAccountKey)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.RequestTimeout <= 0 || c.FetchTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, fetch=%s)", c.RequestTimeout, c.FetchTimeout)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be within 1..100 (got %d)", c.JPEGQuality)
	}
	if c.MaxDimension <= 0 {
		return fmt.Errorf("MAX_DIMENSION must be > 0 (got %d)", c.MaxDimension)
	}
	if c.Workers < 0 {
		return fmt.Errorf("SCAN_WORKERS must be >= 0 (got %d)", c.Workers)
	}
	for _, t := range c.ScanTargets {
		if t <= 0 {
			return fmt.Errorf("SCAN_TARGETS must be positive (got %d)", t)
		}
	}
	switch c.LedgerBackend {
	case LedgerBackendJSON, LedgerBackendSQLite:
	default:
		return fmt.Errorf("invalid LEDGER_BACKEND: %q", c.LedgerBackend)
	}
	return nil
}

// ScanWorkers resolves the zero value to the CPU count.
func (c *Config) ScanWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// Save writes the persistable settings to FilePath.
func (c *Config) Save() error {
	out := *c
	if out.HistoryPath == c.defaultHistoryPath() {
		out.HistoryPath = ""
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(c.AppDir, 0o755); err != nil {
		return fmt.Errorf("create app dir %s: %w", c.AppDir, err)
	}
	if err := os.WriteFile(c.FilePath(), data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseIntListOrDefault(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []int
	for _, part := range splitList(value) {
		n, err := strconv.Atoi(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, n)
	}
	return out
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
