// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// GatewayConfig describes the socket to the trading gateway.
type GatewayConfig struct {
	Addr                 string        `yaml:"addr"`
	DialTimeout          time.Duration `yaml:"dialTimeout"`
	WriteTimeout         time.Duration `yaml:"writeTimeout"`
	RequestTimeout       time.Duration `yaml:"requestTimeout"`
	StartTimeout         time.Duration `yaml:"startTimeout"`
	HeartbeatTimeout     time.Duration `yaml:"heartbeatTimeout"`
	ReconnectInterval    time.Duration `yaml:"reconnectInterval"`
	MaxReconnectInterval time.Duration `yaml:"maxReconnectInterval"`
	ReadLimitBytes       int           `yaml:"readLimitBytes"`
	SendRate             float64       `yaml:"sendRate"`
	SendBurst            int           `yaml:"sendBurst"`
}

func (c *GatewayConfig) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 10 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 60 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 500 * time.Millisecond
	}
	if c.MaxReconnectInterval <= 0 {
		c.MaxReconnectInterval = 30 * time.Second
	}
	if c.ReadLimitBytes <= 0 {
		c.ReadLimitBytes = 4 * 1024 * 1024
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 1
	}
}

func (c GatewayConfig) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr required")
	}
	if c.HeartbeatTimeout < 0 {
		return fmt.Errorf("heartbeatTimeout must be >=0")
	}
	if c.MaxReconnectInterval < c.ReconnectInterval {
		return fmt.Errorf("maxReconnectInterval must be >= reconnectInterval")
	}
	if c.SendRate < 0 {
		return fmt.Errorf("sendRate must be >=0")
	}
	return nil
}

// TradeConfig configures the trade client.
type TradeConfig struct {
	Cookie           string        `yaml:"cookie"`
	Region           string        `yaml:"region"`
	TerminalStatuses []int         `yaml:"terminalStatuses"`
	OrderThrottle    float64       `yaml:"orderThrottle"`
	OrderBurst       int           `yaml:"orderBurst"`
	StateRetries     int           `yaml:"stateRetries"`
	StateInterval    time.Duration `yaml:"stateInterval"`
	JournalQueue     int           `yaml:"journalQueue"`
}

// DefaultTerminalStatuses are filled, failed, cancelled and deleted.
var DefaultTerminalStatuses = []int{3, 5, 6, 7}

func (c *TradeConfig) applyDefaults() {
	if c.Region == "" {
		c.Region = "cn"
	}
	if len(c.TerminalStatuses) == 0 {
		c.TerminalStatuses = append([]int(nil), DefaultTerminalStatuses...)
	}
	if c.OrderBurst <= 0 {
		c.OrderBurst = 1
	}
	if c.StateRetries <= 0 {
		c.StateRetries = 10
	}
	if c.StateInterval <= 0 {
		c.StateInterval = 500 * time.Millisecond
	}
	if c.JournalQueue <= 0 {
		c.JournalQueue = 256
	}
}

func (c TradeConfig) validate() error {
	if c.Cookie == "" {
		return fmt.Errorf("cookie required")
	}
	if c.Region != "cn" {
		return fmt.Errorf("region %q not supported", c.Region)
	}
	for _, status := range c.TerminalStatuses {
		if status < 0 {
			return fmt.Errorf("terminalStatuses must be >=0, got %d", status)
		}
	}
	if c.OrderThrottle < 0 {
		return fmt.Errorf("orderThrottle must be >=0")
	}
	return nil
}

// UnlockConfig controls trading unlock. The secrets are normally supplied by
// environment; when present the daemon unlocks right after connecting.
type UnlockConfig struct {
	Attempts    int           `yaml:"attempts"`
	Delay       time.Duration `yaml:"delay"`
	Password    string        `yaml:"password"`
	PasswordMD5 string        `yaml:"passwordMD5"`
}

func (c *UnlockConfig) applyDefaults() {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Delay <= 0 {
		c.Delay = time.Second
	}
}

// HasSecret reports whether an unlock secret was configured.
func (c UnlockConfig) HasSecret() bool {
	return c.Password != "" || c.PasswordMD5 != ""
}

// APIServerConfig configures the HTTP control surface. An empty address disables it.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Prefix string `yaml:"prefix"`
	Debug  bool   `yaml:"debug"`
}

// DatabaseConfig controls the PostgreSQL journal.
type DatabaseConfig struct {
	Enabled           bool          `yaml:"enabled"`
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/cntrade"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 8
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	return nil
}

// RedisConfig controls the push event publisher.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
	Channel  string `yaml:"channel"`
}

func (c *RedisConfig) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.Channel == "" {
		c.Channel = "cntrade:push"
	}
}

func (c RedisConfig) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr required")
	}
	if c.DB < 0 {
		return fmt.Errorf("db must be >=0")
	}
	return nil
}

// AppConfig is the unified cntrade configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Gateway     GatewayConfig   `yaml:"gateway"`
	Trade       TradeConfig     `yaml:"trade"`
	Unlock      UnlockConfig    `yaml:"unlock"`
	APIServer   APIServerConfig `yaml:"apiServer"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Log         LogConfig       `yaml:"log"`
	Database    DatabaseConfig  `yaml:"database"`
	Redis       RedisConfig     `yaml:"redis"`
}

// DefaultAppConfig returns a configuration with every default applied and no
// gateway address or cookie.
func DefaultAppConfig() AppConfig {
	cfg := AppConfig{Environment: EnvDev}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates an AppConfig from the provided YAML file. Values
// from the environment, including any .env files given, override the file.
func Load(ctx context.Context, configPath string, envFiles ...string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return AppConfig{}, err
	}
	cfg.applyEnvOverrides()
	cfg.normalise()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// loadEnvFiles populates the process environment from dotenv files without
// overriding variables that are already set. Missing files are skipped.
func loadEnvFiles(files []string) error {
	for _, file := range files {
		path := strings.TrimSpace(file)
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stat env file %s: %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	return nil
}

func (c *AppConfig) applyEnvOverrides() {
	env := string(c.Environment)
	setStr(&env, EnvVarEnvironment)
	c.Environment = Environment(env)

	setStr(&c.Gateway.Addr, EnvVarGatewayAddr)
	setDuration(&c.Gateway.HeartbeatTimeout, EnvVarHeartbeatTimeout)
	setStr(&c.Trade.Cookie, EnvVarTradeCookie)
	setStr(&c.Unlock.Password, EnvVarTradePassword)
	setStr(&c.Unlock.PasswordMD5, EnvVarTradePasswordMD5)
	setStr(&c.APIServer.Addr, EnvVarAPIAddr)
	setStr(&c.Database.DSN, EnvVarDatabaseDSN)
	setBool(&c.Database.Enabled, EnvVarDatabaseEnabled)
	setStr(&c.Redis.Addr, EnvVarRedisAddr)
	setStr(&c.Redis.Password, EnvVarRedisPassword)
	setBool(&c.Redis.Enabled, EnvVarRedisEnabled)
	setStr(&c.Telemetry.OTLPEndpoint, EnvVarOTLPEndpoint)
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	c.Gateway.Addr = strings.TrimSpace(c.Gateway.Addr)
	c.Trade.Cookie = strings.TrimSpace(c.Trade.Cookie)
	c.Trade.Region = strings.ToLower(strings.TrimSpace(c.Trade.Region))
	c.APIServer.Addr = strings.TrimSpace(c.APIServer.Addr)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	c.Redis.Channel = strings.TrimSpace(c.Redis.Channel)

	if len(c.Trade.TerminalStatuses) > 0 {
		seen := make(map[int]struct{}, len(c.Trade.TerminalStatuses))
		unique := make([]int, 0, len(c.Trade.TerminalStatuses))
		for _, status := range c.Trade.TerminalStatuses {
			if _, ok := seen[status]; ok {
				continue
			}
			seen[status] = struct{}{}
			unique = append(unique, status)
		}
		c.Trade.TerminalStatuses = unique
	}
}

func (c *AppConfig) applyDefaults() {
	if c.Environment == "" {
		c.Environment = EnvDev
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "cntrade"
	}
	if c.Log.Prefix == "" {
		c.Log.Prefix = "cntrade "
	}
	c.Gateway.applyDefaults()
	c.Trade.applyDefaults()
	c.Unlock.applyDefaults()
	c.Database.applyDefaults()
	c.Redis.applyDefaults()
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}
	if err := c.Gateway.validate(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if err := c.Trade.validate(); err != nil {
		return fmt.Errorf("trade: %w", err)
	}
	if c.Unlock.Attempts <= 0 {
		return fmt.Errorf("unlock: attempts must be >0")
	}
	if c.Unlock.Delay < 0 {
		return fmt.Errorf("unlock: delay must be >=0")
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	if c.Database.Enabled {
		if err := c.Database.validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if c.Redis.Enabled {
		if err := c.Redis.validate(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
