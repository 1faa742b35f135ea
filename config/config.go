package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	BinanceConfig        BinanceConfig        `json:"binance"`
	TradingConfig        TradingConfig        `json:"trading"`
	RiskConfig           RiskConfig           `json:"risk"`
	CircuitBreakerConfig CircuitBreakerConfig `json:"circuit_breaker"`
	RetryConfig          RetryConfig          `json:"retry"`
	StateConfig          StateConfig          `json:"state"`
	AlertConfig          AlertConfig          `json:"alerts"`
	LoggingConfig        LoggingConfig        `json:"logging"`
	ServerConfig         ServerConfig         `json:"server"`
	DatabaseConfig       DatabaseConfig       `json:"database"`
	RedisConfig          RedisConfig          `json:"redis"`
	VaultConfig          VaultConfig          `json:"vault"`
}

type BinanceConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	BaseURL   string `json:"base_url"`
	WSBaseURL string `json:"ws_base_url"`
	TestNet   bool   `json:"testnet"`
	MockMode  bool   `json:"mock_mode"` // Use simulated market data when the API is unavailable
}

type TradingConfig struct {
	Symbols             []string `json:"symbols"`
	Strategy            string   `json:"strategy"`
	SignalInterval      int      `json:"signal_interval"`       // Seconds between signal ticks per symbol
	HealthCheckInterval int      `json:"health_check_interval"` // Seconds between health checks
	DryRun              bool     `json:"dry_run"`               // Paper trading without real orders
}

// RiskConfig holds the risk gate limits. All fractional limits are expressed
// as fractions of balance (0.1 = 10%), not percentages.
type RiskConfig struct {
	MaxPositionSize float64 `json:"max_position_size"` // Fraction of balance per position
	MaxDailyTrades  int     `json:"max_daily_trades"`
	MaxDailyLoss    float64 `json:"max_daily_loss"` // Fraction of balance
	MaxDrawdown     float64 `json:"max_drawdown"`   // Fraction of peak balance
	MinConfidence   float64 `json:"min_confidence"`
	MaxVolatility   float64 `json:"max_volatility"` // ATR/price ceiling
	MinVolumeRatio  float64 `json:"min_volume_ratio"`
	MaxCorrelation  float64 `json:"max_correlation"`
}

// CircuitBreakerConfig holds per-operation circuit breaker thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int `json:"failure_threshold"`
	RecoveryTimeout  int `json:"recovery_timeout"` // Seconds the breaker stays open
	SuccessThreshold int `json:"success_threshold"`
	// Timeout is accepted for config compatibility but is not enforced
	// anywhere in the retry/breaker logic.
	Timeout int `json:"timeout"`
}

// RetryPolicyConfig overrides the retry budget for one error category.
type RetryPolicyConfig struct {
	MaxRetries int     `json:"max_retries"`
	BaseDelay  float64 `json:"base_delay"` // Seconds
}

// RetryConfig holds optional per-category retry policy overrides. A zero
// value leaves the built-in defaults in place.
type RetryConfig struct {
	Network RetryPolicyConfig `json:"network"`
	API     RetryPolicyConfig `json:"api"`
	Data    RetryPolicyConfig `json:"data"`
	Trading RetryPolicyConfig `json:"trading"`
}

type StateConfig struct {
	FilePath         string  `json:"file_path"`
	BackupDir        string  `json:"backup_dir"`
	AutoSaveInterval int     `json:"auto_save_interval"` // Seconds between throttled saves
	MaxBackups       int     `json:"max_backups"`
	InitialBalance   float64 `json:"initial_balance"`
}

type AlertConfig struct {
	Enabled         bool           `json:"enabled"`
	RateLimitWindow int            `json:"rate_limit_window"` // Seconds per {type}_{symbol} key
	HistorySize     int            `json:"history_size"`
	Telegram        TelegramConfig `json:"telegram"`
	Discord         DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`
	WriteTimeout    int    `json:"write_timeout"`
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// DatabaseConfig holds the optional postgres trade journal connection.
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds the optional Redis state mirror connection.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Binance config
	cfg.BinanceConfig.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.BinanceConfig.APIKey)
	cfg.BinanceConfig.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.BinanceConfig.SecretKey)
	cfg.BinanceConfig.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", cfg.BinanceConfig.BaseURL)
	cfg.BinanceConfig.WSBaseURL = getEnvOrDefault("BINANCE_WS_BASE_URL", cfg.BinanceConfig.WSBaseURL)
	cfg.BinanceConfig.TestNet = getEnvOrDefault("BINANCE_TESTNET", boolStr(cfg.BinanceConfig.TestNet)) == "true"
	cfg.BinanceConfig.MockMode = getEnvOrDefault("MOCK_MODE", boolStr(cfg.BinanceConfig.MockMode)) == "true"

	// Trading config
	cfg.TradingConfig.DryRun = getEnvOrDefault("TRADING_DRY_RUN", boolStr(cfg.TradingConfig.DryRun)) == "true"
	cfg.TradingConfig.SignalInterval = getEnvIntOrDefault("TRADING_SIGNAL_INTERVAL", cfg.TradingConfig.SignalInterval)
	cfg.TradingConfig.HealthCheckInterval = getEnvIntOrDefault("TRADING_HEALTH_CHECK_INTERVAL", cfg.TradingConfig.HealthCheckInterval)

	// Risk config
	cfg.RiskConfig.MaxPositionSize = getEnvFloatOrDefault("RISK_MAX_POSITION_SIZE", cfg.RiskConfig.MaxPositionSize)
	cfg.RiskConfig.MaxDailyTrades = getEnvIntOrDefault("RISK_MAX_DAILY_TRADES", cfg.RiskConfig.MaxDailyTrades)
	cfg.RiskConfig.MaxDailyLoss = getEnvFloatOrDefault("RISK_MAX_DAILY_LOSS", cfg.RiskConfig.MaxDailyLoss)
	cfg.RiskConfig.MaxDrawdown = getEnvFloatOrDefault("RISK_MAX_DRAWDOWN", cfg.RiskConfig.MaxDrawdown)
	cfg.RiskConfig.MinConfidence = getEnvFloatOrDefault("RISK_MIN_CONFIDENCE", cfg.RiskConfig.MinConfidence)
	cfg.RiskConfig.MaxVolatility = getEnvFloatOrDefault("RISK_MAX_VOLATILITY", cfg.RiskConfig.MaxVolatility)
	cfg.RiskConfig.MinVolumeRatio = getEnvFloatOrDefault("RISK_MIN_VOLUME_RATIO", cfg.RiskConfig.MinVolumeRatio)
	cfg.RiskConfig.MaxCorrelation = getEnvFloatOrDefault("RISK_MAX_CORRELATION", cfg.RiskConfig.MaxCorrelation)

	// Circuit breaker config
	cfg.CircuitBreakerConfig.FailureThreshold = getEnvIntOrDefault("CIRCUIT_FAILURE_THRESHOLD", cfg.CircuitBreakerConfig.FailureThreshold)
	cfg.CircuitBreakerConfig.RecoveryTimeout = getEnvIntOrDefault("CIRCUIT_RECOVERY_TIMEOUT", cfg.CircuitBreakerConfig.RecoveryTimeout)
	cfg.CircuitBreakerConfig.SuccessThreshold = getEnvIntOrDefault("CIRCUIT_SUCCESS_THRESHOLD", cfg.CircuitBreakerConfig.SuccessThreshold)

	// State config
	cfg.StateConfig.FilePath = getEnvOrDefault("STATE_FILE_PATH", cfg.StateConfig.FilePath)
	cfg.StateConfig.BackupDir = getEnvOrDefault("STATE_BACKUP_DIR", cfg.StateConfig.BackupDir)
	cfg.StateConfig.AutoSaveInterval = getEnvIntOrDefault("STATE_AUTO_SAVE_INTERVAL", cfg.StateConfig.AutoSaveInterval)
	cfg.StateConfig.MaxBackups = getEnvIntOrDefault("STATE_MAX_BACKUPS", cfg.StateConfig.MaxBackups)
	cfg.StateConfig.InitialBalance = getEnvFloatOrDefault("STATE_INITIAL_BALANCE", cfg.StateConfig.InitialBalance)

	// Alert config
	cfg.AlertConfig.Enabled = getEnvOrDefault("ALERTS_ENABLED", boolStr(cfg.AlertConfig.Enabled)) == "true"
	cfg.AlertConfig.RateLimitWindow = getEnvIntOrDefault("ALERT_RATE_LIMIT_WINDOW", cfg.AlertConfig.RateLimitWindow)
	cfg.AlertConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", boolStr(cfg.AlertConfig.Telegram.Enabled)) == "true"
	cfg.AlertConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.AlertConfig.Telegram.BotToken)
	cfg.AlertConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.AlertConfig.Telegram.ChatID)
	cfg.AlertConfig.Discord.Enabled = getEnvOrDefault("DISCORD_ENABLED", boolStr(cfg.AlertConfig.Discord.Enabled)) == "true"
	cfg.AlertConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.AlertConfig.Discord.WebhookURL)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolStr(cfg.LoggingConfig.JSONFormat)) == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", boolStr(cfg.LoggingConfig.IncludeFile)) == "true"

	// Server config
	cfg.ServerConfig.Enabled = getEnvOrDefault("WEB_ENABLED", boolStr(cfg.ServerConfig.Enabled)) == "true"
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DB_ENABLED", boolStr(cfg.DatabaseConfig.Enabled)) == "true"
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolStr(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolStr(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", boolStr(cfg.VaultConfig.TLSEnabled)) == "true"
}

// applyDefaults fills in zero values with safe defaults
func applyDefaults(cfg *Config) {
	if cfg.BinanceConfig.BaseURL == "" {
		cfg.BinanceConfig.BaseURL = "https://api.binance.com"
	}
	if cfg.BinanceConfig.WSBaseURL == "" {
		cfg.BinanceConfig.WSBaseURL = "wss://stream.binance.com:9443"
	}
	if len(cfg.TradingConfig.Symbols) == 0 {
		cfg.TradingConfig.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	}
	if cfg.TradingConfig.Strategy == "" {
		cfg.TradingConfig.Strategy = "momentum"
	}
	if cfg.TradingConfig.SignalInterval <= 0 {
		cfg.TradingConfig.SignalInterval = 900
	}
	if cfg.TradingConfig.HealthCheckInterval <= 0 {
		cfg.TradingConfig.HealthCheckInterval = 300
	}

	if cfg.RiskConfig.MaxPositionSize <= 0 {
		cfg.RiskConfig.MaxPositionSize = 0.1
	}
	if cfg.RiskConfig.MaxDailyTrades <= 0 {
		cfg.RiskConfig.MaxDailyTrades = 10
	}
	if cfg.RiskConfig.MaxDailyLoss <= 0 {
		cfg.RiskConfig.MaxDailyLoss = 0.05
	}
	if cfg.RiskConfig.MaxDrawdown <= 0 {
		cfg.RiskConfig.MaxDrawdown = 0.15
	}
	if cfg.RiskConfig.MinConfidence <= 0 {
		cfg.RiskConfig.MinConfidence = 0.7
	}
	if cfg.RiskConfig.MaxVolatility <= 0 {
		cfg.RiskConfig.MaxVolatility = 0.05
	}
	if cfg.RiskConfig.MinVolumeRatio <= 0 {
		cfg.RiskConfig.MinVolumeRatio = 0.5
	}
	if cfg.RiskConfig.MaxCorrelation <= 0 {
		cfg.RiskConfig.MaxCorrelation = 0.8
	}

	if cfg.CircuitBreakerConfig.FailureThreshold <= 0 {
		cfg.CircuitBreakerConfig.FailureThreshold = 5
	}
	if cfg.CircuitBreakerConfig.RecoveryTimeout <= 0 {
		cfg.CircuitBreakerConfig.RecoveryTimeout = 60
	}
	if cfg.CircuitBreakerConfig.SuccessThreshold <= 0 {
		cfg.CircuitBreakerConfig.SuccessThreshold = 3
	}

	if cfg.StateConfig.FilePath == "" {
		cfg.StateConfig.FilePath = "data/bot_state.json"
	}
	if cfg.StateConfig.BackupDir == "" {
		cfg.StateConfig.BackupDir = "data/backups"
	}
	if cfg.StateConfig.AutoSaveInterval <= 0 {
		cfg.StateConfig.AutoSaveInterval = 30
	}
	if cfg.StateConfig.MaxBackups <= 0 {
		cfg.StateConfig.MaxBackups = 10
	}
	if cfg.StateConfig.InitialBalance <= 0 {
		cfg.StateConfig.InitialBalance = 10000
	}

	if cfg.AlertConfig.RateLimitWindow <= 0 {
		cfg.AlertConfig.RateLimitWindow = 60
	}
	if cfg.AlertConfig.HistorySize <= 0 {
		cfg.AlertConfig.HistorySize = 1000
	}

	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "INFO"
	}
	if cfg.LoggingConfig.Output == "" {
		cfg.LoggingConfig.Output = "stdout"
	}

	if cfg.ServerConfig.Port <= 0 {
		cfg.ServerConfig.Port = 8088
	}
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}
	if cfg.ServerConfig.ReadTimeout <= 0 {
		cfg.ServerConfig.ReadTimeout = 30
	}
	if cfg.ServerConfig.WriteTimeout <= 0 {
		cfg.ServerConfig.WriteTimeout = 30
	}
	if cfg.ServerConfig.ShutdownTimeout <= 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}

	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}
	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}
	if cfg.RedisConfig.PoolSize <= 0 {
		cfg.RedisConfig.PoolSize = 10
	}
	if cfg.VaultConfig.Address == "" {
		cfg.VaultConfig.Address = "http://localhost:8200"
	}
	if cfg.VaultConfig.MountPath == "" {
		cfg.VaultConfig.MountPath = "secret"
	}
	if cfg.VaultConfig.SecretPath == "" {
		cfg.VaultConfig.SecretPath = "trading-bot/api-keys"
	}
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// AutoSaveDuration returns the auto-save interval as a duration.
func (c *StateConfig) AutoSaveDuration() time.Duration {
	return time.Duration(c.AutoSaveInterval) * time.Second
}

// RecoveryDuration returns the breaker recovery timeout as a duration.
func (c *CircuitBreakerConfig) RecoveryDuration() time.Duration {
	return time.Duration(c.RecoveryTimeout) * time.Second
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		BinanceConfig: BinanceConfig{
			APIKey:    "your_api_key_here",
			SecretKey: "your_secret_key_here",
			BaseURL:   "https://api.binance.com",
			WSBaseURL: "wss://stream.binance.com:9443",
			TestNet:   true,
			MockMode:  true,
		},
		TradingConfig: TradingConfig{
			Symbols:             []string{"BTCUSDT", "ETHUSDT"},
			Strategy:            "momentum",
			SignalInterval:      900,
			HealthCheckInterval: 300,
			DryRun:              true,
		},
		RiskConfig: RiskConfig{
			MaxPositionSize: 0.1,
			MaxDailyTrades:  10,
			MaxDailyLoss:    0.05,
			MaxDrawdown:     0.15,
			MinConfidence:   0.7,
			MaxVolatility:   0.05,
			MinVolumeRatio:  0.5,
			MaxCorrelation:  0.8,
		},
		CircuitBreakerConfig: CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60,
			SuccessThreshold: 3,
		},
		StateConfig: StateConfig{
			FilePath:         "data/bot_state.json",
			BackupDir:        "data/backups",
			AutoSaveInterval: 30,
			MaxBackups:       10,
			InitialBalance:   10000,
		},
		AlertConfig: AlertConfig{
			Enabled:         false,
			RateLimitWindow: 60,
			HistorySize:     1000,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		ServerConfig: ServerConfig{
			Enabled: true,
			Port:    8088,
			Host:    "0.0.0.0",
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
