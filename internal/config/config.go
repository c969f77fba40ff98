package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/questforge/questforge/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Chain         ChainConfig        `mapstructure:"chain"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Verification  VerificationConfig `mapstructure:"verification"`
	Missions      MissionsConfig     `mapstructure:"missions"`
	Rewards       RewardsConfig      `mapstructure:"rewards"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ChainConfig contains chain RPC connection configuration
type ChainConfig struct {
	NodeURL        string        `mapstructure:"node_url"`
	NetworkID      int           `mapstructure:"network_id"`
	BackupNodes    []string      `mapstructure:"backup_nodes"`
	BlockTime      time.Duration `mapstructure:"block_time"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// VerificationConfig contains the polling protocol and scan-window
// constants. The source of truth for these lives here rather than being
// scattered as literals through the scanning code.
type VerificationConfig struct {
	LookbackWindow  time.Duration `mapstructure:"lookback_window"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"`
	LateBackoff     time.Duration `mapstructure:"late_backoff"`
	BackoffSwitch   int           `mapstructure:"backoff_switch"` // attempt after which LateBackoff applies
	ScanChunkSize   uint64        `mapstructure:"scan_chunk_size"`
	ScanConcurrency int           `mapstructure:"scan_concurrency"`
	ScanRateLimit   float64       `mapstructure:"scan_rate_limit"` // block fetches per second
}

// MissionsConfig carries the daily mission templates
type MissionsConfig struct {
	Templates []models.MissionTemplate `mapstructure:"templates"`
}

// RewardsConfig contains the cube ledger configuration
type RewardsConfig struct {
	DailyCubeLimit int `mapstructure:"daily_cube_limit"`
}

// NotificationConfig contains session outcome delivery configuration
type NotificationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	BufferSize     int           `mapstructure:"buffer_size"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./internal/config")
	}

	viper.SetEnvPrefix("QUESTFORGE")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if nodeURL := os.Getenv("CHAIN_NODE_URL"); nodeURL != "" {
		config.Chain.NodeURL = nodeURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	if len(config.Missions.Templates) == 0 {
		config.Missions.Templates = DefaultMissionTemplates()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks configuration invariants that would otherwise surface
// as confusing runtime behavior.
func (c *Config) Validate() error {
	if c.Verification.MaxAttempts <= 0 {
		return fmt.Errorf("verification.max_attempts must be positive")
	}
	if c.Verification.LookbackWindow <= 0 {
		return fmt.Errorf("verification.lookback_window must be positive")
	}
	if c.Chain.BlockTime <= 0 {
		return fmt.Errorf("chain.block_time must be positive")
	}
	if c.Verification.ScanConcurrency <= 0 || c.Verification.ScanChunkSize == 0 {
		return fmt.Errorf("verification scan parameters must be positive")
	}
	if c.Rewards.DailyCubeLimit <= 0 {
		return fmt.Errorf("rewards.daily_cube_limit must be positive")
	}
	for _, tpl := range c.Missions.Templates {
		if tpl.Type == "" || tpl.Target <= 0 {
			return fmt.Errorf("mission template %q must have a type and a positive target", tpl.Title)
		}
	}
	return nil
}

// DefaultMissionTemplates returns the four fixed daily missions
func DefaultMissionTemplates() []models.MissionTemplate {
	return []models.MissionTemplate{
		{Type: models.MissionTypeCheckin, Title: "Daily Check-in", Description: "Connect and open the application", Target: 1},
		{Type: models.MissionTypeDiscovery, Title: "Discovery Arcade", Description: "Open the Discovery Arcade", Target: 1},
		{Type: models.MissionTypeCubeActivator, Title: "Cube Activator", Description: "Complete 3 verified dApp interactions", Target: 3},
		{Type: models.MissionTypeCubeMaster, Title: "Cube Master", Description: "Complete all daily missions", Target: 1},
	}
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "questforge")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Chain defaults (Monad testnet block time is ~1 second)
	viper.SetDefault("chain.node_url", "https://testnet-rpc.monad.xyz")
	viper.SetDefault("chain.network_id", 10143)
	viper.SetDefault("chain.block_time", "1s")
	viper.SetDefault("chain.request_timeout", "30s")
	viper.SetDefault("chain.retry_attempts", 3)
	viper.SetDefault("chain.retry_delay", "5s")

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/questforge.db")
	viper.SetDefault("storage.max_connections", 25)
	viper.SetDefault("storage.max_idle_time", "15m")

	// Verification defaults
	viper.SetDefault("verification.lookback_window", "2h")
	viper.SetDefault("verification.max_attempts", 12)
	viper.SetDefault("verification.initial_backoff", "5s")
	viper.SetDefault("verification.late_backoff", "8s")
	viper.SetDefault("verification.backoff_switch", 4)
	viper.SetDefault("verification.scan_chunk_size", 25)
	viper.SetDefault("verification.scan_concurrency", 5)
	viper.SetDefault("verification.scan_rate_limit", 20.0)

	// Rewards defaults
	viper.SetDefault("rewards.daily_cube_limit", 25)

	// Notification defaults
	viper.SetDefault("notifications.enabled", true)
	viper.SetDefault("notifications.webhook_timeout", "10s")
	viper.SetDefault("notifications.retry_attempts", 3)
	viper.SetDefault("notifications.retry_delay", "2s")
	viper.SetDefault("notifications.buffer_size", 64)

	// Server defaults
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.file", "")
}
