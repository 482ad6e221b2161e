package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Gmail      GmailConfig      `mapstructure:"gmail"`
	Security   SecurityConfig   `mapstructure:"security"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	App        AppConfig        `mapstructure:"app"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CronSecret   string        `mapstructure:"cron_secret"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	DSN      string `mapstructure:"dsn"`
}

// GmailConfig holds the OAuth client used for every connected mailbox
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// SecurityConfig holds the key used to encrypt stored OAuth tokens
type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
}

// SyncConfig bounds a single mailbox sync cycle
type SyncConfig struct {
	MaxMessages     int           `mapstructure:"max_messages"`
	FetchDelay      time.Duration `mapstructure:"fetch_delay"`
	RetryBatchSize  int           `mapstructure:"retry_batch_size"`
	InitialLookback time.Duration `mapstructure:"initial_lookback"`
}

// ClassifierConfig selects and tunes the reply classifier
type ClassifierConfig struct {
	Provider            string        `mapstructure:"provider"`
	ConfidenceThreshold int           `mapstructure:"confidence_threshold"`
	MaxBodyChars        int           `mapstructure:"max_body_chars"`
	Timeout             time.Duration `mapstructure:"timeout"`
	GeminiAPIKey        string        `mapstructure:"gemini_api_key"`
	GeminiModel         string        `mapstructure:"gemini_model"`
	GeminiBaseURL       string        `mapstructure:"gemini_base_url"`
	OllamaURL           string        `mapstructure:"ollama_url"`
	OllamaModel         string        `mapstructure:"ollama_model"`
}

// AppConfig holds settings used when composing outbound mail
type AppConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	UnsubscribeLabel string `mapstructure:"unsubscribe_label"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig loads configuration from a .env file, environment variables and config file
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		logrus.Debug("Loaded environment from .env")
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "120s")

	viper.SetDefault("database.driver", "mysql")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("gmail.redirect_url", "http://localhost:8080/callback")

	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.interval_minutes", 5)

	viper.SetDefault("sync.max_messages", 100)
	viper.SetDefault("sync.fetch_delay", "50ms")
	viper.SetDefault("sync.retry_batch_size", 25)
	viper.SetDefault("sync.initial_lookback", "24h")

	viper.SetDefault("classifier.provider", "auto")
	viper.SetDefault("classifier.confidence_threshold", 70)
	viper.SetDefault("classifier.max_body_chars", 2000)
	viper.SetDefault("classifier.timeout", "30s")
	viper.SetDefault("classifier.gemini_model", "gemini-2.0-flash")
	viper.SetDefault("classifier.gemini_base_url", "https://generativelanguage.googleapis.com")
	viper.SetDefault("classifier.ollama_url", "http://localhost:11434")
	viper.SetDefault("classifier.ollama_model", "llama3.1")

	viper.SetDefault("app.base_url", "http://localhost:3000")
	viper.SetDefault("app.unsubscribe_label", "Unsubscribe")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
}

func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.cron_secret", "CRON_SECRET")

	// Database
	viper.BindEnv("database.driver", "DB_DRIVER")
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")
	viper.BindEnv("database.sslmode", "DB_SSLMODE")
	viper.BindEnv("database.dsn", "DATABASE_URL")

	// Gmail
	viper.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")
	viper.BindEnv("gmail.redirect_url", "GMAIL_REDIRECT_URL")

	viper.BindEnv("security.encryption_key", "ENCRYPTION_KEY")

	// Scheduler and sync
	viper.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	viper.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")
	viper.BindEnv("sync.max_messages", "SYNC_MAX_MESSAGES")
	viper.BindEnv("sync.fetch_delay", "SYNC_FETCH_DELAY")
	viper.BindEnv("sync.retry_batch_size", "SYNC_RETRY_BATCH_SIZE")
	viper.BindEnv("sync.initial_lookback", "SYNC_INITIAL_LOOKBACK")

	// Classifier
	viper.BindEnv("classifier.provider", "CLASSIFIER_PROVIDER")
	viper.BindEnv("classifier.confidence_threshold", "CLASSIFIER_CONFIDENCE_THRESHOLD")
	viper.BindEnv("classifier.max_body_chars", "CLASSIFIER_MAX_BODY_CHARS")
	viper.BindEnv("classifier.timeout", "CLASSIFIER_TIMEOUT")
	viper.BindEnv("classifier.gemini_api_key", "GEMINI_API_KEY")
	viper.BindEnv("classifier.gemini_model", "GEMINI_MODEL")
	viper.BindEnv("classifier.gemini_base_url", "GEMINI_BASE_URL")
	viper.BindEnv("classifier.ollama_url", "OLLAMA_URL")
	viper.BindEnv("classifier.ollama_model", "OLLAMA_MODEL")

	viper.BindEnv("app.base_url", "APP_URL")
	viper.BindEnv("app.unsubscribe_label", "UNSUBSCRIBE_LABEL")

	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("log.format", "LOG_FORMAT")
}

// GetDSN returns the connection string for the configured driver
func (c *DatabaseConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}

	switch strings.ToLower(c.Driver) {
	case "postgres":
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
			c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
	case "sqlite":
		return c.DBName
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch strings.ToLower(c.Database.Driver) {
	case "mysql", "postgres":
		if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "") {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	case "sqlite":
		if c.Database.DSN == "" && c.Database.DBName == "" {
			return fmt.Errorf("sqlite database requires dbname or dsn")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" {
		return fmt.Errorf("Gmail OAuth2 client credentials are required")
	}

	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	if c.Sync.MaxMessages <= 0 || c.Sync.RetryBatchSize < 0 {
		return fmt.Errorf("sync limits must be positive")
	}

	switch strings.ToLower(c.Classifier.Provider) {
	case "none", "ollama":
	case "gemini", "auto":
		if c.Classifier.GeminiAPIKey == "" && strings.ToLower(c.Classifier.Provider) == "gemini" {
			return fmt.Errorf("gemini api key is required for the gemini classifier")
		}
	default:
		return fmt.Errorf("unsupported classifier provider %q", c.Classifier.Provider)
	}

	if c.Classifier.ConfidenceThreshold < 0 || c.Classifier.ConfidenceThreshold > 100 {
		return fmt.Errorf("classifier confidence threshold must be between 0 and 100")
	}

	return nil
}
