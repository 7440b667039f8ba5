package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the market data collector.
// It is loaded once at process start and passed to constructors explicitly.
type Config struct {
	// Provider
	EODHDAPIToken   string        `mapstructure:"eodhd_api_token"`
	EODHDBaseURL    string        `mapstructure:"eodhd_base_url"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	FundamentalsRPS float64       `mapstructure:"fundamentals_rps"`

	// Store
	MongoURI     string        `mapstructure:"mongo_uri"`
	MongoHost    string        `mapstructure:"mongo_host"`
	MarketDB     string        `mapstructure:"market_db"`
	CalendarDB   string        `mapstructure:"calendar_db"`
	MacroDB      string        `mapstructure:"macro_db"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// Items to collect
	Exchange        string   `mapstructure:"exchange"`
	Symbols         []string `mapstructure:"symbols"`
	Indices         []string `mapstructure:"indices"`
	Countries       []string `mapstructure:"countries"`
	MacroIndicators []string `mapstructure:"macro_indicators"`
	NewsLimit       int      `mapstructure:"news_limit"`
}

// Load reads configuration from a .env file, environment variables and an
// optional config file. Environment variables take precedence over the
// config file; variables already set in the environment win over .env.
//
// Expected environment variables:
//   - EODHD_API_TOKEN
//   - MONGO_URI, or MONGO_HOST for mongodb://HOST:27017/ (not needed for dry runs)
//   - EODHD_BASE_URL (optional, defaults to production)
//   - MAX_RETRIES, RETRY_BASE_DELAY, REQUEST_TIMEOUT (optional)
//   - RATE_LIMIT_RPS, FUNDAMENTALS_RPS (optional)
//   - LOG_LEVEL, LOG_FORMAT, LOG_FILE (optional)
//   - SYMBOLS, INDICES, COUNTRIES, MACRO_INDICATORS as comma separated lists (optional)
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()

	v.SetDefault("eodhd_base_url", "https://eodhd.com")
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_base_delay", "1s")
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("rate_limit_rps", 10)
	v.SetDefault("fundamentals_rps", 1)
	v.SetDefault("market_db", "eodhd")
	v.SetDefault("calendar_db", "eodhd_calendar")
	v.SetDefault("macro_db", "eodhd_macro")
	v.SetDefault("store_timeout", "10s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("news_limit", 50)

	// Optionally read from config file if it exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.marketcollector")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for _, key := range []string{
		"eodhd_api_token", "eodhd_base_url", "max_retries", "retry_base_delay",
		"request_timeout", "rate_limit_rps", "fundamentals_rps",
		"mongo_uri", "mongo_host", "market_db", "calendar_db", "macro_db", "store_timeout",
		"log_level", "log_format", "log_file",
		"exchange", "symbols", "indices", "countries", "macro_indicators", "news_limit",
	} {
		v.BindEnv(key, strings.ToUpper(key))
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.MongoURI == "" && config.MongoHost != "" {
		config.MongoURI = fmt.Sprintf("mongodb://%s:27017/", config.MongoHost)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks required fields and ranges. The store location is checked
// separately by ValidateStore since dry runs never connect.
func (c *Config) Validate() error {
	if c.EODHDAPIToken == "" {
		return fmt.Errorf("missing required configuration: EODHD_API_TOKEN")
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.RetryBaseDelay < 0 {
		return fmt.Errorf("RETRY_BASE_DELAY must not be negative, got %s", c.RetryBaseDelay)
	}
	return nil
}

// ValidateStore checks that a MongoDB location is configured
func (c *Config) ValidateStore() error {
	if c.MongoURI == "" {
		return fmt.Errorf("missing required configuration: MONGO_URI or MONGO_HOST")
	}
	return nil
}
