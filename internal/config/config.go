package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	PriceFeed PriceFeedConfig `mapstructure:"price_feed"`
	Trade     TradeConfig     `mapstructure:"trade"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
	Port     int    `mapstructure:"port"`
}

type DaemonConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	FeedPath       string        `mapstructure:"feed_path"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	// ReconnectRate caps feed reconnect attempts per second, 0 means unlimited.
	ReconnectRate float64 `mapstructure:"reconnect_rate"`
}

type PriceFeedConfig struct {
	URL            string        `mapstructure:"url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
}

type TradeConfig struct {
	DefaultLeverage int  `mapstructure:"default_leverage"`
	VerifyMargin    bool `mapstructure:"verify_margin"`
}

type LoggingConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.port", 9090)

	v.SetDefault("daemon.base_url", "http://localhost:8000")
	v.SetDefault("daemon.feed_path", "/api/feed")
	v.SetDefault("daemon.username", "")
	v.SetDefault("daemon.password", "")
	v.SetDefault("daemon.timeout", 30*time.Second)
	v.SetDefault("daemon.reconnect_delay", time.Second)
	v.SetDefault("daemon.reconnect_rate", 0)

	v.SetDefault("price_feed.url", "wss://www.bitmex.com/realtime?subscribe=instrument:.BXBT")
	v.SetDefault("price_feed.reconnect_delay", time.Second)
	v.SetDefault("price_feed.ping_interval", 30*time.Second)

	v.SetDefault("trade.default_leverage", 2)
	v.SetDefault("trade.verify_margin", false)

	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
}

// LoadConfig reads config.yaml from path. A missing file is not an error,
// the defaults and environment still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Daemon.BaseURL == "" {
		return errors.New("daemon.base_url must be set")
	}
	if c.PriceFeed.URL == "" {
		return errors.New("price_feed.url must be set")
	}
	if c.Trade.DefaultLeverage <= 0 {
		return fmt.Errorf("trade.default_leverage must be positive, got %d", c.Trade.DefaultLeverage)
	}
	return nil
}

// FeedURL is the daemon's server-sent event endpoint.
func (c DaemonConfig) FeedURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.FeedPath
}
