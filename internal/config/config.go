// Package config defines the process configuration: one or more traded
// instruments plus the adapter and ambient settings around them. Loaded
// from a YAML file with environment-variable overrides for secrets.
// Grounded on 0xtitan6-polymarket-mm's internal/config/config.go (viper
// wiring, mapstructure tags, env-prefix override pattern).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atlas-desktop/orb-trader/pkg/types"
)

// Config is the top-level configuration, mapping directly onto the YAML
// file structure.
type Config struct {
	Brokerage BrokerageConfig `mapstructure:"brokerage"`
	Markets   []MarketConfig  `mapstructure:"markets"`
	Results   ResultsConfig   `mapstructure:"results"`
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// BrokerageConfig selects and configures the Brokerage adapter. APIKey is
// overridable via the ORB_API_KEY environment variable rather than stored
// in the file.
type BrokerageConfig struct {
	Mode           string        `mapstructure:"mode"` // "paper" or "live"
	RESTBaseURL    string        `mapstructure:"rest_base_url"`
	StreamURL      string        `mapstructure:"stream_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RejectionRate  float64       `mapstructure:"paper_rejection_rate"`
	Slippage       float64       `mapstructure:"paper_slippage"`
}

// MarketConfig is one instrument's MarketInfo, expressed in a YAML/env
// friendly shape (durations and clock times as strings).
type MarketConfig struct {
	Epic               string  `mapstructure:"epic"`
	BarsInOpeningRange int     `mapstructure:"bars_in_opening_range"`
	MinStop            float64 `mapstructure:"min_stop"`
	MaxStopMultiplier  float64 `mapstructure:"max_stop_multiplier"`
	Expiry             string  `mapstructure:"expiry"`
	Currency           string  `mapstructure:"currency"`
	LotSize            float64 `mapstructure:"lot_size"`
	UtcOpenTime        string  `mapstructure:"utc_open_time"`  // RFC3339
	UtcCloseTime       string  `mapstructure:"utc_close_time"` // RFC3339
}

// ResultsConfig controls the CSV trade-result sink.
type ResultsConfig struct {
	Dir string `mapstructure:"dir"`
}

// APIConfig controls the REST + WebSocket view server.
type APIConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Default returns sensible defaults for local/paper runs.
func Default() Config {
	return Config{
		Brokerage: BrokerageConfig{
			Mode:           "paper",
			RequestTimeout: 10 * time.Second,
		},
		Results: ResultsConfig{Dir: "./results"},
		API:     APIConfig{Host: "0.0.0.0", Port: 8090},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Metrics: MetricsConfig{Enabled: true, Port: 9090},
	}
}

// Load reads config from a YAML file, applying ORB_* environment variable
// overrides for the brokerage API key.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ORB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if err := v.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if key := os.Getenv("ORB_API_KEY"); key != "" {
		cfg.Brokerage.APIKey = key
	}
	return &cfg, nil
}

// ToMarketInfo converts the YAML-friendly MarketConfig into the decider's
// types.MarketInfo.
func (m MarketConfig) ToMarketInfo() (types.MarketInfo, error) {
	open, err := ParseUTC(m.UtcOpenTime)
	if err != nil {
		return types.MarketInfo{}, err
	}
	close, err := ParseUTC(m.UtcCloseTime)
	if err != nil {
		return types.MarketInfo{}, err
	}
	return types.MarketInfo{
		Epic:               m.Epic,
		BarsInOpeningRange: m.BarsInOpeningRange,
		MinStop:            m.MinStop,
		MaxStopMultiplier:  m.MaxStopMultiplier,
		Expiry:             m.Expiry,
		Currency:           m.Currency,
		LotSize:            m.LotSize,
		UtcOpenTime:        open,
		UtcCloseTime:       close,
	}, nil
}

// ParseUTC parses one of MarketConfig's RFC3339 clock-time fields.
func ParseUTC(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: parse time %q: %w", value, err)
	}
	return t.UTC(), nil
}
