// Package config handles broker-bridge configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/broker-bridge/config.yaml, /config/config.yaml,
// /etc/broker-bridge/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "broker-bridge", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/broker-bridge/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all broker-bridge configuration.
type Config struct {
	Broker          BrokerConfig          `yaml:"broker"`
	NewsIngestion   NewsIngestionConfig   `yaml:"newsIngestion"`
	Detection       DetectionConfig       `yaml:"detection"`
	Execution       ExecutionConfig       `yaml:"execution"`
	PositionManager PositionManagerConfig `yaml:"positionManager"`
	Store           StoreConfig           `yaml:"store"`
	Telemetry       TelemetryConfig       `yaml:"telemetry"`
	LogLevel        string                `yaml:"logLevel"`
}

// BrokerConfig defines how the bridge reaches the broker SDK's transport
// and the timeouts/limits that govern the façade and fan-out.
type BrokerConfig struct {
	Host                  string        `yaml:"host"`
	Port                  int           `yaml:"port"`
	ClientID              int           `yaml:"clientId"`
	RequestTimeout        time.Duration `yaml:"requestTimeout"`
	HistoricalDataTimeout time.Duration `yaml:"historicalDataTimeout"`
	SubscriptionBuffer    int           `yaml:"subscriptionBuffer"`
	IncomingBuffer        int           `yaml:"incomingBuffer"`
}

// NewsIngestionConfig defines the News Ingestion Pipeline's knobs.
type NewsIngestionConfig struct {
	Providers          []string      `yaml:"providers"` // provider codes to subscribe to on startup
	ExtractionStrategy string        `yaml:"extractionStrategy"` // "markup" | "classifier"
	ClassifierURL      string        `yaml:"classifierUrl"`
	ClassifierModel    string        `yaml:"classifierModel"`
	ClassifierToken    string        `yaml:"classifierToken"`
	ClassifierTimeout  time.Duration `yaml:"classifierTimeout"`
	DedupWindow        time.Duration `yaml:"dedupWindowSec"`
}

// DetectionConfig defines the Detection Engine Worker Pool's knobs.
type DetectionConfig struct {
	WorkerCount      int     `yaml:"workerCount"`
	BarCount         int     `yaml:"barCount"`
	BarSize          string  `yaml:"barSize"`
	PriceMultiplier  float64 `yaml:"priceMultiplier"`
	VolumeMultiplier float64 `yaml:"volumeMultiplier"`
}

// ExecutionConfig defines the Execution Worker's knobs.
type ExecutionConfig struct {
	OrderQuantity int           `yaml:"orderQuantity"`
	FillTimeout   time.Duration `yaml:"fillTimeout"`
}

// PositionManagerConfig defines the Position Manager's knobs.
type PositionManagerConfig struct {
	MonitorInterval   time.Duration `yaml:"monitorInterval"`
	TakeProfit        float64       `yaml:"takeProfit"`
	StopLoss          float64       `yaml:"stopLoss"`
}

// StoreConfig defines the persistence boundary.
type StoreConfig struct {
	DriverPath string `yaml:"driverPath"` // sqlite file path; empty = in-memory
}

// TelemetryConfig defines the optional MQTT telemetry publisher.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BrokerURL string `yaml:"brokerUrl"`
	ClientID string `yaml:"clientId"`
	Topic    string `yaml:"topic"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${BROKER_HOST}); the
	// recommended approach is still to put values directly in the
	// config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Broker.Port == 0 {
		c.Broker.Port = 7497
	}
	if c.Broker.RequestTimeout == 0 {
		c.Broker.RequestTimeout = 10 * time.Second
	}
	if c.Broker.HistoricalDataTimeout == 0 {
		c.Broker.HistoricalDataTimeout = 30 * time.Second
	}
	if c.Broker.SubscriptionBuffer == 0 {
		c.Broker.SubscriptionBuffer = 1024
	}
	if c.Broker.IncomingBuffer == 0 {
		c.Broker.IncomingBuffer = 256
	}

	if c.NewsIngestion.ExtractionStrategy == "" {
		c.NewsIngestion.ExtractionStrategy = "markup"
	}
	if c.NewsIngestion.ClassifierModel == "" {
		c.NewsIngestion.ClassifierModel = "gpt-3.5-turbo"
	}
	if c.NewsIngestion.ClassifierTimeout == 0 {
		c.NewsIngestion.ClassifierTimeout = 5 * time.Second
	}
	if c.NewsIngestion.DedupWindow == 0 {
		c.NewsIngestion.DedupWindow = 60 * time.Second
	}

	if c.Detection.WorkerCount == 0 {
		c.Detection.WorkerCount = 5
	}
	if c.Detection.BarCount == 0 {
		c.Detection.BarCount = 30
	}
	if c.Detection.BarSize == "" {
		c.Detection.BarSize = "1 min"
	}
	if c.Detection.PriceMultiplier == 0 {
		c.Detection.PriceMultiplier = 3.0
	}
	if c.Detection.VolumeMultiplier == 0 {
		c.Detection.VolumeMultiplier = 5.0
	}

	if c.Execution.OrderQuantity == 0 {
		c.Execution.OrderQuantity = 100
	}
	if c.Execution.FillTimeout == 0 {
		c.Execution.FillTimeout = 30 * time.Second
	}

	if c.PositionManager.MonitorInterval == 0 {
		c.PositionManager.MonitorInterval = 5 * time.Second
	}
	if c.PositionManager.TakeProfit == 0 {
		c.PositionManager.TakeProfit = 500
	}
	if c.PositionManager.StopLoss == 0 {
		c.PositionManager.StopLoss = -200
	}

	if c.Telemetry.Topic == "" {
		c.Telemetry.Topic = "broker-bridge/state"
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port %d out of range (1-65535)", c.Broker.Port)
	}
	switch c.NewsIngestion.ExtractionStrategy {
	case "markup", "classifier":
	default:
		return fmt.Errorf("newsIngestion.extractionStrategy %q must be \"markup\" or \"classifier\"", c.NewsIngestion.ExtractionStrategy)
	}
	if c.NewsIngestion.ExtractionStrategy == "classifier" && c.NewsIngestion.ClassifierURL == "" {
		return fmt.Errorf("newsIngestion.classifierUrl is required when extractionStrategy is \"classifier\"")
	}
	if c.Detection.WorkerCount < 1 {
		return fmt.Errorf("detection.workerCount must be >= 1")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local development
// against a paper-trading broker endpoint. All defaults are already applied.
func Default() *Config {
	cfg := &Config{
		Broker: BrokerConfig{
			Host: "127.0.0.1",
		},
	}
	cfg.applyDefaults()
	return cfg
}
