package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when CARDSLOT_CONFIG is unset.
const DefaultPath = "configs/config.yaml"

const (
	maxQoS       = 2
	hoursPerDay  = 24
	maxSlotCount = 16
)

// Config is the root configuration for the cardslot daemon.
type Config struct {
	Slots    SlotsConfig    `yaml:"slots"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	History  HistoryConfig  `yaml:"history"`
}

// SlotsConfig describes the device's card hardware.
type SlotsConfig struct {
	// Count is the number of physical slots. Fixed for the process lifetime.
	Count int `yaml:"count"`

	// PhoneCount is the number of logical modem stacks. Defaults to Count.
	PhoneCount int `yaml:"phone_count"`

	// NonRemovableEuicc lists slot indices holding soldered eUICCs.
	NonRemovableEuicc []int `yaml:"non_removable_euicc"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains reconnection delays in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains settings for slot telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// HistoryConfig controls the slot history table.
type HistoryConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// Path returns CARDSLOT_CONFIG if set, else DefaultPath.
func Path() string {
	if p := os.Getenv("CARDSLOT_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML file at path over the defaults, applies CARDSLOT_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cfg.Slots.PhoneCount == 0 {
		cfg.Slots.PhoneCount = cfg.Slots.Count
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Slots: SlotsConfig{
			Count: 1,
		},
		Database: DatabaseConfig{
			Path:        "./data/cardslot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "cardslot-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "cardslot",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
	}
}

// applyEnvOverrides reads CARDSLOT_SECTION_KEY variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("CARDSLOT_SLOTS_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing CARDSLOT_SLOTS_COUNT: %w", err)
		}
		cfg.Slots.Count = n
	}
	if v := os.Getenv("CARDSLOT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CARDSLOT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CARDSLOT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CARDSLOT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("CARDSLOT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("CARDSLOT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Slots.Count < 1 || c.Slots.Count > maxSlotCount {
		errs = append(errs, fmt.Sprintf("slots.count must be between 1 and %d", maxSlotCount))
	}
	if c.Slots.PhoneCount < 1 {
		errs = append(errs, "slots.phone_count must be at least 1")
	}
	seen := make(map[int]bool, len(c.Slots.NonRemovableEuicc))
	for _, idx := range c.Slots.NonRemovableEuicc {
		if idx < 0 || idx >= c.Slots.Count {
			errs = append(errs, fmt.Sprintf("slots.non_removable_euicc index %d out of range", idx))
		}
		if seen[idx] {
			errs = append(errs, fmt.Sprintf("slots.non_removable_euicc index %d listed twice", idx))
		}
		seen[idx] = true
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > maxQoS {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when enabled")
	}

	if c.History.Enabled && c.History.RetentionDays < 1 {
		errs = append(errs, "history.retention_days must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// HistoryRetention returns the slot history retention as a Duration.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.History.RetentionDays) * hoursPerDay * time.Hour
}
