package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration
type Config struct {
	// Server settings
	ServerPort int    `json:"server_port" yaml:"server_port" toml:"server_port"`
	HTTPPort   int    `json:"http_port" yaml:"http_port" toml:"http_port"`
	ReplicaID  string `json:"replica_id" yaml:"replica_id" toml:"replica_id"`

	// Dictionary settings
	Tombstone string `json:"tombstone" yaml:"tombstone" toml:"tombstone"`

	// Data storage settings
	DataDir   string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	OpLogFile string `json:"oplog_file" yaml:"oplog_file" toml:"oplog_file"`

	// Redis mirror settings
	MirrorEnabled bool   `json:"mirror_enabled" yaml:"mirror_enabled" toml:"mirror_enabled"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr" toml:"redis_addr"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db" toml:"redis_db"`

	// Observability settings
	MetricsEnabled bool   `json:"metrics_enabled" yaml:"metrics_enabled" toml:"metrics_enabled"`
	LogLevel       string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		ServerPort: 6380,
		HTTPPort:   8080,
		ReplicaID:  uuid.NewString(),

		// The tombstone sentinel must live outside the value domain of
		// the deployment; it is fixed for the lifetime of the instance
		// and must match across replicas that exchange snapshots.
		Tombstone: "\x00__tombstone__\x00",

		DataDir:   "./data",
		OpLogFile: "oplog.jsonl",

		MirrorEnabled: false,
		RedisAddr:     "localhost:6379",
		RedisDB:       0,

		MetricsEnabled: true,
		LogLevel:       "info",
	}
}

// LoadFromFile loads configuration from a JSON, YAML or TOML file
func LoadFromFile(filename string) (*Config, error) {
	config := DefaultConfig()

	if filename == "" {
		return config, nil
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		if err := json.Unmarshal(content, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %v", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %v", err)
		}
	case ".toml":
		if err := toml.Unmarshal(content, config); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %v", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filename)
	}

	return config, nil
}

// LoadFromEnv loads configuration overrides from environment variables
func LoadFromEnv(config *Config) {
	if val := os.Getenv("LWW_SERVER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.ServerPort = port
		}
	}

	if val := os.Getenv("LWW_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.HTTPPort = port
		}
	}

	if val := os.Getenv("LWW_REPLICA_ID"); val != "" {
		config.ReplicaID = val
	}

	if val := os.Getenv("LWW_TOMBSTONE"); val != "" {
		config.Tombstone = val
	}

	if val := os.Getenv("LWW_DATA_DIR"); val != "" {
		config.DataDir = val
	}

	if val := os.Getenv("LWW_MIRROR_ENABLED"); val != "" {
		config.MirrorEnabled = val == "1" || strings.EqualFold(val, "true")
	}

	if val := os.Getenv("LWW_REDIS_ADDR"); val != "" {
		config.RedisAddr = val
	}

	if val := os.Getenv("LWW_REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			config.RedisDB = db
		}
	}

	if val := os.Getenv("LWW_LOG_LEVEL"); val != "" {
		config.LogLevel = val
	}
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %v", err)
	}

	content, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %v", err)
	}

	if err := os.WriteFile(filename, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %v", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port: %d", c.ServerPort)
	}

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.ReplicaID == "" {
		return fmt.Errorf("replica ID cannot be empty")
	}

	if c.Tombstone == "" {
		return fmt.Errorf("tombstone sentinel cannot be empty")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.MirrorEnabled && c.RedisAddr == "" {
		return fmt.Errorf("redis address cannot be empty when the mirror is enabled")
	}

	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("invalid Redis DB: %d (must be 0-15)", c.RedisDB)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	validLevel := false
	for _, level := range validLevels {
		if c.LogLevel == level {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.LogLevel, validLevels)
	}

	return nil
}

// GetAddress returns the RESP server address
func (c *Config) GetAddress() string {
	return fmt.Sprintf(":%d", c.ServerPort)
}

// GetHTTPAddress returns the HTTP server address
func (c *Config) GetHTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetStorePath returns the absolute path to the Bolt snapshot store
func (c *Config) GetStorePath() string {
	return filepath.Join(c.DataDir, "dictionary.db")
}

// GetOpLogPath returns the absolute path to the operation log
func (c *Config) GetOpLogPath() string {
	if filepath.IsAbs(c.OpLogFile) {
		return c.OpLogFile
	}
	return filepath.Join(c.DataDir, c.OpLogFile)
}

// String returns a string representation of the config
func (c *Config) String() string {
	content, _ := json.MarshalIndent(c, "", "  ")
	return string(content)
}
