package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Stream struct {
		URL             string        `yaml:"url"`
		Market          string        `yaml:"market"`
		ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
		MaxAttempts     int           `yaml:"max_attempts"`
		AutoReconnect   bool          `yaml:"auto_reconnect"`
		PersistInterval time.Duration `yaml:"persist_interval"`
	} `yaml:"stream"`
	Collector struct {
		UserID      string `yaml:"user_id"`
		BatchSize   int    `yaml:"batch_size"`
		TrainEpochs int    `yaml:"train_epochs"`
	} `yaml:"collector"`
	Network struct {
		Layers       []int   `yaml:"layers"`
		LearningRate float64 `yaml:"learning_rate"`
		Epochs       int     `yaml:"epochs"`
	} `yaml:"network"`
	Predictor struct {
		Mode            string        `yaml:"mode"`
		AttemptInterval time.Duration `yaml:"attempt_interval"`
	} `yaml:"predictor"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("STREAM_URL"); v != "" {
		c.Stream.URL = v
	}
	if v := os.Getenv("STREAM_MARKET"); v != "" {
		c.Stream.Market = v
	}
	if v := os.Getenv("USER_ID"); v != "" {
		c.Collector.UserID = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Stream.URL == "" {
		return fmt.Errorf("stream.url is required")
	}
	if c.Stream.Market == "" {
		return fmt.Errorf("stream.market is required")
	}
	if c.Collector.UserID == "" {
		return fmt.Errorf("collector.user_id is required")
	}
	if c.Collector.BatchSize != 0 && c.Collector.BatchSize < 10 {
		return fmt.Errorf("collector.batch_size must be at least 10, got %d", c.Collector.BatchSize)
	}
	if len(c.Network.Layers) != 0 {
		if len(c.Network.Layers) < 2 {
			return fmt.Errorf("network.layers needs at least an input and an output layer")
		}
		if last := c.Network.Layers[len(c.Network.Layers)-1]; last != 1 {
			return fmt.Errorf("network.layers must end with a single output unit, got %d", last)
		}
	}
	switch c.Predictor.Mode {
	case "", "strict", "normal", "fast":
	default:
		return fmt.Errorf("predictor.mode must be 'strict', 'normal' or 'fast', got '%s'", c.Predictor.Mode)
	}
	if c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}
