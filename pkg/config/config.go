package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines the worker configuration schema.
type Config struct {
	Pusher     PusherConfig     `yaml:"pusher"`
	Writer     WriterConfig     `yaml:"writer"`
	Congestion CongestionConfig `yaml:"congestion"`
	Store      StoreConfig      `yaml:"store"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

type PusherConfig struct {
	MaxIOBufferSize int  `yaml:"max_io_buffer_size"`
	SpillThreshold  int  `yaml:"spill_threshold"`
	MaxBatchSize    int  `yaml:"max_batch_size"`
	Sort            bool `yaml:"sort"`
}

type WriterConfig struct {
	ChunkSize int64 `yaml:"chunk_size"`
}

type CongestionConfig struct {
	Window              time.Duration `yaml:"window"`
	WorkerHighWatermark float64       `yaml:"worker_high_watermark"`
	WorkerLowWatermark  float64       `yaml:"worker_low_watermark"`
	UserHighWatermark   float64       `yaml:"user_high_watermark"`
	CheckInterval       time.Duration `yaml:"check_interval"`
}

type StoreConfig struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	KMSKeyARN      string `yaml:"kms_key_arn"`
}

// Default returns the worker defaults applied before file and env overrides.
func Default() Config {
	return Config{
		Pusher: PusherConfig{
			MaxIOBufferSize: 64 << 20,
			SpillThreshold:  48 << 20,
			MaxBatchSize:    2 << 20,
		},
		Writer: WriterConfig{
			ChunkSize: 8 << 20,
		},
		Congestion: CongestionConfig{
			Window:              10 * time.Second,
			WorkerHighWatermark: 512 << 20,
			WorkerLowWatermark:  256 << 20,
			UserHighWatermark:   64 << 20,
			CheckInterval:       time.Second,
		},
		MetricsAddr: ":19193",
		LogLevel:    "info",
	}
}

// Load reads path (when non-empty) over the defaults, then applies env
// overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Store.Bucket, "SHUFFLE_S3_BUCKET")
	setString(&c.Store.Region, "SHUFFLE_S3_REGION")
	setString(&c.Store.Endpoint, "SHUFFLE_S3_ENDPOINT")
	setBool(&c.Store.ForcePathStyle, "SHUFFLE_S3_PATH_STYLE")
	setString(&c.Store.KMSKeyARN, "SHUFFLE_S3_KMS_ARN")
	setString(&c.MetricsAddr, "SHUFFLE_METRICS_ADDR")
	setString(&c.LogLevel, "SHUFFLE_LOG_LEVEL")
	setInt(&c.Pusher.MaxIOBufferSize, "SHUFFLE_MAX_IO_BUFFER_SIZE")
	setInt(&c.Pusher.SpillThreshold, "SHUFFLE_SPILL_THRESHOLD")
	setInt(&c.Pusher.MaxBatchSize, "SHUFFLE_MAX_BATCH_SIZE")
	setInt64(&c.Writer.ChunkSize, "SHUFFLE_CHUNK_SIZE")
}

func setString(dst *string, name string) {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		*dst = val
	}
}

func setBool(dst *bool, name string) {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		*dst = val == "true"
	}
}

func setInt(dst *int, name string) {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			*dst = parsed
		}
	}
}

func setInt64(dst *int64, name string) {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = parsed
		}
	}
}

// Validate rejects configurations the data plane cannot run with.
func (c *Config) Validate() error {
	if c.Pusher.MaxIOBufferSize <= 0 {
		return fmt.Errorf("pusher.max_io_buffer_size must be positive")
	}
	if c.Pusher.SpillThreshold <= 0 || c.Pusher.SpillThreshold > c.Pusher.MaxIOBufferSize {
		return fmt.Errorf("pusher.spill_threshold %d out of range (buffer %d)",
			c.Pusher.SpillThreshold, c.Pusher.MaxIOBufferSize)
	}
	if c.Pusher.MaxBatchSize <= 0 {
		return fmt.Errorf("pusher.max_batch_size must be positive")
	}
	if c.Writer.ChunkSize <= 0 {
		return fmt.Errorf("writer.chunk_size must be positive")
	}
	if c.Congestion.Window <= 0 {
		return fmt.Errorf("congestion.window must be positive")
	}
	if c.Congestion.WorkerLowWatermark > c.Congestion.WorkerHighWatermark {
		return fmt.Errorf("congestion.worker_low_watermark above high watermark")
	}
	return nil
}
