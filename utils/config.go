package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment override, e.g. RASTERCAT_DSN.
const EnvPrefix = "RASTERCAT"

type Config struct {
	Driver        string `yaml:"driver" envconfig:"DRIVER"`
	DSN           string `yaml:"dsn" envconfig:"DSN"`
	SourceDir     string `yaml:"source_dir" envconfig:"SOURCE_DIR"`
	Extension     string `yaml:"extension" envconfig:"EXTENSION"`
	Filter        string `yaml:"filter" envconfig:"FILTER"`
	Workers       int    `yaml:"workers" envconfig:"WORKERS"`
	DensifyPoints int    `yaml:"densify_points" envconfig:"DENSIFY_POINTS"`

	Log LogConfig `yaml:"log" envconfig:"LOG"`

	// MetricsDir receives one JSON line per sync pass when set.
	MetricsDir         string `yaml:"metrics_dir" envconfig:"METRICS_DIR"`
	MetricsMaxFileSize int    `yaml:"metrics_max_file_size_mb" envconfig:"METRICS_MAX_FILE_SIZE_MB"`
	MetricsMaxFiles    int    `yaml:"metrics_max_files" envconfig:"METRICS_MAX_FILES"`
}

func DefaultConfig() *Config {
	return &Config{
		Driver:        "sqlite",
		DSN:           "db.sqlite",
		SourceDir:     "data",
		Extension:     ".tif",
		Workers:       3,
		DensifyPoints: 21,
		Log:           LogConfig{Level: "info"},
	}
}

// LoadConfig builds the configuration from the defaults, the optional YAML
// file at configFile, a .env file in the working directory and finally the
// RASTERCAT_* environment.
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()
	if configFile != "" {
		if err := config.LoadConfigFile(configFile); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigFile overlays the YAML document at configFile on config. Keys
// absent from the document keep their current value.
func (config *Config) LoadConfigFile(configFile string) error {
	cfg, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	err = yaml.UnmarshalStrict(cfg, config)
	if err != nil {
		return fmt.Errorf("Error at YAML parsing config document: %s. Error: %v", configFile, err)
	}
	return nil
}

func (config *Config) Validate() error {
	if config.Driver == "" {
		return fmt.Errorf("catalog driver is not set")
	}
	if config.DSN == "" {
		return fmt.Errorf("catalog dsn is not set")
	}
	if config.SourceDir == "" {
		return fmt.Errorf("source directory is not set")
	}
	if config.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", config.Workers)
	}
	if config.DensifyPoints < 21 {
		return fmt.Errorf("densify_points must be at least 21, got %d", config.DensifyPoints)
	}
	return nil
}
