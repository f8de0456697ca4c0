package config

import (
	"time"

	"github.com/Brownie44l1/poar-detector/internal/detector"
	"github.com/Brownie44l1/poar-detector/internal/model"
)

// Config holds the detector service configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Model   ModelConfig   `mapstructure:"model"`
	Workers WorkersConfig `mapstructure:"workers"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// QueueTimeout bounds how long a request waits for a free worker.
	QueueTimeout time.Duration `mapstructure:"queue_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	CORS         bool          `mapstructure:"cors"`
}

// ModelConfig locates the model artifacts and selects the runtime device.
type ModelConfig struct {
	Name           string `mapstructure:"name"`
	Dir            string `mapstructure:"dir"`
	File           string `mapstructure:"file"`
	MetadataFile   string `mapstructure:"metadata_file"`
	Device         string `mapstructure:"device"`
	InputName      string `mapstructure:"input_name"`
	OutputName     string `mapstructure:"output_name"`
	RuntimeLibrary string `mapstructure:"runtime_library"`
	IntraOpThreads int    `mapstructure:"intra_op_threads"`
}

// WorkersConfig sizes the handler pool.
type WorkersConfig struct {
	Count int `mapstructure:"count"`
}

// LoggingConfig mirrors logger.Options.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Environment builds the descriptor handed to every detector.Handler.
func (c *Config) Environment() (*detector.Environment, error) {
	device, err := model.ParseDevice(c.Model.Device)
	if err != nil {
		return nil, err
	}

	props := map[string]string{}
	if c.Model.Dir != "" {
		props[detector.PropModelDir] = c.Model.Dir
	}

	opts := map[string]string{}
	if c.Model.File != "" {
		opts[detector.OptModelFile] = c.Model.File
	}
	if c.Model.MetadataFile != "" {
		opts[detector.OptMetadataFile] = c.Model.MetadataFile
	}

	return &detector.Environment{
		SystemProperties: props,
		HandlerOptions:   opts,
		Device:           device,
	}, nil
}

// ONNXOptions returns the runtime options for model.ONNXLoader.
func (c *Config) ONNXOptions() model.ONNXOptions {
	return model.ONNXOptions{
		LibraryPath:    c.Model.RuntimeLibrary,
		InputName:      c.Model.InputName,
		OutputName:     c.Model.OutputName,
		IntraOpThreads: c.Model.IntraOpThreads,
	}
}
