// Package config holds the playground settings read from an optional YAML
// file and overridden by command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config contains the settings for the http server, the model and the queue
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	History HistoryConfig `yaml:"history"`
	Batch   BatchConfig   `yaml:"batch"`
	Redis   RedisConfig   `yaml:"redis"`
	Workers WorkerConfig  `yaml:"workers"`
	Sentry  SentryConfig  `yaml:"sentry"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Address     string   `yaml:"address"`     // host:port to listen on
	Release     bool     `yaml:"release"`     // run gin in release mode
	CORSOrigins []string `yaml:"corsOrigins"` // origins allowed to call the api, "*" allows all
	MaxUploadMB int64    `yaml:"maxUploadMB"` // multipart memory limit per request
}

type ModelConfig struct {
	Path              string  `yaml:"path"`              // SavedModel directory or .onnx file
	InputOp           string  `yaml:"inputOp"`           // input operation/tensor name; empty finds the SavedModel's serving_default_* placeholder
	OutputOp          string  `yaml:"outputOp"`          // output operation/tensor name
	Accuracy          float64 `yaml:"accuracy"`          // reported test accuracy, 0-1
	OnnxSharedLibrary string  `yaml:"onnxSharedLibrary"` // path to libonnxruntime
	FallbackSeed      int64   `yaml:"fallbackSeed"`      // seed for the untrained fallback weights
	MaxPixels         int     `yaml:"maxPixels"`         // uploads with more pixels are rejected before decoding
}

type HistoryConfig struct {
	Capacity int `yaml:"capacity"` // entries kept in memory
	View     int `yaml:"view"`     // entries returned by GET /history
}

type BatchConfig struct {
	MaxFiles int `yaml:"maxFiles"`
}

type RedisConfig struct {
	Address        string        `yaml:"address"` // empty disables async predictions
	MaxConnections int           `yaml:"maxConnections"`
	QueueKey       string        `yaml:"queueKey"`
	ResultTTL      time.Duration `yaml:"resultTTL"`
}

type WorkerConfig struct {
	Count     int `yaml:"count"`
	QueueSize int `yaml:"queueSize"`
}

type SentryConfig struct {
	DSN string `yaml:"dsn"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:     ":8000",
			CORSOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
			MaxUploadMB: 32,
		},
		Model: ModelConfig{
			Path:      "models/cifar10",
			Accuracy:  0.85,
			MaxPixels: 50_000_000,
		},
		History: HistoryConfig{Capacity: 100, View: 20},
		Batch:   BatchConfig{MaxFiles: 10},
		Redis: RedisConfig{
			MaxConnections: 10,
			QueueKey:       "predictme",
			ResultTTL:      time.Hour,
		},
		Workers: WorkerConfig{Count: 5, QueueSize: 100},
		Log:     LogConfig{Level: "debug"},
	}
}

// GetConfig reads the YAML file at path on top of the defaults. An empty path
// returns the defaults.
func GetConfig(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Server.Address == "":
		return errors.New("server.address must not be empty")
	case c.Server.MaxUploadMB <= 0:
		return errors.New("server.maxUploadMB must be positive")
	case c.History.Capacity <= 0:
		return errors.New("history.capacity must be positive")
	case c.History.View <= 0:
		return errors.New("history.view must be positive")
	case c.Batch.MaxFiles <= 0:
		return errors.New("batch.maxFiles must be positive")
	case c.Model.MaxPixels <= 0:
		return errors.New("model.maxPixels must be positive")
	case c.Model.Accuracy < 0 || c.Model.Accuracy > 1:
		return fmt.Errorf("model.accuracy %v must be between 0 and 1", c.Model.Accuracy)
	case c.Redis.Address != "" && c.Workers.Count <= 0:
		return errors.New("workers.count must be positive when redis is enabled")
	case c.Redis.Address != "" && c.Workers.QueueSize <= 0:
		return errors.New("workers.queueSize must be positive when redis is enabled")
	}
	return nil
}
