package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsMatchReference(t *testing.T) {
	cfg := Default()
	if cfg.History.Capacity != 100 || cfg.History.View != 20 || cfg.Batch.MaxFiles != 10 {
		t.Errorf("limits = %+v %+v", cfg.History, cfg.Batch)
	}
	if cfg.Model.Accuracy != 0.85 {
		t.Errorf("accuracy = %v", cfg.Model.Accuracy)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestGetConfigWithoutFile(t *testing.T) {
	cfg, err := GetConfig("")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if cfg.Server.Address != ":8000" {
		t.Errorf("address = %s", cfg.Server.Address)
	}
}

func TestGetConfigMissingFile(t *testing.T) {
	_, err := GetConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want not-exist error", err)
	}
}

func TestGetConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
  corsOrigins: ["*"]
model:
  path: /srv/model.onnx
  accuracy: 0.9
redis:
  address: localhost:6379
  resultTTL: 10m
workers:
  count: 2
`)
	cfg, err := GetConfig(path)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if cfg.Server.Address != ":9090" || cfg.Server.CORSOrigins[0] != "*" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Model.Path != "/srv/model.onnx" || cfg.Model.Accuracy != 0.9 {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Redis.ResultTTL != 10*time.Minute || cfg.Workers.Count != 2 {
		t.Errorf("redis = %+v workers = %+v", cfg.Redis, cfg.Workers)
	}
	// untouched sections keep defaults
	if cfg.History.Capacity != 100 || cfg.Workers.QueueSize != 100 {
		t.Errorf("defaults lost: %+v %+v", cfg.History, cfg.Workers)
	}
}

func TestGetConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "server:\n  adress: \":1\"\n")
	if _, err := GetConfig(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"capacity", func(c *Config) { c.History.Capacity = 0 }, "history.capacity"},
		{"view", func(c *Config) { c.History.View = -1 }, "history.view"},
		{"batch", func(c *Config) { c.Batch.MaxFiles = 0 }, "batch.maxFiles"},
		{"accuracy", func(c *Config) { c.Model.Accuracy = 85 }, "model.accuracy"},
		{"address", func(c *Config) { c.Server.Address = "" }, "server.address"},
		{"upload", func(c *Config) { c.Server.MaxUploadMB = 0 }, "server.maxUploadMB"},
		{"pixels", func(c *Config) { c.Model.MaxPixels = 0 }, "model.maxPixels"},
		{"workers", func(c *Config) { c.Redis.Address = "x:1"; c.Workers.Count = 0 }, "workers.count"},
		{"queue size", func(c *Config) { c.Redis.Address = "x:1"; c.Workers.QueueSize = 0 }, "workers.queueSize"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
