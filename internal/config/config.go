package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config carries the process-level settings of an orchestrator host.
type Config struct {
	LogLevel            string `yaml:"log_level"`
	CheckpointPath      string `yaml:"checkpoint_path"`
	CheckpointDSN       string `yaml:"checkpoint_dsn"`
	CheckpointFrequency int    `yaml:"checkpoint_frequency"`
	MaxCycles           int    `yaml:"max_cycles"`
	Model               string `yaml:"model"`
	BaseDir             string `yaml:"base_dir"`
	DevMode             bool   `yaml:"dev_mode"`
}

// Load reads configuration from the environment with defaults.
func Load() *Config {
	return &Config{
		LogLevel:            getEnv("NCFLOW_LOG_LEVEL", "info"),
		CheckpointPath:      getEnv("NCFLOW_CHECKPOINT_PATH", ""),
		CheckpointDSN:       getEnv("NCFLOW_CHECKPOINT_DSN", ""),
		CheckpointFrequency: getEnvInt("NCFLOW_CHECKPOINT_FREQUENCY", 0),
		MaxCycles:           getEnvInt("NCFLOW_MAX_CYCLES", 30),
		Model:               getEnv("NCFLOW_MODEL", "demo"),
		BaseDir:             getEnv("NCFLOW_BASE_DIR", "."),
		DevMode:             getEnvBool("NCFLOW_DEV_MODE", false),
	}
}

// LoadFile overlays a YAML file on top of the environment configuration.
// Zero-valued file fields keep their environment values.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var overlay Config
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, err
	}
	if overlay.LogLevel != "" {
		cfg.LogLevel = overlay.LogLevel
	}
	if overlay.CheckpointPath != "" {
		cfg.CheckpointPath = overlay.CheckpointPath
	}
	if overlay.CheckpointDSN != "" {
		cfg.CheckpointDSN = overlay.CheckpointDSN
	}
	if overlay.CheckpointFrequency != 0 {
		cfg.CheckpointFrequency = overlay.CheckpointFrequency
	}
	if overlay.MaxCycles != 0 {
		cfg.MaxCycles = overlay.MaxCycles
	}
	if overlay.Model != "" {
		cfg.Model = overlay.Model
	}
	if overlay.BaseDir != "" {
		cfg.BaseDir = overlay.BaseDir
	}
	if overlay.DevMode {
		cfg.DevMode = true
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
