package ncflow

import (
	"github.com/geoguansin/ncflow/internal/config"
	"github.com/geoguansin/ncflow/internal/orchestrator"
)

// HostConfig is the process-level configuration loaded from environment
// variables and an optional YAML overlay.
type HostConfig = config.Config

// LoadConfig reads configuration from the environment with defaults.
func LoadConfig() *HostConfig {
	return config.Load()
}

// LoadConfigFile overlays a YAML file on the environment configuration.
func LoadConfigFile(path string) (*HostConfig, error) {
	return config.LoadFile(path)
}

// DefaultOrchestratorConfig returns the default engine configuration.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return orchestrator.DefaultConfig()
}

// OrchestratorConfigFrom maps host configuration onto an engine config.
// The checkpoint store is created separately and attached by the caller.
func OrchestratorConfigFrom(hc *HostConfig) OrchestratorConfig {
	cfg := orchestrator.DefaultConfig()
	cfg.MaxCycles = hc.MaxCycles
	cfg.CheckpointFrequency = hc.CheckpointFrequency
	cfg.Model = hc.Model
	cfg.LogLevel = hc.LogLevel
	cfg.DevMode = hc.DevMode
	return cfg
}
