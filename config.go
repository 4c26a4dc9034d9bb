package fdc3

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentConfig holds the configuration for a RootAgent.
type AgentConfig struct {
	// ListenAddr is the address the HTTP/WebSocket server binds to.
	// Fallback: FDC3_LISTEN_ADDR environment variable.
	ListenAddr string `yaml:"listenAddr"`

	// AppDirectoryURL is the base URL of the app directory consulted
	// during WCP validation (spec.md §6).
	// Fallback: FDC3_APP_DIRECTORY_URL environment variable.
	AppDirectoryURL string `yaml:"appDirectoryUrl"`

	// ProviderName/ProviderVersion populate ImplementationMetadata on
	// every successful handshake.
	ProviderName    string `yaml:"providerName"`
	ProviderVersion string `yaml:"providerVersion"`

	// AuditDSN, if set, enables a Postgres-backed audit log of
	// handshake/intent events via lib/pq. Fallback: FDC3_AUDIT_DSN.
	AuditDSN string `yaml:"auditDsn"`

	// MetricsAddr is parsed from the config file but nothing reads it:
	// Prometheus metrics are always served on ListenAddr's /metrics,
	// whatever its value.
	MetricsAddr string `yaml:"metricsAddr"`
}

// resolveConfig fills empty fields from environment variables and
// validates required fields, mirroring the teacher's resolveConfig.
func resolveConfig(cfg AgentConfig) (AgentConfig, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = os.Getenv("FDC3_LISTEN_ADDR")
	}
	if cfg.AppDirectoryURL == "" {
		cfg.AppDirectoryURL = os.Getenv("FDC3_APP_DIRECTORY_URL")
	}
	if cfg.AuditDSN == "" {
		cfg.AuditDSN = os.Getenv("FDC3_AUDIT_DSN")
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "fdc3agent-broker"
	}

	if cfg.ListenAddr == "" {
		return cfg, fmt.Errorf("ListenAddr is required (set in AgentConfig or FDC3_LISTEN_ADDR env)")
	}
	if cfg.AppDirectoryURL == "" {
		return cfg, fmt.Errorf("AppDirectoryURL is required (set in AgentConfig or FDC3_APP_DIRECTORY_URL env)")
	}

	return cfg, nil
}

// LoadConfigFile reads an AgentConfig from a YAML file at path, for
// deployments that prefer a config file over flags/env vars.
func LoadConfigFile(path string) (AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AgentConfig{}, fmt.Errorf("read config file: %w", err)
	}
	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AgentConfig{}, fmt.Errorf("parse config file: %w", err)
	}
	return resolveConfig(cfg)
}
