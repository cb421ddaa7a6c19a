package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Strings and numbers override when
// non-zero; booleans override only when the key is present in the file.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if strings.TrimSpace(override.Server.Bind) != "" {
		base.Server.Bind = override.Server.Bind
	}
	if strings.TrimSpace(override.Server.Path) != "" {
		base.Server.Path = override.Server.Path
	}
	if override.Server.ReadHeaderTimeout != 0 {
		base.Server.ReadHeaderTimeout = override.Server.ReadHeaderTimeout
	}
	if override.Server.IdleTimeout != 0 {
		base.Server.IdleTimeout = override.Server.IdleTimeout
	}
	if override.Server.MaxBodyBytes != 0 {
		base.Server.MaxBodyBytes = override.Server.MaxBodyBytes
	}
	if override.Server.MaxMultipartMemory != 0 {
		base.Server.MaxMultipartMemory = override.Server.MaxMultipartMemory
	}

	if override.Obvius.Password != "" {
		base.Obvius.Password = override.Obvius.Password
	}

	if strings.TrimSpace(override.Logging.Dir) != "" {
		base.Logging.Dir = override.Logging.Dir
	}
	if strings.TrimSpace(override.Logging.Level) != "" {
		base.Logging.Level = override.Logging.Level
	}
	if fieldSet(raw, "logging", "stderr") {
		base.Logging.Stderr = override.Logging.Stderr
	}

	if fieldSet(raw, "storage", "path") {
		base.Storage.Path = override.Storage.Path
	}

	if fieldSet(raw, "metrics", "enabled") {
		base.Metrics.Enabled = override.Metrics.Enabled
	}
	if strings.TrimSpace(override.Metrics.Path) != "" {
		base.Metrics.Path = override.Metrics.Path
	}

	if fieldSet(raw, "tracing", "enabled") {
		base.Tracing.Enabled = override.Tracing.Enabled
	}
	if strings.TrimSpace(override.Tracing.ServiceName) != "" {
		base.Tracing.ServiceName = override.Tracing.ServiceName
	}
}

func fieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
