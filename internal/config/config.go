// Package config loads the control-plane configuration: origin rules, the
// applications declared at boot, and registry limits. Values come from an
// optional JSON file with STREAMGATE_* environment overrides layered on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"streamgate/internal/orchestrator"
)

// Config is the loaded control-plane configuration.
type Config struct {
	Origins         []orchestrator.OriginRule        `json:"origins"`
	Applications    []orchestrator.ApplicationConfig `json:"applications"`
	MaxApplications int                              `json:"maxApplications"`
}

// Load reads the configuration file at path when non-empty, then applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides layers STREAMGATE_* variables over the file values.
// STREAMGATE_ORIGINS uses the compact form
// "location=scheme,url[,url...];location=..." for deployments without a
// config file.
func applyEnvOverrides(cfg *Config) error {
	if spec := strings.TrimSpace(os.Getenv("STREAMGATE_ORIGINS")); spec != "" {
		origins, err := parseOriginSpec(spec)
		if err != nil {
			return fmt.Errorf("parse STREAMGATE_ORIGINS: %w", err)
		}
		cfg.Origins = origins
	}

	if limit := strings.TrimSpace(os.Getenv("STREAMGATE_MAX_APPLICATIONS")); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil {
			return fmt.Errorf("parse STREAMGATE_MAX_APPLICATIONS: %w", err)
		}
		if parsed > 0 {
			cfg.MaxApplications = parsed
		}
	}

	if apps := strings.TrimSpace(os.Getenv("STREAMGATE_APPLICATIONS")); apps != "" {
		for _, name := range strings.Split(apps, ",") {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				cfg.Applications = append(cfg.Applications, orchestrator.ApplicationConfig{Name: trimmed})
			}
		}
	}

	return nil
}

func parseOriginSpec(spec string) ([]orchestrator.OriginRule, error) {
	var rules []orchestrator.OriginRule
	for _, item := range strings.Split(spec, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid origin %q, expected location=scheme,url[,url...]", item)
		}
		fields := strings.Split(parts[1], ",")
		if len(fields) < 2 {
			return nil, fmt.Errorf("origin %q needs a scheme and at least one url", item)
		}
		rule := orchestrator.OriginRule{
			Location: strings.TrimSpace(parts[0]),
			Scheme:   strings.TrimSpace(fields[0]),
		}
		for _, url := range fields[1:] {
			if trimmed := strings.TrimSpace(url); trimmed != "" {
				rule.URLs = append(rule.URLs, trimmed)
			}
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Validate checks the origin rules and application declarations for the
// invariants the orchestrator relies on.
func (c Config) Validate() error {
	for i, rule := range c.Origins {
		if !strings.HasPrefix(rule.Location, "/") {
			return fmt.Errorf("origin %d: location %q must start with /", i, rule.Location)
		}
		if strings.TrimSpace(rule.Scheme) == "" {
			return fmt.Errorf("origin %d (%s): scheme is required", i, rule.Location)
		}
		if len(rule.URLs) == 0 {
			return fmt.Errorf("origin %d (%s): at least one url is required", i, rule.Location)
		}
		for j, url := range rule.URLs {
			if strings.TrimSpace(url) == "" {
				return fmt.Errorf("origin %d (%s): url %d is empty", i, rule.Location, j)
			}
			if strings.Contains(url, "://") {
				return fmt.Errorf("origin %d (%s): url %q must not carry a scheme, the rule scheme is prepended", i, rule.Location, url)
			}
		}
	}

	seen := make(map[string]struct{}, len(c.Applications))
	for i, app := range c.Applications {
		name := strings.TrimSpace(app.Name)
		if name == "" {
			return fmt.Errorf("application %d: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("application %q is declared twice", name)
		}
		seen[name] = struct{}{}
	}

	if c.MaxApplications < 0 {
		return fmt.Errorf("maxApplications must not be negative")
	}
	return nil
}
