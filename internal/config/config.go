// Package config loads the boss configuration.
package config

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/taskvisor/internal/model"
)

const (
	DefaultModuleStartTimeout = 5 * time.Second
	DefaultQuitDelay          = 200 * time.Millisecond
	DefaultLocale             = "en_US.UTF-8"
)

// BossYAMLRepository loads the boss configuration from YAML files.
type BossYAMLRepository struct {
	fs fs.FS
}

// NewBossYAMLRepository returns a new YAML boss config repository.
func NewBossYAMLRepository(filesystem fs.FS) *BossYAMLRepository {
	return &BossYAMLRepository{fs: filesystem}
}

// GetConfig loads a boss configuration from a YAML file returning a validated
// domain model with the defaults set.
func (r *BossYAMLRepository) GetConfig(ctx context.Context, path string) (model.BossConfig, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.BossConfig{}, fmt.Errorf("reading config file: %w", err)
	}

	if ctx.Err() != nil {
		return model.BossConfig{}, ctx.Err()
	}

	var cfg BossConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.BossConfig{}, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return model.BossConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg.toModel(), nil
}

// BossConfig represents the YAML structure of the boss configuration.
type BossConfig struct {
	Modules                 []ModuleConfig `yaml:"modules"`
	ModuleStartTimeout      time.Duration  `yaml:"module_start_timeout"`
	TolerateOptionalModules bool           `yaml:"tolerate_optional_modules"`
	Locale                  string         `yaml:"locale"`
	QuitDelay               time.Duration  `yaml:"quit_delay"`
	JournalPath             string         `yaml:"journal_path"`
	StepDelay               time.Duration  `yaml:"step_delay"`
}

// ModuleConfig represents the YAML structure of a module.
type ModuleConfig struct {
	Service  string `yaml:"service"`
	Optional bool   `yaml:"optional"`
}

func (c BossConfig) validate() error {
	if len(c.Modules) == 0 {
		return fmt.Errorf("at least one module is required")
	}

	seen := map[string]struct{}{}
	for i, m := range c.Modules {
		if m.Service == "" {
			return fmt.Errorf("module %d: service is required", i)
		}
		if _, ok := seen[m.Service]; ok {
			return fmt.Errorf("module %q is duplicated", m.Service)
		}
		seen[m.Service] = struct{}{}
	}

	if c.ModuleStartTimeout < 0 {
		return fmt.Errorf("module_start_timeout must be positive, got: %s", c.ModuleStartTimeout)
	}
	if c.QuitDelay < 0 {
		return fmt.Errorf("quit_delay can't be negative, got: %s", c.QuitDelay)
	}
	if c.StepDelay < 0 {
		return fmt.Errorf("step_delay can't be negative, got: %s", c.StepDelay)
	}

	return nil
}

func (c BossConfig) toModel() model.BossConfig {
	cfg := model.BossConfig{
		ModuleStartTimeout:      c.ModuleStartTimeout,
		TolerateOptionalModules: c.TolerateOptionalModules,
		Locale:                  c.Locale,
		QuitDelay:               c.QuitDelay,
		JournalPath:             c.JournalPath,
		StepDelay:               c.StepDelay,
	}
	for _, m := range c.Modules {
		cfg.Modules = append(cfg.Modules, model.Module{Service: m.Service, Optional: m.Optional})
	}

	return WithDefaults(cfg)
}

// WithDefaults sets the defaults of the unset boss settings.
func WithDefaults(cfg model.BossConfig) model.BossConfig {
	if cfg.ModuleStartTimeout == 0 {
		cfg.ModuleStartTimeout = DefaultModuleStartTimeout
	}
	if cfg.QuitDelay == 0 {
		cfg.QuitDelay = DefaultQuitDelay
	}
	if cfg.Locale == "" {
		cfg.Locale = DefaultLocale
	}
	return cfg
}
