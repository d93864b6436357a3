// Package config provides configuration loading and management for phasekit.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AgentTypeExec runs an arbitrary command given in AgentConfig.Cmd.
const AgentTypeExec = "exec"

// EnvPrefix prefixes environment overrides, e.g. PHASEKIT_MAX_PARALLEL_AGENTS.
const EnvPrefix = "PHASEKIT"

// DefaultDir is the per-project state directory.
const DefaultDir = ".phasekit"

// Config is the root configuration.
type Config struct {
	AgentTimeout            time.Duration   `json:"agent_timeout"             mapstructure:"agent_timeout"`
	MaxParallelAgents       int             `json:"max_parallel_agents"       mapstructure:"max_parallel_agents"`
	EnableParallelExecution bool            `json:"enable_parallel_execution" mapstructure:"enable_parallel_execution"`
	EnableCheckpoints       bool            `json:"enable_checkpoints"        mapstructure:"enable_checkpoints"`
	MemoryNamespace         string          `json:"memory_namespace"          mapstructure:"memory_namespace"`
	EnableLearning          bool            `json:"enable_learning"           mapstructure:"enable_learning"`
	MaxResults              int             `json:"max_results"               mapstructure:"max_results"`
	MaxCheckpoints          int             `json:"max_checkpoints"           mapstructure:"max_checkpoints"`
	MaxGateHistory          int             `json:"max_gate_history"          mapstructure:"max_gate_history"`
	Executor                AgentConfig     `json:"executor"                  mapstructure:"executor"`
	PipelineFile            string          `json:"pipeline_file"             mapstructure:"pipeline_file"`
	Retention               RetentionPolicy `json:"retention"                 mapstructure:"retention"`
}

// AgentConfig describes how to run an agent.
type AgentConfig struct {
	Type   string   `json:"type"              mapstructure:"type"`
	Cmd    []string `json:"cmd,omitempty"     mapstructure:"cmd"`
	Model  string   `json:"model,omitempty"   mapstructure:"model"`
	UseTTY *bool    `json:"use_tty,omitempty" mapstructure:"use_tty"`
}

// RetentionPolicy defines how many old runs to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("agent_timeout", "5m")
	v.SetDefault("max_parallel_agents", 3)
	v.SetDefault("enable_parallel_execution", true)
	v.SetDefault("enable_checkpoints", true)
	v.SetDefault("memory_namespace", "pipeline")
	v.SetDefault("enable_learning", false)
	v.SetDefault("max_results", 500)
	v.SetDefault("max_checkpoints", 10)
	v.SetDefault("max_gate_history", 200)
	v.SetDefault("executor.type", "codex")
	v.SetDefault("pipeline_file", filepath.Join(DefaultDir, "pipeline.yaml"))
	v.SetDefault("retention.keep_last", 50)
	v.SetDefault("retention.keep_days", 30)
}

// Default returns the configuration used when no file is present.
func Default() Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults are static; decoding them cannot fail.
	_ = v.Unmarshal(&cfg, decodeHook())
	return cfg
}

// Load reads the config file at path, applies PHASEKIT_* environment
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			raw, err := readRaw(path)
			if err != nil {
				return Config{}, err
			}
			if err := ValidateSettings(raw); err != nil {
				return Config{}, err
			}
			v.SetConfigFile(path)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("stat config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that the schema cannot express after env overrides.
func (c Config) Validate() error {
	if c.AgentTimeout <= 0 {
		return fmt.Errorf("agent_timeout must be > 0")
	}
	if c.MaxParallelAgents < 1 {
		return fmt.Errorf("max_parallel_agents must be >= 1")
	}
	if strings.TrimSpace(c.MemoryNamespace) == "" {
		return fmt.Errorf("memory_namespace must not be empty")
	}
	if c.MaxResults < 1 {
		return fmt.Errorf("max_results must be >= 1")
	}
	if c.MaxCheckpoints < 1 {
		return fmt.Errorf("max_checkpoints must be >= 1")
	}
	if c.MaxGateHistory < 1 {
		return fmt.Errorf("max_gate_history must be >= 1")
	}
	return nil
}

// readRaw loads only the file contents so the schema sees exactly what the
// user wrote, without defaults or env strings mixed in.
func readRaw(path string) (map[string]any, error) {
	raw := viper.New()
	raw.SetConfigFile(path)
	raw.SetConfigType("json")
	if err := raw.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return raw.AllSettings(), nil
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}
