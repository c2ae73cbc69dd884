// Package config resolves railwatch configuration with config-file < env <
// CLI-flag precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultCallCap = 50
	DefaultWorkers = 1
	DefaultRPS     = 1.0
)

// Config is the fully resolved runtime configuration.
type Config struct {
	DBPath        string
	RulesPath     string
	ReferencePath string

	OpenAIModel   string
	OpenAIBaseURL string
	OpenAIAPIKey  string
	Topic         string // monitored topic description passed to the classifier

	CallCap int
	Workers int
	RPS     float64
}

type fileConfig struct {
	DBPath        string `yaml:"db_path"`
	RulesPath     string `yaml:"rules_path"`
	ReferencePath string `yaml:"reference_path"`
	Classifier    struct {
		Model   string  `yaml:"model"`
		BaseURL string  `yaml:"base_url"`
		APIKey  string  `yaml:"api_key"`
		Topic   string  `yaml:"topic"`
		CallCap int     `yaml:"call_cap"`
		Workers int     `yaml:"workers"`
		RPS     float64 `yaml:"rps"`
	} `yaml:"classifier"`
}

// Overrides carries CLI-level values, applied last.
type Overrides struct {
	ConfigPath string
	DBPath     string
	RulesPath  string
	CallCap    int
	Workers    int
}

// DefaultConfigPath is where Resolve looks when no --config is given.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".railwatch", "config.yaml")
}

// Resolve loads the config file (missing file is fine), applies env vars,
// then the CLI overrides.
func Resolve(opts Overrides) (*Config, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := &Config{
		CallCap: DefaultCallCap,
		Workers: DefaultWorkers,
		RPS:     DefaultRPS,
	}

	fc, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	if fc != nil {
		applyString(&cfg.DBPath, fc.DBPath)
		applyString(&cfg.RulesPath, fc.RulesPath)
		applyString(&cfg.ReferencePath, fc.ReferencePath)
		applyString(&cfg.OpenAIModel, fc.Classifier.Model)
		applyString(&cfg.OpenAIBaseURL, fc.Classifier.BaseURL)
		applyString(&cfg.OpenAIAPIKey, fc.Classifier.APIKey)
		applyString(&cfg.Topic, fc.Classifier.Topic)
		if fc.Classifier.CallCap > 0 {
			cfg.CallCap = fc.Classifier.CallCap
		}
		if fc.Classifier.Workers > 0 {
			cfg.Workers = fc.Classifier.Workers
		}
		if fc.Classifier.RPS > 0 {
			cfg.RPS = fc.Classifier.RPS
		}
	}

	applyEnv(&cfg.DBPath, "RAILWATCH_DB")
	applyEnv(&cfg.RulesPath, "RAILWATCH_RULES")
	applyEnv(&cfg.ReferencePath, "RAILWATCH_REFERENCE")
	applyEnv(&cfg.OpenAIModel, "RAILWATCH_MODEL")
	applyEnv(&cfg.OpenAIBaseURL, "RAILWATCH_BASE_URL")
	applyEnv(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	applyEnv(&cfg.Topic, "RAILWATCH_TOPIC")
	if v := strings.TrimSpace(os.Getenv("RAILWATCH_CALL_CAP")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid RAILWATCH_CALL_CAP %q", v)
		}
		cfg.CallCap = n
	}

	applyString(&cfg.DBPath, opts.DBPath)
	applyString(&cfg.RulesPath, opts.RulesPath)
	if opts.CallCap > 0 {
		cfg.CallCap = opts.CallCap
	}
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}

	cfg.DBPath = expandUserPath(cfg.DBPath)
	cfg.RulesPath = expandUserPath(cfg.RulesPath)
	cfg.ReferencePath = expandUserPath(cfg.ReferencePath)
	return cfg, nil
}

func loadFile(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &fc, nil
}

func applyString(dst *string, raw string) {
	if v := strings.TrimSpace(raw); v != "" {
		*dst = v
	}
}

func applyEnv(dst *string, envKey string) {
	applyString(dst, os.Getenv(envKey))
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
