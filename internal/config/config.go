// Package config loads settings from config.yaml and BRAIN_* environment
// variables, in that order of precedence (env wins). Everything has a default
// tuned for a local Ollama setup; a bare binary must come up without a file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	ServerAddr string `mapstructure:"server_addr"`

	LLM LLM `mapstructure:"llm"`

	MemoryPath  string `mapstructure:"memory_path"`
	SitemapPath string `mapstructure:"sitemap_path"`
	DatasetDir  string `mapstructure:"dataset_dir"`

	MaxRetries         int           `mapstructure:"max_retries"`
	MaxSteps           int           `mapstructure:"max_steps"`
	VisionAttempts     int           `mapstructure:"vision_attempts"`
	ClearBansOnNewTask bool          `mapstructure:"clear_bans_on_new_task"`
	OracleTimeout      time.Duration `mapstructure:"oracle_timeout"`

	Headless bool `mapstructure:"headless"`

	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`
}

// LLM selects and configures the oracle backend.
type LLM struct {
	Provider   string        `mapstructure:"provider"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	EmbedModel string        `mapstructure:"embed_model"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Load reads the configuration. path may be empty, in which case config.yaml
// in the working directory is tried and its absence is fine.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("server_addr", ":8765")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "http://localhost:11434/v1")
	v.SetDefault("llm.model", "deepseek-r1:14b")
	v.SetDefault("llm.embed_model", "nomic-embed-text")
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("memory_path", "data/memory.db")
	v.SetDefault("sitemap_path", "data/sitemap.json")
	v.SetDefault("dataset_dir", "data/dataset")
	v.SetDefault("max_retries", 4)
	v.SetDefault("max_steps", 30)
	v.SetDefault("vision_attempts", 2)
	v.SetDefault("clear_bans_on_new_task", true)
	v.SetDefault("oracle_timeout", 90*time.Second)
	v.SetDefault("headless", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", true)

	v.SetEnvPrefix("BRAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be at least 1, got %d", c.MaxSteps)
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be 'openai' or 'anthropic', got %q", c.LLM.Provider)
	}
	return nil
}
