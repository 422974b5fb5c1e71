// Package config loads graphchat configuration from a YAML file with
// sensible defaults and environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// PartialFlushPolicy decides what happens to buffered message chunks when
// streaming fails after some chunks were already yielded to the caller.
type PartialFlushPolicy string

const (
	// PartialFlushDiscard drops the buffer; the store records nothing.
	PartialFlushDiscard PartialFlushPolicy = "discard"

	// PartialFlushCommit flushes the partial content as a normal turn.
	PartialFlushCommit PartialFlushPolicy = "flush"

	// PartialFlushMarkIncomplete flushes the partial content but marks the
	// turn as incomplete so readers can tell it apart from a finished answer.
	PartialFlushMarkIncomplete PartialFlushPolicy = "mark-incomplete"
)

// LLMConfig configures the LLM provider clients.
type LLMConfig struct {
	Provider   string `yaml:"provider"` // openai, gemini
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`       // large model: classification + tool-agent
	SmallModel string `yaml:"small_model"` // streaming chain model
	Timeout    int    `yaml:"timeout"`     // seconds
	MaxTokens  int    `yaml:"max_tokens"`
}

// TimeoutDuration returns the request timeout as a duration.
func (c LLMConfig) TimeoutDuration() time.Duration {
	if c.Timeout <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// DatabaseConfig locates the SQLite databases.
type DatabaseConfig struct {
	HistoryPath string `yaml:"history_path"`
	GraphPath   string `yaml:"graph_path"`
}

// PromptsConfig configures prompt pack loading and caching.
type PromptsConfig struct {
	Dir           string `yaml:"dir"`
	CacheCapacity int    `yaml:"cache_capacity"`
	Watch         bool   `yaml:"watch"`
}

// StreamingConfig tunes the response stream.
type StreamingConfig struct {
	ChannelBuffer int                `yaml:"channel_buffer"`
	PartialFlush  PartialFlushPolicy `yaml:"partial_flush"`
	MaxAgentIter  int                `yaml:"max_agent_iter"`
}

// Config is the root configuration.
type Config struct {
	Workspace   string          `yaml:"workspace"`
	Debug       bool            `yaml:"debug"`
	ProjectPath string          `yaml:"project_path"` // prefix stripped from citations
	LLM         LLMConfig       `yaml:"llm"`
	Database    DatabaseConfig  `yaml:"database"`
	Prompts     PromptsConfig   `yaml:"prompts"`
	Streaming   StreamingConfig `yaml:"streaming"`
}

// Default returns the default configuration rooted at the given workspace.
func Default(workspace string) *Config {
	dataDir := filepath.Join(workspace, ".graphchat")
	return &Config{
		Workspace:   workspace,
		Debug:       false,
		ProjectPath: "projects/",
		LLM: LLMConfig{
			Provider:   "openai",
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-4o",
			SmallModel: "gpt-4o-mini",
			Timeout:    120,
			MaxTokens:  4096,
		},
		Database: DatabaseConfig{
			HistoryPath: filepath.Join(dataDir, "history.db"),
			GraphPath:   filepath.Join(dataDir, "graph.db"),
		},
		Prompts: PromptsConfig{
			Dir:           filepath.Join(dataDir, "prompts"),
			CacheCapacity: 2,
			Watch:         true,
		},
		Streaming: StreamingConfig{
			ChannelBuffer: 100,
			PartialFlush:  PartialFlushDiscard,
			MaxAgentIter:  5,
		},
	}
}

// Load reads configuration from path, filling gaps with defaults. A missing
// file is not an error; defaults apply. API keys can always be supplied via
// OPENAI_API_KEY / GEMINI_API_KEY instead of the file.
func Load(workspace, path string) (*Config, error) {
	cfg := Default(workspace)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment secrets onto the config.
func (c *Config) applyEnv() {
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "gemini":
			c.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		default:
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Streaming.PartialFlush {
	case PartialFlushDiscard, PartialFlushCommit, PartialFlushMarkIncomplete, "":
		if c.Streaming.PartialFlush == "" {
			c.Streaming.PartialFlush = PartialFlushDiscard
		}
	default:
		return fmt.Errorf("unknown partial_flush policy %q", c.Streaming.PartialFlush)
	}
	if c.Streaming.ChannelBuffer <= 0 {
		c.Streaming.ChannelBuffer = 100
	}
	if c.Streaming.MaxAgentIter <= 0 {
		c.Streaming.MaxAgentIter = 5
	}
	if c.Prompts.CacheCapacity <= 0 {
		c.Prompts.CacheCapacity = 2
	}
	return nil
}
