// Package config loads the agent configuration from config.json and
// the environment. The file carries defaults (providers, step sleep)
// and per-tool model overrides; environment variables override the
// file's env block so deployments can inject API keys without editing
// the file.
package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
)

// LLMProvider selects the model backend.
type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderGemini LLMProvider = "gemini"
	ProviderVertex LLMProvider = "vertex"
)

// SearchProvider selects the web-search backend.
type SearchProvider string

const (
	SearchJina   SearchProvider = "jina"
	SearchDuck   SearchProvider = "duck"
	SearchBrave  SearchProvider = "brave"
	SearchSerper SearchProvider = "serper"
)

// ToolConfig is the resolved model configuration for one tool.
type ToolConfig struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

// ProviderModels holds the default model config and per-tool overrides
// for one LLM provider.
type ProviderModels struct {
	Default ToolConfig            `json:"default"`
	Tools   map[string]ToolConfig `json:"tools"`
}

// Defaults is the defaults block of config.json.
type Defaults struct {
	LLMProvider    string `json:"llm_provider"`
	SearchProvider string `json:"search_provider"`
	StepSleepMS    int    `json:"step_sleep"`
}

// File mirrors the on-disk config.json structure.
type File struct {
	Env      map[string]string         `json:"env"`
	Defaults Defaults                  `json:"defaults"`
	Models   map[string]ProviderModels `json:"models"`
}

// Config is the validated runtime configuration.
type Config struct {
	file File

	LLMProvider    LLMProvider
	SearchProvider SearchProvider
	StepSleepMS    int
}

// envKeys lists the env-block entries that the process environment may
// override.
var envKeys = []string{
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "GEMINI_API_KEY",
	"JINA_API_KEY", "BRAVE_API_KEY", "SERPER_API_KEY",
	"DEFAULT_MODEL_NAME", "https_proxy",
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if file.Env == nil {
		file.Env = make(map[string]string)
	}

	for _, key := range envKeys {
		if v := os.Getenv(key); v != "" {
			file.Env[key] = v
		}
	}

	cfg := &Config{
		file:           file,
		LLMProvider:    LLMProvider(file.Defaults.LLMProvider),
		SearchProvider: SearchProvider(file.Defaults.SearchProvider),
		StepSleepMS:    file.Defaults.StepSleepMS,
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = LLMProvider(v)
	}
	if v := os.Getenv("SEARCH_PROVIDER"); v != "" {
		cfg.SearchProvider = SearchProvider(v)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.Env("OPENAI_API_KEY") == "" {
			return fmt.Errorf("OPENAI_API_KEY not found")
		}
	case ProviderGemini, ProviderVertex:
		if c.Env("GEMINI_API_KEY") == "" {
			return fmt.Errorf("GEMINI_API_KEY not found")
		}
	default:
		return fmt.Errorf("invalid LLM provider: %q", c.LLMProvider)
	}

	switch c.SearchProvider {
	case SearchJina:
		if c.Env("JINA_API_KEY") == "" {
			return fmt.Errorf("JINA_API_KEY not found")
		}
	case SearchBrave:
		if c.Env("BRAVE_API_KEY") == "" {
			return fmt.Errorf("BRAVE_API_KEY not found")
		}
	case SearchSerper:
		if c.Env("SERPER_API_KEY") == "" {
			return fmt.Errorf("SERPER_API_KEY not found")
		}
	case SearchDuck:
		// No key required.
	default:
		return fmt.Errorf("invalid search provider: %q", c.SearchProvider)
	}
	return nil
}

// Env returns a value from the merged env block.
func (c *Config) Env(key string) string {
	return c.file.Env[key]
}

// modelProvider maps the runtime provider to its models block; vertex
// reuses the gemini model catalog.
func (c *Config) modelProvider() string {
	if c.LLMProvider == ProviderVertex {
		return string(ProviderGemini)
	}
	return string(c.LLMProvider)
}

// ToolConfig resolves the model configuration for a tool, applying the
// per-tool override on top of the provider default. DEFAULT_MODEL_NAME
// overrides the model name globally.
func (c *Config) ToolConfig(tool string) ToolConfig {
	provider := c.file.Models[c.modelProvider()]
	resolved := provider.Default
	if override, ok := provider.Tools[tool]; ok {
		if override.Model != "" {
			resolved.Model = override.Model
		}
		if override.Temperature != 0 {
			resolved.Temperature = override.Temperature
		}
		if override.MaxTokens != 0 {
			resolved.MaxTokens = override.MaxTokens
		}
	}
	if name := c.Env("DEFAULT_MODEL_NAME"); name != "" {
		resolved.Model = name
	}
	return resolved
}

// HTTPClient returns a client honoring the https_proxy setting.
func (c *Config) HTTPClient() *http.Client {
	proxy := c.Env("https_proxy")
	if proxy == "" {
		return http.DefaultClient
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return http.DefaultClient
	}
	return &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}
}

// Summary returns a loggable view of the effective configuration with
// secrets omitted.
func (c *Config) Summary() map[string]any {
	tools := make(map[string]ToolConfig)
	for name := range c.file.Models[c.modelProvider()].Tools {
		tools[name] = c.ToolConfig(name)
	}
	return map[string]any{
		"provider": map[string]any{
			"name":  c.LLMProvider,
			"model": c.ToolConfig("agent").Model,
		},
		"search": map[string]any{
			"provider": c.SearchProvider,
		},
		"tools": tools,
		"defaults": map[string]any{
			"stepSleep": c.StepSleepMS,
		},
	}
}
