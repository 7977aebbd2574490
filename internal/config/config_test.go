package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const baseConfig = `{
  "env": {"OPENAI_API_KEY": "sk-test"},
  "defaults": {"llm_provider": "openai", "search_provider": "duck", "step_sleep": 100},
  "models": {
    "openai": {
      "default": {"model": "gpt-4o", "temperature": 0, "maxTokens": 8000},
      "tools": {
        "coder": {"temperature": 0.7},
        "searchGrounding": {"model": "gpt-4o-mini"}
      }
    }
  }
}`

func TestLoadResolvesToolOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	assert.Equal(t, SearchDuck, cfg.SearchProvider)
	assert.Equal(t, 100, cfg.StepSleepMS)

	agent := cfg.ToolConfig("agent")
	assert.Equal(t, "gpt-4o", agent.Model)
	assert.Equal(t, 8000, agent.MaxTokens)

	coder := cfg.ToolConfig("coder")
	assert.Equal(t, "gpt-4o", coder.Model)
	assert.Equal(t, 0.7, coder.Temperature)

	grounding := cfg.ToolConfig("searchGrounding")
	assert.Equal(t, "gpt-4o-mini", grounding.Model)
}

func TestLoadRejectsMissingKey(t *testing.T) {
	_, err := Load(writeConfig(t, `{
  "defaults": {"llm_provider": "gemini", "search_provider": "duck"},
  "models": {}
}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestLoadRejectsUnknownProviders(t *testing.T) {
	_, err := Load(writeConfig(t, `{
  "env": {"OPENAI_API_KEY": "sk"},
  "defaults": {"llm_provider": "openai", "search_provider": "altavista"},
  "models": {}
}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid search provider")
}

func TestProcessEnvOverridesFile(t *testing.T) {
	t.Setenv("DEFAULT_MODEL_NAME", "my-model")
	cfg, err := Load(writeConfig(t, baseConfig))
	require.NoError(t, err)
	assert.Equal(t, "my-model", cfg.ToolConfig("agent").Model)
	assert.Equal(t, "my-model", cfg.ToolConfig("coder").Model)
}

func TestProviderEnvOverride(t *testing.T) {
	t.Setenv("SEARCH_PROVIDER", "brave")
	t.Setenv("BRAVE_API_KEY", "bk")
	cfg, err := Load(writeConfig(t, baseConfig))
	require.NoError(t, err)
	assert.Equal(t, SearchBrave, cfg.SearchProvider)
}

func TestVertexSharesGeminiModels(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "vertex")
	t.Setenv("GEMINI_API_KEY", "gk")
	cfg, err := Load(writeConfig(t, `{
  "defaults": {"llm_provider": "openai", "search_provider": "duck"},
  "models": {
    "gemini": {"default": {"model": "gemini-2.0-flash", "temperature": 0, "maxTokens": 8000}},
    "openai": {"default": {"model": "gpt-4o", "temperature": 0, "maxTokens": 8000}}
  },
  "env": {"OPENAI_API_KEY": "sk"}
}`))
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", cfg.ToolConfig("agent").Model)
}

func TestSummaryOmitsSecrets(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	require.NoError(t, err)
	summary := cfg.Summary()
	_, hasEnv := summary["env"]
	assert.False(t, hasEnv)
	assert.NotNil(t, summary["provider"])
}
