package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	configure(v)
	if yaml != "" {
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	}
	return v
}

func TestDefaultsAreValid(t *testing.T) {
	config, err := loadConfig(newViper(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "data/profile.json", config.Profile)
	assert.Equal(t, "data/autoapply.db", config.Store.Path)
	assert.True(t, config.Browser.Headless)
	assert.Equal(t, []string{"disable-dev-shm-usage"}, config.Browser.Args)
	assert.Equal(t, 0.75, config.Matching.MinimumConfidence)
	assert.Equal(t, 3, config.Fill.MaxAttempts)
	assert.Equal(t, 5*time.Minute, config.Verification.Timeout)
	assert.True(t, config.Verification.AllowAcceptedGaps)
	assert.Equal(t, 2, config.Orchestrator.DiscoveryRetries)
	assert.Equal(t, providerGemini, config.AI.Provider)
	assert.Equal(t, "gemini-2.5-flash", config.AI.Gemini.Model)
}

func TestConfigFileOverrides(t *testing.T) {
	config, err := loadConfig(newViper(t, `
profile: /home/ada/profile.yaml
browser:
  headless: false
  action-timeout: 3s
matching:
  minimum-confidence: 0.9
verification:
  timeout: 90s
  allow-accepted-gaps: false
ai:
  provider: Lexical
extract:
  command: ["pdf2profile", "--json"]
`))
	require.NoError(t, err)

	assert.Equal(t, "/home/ada/profile.yaml", config.Profile)
	assert.False(t, config.Browser.Headless)
	assert.Equal(t, 3*time.Second, config.Browser.ActionTimeout)
	assert.Equal(t, 0.9, config.Matching.MinimumConfidence)
	assert.Equal(t, 90*time.Second, config.Verification.Timeout)
	assert.False(t, config.Verification.AllowAcceptedGaps)
	assert.Equal(t, providerLexical, config.AI.Provider)
	assert.Equal(t, []string{"pdf2profile", "--json"}, config.Extract.Command)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("AUTOAPPLY_STORE_PATH", "/var/lib/autoapply.db")
	t.Setenv("AUTOAPPLY_ORCHESTRATOR_MAX_PARALLEL", "4")

	config, err := loadConfig(newViper(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/autoapply.db", config.Store.Path)
	assert.Equal(t, 4, config.Orchestrator.MaxParallel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	_, err := loadConfig(newViper(t, `
matching:
  minimum-confidence: 1.5
  lexical-weight: 0
  model-weight: 0
verification:
  timeout: 0s
orchestrator:
  max-parallel: 0
ai:
  provider: openai
`))
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{
		"matching.minimum-confidence",
		"matching weights must not both be zero",
		"verification.timeout",
		"orchestrator.max-parallel",
		`unsupported ai provider: "openai"`,
	} {
		assert.Contains(t, msg, want)
	}
}
