package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/spigell/autoapply/internal/browser"
	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/matching"
	"github.com/spigell/autoapply/internal/orchestrator"
	"github.com/spigell/autoapply/internal/storage"
	"github.com/spigell/autoapply/internal/verification"
)

const (
	providerGemini  = "gemini"
	providerLexical = "lexical"
)

type Config struct {
	Profile      string               `mapstructure:"profile"`
	DataDir      string               `mapstructure:"data-dir"`
	Store        storage.Config       `mapstructure:"store"`
	Browser      browser.Options      `mapstructure:"browser"`
	Matching     matching.Options     `mapstructure:"matching"`
	Fill         fill.Options         `mapstructure:"fill"`
	Verification verification.Policy  `mapstructure:"verification"`
	Orchestrator orchestrator.Options `mapstructure:"orchestrator"`
	AI           AIConfig             `mapstructure:"ai"`
	Extract      ExtractConfig        `mapstructure:"extract"`
}

type AIConfig struct {
	Provider string       `mapstructure:"provider"`
	Gemini   GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey            string  `mapstructure:"api-key"`
	APIKeyFile        string  `mapstructure:"api-key-file"`
	Model             string  `mapstructure:"model"`
	MaxRetries        int     `mapstructure:"max-retries"`
	RequestsPerSecond float64 `mapstructure:"requests-per-second"`
	MaxLogLength      int     `mapstructure:"max-log-length"`
}

// ExtractConfig describes the external profile extractor. Command gets the
// PDF path appended and must print the normalized profile JSON to stdout.
type ExtractConfig struct {
	Command []string      `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("profile", "data/profile.json")
	v.SetDefault("data-dir", "data")
	v.SetDefault("store.path", "data/autoapply.db")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec-path", "")
	v.SetDefault("browser.user-agent", "")
	v.SetDefault("browser.args", []string{"disable-dev-shm-usage"})
	v.SetDefault("browser.action-timeout", 10*time.Second)
	v.SetDefault("browser.navigation-timeout", 60*time.Second)
	v.SetDefault("browser.settle-delay", time.Second)

	defaults := matching.DefaultOptions()
	v.SetDefault("matching.minimum-confidence", defaults.MinimumConfidence)
	v.SetDefault("matching.lexical-weight", defaults.LexicalWeight)
	v.SetDefault("matching.model-weight", defaults.ModelWeight)
	v.SetDefault("matching.option-threshold", defaults.OptionThreshold)

	v.SetDefault("fill.max-attempts", 3)
	v.SetDefault("fill.backoff", 250*time.Millisecond)

	v.SetDefault("verification.timeout", 5*time.Minute)
	v.SetDefault("verification.allow-accepted-gaps", true)

	v.SetDefault("orchestrator.max-steps", 10)
	v.SetDefault("orchestrator.discovery-retries", 2)
	v.SetDefault("orchestrator.discovery-retry-delay", 2*time.Second)
	v.SetDefault("orchestrator.max-parallel", 1)

	v.SetDefault("ai.provider", providerGemini)
	v.SetDefault("ai.gemini.api-key", "")
	v.SetDefault("ai.gemini.api-key-file", "")
	v.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	v.SetDefault("ai.gemini.max-retries", 3)
	v.SetDefault("ai.gemini.requests-per-second", 2.0)
	v.SetDefault("ai.gemini.max-log-length", 200)

	v.SetDefault("extract.command", []string{})
	v.SetDefault("extract.timeout", 2*time.Minute)
}

func getConfig() (*Config, error) {
	return loadConfig(viper.GetViper())
}

func loadConfig(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	config.AI.Provider = strings.ToLower(strings.TrimSpace(config.AI.Provider))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate reports every problem found, not only the first.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	unit := func(f float64) bool { return f >= 0 && f <= 1 }

	check(strings.TrimSpace(c.Profile) != "", "profile path is required")
	check(strings.TrimSpace(c.Store.Path) != "", "store.path is required")

	check(unit(c.Matching.MinimumConfidence), "matching.minimum-confidence must be within [0,1], got %v", c.Matching.MinimumConfidence)
	check(unit(c.Matching.OptionThreshold), "matching.option-threshold must be within [0,1], got %v", c.Matching.OptionThreshold)
	check(c.Matching.LexicalWeight >= 0 && c.Matching.ModelWeight >= 0, "matching weights must not be negative")
	check(c.Matching.LexicalWeight+c.Matching.ModelWeight > 0, "matching weights must not both be zero")

	check(c.Fill.MaxAttempts > 0, "fill.max-attempts must be positive")
	check(c.Fill.Backoff >= 0, "fill.backoff must not be negative")
	check(c.Verification.Timeout > 0, "verification.timeout must be positive")
	check(c.Browser.ActionTimeout > 0, "browser.action-timeout must be positive")
	check(c.Browser.NavigationTimeout > 0, "browser.navigation-timeout must be positive")
	check(c.Orchestrator.MaxSteps > 0, "orchestrator.max-steps must be positive")
	check(c.Orchestrator.DiscoveryRetries >= 0, "orchestrator.discovery-retries must not be negative")
	check(c.Orchestrator.MaxParallel > 0, "orchestrator.max-parallel must be positive")
	check(c.Extract.Timeout > 0, "extract.timeout must be positive")

	switch c.AI.Provider {
	case providerGemini:
		check(c.AI.Gemini.Model != "", "ai.gemini.model is required")
		check(c.AI.Gemini.RequestsPerSecond >= 0, "ai.gemini.requests-per-second must not be negative")
	case providerLexical:
	default:
		check(false, "unsupported ai provider: %q", c.AI.Provider)
	}

	return errors.Join(errs...)
}
