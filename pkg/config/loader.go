package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// OverlordYAMLConfig represents the complete overlord.yaml file structure.
type OverlordYAMLConfig struct {
	WatchedRepos  []string                     `yaml:"watched_repos"`
	Labels        *LabelsConfig                `yaml:"labels"`
	Defaults      *Defaults                    `yaml:"defaults"`
	Scheduler     *SchedulerConfig             `yaml:"scheduler"`
	Review        *ReviewConfig                `yaml:"review"`
	Checks        *ChecksConfig                `yaml:"checks"`
	Retention     *RetentionConfig             `yaml:"retention"`
	GitHub        *GitHubConfig                `yaml:"github"`
	Notifications *NotificationsConfig         `yaml:"notifications"`
	Masking       *MaskingConfig               `yaml:"masking"`
	LLMProviders  map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration. This
// is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load .env (if present) so referenced API-key env vars are available
//  2. Load overlord.yaml from configDir
//  3. Expand environment variables
//  4. Parse YAML into structs
//  5. Merge built-in masking patterns + user custom patterns
//  6. Apply built-in defaults for any unset section
//  7. Build the LLM provider registry
//  8. Validate all configuration
//  9. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	if err := loadDotEnv(configDir); err != nil {
		log.Warn("failed to load .env file", "error", err)
	}

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"watched_repos", stats.WatchedRepos,
		"llm_providers", stats.LLMProviders)

	return cfg, nil
}

// loadDotEnv loads a .env file from configDir if present. A missing file is
// not an error — most deployments inject secrets as real environment
// variables instead.
func loadDotEnv(configDir string) error {
	path := filepath.Join(configDir, ".env")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// load is the internal loader (not exported).
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadOverlordYAML()
	if err != nil {
		return nil, NewLoadError("overlord.yaml", err)
	}

	builtin := GetBuiltinConfig()

	labels := builtin.DefaultLabels
	if yamlCfg.Labels != nil {
		if err := mergo.Merge(&labels, *yamlCfg.Labels, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge labels: %w", err)
		}
	}

	defaults := yamlCfg.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}

	scheduler := DefaultSchedulerConfig()
	if yamlCfg.Scheduler != nil {
		if err := mergo.Merge(scheduler, *yamlCfg.Scheduler, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge scheduler config: %w", err)
		}
	}

	review := DefaultReviewConfig()
	if yamlCfg.Review != nil {
		if err := overrideReview(review, yamlCfg.Review); err != nil {
			return nil, fmt.Errorf("merge review config: %w", err)
		}
	}

	checks := DefaultChecksConfig()
	if yamlCfg.Checks != nil {
		if err := mergo.Merge(checks, *yamlCfg.Checks, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge checks config: %w", err)
		}
	}

	retention := DefaultRetentionConfig()
	if yamlCfg.Retention != nil {
		if err := mergo.Merge(retention, *yamlCfg.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge retention config: %w", err)
		}
	}

	github := DefaultGitHubConfig()
	if yamlCfg.GitHub != nil && yamlCfg.GitHub.TokenEnv != "" {
		github.TokenEnv = yamlCfg.GitHub.TokenEnv
	}

	notifications := DefaultNotificationsConfig()
	if yamlCfg.Notifications != nil {
		overrideNotifications(notifications, yamlCfg.Notifications)
	}

	masking := DefaultMaskingConfig()
	if yamlCfg.Masking != nil {
		masking.Enabled = yamlCfg.Masking.Enabled
		masking.Custom = yamlCfg.Masking.Custom
	}

	providers := mergeLLMProviders(nil, yamlCfg.LLMProviders)
	providerRegistry := NewLLMProviderRegistry(providers)

	return &Config{
		configDir:           configDir,
		WatchedRepos:        normalizeRepoList(yamlCfg.WatchedRepos),
		Labels:              labels,
		Defaults:            defaults,
		Scheduler:           scheduler,
		Review:              review,
		Checks:              checks,
		Retention:           retention,
		GitHub:              github,
		Notifications:       notifications,
		Masking:             masking,
		LLMProviderRegistry: providerRegistry,
	}, nil
}

// overrideReview merges a user-supplied review override onto the built-in
// defaults. AutoMergeEnabled is a plain bool rather than a pointer, so it is
// always copied across regardless of zero-value (mergo.WithOverride would
// otherwise treat an explicit false as "unset" and leave the default in place).
func overrideReview(dst *ReviewConfig, override *ReviewConfig) error {
	autoMerge := override.AutoMergeEnabled
	if err := mergo.Merge(dst, *override, mergo.WithOverride); err != nil {
		return err
	}
	dst.AutoMergeEnabled = autoMerge
	return nil
}

func overrideNotifications(dst *NotificationsConfig, override *NotificationsConfig) {
	if override.Slack == nil {
		return
	}
	if dst.Slack == nil {
		dst.Slack = &SlackConfig{}
	}
	if override.Slack.Enabled != nil {
		dst.Slack.Enabled = override.Slack.Enabled
	}
	if override.Slack.TokenEnv != "" {
		dst.Slack.TokenEnv = override.Slack.TokenEnv
	}
	if override.Slack.Channel != "" {
		dst.Slack.Channel = override.Slack.Channel
	}
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadOverlordYAML() (*OverlordYAMLConfig, error) {
	var cfg OverlordYAMLConfig
	cfg.LLMProviders = make(map[string]LLMProviderConfig)

	if err := l.loadYAML("overlord.yaml", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
