package config

import (
	"errors"
	"testing"
)

func validConfig() *Config {
	return &Config{
		WatchedRepos:        []string{"org/repo"},
		Defaults:            &Defaults{},
		Scheduler:           DefaultSchedulerConfig(),
		Review:              DefaultReviewConfig(),
		Checks:              DefaultChecksConfig(),
		Retention:           DefaultRetentionConfig(),
		Notifications:       DefaultNotificationsConfig(),
		LLMProviderRegistry: NewLLMProviderRegistry(nil),
	}
}

func TestValidateAllAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	if err := NewValidator(cfg).ValidateAll(); err != nil {
		t.Fatalf("expected default config to validate, got: %v", err)
	}
}

func TestValidateSchedulerRejectsZeroMaxConcurrentMinions(t *testing.T) {
	cfg := validConfig()
	cfg.Scheduler.MaxConcurrentMinions = 0

	err := NewValidator(cfg).ValidateAll()
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateSchedulerRejectsPollIntervalNotLessThanTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Scheduler.AnswerPollInterval = cfg.Scheduler.AnswerTimeout

	if err := NewValidator(cfg).ValidateAll(); err == nil {
		t.Fatal("expected answer_poll_interval >= answer_timeout to fail validation")
	}
}

func TestValidateReviewRejectsOutOfRangeConfidenceThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.Review.ConfidenceThreshold = 1.5

	if err := NewValidator(cfg).ValidateAll(); err == nil {
		t.Fatal("expected confidence_threshold > 1 to fail validation")
	}
}

func TestValidateReviewRejectsUnknownMergeMethod(t *testing.T) {
	cfg := validConfig()
	cfg.Review.MergeMethod = "fast-forward"

	if err := NewValidator(cfg).ValidateAll(); err == nil {
		t.Fatal("expected unknown merge_method to fail validation")
	}
}

func TestValidateChecksRejectsNonPositiveTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Checks.Timeout = 0

	if err := NewValidator(cfg).ValidateAll(); err == nil {
		t.Fatal("expected zero checks timeout to fail validation")
	}
}

func TestValidateDefaultsRejectsUnknownProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Defaults.DefaultLLMProvider = "ghost"

	if err := NewValidator(cfg).ValidateAll(); err == nil {
		t.Fatal("expected unknown default_llm_provider to fail validation")
	}
}

func TestValidateDefaultsAcceptsKnownProvider(t *testing.T) {
	cfg := validConfig()
	cfg.LLMProviderRegistry = NewLLMProviderRegistry(map[string]*LLMProviderConfig{
		"primary": {Type: LLMProviderTypeOpenAICompatible, Model: "gpt-4"},
	})
	cfg.Defaults.DefaultLLMProvider = "primary"

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		t.Fatalf("expected known default provider to validate, got: %v", err)
	}
}

func TestValidateLLMProvidersRejectsMissingModel(t *testing.T) {
	cfg := validConfig()
	cfg.LLMProviderRegistry = NewLLMProviderRegistry(map[string]*LLMProviderConfig{
		"primary": {Type: LLMProviderTypeOpenAICompatible},
	})

	if err := NewValidator(cfg).ValidateAll(); err == nil {
		t.Fatal("expected missing model to fail validation")
	}
}

func TestValidateLLMProvidersRejectsAnthropicWithoutAPIKeyEnv(t *testing.T) {
	cfg := validConfig()
	cfg.LLMProviderRegistry = NewLLMProviderRegistry(map[string]*LLMProviderConfig{
		"claude": {Type: LLMProviderTypeAnthropic, Model: "claude-3"},
	})

	if err := NewValidator(cfg).ValidateAll(); err == nil {
		t.Fatal("expected anthropic provider without api_key_env to fail validation")
	}
}

func TestValidateSlackSkippedWhenDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.Notifications.Slack = &SlackConfig{}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		t.Fatalf("expected disabled slack config to be skipped, got: %v", err)
	}
}

func TestValidateSlackRequiresChannelAndTokenWhenEnabled(t *testing.T) {
	enabled := true
	cfg := validConfig()
	cfg.Notifications.Slack = &SlackConfig{Enabled: &enabled}

	if err := NewValidator(cfg).ValidateAll(); err == nil {
		t.Fatal("expected enabled slack without channel/token_env to fail validation")
	}
}

func TestValidationErrorIsReturnedAsConcreteType(t *testing.T) {
	cfg := validConfig()
	cfg.Scheduler.TurnLimit = 0

	err := NewValidator(cfg).ValidateAll()
	if err == nil {
		t.Fatal("expected error")
	}

	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected a wrapped *ValidationError, got: %v", err)
	}
	if valErr.Component != "scheduler" || valErr.Field != "turn_limit" {
		t.Fatalf("unexpected validation error detail: %+v", valErr)
	}
}
