package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validator validates configuration comprehensively with clear error messages
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// validateTags runs go-playground/validator's struct-tag checks (bounds,
// required fields, enum membership) against s, reporting the first
// violation as a ValidationError under component. Cross-field rules and
// checks that need the live environment (os.LookupEnv, registry lookups)
// stay hand-rolled below, since struct tags alone can't express them.
func validateTags(component, id string, s any) error {
	err := structValidator.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !asValidationErrors(err, &fieldErrs) || len(fieldErrs) == 0 {
		return NewValidationError(component, id, "", err)
	}
	fe := fieldErrs[0]
	return NewValidationError(component, id, fe.Field(), fmt.Errorf("failed %q validation (got %v)", fe.Tag(), fe.Value()))
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = ve
	return true
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *Validator) ValidateAll() error {
	if err := v.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler validation failed: %w", err)
	}

	if err := v.validateReview(); err != nil {
		return fmt.Errorf("review validation failed: %w", err)
	}

	if err := v.validateChecks(); err != nil {
		return fmt.Errorf("checks validation failed: %w", err)
	}

	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}

	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}

	if err := v.validateSlack(); err != nil {
		return fmt.Errorf("slack validation failed: %w", err)
	}

	return nil
}

func (v *Validator) validateScheduler() error {
	s := v.cfg.Scheduler
	if s == nil {
		return fmt.Errorf("scheduler configuration is nil")
	}
	if err := validateTags("scheduler", "", s); err != nil {
		return err
	}

	if s.MaxConcurrentMinions < 1 {
		return NewValidationError("scheduler", "", "max_concurrent_minions", fmt.Errorf("must be at least 1, got %d", s.MaxConcurrentMinions))
	}
	if s.TurnLimit < 1 {
		return NewValidationError("scheduler", "", "turn_limit", fmt.Errorf("must be at least 1, got %d", s.TurnLimit))
	}
	if s.ErrorThreshold < 1 {
		return NewValidationError("scheduler", "", "error_threshold", fmt.Errorf("must be at least 1, got %d", s.ErrorThreshold))
	}
	if s.HeartbeatInterval <= 0 {
		return NewValidationError("scheduler", "", "heartbeat_interval", fmt.Errorf("must be positive, got %v", s.HeartbeatInterval))
	}
	if s.AcquireTimeout <= 0 {
		return NewValidationError("scheduler", "", "acquire_timeout", fmt.Errorf("must be positive, got %v", s.AcquireTimeout))
	}
	if s.AnswerTimeout <= 0 {
		return NewValidationError("scheduler", "", "answer_timeout", fmt.Errorf("must be positive, got %v", s.AnswerTimeout))
	}
	if s.AnswerPollInterval <= 0 {
		return NewValidationError("scheduler", "", "answer_poll_interval", fmt.Errorf("must be positive, got %v", s.AnswerPollInterval))
	}
	if s.AnswerPollInterval >= s.AnswerTimeout {
		return NewValidationError("scheduler", "", "answer_poll_interval", fmt.Errorf("must be less than answer_timeout, got poll=%v timeout=%v", s.AnswerPollInterval, s.AnswerTimeout))
	}
	if s.PollInterval <= 0 {
		return NewValidationError("scheduler", "", "poll_interval", fmt.Errorf("must be positive, got %v", s.PollInterval))
	}
	if s.SafetyThreshold < 0 {
		return NewValidationError("scheduler", "", "safety_threshold", fmt.Errorf("must be non-negative, got %d", s.SafetyThreshold))
	}
	if s.PerRepoCost < 0 {
		return NewValidationError("scheduler", "", "per_repo_cost", fmt.Errorf("must be non-negative, got %d", s.PerRepoCost))
	}

	return nil
}

func (v *Validator) validateReview() error {
	r := v.cfg.Review
	if r == nil {
		return fmt.Errorf("review configuration is nil")
	}
	if err := validateTags("review", "", r); err != nil {
		return err
	}

	if r.MaxDiffLines < 1 {
		return NewValidationError("review", "", "max_diff_lines", fmt.Errorf("must be at least 1, got %d", r.MaxDiffLines))
	}
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		return NewValidationError("review", "", "confidence_threshold", fmt.Errorf("must be in [0,1], got %v", r.ConfidenceThreshold))
	}
	if r.MaxRevisions < 0 {
		return NewValidationError("review", "", "max_revisions", fmt.Errorf("must be non-negative, got %d", r.MaxRevisions))
	}
	switch r.MergeMethod {
	case "", "merge", "squash", "rebase":
	default:
		return NewValidationError("review", "", "merge_method", fmt.Errorf("must be one of merge|squash|rebase, got %q", r.MergeMethod))
	}

	return nil
}

func (v *Validator) validateChecks() error {
	c := v.cfg.Checks
	if c == nil {
		return fmt.Errorf("checks configuration is nil")
	}

	if c.Timeout <= 0 {
		return NewValidationError("checks", "", "timeout", fmt.Errorf("must be positive, got %v", c.Timeout))
	}
	if c.MaxFileSizeBytes <= 0 {
		return NewValidationError("checks", "", "max_file_size_bytes", fmt.Errorf("must be positive, got %d", c.MaxFileSizeBytes))
	}
	if c.MaxFileLines <= 0 {
		return NewValidationError("checks", "", "max_file_lines", fmt.Errorf("must be positive, got %d", c.MaxFileLines))
	}

	return nil
}

func (v *Validator) validateRetention() error {
	r := v.cfg.Retention
	if r == nil {
		return fmt.Errorf("retention configuration is nil")
	}

	if r.WorkHistoryRetentionDays < 1 {
		return NewValidationError("retention", "", "work_history_retention_days", fmt.Errorf("must be at least 1, got %d", r.WorkHistoryRetentionDays))
	}
	if r.AuditLogRetentionDays < 1 {
		return NewValidationError("retention", "", "audit_log_retention_days", fmt.Errorf("must be at least 1, got %d", r.AuditLogRetentionDays))
	}
	if r.CleanupInterval <= 0 {
		return NewValidationError("retention", "", "cleanup_interval", fmt.Errorf("must be positive, got %v", r.CleanupInterval))
	}

	return nil
}

func (v *Validator) validateLLMProviders() error {
	if v.cfg.LLMProviderRegistry == nil || v.cfg.LLMProviderRegistry.Len() == 0 {
		return nil
	}

	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if err := validateTags("llm_provider", name, provider); err != nil {
			return err
		}
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}

		switch provider.Type {
		case LLMProviderTypeOpenAICompatible:
			if provider.APIKeyEnv != "" {
				if _, ok := os.LookupEnv(provider.APIKeyEnv); !ok {
					return NewValidationError("llm_provider", name, "api_key_env", fmt.Errorf("environment variable %s is not set", provider.APIKeyEnv))
				}
			}
		case LLMProviderTypeAnthropic:
			if provider.APIKeyEnv == "" {
				return NewValidationError("llm_provider", name, "api_key_env", fmt.Errorf("required for anthropic provider"))
			}
			if _, ok := os.LookupEnv(provider.APIKeyEnv); !ok {
				return NewValidationError("llm_provider", name, "api_key_env", fmt.Errorf("environment variable %s is not set", provider.APIKeyEnv))
			}
		case LLMProviderTypeBedrock:
			if provider.RegionEnv != "" {
				if _, ok := os.LookupEnv(provider.RegionEnv); !ok {
					return NewValidationError("llm_provider", name, "region_env", fmt.Errorf("environment variable %s is not set", provider.RegionEnv))
				}
			}
		}

		if provider.MaxConcurrent < 0 {
			return NewValidationError("llm_provider", name, "max_concurrent", fmt.Errorf("must be non-negative, got %d", provider.MaxConcurrent))
		}
	}

	return nil
}

func (v *Validator) validateDefaults() error {
	defaults := v.cfg.Defaults
	if defaults == nil || defaults.DefaultLLMProvider == "" {
		return nil
	}

	if !v.cfg.LLMProviderRegistry.Has(defaults.DefaultLLMProvider) {
		return NewValidationError("defaults", "", "default_llm_provider",
			fmt.Errorf("provider %q not found", defaults.DefaultLLMProvider))
	}

	return nil
}

func (v *Validator) validateSlack() error {
	n := v.cfg.Notifications
	if n == nil || n.Slack == nil || !n.Slack.IsEnabled() {
		return nil
	}
	s := n.Slack

	if s.Channel == "" {
		return NewValidationError("notifications", "slack", "channel", fmt.Errorf("required when Slack is enabled"))
	}
	if s.TokenEnv == "" {
		return NewValidationError("notifications", "slack", "token_env", fmt.Errorf("required when Slack is enabled"))
	}
	if _, ok := os.LookupEnv(s.TokenEnv); !ok {
		return NewValidationError("notifications", "slack", "token_env", fmt.Errorf("environment variable %s is not set", s.TokenEnv))
	}

	return nil
}
