package config

import "time"

// SchedulerConfig tunes the Overlord Scheduler's concurrency, the Minion
// Agent's turn/error budgets, and the LLM pool's acquisition timeout.
type SchedulerConfig struct {
	// MaxConcurrentMinions caps active_minions; the scheduler defers new
	// work events once this is reached.
	MaxConcurrentMinions int `yaml:"max_concurrent_minions" validate:"min=1"`

	// TurnLimit is the default Minion Agent conversation turn budget.
	TurnLimit int `yaml:"turn_limit" validate:"min=1"`

	// ErrorThreshold is the consecutive tool-failure count that aborts a
	// Minion Agent run with status ERROR.
	ErrorThreshold int `yaml:"error_threshold" validate:"min=1"`

	// HeartbeatInterval is how often the Reporter emits a heartbeat event.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" validate:"required"`

	// AcquireTimeout bounds how long an LLM pool slot acquisition blocks.
	AcquireTimeout time.Duration `yaml:"acquire_timeout" validate:"required"`

	// AnswerTimeout and AnswerPollInterval bound Reporter.poll_answer.
	AnswerTimeout      time.Duration `yaml:"answer_timeout" validate:"required"`
	AnswerPollInterval time.Duration `yaml:"answer_poll_interval" validate:"required"`

	// PollInterval is how often the scheduler's event loop runs a queue
	// sweep.
	PollInterval time.Duration `yaml:"poll_interval" validate:"required"`

	// SafetyThreshold and PerRepoCost feed can_perform_sweep's rate-limit
	// budget check: remaining >= SafetyThreshold + PerRepoCost*len(WatchedRepos).
	SafetyThreshold int `yaml:"safety_threshold" validate:"min=0"`
	PerRepoCost     int `yaml:"per_repo_cost" validate:"min=0"`
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		MaxConcurrentMinions: 5,
		TurnLimit:            50,
		ErrorThreshold:       3,
		HeartbeatInterval:    60 * time.Second,
		AcquireTimeout:       60 * time.Second,
		AnswerTimeout:        600 * time.Second,
		AnswerPollInterval:   15 * time.Second,
		PollInterval:         30 * time.Second,
		SafetyThreshold:      100,
		PerRepoCost:          10,
	}
}

// OrphanThreshold is the no-heartbeat duration beyond which a Minion is
// force-transitioned to timed_out by the recovery sweep, independent of the
// normal watchdog cadence.
func (s *SchedulerConfig) OrphanThreshold() time.Duration {
	return 3 * s.HeartbeatInterval
}
