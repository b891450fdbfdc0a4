package config

// NotificationsConfig groups operator-facing alert sinks.
type NotificationsConfig struct {
	Slack *SlackConfig `yaml:"slack,omitempty"`
}

// SlackConfig configures the fingerprint-threaded Slack notification sink
// used for needs-attention/timed_out/tamper-detected events.
type SlackConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// DefaultNotificationsConfig returns Slack disabled with the conventional
// token env var name.
func DefaultNotificationsConfig() *NotificationsConfig {
	return &NotificationsConfig{
		Slack: &SlackConfig{
			TokenEnv: "SLACK_BOT_TOKEN",
		},
	}
}

// IsEnabled reports whether the Slack sink should be active.
func (s *SlackConfig) IsEnabled() bool {
	return s != nil && s.Enabled != nil && *s.Enabled
}
