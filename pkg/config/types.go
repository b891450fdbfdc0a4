package config

// Config is the umbrella configuration object returned by Initialize. It
// carries the watched-repo allow-list, scheduler/review tuning, the LLM
// provider registry, and the ambient concerns (masking, notifications,
// retention) that every component resolves through it.
type Config struct {
	configDir string

	WatchedRepos  []string
	Labels        LabelsConfig
	Defaults      *Defaults
	Scheduler     *SchedulerConfig
	Review        *ReviewConfig
	Checks        *ChecksConfig
	Retention     *RetentionConfig
	GitHub        *GitHubConfig
	Notifications *NotificationsConfig
	Masking       *MaskingConfig

	LLMProviderRegistry *LLMProviderRegistry
}

// ConfigStats summarizes loaded configuration for startup logging.
type ConfigStats struct {
	WatchedRepos int
	LLMProviders int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		WatchedRepos: len(c.WatchedRepos),
		LLMProviders: c.LLMProviderRegistry.Len(),
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetLLMProvider retrieves an LLM provider configuration by name.
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}

// IsWatchedRepo reports whether identifier (in any of the accepted forms —
// "org/repo", a full HTTPS URL, or an SSH remote) names a repository on the
// watched list. Both sides are normalized before comparison.
func (c *Config) IsWatchedRepo(identifier string) bool {
	norm := NormalizeRepoIdentifier(identifier)
	for _, repo := range c.WatchedRepos {
		if repo == norm {
			return true
		}
	}
	return false
}
