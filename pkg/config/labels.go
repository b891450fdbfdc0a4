package config

// LabelsConfig names the GitHub/GitLab labels the Issue Queue Scanner uses
// to select and transition issues.
type LabelsConfig struct {
	Work           string `yaml:"work"`
	InProgress     string `yaml:"in_progress"`
	InReview       string `yaml:"in_review"`
	HighPriority   string `yaml:"high_priority"`
	NeedsAttention string `yaml:"needs_attention"`
}

// DefaultLabelsConfig returns the built-in label names.
func DefaultLabelsConfig() LabelsConfig {
	return LabelsConfig{
		Work:           "nebulus-ready",
		InProgress:     "nebulus-in-progress",
		InReview:       "nebulus-in-review",
		HighPriority:   "nebulus-priority",
		NeedsAttention: "nebulus-needs-attention",
	}
}
