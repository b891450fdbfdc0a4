package config

// ReviewConfig tunes the Review Pipeline and the Evaluator's revision
// ceiling.
type ReviewConfig struct {
	// MaxDiffLines truncates the aggregated diff embedded in the LLM
	// reviewer prompt.
	MaxDiffLines int `yaml:"max_diff_lines" validate:"min=1"`

	// ConfidenceThreshold is theta: the minimum LLM review confidence for
	// auto_merge_eligible alongside decision==APPROVE, checks_passed, and
	// no issues.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"min=0,max=1"`

	// MaxRevisions is the revision ceiling; a RevisionRequest at
	// revision_number == MaxRevisions is suppressed.
	MaxRevisions int `yaml:"max_revisions" validate:"min=0"`

	// AutoMergeEnabled is the global switch review_pr consults before
	// acting on an auto-merge-eligible result.
	AutoMergeEnabled bool `yaml:"auto_merge_enabled"`

	// MergeMethod is passed through to the Git & Repo-Host Client's
	// merge_pr call.
	MergeMethod string `yaml:"merge_method" validate:"omitempty,oneof=merge squash rebase"`
}

// DefaultReviewConfig returns the built-in review defaults.
func DefaultReviewConfig() *ReviewConfig {
	return &ReviewConfig{
		MaxDiffLines:        500,
		ConfidenceThreshold: 0.8,
		MaxRevisions:        2,
		AutoMergeEnabled:    false,
		MergeMethod:         "squash",
	}
}
