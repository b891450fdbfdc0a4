package config

import "time"

// ChecksConfig names the external tools the Review Pipeline's deterministic
// checks shell out to. Any command whose binary is absent
// from PATH degrades that check to SKIPPED rather than failing the run.
type ChecksConfig struct {
	TestCommand       string        `yaml:"test_command"`
	LintCommand       string        `yaml:"lint_command"`
	ComplexityCommand string        `yaml:"complexity_command"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxFileSizeBytes  int64         `yaml:"max_file_size_bytes"`
	MaxFileLines      int           `yaml:"max_file_lines"`
}

// DefaultChecksConfig returns the built-in deterministic-check defaults.
func DefaultChecksConfig() *ChecksConfig {
	return &ChecksConfig{
		TestCommand:       "go test ./...",
		LintCommand:       "golangci-lint run",
		ComplexityCommand: "gocyclo -avg .",
		Timeout:           5 * time.Minute,
		MaxFileSizeBytes:  500 * 1024,
		MaxFileLines:      1000,
	}
}
