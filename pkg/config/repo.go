package config

import "strings"

// NormalizeRepoIdentifier reduces a repository reference to its canonical
// "owner/name" form so that "https://github.com/Org/Repo.git",
// "git@github.com:Org/Repo.git", and "org/repo" all compare equal.
func NormalizeRepoIdentifier(repo string) string {
	normalized := strings.ToLower(strings.TrimSpace(repo))
	normalized = strings.TrimSuffix(normalized, "/")
	normalized = strings.TrimSuffix(normalized, ".git")
	normalized = strings.TrimSuffix(normalized, "/")
	normalized = strings.TrimPrefix(normalized, "https://github.com/")
	normalized = strings.TrimPrefix(normalized, "http://github.com/")
	normalized = strings.TrimPrefix(normalized, "github.com/")
	normalized = strings.TrimPrefix(normalized, "git@github.com:")
	return normalized
}

// normalizeRepoList normalizes and de-duplicates a raw watched-repo list,
// preserving first-seen order.
func normalizeRepoList(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		norm := NormalizeRepoIdentifier(r)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	return out
}
