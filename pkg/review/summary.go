package review

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
)

// FormatSummaryMarkdown renders the posted review comment body: a checks
// table followed by the LLM reviewer's summary, issues, and suggestions.
func FormatSummaryMarkdown(checks ChecksReport, result ReviewResult) string {
	var b strings.Builder

	b.WriteString("## Automated review\n\n")
	fmt.Fprintf(&b, "**Decision:** %s (confidence %.2f)\n\n", result.Decision, result.Confidence)

	b.WriteString("| Check | Status | Detail |\n")
	b.WriteString("|---|---|---|\n")
	for _, c := range checks.Results {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", c.Name, c.Status, escapeTableCell(c.Message))
	}
	b.WriteString("\n")

	if result.Summary != "" {
		fmt.Fprintf(&b, "%s\n\n", result.Summary)
	}

	if len(result.Issues) > 0 {
		b.WriteString("### Issues\n")
		for _, issue := range result.Issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
		b.WriteString("\n")
	}

	if len(result.Suggestions) > 0 {
		b.WriteString("### Suggestions\n")
		for _, s := range result.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func escapeTableCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// RenderSummaryHTML renders the markdown summary to HTML for notification
// paths that cannot embed raw markdown. A render failure degrades to an
// escaped <pre> block rather than dropping the summary.
func RenderSummaryHTML(markdown string) string {
	var buf bytes.Buffer
	if err := goldmark.New().Convert([]byte(markdown), &buf); err != nil {
		return "<pre>" + escapeHTML(markdown) + "</pre>"
	}
	return buf.String()
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
