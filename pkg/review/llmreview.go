package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nebulus-ai/overlord/pkg/llm"
	"github.com/nebulus-ai/overlord/pkg/masking"
)

const reviewSystemPrompt = `You are a senior engineer reviewing a pull request opened by an autonomous coding agent.
Respond with a single strict JSON object and nothing else, shaped exactly as:
{
  "decision": "APPROVE" | "REQUEST_CHANGES" | "COMMENT",
  "summary": "short prose summary of your review",
  "confidence": 0.0-1.0,
  "issues": ["..."],
  "suggestions": ["..."],
  "inline_comments": [{"path": "...", "line": 0, "body": "..."}]
}
Do not wrap the JSON in a code fence. Do not add commentary before or after it.`

// runLLMReview calls llmClient with a formatted PR summary plus truncated
// diff and parses its response leniently: strict JSON first, then a
// balanced-brace scan of the surrounding prose, tolerating models that
// wrap JSON in explanatory text.
func runLLMReview(ctx context.Context, llmClient llm.Client, model string, masker *masking.Service, pr *PRDetails, checks ChecksReport, maxDiffLines int) (ReviewResult, error) {
	prompt := buildReviewPrompt(pr, checks, masker, maxDiffLines)

	resp, err := llmClient.Chat(ctx, llm.ChatRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: reviewSystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return ReviewResult{}, fmt.Errorf("review: llm chat: %w", err)
	}

	result, ok := parseReviewResponse(resp.Content)
	if !ok {
		return ReviewResult{
			Decision:   DecisionComment,
			Summary:    "automated review could not parse a structured response",
			Confidence: 0,
			Issues:     []string{"failed to parse LLM review response as JSON"},
		}, nil
	}

	result.ChecksPassed = checks.AllPassed()
	return result, nil
}

func buildReviewPrompt(pr *PRDetails, checks ChecksReport, masker *masking.Service, maxDiffLines int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Pull Request #%d: %s\n\n", pr.Number, pr.Title)
	fmt.Fprintf(&b, "%s → %s\n\n", pr.HeadBranch, pr.BaseBranch)
	if pr.Body != "" {
		fmt.Fprintf(&b, "## Description\n%s\n\n", masker.Mask(pr.Body))
	}

	b.WriteString("## Deterministic checks\n")
	for _, c := range checks.Results {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", c.Name, c.Status, c.Message)
	}
	b.WriteString("\n## Diff\n")

	remaining := maxDiffLines
	if remaining <= 0 {
		remaining = 500
	}
	truncated := false
	for _, f := range pr.Files {
		if remaining <= 0 {
			truncated = true
			break
		}
		fmt.Fprintf(&b, "### %s (%s)\n", f.Path, f.Status)
		patch := masker.Mask(f.Patch)
		lines := strings.Split(patch, "\n")
		if len(lines) > remaining {
			lines = lines[:remaining]
			truncated = true
		}
		remaining -= len(lines)
		b.WriteString("```diff\n")
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n```\n")
	}
	if truncated {
		b.WriteString("\n[diff truncated]\n")
	}

	return b.String()
}

// parseReviewResponse tries strict JSON first, then falls back to scanning
// the response for the first balanced top-level JSON object, for models
// that narrate around their answer.
func parseReviewResponse(content string) (ReviewResult, bool) {
	if result, ok := decodeReviewJSON(content); ok {
		return result, true
	}

	for _, candidate := range scanBalancedObjects(content) {
		if result, ok := decodeReviewJSON(candidate); ok {
			return result, true
		}
	}

	return ReviewResult{}, false
}

type rawReviewResponse struct {
	Decision       string          `json:"decision"`
	Summary        string          `json:"summary"`
	Confidence     float64         `json:"confidence"`
	Issues         []string        `json:"issues"`
	Suggestions    []string        `json:"suggestions"`
	InlineComments []InlineComment `json:"inline_comments"`
}

func decodeReviewJSON(text string) (ReviewResult, bool) {
	var raw rawReviewResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return ReviewResult{}, false
	}
	if raw.Decision == "" {
		return ReviewResult{}, false
	}

	decision := ReviewDecision(strings.ToUpper(raw.Decision))
	switch decision {
	case DecisionApprove, DecisionRequestChanges, DecisionComment:
	default:
		decision = DecisionComment
	}

	return ReviewResult{
		Decision:       decision,
		Summary:        raw.Summary,
		Confidence:     raw.Confidence,
		Issues:         raw.Issues,
		Suggestions:    raw.Suggestions,
		InlineComments: raw.InlineComments,
	}, true
}

// scanBalancedObjects walks text tracking brace depth outside string
// literals, returning every top-level `{...}` substring found.
func scanBalancedObjects(text string) []string {
	var candidates []string

	var depth int
	var start int
	var inString, escaped bool

	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}

		switch r {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					candidates = append(candidates, text[start:i+1])
				}
			}
		}
	}

	return candidates
}
