package gitrepo

import (
	"context"
	"fmt"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// MergeMethod is one of the three merge strategies a PR can be merged with.
type MergeMethod string

const (
	MergeMethodMerge  MergeMethod = "merge"
	MergeMethodSquash MergeMethod = "squash"
	MergeMethodRebase MergeMethod = "rebase"
)

// Issue is the subset of issue fields the Minion/Overlord needs.
type Issue struct {
	Number int
	Title  string
	Body   string
	Labels []string
}

// PullRequest is the subset of PR fields used by the review pipeline and
// reporter.
type PullRequest struct {
	Number     int
	Title      string
	Body       string
	BaseBranch string
	HeadBranch string
	Draft      bool
	URL        string
}

// HostClient wraps the code-host API surface the swarm needs:
// context-threaded methods, auto-paginating lists.
type HostClient struct {
	gh *github.Client
}

// NewHostClient builds a HostClient authenticated with token, via an
// oauth2.StaticTokenSource-backed http.Client rather than go-github's own
// WithAuthToken helper, so the transport participates in oauth2's standard
// token-refresh machinery if a future provider needs it.
func NewHostClient(token string) *HostClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &HostClient{gh: github.NewClient(oauth2.NewClient(context.Background(), ts))}
}

// NewHostClientFromGitHub wraps an existing *github.Client, for tests
// pointing at an httptest server.
func NewHostClientFromGitHub(gh *github.Client) *HostClient {
	return &HostClient{gh: gh}
}

// FetchIssue retrieves one issue by number.
func (c *HostClient) FetchIssue(ctx context.Context, owner, name string, number int) (*Issue, error) {
	iss, _, err := c.gh.Issues.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("gitrepo: fetch issue %s/%s#%d: %w", owner, name, number, err)
	}
	labels := make([]string, 0, len(iss.Labels))
	for _, l := range iss.Labels {
		labels = append(labels, l.GetName())
	}
	return &Issue{Number: iss.GetNumber(), Title: iss.GetTitle(), Body: iss.GetBody(), Labels: labels}, nil
}

// CreatePR opens a pull request from head into base.
func (c *HostClient) CreatePR(ctx context.Context, owner, name, title, body, base, head string, draft bool) (*PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
		Title: github.Ptr(title),
		Body:  github.Ptr(body),
		Base:  github.Ptr(base),
		Head:  github.Ptr(head),
		Draft: github.Ptr(draft),
	})
	if err != nil {
		return nil, fmt.Errorf("gitrepo: create PR %s/%s %s->%s: %w", owner, name, head, base, err)
	}
	return toPullRequest(pr), nil
}

func toPullRequest(pr *github.PullRequest) *PullRequest {
	return &PullRequest{
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		Body:       pr.GetBody(),
		BaseBranch: pr.GetBase().GetRef(),
		HeadBranch: pr.GetHead().GetRef(),
		Draft:      pr.GetDraft(),
		URL:        pr.GetHTMLURL(),
	}
}

// GetPR fetches a pull request's current state.
func (c *HostClient) GetPR(ctx context.Context, owner, name string, number int) (*PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("gitrepo: get PR %s/%s#%d: %w", owner, name, number, err)
	}
	return toPullRequest(pr), nil
}

// FileDiff is one changed file's patch, as reported by the code host.
type FileDiff struct {
	Path    string
	Status  string // added, modified, removed, renamed
	Patch   string
	Additions int
	Deletions int
}

// GetPRFiles returns the per-file diffs for a pull request, auto-paginating
// across the code host's page size.
func (c *HostClient) GetPRFiles(ctx context.Context, owner, name string, number int) ([]FileDiff, error) {
	var out []FileDiff
	opts := &github.ListOptions{PerPage: 100}
	for {
		files, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, name, number, opts)
		if err != nil {
			return nil, fmt.Errorf("gitrepo: get PR files %s/%s#%d: %w", owner, name, number, err)
		}
		for _, f := range files {
			out = append(out, FileDiff{
				Path:      f.GetFilename(),
				Status:    f.GetStatus(),
				Patch:     f.GetPatch(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// MergePR merges number using method.
func (c *HostClient) MergePR(ctx context.Context, owner, name string, number int, method MergeMethod) error {
	_, _, err := c.gh.PullRequests.Merge(ctx, owner, name, number, "", &github.PullRequestOptions{
		MergeMethod: string(method),
	})
	if err != nil {
		return fmt.Errorf("gitrepo: merge PR %s/%s#%d: %w", owner, name, number, err)
	}
	return nil
}

// PostReview submits a PR review with event describing the decision
// (e.g. "COMMENT", "REQUEST_CHANGES", "APPROVE").
func (c *HostClient) PostReview(ctx context.Context, owner, name string, number int, body, event string) error {
	_, _, err := c.gh.PullRequests.CreateReview(ctx, owner, name, number, &github.PullRequestReviewRequest{
		Body:  github.Ptr(body),
		Event: github.Ptr(event),
	})
	if err != nil {
		return fmt.Errorf("gitrepo: post review %s/%s#%d: %w", owner, name, number, err)
	}
	return nil
}

// UpdateLabels replaces the label set on issue/PR number.
func (c *HostClient) UpdateLabels(ctx context.Context, owner, name string, number int, labels []string) error {
	_, _, err := c.gh.Issues.ReplaceLabelsForIssue(ctx, owner, name, number, labels)
	if err != nil {
		return fmt.Errorf("gitrepo: update labels %s/%s#%d: %w", owner, name, number, err)
	}
	return nil
}

// Comment posts an issue/PR comment.
func (c *HostClient) Comment(ctx context.Context, owner, name string, number int, body string) error {
	_, _, err := c.gh.Issues.CreateComment(ctx, owner, name, number, &github.IssueComment{Body: github.Ptr(body)})
	if err != nil {
		return fmt.Errorf("gitrepo: comment %s/%s#%d: %w", owner, name, number, err)
	}
	return nil
}

// MarkReadyForReview transitions a draft PR to ready-for-review, a no-op
// if it is already non-draft. Falls back to GraphQL for code-host tokens
// whose REST scope can't flip the draft flag.
func (c *HostClient) MarkReadyForReview(ctx context.Context, owner, name string, number int) error {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return fmt.Errorf("gitrepo: mark ready %s/%s#%d: get PR: %w", owner, name, number, err)
	}
	if !pr.GetDraft() {
		return nil
	}

	draft := false
	_, _, restErr := c.gh.PullRequests.Edit(ctx, owner, name, number, &github.PullRequest{Draft: &draft})
	if restErr == nil {
		updated, _, verifyErr := c.gh.PullRequests.Get(ctx, owner, name, number)
		if verifyErr == nil && !updated.GetDraft() {
			return nil
		}
	}

	nodeID := pr.GetNodeID()
	if nodeID == "" {
		return fmt.Errorf("gitrepo: mark ready %s/%s#%d: no node ID, REST also failed: %v", owner, name, number, restErr)
	}
	return c.graphqlMarkReady(ctx, nodeID)
}

func (c *HostClient) graphqlMarkReady(ctx context.Context, pullRequestNodeID string) error {
	query := `mutation($id: ID!) {
		markPullRequestReadyForReview(input: {pullRequestId: $id}) {
			pullRequest { isDraft }
		}
	}`
	var resp struct {
		Data struct {
			MarkPullRequestReadyForReview struct {
				PullRequest struct {
					IsDraft bool `json:"isDraft"`
				} `json:"pullRequest"`
			} `json:"markPullRequestReadyForReview"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}

	req, err := c.gh.NewRequest("POST", "graphql", map[string]interface{}{
		"query":     query,
		"variables": map[string]string{"id": pullRequestNodeID},
	})
	if err != nil {
		return fmt.Errorf("gitrepo: graphql mark ready: build request: %w", err)
	}
	if _, err := c.gh.Do(ctx, req, &resp); err != nil {
		return fmt.Errorf("gitrepo: graphql mark ready: %w", err)
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("gitrepo: graphql mark ready: %s", resp.Errors[0].Message)
	}
	return nil
}
