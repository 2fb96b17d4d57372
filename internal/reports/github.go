package reports

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

const maxCommitPages = 50

// GitHubClient counts commits through the GitHub REST API.
type GitHubClient struct {
	client *github.Client
	owner  string
	name   string
	err    error
}

// NewGitHubClient constructs a client for one owner/name repository. An empty
// baseURL keeps the public API endpoint.
func NewGitHubClient(baseURL, token, repo string) *GitHubClient {
	client := github.NewClient(&http.Client{Timeout: 30 * time.Second})
	if token != "" {
		client = client.WithAuthToken(token)
	}
	c := &GitHubClient{client: client}
	if baseURL != "" {
		u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
		if err != nil {
			c.err = fmt.Errorf("reports: github base url: %w", err)
			return c
		}
		client.BaseURL = u
	}
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		c.err = fmt.Errorf("reports: github repository %q is not owner/name", repo)
		return c
	}
	c.owner, c.name = owner, name
	return c
}

// CommitCount counts default branch commits in [from, to] across every page.
func (c *GitHubClient) CommitCount(ctx context.Context, from, to time.Time) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	opts := &github.CommitsListOptions{
		Since:       from.UTC(),
		Until:       to.UTC(),
		ListOptions: github.ListOptions{PerPage: 100},
	}
	total := 0
	for page := 0; ; page++ {
		if page == maxCommitPages {
			return 0, fmt.Errorf("%w: github pagination exceeded %d pages", httpx.ErrUpstream, maxCommitPages)
		}
		commits, resp, err := c.client.Repositories.ListCommits(ctx, c.owner, c.name, opts)
		if err != nil {
			var ghErr *github.ErrorResponse
			if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusConflict {
				// empty repository
				return 0, nil
			}
			return 0, fmt.Errorf("%w: github: %v", httpx.ErrUpstream, err)
		}
		total += len(commits)
		if resp.NextPage == 0 {
			return total, nil
		}
		opts.Page = resp.NextPage
	}
}
