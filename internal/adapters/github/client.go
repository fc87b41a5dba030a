// Package github wraps the typed GitHub client with the narrow call surface
// the pull request collector consumes.
package github

import (
	"context"
	"net/http"
	"time"

	gh "github.com/google/go-github/v62/github"
	"github.com/rs/zerolog"
)

const perPage = 100

type Client struct {
	cli *gh.Client
	log zerolog.Logger
}

// NewClient builds a token-authenticated client. Tokens are per team, so one
// client is constructed per collection run.
func NewClient(token string, timeout time.Duration, log zerolog.Logger) *Client {
	hc := &http.Client{Timeout: timeout}
	return &Client{cli: gh.NewClient(hc).WithAuthToken(token), log: log}
}

// ListPullRequests returns one page of pull requests, newest first, all
// states. Page numbering starts at 1.
func (c *Client) ListPullRequests(ctx context.Context, owner, repo string, page int) ([]*gh.PullRequest, error) {
	pulls, _, err := c.cli.PullRequests.List(ctx, owner, repo, &gh.PullRequestListOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: gh.ListOptions{Page: page, PerPage: perPage},
	})
	return pulls, err
}

func (c *Client) ListIssueEvents(ctx context.Context, owner, repo string, number int) ([]*gh.IssueEvent, error) {
	events, _, err := c.cli.Issues.ListIssueEvents(ctx, owner, repo, number, &gh.ListOptions{PerPage: perPage})
	return events, err
}

func (c *Client) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]*gh.IssueComment, error) {
	comments, _, err := c.cli.Issues.ListComments(ctx, owner, repo, number, &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: perPage},
	})
	return comments, err
}

func (c *Client) ListReviews(ctx context.Context, owner, repo string, number int) ([]*gh.PullRequestReview, error) {
	reviews, _, err := c.cli.PullRequests.ListReviews(ctx, owner, repo, number, &gh.ListOptions{PerPage: perPage})
	return reviews, err
}

func (c *Client) ListCommits(ctx context.Context, owner, repo string, number int) ([]*gh.RepositoryCommit, error) {
	commits, _, err := c.cli.PullRequests.ListCommits(ctx, owner, repo, number, &gh.ListOptions{PerPage: perPage})
	return commits, err
}
