// Package services holds the collection, aggregation and reporting logic
// behind the HTTP handlers and the scheduled report job.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	gh "github.com/google/go-github/v62/github"
	"github.com/rs/zerolog"

	"github.com/antoineMoPa/prflow.dev/internal/cache"
	"github.com/antoineMoPa/prflow.dev/internal/domain"
)

const pageSize = 100

// CodeHostClient is the slice of the code-host API the collector needs.
// One page of pull requests per call; the timeline endpoints return the
// full list for a single item.
type CodeHostClient interface {
	ListPullRequests(ctx context.Context, owner, repo string, page int) ([]*gh.PullRequest, error)
	ListIssueEvents(ctx context.Context, owner, repo string, number int) ([]*gh.IssueEvent, error)
	ListIssueComments(ctx context.Context, owner, repo string, number int) ([]*gh.IssueComment, error)
	ListReviews(ctx context.Context, owner, repo string, number int) ([]*gh.PullRequestReview, error)
	ListCommits(ctx context.Context, owner, repo string, number int) ([]*gh.RepositoryCommit, error)
}

// Collector derives per-pull-request review stats for one repository,
// crawling incrementally on top of whatever the cache already holds.
type Collector struct {
	host       CodeHostClient
	cache      *cache.Cache
	log        zerolog.Logger
	cutoffDays int
	maxPages   int
	now        func() time.Time
}

func NewCollector(host CodeHostClient, c *cache.Cache, log zerolog.Logger, cutoffDays, maxPages int) *Collector {
	return &Collector{
		host:       host,
		cache:      c,
		log:        log,
		cutoffDays: cutoffDays,
		maxPages:   maxPages,
		now:        time.Now,
	}
}

// WithClock substitutes the time source, for tests.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

func splitRepoPath(repoPath string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(repoPath, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("malformed repository path %q", repoPath)
	}
	return owner, repo, nil
}

// Collect returns review stats for repoPath, restricted to pull requests
// authored by members. A fresh cache entry answers without any API call.
// Otherwise the crawl claims the fetch lock, pages newest-first until it
// reaches the retention cutoff or already-known history, derives stats for
// each new item and persists the merged record before aggregating.
func (c *Collector) Collect(ctx context.Context, repoPath string, members []string) (domain.RepoStats, error) {
	owner, repo, err := splitRepoPath(repoPath)
	if err != nil {
		return domain.RepoStats{}, err
	}
	now := c.now()

	var cached domain.RepoStats
	fresh, err := c.cache.Load(ctx, repoPath, &cached)
	if err != nil {
		return domain.RepoStats{}, fmt.Errorf("read cache for %s: %w", repoPath, err)
	}
	if fresh {
		c.log.Debug().Str("repo", repoPath).Int("pulls", len(cached.PullStats)).Msg("cache hit")
		return c.finalize(cached, now), nil
	}

	if err := c.cache.AcquireFetchLock(ctx, repoPath); err != nil {
		return domain.RepoStats{}, err
	}

	known := map[int]domain.PullRequestStats{}
	if ok, err := c.cache.LoadStale(ctx, repoPath, &cached); err != nil {
		return domain.RepoStats{}, fmt.Errorf("read cache for %s: %w", repoPath, err)
	} else if ok && cached.PullStats != nil {
		known = cached.PullStats
	}
	seeded := make(map[int]bool, len(known))
	for number := range known {
		seeded[number] = true
	}

	memberSet := make(map[string]bool, len(members))
	for _, m := range members {
		memberSet[m] = true
	}
	cutoff := now.AddDate(0, 0, -c.cutoffDays)

	added := 0
	for page := 1; page <= c.maxPages; page++ {
		pulls, err := c.host.ListPullRequests(ctx, owner, repo, page)
		if err != nil {
			return domain.RepoStats{}, fmt.Errorf("list pull requests for %s: %w", repoPath, err)
		}
		if len(pulls) == 0 {
			break
		}
		pastCutoff := false
		for _, pr := range pulls {
			if pr.GetCreatedAt().Time.Before(cutoff) {
				pastCutoff = true
				continue
			}
			number := pr.GetNumber()
			if _, ok := known[number]; ok {
				continue
			}
			if !memberSet[pr.GetUser().GetLogin()] {
				continue
			}
			stats, err := c.pullStats(ctx, owner, repo, pr)
			if err != nil {
				return domain.RepoStats{}, fmt.Errorf("derive stats for %s#%d: %w", repoPath, number, err)
			}
			known[number] = stats
			added++
		}
		if pastCutoff {
			break
		}
		// Listing is newest-first, so a page whose last item was cached
		// before this crawl means history beyond it is already known.
		if seeded[pulls[len(pulls)-1].GetNumber()] {
			break
		}
		if len(pulls) < pageSize {
			break
		}
	}

	out := domain.RepoStats{PullStats: known, SchemaVersion: cache.SchemaVersion}
	if err := c.cache.Save(ctx, repoPath, out); err != nil {
		return domain.RepoStats{}, fmt.Errorf("write cache for %s: %w", repoPath, err)
	}
	c.log.Info().Str("repo", repoPath).Int("new", added).Int("total", len(known)).Msg("collected repository stats")
	return c.finalize(out, now), nil
}

// finalize recomputes the aggregate wrapper from the cached per-item map.
func (c *Collector) finalize(stats domain.RepoStats, now time.Time) domain.RepoStats {
	stats.SchemaVersion = cache.SchemaVersion
	if stats.PullStats == nil {
		stats.PullStats = map[int]domain.PullRequestStats{}
	}
	stats.WeeklyStats = aggregateWeekly(stats.PullStats, now)

	window := make([]domain.PullRequestStats, 0, len(stats.PullStats))
	since := now.AddDate(0, 0, -2*reportWindowDays)
	for _, p := range stats.PullStats {
		if !p.CreatedAt.Before(since) && p.CreatedAt.Before(now) {
			window = append(window, p)
		}
	}
	agg := summarizeWindow(window)
	stats.AvgTimeToFirstReview = agg.AvgTimeToFirstReview
	stats.MedianTimeToFirstReview = agg.MedianTimeToFirstReview
	stats.AvgCycleTime = agg.AvgCycleTime
	return stats
}

func isBot(u *gh.User) bool {
	return u.GetType() == "Bot" || strings.HasSuffix(u.GetLogin(), "[bot]")
}

// pullStats derives the stored record for one pull request from its
// timeline. Time to first review is measured from the moment the item
// became reviewable: the latest ready_for_review event when the item was
// ever a draft, its creation time otherwise.
func (c *Collector) pullStats(ctx context.Context, owner, repo string, pr *gh.PullRequest) (domain.PullRequestStats, error) {
	author := pr.GetUser().GetLogin()
	out := domain.PullRequestStats{
		Number:    pr.GetNumber(),
		Author:    author,
		CreatedAt: pr.GetCreatedAt().Time,
		Link:      pr.GetHTMLURL(),
	}

	events, err := c.host.ListIssueEvents(ctx, owner, repo, out.Number)
	if err != nil {
		return out, fmt.Errorf("list events: %w", err)
	}
	readyAt := out.CreatedAt
	for _, ev := range events {
		if ev.GetEvent() == "ready_for_review" && ev.GetCreatedAt().Time.After(readyAt) {
			readyAt = ev.GetCreatedAt().Time
		}
	}

	comments, err := c.host.ListIssueComments(ctx, owner, repo, out.Number)
	if err != nil {
		return out, fmt.Errorf("list comments: %w", err)
	}
	var firstFeedback *time.Time
	for _, cm := range comments {
		if cm.GetUser().GetLogin() == author || isBot(cm.GetUser()) {
			continue
		}
		t := cm.GetCreatedAt().Time
		if t.Before(readyAt) {
			continue
		}
		if firstFeedback == nil || t.Before(*firstFeedback) {
			firstFeedback = &t
		}
	}

	reviews, err := c.host.ListReviews(ctx, owner, repo, out.Number)
	if err != nil {
		return out, fmt.Errorf("list reviews: %w", err)
	}
	var firstReview *time.Time
	for _, rv := range reviews {
		if rv.GetUser().GetLogin() == author || isBot(rv.GetUser()) {
			continue
		}
		t := rv.GetSubmittedAt().Time
		if t.IsZero() {
			continue
		}
		if firstReview == nil || t.Before(*firstReview) {
			firstReview = &t
			reviewer := rv.GetUser().GetLogin()
			out.Reviewer = &reviewer
		}
	}

	first := firstFeedback
	if firstReview != nil && (first == nil || firstReview.Before(*first)) {
		first = firstReview
	}
	if first != nil {
		hours := first.Sub(readyAt).Hours()
		if hours >= 0 {
			out.TimeToFirstReview = &hours
		}
	}

	out.IsMerged = pr.MergedAt != nil
	out.IsReadyForReview = !pr.GetDraft()
	out.IsWaitingToBeMerged = out.IsReadyForReview && !out.IsMerged

	if out.IsMerged {
		commits, err := c.host.ListCommits(ctx, owner, repo, out.Number)
		if err != nil {
			return out, fmt.Errorf("list commits: %w", err)
		}
		var firstCommit *time.Time
		for _, cm := range commits {
			t := cm.GetCommit().GetAuthor().GetDate().Time
			if t.IsZero() {
				continue
			}
			if firstCommit == nil || t.Before(*firstCommit) {
				firstCommit = &t
			}
		}
		if firstCommit != nil {
			hours := pr.GetMergedAt().Time.Sub(*firstCommit).Hours()
			out.CycleTime = &hours
		}
	}
	return out, nil
}
