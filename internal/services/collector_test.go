package services

import (
	"context"
	"testing"
	"time"

	gh "github.com/google/go-github/v62/github"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoineMoPa/prflow.dev/internal/cache"
	"github.com/antoineMoPa/prflow.dev/internal/domain"
)

// fakeStore is an in-memory cache.Store.
type fakeStore struct {
	entries map[string]*cache.Entry
}

func newFakeStore() *fakeStore { return &fakeStore{entries: map[string]*cache.Entry{}} }

func (f *fakeStore) Read(_ context.Context, path string) (*cache.Entry, error) {
	return f.entries[path], nil
}

func (f *fakeStore) Write(_ context.Context, path string, blob []byte, updatedAt time.Time) error {
	e := f.entries[path]
	if e == nil {
		e = &cache.Entry{Path: path}
		f.entries[path] = e
	}
	e.Blob = blob
	e.UpdatedAt = updatedAt
	return nil
}

func (f *fakeStore) MarkFetchStarted(_ context.Context, path string, at time.Time) error {
	e := f.entries[path]
	if e == nil {
		e = &cache.Entry{Path: path}
		f.entries[path] = e
	}
	e.LastFetchStarted = &at
	return nil
}

// fakeHost serves canned pages and timelines and counts every call, so
// tests can assert that a warm cache makes no outbound requests.
type fakeHost struct {
	pages    [][]*gh.PullRequest
	events   map[int][]*gh.IssueEvent
	comments map[int][]*gh.IssueComment
	reviews  map[int][]*gh.PullRequestReview
	commits  map[int][]*gh.RepositoryCommit
	calls    int
}

func (f *fakeHost) ListPullRequests(_ context.Context, _, _ string, page int) ([]*gh.PullRequest, error) {
	f.calls++
	if page > len(f.pages) {
		return nil, nil
	}
	return f.pages[page-1], nil
}

func (f *fakeHost) ListIssueEvents(_ context.Context, _, _ string, number int) ([]*gh.IssueEvent, error) {
	f.calls++
	return f.events[number], nil
}

func (f *fakeHost) ListIssueComments(_ context.Context, _, _ string, number int) ([]*gh.IssueComment, error) {
	f.calls++
	return f.comments[number], nil
}

func (f *fakeHost) ListReviews(_ context.Context, _, _ string, number int) ([]*gh.PullRequestReview, error) {
	f.calls++
	return f.reviews[number], nil
}

func (f *fakeHost) ListCommits(_ context.Context, _, _ string, number int) ([]*gh.RepositoryCommit, error) {
	f.calls++
	return f.commits[number], nil
}

var testNow = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

func newTestCollector(host *fakeHost, store *fakeStore) *Collector {
	clock := func() time.Time { return testNow }
	c := cache.New(store, 24*time.Hour, 15*time.Minute).WithClock(clock)
	return NewCollector(host, c, zerolog.Nop(), 30, 20).WithClock(clock)
}

func pull(number int, author string, created time.Time) *gh.PullRequest {
	return &gh.PullRequest{
		Number:    gh.Int(number),
		User:      &gh.User{Login: gh.String(author)},
		CreatedAt: &gh.Timestamp{Time: created},
		HTMLURL:   gh.String("https://example.test/pr"),
	}
}

func comment(author string, at time.Time) *gh.IssueComment {
	return &gh.IssueComment{
		User:      &gh.User{Login: gh.String(author)},
		CreatedAt: &gh.Timestamp{Time: at},
	}
}

func review(author string, at time.Time) *gh.PullRequestReview {
	return &gh.PullRequestReview{
		User:        &gh.User{Login: gh.String(author)},
		SubmittedAt: &gh.Timestamp{Time: at},
	}
}

func TestCollectDerivesReviewAndCycleTimes(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pr := pull(42, "alice", created)
	pr.MergedAt = &gh.Timestamp{Time: created.Add(10 * time.Hour)}

	host := &fakeHost{
		pages:    [][]*gh.PullRequest{{pr}},
		comments: map[int][]*gh.IssueComment{42: {comment("bob", created.Add(2 * time.Hour))}},
		commits: map[int][]*gh.RepositoryCommit{42: {{
			Commit: &gh.Commit{Author: &gh.CommitAuthor{Date: &gh.Timestamp{Time: created}}},
		}}},
	}
	collector := newTestCollector(host, newFakeStore())

	stats, err := collector.Collect(context.Background(), "org/repo", []string{"alice"})
	require.NoError(t, err)
	require.Contains(t, stats.PullStats, 42)

	got := stats.PullStats[42]
	require.NotNil(t, got.TimeToFirstReview)
	assert.InDelta(t, 2.0, *got.TimeToFirstReview, 1e-9)
	require.NotNil(t, got.CycleTime)
	assert.InDelta(t, 10.0, *got.CycleTime, 1e-9)
	assert.Nil(t, got.Reviewer)
	assert.True(t, got.IsMerged)
	assert.True(t, got.IsReadyForReview)
	assert.False(t, got.IsWaitingToBeMerged)
}

func TestCollectReviewerFromFirstForeignReview(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	host := &fakeHost{
		pages: [][]*gh.PullRequest{{pull(7, "alice", created)}},
		reviews: map[int][]*gh.PullRequestReview{7: {
			review("alice", created.Add(30 * time.Minute)),
			review("carol", created.Add(90 * time.Minute)),
			review("bob", created.Add(1 * time.Hour)),
		}},
	}
	collector := newTestCollector(host, newFakeStore())

	stats, err := collector.Collect(context.Background(), "org/repo", []string{"alice"})
	require.NoError(t, err)

	got := stats.PullStats[7]
	require.NotNil(t, got.Reviewer)
	assert.Equal(t, "bob", *got.Reviewer)
	require.NotNil(t, got.TimeToFirstReview)
	assert.InDelta(t, 1.0, *got.TimeToFirstReview, 1e-9)
}

func TestCollectIgnoresBotAndAuthorFeedback(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	botUser := &gh.User{Login: gh.String("ci-helper[bot]"), Type: gh.String("Bot")}
	host := &fakeHost{
		pages: [][]*gh.PullRequest{{pull(8, "alice", created)}},
		comments: map[int][]*gh.IssueComment{8: {
			comment("alice", created.Add(10 * time.Minute)),
			{User: botUser, CreatedAt: &gh.Timestamp{Time: created.Add(20 * time.Minute)}},
		}},
	}
	collector := newTestCollector(host, newFakeStore())

	stats, err := collector.Collect(context.Background(), "org/repo", []string{"alice"})
	require.NoError(t, err)
	assert.Nil(t, stats.PullStats[8].TimeToFirstReview)
}

func TestCollectMeasuresFromReadyForReview(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ready := created.Add(4 * time.Hour)
	host := &fakeHost{
		pages: [][]*gh.PullRequest{{pull(9, "alice", created)}},
		events: map[int][]*gh.IssueEvent{9: {{
			Event:     gh.String("ready_for_review"),
			CreatedAt: &gh.Timestamp{Time: ready},
		}}},
		comments: map[int][]*gh.IssueComment{9: {comment("bob", ready.Add(time.Hour))}},
		reviews: map[int][]*gh.PullRequestReview{9: {
			// A review predating readiness must not yield a negative time.
			review("bob", created.Add(time.Hour)),
		}},
	}
	collector := newTestCollector(host, newFakeStore())

	stats, err := collector.Collect(context.Background(), "org/repo", []string{"alice"})
	require.NoError(t, err)

	got := stats.PullStats[9]
	require.NotNil(t, got.TimeToFirstReview)
	assert.InDelta(t, 1.0, *got.TimeToFirstReview, 1e-9)
}

func TestCollectClampsNegativeReviewTime(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	host := &fakeHost{
		pages: [][]*gh.PullRequest{{pull(10, "alice", created)}},
		events: map[int][]*gh.IssueEvent{10: {{
			Event:     gh.String("ready_for_review"),
			CreatedAt: &gh.Timestamp{Time: created.Add(6 * time.Hour)},
		}}},
		reviews: map[int][]*gh.PullRequestReview{10: {review("bob", created.Add(time.Hour))}},
	}
	collector := newTestCollector(host, newFakeStore())

	stats, err := collector.Collect(context.Background(), "org/repo", []string{"alice"})
	require.NoError(t, err)

	got := stats.PullStats[10]
	assert.Nil(t, got.TimeToFirstReview)
	// The reviewer is still recorded even when the duration is unusable.
	require.NotNil(t, got.Reviewer)
	assert.Equal(t, "bob", *got.Reviewer)
}

func TestCollectSkipsNonMembers(t *testing.T) {
	created := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	host := &fakeHost{pages: [][]*gh.PullRequest{{
		pull(1, "alice", created),
		pull(2, "mallory", created),
	}}}
	collector := newTestCollector(host, newFakeStore())

	stats, err := collector.Collect(context.Background(), "org/repo", []string{"alice"})
	require.NoError(t, err)
	assert.Contains(t, stats.PullStats, 1)
	assert.NotContains(t, stats.PullStats, 2)
}

func TestCollectStopsAtCutoff(t *testing.T) {
	old := testNow.AddDate(0, 0, -60)
	host := &fakeHost{pages: [][]*gh.PullRequest{
		{pull(3, "alice", testNow.Add(-time.Hour)), pull(2, "alice", old)},
		{pull(1, "alice", old)},
	}}
	collector := newTestCollector(host, newFakeStore())

	stats, err := collector.Collect(context.Background(), "org/repo", []string{"alice"})
	require.NoError(t, err)
	assert.Contains(t, stats.PullStats, 3)
	assert.NotContains(t, stats.PullStats, 2)
	// One list call plus #3's three timeline calls; page 2 never requested.
	assert.Equal(t, 4, host.calls)
}

func TestFreshCacheAnswersWithoutAPICalls(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	host := &fakeHost{
		pages:    [][]*gh.PullRequest{{pull(42, "alice", created)}},
		comments: map[int][]*gh.IssueComment{42: {comment("bob", created.Add(2 * time.Hour))}},
	}
	store := newFakeStore()

	first, err := newTestCollector(host, store).Collect(context.Background(), "org/repo", []string{"alice"})
	require.NoError(t, err)
	callsAfterFirst := host.calls
	require.Greater(t, callsAfterFirst, 0)

	second, err := newTestCollector(host, store).Collect(context.Background(), "org/repo", []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, host.calls, "warm cache must not reach the API")
	assert.Equal(t, first, second)
}

func TestCollectRejectsConcurrentFetch(t *testing.T) {
	store := newFakeStore()
	recent := testNow.Add(-5 * time.Minute)
	require.NoError(t, store.MarkFetchStarted(context.Background(), "org/repo", recent))

	_, err := newTestCollector(&fakeHost{}, store).Collect(context.Background(), "org/repo", []string{"alice"})
	assert.ErrorIs(t, err, domain.ErrFetchInProgress)
}

func TestCollectRejectsMalformedRepoPath(t *testing.T) {
	_, err := newTestCollector(&fakeHost{}, newFakeStore()).Collect(context.Background(), "not-a-path", nil)
	assert.Error(t, err)
}
