package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoineMoPa/prflow.dev/internal/adapters/jira"
	"github.com/antoineMoPa/prflow.dev/internal/cache"
	"github.com/antoineMoPa/prflow.dev/internal/domain"
)

// IssueTrackerClient is the slice of the tracker API the sprint collector
// needs. Myself is the auth probe; a failure there aborts the whole sprint
// section before any further calls.
type IssueTrackerClient interface {
	Myself(ctx context.Context) error
	ActiveSprint(ctx context.Context, boardID int64) (*jira.Sprint, error)
	SprintIssues(ctx context.Context, sprintID int64) ([]jira.Issue, error)
	Fields(ctx context.Context) ([]jira.Field, error)
	BrowseURL(key string) string
}

// SprintCollector derives per-issue cycle stats for the board's active
// sprint and reduces them into one SprintStats.
type SprintCollector struct {
	tracker         IssueTrackerClient
	cache           *cache.Cache
	log             zerolog.Logger
	pointsFieldName string
	now             func() time.Time
}

func NewSprintCollector(tracker IssueTrackerClient, c *cache.Cache, log zerolog.Logger, pointsFieldName string) *SprintCollector {
	return &SprintCollector{
		tracker:         tracker,
		cache:           c,
		log:             log,
		pointsFieldName: pointsFieldName,
		now:             time.Now,
	}
}

// WithClock substitutes the time source, for tests.
func (s *SprintCollector) WithClock(now func() time.Time) *SprintCollector {
	s.now = now
	return s
}

// Collect returns aggregates for the active sprint of creds' board,
// restricted to issues of the configured project. Derived issue stats are
// cached per issue, so repeated runs inside the freshness window only walk
// changelogs of issues the cache has not seen recently.
func (s *SprintCollector) Collect(ctx context.Context, creds domain.Credentials) (*domain.SprintStats, error) {
	if err := s.tracker.Myself(ctx); err != nil {
		return nil, fmt.Errorf("tracker auth: %w", err)
	}
	sprint, err := s.tracker.ActiveSprint(ctx, creds.JiraBoardID)
	if err != nil {
		return nil, fmt.Errorf("active sprint: %w", err)
	}
	if sprint == nil {
		return nil, domain.ErrNoActiveSprint
	}

	pointsField := s.resolvePointsField(ctx)

	issues, err := s.tracker.SprintIssues(ctx, sprint.ID)
	if err != nil {
		return nil, fmt.Errorf("sprint issues: %w", err)
	}

	now := s.now()
	keyPrefix := creds.JiraProjectKey + "-"
	var stats []domain.IssueStats
	for _, issue := range issues {
		if !strings.HasPrefix(issue.Key, keyPrefix) {
			continue
		}
		path := fmt.Sprintf("jira/%s/%s/%s", creds.JiraDomain, creds.JiraProjectKey, issue.Key)
		var is domain.IssueStats
		if ok, err := s.cache.Load(ctx, path, &is); err != nil {
			return nil, fmt.Errorf("read cache for %s: %w", issue.Key, err)
		} else if !ok {
			is = s.issueStats(issue, sprint, pointsField, now)
			if err := s.cache.Save(ctx, path, is); err != nil {
				return nil, fmt.Errorf("write cache for %s: %w", issue.Key, err)
			}
		}
		stats = append(stats, is)
	}

	out := reduceSprint(sprint, stats, now)
	s.log.Info().Str("sprint", sprint.Name).Int("issues", len(stats)).Msg("collected sprint stats")
	return out, nil
}

// resolvePointsField maps the configured display name to a field id. An
// unresolvable name degrades to point-less issues instead of failing.
func (s *SprintCollector) resolvePointsField(ctx context.Context) string {
	fields, err := s.tracker.Fields(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("field list unavailable, story points disabled")
		return ""
	}
	for _, f := range fields {
		if strings.EqualFold(f.Name, s.pointsFieldName) {
			return f.ID
		}
	}
	s.log.Warn().Str("field", s.pointsFieldName).Msg("story points field not found")
	return ""
}

const (
	bucketToDo       = "todo"
	bucketInProgress = "inprogress"
	bucketDone       = "done"
)

// statusBucket folds tracker status names into the three lanes the sprint
// summary works with.
func statusBucket(status string) string {
	switch strings.ToLower(strings.Join(strings.Fields(status), "")) {
	case "done", "closed", "resolved":
		return bucketDone
	case "inprogress", "inreview", "review", "testing":
		return bucketInProgress
	default:
		return bucketToDo
	}
}

func (s *SprintCollector) issueStats(issue jira.Issue, sprint *jira.Sprint, pointsField string, now time.Time) domain.IssueStats {
	out := domain.IssueStats{
		Key:    issue.Key,
		Status: issue.Status,
		Link:   s.tracker.BrowseURL(issue.Key),
	}
	if pointsField != "" {
		if v, ok := issue.Fields[pointsField].(float64); ok {
			out.StoryPoints = &v
		}
	}

	var firstInProgress, firstDone, lastSprintChange *time.Time
	for _, ch := range issue.Changes {
		at := ch.At
		switch {
		case strings.EqualFold(ch.Field, "status"):
			switch statusBucket(ch.To) {
			case bucketInProgress:
				if firstInProgress == nil {
					firstInProgress = &at
				}
			case bucketDone:
				if firstDone == nil {
					firstDone = &at
				}
			}
		case strings.EqualFold(ch.Field, "sprint"):
			if lastSprintChange == nil || at.After(*lastSprintChange) {
				lastSprintChange = &at
			}
		}
	}

	switch statusBucket(issue.Status) {
	case bucketDone:
		if firstInProgress != nil && firstDone != nil {
			hours := firstDone.Sub(*firstInProgress).Hours()
			if hours >= 0 {
				out.CycleTime = &hours
			}
		}
	default:
		if firstInProgress != nil {
			hours := now.Sub(*firstInProgress).Hours()
			out.InProgressTime = &hours
		}
	}

	if lastSprintChange != nil && sprint.StartDate != nil && lastSprintChange.After(*sprint.StartDate) {
		out.AddedMidSprint = true
	}
	return out
}

func reduceSprint(sprint *jira.Sprint, issues []domain.IssueStats, now time.Time) *domain.SprintStats {
	out := &domain.SprintStats{SprintName: sprint.Name}

	var cycles []float64
	for _, is := range issues {
		points := 0.0
		if is.StoryPoints != nil {
			points = *is.StoryPoints
		}
		switch statusBucket(is.Status) {
		case bucketDone:
			out.CompletedPoints += points
			if is.CycleTime != nil {
				cycles = append(cycles, *is.CycleTime)
			}
		case bucketInProgress:
			out.PointsInProgress += points
		default:
			out.PointsToDo += points
		}
		if is.AddedMidSprint {
			out.PointsAddedMidSprint += points
			out.MidSprintAdditions = append(out.MidSprintAdditions, domain.SprintAddition{
				Key:    is.Key,
				Points: is.StoryPoints,
				Link:   is.Link,
			})
		}
	}

	if remaining := out.PointsToDo + out.PointsInProgress; remaining > 0 {
		out.PointsCompletionRate = out.CompletedPoints / remaining
	}
	if len(cycles) > 0 {
		avg := mean(cycles)
		out.AverageCycleTime = &avg
	}
	if sprint.StartDate != nil && sprint.EndDate != nil && sprint.EndDate.After(*sprint.StartDate) {
		ratio := now.Sub(*sprint.StartDate).Hours() / sprint.EndDate.Sub(*sprint.StartDate).Hours()
		if ratio < 0 {
			ratio = 0
		}
		if ratio > 1 {
			ratio = 1
		}
		out.SprintTimePassedRatio = &ratio
	}
	return out
}
