package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/antoineMoPa/prflow.dev/internal/domain"
)

// NarrativeGenerator produces a short prose summary from the raw stats
// payload. Failures are caught at the composition boundary.
type NarrativeGenerator interface {
	Summarize(ctx context.Context, payload map[string]any) (string, error)
}

// DefaultGoals are the targets applied when a team sets none.
func DefaultGoals() domain.Goals {
	return domain.Goals{
		AvgTimeToFirstReview:    domain.Goal{Value: 1, ValueShouldBe: domain.GoalLowerIsBetter},
		MedianTimeToFirstReview: domain.Goal{Value: 1, ValueShouldBe: domain.GoalLowerIsBetter},
		AvgCycleTime:            domain.Goal{Value: 24, ValueShouldBe: domain.GoalLowerIsBetter},
		// One merged PR per member per working day.
		ThroughputPerMember: domain.Goal{Value: 5, ValueShouldBe: domain.GoalHigherIsBetter, PerMember: true},
	}
}

// MergeGoals overlays a team's configured goals on the defaults. A goal
// left unset (zero value, no direction) keeps its default.
func MergeGoals(overrides *domain.Goals) domain.Goals {
	out := DefaultGoals()
	if overrides == nil {
		return out
	}
	merge := func(dst *domain.Goal, src domain.Goal) {
		if src.ValueShouldBe != "" {
			*dst = src
		}
	}
	merge(&out.AvgTimeToFirstReview, overrides.AvgTimeToFirstReview)
	merge(&out.MedianTimeToFirstReview, overrides.MedianTimeToFirstReview)
	merge(&out.AvgCycleTime, overrides.AvgCycleTime)
	merge(&out.ThroughputPerMember, overrides.ThroughputPerMember)
	return out
}

// displayDuration renders hour counts the way the digest shows them:
// minutes when under an hour, otherwise hours to one decimal.
func displayDuration(hours float64) string {
	if hours < 1 {
		return fmt.Sprintf("%.0f minutes", hours*60)
	}
	return fmt.Sprintf("%.1f hours", hours)
}

func displayPercent(ratio float64) string {
	return fmt.Sprintf("%.0f%%", ratio*100)
}

// statLine renders one metric: current value, last week's value with a
// trend arrow when known, a goal marker, and an improving/regressing note.
func statLine(name string, current, previous *float64, goal domain.Goal, members int, display func(float64) string) string {
	if current == nil {
		return name + ": no data"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", name, display(*current))
	if previous != nil {
		icon := ":arrow_down:"
		if *current > *previous {
			icon = ":arrow_up:"
		}
		fmt.Fprintf(&b, " - Last week: %s %s", display(*previous), icon)
	}
	if goal.Met(*current, members) {
		b.WriteString(" :dart:")
	} else {
		b.WriteString(" :warning:")
	}
	if previous != nil && *current != *previous {
		if goal.Improving(*current, *previous) {
			b.WriteString(" (improving)")
		} else {
			b.WriteString(" (regressing)")
		}
	}
	return b.String()
}

// Composer turns collected stats into the ordered Slack digest lines.
type Composer struct {
	llm     NarrativeGenerator
	log     zerolog.Logger
	baseURL string
}

func NewComposer(llm NarrativeGenerator, log zerolog.Logger, dashboardBaseURL string) *Composer {
	return &Composer{llm: llm, log: log, baseURL: dashboardBaseURL}
}

// Compose renders the digest for one team. Sections follow the team's
// visibility config, all visible by default. The narrative summary is best
// effort: on error it is dropped and the rest of the digest stands.
func (c *Composer) Compose(ctx context.Context, team domain.Team, repos map[string]domain.RepoStats, sprint *domain.SprintStats, members int) []string {
	goals := MergeGoals(team.Goals)
	vis := team.Visibility

	lines := []string{
		fmt.Sprintf(":chart_with_upwards_trend: *Pull Request flow digest - %s* :chart_with_upwards_trend:", team.Name),
	}

	repoNames := make([]string, 0, len(repos))
	for name := range repos {
		repoNames = append(repoNames, name)
	}
	sort.Strings(repoNames)

	for _, name := range repoNames {
		stats := repos[name]
		cur, prev := stats.WeeklyStats.Current, stats.WeeklyStats.Previous
		lines = append(lines, "\n*"+name+"*")
		if vis.ShowAvgTTFR() {
			lines = append(lines, statLine("Average Time to First Review",
				cur.AvgTimeToFirstReview, prev.AvgTimeToFirstReview,
				goals.AvgTimeToFirstReview, members, displayDuration))
		}
		if vis.ShowMedianTTFR() {
			lines = append(lines, statLine("Median Time to First Review",
				cur.MedianTimeToFirstReview, prev.MedianTimeToFirstReview,
				goals.MedianTimeToFirstReview, members, displayDuration))
		}
		if vis.ShowAvgCycle() {
			lines = append(lines, statLine("Average Cycle Time",
				cur.AvgCycleTime, prev.AvgCycleTime,
				goals.AvgCycleTime, members, displayDuration))
		}
		if vis.ShowThroughput() {
			curT, prevT := float64(cur.Throughput), float64(prev.Throughput)
			lines = append(lines, statLine("Team throughput",
				&curT, &prevT, goals.ThroughputPerMember, members,
				func(v float64) string { return fmt.Sprintf("%.1f PRs/week", v) }))
		}
	}

	if sprint != nil && vis.ShowSprint() {
		lines = append(lines, composeSprint(sprint)...)
	}

	if c.llm != nil {
		if text, err := c.llm.Summarize(ctx, narrativePayload(repos, sprint)); err != nil {
			c.log.Warn().Err(err).Int64("team_id", team.ID).Msg("narrative generation failed, section omitted")
		} else if text != "" {
			lines = append(lines, "", text)
		}
	}

	lines = append(lines, fmt.Sprintf("\nMore details:\n%s/team/%d/dashboard", c.baseURL, team.ID))
	return lines
}

func composeSprint(s *domain.SprintStats) []string {
	lines := []string{
		fmt.Sprintf("\n*Sprint: %s*", s.SprintName),
		fmt.Sprintf("Completed points: %.1f - In progress: %.1f - To do: %.1f",
			s.CompletedPoints, s.PointsInProgress, s.PointsToDo),
		fmt.Sprintf("Points completion rate: %s", displayPercent(s.PointsCompletionRate)),
	}
	if s.PointsAddedMidSprint > 0 {
		keys := make([]string, 0, len(s.MidSprintAdditions))
		for _, a := range s.MidSprintAdditions {
			keys = append(keys, fmt.Sprintf("<%s|%s>", a.Link, a.Key))
		}
		lines = append(lines, fmt.Sprintf("Points added mid-sprint: %.1f (%s)",
			s.PointsAddedMidSprint, strings.Join(keys, ", ")))
	}
	if s.SprintTimePassedRatio != nil {
		lines = append(lines, "Sprint time passed: "+displayPercent(*s.SprintTimePassedRatio))
	}
	if s.AverageCycleTime != nil {
		lines = append(lines, "Average issue cycle time: "+displayDuration(*s.AverageCycleTime))
	}
	return lines
}

// narrativePayload is the structured digest handed to the narrative
// generator, stripped of the per-item maps to keep the prompt small.
func narrativePayload(repos map[string]domain.RepoStats, sprint *domain.SprintStats) map[string]any {
	repoSummaries := map[string]any{}
	for name, stats := range repos {
		repoSummaries[name] = stats.WeeklyStats
	}
	payload := map[string]any{"repositories": repoSummaries}
	if sprint != nil {
		payload["sprint"] = sprint
	}
	return payload
}
