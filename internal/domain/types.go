package domain

import "time"

// PullRequestStats is the per-item record derived once from the code host
// timeline and then kept in the cache. Durations are hours; nil means the
// underlying event never happened.
type PullRequestStats struct {
	Number              int       `json:"number"`
	Author              string    `json:"author"`
	Reviewer            *string   `json:"reviewer"`
	CreatedAt           time.Time `json:"createdAt"`
	Link                string    `json:"link"`
	TimeToFirstReview   *float64  `json:"timeToFirstReview"`
	CycleTime           *float64  `json:"cycleTime"`
	IsMerged            bool      `json:"isMerged"`
	IsReadyForReview    bool      `json:"isReadyForReview"`
	IsWaitingToBeMerged bool      `json:"isWaitingToBeMerged"`
}

// WeekAggregates holds one reporting window. Nil fields mean the window had
// no qualifying items, which callers must render as "no data" rather than 0.
type WeekAggregates struct {
	AvgTimeToFirstReview    *float64 `json:"avgTimeToFirstReview"`
	MedianTimeToFirstReview *float64 `json:"medianTimeToFirstReview"`
	AvgCycleTime            *float64 `json:"avgCycleTime"`
	Throughput              int      `json:"throughput"`
}

type WeeklyStats struct {
	Current  WeekAggregates `json:"current"`
	Previous WeekAggregates `json:"previous"`
}

// RepoStats is the dashboard contract for one repository and the blob stored
// in the cache. PullStats is append-only per item number.
type RepoStats struct {
	AvgTimeToFirstReview    *float64                 `json:"avgTimeToFirstReview"`
	MedianTimeToFirstReview *float64                 `json:"medianTimeToFirstReview"`
	AvgCycleTime            *float64                 `json:"avgCycleTime"`
	WeeklyStats             WeeklyStats              `json:"weeklyStats"`
	PullStats               map[int]PullRequestStats `json:"pullStats"`
	SchemaVersion           int                      `json:"cacheSchemaVersion"`
}

// IssueStats is the per-issue record derived from the tracker changelog.
type IssueStats struct {
	Key            string   `json:"key"`
	Status         string   `json:"status"`
	CycleTime      *float64 `json:"cycleTime"`
	InProgressTime *float64 `json:"inProgressTime"`
	StoryPoints    *float64 `json:"storyPoints"`
	Link           string   `json:"link"`
	AddedMidSprint bool     `json:"addedMidSprint"`
}

type SprintAddition struct {
	Key    string   `json:"key"`
	Points *float64 `json:"points"`
	Link   string   `json:"link"`
}

// SprintStats aggregates the active sprint.
type SprintStats struct {
	SprintName            string           `json:"sprintName"`
	CompletedPoints       float64          `json:"completedPoints"`
	PointsToDo            float64          `json:"pointsToDo"`
	PointsInProgress      float64          `json:"pointsInProgress"`
	PointsAddedMidSprint  float64          `json:"pointsAddedMidSprint"`
	MidSprintAdditions    []SprintAddition `json:"midSprintAdditions"`
	SprintTimePassedRatio *float64         `json:"sprintTimePassedRatio"`
	PointsCompletionRate  float64          `json:"pointsCompletionRate"`
	AverageCycleTime      *float64         `json:"averageCycleTime"`
}

type GoalDirection string

const (
	GoalLowerIsBetter  GoalDirection = "lower"
	GoalHigherIsBetter GoalDirection = "higher"
)

// Goal is a target for one metric. PerMember goals multiply Value by the
// team's member count before evaluation.
type Goal struct {
	Value         float64       `json:"value"`
	ValueShouldBe GoalDirection `json:"valueShouldBe"`
	PerMember     bool          `json:"perMember,omitempty"`
}

// Met reports whether current satisfies the goal for a team of members.
func (g Goal) Met(current float64, members int) bool {
	target := g.Value
	if g.PerMember && members > 0 {
		target = g.Value * float64(members)
	}
	if g.ValueShouldBe == GoalHigherIsBetter {
		return current >= target
	}
	return current <= target
}

// Improving reports whether current moved in the goal's direction vs previous.
func (g Goal) Improving(current, previous float64) bool {
	if g.ValueShouldBe == GoalHigherIsBetter {
		return current > previous
	}
	return current < previous
}

type Goals struct {
	AvgTimeToFirstReview    Goal `json:"avgTimeToFirstReview"`
	MedianTimeToFirstReview Goal `json:"medianTimeToFirstReview"`
	AvgCycleTime            Goal `json:"avgPullRequestCycleTime"`
	ThroughputPerMember     Goal `json:"throughputPRsPerMember"`
}

// Visibility toggles report sections per metric. Nil means visible.
type Visibility struct {
	AvgTimeToFirstReview    *bool `json:"avgTimeToFirstReview"`
	MedianTimeToFirstReview *bool `json:"medianTimeToFirstReview"`
	AvgCycleTime            *bool `json:"avgCycleTime"`
	Throughput              *bool `json:"throughput"`
	Sprint                  *bool `json:"sprint"`
}

func visible(v *bool) bool { return v == nil || *v }

func (v Visibility) ShowAvgTTFR() bool    { return visible(v.AvgTimeToFirstReview) }
func (v Visibility) ShowMedianTTFR() bool { return visible(v.MedianTimeToFirstReview) }
func (v Visibility) ShowAvgCycle() bool   { return visible(v.AvgCycleTime) }
func (v Visibility) ShowThroughput() bool { return visible(v.Throughput) }
func (v Visibility) ShowSprint() bool     { return visible(v.Sprint) }

type Team struct {
	ID              int64
	Name            string
	SlackWebhookURL string
	Goals           *Goals
	Visibility      Visibility
}

// Credentials holds per-team external API access. Tracker fields may all be
// empty; a missing code-host token is fatal for the team's report.
type Credentials struct {
	GitHubToken    string
	JiraDomain     string
	JiraToken      string
	JiraEmail      string
	JiraBoardID    int64
	JiraProjectKey string
}

func (c Credentials) HasTracker() bool {
	return c.JiraDomain != "" && c.JiraToken != "" && c.JiraBoardID > 0 && c.JiraProjectKey != ""
}

type Roster struct {
	Members      []string
	Repositories []string
}
