package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoineMoPa/prflow.dev/internal/domain"
)

func reviewed(number int, created time.Time, reviewHours float64) domain.PullRequestStats {
	reviewer := "bob"
	return domain.PullRequestStats{
		Number:            number,
		Author:            "alice",
		Reviewer:          &reviewer,
		CreatedAt:         created,
		TimeToFirstReview: &reviewHours,
	}
}

func TestMedianUsesLowerMiddleIndex(t *testing.T) {
	assert.Equal(t, 3.0, median([]float64{5, 3, 1, 4, 2}))
	assert.Equal(t, 3.0, median([]float64{4, 2, 1, 3}))
	assert.Equal(t, 7.0, median([]float64{7}))
}

func TestAggregateWeeklySplitsWindows(t *testing.T) {
	now := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	pulls := map[int]domain.PullRequestStats{
		1: reviewed(1, now.AddDate(0, 0, -1), 1),
		2: reviewed(2, now.AddDate(0, 0, -2), 3),
		3: reviewed(3, now.AddDate(0, 0, -8), 10),
		// Outside the reporting window entirely.
		4: reviewed(4, now.AddDate(0, 0, -20), 100),
	}

	weekly := aggregateWeekly(pulls, now)

	assert.Equal(t, 2, weekly.Current.Throughput)
	require.NotNil(t, weekly.Current.AvgTimeToFirstReview)
	assert.InDelta(t, 2.0, *weekly.Current.AvgTimeToFirstReview, 1e-9)

	assert.Equal(t, 1, weekly.Previous.Throughput)
	require.NotNil(t, weekly.Previous.AvgTimeToFirstReview)
	assert.InDelta(t, 10.0, *weekly.Previous.AvgTimeToFirstReview, 1e-9)
}

func TestWindowBoundariesAreHalfOpen(t *testing.T) {
	now := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	pulls := map[int]domain.PullRequestStats{
		// Exactly on the current-window start belongs to the current week.
		1: reviewed(1, now.AddDate(0, 0, -7), 1),
		// Exactly on the reporting-window start belongs to the previous week.
		2: reviewed(2, now.AddDate(0, 0, -14), 1),
	}

	weekly := aggregateWeekly(pulls, now)
	assert.Equal(t, 1, weekly.Current.Throughput)
	assert.Equal(t, 1, weekly.Previous.Throughput)
}

func TestEmptyWindowYieldsNilStats(t *testing.T) {
	weekly := aggregateWeekly(map[int]domain.PullRequestStats{}, time.Now())

	assert.Zero(t, weekly.Current.Throughput)
	assert.Nil(t, weekly.Current.AvgTimeToFirstReview)
	assert.Nil(t, weekly.Current.MedianTimeToFirstReview)
	assert.Nil(t, weekly.Current.AvgCycleTime)
}

func TestReviewStatsOnlyCountReviewedItems(t *testing.T) {
	now := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	unreviewedHours := 50.0
	pulls := map[int]domain.PullRequestStats{
		1: reviewed(1, now.AddDate(0, 0, -1), 2),
		2: {Number: 2, CreatedAt: now.AddDate(0, 0, -1), TimeToFirstReview: &unreviewedHours},
	}

	weekly := aggregateWeekly(pulls, now)

	// Throughput counts both, review time only the reviewed one.
	assert.Equal(t, 2, weekly.Current.Throughput)
	require.NotNil(t, weekly.Current.AvgTimeToFirstReview)
	assert.InDelta(t, 2.0, *weekly.Current.AvgTimeToFirstReview, 1e-9)
}

func TestCycleTimeAveragedOverKnownValues(t *testing.T) {
	now := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	four, six := 4.0, 6.0
	pulls := map[int]domain.PullRequestStats{
		1: {Number: 1, CreatedAt: now.AddDate(0, 0, -1), CycleTime: &four},
		2: {Number: 2, CreatedAt: now.AddDate(0, 0, -1), CycleTime: &six},
		3: {Number: 3, CreatedAt: now.AddDate(0, 0, -1)},
	}

	weekly := aggregateWeekly(pulls, now)
	require.NotNil(t, weekly.Current.AvgCycleTime)
	assert.InDelta(t, 5.0, *weekly.Current.AvgCycleTime, 1e-9)
}
