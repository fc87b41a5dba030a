package services

import (
	"sort"
	"time"

	"github.com/antoineMoPa/prflow.dev/internal/domain"
)

const reportWindowDays = 7

// aggregateWeekly buckets per-item stats into the current window
// [now-7d, now) and the previous window [now-14d, now-7d), by creation
// time, and summarizes each.
func aggregateWeekly(pulls map[int]domain.PullRequestStats, now time.Time) domain.WeeklyStats {
	currentStart := now.AddDate(0, 0, -reportWindowDays)
	previousStart := now.AddDate(0, 0, -2*reportWindowDays)

	var current, previous []domain.PullRequestStats
	for _, p := range pulls {
		switch {
		case p.CreatedAt.Before(previousStart) || !p.CreatedAt.Before(now):
		case p.CreatedAt.Before(currentStart):
			previous = append(previous, p)
		default:
			current = append(current, p)
		}
	}
	return domain.WeeklyStats{
		Current:  summarizeWindow(current),
		Previous: summarizeWindow(previous),
	}
}

// summarizeWindow reduces one window. Review-time stats only count items
// that acquired a reviewer; throughput counts every item. An empty input
// yields nil stats rather than zeros.
func summarizeWindow(pulls []domain.PullRequestStats) domain.WeekAggregates {
	out := domain.WeekAggregates{Throughput: len(pulls)}

	var reviewTimes, cycleTimes []float64
	for _, p := range pulls {
		if p.Reviewer != nil && p.TimeToFirstReview != nil {
			reviewTimes = append(reviewTimes, *p.TimeToFirstReview)
		}
		if p.CycleTime != nil {
			cycleTimes = append(cycleTimes, *p.CycleTime)
		}
	}
	if len(reviewTimes) > 0 {
		avg := mean(reviewTimes)
		med := median(reviewTimes)
		out.AvgTimeToFirstReview = &avg
		out.MedianTimeToFirstReview = &med
	}
	if len(cycleTimes) > 0 {
		avg := mean(cycleTimes)
		out.AvgCycleTime = &avg
	}
	return out
}

func mean(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// median takes the element at index len/2 of the sorted values, no
// interpolation for even-length inputs.
func median(vs []float64) float64 {
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}
