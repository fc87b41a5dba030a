package domain

import "errors"

var (
	// ErrTeamNotFound means the trigger referenced an unknown team.
	ErrTeamNotFound = errors.New("team not found")
	// ErrTokenNotFound means the team has no code-host token configured.
	// This is fatal for the whole team's report.
	ErrTokenNotFound = errors.New("code-host token not found")
	// ErrFetchInProgress rejects a duplicate crawl of the same cache path
	// while another crawl holds the advisory fetch lock.
	ErrFetchInProgress = errors.New("fetch already in progress")
	// ErrNoActiveSprint means the tracker board has no sprint in the active state.
	ErrNoActiveSprint = errors.New("no active sprint")
	// ErrNoData marks an aggregation window with no qualifying items.
	ErrNoData = errors.New("no data in window")
)
