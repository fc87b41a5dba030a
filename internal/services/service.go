package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoineMoPa/prflow.dev/internal/cache"
	"github.com/antoineMoPa/prflow.dev/internal/config"
	"github.com/antoineMoPa/prflow.dev/internal/domain"
)

// TeamStore is the persistence surface the service needs. *repo.Repository
// implements it.
type TeamStore interface {
	GetTeam(ctx context.Context, id int64) (*domain.Team, error)
	GetCredentials(ctx context.Context, teamID int64) (*domain.Credentials, error)
	GetRoster(ctx context.Context, teamID int64) (*domain.Roster, error)
	StartJobRun(ctx context.Context, teamID int64) (int64, error)
	FinishJobRun(ctx context.Context, id int64, reposCollected int, success bool, errStr string) error
}

// Notifier delivers the composed digest. One attempt, no retry.
type Notifier interface {
	Send(ctx context.Context, webhookURL, text string) error
}

// Client factories exist because code-host and tracker credentials are per
// team, so clients cannot be constructed once at startup.
type (
	CodeHostClientFactory func(token string) CodeHostClient
	TrackerClientFactory  func(creds domain.Credentials) IssueTrackerClient
)

// Service orchestrates a team's stats collection and report delivery.
type Service struct {
	cfg         config.Config
	log         zerolog.Logger
	store       TeamStore
	cache       *cache.Cache
	newCodeHost CodeHostClientFactory
	newTracker  TrackerClientFactory
	notifier    Notifier
	composer    *Composer
	now         func() time.Time
}

func New(cfg config.Config, log zerolog.Logger, store TeamStore, c *cache.Cache,
	newCodeHost CodeHostClientFactory, newTracker TrackerClientFactory,
	notifier Notifier, composer *Composer) *Service {
	return &Service{
		cfg:         cfg,
		log:         log,
		store:       store,
		cache:       c,
		newCodeHost: newCodeHost,
		newTracker:  newTracker,
		notifier:    notifier,
		composer:    composer,
		now:         time.Now,
	}
}

// WithClock substitutes the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetStats returns per-repository stats for the team's dashboard. A missing
// code-host token is fatal; every repository must collect or the whole call
// fails, so callers never see a half-computed set.
func (s *Service) GetStats(ctx context.Context, teamID int64) (map[string]domain.RepoStats, error) {
	creds, roster, err := s.loadTeamInputs(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return s.collectRepos(ctx, *creds, *roster)
}

func (s *Service) loadTeamInputs(ctx context.Context, teamID int64) (*domain.Credentials, *domain.Roster, error) {
	creds, err := s.store.GetCredentials(ctx, teamID)
	if err != nil {
		return nil, nil, fmt.Errorf("load credentials: %w", err)
	}
	if creds.GitHubToken == "" {
		return nil, nil, domain.ErrTokenNotFound
	}
	roster, err := s.store.GetRoster(ctx, teamID)
	if err != nil {
		return nil, nil, fmt.Errorf("load roster: %w", err)
	}
	return creds, roster, nil
}

// collectRepos walks the roster's repositories sequentially. The item-level
// sub-fetches inside each repository are sequential too, which keeps the
// crawl under the code host's secondary rate limits.
func (s *Service) collectRepos(ctx context.Context, creds domain.Credentials, roster domain.Roster) (map[string]domain.RepoStats, error) {
	collector := NewCollector(s.newCodeHost(creds.GitHubToken), s.cache, s.log,
		s.cfg.FetchCutoffDays, s.cfg.MaxPRPages).WithClock(s.now)

	out := make(map[string]domain.RepoStats, len(roster.Repositories))
	for _, repoPath := range roster.Repositories {
		stats, err := collector.Collect(ctx, repoPath, roster.Members)
		if err != nil {
			return nil, err
		}
		out[repoPath] = stats
	}
	return out, nil
}

// collectSprint is best effort. Any tracker failure, including missing
// credentials and no active sprint, degrades to a nil sprint section.
func (s *Service) collectSprint(ctx context.Context, teamID int64, creds domain.Credentials) *domain.SprintStats {
	if !creds.HasTracker() {
		return nil
	}
	collector := NewSprintCollector(s.newTracker(creds), s.cache, s.log, s.cfg.StoryPointsField).WithClock(s.now)
	sprint, err := collector.Collect(ctx, creds)
	if err != nil {
		s.log.Warn().Err(err).Int64("team_id", teamID).Msg("issue tracker stats unavailable, section omitted")
		return nil
	}
	return sprint
}

// RunReport collects, composes and delivers the team's digest. Code-host
// failures abort the run; tracker and narrative failures only shrink it.
func (s *Service) RunReport(ctx context.Context, teamID int64) error {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}

	runID, err := s.store.StartJobRun(ctx, teamID)
	if err != nil {
		s.log.Warn().Err(err).Int64("team_id", teamID).Msg("job run bookkeeping unavailable")
	}
	finish := func(repos int, runErr error) {
		if runID == 0 {
			return
		}
		errStr := ""
		if runErr != nil {
			errStr = runErr.Error()
		}
		if err := s.store.FinishJobRun(ctx, runID, repos, runErr == nil, errStr); err != nil {
			s.log.Warn().Err(err).Int64("run_id", runID).Msg("finish job run")
		}
	}

	creds, roster, err := s.loadTeamInputs(ctx, teamID)
	if err != nil {
		finish(0, err)
		return err
	}
	repos, err := s.collectRepos(ctx, *creds, *roster)
	if err != nil {
		finish(0, err)
		return err
	}
	sprint := s.collectSprint(ctx, teamID, *creds)

	lines := s.composer.Compose(ctx, *team, repos, sprint, len(roster.Members))
	if team.SlackWebhookURL == "" {
		s.log.Info().Int64("team_id", teamID).Msg("no webhook configured, report not delivered")
		finish(len(repos), nil)
		return nil
	}
	if err := s.notifier.Send(ctx, team.SlackWebhookURL, strings.Join(lines, "\n")); err != nil {
		err = fmt.Errorf("deliver report: %w", err)
		finish(len(repos), err)
		return err
	}

	s.log.Info().Int64("team_id", teamID).Int("repos", len(repos)).Msg("report delivered")
	finish(len(repos), nil)
	return nil
}
