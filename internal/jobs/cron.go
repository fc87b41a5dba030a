// Package jobs schedules the periodic report run across all teams.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/antoineMoPa/prflow.dev/internal/config"
	"github.com/antoineMoPa/prflow.dev/internal/repo"
)

type service interface {
	RunReport(ctx context.Context, teamID int64) error
}

// reportLockKey guards the all-team pass across replicas via a Postgres
// advisory lock.
const reportLockKey int64 = 771203

type Cron struct {
	cfg  config.Config
	log  zerolog.Logger
	svc  service
	repo *repo.Repository
	c    *cron.Cron
}

func NewCron(cfg config.Config, log zerolog.Logger, svc service, r *repo.Repository) *Cron {
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
	cr := &Cron{cfg: cfg, log: log, svc: svc, repo: r, c: c}
	_, _ = c.AddFunc(cfg.ReportCron, cr.tick)
	return cr
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

func (cr *Cron) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	ok, err := cr.repo.TryAdvisoryLock(ctx, reportLockKey)
	if err != nil {
		cr.log.Error().Err(err).Msg("cron: lock error")
		return
	}
	if !ok {
		cr.log.Info().Msg("cron: already running elsewhere")
		return
	}
	defer func() { _ = cr.repo.AdvisoryUnlock(context.Background(), reportLockKey) }()
	cr.RunAll(ctx)
}

// RunAll reports every team in turn. A failing team is logged and skipped;
// the pass keeps going so one bad credential set cannot starve the rest.
func (cr *Cron) RunAll(ctx context.Context) {
	ids, err := cr.repo.ListTeamIDs(ctx)
	if err != nil {
		cr.log.Error().Err(err).Msg("cron: list teams")
		return
	}
	cr.log.Info().Int("teams", len(ids)).Msg("cron: report pass")
	for _, id := range ids {
		if err := cr.svc.RunReport(ctx, id); err != nil {
			cr.log.Error().Err(err).Int64("team_id", id).Msg("cron: report failed")
		}
	}
}
