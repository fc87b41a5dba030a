package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antoineMoPa/prflow.dev/internal/adapters/github"
	"github.com/antoineMoPa/prflow.dev/internal/adapters/jira"
	"github.com/antoineMoPa/prflow.dev/internal/adapters/openai"
	"github.com/antoineMoPa/prflow.dev/internal/adapters/slack"
	"github.com/antoineMoPa/prflow.dev/internal/cache"
	"github.com/antoineMoPa/prflow.dev/internal/config"
	"github.com/antoineMoPa/prflow.dev/internal/domain"
	httpapi "github.com/antoineMoPa/prflow.dev/internal/http"
	"github.com/antoineMoPa/prflow.dev/internal/jobs"
	"github.com/antoineMoPa/prflow.dev/internal/logger"
	"github.com/antoineMoPa/prflow.dev/internal/repo"
	"github.com/antoineMoPa/prflow.dev/internal/services"
)

func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := repo.MustOpen(ctx, cfg, log)
	defer db.Close()
	if err := repo.Migrate(cfg.DBDSN); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	repository := repo.NewRepository(db, log)
	statsCache := cache.New(repository, cfg.CacheTTL, cfg.FetchLockWindow)

	newCodeHost := func(token string) services.CodeHostClient {
		return github.NewClient(token, cfg.HTTPTimeout, log)
	}
	newTracker := func(creds domain.Credentials) services.IssueTrackerClient {
		return jira.NewClient(creds.JiraDomain, creds.JiraEmail, creds.JiraToken, cfg.HTTPTimeout, log)
	}

	llm := openai.NewClient(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAITimeout, log)
	composer := services.NewComposer(llm, log, cfg.DashboardBaseURL)
	notifier := slack.NewClient(cfg.HTTPTimeout, log)

	svc := services.New(cfg, log, repository, statsCache, newCodeHost, newTracker, notifier, composer)

	cron := jobs.NewCron(cfg, log, svc, repository)
	cron.Start()
	defer cron.Stop()

	handlers := httpapi.NewHandlers(log, svc, repository, cron.RunAll)
	router := httpapi.NewRouter(cfg, log, handlers)

	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(cfg.HTTPAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down...")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	time.Sleep(500 * time.Millisecond)
}
