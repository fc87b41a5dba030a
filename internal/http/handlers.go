package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/antoineMoPa/prflow.dev/internal/domain"
	"github.com/antoineMoPa/prflow.dev/internal/repo"
)

type service interface {
	GetStats(ctx context.Context, teamID int64) (map[string]domain.RepoStats, error)
	RunReport(ctx context.Context, teamID int64) error
}

type runStore interface {
	GetLastRun(ctx context.Context) (*repo.LastRun, error)
}

// Handlers exposes the dashboard and admin surface. runAll triggers the
// same all-team pass the scheduler runs.
type Handlers struct {
	log    zerolog.Logger
	svc    service
	store  runStore
	runAll func(ctx context.Context)
}

func NewHandlers(log zerolog.Logger, svc service, store runStore, runAll func(ctx context.Context)) *Handlers {
	return &Handlers{log: log, svc: svc, store: store, runAll: runAll}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrTeamNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTokenNotFound):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrFetchInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func teamID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid team id"})
		return 0, false
	}
	return id, true
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// TeamStats serves the dashboard payload, one entry per repository.
func (h *Handlers) TeamStats(c *gin.Context) {
	id, ok := teamID(c)
	if !ok {
		return
	}
	stats, err := h.svc.GetStats(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RunTeamReport composes and delivers one team's digest synchronously so
// the caller sees whether delivery worked.
func (h *Handlers) RunTeamReport(c *gin.Context) {
	id, ok := teamID(c)
	if !ok {
		return
	}
	if err := h.svc.RunReport(c.Request.Context(), id); err != nil {
		c.JSON(statusFor(err), gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) LastRun(c *gin.Context) {
	lr, err := h.store.GetLastRun(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, lr)
}

func (h *Handlers) RunNow(c *gin.Context) {
	// Detached from the request context so a closed connection does not
	// cancel the crawl.
	go h.runAll(context.Background())
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
