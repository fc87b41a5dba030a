package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/antoineMoPa/prflow.dev/internal/config"
)

func NewRouter(cfg config.Config, log zerolog.Logger, h *Handlers) *gin.Engine {
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Next()
		log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
	})

	r.GET("/healthz", h.Healthz)
	r.GET("/teams/:id/stats", h.TeamStats)
	r.POST("/teams/:id/report", h.RunTeamReport)
	r.GET("/admin/last-run", h.LastRun)
	r.POST("/admin/run", h.RunNow)

	return r
}
