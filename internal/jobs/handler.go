package jobs

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"verifiednyumba/backend/internal/apperr"
)

type Handler struct {
	scheduler *Scheduler
	logger    *zap.Logger
}

func NewHandler(scheduler *Scheduler, logger *zap.Logger) *Handler {
	return &Handler{scheduler: scheduler, logger: logger}
}

// RegisterAdminRoutes mounts job inspection and manual runs on an admin group.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/jobs")
	g.GET("", h.List)
	g.POST("/:name/run", h.Run)
}

func (h *Handler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.scheduler.Status()})
}

func (h *Handler) Run(c *gin.Context) {
	name := c.Param("name")
	err := h.scheduler.RunNow(c.Request.Context(), name)
	switch {
	case errors.Is(err, ErrJobNotFound):
		apperr.Respond(c, h.logger, apperr.NotFound("job not found"))
		return
	case err != nil:
		apperr.Respond(c, h.logger, apperr.Wrap(apperr.KindInternal, "job "+name+" failed", err))
		return
	}
	h.logger.Info("Job run on demand", zap.String("job", name))
	c.JSON(http.StatusOK, gin.H{"job": name, "status": "completed"})
}
