package admin

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"verifiednyumba/backend/internal/apperr"
	"verifiednyumba/backend/internal/auth"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes mounts admin routes on a group already guarded for ADMIN.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/verification/export", h.ExportReviews)
	rg.POST("/users/:id/ban", h.BanUser)
}

func (h *Handler) ExportReviews(c *gin.Context) {
	admin, _ := auth.UserFrom(c)
	data, err := h.service.ExportReviews(c.Request.Context(), admin)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}

	name := fmt.Sprintf("review-queue-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, xlsxContentType, data)
}

func (h *Handler) BanUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apperr.Respond(c, h.logger, apperr.NotFound("user not found"))
		return
	}

	admin, _ := auth.UserFrom(c)
	result, err := h.service.BanUser(c.Request.Context(), admin, userID)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
