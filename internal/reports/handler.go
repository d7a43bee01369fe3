package reports

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"verifiednyumba/backend/internal/apperr"
	"verifiednyumba/backend/internal/auth"
)

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes mounts the reporting route on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/listings/:id/reports", h.Create)
}

// RegisterAdminRoutes mounts the flagged-landlords view and its per-landlord
// drill-down on an admin group.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/reports", h.Flagged)
	rg.GET("/reports/:landlordId", h.ForLandlord)
}

func (h *Handler) Create(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apperr.Respond(c, h.logger, apperr.NotFound("listing not found"))
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, h.logger, apperr.Validation(err.Error()))
		return
	}

	user, _ := auth.UserFrom(c)
	out, err := h.service.Report(c.Request.Context(), user, listingID, req)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) Flagged(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))

	admin, _ := auth.UserFrom(c)
	summaries, err := h.service.FlaggedLandlords(c.Request.Context(), admin, days)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"landlords": summaries, "days": days})
}

func (h *Handler) ForLandlord(c *gin.Context) {
	landlordID, err := uuid.Parse(c.Param("landlordId"))
	if err != nil {
		apperr.Respond(c, h.logger, apperr.NotFound("landlord not found"))
		return
	}

	admin, _ := auth.UserFrom(c)
	list, err := h.service.LandlordReports(c.Request.Context(), admin, landlordID)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"landlordId": landlordID, "reports": list})
}
