package listings

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

// RegisterRoutes mounts the browse route on public and the rest on authed.
func (h *Handler) RegisterRoutes(public, authed *gin.RouterGroup) {
	public.GET("/listings", h.Browse)

	g := authed.Group("/listings")
	g.POST("", h.Create)
	g.GET("/mine", h.Mine)
	g.GET("/:id/contact", h.Contact)
}

func (h *Handler) Browse(c *gin.Context) {
	limit := h.getIntParam(c, "limit", defaultPageSize)
	offset := h.getIntParam(c, "offset", 0)

	views, err := h.service.Browse(c.Request.Context(), c.Query("location"), limit, offset)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": views, "limit": limit, "offset": offset})
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, h.logger, apperr.Validation(err.Error()))
		return
	}

	user, _ := auth.UserFrom(c)
	listing, err := h.service.Create(c.Request.Context(), user, req)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

func (h *Handler) Mine(c *gin.Context) {
	user, _ := auth.UserFrom(c)
	view, err := h.service.Mine(c.Request.Context(), user)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) Contact(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apperr.Respond(c, h.logger, apperr.NotFound("listing not found"))
		return
	}

	user, _ := auth.UserFrom(c)
	contact, err := h.service.Contact(c.Request.Context(), user, id)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

// getIntParam gets an integer query parameter with a default value
func (h *Handler) getIntParam(c *gin.Context, key string, defaultVal int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
