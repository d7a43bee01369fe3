package verification

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
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

// RegisterRoutes mounts landlord routes on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/verification")
	g.GET("", h.GetStatus)
	g.GET("/history", h.GetHistory)
	g.POST("/upload", h.Upload)
	g.POST("/submit", h.Submit)
	g.GET("/features", h.GetFeatures)
	g.GET("/certificate", h.GetCertificate)
}

// RegisterAdminRoutes mounts review routes on an admin-only group.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/verification", h.ListPending)
	rg.POST("/verification", h.Decide)
}

func (h *Handler) GetStatus(c *gin.Context) {
	user, _ := auth.UserFrom(c)
	view, err := h.service.Status(c.Request.Context(), user)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) GetHistory(c *gin.Context) {
	user, _ := auth.UserFrom(c)
	events, err := h.service.History(c.Request.Context(), user)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) Upload(c *gin.Context) {
	user, _ := auth.UserFrom(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+(1<<20))

	fh, err := c.FormFile("file")
	if err != nil {
		apperr.Respond(c, h.logger, apperr.Validation("file is required"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		apperr.Respond(c, h.logger, apperr.Validation("file could not be read"))
		return
	}
	defer f.Close()

	// sniff the type rather than trusting the client header
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		apperr.Respond(c, h.logger, apperr.Validation("file could not be read"))
		return
	}
	head = head[:n]

	doc, err := h.service.Upload(c.Request.Context(), user, UploadInput{
		Type:        c.PostForm("type"),
		FileName:    fh.Filename,
		ContentType: http.DetectContentType(head),
		Size:        fh.Size,
		Body:        io.MultiReader(bytes.NewReader(head), f),
	})
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, h.logger, apperr.Validation("type is required"))
		return
	}

	user, _ := auth.UserFrom(c)
	rec, err := h.service.Submit(c.Request.Context(), user, req.Type)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verification": rec})
}

func (h *Handler) GetFeatures(c *gin.Context) {
	user, _ := auth.UserFrom(c)
	view, err := h.service.Features(c.Request.Context(), user)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) GetCertificate(c *gin.Context) {
	user, _ := auth.UserFrom(c)
	out, err := h.service.Certificate(c.Request.Context(), user)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="verification-certificate.pdf"`)
	c.Data(http.StatusOK, "application/pdf", out)
}

func (h *Handler) ListPending(c *gin.Context) {
	admin, _ := auth.UserFrom(c)
	items, err := h.service.PendingReviews(c.Request.Context(), admin)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (h *Handler) Decide(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, h.logger, apperr.Validation(err.Error()))
		return
	}

	admin, _ := auth.UserFrom(c)
	rec, err := h.service.Decide(c.Request.Context(), admin, req)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verification": rec})
}
