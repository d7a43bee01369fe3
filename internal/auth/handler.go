package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"verifiednyumba/backend/internal/apperr"
)

type Handler struct {
	service    *Service
	middleware *Middleware
	cookies    CookieConfig
	logger     *zap.Logger
}

func NewHandler(service *Service, middleware *Middleware, cookies CookieConfig, logger *zap.Logger) *Handler {
	return &Handler{
		service:    service,
		middleware: middleware,
		cookies:    cookies,
		logger:     logger,
	}
}

// RegisterRoutes mounts the /auth group on rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/auth")
	g.POST("/register", h.Register)
	g.POST("/login", h.Login)
	g.POST("/refresh", h.Refresh)
	g.POST("/verify-email", h.VerifyEmail)

	authed := g.Group("", h.middleware.Authenticate())
	authed.POST("/logout", h.Logout)
	authed.GET("/me", h.Me)
	authed.POST("/phone/send", h.SendPhoneCode)
	authed.POST("/phone/confirm", h.ConfirmPhone)
}

// meResponse is the session view used by clients for UI gating.
type meResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FullName      string `json:"fullName"`
	Phone         string `json:"phone,omitempty"`
	Role          Role   `json:"role"`
	EmailVerified bool   `json:"emailVerified"`
	PhoneVerified bool   `json:"phoneVerified"`
}

func toMe(u *User) meResponse {
	return meResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		FullName:      u.FullName,
		Phone:         u.Phone,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		PhoneVerified: u.PhoneVerified,
	}
}

func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, h.logger, apperr.Validation(err.Error()))
		return
	}

	user, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}

	pair, err := h.service.StartSession(c.Request.Context(), user)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	h.cookies.setSession(c, pair)

	c.JSON(http.StatusCreated, gin.H{"user": toMe(user), "tokens": pair})
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, h.logger, apperr.Validation(err.Error()))
		return
	}

	user, pair, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	h.cookies.setSession(c, pair)

	c.JSON(http.StatusOK, gin.H{"user": toMe(user), "tokens": pair})
}

func (h *Handler) Refresh(c *gin.Context) {
	token, err := c.Cookie(RefreshCookie)
	if err != nil || token == "" {
		apperr.Respond(c, h.logger, apperr.NotAuthenticated("not authenticated"))
		return
	}

	user, pair, err := h.service.Refresh(c.Request.Context(), token)
	if err != nil {
		if apperr.Is(err, apperr.KindNotAuthenticated) {
			h.cookies.clearSession(c)
		}
		apperr.Respond(c, h.logger, err)
		return
	}
	h.cookies.setSession(c, pair)

	c.JSON(http.StatusOK, gin.H{"user": toMe(user), "tokens": pair})
}

func (h *Handler) Logout(c *gin.Context) {
	user, _ := UserFrom(c)
	if err := h.service.Logout(c.Request.Context(), user.ID); err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	h.cookies.clearSession(c)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func (h *Handler) Me(c *gin.Context) {
	user, _ := UserFrom(c)
	c.JSON(http.StatusOK, toMe(user))
}

func (h *Handler) VerifyEmail(c *gin.Context) {
	var req VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, h.logger, apperr.Validation(err.Error()))
		return
	}

	user, err := h.service.VerifyEmail(c.Request.Context(), req.Token)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toMe(user))
}

func (h *Handler) SendPhoneCode(c *gin.Context) {
	var req SendPhoneCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, h.logger, apperr.Validation(err.Error()))
		return
	}

	user, _ := UserFrom(c)
	if err := h.service.SendPhoneCode(c.Request.Context(), user.ID, req.Phone); err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent", "expiresIn": int(phoneCodeTTL.Seconds())})
}

func (h *Handler) ConfirmPhone(c *gin.Context) {
	var req ConfirmPhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, h.logger, apperr.Validation(err.Error()))
		return
	}

	user, _ := UserFrom(c)
	updated, err := h.service.ConfirmPhone(c.Request.Context(), user.ID, req.Code)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toMe(updated))
}

func maxAge(expiresAt time.Time) int {
	secs := int(time.Until(expiresAt).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}
