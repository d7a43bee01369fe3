package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"verifiednyumba/backend/internal/apperr"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"

	contextUserKey = "auth_user"
)

// CookieConfig controls the session cookies.
type CookieConfig struct {
	Domain string
	Secure bool
}

func (cc CookieConfig) setSession(c *gin.Context, pair *TokenPair) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookie, pair.AccessToken, maxAge(pair.AccessExpiresAt), "/", cc.Domain, cc.Secure, true)
	c.SetCookie(RefreshCookie, pair.RefreshToken, maxAge(pair.RefreshExpiresAt), "/api/v1", cc.Domain, cc.Secure, true)
}

func (cc CookieConfig) clearSession(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookie, "", -1, "/", cc.Domain, cc.Secure, true)
	c.SetCookie(RefreshCookie, "", -1, "/api/v1", cc.Domain, cc.Secure, true)
}

// Middleware authenticates requests from a Bearer header or the access
// cookie, renewing an expired access cookie from the refresh cookie.
type Middleware struct {
	service *Service
	cookies CookieConfig
	logger  *zap.Logger
}

func NewMiddleware(service *Service, cookies CookieConfig, logger *zap.Logger) *Middleware {
	return &Middleware{service: service, cookies: cookies, logger: logger}
}

// Authenticate rejects requests without a valid session and stores the
// current user on the context.
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		user, err := m.resolve(c)
		if err != nil {
			apperr.Respond(c, m.logger, err)
			return
		}

		SetUser(c, user)
		c.Next()
	}
}

// RequireRoles must run after Authenticate.
func (m *Middleware) RequireRoles(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := UserFrom(c)
		if !ok {
			apperr.Respond(c, m.logger, apperr.NotAuthenticated("not authenticated"))
			return
		}
		for _, r := range roles {
			if user.Role == r {
				c.Next()
				return
			}
		}
		apperr.Respond(c, m.logger, apperr.Forbidden("insufficient permissions"))
	}
}

func (m *Middleware) resolve(c *gin.Context) (*User, error) {
	ctx := c.Request.Context()

	if token := accessToken(c); token != "" {
		if claims, err := m.service.ParseAccessToken(token); err == nil {
			return m.service.CurrentUser(ctx, claims.UserID)
		}
	}

	refresh, err := c.Cookie(RefreshCookie)
	if err != nil || refresh == "" {
		return nil, apperr.NotAuthenticated("not authenticated")
	}

	user, pair, err := m.service.Refresh(ctx, refresh)
	if err != nil {
		if apperr.Is(err, apperr.KindNotAuthenticated) {
			m.cookies.clearSession(c)
		}
		return nil, err
	}
	m.cookies.setSession(c, pair)
	m.logger.Debug("Session renewed", zap.String("user_id", user.ID.String()))
	return user, nil
}

func accessToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := c.Cookie(AccessCookie); err == nil {
		return cookie
	}
	return ""
}

// SetUser stores user as the authenticated user of the request.
func SetUser(c *gin.Context, user *User) {
	c.Set(contextUserKey, user)
}

// UserFrom returns the authenticated user stored by Authenticate.
func UserFrom(c *gin.Context) (*User, bool) {
	v, ok := c.Get(contextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*User)
	return user, ok
}
