package notifications

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"verifiednyumba/backend/internal/auth"
	"verifiednyumba/backend/internal/notifications/websocket"
)

type Handler struct {
	wsManager *websocket.Manager
	logger    *zap.Logger
}

func NewHandler(wsManager *websocket.Manager, logger *zap.Logger) *Handler {
	return &Handler{wsManager: wsManager, logger: logger}
}

// RegisterRoutes mounts /ws on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws", h.Connect)
}

func (h *Handler) Connect(c *gin.Context) {
	user, _ := auth.UserFrom(c)
	if _, err := h.wsManager.HandleConnection(c.Writer, c.Request, user.ID, string(user.Role)); err != nil {
		// the upgrader has already written the HTTP error
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
	}
}
