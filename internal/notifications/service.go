package notifications

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verifiednyumba/backend/internal/notifications/websocket"
)

// Service pushes domain events to connected users over WebSocket. Delivery
// is best effort: offline users simply miss the push and see the new state
// on their next read.
type Service struct {
	wsManager *websocket.Manager
	logger    *zap.Logger
}

func NewService(wsManager *websocket.Manager, logger *zap.Logger) *Service {
	return &Service{wsManager: wsManager, logger: logger}
}

func (s *Service) NotifyUser(userID uuid.UUID, eventType string, data any) {
	sent := s.wsManager.SendToUser(userID, s.message(eventType, data))
	s.logger.Debug("Notification pushed",
		zap.String("event", eventType),
		zap.String("user_id", userID.String()),
		zap.Int("connections", sent))
}

func (s *Service) NotifyRole(role string, eventType string, data any) {
	sent := s.wsManager.SendToRole(role, s.message(eventType, data))
	s.logger.Debug("Notification pushed",
		zap.String("event", eventType),
		zap.String("role", role),
		zap.Int("connections", sent))
}

func (s *Service) message(eventType string, data any) websocket.Message {
	return websocket.Message{
		Type:      websocket.MessageTypeNotification,
		Event:     eventType,
		Data:      data,
		Timestamp: time.Now(),
	}
}
