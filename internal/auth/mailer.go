package auth

import (
	"context"

	"go.uber.org/zap"
)

// Mailer delivers account emails. Delivery itself lives outside this service.
type Mailer interface {
	SendEmailVerification(ctx context.Context, user *User, token string) error
}

// LogMailer records verification emails instead of sending them. The token
// itself is only logged at debug level.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendEmailVerification(ctx context.Context, user *User, token string) error {
	m.logger.Info("Email verification issued",
		zap.String("user_id", user.ID.String()),
		zap.String("email", user.Email))
	m.logger.Debug("Email verification token",
		zap.String("user_id", user.ID.String()),
		zap.String("token", token))
	return nil
}
