package sms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// Sender delivers a text message to an E.164 phone number.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

type snsSender struct {
	client   *sns.Client
	senderID string
	logger   *zap.Logger
}

// NewSNSSender publishes transactional SMS through Amazon SNS.
func NewSNSSender(cfg aws.Config, senderID string, logger *zap.Logger) Sender {
	return &snsSender{
		client:   sns.NewFromConfig(cfg),
		senderID: senderID,
		logger:   logger,
	}
}

func (s *snsSender) Send(ctx context.Context, phone, message string) error {
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(message),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}

	s.logger.Debug("SMS sent", zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}

// LogSender writes messages to the log. Used when no SMS provider is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, phone, message string) error {
	s.logger.Info("SMS (log only)", zap.String("phone", phone), zap.String("message", message))
	return nil
}
