package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verifiednyumba/backend/internal/auth"
	"verifiednyumba/backend/internal/verification"
)

const (
	PurgePhoneCodesJob = "purge-phone-codes"
	StaleReviewsJob    = "stale-reviews"
)

type PhoneCodePurger interface {
	PurgeExpiredPhoneCodes(ctx context.Context) (int64, error)
}

type StaleReviewSource interface {
	StaleReviews(ctx context.Context, maxAge time.Duration) ([]verification.Record, error)
}

type Notifier interface {
	NotifyRole(role string, eventType string, data any)
}

// PurgePhoneCodes deletes expired SMS codes.
type PurgePhoneCodes struct {
	purger PhoneCodePurger
	logger *zap.Logger
}

func NewPurgePhoneCodes(purger PhoneCodePurger, logger *zap.Logger) *PurgePhoneCodes {
	return &PurgePhoneCodes{purger: purger, logger: logger}
}

func (j *PurgePhoneCodes) Name() string { return PurgePhoneCodesJob }

func (j *PurgePhoneCodes) Run(ctx context.Context) error {
	n, err := j.purger.PurgeExpiredPhoneCodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge phone codes: %w", err)
	}
	if n > 0 {
		j.logger.Info("Purged expired phone codes", zap.Int64("count", n))
	}
	return nil
}

// StaleReviews alerts admins to submissions waiting longer than maxAge.
type StaleReviews struct {
	source   StaleReviewSource
	notifier Notifier
	maxAge   time.Duration
	logger   *zap.Logger
}

func NewStaleReviews(source StaleReviewSource, notifier Notifier, maxAge time.Duration, logger *zap.Logger) *StaleReviews {
	return &StaleReviews{source: source, notifier: notifier, maxAge: maxAge, logger: logger}
}

func (j *StaleReviews) Name() string { return StaleReviewsJob }

func (j *StaleReviews) Run(ctx context.Context) error {
	records, err := j.source.StaleReviews(ctx, j.maxAge)
	if err != nil {
		return fmt.Errorf("failed to list stale reviews: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	userIDs := make([]string, 0, len(records))
	oldest := time.Time{}
	for _, rec := range records {
		userIDs = append(userIDs, rec.UserID.String())
		if rec.SubmittedAt != nil && (oldest.IsZero() || rec.SubmittedAt.Before(oldest)) {
			oldest = *rec.SubmittedAt
		}
	}

	j.logger.Warn("Verification reviews waiting",
		zap.Int("count", len(records)),
		zap.Duration("max_age", j.maxAge))
	j.notifier.NotifyRole(string(auth.RoleAdmin), verification.EventStale, map[string]any{
		"count":   len(records),
		"userIds": userIDs,
		"oldest":  oldest,
	})
	return nil
}
