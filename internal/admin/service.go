package admin

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"verifiednyumba/backend/internal/apperr"
	"verifiednyumba/backend/internal/auth"
	"verifiednyumba/backend/internal/listings"
	"verifiednyumba/backend/internal/reports"
	"verifiednyumba/backend/internal/verification"
)

const EventUserBanned = "admin.user_banned"

// ReviewSource lists the verification review queue.
type ReviewSource interface {
	PendingReviews(ctx context.Context, admin *auth.User) ([]verification.ReviewItem, error)
}

// BlobStore removes uploaded documents.
type BlobStore interface {
	Delete(ctx context.Context, key string) error
}

type Notifier interface {
	NotifyRole(role string, eventType string, data any)
}

// BanResult summarises what a ban removed.
type BanResult struct {
	UserID          uuid.UUID `json:"userId"`
	ListingsDeleted int64     `json:"listingsDeleted"`
	ReportsDeleted  int64     `json:"reportsDeleted"`
	DocumentsPurged int       `json:"documentsPurged"`
}

type Service struct {
	db           *gorm.DB
	users        auth.Repository
	listings     listings.Repository
	reports      reports.Repository
	verification verification.Repository
	reviews      ReviewSource
	blobs        BlobStore
	exporter     *ReviewExporter
	notifier     Notifier
	logger       *zap.Logger
}

type Deps struct {
	DB           *gorm.DB
	Users        auth.Repository
	Listings     listings.Repository
	Reports      reports.Repository
	Verification verification.Repository
	Reviews      ReviewSource
	Blobs        BlobStore
	Notifier     Notifier
}

func NewService(deps Deps, logger *zap.Logger) *Service {
	return &Service{
		db:           deps.DB,
		users:        deps.Users,
		listings:     deps.Listings,
		reports:      deps.Reports,
		verification: deps.Verification,
		reviews:      deps.Reviews,
		blobs:        deps.Blobs,
		exporter:     NewReviewExporter(),
		notifier:     deps.Notifier,
		logger:       logger,
	}
}

// ExportReviews renders the pending review queue as XLSX.
func (s *Service) ExportReviews(ctx context.Context, admin *auth.User) ([]byte, error) {
	items, err := s.reviews.PendingReviews(ctx, admin)
	if err != nil {
		return nil, err
	}
	data, err := s.exporter.Export(items)
	if err != nil {
		return nil, fmt.Errorf("failed to export reviews: %w", err)
	}
	return data, nil
}

// BanUser suspends an account and removes everything it published: its
// listings, the reports against it and its verification record, documents
// and history. The database part is one transaction; stored files are
// removed after commit.
func (s *Service) BanUser(ctx context.Context, admin *auth.User, userID uuid.UUID) (*BanResult, error) {
	if !admin.IsAdmin() {
		return nil, apperr.Forbidden("admin access required")
	}
	if userID == admin.ID {
		return nil, apperr.Validation("you cannot ban yourself")
	}

	target, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if target == nil {
		return nil, apperr.NotFound("user not found")
	}
	if target.IsAdmin() {
		return nil, apperr.Forbidden("admins cannot be banned")
	}
	if target.Banned {
		return nil, apperr.Conflict("user is already banned")
	}

	docs, err := s.verification.ListDocuments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	result := &BanResult{UserID: userID}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		banned, err := s.users.BanUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !banned {
			return apperr.Conflict("user is already banned")
		}
		if result.ListingsDeleted, err = s.listings.DeleteByLandlord(ctx, tx, userID); err != nil {
			return err
		}
		if result.ReportsDeleted, err = s.reports.DeleteByLandlord(ctx, tx, userID); err != nil {
			return err
		}
		return s.verification.DeleteForUser(ctx, tx, userID)
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		return nil, fmt.Errorf("failed to ban user: %w", err)
	}

	for _, d := range docs {
		if err := s.blobs.Delete(ctx, d.StorageKey); err != nil {
			s.logger.Warn("Failed to delete document blob",
				zap.String("user_id", userID.String()),
				zap.String("key", d.StorageKey),
				zap.Error(err))
			continue
		}
		result.DocumentsPurged++
	}

	s.logger.Info("User banned",
		zap.String("user_id", userID.String()),
		zap.String("admin_id", admin.ID.String()),
		zap.Int64("listings_deleted", result.ListingsDeleted),
		zap.Int64("reports_deleted", result.ReportsDeleted))

	if s.notifier != nil {
		s.notifier.NotifyRole(string(auth.RoleAdmin), EventUserBanned, result)
	}
	return result, nil
}
