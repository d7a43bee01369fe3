package verification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	GetRecord(ctx context.Context, userID uuid.UUID) (*Record, error)
	EnsureRecord(ctx context.Context, userID uuid.UUID, tier Tier, completeness int) (*Record, error)
	MarkUnderReview(ctx context.Context, userID uuid.UUID, scope Scope, at time.Time) (bool, error)
	Approve(ctx context.Context, p ApproveParams) (bool, error)
	Reject(ctx context.Context, p RejectParams) (bool, error)
	UpdateTier(ctx context.Context, userID uuid.UUID, seen Flags, tier Tier, completeness int) (bool, error)
	ListByStatus(ctx context.Context, status Status) ([]Record, error)
	ListStaleReviews(ctx context.Context, submittedBefore time.Time) ([]Record, error)

	CreateDocument(ctx context.Context, doc *Document) error
	ListDocuments(ctx context.Context, userID uuid.UUID) ([]Document, error)
	CountSharedDocuments(ctx context.Context, checksum string, excludeUser uuid.UUID) (int64, error)

	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, userID uuid.UUID) ([]Event, error)

	// DeleteForUser removes the record, documents and events of userID
	// inside tx.
	DeleteForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error
}

// ApproveParams describes one approval. The Seen* flags are the values the
// caller read; the write only lands if they are still current.
type ApproveParams struct {
	UserID           uuid.UUID
	Scope            Scope
	ReviewerID       uuid.UUID
	SeenID           bool
	SeenProperty     bool
	IDVerified       bool
	PropertyVerified bool
	Tier             Tier
	Completeness     int
	At               time.Time
}

type RejectParams struct {
	UserID     uuid.UUID
	Scope      Scope
	ReviewerID uuid.UUID
	Note       string
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetRecord(ctx context.Context, userID uuid.UUID) (*Record, error) {
	var rec Record
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// EnsureRecord returns the user's record, creating a PENDING one if none
// exists. Concurrent callers converge on the same row.
func (r *gormRepository) EnsureRecord(ctx context.Context, userID uuid.UUID, tier Tier, completeness int) (*Record, error) {
	rec := &Record{
		UserID:       userID,
		Status:       StatusPending,
		Tier:         tier,
		Completeness: completeness,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(rec).Error
	if err != nil {
		return nil, err
	}
	return r.GetRecord(ctx, userID)
}

func (r *gormRepository) MarkUnderReview(ctx context.Context, userID uuid.UUID, scope Scope, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Record{}).
		Where("user_id = ? AND status <> ?", userID, StatusUnderReview).
		Updates(map[string]interface{}{
			"status":       StatusUnderReview,
			"scope":        scope,
			"note":         "",
			"submitted_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *gormRepository) Approve(ctx context.Context, p ApproveParams) (bool, error) {
	updates := map[string]interface{}{
		"status":            StatusVerified,
		"scope":             ScopeNone,
		"id_verified":       p.IDVerified,
		"property_verified": p.PropertyVerified,
		"tier":              p.Tier,
		"completeness":      p.Completeness,
		"note":              "",
		"verified_at":       p.At,
		"reviewed_by":       p.ReviewerID,
	}
	if p.IDVerified && !p.SeenID {
		updates["id_verified_at"] = p.At
	}
	if p.PropertyVerified && !p.SeenProperty {
		updates["property_verified_at"] = p.At
	}

	res := r.db.WithContext(ctx).Model(&Record{}).
		Where("user_id = ? AND status = ? AND scope = ? AND id_verified = ? AND property_verified = ?",
			p.UserID, StatusUnderReview, p.Scope, p.SeenID, p.SeenProperty).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *gormRepository) Reject(ctx context.Context, p RejectParams) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Record{}).
		Where("user_id = ? AND status = ? AND scope = ?", p.UserID, StatusUnderReview, p.Scope).
		Updates(map[string]interface{}{
			"status":      StatusRejected,
			"scope":       ScopeNone,
			"note":        p.Note,
			"verified_at": nil,
			"reviewed_by": p.ReviewerID,
		})
	return res.RowsAffected == 1, res.Error
}

// UpdateTier writes derived fields only if the flags are still the ones
// they were computed from.
func (r *gormRepository) UpdateTier(ctx context.Context, userID uuid.UUID, seen Flags, tier Tier, completeness int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Record{}).
		Where("user_id = ? AND id_verified = ? AND property_verified = ?", userID, seen.IDVerified, seen.PropertyVerified).
		Updates(map[string]interface{}{
			"tier":         tier,
			"completeness": completeness,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *gormRepository) ListByStatus(ctx context.Context, status Status) ([]Record, error) {
	var records []Record
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("submitted_at ASC").
		Find(&records).Error
	return records, err
}

func (r *gormRepository) ListStaleReviews(ctx context.Context, submittedBefore time.Time) ([]Record, error) {
	var records []Record
	err := r.db.WithContext(ctx).
		Where("status = ? AND submitted_at < ?", StatusUnderReview, submittedBefore).
		Order("submitted_at ASC").
		Find(&records).Error
	return records, err
}

func (r *gormRepository) CreateDocument(ctx context.Context, doc *Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

// ListDocuments returns the user's documents, newest first.
func (r *gormRepository) ListDocuments(ctx context.Context, userID uuid.UUID) ([]Document, error) {
	var docs []Document
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("uploaded_at DESC").
		Find(&docs).Error
	return docs, err
}

// CountSharedDocuments counts documents of other users with the same content.
func (r *gormRepository) CountSharedDocuments(ctx context.Context, checksum string, excludeUser uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Document{}).
		Where("checksum = ? AND user_id <> ?", checksum, excludeUser).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) AppendEvent(ctx context.Context, event *Event) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *gormRepository) ListEvents(ctx context.Context, userID uuid.UUID) ([]Event, error) {
	var events []Event
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}

func (r *gormRepository) DeleteForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	if tx == nil {
		tx = r.db
	}
	tx = tx.WithContext(ctx)
	if err := tx.Where("user_id = ?", userID).Delete(&Document{}).Error; err != nil {
		return err
	}
	if err := tx.Where("user_id = ?", userID).Delete(&Event{}).Error; err != nil {
		return err
	}
	return tx.Where("user_id = ?", userID).Delete(&Record{}).Error
}
