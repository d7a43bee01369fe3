package listings

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrLimitReached = errors.New("listing limit reached")

type Repository interface {
	// CreateWithinLimit inserts listing unless the landlord already has
	// limit or more listings. A negative limit means no cap.
	CreateWithinLimit(ctx context.Context, listing *Listing, limit int) error
	GetByID(ctx context.Context, id uuid.UUID) (*Listing, error)
	CountByLandlord(ctx context.Context, landlordID uuid.UUID) (int64, error)
	ListByLandlord(ctx context.Context, landlordID uuid.UUID) ([]Listing, error)
	ListActive(ctx context.Context, location string, limit, offset int) ([]Listing, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) (bool, error)
	DeleteByLandlord(ctx context.Context, tx *gorm.DB, landlordID uuid.UUID) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateWithinLimit(ctx context.Context, listing *Listing, limit int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// serialise creates per landlord on postgres; sqlite transactions
		// are already serialised
		if tx.Dialector.Name() == "postgres" {
			var id uuid.UUID
			if err := tx.Table("users").Select("id").
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", listing.LandlordID).
				Scan(&id).Error; err != nil {
				return err
			}
		}

		if limit >= 0 {
			var count int64
			if err := tx.Model(&Listing{}).Where("landlord_id = ?", listing.LandlordID).Count(&count).Error; err != nil {
				return err
			}
			if count >= int64(limit) {
				return ErrLimitReached
			}
		}
		return tx.Create(listing).Error
	})
}

func (r *gormRepository) GetByID(ctx context.Context, id uuid.UUID) (*Listing, error) {
	var listing Listing
	err := r.withTier(r.db.WithContext(ctx)).Where("listings.id = ?", id).First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *gormRepository) CountByLandlord(ctx context.Context, landlordID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Listing{}).Where("landlord_id = ?", landlordID).Count(&count).Error
	return count, err
}

func (r *gormRepository) ListByLandlord(ctx context.Context, landlordID uuid.UUID) ([]Listing, error) {
	var listings []Listing
	err := r.withTier(r.db.WithContext(ctx)).
		Where("listings.landlord_id = ?", landlordID).
		Order("listings.created_at DESC").
		Find(&listings).Error
	return listings, err
}

func (r *gormRepository) ListActive(ctx context.Context, location string, limit, offset int) ([]Listing, error) {
	q := r.withTier(r.db.WithContext(ctx)).Where("listings.status = ?", StatusActive)
	if location != "" {
		q = q.Where(`LOWER(listings.location) LIKE ? ESCAPE '\'`, "%"+likeEscaper.Replace(location)+"%")
	}
	var listings []Listing
	err := q.Order("listings.created_at DESC").Limit(limit).Offset(offset).Find(&listings).Error
	return listings, err
}

func (r *gormRepository) SetStatus(ctx context.Context, id uuid.UUID, status Status) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Listing{}).
		Where("id = ? AND status <> ?", id, status).
		Update("status", status)
	return res.RowsAffected == 1, res.Error
}

func (r *gormRepository) DeleteByLandlord(ctx context.Context, tx *gorm.DB, landlordID uuid.UUID) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.WithContext(ctx).Where("landlord_id = ?", landlordID).Delete(&Listing{})
	return res.RowsAffected, res.Error
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *gormRepository) withTier(q *gorm.DB) *gorm.DB {
	return q.Model(&Listing{}).
		Select("listings.*, COALESCE(verification_records.tier, 'BASIC') AS landlord_tier").
		Joins("LEFT JOIN verification_records ON verification_records.user_id = listings.landlord_id")
}
