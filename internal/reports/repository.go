package reports

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrDuplicate = errors.New("listing already reported by this user")

type Repository interface {
	Create(ctx context.Context, report *Report) error
	CountForListingSince(ctx context.Context, listingID uuid.UUID, since time.Time) (int64, error)
	CountForListingByReason(ctx context.Context, listingID uuid.UUID, reason Reason) (int64, error)
	CountDistinctReportersForLandlordSince(ctx context.Context, landlordID uuid.UUID, since time.Time) (int64, error)
	FlaggedLandlords(ctx context.Context, since time.Time, minReports int64) ([]LandlordSummary, error)
	ListForLandlord(ctx context.Context, landlordID uuid.UUID) ([]Report, error)
	// MarkLandlordAlerted claims the landlord alert for at. Reports false if
	// an alert was already recorded within window.
	MarkLandlordAlerted(ctx context.Context, landlordID uuid.UUID, at time.Time, window time.Duration) (bool, error)
	DeleteByLandlord(ctx context.Context, tx *gorm.DB, landlordID uuid.UUID) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Create inserts report, returning ErrDuplicate when the reporter already
// reported the listing.
func (r *gormRepository) Create(ctx context.Context, report *Report) error {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "listing_id"}, {Name: "reporter_id"}},
			DoNothing: true,
		}).
		Create(report)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *gormRepository) CountForListingSince(ctx context.Context, listingID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Report{}).
		Where("listing_id = ? AND created_at >= ?", listingID, since).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) CountForListingByReason(ctx context.Context, listingID uuid.UUID, reason Reason) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Report{}).
		Where("listing_id = ? AND reason = ?", listingID, reason).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) CountDistinctReportersForLandlordSince(ctx context.Context, landlordID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Report{}).
		Where("landlord_id = ? AND created_at >= ?", landlordID, since).
		Distinct("reporter_id").
		Count(&count).Error
	return count, err
}

// FlaggedLandlords groups recent reports by landlord, most reported first.
func (r *gormRepository) FlaggedLandlords(ctx context.Context, since time.Time, minReports int64) ([]LandlordSummary, error) {
	type row struct {
		LandlordID  uuid.UUID
		Email       string
		FullName    string
		ReportCount int64
		ScamCount   int64
		LastReport  string
	}
	var rows []row
	err := r.db.WithContext(ctx).Table("reports").
		Select(`reports.landlord_id AS landlord_id,
			users.email AS email,
			users.full_name AS full_name,
			COUNT(*) AS report_count,
			SUM(CASE WHEN reports.reason = ? THEN 1 ELSE 0 END) AS scam_count,
			MAX(reports.created_at) AS last_report`, ReasonScam).
		Joins("JOIN users ON users.id = reports.landlord_id").
		Where("reports.created_at >= ?", since).
		Group("reports.landlord_id, users.email, users.full_name").
		Having("COUNT(*) >= ?", minReports).
		Order("report_count DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]LandlordSummary, 0, len(rows))
	for _, rw := range rows {
		s := LandlordSummary{
			LandlordID:  rw.LandlordID,
			Email:       rw.Email,
			FullName:    rw.FullName,
			ReportCount: rw.ReportCount,
			ScamCount:   rw.ScamCount,
		}
		s.LastReport, _ = parseAggregateTime(rw.LastReport)
		out = append(out, s)
	}
	return out, nil
}

func (r *gormRepository) ListForLandlord(ctx context.Context, landlordID uuid.UUID) ([]Report, error) {
	var reports []Report
	err := r.db.WithContext(ctx).
		Where("landlord_id = ?", landlordID).
		Order("created_at DESC").
		Find(&reports).Error
	return reports, err
}

func (r *gormRepository) MarkLandlordAlerted(ctx context.Context, landlordID uuid.UUID, at time.Time, window time.Duration) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&LandlordAlert{LandlordID: landlordID, FlaggedAt: at})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	res = r.db.WithContext(ctx).Model(&LandlordAlert{}).
		Where("landlord_id = ? AND flagged_at < ?", landlordID, at.Add(-window)).
		Update("flagged_at", at)
	return res.RowsAffected == 1, res.Error
}

// DeleteByLandlord removes reports against landlordID and its alert.
func (r *gormRepository) DeleteByLandlord(ctx context.Context, tx *gorm.DB, landlordID uuid.UUID) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	if err := tx.WithContext(ctx).Where("landlord_id = ?", landlordID).Delete(&LandlordAlert{}).Error; err != nil {
		return 0, err
	}
	res := tx.WithContext(ctx).Where("landlord_id = ?", landlordID).Delete(&Report{})
	return res.RowsAffected, res.Error
}

// parseAggregateTime reads MAX(timestamp) which drivers return as text.
func parseAggregateTime(v string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999",
	}
	var err error
	for _, layout := range layouts {
		var t time.Time
		if t, err = time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
