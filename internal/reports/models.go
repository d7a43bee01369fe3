package reports

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Reason string

const (
	ReasonScam          Reason = "SCAM"
	ReasonFakeListing   Reason = "FAKE_LISTING"
	ReasonWrongPrice    Reason = "WRONG_PRICE"
	ReasonUnavailable   Reason = "UNAVAILABLE"
	ReasonInappropriate Reason = "INAPPROPRIATE"
	ReasonOther         Reason = "OTHER"
)

var validReasons = map[Reason]bool{
	ReasonScam:          true,
	ReasonFakeListing:   true,
	ReasonWrongPrice:    true,
	ReasonUnavailable:   true,
	ReasonInappropriate: true,
	ReasonOther:         true,
}

// Report is a tenant's complaint about a listing. A user can report a
// listing once.
type Report struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ListingID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_report_listing_reporter" json:"listingId"`
	LandlordID uuid.UUID `gorm:"type:uuid;not null;index" json:"landlordId"`
	ReporterID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_report_listing_reporter" json:"reporterId"`
	Reason     Reason    `gorm:"type:varchar(30);not null" json:"reason"`
	Details    string    `gorm:"type:text" json:"details"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// LandlordAlert records when admins were last alerted about a landlord.
type LandlordAlert struct {
	LandlordID uuid.UUID `gorm:"type:uuid;primaryKey" json:"landlordId"`
	FlaggedAt  time.Time `gorm:"not null" json:"flaggedAt"`
}

type CreateRequest struct {
	Reason  Reason `json:"reason" binding:"required"`
	Details string `json:"details"`
}

// Outcome tells the reporter what the report triggered.
type Outcome struct {
	Report          *Report `json:"report"`
	ListingFlagged  bool    `json:"listingFlagged"`
	LandlordFlagged bool    `json:"landlordFlagged"`
}

// LandlordSummary is one row of the admin flagged-landlords view.
type LandlordSummary struct {
	LandlordID  uuid.UUID `json:"landlordId"`
	Email       string    `json:"email"`
	FullName    string    `json:"fullName"`
	ReportCount int64     `json:"reportCount"`
	ScamCount   int64     `json:"scamCount"`
	LastReport  time.Time `json:"lastReport"`
}

func Models() []interface{} {
	return []interface{}{&Report{}, &LandlordAlert{}}
}
