package listings

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusFlagged Status = "FLAGGED"
)

type Listing struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	LandlordID  uuid.UUID `gorm:"type:uuid;not null;index" json:"landlordId"`
	Title       string    `gorm:"not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Location    string    `gorm:"not null;index" json:"location"`
	MonthlyRent int64     `gorm:"not null" json:"monthlyRent"`
	Bedrooms    int       `gorm:"not null;default:0" json:"bedrooms"`
	Status      Status    `gorm:"type:varchar(20);not null;default:'ACTIVE';index" json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// read-only, joined from the landlord's verification record
	LandlordTier string `gorm:"->;-:migration" json:"landlordTier,omitempty"`
}

func (l *Listing) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

type CreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Location    string `json:"location" binding:"required"`
	MonthlyRent int64  `json:"monthlyRent" binding:"required"`
	Bedrooms    int    `json:"bedrooms"`
}

// ListingView is a public listing with the landlord's badge resolved.
type ListingView struct {
	Listing
	VerifiedLandlord bool `json:"verifiedLandlord"`
}

// Contact is what a tenant sees after revealing a landlord's number.
type Contact struct {
	ListingID uuid.UUID `json:"listingId"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
}

func Models() []interface{} {
	return []interface{}{&Listing{}}
}
