package verification

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending     Status = "PENDING"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusVerified    Status = "VERIFIED"
	StatusRejected    Status = "REJECTED"
)

// Scope is what a submission asks an admin to verify.
type Scope string

const (
	ScopeNone     Scope = ""
	ScopeIdentity Scope = "IDENTITY"
	ScopeProperty Scope = "PROPERTY"
	ScopeFull     Scope = "FULL"
)

// ParseScope accepts the three submittable scopes, case-insensitively.
func ParseScope(raw string) (Scope, bool) {
	switch s := Scope(strings.ToUpper(strings.TrimSpace(raw))); s {
	case ScopeIdentity, ScopeProperty, ScopeFull:
		return s, true
	default:
		return ScopeNone, false
	}
}

func (s Scope) coversIdentity() bool { return s == ScopeIdentity || s == ScopeFull }
func (s Scope) coversProperty() bool { return s == ScopeProperty || s == ScopeFull }

type DocumentType string

const (
	DocumentID              DocumentType = "ID"
	DocumentTitleDeed       DocumentType = "TITLE_DEED"
	DocumentUtilityBill     DocumentType = "UTILITY_BILL"
	DocumentCaretakerLetter DocumentType = "CARETAKER_LETTER"
)

// propertyDocuments are the documents any one of which proves property.
var propertyDocuments = []DocumentType{DocumentTitleDeed, DocumentUtilityBill, DocumentCaretakerLetter}

func ParseDocumentType(raw string) (DocumentType, bool) {
	switch t := DocumentType(strings.ToUpper(strings.TrimSpace(raw))); t {
	case DocumentID, DocumentTitleDeed, DocumentUtilityBill, DocumentCaretakerLetter:
		return t, true
	default:
		return "", false
	}
}

// Record is the one verification record a landlord has.
type Record struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID             uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"userId"`
	Status             Status     `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	Scope              Scope      `gorm:"type:varchar(20);not null;default:''" json:"scope"`
	Tier               Tier       `gorm:"type:varchar(20);not null;default:'BASIC'" json:"tier"`
	IDVerified         bool       `gorm:"not null;default:false" json:"idVerified"`
	PropertyVerified   bool       `gorm:"not null;default:false" json:"propertyVerified"`
	IDVerifiedAt       *time.Time `json:"idVerifiedAt,omitempty"`
	PropertyVerifiedAt *time.Time `json:"propertyVerifiedAt,omitempty"`
	Completeness       int        `gorm:"not null;default:0" json:"completeness"`
	Note               string     `gorm:"type:text;not null;default:''" json:"note"`
	SubmittedAt        *time.Time `json:"submittedAt,omitempty"`
	VerifiedAt         *time.Time `json:"verifiedAt,omitempty"`
	ReviewedBy         *uuid.UUID `gorm:"type:uuid" json:"reviewedBy,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func (Record) TableName() string { return "verification_records" }

func (r *Record) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Document is one uploaded verification file. URL is presigned at read time.
type Document struct {
	ID          uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID    `gorm:"type:uuid;not null;index" json:"userId"`
	Type        DocumentType `gorm:"type:varchar(30);not null" json:"type"`
	StorageKey  string       `gorm:"not null" json:"publicId"`
	URL         string       `gorm:"-" json:"url"`
	FileName    string       `json:"fileName"`
	ContentType string       `json:"contentType"`
	Size        int64        `json:"size"`
	Checksum    string       `gorm:"index" json:"checksum"`
	UploadedAt  time.Time    `gorm:"not null;index" json:"uploadedAt"`
}

func (Document) TableName() string { return "verification_documents" }

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// Event is an append-only record of a workflow transition.
type Event struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"userId"`
	FromStatus Status         `gorm:"type:varchar(20)" json:"fromStatus"`
	ToStatus   Status         `gorm:"type:varchar(20);not null" json:"toStatus"`
	Scope      Scope          `gorm:"type:varchar(20)" json:"scope"`
	ActorID    uuid.UUID      `gorm:"type:uuid;not null" json:"actorId"`
	Payload    datatypes.JSON `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func (Event) TableName() string { return "verification_events" }

func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Action is an admin review decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Requests / responses

type SubmitRequest struct {
	Type string `json:"type" binding:"required"`
}

type DecisionRequest struct {
	UserID string `json:"userId" binding:"required"`
	Action Action `json:"action" binding:"required"`
	Note   string `json:"note"`
}

// StatusView is what GET /verification returns.
type StatusView struct {
	Record    *Record    `json:"verification"`
	Documents []Document `json:"documents"`

	// NextStatuses lists the statuses the record can move to from here.
	NextStatuses []Status `json:"nextStatuses"`
}

// ReviewItem is one entry of the admin review queue.
type ReviewItem struct {
	Record    Record     `json:"verification"`
	Email     string     `json:"email"`
	FullName  string     `json:"fullName"`
	Phone     string     `json:"phone"`
	Documents []Document `json:"documents"`

	// DuplicateDocuments counts current documents whose exact content was
	// also uploaded by another user.
	DuplicateDocuments int `json:"duplicateDocuments"`
}

// Models lists every table owned by this package.
func Models() []interface{} {
	return []interface{}{&Record{}, &Document{}, &Event{}}
}
