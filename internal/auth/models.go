package auth

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleTenant   Role = "TENANT"
	RoleLandlord Role = "LANDLORD"
	RoleAdmin    Role = "ADMIN"
)

// User is a marketplace account
type User struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Email            string     `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash     string     `gorm:"not null" json:"-"`
	FullName         string     `json:"fullName"`
	Phone            string     `json:"phone,omitempty"`
	Role             Role       `gorm:"type:varchar(20);not null;default:'TENANT'" json:"role"`
	EmailVerified    bool       `gorm:"not null;default:false" json:"emailVerified"`
	PhoneVerified    bool       `gorm:"not null;default:false" json:"phoneVerified"`
	Banned           bool       `gorm:"not null;default:false" json:"-"`
	RefreshTokenID   *string    `json:"-"`
	RefreshExpiresAt *time.Time `json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (u *User) IsLandlord() bool { return u.Role == RoleLandlord }
func (u *User) IsAdmin() bool    { return u.Role == RoleAdmin }

// PhoneCode is one SMS send. Only the bcrypt hash of the code is kept.
type PhoneCode struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"userId"`
	Phone     string    `gorm:"not null" json:"phone"`
	CodeHash  string    `gorm:"not null" json:"-"`
	SentAt    time.Time `gorm:"not null;index" json:"sentAt"`
	ExpiresAt time.Time `gorm:"not null" json:"expiresAt"`
	Attempts  int       `gorm:"not null;default:0" json:"attempts"`
	Confirmed bool      `gorm:"not null;default:false" json:"confirmed"`
}

func (p *PhoneCode) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// EmailToken is a single-use email confirmation token, stored hashed.
type EmailToken struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"userId"`
	TokenHash string     `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time  `gorm:"not null" json:"expiresAt"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (e *EmailToken) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Requests

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"fullName" binding:"required"`
	Phone    string `json:"phone"`
	Role     Role   `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" binding:"required"`
}

type SendPhoneCodeRequest struct {
	Phone string `json:"phone" binding:"required"`
}

type ConfirmPhoneRequest struct {
	Code string `json:"code" binding:"required"`
}

// TokenPair is an issued access/refresh token pair
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

// Models lists every table owned by this package.
func Models() []interface{} {
	return []interface{}{&User{}, &PhoneCode{}, &EmailToken{}}
}
