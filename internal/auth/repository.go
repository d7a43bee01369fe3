package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	SetRefreshToken(ctx context.Context, userID uuid.UUID, tokenID *string, expiresAt *time.Time) error
	RotateRefreshToken(ctx context.Context, userID uuid.UUID, oldID, newID string, expiresAt time.Time) (bool, error)
	MarkEmailVerified(ctx context.Context, userID uuid.UUID) error
	MarkPhoneVerified(ctx context.Context, userID uuid.UUID, phone string) error
	// BanUser suspends userID inside tx and ends its session. Reports false
	// if the user was already banned.
	BanUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (bool, error)

	CreateEmailToken(ctx context.Context, token *EmailToken) error
	ConsumeEmailToken(ctx context.Context, tokenHash string, now time.Time) (*EmailToken, error)

	CreatePhoneCode(ctx context.Context, code *PhoneCode) error
	LatestPhoneCode(ctx context.Context, userID uuid.UUID) (*PhoneCode, error)
	CountPhoneCodesSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
	// ReservePhoneCodeAttempt spends one attempt on an unconfirmed code.
	// Reports false once max attempts are spent.
	ReservePhoneCodeAttempt(ctx context.Context, id uuid.UUID, max int) (bool, error)
	ConfirmPhoneCode(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteExpiredPhoneCodes(ctx context.Context, before time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateUser(ctx context.Context, user *User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *gormRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) SetRefreshToken(ctx context.Context, userID uuid.UUID, tokenID *string, expiresAt *time.Time) error {
	return r.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"refresh_token_id":   tokenID,
			"refresh_expires_at": expiresAt,
		}).Error
}

// RotateRefreshToken swaps the stored refresh token id only if it still
// equals oldID, so a refresh token can be redeemed once.
func (r *gormRepository) RotateRefreshToken(ctx context.Context, userID uuid.UUID, oldID, newID string, expiresAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND refresh_token_id = ?", userID, oldID).
		Updates(map[string]interface{}{
			"refresh_token_id":   newID,
			"refresh_expires_at": expiresAt,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *gormRepository) MarkEmailVerified(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("email_verified", true).Error
}

func (r *gormRepository) MarkPhoneVerified(ctx context.Context, userID uuid.UUID, phone string) error {
	return r.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"phone":          phone,
			"phone_verified": true,
		}).Error
}

func (r *gormRepository) BanUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.WithContext(ctx).Model(&User{}).
		Where("id = ? AND banned = ?", userID, false).
		Updates(map[string]interface{}{
			"banned":             true,
			"refresh_token_id":   nil,
			"refresh_expires_at": nil,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *gormRepository) CreateEmailToken(ctx context.Context, token *EmailToken) error {
	return r.db.WithContext(ctx).Create(token).Error
}

// ConsumeEmailToken marks an unused, unexpired token as used and returns it.
// Returns nil when no such token exists.
func (r *gormRepository) ConsumeEmailToken(ctx context.Context, tokenHash string, now time.Time) (*EmailToken, error) {
	res := r.db.WithContext(ctx).Model(&EmailToken{}).
		Where("token_hash = ? AND used_at IS NULL AND expires_at > ?", tokenHash, now).
		Update("used_at", now)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var token EmailToken
	if err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&token).Error; err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *gormRepository) CreatePhoneCode(ctx context.Context, code *PhoneCode) error {
	return r.db.WithContext(ctx).Create(code).Error
}

func (r *gormRepository) LatestPhoneCode(ctx context.Context, userID uuid.UUID) (*PhoneCode, error) {
	var code PhoneCode
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sent_at DESC").
		First(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *gormRepository) CountPhoneCodesSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&PhoneCode{}).
		Where("user_id = ? AND sent_at >= ?", userID, since).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) ReservePhoneCodeAttempt(ctx context.Context, id uuid.UUID, max int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&PhoneCode{}).
		Where("id = ? AND attempts < ? AND confirmed = ?", id, max, false).
		Update("attempts", gorm.Expr("attempts + 1"))
	return res.RowsAffected == 1, res.Error
}

// ConfirmPhoneCode flips confirmed once; a second call reports false.
func (r *gormRepository) ConfirmPhoneCode(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&PhoneCode{}).
		Where("id = ? AND confirmed = ?", id, false).
		Update("confirmed", true)
	return res.RowsAffected == 1, res.Error
}

func (r *gormRepository) DeleteExpiredPhoneCodes(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&PhoneCode{})
	return res.RowsAffected, res.Error
}
