package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"verifiednyumba/backend/internal/apperr"
)

const (
	phoneCodeTTL      = 10 * time.Minute
	phoneSendWindow   = 15 * time.Minute
	phoneSendsPerSpan = 3
	phoneMaxAttempts  = 5
	phoneCodeDigits   = 6
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// NormalizePhone accepts E.164 numbers and local Kenyan numbers (07.., 01..)
// and returns the E.164 form.
func NormalizePhone(raw string) (string, error) {
	phone := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	if strings.HasPrefix(phone, "0") && len(phone) == 10 {
		phone = "+254" + phone[1:]
	}
	if !e164.MatchString(phone) {
		return "", apperr.Validation("phone number must be in international format, e.g. +254712345678")
	}
	return phone, nil
}

// SendPhoneCode texts a one-time code to phone. At most three codes are
// sent per user in any fifteen minute window.
func (s *Service) SendPhoneCode(ctx context.Context, userID uuid.UUID, rawPhone string) error {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return err
	}

	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.PhoneVerified && user.Phone == phone {
		return apperr.Conflict("this phone number is already verified")
	}

	now := s.now().UTC()
	sent, err := s.repo.CountPhoneCodesSince(ctx, userID, now.Add(-phoneSendWindow))
	if err != nil {
		return fmt.Errorf("failed to count phone codes: %w", err)
	}
	if sent >= phoneSendsPerSpan {
		return apperr.RateLimited("too many codes requested, try again later")
	}

	code, err := s.code()
	if err != nil {
		return fmt.Errorf("failed to generate phone code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash phone code: %w", err)
	}

	record := &PhoneCode{
		UserID:    userID,
		Phone:     phone,
		CodeHash:  string(hash),
		SentAt:    now,
		ExpiresAt: now.Add(phoneCodeTTL),
	}
	if err := s.repo.CreatePhoneCode(ctx, record); err != nil {
		return fmt.Errorf("failed to store phone code: %w", err)
	}

	msg := fmt.Sprintf("Your VerifiedNyumba code is %s. It expires in %d minutes.", code, int(phoneCodeTTL.Minutes()))
	if err := s.sms.Send(ctx, phone, msg); err != nil {
		return fmt.Errorf("failed to send phone code: %w", err)
	}

	s.logger.Info("Phone code sent", zap.String("user_id", userID.String()))
	return nil
}

// ConfirmPhone checks code against the latest code sent to the user and, on
// success, marks the phone verified.
func (s *Service) ConfirmPhone(ctx context.Context, userID uuid.UUID, code string) (*User, error) {
	pending, err := s.repo.LatestPhoneCode(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load phone code: %w", err)
	}
	if pending == nil || pending.Confirmed {
		return nil, apperr.Validation("no pending verification code, request a new one")
	}
	if !s.now().UTC().Before(pending.ExpiresAt) {
		return nil, apperr.Validation("verification code expired, request a new one")
	}

	// the attempt is spent before the hash is compared
	reserved, err := s.repo.ReservePhoneCodeAttempt(ctx, pending.ID, phoneMaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}
	if !reserved {
		return nil, apperr.RateLimited("too many incorrect attempts, request a new code")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(pending.CodeHash), []byte(strings.TrimSpace(code))); err != nil {
		return nil, apperr.Validation("incorrect verification code")
	}

	confirmed, err := s.repo.ConfirmPhoneCode(ctx, pending.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm phone code: %w", err)
	}
	if !confirmed {
		return nil, apperr.Conflict("verification code already used")
	}

	if err := s.repo.MarkPhoneVerified(ctx, userID, pending.Phone); err != nil {
		return nil, fmt.Errorf("failed to mark phone verified: %w", err)
	}
	if s.hooks != nil {
		if err := s.hooks.FlagsChanged(ctx, userID); err != nil {
			return nil, fmt.Errorf("failed to refresh verification tier: %w", err)
		}
	}

	s.logger.Info("Phone verified", zap.String("user_id", userID.String()))
	return s.repo.GetUserByID(ctx, userID)
}

// PurgeExpiredPhoneCodes removes codes that can no longer be confirmed or
// count toward throttling.
func (s *Service) PurgeExpiredPhoneCodes(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredPhoneCodes(ctx, s.now().UTC().Add(-phoneSendWindow))
}

func generatePhoneCode() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < phoneCodeDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", phoneCodeDigits, n.Int64()), nil
}
