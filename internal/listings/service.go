package listings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verifiednyumba/backend/internal/apperr"
	"verifiednyumba/backend/internal/auth"
	"verifiednyumba/backend/internal/verification"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// TierSource resolves a user's current verification tier.
type TierSource interface {
	TierOf(ctx context.Context, user *auth.User) (verification.Tier, error)
}

type Service struct {
	repo   Repository
	users  auth.Repository
	tiers  TierSource
	logger *zap.Logger
}

func NewService(repo Repository, users auth.Repository, tiers TierSource, logger *zap.Logger) *Service {
	return &Service{repo: repo, users: users, tiers: tiers, logger: logger}
}

// Create publishes a listing if the landlord's tier allows another one.
func (s *Service) Create(ctx context.Context, user *auth.User, req CreateRequest) (*Listing, error) {
	if !user.IsLandlord() {
		return nil, apperr.Forbidden("only landlords can create listings")
	}

	title := strings.TrimSpace(req.Title)
	location := strings.TrimSpace(req.Location)
	if title == "" || location == "" {
		return nil, apperr.Validation("title and location are required")
	}
	if req.MonthlyRent <= 0 {
		return nil, apperr.Validation("monthlyRent must be positive")
	}
	if req.Bedrooms < 0 {
		return nil, apperr.Validation("bedrooms cannot be negative")
	}

	tier, err := s.tiers.TierOf(ctx, user)
	if err != nil {
		return nil, err
	}
	count, err := s.repo.CountByLandlord(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count listings: %w", err)
	}
	decision := verification.CanCreateListing(tier, int(count))
	if !decision.Allowed {
		return nil, apperr.Forbidden(decision.Reason)
	}

	listing := &Listing{
		LandlordID:  user.ID,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Location:    location,
		MonthlyRent: req.MonthlyRent,
		Bedrooms:    req.Bedrooms,
		Status:      StatusActive,
	}
	// the count above can be stale; the repository re-checks atomically
	if err := s.repo.CreateWithinLimit(ctx, listing, decision.Limit); err != nil {
		if errors.Is(err, ErrLimitReached) {
			return nil, apperr.Forbidden(verification.CanCreateListing(tier, decision.Limit).Reason)
		}
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}
	listing.LandlordTier = string(tier)

	s.logger.Info("Listing created",
		zap.String("listing_id", listing.ID.String()),
		zap.String("landlord_id", user.ID.String()))
	return listing, nil
}

// MineView is a landlord's listings plus their remaining allowance.
type MineView struct {
	Listings []Listing                    `json:"listings"`
	Decision verification.ListingDecision `json:"canCreate"`
}

func (s *Service) Mine(ctx context.Context, user *auth.User) (*MineView, error) {
	if !user.IsLandlord() {
		return nil, apperr.Forbidden("only landlords have listings")
	}
	listings, err := s.repo.ListByLandlord(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	tier, err := s.tiers.TierOf(ctx, user)
	if err != nil {
		return nil, err
	}
	return &MineView{
		Listings: listings,
		Decision: verification.CanCreateListing(tier, len(listings)),
	}, nil
}

// Browse returns active listings, newest first.
func (s *Service) Browse(ctx context.Context, location string, limit, offset int) ([]ListingView, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	listings, err := s.repo.ListActive(ctx, strings.ToLower(strings.TrimSpace(location)), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}

	views := make([]ListingView, 0, len(listings))
	for _, l := range listings {
		views = append(views, ListingView{
			Listing:          l,
			VerifiedLandlord: verification.CanAccess(verification.Tier(l.LandlordTier), verification.FeatureVerifiedBadge),
		})
	}
	return views, nil
}

// Get returns one listing. Flagged listings are visible only to their
// landlord and admins.
func (s *Service) Get(ctx context.Context, viewer *auth.User, id uuid.UUID) (*Listing, error) {
	listing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}
	if listing == nil {
		return nil, apperr.NotFound("listing not found")
	}
	if listing.Status == StatusFlagged && (viewer == nil || (viewer.ID != listing.LandlordID && !viewer.IsAdmin())) {
		return nil, apperr.NotFound("listing not found")
	}
	return listing, nil
}

// Contact reveals the landlord's phone number when their tier allows it.
func (s *Service) Contact(ctx context.Context, viewer *auth.User, id uuid.UUID) (*Contact, error) {
	listing, err := s.Get(ctx, viewer, id)
	if err != nil {
		return nil, err
	}

	landlord, err := s.users.GetUserByID(ctx, listing.LandlordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load landlord: %w", err)
	}
	if landlord == nil || landlord.Banned {
		return nil, apperr.NotFound("listing not found")
	}

	tier, err := s.tiers.TierOf(ctx, landlord)
	if err != nil {
		return nil, err
	}
	if !verification.CanAccess(tier, verification.FeatureShowPhoneNumber) {
		return nil, apperr.Forbidden("this landlord has not verified a phone number yet")
	}

	return &Contact{
		ListingID: listing.ID,
		Name:      landlord.FullName,
		Phone:     landlord.Phone,
	}, nil
}

// Flag marks a listing FLAGGED. Reports true if the status changed.
func (s *Service) Flag(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.SetStatus(ctx, id, StatusFlagged)
}
