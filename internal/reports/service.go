package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verifiednyumba/backend/internal/apperr"
	"verifiednyumba/backend/internal/auth"
	"verifiednyumba/backend/internal/listings"
)

// Scam-pattern thresholds.
const (
	listingBurstWindow    = 24 * time.Hour
	listingBurstThreshold = 3
	listingScamThreshold  = 2
	landlordWindow        = 7 * 24 * time.Hour
	landlordThreshold     = 5

	EventLandlordFlagged = "reports.landlord_flagged"
	EventListingFlagged  = "reports.listing_flagged"
)

// Listings is the part of the listings service reports depend on.
type Listings interface {
	Get(ctx context.Context, viewer *auth.User, id uuid.UUID) (*listings.Listing, error)
	Flag(ctx context.Context, id uuid.UUID) (bool, error)
}

type Notifier interface {
	NotifyRole(role string, eventType string, data any)
}

type Service struct {
	repo     Repository
	listings Listings
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, listings Listings, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		listings: listings,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Report files a complaint against a listing and applies the scam
// heuristics: a burst of reports or repeated SCAM reports flag the listing;
// many distinct reporters across a landlord's listings alert admins.
func (s *Service) Report(ctx context.Context, reporter *auth.User, listingID uuid.UUID, req CreateRequest) (*Outcome, error) {
	reason := Reason(strings.ToUpper(strings.TrimSpace(string(req.Reason))))
	if !validReasons[reason] {
		return nil, apperr.Validation("reason must be one of SCAM, FAKE_LISTING, WRONG_PRICE, UNAVAILABLE, INAPPROPRIATE, OTHER")
	}

	listing, err := s.listings.Get(ctx, reporter, listingID)
	if err != nil {
		return nil, err
	}
	if listing.LandlordID == reporter.ID {
		return nil, apperr.Validation("you cannot report your own listing")
	}

	report := &Report{
		ListingID:  listing.ID,
		LandlordID: listing.LandlordID,
		ReporterID: reporter.ID,
		Reason:     reason,
		Details:    strings.TrimSpace(req.Details),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.Create(ctx, report); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.Conflict("you have already reported this listing")
		}
		return nil, fmt.Errorf("failed to save report: %w", err)
	}

	out := &Outcome{Report: report}

	flag, err := s.shouldFlagListing(ctx, listing.ID)
	if err != nil {
		return nil, err
	}
	if flag {
		changed, err := s.listings.Flag(ctx, listing.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to flag listing: %w", err)
		}
		out.ListingFlagged = true
		if changed {
			s.logger.Warn("Listing flagged by reports", zap.String("listing_id", listing.ID.String()))
			s.notify(EventListingFlagged, map[string]any{"listingId": listing.ID, "landlordId": listing.LandlordID})
		}
	}

	reporters, err := s.repo.CountDistinctReportersForLandlordSince(ctx, listing.LandlordID, s.now().UTC().Add(-landlordWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to count landlord reports: %w", err)
	}
	if reporters >= landlordThreshold {
		out.LandlordFlagged = true
		alert, err := s.repo.MarkLandlordAlerted(ctx, listing.LandlordID, s.now().UTC(), landlordWindow)
		if err != nil {
			return nil, fmt.Errorf("failed to record landlord alert: %w", err)
		}
		if alert {
			s.logger.Warn("Landlord flagged by reports",
				zap.String("landlord_id", listing.LandlordID.String()),
				zap.Int64("reporters", reporters))
			s.notify(EventLandlordFlagged, map[string]any{"landlordId": listing.LandlordID, "reporters": reporters})
		}
	}

	return out, nil
}

func (s *Service) shouldFlagListing(ctx context.Context, listingID uuid.UUID) (bool, error) {
	recent, err := s.repo.CountForListingSince(ctx, listingID, s.now().UTC().Add(-listingBurstWindow))
	if err != nil {
		return false, fmt.Errorf("failed to count listing reports: %w", err)
	}
	if recent >= listingBurstThreshold {
		return true, nil
	}
	scams, err := s.repo.CountForListingByReason(ctx, listingID, ReasonScam)
	if err != nil {
		return false, fmt.Errorf("failed to count scam reports: %w", err)
	}
	return scams >= listingScamThreshold, nil
}

// FlaggedLandlords returns landlords reported within the last days days.
func (s *Service) FlaggedLandlords(ctx context.Context, admin *auth.User, days int) ([]LandlordSummary, error) {
	if !admin.IsAdmin() {
		return nil, apperr.Forbidden("admin access required")
	}
	if days <= 0 {
		days = 30
	}
	since := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	summaries, err := s.repo.FlaggedLandlords(ctx, since, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to summarise reports: %w", err)
	}
	return summaries, nil
}

// LandlordReports lists every report against landlordID, newest first.
func (s *Service) LandlordReports(ctx context.Context, admin *auth.User, landlordID uuid.UUID) ([]Report, error) {
	if !admin.IsAdmin() {
		return nil, apperr.Forbidden("admin access required")
	}
	out, err := s.repo.ListForLandlord(ctx, landlordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return out, nil
}

func (s *Service) notify(event string, data any) {
	if s.notifier != nil {
		s.notifier.NotifyRole(string(auth.RoleAdmin), event, data)
	}
}
