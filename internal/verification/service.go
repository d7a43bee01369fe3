package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verifiednyumba/backend/internal/apperr"
	"verifiednyumba/backend/internal/auth"
	"verifiednyumba/backend/pkg/pdf"
	"verifiednyumba/backend/pkg/security"
	"verifiednyumba/backend/pkg/workflows"
)

const (
	MaxUploadSize = 10 << 20

	EventSubmitted = "verification.submitted"
	EventDecided   = "verification.decided"
	EventStale     = "verification.stale"

	tierRetries = 3
)

var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
}

// Notifier pushes workflow events to connected clients.
type Notifier interface {
	NotifyUser(userID uuid.UUID, eventType string, data any)
	NotifyRole(role string, eventType string, data any)
}

type Service struct {
	repo     Repository
	users    auth.Repository
	storage  *StorageProvider
	pdf      pdf.Generator
	notifier Notifier
	machine  *workflows.StateMachine
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, users auth.Repository, storage *StorageProvider, generator pdf.Generator, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		storage:  storage,
		pdf:      generator,
		notifier: notifier,
		machine:  workflows.NewReviewStateMachine(),
		logger:   logger,
		now:      time.Now,
	}
}

func flagsOf(user *auth.User, rec *Record) Flags {
	f := Flags{EmailVerified: user.EmailVerified, PhoneVerified: user.PhoneVerified}
	if rec != nil {
		f.IDVerified = rec.IDVerified
		f.PropertyVerified = rec.PropertyVerified
	}
	return f
}

func (s *Service) ensureRecord(ctx context.Context, user *auth.User) (*Record, error) {
	rec, err := s.repo.GetRecord(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load verification record: %w", err)
	}
	if rec != nil {
		return rec, nil
	}
	f := flagsOf(user, nil)
	rec, err = s.repo.EnsureRecord(ctx, user.ID, ComputeTier(f), ComputeCompleteness(f))
	if err != nil {
		return nil, fmt.Errorf("failed to create verification record: %w", err)
	}
	return rec, nil
}

// LandlordRegistered opens a PENDING record for a new landlord.
func (s *Service) LandlordRegistered(ctx context.Context, userID uuid.UUID) error {
	_, err := s.repo.EnsureRecord(ctx, userID, TierBasic, 0)
	return err
}

// FlagsChanged is called after a phone or email confirmation.
func (s *Service) FlagsChanged(ctx context.Context, userID uuid.UUID) error {
	return s.RefreshTier(ctx, userID)
}

// RefreshTier recomputes tier and completeness from the current flags.
// Users without a record are left alone.
func (s *Service) RefreshTier(ctx context.Context, userID uuid.UUID) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil
	}

	for i := 0; i < tierRetries; i++ {
		rec, err := s.repo.GetRecord(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load verification record: %w", err)
		}
		if rec == nil {
			return nil
		}

		f := flagsOf(user, rec)
		ok, err := s.repo.UpdateTier(ctx, userID, f, ComputeTier(f), ComputeCompleteness(f))
		if err != nil {
			return fmt.Errorf("failed to update tier: %w", err)
		}
		if ok {
			return nil
		}
	}
	return apperr.Conflict("verification record changed concurrently, retry")
}

// TierOf returns the user's current tier. Users without a record get the
// tier their account flags imply.
func (s *Service) TierOf(ctx context.Context, user *auth.User) (Tier, error) {
	rec, err := s.repo.GetRecord(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load verification record: %w", err)
	}
	if rec == nil {
		return ComputeTier(flagsOf(user, nil)), nil
	}
	return rec.Tier, nil
}

// Status returns the landlord's record and current documents.
func (s *Service) Status(ctx context.Context, user *auth.User) (*StatusView, error) {
	if !user.IsLandlord() {
		return nil, apperr.Forbidden("only landlords have a verification record")
	}
	rec, err := s.ensureRecord(ctx, user)
	if err != nil {
		return nil, err
	}
	docs, err := s.currentDocuments(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	next := s.machine.GetAllowedTransitions(string(rec.Status))
	view := &StatusView{Record: rec, Documents: docs, NextStatuses: make([]Status, 0, len(next))}
	for _, st := range next {
		view.NextStatuses = append(view.NextStatuses, Status(st))
	}
	return view, nil
}

// History returns the landlord's workflow events, oldest first.
func (s *Service) History(ctx context.Context, user *auth.User) ([]Event, error) {
	if !user.IsLandlord() {
		return nil, apperr.Forbidden("only landlords have a verification record")
	}
	return s.repo.ListEvents(ctx, user.ID)
}

// UploadInput is a document being uploaded.
type UploadInput struct {
	Type        string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func (s *Service) Upload(ctx context.Context, user *auth.User, in UploadInput) (*Document, error) {
	if !user.IsLandlord() {
		return nil, apperr.Forbidden("only landlords can upload verification documents")
	}
	docType, ok := ParseDocumentType(in.Type)
	if !ok {
		return nil, apperr.Validation("type must be one of ID, TITLE_DEED, UTILITY_BILL, CARETAKER_LETTER")
	}
	if in.Size <= 0 {
		return nil, apperr.Validation("file is empty")
	}
	if in.Size > MaxUploadSize {
		return nil, apperr.Validation("file exceeds the 10MB limit")
	}
	contentType := strings.ToLower(strings.TrimSpace(strings.Split(in.ContentType, ";")[0]))
	if !allowedContentTypes[contentType] {
		return nil, apperr.Validation("file must be a PDF, JPEG, PNG or WEBP")
	}

	if _, err := s.ensureRecord(ctx, user); err != nil {
		return nil, err
	}

	key := s.storage.GenerateKey(user.ID, docType, in.FileName)
	fp := security.NewFingerprint()
	if err := s.storage.Put(ctx, key, contentType, fp.Reader(in.Body)); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	doc := &Document{
		UserID:      user.ID,
		Type:        docType,
		StorageKey:  key,
		FileName:    in.FileName,
		ContentType: contentType,
		Size:        in.Size,
		Checksum:    fp.Sum(),
		UploadedAt:  s.now().UTC(),
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	shared, err := s.repo.CountSharedDocuments(ctx, doc.Checksum, user.ID)
	if err != nil {
		s.logger.Warn("Failed to check for shared documents", zap.Error(err))
	} else if shared > 0 {
		s.logger.Warn("Document content already uploaded by another user",
			zap.String("user_id", user.ID.String()),
			zap.String("type", string(docType)),
			zap.Int64("matches", shared))
	}

	url, err := s.storage.URL(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign document url: %w", err)
	}
	doc.URL = url

	s.logger.Info("Verification document uploaded",
		zap.String("user_id", user.ID.String()),
		zap.String("type", string(docType)))
	return doc, nil
}

// currentDocuments returns the latest upload of each type with a signed URL.
func (s *Service) currentDocuments(ctx context.Context, userID uuid.UUID) ([]Document, error) {
	all, err := s.repo.ListDocuments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	seen := make(map[DocumentType]bool)
	current := make([]Document, 0, len(all))
	for _, d := range all {
		if seen[d.Type] {
			continue
		}
		seen[d.Type] = true
		url, err := s.storage.URL(ctx, d.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("failed to sign document url: %w", err)
		}
		d.URL = url
		current = append(current, d)
	}
	return current, nil
}

func hasDocument(docs []Document, types ...DocumentType) bool {
	for _, d := range docs {
		for _, t := range types {
			if d.Type == t {
				return true
			}
		}
	}
	return false
}

// Submit puts the landlord's record under review for scope.
func (s *Service) Submit(ctx context.Context, user *auth.User, rawScope string) (*Record, error) {
	scope, ok := ParseScope(rawScope)
	if !ok {
		return nil, apperr.Validation("type must be one of IDENTITY, PROPERTY, FULL")
	}
	if !user.IsLandlord() {
		return nil, apperr.Forbidden("only landlords can submit for verification")
	}

	rec, err := s.ensureRecord(ctx, user)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusUnderReview {
		return nil, apperr.Conflict("a submission is already under review")
	}

	switch {
	case scope == ScopeIdentity && rec.IDVerified,
		scope == ScopeProperty && rec.PropertyVerified,
		scope == ScopeFull && rec.IDVerified && rec.PropertyVerified:
		return nil, apperr.Conflict("this has already been verified")
	}

	if scope.coversIdentity() && !user.PhoneVerified {
		return nil, apperr.Forbidden("Verify your phone number before submitting identity documents")
	}
	if scope == ScopeProperty && !rec.IDVerified {
		return nil, apperr.Forbidden("Verify your identity before submitting property documents")
	}

	docs, err := s.currentDocuments(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if scope.coversIdentity() && !hasDocument(docs, DocumentID) {
		return nil, apperr.Validation("upload your national ID before submitting")
	}
	if scope.coversProperty() && !hasDocument(docs, propertyDocuments...) {
		return nil, apperr.Validation("upload a title deed, utility bill or caretaker letter before submitting")
	}

	if !s.machine.CanTransition(string(rec.Status), string(StatusUnderReview)) {
		return nil, apperr.Conflict(fmt.Sprintf("cannot submit from status %s", rec.Status))
	}

	ok, err = s.repo.MarkUnderReview(ctx, user.ID, scope, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to submit verification: %w", err)
	}
	if !ok {
		return nil, apperr.Conflict("a submission is already under review")
	}

	s.appendEvent(ctx, user.ID, rec.Status, StatusUnderReview, scope, user.ID, nil)
	s.notify(func(n Notifier) {
		n.NotifyRole(string(auth.RoleAdmin), EventSubmitted, map[string]any{
			"userId": user.ID,
			"scope":  scope,
		})
	})

	s.logger.Info("Verification submitted",
		zap.String("user_id", user.ID.String()),
		zap.String("scope", string(scope)))

	return s.repo.GetRecord(ctx, user.ID)
}

// Decide applies an admin's approve or reject decision to a submission
// under review.
func (s *Service) Decide(ctx context.Context, admin *auth.User, req DecisionRequest) (*Record, error) {
	if !admin.IsAdmin() {
		return nil, apperr.Forbidden("admin access required")
	}
	if req.Action != ActionApprove && req.Action != ActionReject {
		return nil, apperr.Validation("action must be approve or reject")
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, apperr.Validation("userId must be a valid id")
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, apperr.NotFound("user not found")
	}
	if !user.IsLandlord() {
		return nil, apperr.Conflict("user is not a landlord")
	}

	rec, err := s.repo.GetRecord(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load verification record: %w", err)
	}
	if rec == nil || rec.Status != StatusUnderReview {
		return nil, apperr.Conflict("no submission is under review for this user")
	}

	var to Status
	switch req.Action {
	case ActionReject:
		to = StatusRejected
		ok, err := s.repo.Reject(ctx, RejectParams{
			UserID:     userID,
			Scope:      rec.Scope,
			ReviewerID: admin.ID,
			Note:       strings.TrimSpace(req.Note),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to reject verification: %w", err)
		}
		if !ok {
			return nil, apperr.Conflict("the submission changed, reload and retry")
		}
	case ActionApprove:
		to = StatusVerified
		f := flagsOf(user, rec)
		f.IDVerified = f.IDVerified || rec.Scope.coversIdentity()
		f.PropertyVerified = f.PropertyVerified || rec.Scope.coversProperty()
		ok, err := s.repo.Approve(ctx, ApproveParams{
			UserID:           userID,
			Scope:            rec.Scope,
			ReviewerID:       admin.ID,
			SeenID:           rec.IDVerified,
			SeenProperty:     rec.PropertyVerified,
			IDVerified:       f.IDVerified,
			PropertyVerified: f.PropertyVerified,
			Tier:             ComputeTier(f),
			Completeness:     ComputeCompleteness(f),
			At:               s.now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to approve verification: %w", err)
		}
		if !ok {
			return nil, apperr.Conflict("the submission changed, reload and retry")
		}
		// phone or email may have been confirmed since the user was read
		if err := s.RefreshTier(ctx, userID); err != nil {
			s.logger.Warn("Failed to refresh tier after approval", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}

	updated, err := s.repo.GetRecord(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload verification record: %w", err)
	}

	s.appendEvent(ctx, userID, rec.Status, to, rec.Scope, admin.ID, map[string]any{"note": strings.TrimSpace(req.Note)})
	s.notify(func(n Notifier) {
		n.NotifyUser(userID, EventDecided, map[string]any{
			"action": req.Action,
			"scope":  rec.Scope,
			"status": updated.Status,
			"tier":   updated.Tier,
			"note":   updated.Note,
		})
	})

	s.logger.Info("Verification decided",
		zap.String("user_id", userID.String()),
		zap.String("admin_id", admin.ID.String()),
		zap.String("action", string(req.Action)),
		zap.String("tier", string(updated.Tier)))

	return updated, nil
}

// PendingReviews lists submissions awaiting review, oldest first.
func (s *Service) PendingReviews(ctx context.Context, admin *auth.User) ([]ReviewItem, error) {
	if !admin.IsAdmin() {
		return nil, apperr.Forbidden("admin access required")
	}
	records, err := s.repo.ListByStatus(ctx, StatusUnderReview)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}

	items := make([]ReviewItem, 0, len(records))
	for _, rec := range records {
		user, err := s.users.GetUserByID(ctx, rec.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
		if user == nil {
			continue
		}
		docs, err := s.currentDocuments(ctx, rec.UserID)
		if err != nil {
			return nil, err
		}
		duplicates := 0
		for _, d := range docs {
			if d.Checksum == "" {
				continue
			}
			shared, err := s.repo.CountSharedDocuments(ctx, d.Checksum, rec.UserID)
			if err != nil {
				return nil, fmt.Errorf("failed to check shared documents: %w", err)
			}
			if shared > 0 {
				duplicates++
			}
		}
		items = append(items, ReviewItem{
			Record:             rec,
			Email:              user.Email,
			FullName:           user.FullName,
			Phone:              user.Phone,
			Documents:          docs,
			DuplicateDocuments: duplicates,
		})
	}
	return items, nil
}

// StaleReviews returns submissions that have waited longer than maxAge.
func (s *Service) StaleReviews(ctx context.Context, maxAge time.Duration) ([]Record, error) {
	return s.repo.ListStaleReviews(ctx, s.now().UTC().Add(-maxAge))
}

// FeaturesView is the landlord's gate results for UI gating.
type FeaturesView struct {
	Tier         Tier             `json:"tier"`
	Features     map[Feature]bool `json:"features"`
	Requirements map[Feature]Tier `json:"requirements"`
	ListingLimit int              `json:"listingLimit"`
}

func (s *Service) Features(ctx context.Context, user *auth.User) (*FeaturesView, error) {
	tier, err := s.TierOf(ctx, user)
	if err != nil {
		return nil, err
	}
	view := &FeaturesView{
		Tier:         tier,
		Features:     Features(tier),
		Requirements: make(map[Feature]Tier),
		ListingLimit: ListingLimit(tier),
	}
	for feature := range view.Features {
		if required, ok := MinimumTier(feature); ok {
			view.Requirements[feature] = required
		}
	}
	return view, nil
}

// Certificate renders a PDF certificate for a fully verified landlord.
func (s *Service) Certificate(ctx context.Context, user *auth.User) ([]byte, error) {
	if !user.IsLandlord() {
		return nil, apperr.Forbidden("only landlords can download a certificate")
	}
	rec, err := s.ensureRecord(ctx, user)
	if err != nil {
		return nil, err
	}
	if !CanAccess(rec.Tier, FeatureVerificationCertificate) {
		return nil, apperr.Forbidden("a certificate requires FULLY_VERIFIED status")
	}

	issued := s.now().UTC()
	if rec.VerifiedAt != nil {
		issued = *rec.VerifiedAt
	}
	return s.pdf.Certificate(ctx, pdf.Certificate{
		Serial:   strings.ToUpper(rec.ID.String()[:8]),
		Name:     user.FullName,
		Email:    user.Email,
		Phone:    user.Phone,
		Tier:     string(rec.Tier),
		IssuedAt: issued,
	})
}

func (s *Service) appendEvent(ctx context.Context, userID uuid.UUID, from, to Status, scope Scope, actor uuid.UUID, payload map[string]any) {
	event := &Event{
		UserID:     userID,
		FromStatus: from,
		ToStatus:   to,
		Scope:      scope,
		ActorID:    actor,
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			event.Payload = raw
		}
	}
	if err := s.repo.AppendEvent(ctx, event); err != nil {
		s.logger.Warn("Failed to append verification event",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}

func (s *Service) notify(fn func(Notifier)) {
	if s.notifier != nil {
		fn(s.notifier)
	}
}
