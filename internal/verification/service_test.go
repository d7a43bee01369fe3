package verification

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"verifiednyumba/backend/internal/apperr"
	"verifiednyumba/backend/internal/auth"
	"verifiednyumba/backend/pkg/pdf"
	"verifiednyumba/backend/pkg/storage"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyUser(userID uuid.UUID, eventType string, data any) {
	m.Called(userID, eventType, data)
}

func (m *mockNotifier) NotifyRole(role string, eventType string, data any) {
	m.Called(role, eventType, data)
}

type fixture struct {
	db      *gorm.DB
	users   auth.Repository
	repo    Repository
	blobs   *storage.MemoryClient
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(auth.Models()...))
	require.NoError(t, db.AutoMigrate(Models()...))

	f := &fixture{
		db:    db,
		users: auth.NewRepository(db),
		repo:  NewRepository(db),
		blobs: storage.NewMemoryClient("http://blobs.test"),
	}
	f.service = NewService(f.repo, f.users,
		NewStorageProvider(f.blobs, "verification", time.Hour),
		pdf.NewGenerator("VerifiedNyumba"), nil, zap.NewNop())
	return f
}

func (f *fixture) user(t *testing.T, role auth.Role, phone, email bool) *auth.User {
	t.Helper()
	u := &auth.User{
		Email:         uuid.NewString() + "@example.com",
		PasswordHash:  "x",
		FullName:      "Test " + string(role),
		Phone:         "+254712345678",
		Role:          role,
		PhoneVerified: phone,
		EmailVerified: email,
	}
	require.NoError(t, f.users.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) admin(t *testing.T) *auth.User {
	return f.user(t, auth.RoleAdmin, true, true)
}

func (f *fixture) upload(t *testing.T, u *auth.User, docType DocumentType) *Document {
	t.Helper()
	body := "%PDF-1.4 test document"
	doc, err := f.service.Upload(context.Background(), u, UploadInput{
		Type:        string(docType),
		FileName:    strings.ToLower(string(docType)) + ".pdf",
		ContentType: "application/pdf",
		Size:        int64(len(body)),
		Body:        strings.NewReader(body),
	})
	require.NoError(t, err)
	return doc
}

func (f *fixture) decide(t *testing.T, admin, u *auth.User, action Action, note string) *Record {
	t.Helper()
	rec, err := f.service.Decide(context.Background(), admin, DecisionRequest{
		UserID: u.ID.String(),
		Action: action,
		Note:   note,
	})
	require.NoError(t, err)
	return rec
}

// verifyIdentity takes a landlord through an approved IDENTITY review.
func (f *fixture) verifyIdentity(t *testing.T, admin, u *auth.User) *Record {
	t.Helper()
	f.upload(t, u, DocumentID)
	_, err := f.service.Submit(context.Background(), u, "IDENTITY")
	require.NoError(t, err)
	return f.decide(t, admin, u, ActionApprove, "")
}

func TestSubmit_IdentityWithoutPhoneIsForbidden(t *testing.T) {
	f := newFixture(t)
	landlord := f.user(t, auth.RoleLandlord, false, true)
	f.upload(t, landlord, DocumentID)

	_, err := f.service.Submit(context.Background(), landlord, "IDENTITY")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.service.Submit(context.Background(), landlord, "FULL")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestSubmit_FullWithOnlyIDIsValidationError(t *testing.T) {
	f := newFixture(t)
	landlord := f.user(t, auth.RoleLandlord, true, true)
	f.upload(t, landlord, DocumentID)

	_, err := f.service.Submit(context.Background(), landlord, "FULL")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSubmit_ValidationOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := f.user(t, auth.RoleTenant, false, false)

	_, err := f.service.Submit(ctx, tenant, "EVERYTHING")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "malformed scope is reported first")

	_, err = f.service.Submit(ctx, tenant, "IDENTITY")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	landlord := f.user(t, auth.RoleLandlord, true, false)
	_, err = f.service.Submit(ctx, landlord, "IDENTITY")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "missing ID document")

	_, err = f.service.Submit(ctx, landlord, "PROPERTY")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err), "property requires verified identity")
}

func TestSubmit_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	landlord := f.user(t, auth.RoleLandlord, true, false)
	f.upload(t, landlord, DocumentID)

	rec, err := f.service.Submit(ctx, landlord, "identity")
	require.NoError(t, err)
	assert.Equal(t, StatusUnderReview, rec.Status)
	assert.Equal(t, ScopeIdentity, rec.Scope)
	assert.NotNil(t, rec.SubmittedAt)

	_, err = f.service.Submit(ctx, landlord, "IDENTITY")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "already under review")
}

func TestApprove_PropertyAfterIdentityIsFullyVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.admin(t)
	landlord := f.user(t, auth.RoleLandlord, true, true)

	rec := f.verifyIdentity(t, admin, landlord)
	assert.Equal(t, TierIDVerified, rec.Tier)
	assert.Equal(t, 65, rec.Completeness)
	assert.True(t, rec.IDVerified)
	assert.NotNil(t, rec.IDVerifiedAt)

	f.upload(t, landlord, DocumentUtilityBill)
	_, err := f.service.Submit(ctx, landlord, "PROPERTY")
	require.NoError(t, err)

	rec = f.decide(t, admin, landlord, ActionApprove, "")
	assert.Equal(t, StatusVerified, rec.Status)
	assert.Equal(t, TierFullyVerified, rec.Tier)
	assert.Equal(t, 100, rec.Completeness)
	assert.True(t, rec.IDVerified)
	assert.True(t, rec.PropertyVerified)
	assert.NotNil(t, rec.VerifiedAt)
	assert.Equal(t, ScopeNone, rec.Scope)
	assert.Empty(t, rec.Note)
}

func TestApprove_FullSetsBothFlags(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	landlord := f.user(t, auth.RoleLandlord, true, false)
	f.upload(t, landlord, DocumentID)
	f.upload(t, landlord, DocumentTitleDeed)

	_, err := f.service.Submit(context.Background(), landlord, "FULL")
	require.NoError(t, err)

	rec := f.decide(t, admin, landlord, ActionApprove, "")
	assert.Equal(t, TierFullyVerified, rec.Tier)
	assert.Equal(t, 85, rec.Completeness)
}

func TestReject_KeepsFlagsAndAllowsResubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.admin(t)
	landlord := f.user(t, auth.RoleLandlord, true, true)
	f.verifyIdentity(t, admin, landlord)

	f.upload(t, landlord, DocumentCaretakerLetter)
	_, err := f.service.Submit(ctx, landlord, "PROPERTY")
	require.NoError(t, err)

	rec := f.decide(t, admin, landlord, ActionReject, "Letter is unsigned")
	assert.Equal(t, StatusRejected, rec.Status)
	assert.Equal(t, "Letter is unsigned", rec.Note)
	assert.True(t, rec.IDVerified, "rejection never revokes a granted flag")
	assert.False(t, rec.PropertyVerified)
	assert.Equal(t, TierIDVerified, rec.Tier)
	assert.Nil(t, rec.VerifiedAt)
	assert.Equal(t, ScopeNone, rec.Scope)

	rec, err = f.service.Submit(ctx, landlord, "PROPERTY")
	require.NoError(t, err)
	assert.Equal(t, StatusUnderReview, rec.Status)
	assert.Empty(t, rec.Note)
}

func TestSubmit_AlreadyVerifiedScopeConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.admin(t)
	landlord := f.user(t, auth.RoleLandlord, true, true)
	f.verifyIdentity(t, admin, landlord)

	_, err := f.service.Submit(ctx, landlord, "IDENTITY")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// FULL is still open while property is unverified
	f.upload(t, landlord, DocumentTitleDeed)
	_, err = f.service.Submit(ctx, landlord, "FULL")
	assert.NoError(t, err)
}

func TestDecide_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.admin(t)
	landlord := f.user(t, auth.RoleLandlord, true, true)
	tenant := f.user(t, auth.RoleTenant, true, true)

	_, err := f.service.Decide(ctx, landlord, DecisionRequest{UserID: landlord.ID.String(), Action: ActionApprove})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.service.Decide(ctx, admin, DecisionRequest{UserID: uuid.NewString(), Action: ActionApprove})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.service.Decide(ctx, admin, DecisionRequest{UserID: landlord.ID.String(), Action: ActionApprove})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "nothing under review")

	_, err = f.service.Decide(ctx, admin, DecisionRequest{UserID: tenant.ID.String(), Action: ActionReject})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.service.Decide(ctx, admin, DecisionRequest{UserID: landlord.ID.String(), Action: "escalate"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.service.Decide(ctx, admin, DecisionRequest{UserID: "not-an-id", Action: ActionApprove})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestDecide_ConcurrentApprovalsOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	landlord := f.user(t, auth.RoleLandlord, true, true)
	f.upload(t, landlord, DocumentID)
	_, err := f.service.Submit(context.Background(), landlord, "IDENTITY")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Decide(context.Background(), admin, DecisionRequest{
				UserID: landlord.ID.String(),
				Action: ActionApprove,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if apperr.Is(err, apperr.KindConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 3, conflicts)
}

func TestStatus_IsIdempotentAndCreatesRecordLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	landlord := f.user(t, auth.RoleLandlord, true, false)

	rec, err := f.repo.GetRecord(ctx, landlord.ID)
	require.NoError(t, err)
	assert.Nil(t, rec)

	first, err := f.service.Status(ctx, landlord)
	require.NoError(t, err)
	second, err := f.service.Status(ctx, landlord)
	require.NoError(t, err)

	assert.Equal(t, first.Record.Tier, second.Record.Tier)
	assert.Equal(t, first.Record.Completeness, second.Record.Completeness)
	assert.Equal(t, first.Record.Status, second.Record.Status)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, TierPhoneVerified, first.Record.Tier)
	assert.Equal(t, 15, first.Record.Completeness)
	assert.Equal(t, StatusPending, first.Record.Status)
	assert.Equal(t, []Status{StatusUnderReview}, first.NextStatuses)

	tenant := f.user(t, auth.RoleTenant, false, false)
	_, err = f.service.Status(ctx, tenant)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestStatus_ReturnsLatestDocumentPerType(t *testing.T) {
	f := newFixture(t)
	landlord := f.user(t, auth.RoleLandlord, true, false)

	f.upload(t, landlord, DocumentID)
	f.service.now = func() time.Time { return time.Now().Add(time.Minute) }
	latest := f.upload(t, landlord, DocumentID)
	f.upload(t, landlord, DocumentTitleDeed)

	view, err := f.service.Status(context.Background(), landlord)
	require.NoError(t, err)
	require.Len(t, view.Documents, 2)

	for _, d := range view.Documents {
		assert.NotEmpty(t, d.URL)
		if d.Type == DocumentID {
			assert.Equal(t, latest.ID, d.ID)
		}
	}
}

func TestRefreshTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	landlord := f.user(t, auth.RoleLandlord, false, false)
	require.NoError(t, f.service.LandlordRegistered(ctx, landlord.ID))

	require.NoError(t, f.users.MarkPhoneVerified(ctx, landlord.ID, "+254712345678"))
	require.NoError(t, f.service.FlagsChanged(ctx, landlord.ID))

	rec, err := f.repo.GetRecord(ctx, landlord.ID)
	require.NoError(t, err)
	assert.Equal(t, TierPhoneVerified, rec.Tier)
	assert.Equal(t, 15, rec.Completeness)

	require.NoError(t, f.users.MarkEmailVerified(ctx, landlord.ID))
	require.NoError(t, f.service.RefreshTier(ctx, landlord.ID))

	rec, err = f.repo.GetRecord(ctx, landlord.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, rec.Completeness)

	// no record, no-op
	tenant := f.user(t, auth.RoleTenant, true, true)
	assert.NoError(t, f.service.RefreshTier(ctx, tenant.ID))
	rec, err = f.repo.GetRecord(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUpload_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	landlord := f.user(t, auth.RoleLandlord, true, false)
	tenant := f.user(t, auth.RoleTenant, true, false)

	valid := UploadInput{Type: "ID", FileName: "id.png", ContentType: "image/png", Size: 10, Body: strings.NewReader("0123456789")}

	_, err := f.service.Upload(ctx, tenant, valid)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	bad := valid
	bad.Type = "PASSPORT"
	_, err = f.service.Upload(ctx, landlord, bad)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	bad = valid
	bad.Size = MaxUploadSize + 1
	_, err = f.service.Upload(ctx, landlord, bad)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	bad = valid
	bad.ContentType = "application/x-msdownload"
	_, err = f.service.Upload(ctx, landlord, bad)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	assert.Zero(t, f.blobs.Len())

	doc, err := f.service.Upload(ctx, landlord, valid)
	require.NoError(t, err)
	assert.Equal(t, 1, f.blobs.Len())
	assert.Contains(t, doc.StorageKey, landlord.ID.String())
	assert.NotEmpty(t, doc.URL)
}

func TestCertificate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.admin(t)
	landlord := f.user(t, auth.RoleLandlord, true, true)

	_, err := f.service.Certificate(ctx, landlord)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	f.upload(t, landlord, DocumentID)
	f.upload(t, landlord, DocumentTitleDeed)
	_, err = f.service.Submit(ctx, landlord, "FULL")
	require.NoError(t, err)
	f.decide(t, admin, landlord, ActionApprove, "")

	out, err := f.service.Certificate(ctx, landlord)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "%PDF-"))
}

// approveHookRepo calls before just ahead of each Approve write.
type approveHookRepo struct {
	Repository
	before func()
}

func (r *approveHookRepo) Approve(ctx context.Context, p ApproveParams) (bool, error) {
	r.before()
	return r.Repository.Approve(ctx, p)
}

func TestDecide_ApproveKeepsCompletenessInStepWithLateEmailConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.admin(t)
	landlord := f.user(t, auth.RoleLandlord, true, false)
	f.upload(t, landlord, DocumentID)
	_, err := f.service.Submit(ctx, landlord, "IDENTITY")
	require.NoError(t, err)

	f.service.repo = &approveHookRepo{
		Repository: f.repo,
		before: func() {
			require.NoError(t, f.users.MarkEmailVerified(ctx, landlord.ID))
			require.NoError(t, f.service.FlagsChanged(ctx, landlord.ID))
		},
	}

	rec := f.decide(t, admin, landlord, ActionApprove, "")
	assert.Equal(t, TierIDVerified, rec.Tier)
	assert.Equal(t, ComputeCompleteness(Flags{EmailVerified: true, PhoneVerified: true, IDVerified: true}), rec.Completeness)
	assert.Equal(t, 65, rec.Completeness)
}

func TestService_Features(t *testing.T) {
	f := newFixture(t)
	landlord := f.user(t, auth.RoleLandlord, true, false)

	view, err := f.service.Features(context.Background(), landlord)
	require.NoError(t, err)
	assert.Equal(t, TierPhoneVerified, view.Tier)
	assert.Equal(t, 5, view.ListingLimit)
	assert.True(t, view.Features[FeatureCreateListing])
	assert.False(t, view.Features[FeatureVerifiedBadge])
	assert.Equal(t, TierIDVerified, view.Requirements[FeatureVerifiedBadge])
	assert.Equal(t, TierFullyVerified, view.Requirements[FeatureVerificationCertificate])
	assert.Len(t, view.Requirements, len(view.Features))
}

func TestWorkflow_NotifiesAndRecordsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notifier := &mockNotifier{}
	f.service.notifier = notifier

	admin := f.admin(t)
	landlord := f.user(t, auth.RoleLandlord, true, true)
	f.upload(t, landlord, DocumentID)

	notifier.On("NotifyRole", string(auth.RoleAdmin), EventSubmitted, mock.Anything).Once()
	notifier.On("NotifyUser", landlord.ID, EventDecided, mock.Anything).Once()

	_, err := f.service.Submit(ctx, landlord, "IDENTITY")
	require.NoError(t, err)
	f.decide(t, admin, landlord, ActionReject, "blurry photo")

	notifier.AssertExpectations(t)

	events, err := f.service.History(ctx, landlord)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, StatusUnderReview, events[0].ToStatus)
	assert.Equal(t, landlord.ID, events[0].ActorID)
	assert.Equal(t, StatusRejected, events[1].ToStatus)
	assert.Equal(t, admin.ID, events[1].ActorID)
	assert.Equal(t, ScopeIdentity, events[1].Scope)
	assert.Contains(t, string(events[1].Payload), "blurry photo")
}

func TestPendingReviewsAndStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.admin(t)
	landlord := f.user(t, auth.RoleLandlord, true, true)
	f.upload(t, landlord, DocumentID)
	_, err := f.service.Submit(ctx, landlord, "IDENTITY")
	require.NoError(t, err)

	_, err = f.service.PendingReviews(ctx, landlord)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	items, err := f.service.PendingReviews(ctx, admin)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, landlord.Email, items[0].Email)
	assert.Len(t, items[0].Documents, 1)
	assert.Zero(t, items[0].DuplicateDocuments)
	assert.True(t, strings.HasPrefix(items[0].Documents[0].Checksum, "sha256:"))

	stale, err := f.service.StaleReviews(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stale)

	f.service.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	stale, err = f.service.StaleReviews(ctx, time.Hour)
	require.NoError(t, err)
	assert.Len(t, stale, 1)
}

func TestPendingReviews_FlagsSharedDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.admin(t)
	first := f.user(t, auth.RoleLandlord, true, true)
	second := f.user(t, auth.RoleLandlord, true, true)

	// both landlords upload byte-identical ID scans
	f.upload(t, first, DocumentID)
	f.upload(t, second, DocumentID)
	_, err := f.service.Submit(ctx, second, "IDENTITY")
	require.NoError(t, err)

	items, err := f.service.PendingReviews(ctx, admin)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].DuplicateDocuments)

	shared, err := f.repo.CountSharedDocuments(ctx, items[0].Documents[0].Checksum, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), shared)
}
