package reports

import (
	"context"
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
	"verifiednyumba/backend/internal/listings"
	"verifiednyumba/backend/internal/verification"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyRole(role string, eventType string, data any) {
	m.Called(role, eventType, data)
}

type verifiedTiers struct{}

func (verifiedTiers) TierOf(ctx context.Context, user *auth.User) (verification.Tier, error) {
	return verification.TierFullyVerified, nil
}

type fixture struct {
	db       *gorm.DB
	users    auth.Repository
	listings *listings.Service
	notifier *mockNotifier
	service  *Service
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
	require.NoError(t, db.AutoMigrate(verification.Models()...))
	require.NoError(t, db.AutoMigrate(listings.Models()...))
	require.NoError(t, db.AutoMigrate(Models()...))

	f := &fixture{
		db:       db,
		users:    auth.NewRepository(db),
		notifier: &mockNotifier{},
	}
	f.listings = listings.NewService(listings.NewRepository(db), f.users, verifiedTiers{}, zap.NewNop())
	f.service = NewService(NewRepository(db), f.listings, f.notifier, zap.NewNop())
	t.Cleanup(func() { f.notifier.AssertExpectations(t) })
	return f
}

func (f *fixture) user(t *testing.T, role auth.Role) *auth.User {
	t.Helper()
	u := &auth.User{
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "x",
		FullName:     "Test " + string(role),
		Role:         role,
	}
	require.NoError(t, f.users.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) listing(t *testing.T, landlord *auth.User) *listings.Listing {
	t.Helper()
	l, err := f.listings.Create(context.Background(), landlord, listings.CreateRequest{
		Title:       "Bedsitter",
		Location:    "Roysambu",
		MonthlyRent: 9000,
	})
	require.NoError(t, err)
	return l
}

func TestReport_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	landlord := f.user(t, auth.RoleLandlord)
	tenant := f.user(t, auth.RoleTenant)
	l := f.listing(t, landlord)

	_, err := f.service.Report(ctx, tenant, l.ID, CreateRequest{Reason: "BORED"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.service.Report(ctx, landlord, l.ID, CreateRequest{Reason: ReasonOther})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.service.Report(ctx, tenant, uuid.New(), CreateRequest{Reason: ReasonOther})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestReport_NormalisesReason(t *testing.T) {
	f := newFixture(t)
	landlord := f.user(t, auth.RoleLandlord)
	tenant := f.user(t, auth.RoleTenant)
	l := f.listing(t, landlord)

	out, err := f.service.Report(context.Background(), tenant, l.ID, CreateRequest{Reason: " wrong_price ", Details: " asked for more "})
	require.NoError(t, err)
	assert.Equal(t, ReasonWrongPrice, out.Report.Reason)
	assert.Equal(t, "asked for more", out.Report.Details)
	assert.Equal(t, landlord.ID, out.Report.LandlordID)
	assert.False(t, out.ListingFlagged)
	assert.False(t, out.LandlordFlagged)
}

func TestReport_DuplicateConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	landlord := f.user(t, auth.RoleLandlord)
	tenant := f.user(t, auth.RoleTenant)
	l := f.listing(t, landlord)

	_, err := f.service.Report(ctx, tenant, l.ID, CreateRequest{Reason: ReasonOther})
	require.NoError(t, err)
	_, err = f.service.Report(ctx, tenant, l.ID, CreateRequest{Reason: ReasonScam})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestReport_BurstFlagsListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	landlord := f.user(t, auth.RoleLandlord)
	l := f.listing(t, landlord)
	f.notifier.On("NotifyRole", string(auth.RoleAdmin), EventListingFlagged, mock.Anything).Once()

	var out *Outcome
	for i := 0; i < listingBurstThreshold; i++ {
		var err error
		out, err = f.service.Report(ctx, f.user(t, auth.RoleTenant), l.ID, CreateRequest{Reason: ReasonUnavailable})
		require.NoError(t, err)
		if i < listingBurstThreshold-1 {
			assert.False(t, out.ListingFlagged)
		}
	}
	assert.True(t, out.ListingFlagged)

	got, err := f.listings.Get(ctx, landlord, l.ID)
	require.NoError(t, err)
	assert.Equal(t, listings.StatusFlagged, got.Status)

	// flagged listings are hidden from further reporters
	_, err = f.service.Report(ctx, f.user(t, auth.RoleTenant), l.ID, CreateRequest{Reason: ReasonOther})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestReport_RepeatedScamFlagsListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	landlord := f.user(t, auth.RoleLandlord)
	l := f.listing(t, landlord)
	f.notifier.On("NotifyRole", string(auth.RoleAdmin), EventListingFlagged, mock.Anything).Once()

	out, err := f.service.Report(ctx, f.user(t, auth.RoleTenant), l.ID, CreateRequest{Reason: ReasonScam})
	require.NoError(t, err)
	assert.False(t, out.ListingFlagged)

	out, err = f.service.Report(ctx, f.user(t, auth.RoleTenant), l.ID, CreateRequest{Reason: ReasonScam})
	require.NoError(t, err)
	assert.True(t, out.ListingFlagged)
}

func TestReport_ManyReportersFlagLandlord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	landlord := f.user(t, auth.RoleLandlord)
	targets := []*listings.Listing{f.listing(t, landlord), f.listing(t, landlord), f.listing(t, landlord)}
	f.notifier.On("NotifyRole", string(auth.RoleAdmin), EventLandlordFlagged, mock.Anything).Once()

	var out *Outcome
	for i := 0; i < landlordThreshold+1; i++ {
		var err error
		target := targets[i%len(targets)]
		out, err = f.service.Report(ctx, f.user(t, auth.RoleTenant), target.ID, CreateRequest{Reason: ReasonFakeListing})
		require.NoError(t, err)
		assert.Equal(t, i+1 >= landlordThreshold, out.LandlordFlagged)
	}
	assert.True(t, out.LandlordFlagged)
}

func TestReport_LandlordAlertWhenCountSkipsThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := NewRepository(f.db)
	landlord := f.user(t, auth.RoleLandlord)
	earlier := f.listing(t, landlord)

	// reports that landed together, past the threshold, without an alert
	for i := 0; i < landlordThreshold; i++ {
		require.NoError(t, repo.Create(ctx, &Report{
			ListingID:  earlier.ID,
			LandlordID: landlord.ID,
			ReporterID: f.user(t, auth.RoleTenant).ID,
			Reason:     ReasonOther,
			CreatedAt:  time.Now().UTC(),
		}))
	}

	f.notifier.On("NotifyRole", string(auth.RoleAdmin), EventLandlordFlagged, mock.Anything).Once()

	out, err := f.service.Report(ctx, f.user(t, auth.RoleTenant), f.listing(t, landlord).ID, CreateRequest{Reason: ReasonOther})
	require.NoError(t, err)
	assert.True(t, out.LandlordFlagged)

	// alerted once per window
	out, err = f.service.Report(ctx, f.user(t, auth.RoleTenant), f.listing(t, landlord).ID, CreateRequest{Reason: ReasonOther})
	require.NoError(t, err)
	assert.True(t, out.LandlordFlagged)
}

func TestMarkLandlordAlerted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := NewRepository(f.db)
	landlord := uuid.New()
	now := time.Now().UTC()

	ok, err := repo.MarkLandlordAlerted(ctx, landlord, now, landlordWindow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkLandlordAlerted(ctx, landlord, now.Add(time.Hour), landlordWindow)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkLandlordAlerted(ctx, landlord, now.Add(landlordWindow+time.Hour), landlordWindow)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.DeleteByLandlord(ctx, nil, landlord)
	require.NoError(t, err)
	var count int64
	require.NoError(t, f.db.Model(&LandlordAlert{}).Where("landlord_id = ?", landlord).Count(&count).Error)
	assert.Zero(t, count)
}

func TestLandlordReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	landlord := f.user(t, auth.RoleLandlord)
	admin := f.user(t, auth.RoleAdmin)
	tenant := f.user(t, auth.RoleTenant)
	l := f.listing(t, landlord)

	_, err := f.service.Report(ctx, tenant, l.ID, CreateRequest{Reason: ReasonWrongPrice, Details: "double the advert"})
	require.NoError(t, err)

	_, err = f.service.LandlordReports(ctx, tenant, landlord.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	list, err := f.service.LandlordReports(ctx, admin, landlord.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tenant.ID, list[0].ReporterID)
	assert.Equal(t, "double the advert", list[0].Details)

	list, err = f.service.LandlordReports(ctx, admin, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFlaggedLandlords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	landlord := f.user(t, auth.RoleLandlord)
	quiet := f.user(t, auth.RoleLandlord)
	admin := f.user(t, auth.RoleAdmin)
	tenant := f.user(t, auth.RoleTenant)
	l := f.listing(t, landlord)
	f.listing(t, quiet)

	_, err := f.service.Report(ctx, tenant, l.ID, CreateRequest{Reason: ReasonScam})
	require.NoError(t, err)
	_, err = f.service.Report(ctx, f.user(t, auth.RoleTenant), l.ID, CreateRequest{Reason: ReasonWrongPrice})
	require.NoError(t, err)

	_, err = f.service.FlaggedLandlords(ctx, tenant, 30)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	summaries, err := f.service.FlaggedLandlords(ctx, admin, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, landlord.ID, summaries[0].LandlordID)
	assert.Equal(t, landlord.Email, summaries[0].Email)
	assert.Equal(t, int64(2), summaries[0].ReportCount)
	assert.Equal(t, int64(1), summaries[0].ScamCount)
	assert.False(t, summaries[0].LastReport.IsZero())
}
