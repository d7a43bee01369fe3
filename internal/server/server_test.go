package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"verifiednyumba/backend/internal/auth"
	"verifiednyumba/backend/internal/config"
	"verifiednyumba/backend/internal/database"
)

type harness struct {
	t    *testing.T
	db   *gorm.DB
	logs *observer.ObservedLogs
	ts   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	cfg := config.Default()
	cfg.Security.AccessTokenSecret = "access-secret-for-tests-0123456789"
	cfg.Security.RefreshTokenSecret = "refresh-secret-for-tests-0123456789"

	core, logs := observer.New(zapcore.InfoLevel)
	srv, err := New(context.Background(), cfg, db, zap.New(core))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{t: t, db: db, logs: logs, ts: ts}
}

type client struct {
	h    *harness
	http *http.Client
}

func (h *harness) client() *client {
	jar, err := cookiejar.New(nil)
	require.NoError(h.t, err)
	return &client{h: h, http: &http.Client{Jar: jar}}
}

func (c *client) do(method, path string, body any) (int, map[string]any) {
	c.h.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.h.t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.h.ts.URL+path, r)
	require.NoError(c.h.t, err)
	req.Header.Set("Content-Type", "application/json")
	return c.send(req)
}

func (c *client) send(req *http.Request) (int, map[string]any) {
	c.h.t.Helper()
	resp, err := c.http.Do(req)
	require.NoError(c.h.t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.h.t, err)
	_ = json.Unmarshal(data, &out)
	return resp.StatusCode, out
}

func (c *client) upload(docType string, content []byte) (int, map[string]any) {
	c.h.t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(c.h.t, w.WriteField("type", docType))
	part, err := w.CreateFormFile("file", "document.pdf")
	require.NoError(c.h.t, err)
	_, err = part.Write(content)
	require.NoError(c.h.t, err)
	require.NoError(c.h.t, w.Close())

	req, err := http.NewRequest(http.MethodPost, c.h.ts.URL+"/api/v1/verification/upload", &buf)
	require.NoError(c.h.t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.send(req)
}

var codePattern = regexp.MustCompile(`code is (\d{6})`)

func (h *harness) lastSMSCode() string {
	h.t.Helper()
	entries := h.logs.FilterMessage("SMS (log only)").All()
	require.NotEmpty(h.t, entries)
	msg := entries[len(entries)-1].ContextMap()["message"].(string)
	m := codePattern.FindStringSubmatch(msg)
	require.Len(h.t, m, 2)
	return m[1]
}

func (h *harness) admin() *client {
	h.t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("admin-password"), bcrypt.MinCost)
	require.NoError(h.t, err)
	require.NoError(h.t, auth.NewRepository(h.db).CreateUser(context.Background(), &auth.User{
		Email:        "admin@nyumba.test",
		PasswordHash: string(hash),
		FullName:     "Admin",
		Role:         auth.RoleAdmin,
	}))
	c := h.client()
	status, _ := c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "admin@nyumba.test", "password": "admin-password",
	})
	require.Equal(h.t, http.StatusOK, status)
	return c
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	status, body := h.client().do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 2, body["jobs"])
}

func TestUnauthenticatedRoutes(t *testing.T) {
	h := newHarness(t)
	c := h.client()

	status, body := c.do(http.MethodGet, "/api/v1/verification", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "NOT_AUTHENTICATED", body["code"])

	status, _ = c.do(http.MethodGet, "/api/v1/listings", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestLandlordJourney(t *testing.T) {
	h := newHarness(t)
	landlord := h.client()

	status, _ := landlord.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "wanjiku@nyumba.test", "password": "correct-horse", "fullName": "Wanjiku", "role": "LANDLORD",
	})
	require.Equal(t, http.StatusCreated, status)

	status, body := landlord.do(http.MethodGet, "/api/v1/verification/features", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "BASIC", body["tier"])

	status, body = landlord.do(http.MethodPost, "/api/v1/listings", map[string]any{
		"title": "Bedsitter", "location": "Githurai", "monthlyRent": 7000,
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", body["code"])

	// identity review needs a verified phone first
	status, _ = landlord.upload("ID", []byte("%PDF-1.4 national id"))
	require.Equal(t, http.StatusCreated, status)
	status, body = landlord.do(http.MethodPost, "/api/v1/verification/submit", map[string]string{"type": "IDENTITY"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = landlord.do(http.MethodPost, "/api/v1/auth/phone/send", map[string]string{"phone": "0712345678"})
	require.Equal(t, http.StatusAccepted, status)
	status, _ = landlord.do(http.MethodPost, "/api/v1/auth/phone/confirm", map[string]string{"code": h.lastSMSCode()})
	require.Equal(t, http.StatusOK, status)

	status, body = landlord.do(http.MethodGet, "/api/v1/verification/features", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "PHONE_VERIFIED", body["tier"])

	status, body = landlord.do(http.MethodPost, "/api/v1/listings", map[string]any{
		"title": "Bedsitter", "location": "Githurai", "monthlyRent": 7000,
	})
	require.Equal(t, http.StatusCreated, status)
	listingID := body["id"].(string)

	status, body = landlord.do(http.MethodPost, "/api/v1/verification/submit", map[string]string{"type": "IDENTITY"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "UNDER_REVIEW", body["verification"].(map[string]any)["status"])

	admin := h.admin()
	status, body = admin.do(http.MethodGet, "/api/v1/admin/verification", nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 1, body["count"])
	item := body["items"].([]any)[0].(map[string]any)
	userID := item["verification"].(map[string]any)["userId"].(string)
	docURL := item["documents"].([]any)[0].(map[string]any)["url"].(string)

	// documents are served back from the in-memory store
	u, err := url.Parse(docURL)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, h.ts.URL+u.Path, nil)
	require.NoError(t, err)
	resp, err := admin.http.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, _ = landlord.do(http.MethodPost, "/api/v1/admin/verification", map[string]string{"userId": userID, "action": "approve"})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = admin.do(http.MethodPost, "/api/v1/admin/verification", map[string]string{"userId": userID, "action": "approve"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "VERIFIED", body["verification"].(map[string]any)["status"])

	status, body = landlord.do(http.MethodGet, "/api/v1/verification", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ID_VERIFIED", body["verification"].(map[string]any)["tier"])

	// tenants see the badge and can reveal the number
	tenant := h.client()
	status, _ = tenant.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "otieno@nyumba.test", "password": "correct-horse", "fullName": "Otieno",
	})
	require.Equal(t, http.StatusCreated, status)

	status, body = tenant.do(http.MethodGet, "/api/v1/listings?location=githurai", nil)
	require.Equal(t, http.StatusOK, status)
	listings := body["listings"].([]any)
	require.Len(t, listings, 1)
	assert.Equal(t, true, listings[0].(map[string]any)["verifiedLandlord"])

	status, body = tenant.do(http.MethodGet, "/api/v1/listings/"+listingID+"/contact", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "+254712345678", body["phone"])

	status, _ = tenant.do(http.MethodPost, "/api/v1/listings/"+listingID+"/reports", map[string]string{"reason": "WRONG_PRICE"})
	assert.Equal(t, http.StatusCreated, status)

	status, body = admin.do(http.MethodGet, "/api/v1/admin/reports", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["landlords"], 1)

	status, _ = admin.do(http.MethodPost, "/api/v1/admin/users/"+userID+"/ban", nil)
	require.Equal(t, http.StatusOK, status)

	status, body = landlord.do(http.MethodGet, "/api/v1/auth/me", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", body["code"])
}
