package http

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biosecure-portal/internal/repository/sqlite"
	"biosecure-portal/internal/service"
	"biosecure-portal/internal/storage"
	"biosecure-portal/internal/webauthn"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	router, _ := newTestEnv(t, nil)
	return router
}

func newTestEnv(t *testing.T, store storage.Service) (*gin.Engine, *sql.DB) {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err, "open db")
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	users := sqlite.NewUserRepository(db)
	counters := sqlite.NewCounterRepository(db)
	sessions := sqlite.NewSessionRepository(db)
	credentials := sqlite.NewCredentialRepository(db)
	ceremonies := sqlite.NewCeremonyRepository(db)
	enrollments := sqlite.NewEnrollmentRepository(db)
	authLogs := sqlite.NewAuthLogRepository(db)
	for _, init := range []func(context.Context) error{
		users.Init, counters.Init, sessions.Init, credentials.Init,
		ceremonies.Init, enrollments.Init, authLogs.Init,
	} {
		require.NoError(t, init(ctx), "init repository")
	}

	logger := logrus.New()
	userSvc := service.NewUserService(users, counters)
	sessionSvc := service.NewSessionService(sessions, "test-secret", time.Hour)
	enrollmentSvc := service.NewEnrollmentService(enrollments)
	auditSvc := service.NewAuditService(authLogs, logger)

	engine, err := webauthn.NewEngine(webauthn.Config{
		RPID:      "localhost",
		RPOrigins: []string{"http://localhost:3000"},
	}, users, credentials, ceremonies, logger)
	require.NoError(t, err, "create engine")

	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(userSvc, sessionSvc, enrollmentSvc, auditSvc, engine, nil, store, "artifacts", "ceremony-artifacts").RegisterRoutes(router)
	return router, db
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err, "marshal request body")
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "decode response body")
	return out
}

func TestEnrollmentIntakeEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/enrollment-intake", gin.H{
		"name":         "Alice",
		"email":        "alice@uni.edu",
		"phone":        "555-0100",
		"credentialId": "cred-abc",
	})
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.True(t, strings.HasPrefix(body["userId"].(string), "user_"))

	// duplicate email
	w = doJSON(t, router, http.MethodPost, "/api/enrollment-intake", gin.H{
		"name":         "Alice Again",
		"email":        "ALICE@uni.edu",
		"phone":        "555-0101",
		"credentialId": "cred-def",
	})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Email already enrolled", decodeBody(t, w)["error"])

	// missing fields
	w = doJSON(t, router, http.MethodPost, "/api/enrollment-intake", gin.H{
		"name":  "Bob",
		"email": "bob@uni.edu",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing required fields", decodeBody(t, w)["error"])

	// listing
	w = doJSON(t, router, http.MethodGet, "/api/enrollment-intake", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.EqualValues(t, 1, body["count"])
	assert.Len(t, body["enrolledUsers"], 1)
}

func TestSignupAndLogin(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/signup", gin.H{
		"email":    "alice@uni.edu",
		"password": "Sup3rSecret",
		"name":     "Alice",
	})
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	user := decodeBody(t, w)["user"].(map[string]any)
	assert.Equal(t, "USR-1001", user["userId"])

	// duplicate signup
	w = doJSON(t, router, http.MethodPost, "/api/signup", gin.H{
		"email":    "Alice@uni.edu",
		"password": "OtherPass123",
		"name":     "Alice",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// wrong password
	w = doJSON(t, router, http.MethodPost, "/api/login", gin.H{
		"email":    "alice@uni.edu",
		"password": "sup3rsecret",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// correct login
	w = doJSON(t, router, http.MethodPost, "/api/login", gin.H{
		"email":    "alice@uni.edu",
		"password": "Sup3rSecret",
	})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	// session endpoint with the issued token
	w = doJSON(t, router, http.MethodGet, "/api/session", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	session := decodeBody(t, w)
	assert.Equal(t, "alice@uni.edu", session["user"].(map[string]any)["email"])

	// logout invalidates it
	w = doJSON(t, router, http.MethodPost, "/api/logout", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, router, http.MethodGet, "/api/session", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionRequiresToken(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/session", nil, "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFingerprintStatusEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/fingerprint-status", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/fingerprint-status?email=ghost@uni.edu", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["enrolled"])
}

func TestFingerprintLoginBeforeEnrollment(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/signup", gin.H{
		"email":    "bob@x.edu",
		"password": "longenough",
		"name":     "Bob",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/login/fingerprint", gin.H{"email": "bob@x.edu"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/login/fingerprint", gin.H{"email": "ghost@x.edu"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegistrationOptionsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/signup", gin.H{
		"email":    "alice@uni.edu",
		"password": "Sup3rSecret",
		"name":     "Alice",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/registration-options", gin.H{"userId": "USR-1001"})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["ceremonyId"])
	options := body["options"].(map[string]any)
	assert.NotEmpty(t, options["challenge"])

	w = doJSON(t, router, http.MethodPost, "/api/registration-options", gin.H{"userId": "USR-9999"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthenticationOptionsWithoutCredentials(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/signup", gin.H{
		"email":    "alice@uni.edu",
		"password": "Sup3rSecret",
		"name":     "Alice",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/authentication-options", gin.H{"email": "alice@uni.edu"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/authentication-options", gin.H{"email": "ghost@uni.edu"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifyRegistrationUnknownCeremony(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/signup", gin.H{
		"email":    "alice@uni.edu",
		"password": "Sup3rSecret",
		"name":     "Alice",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/verify-registration", gin.H{
		"userId":     "USR-1001",
		"ceremonyId": "no-such-ceremony",
		"credential": gin.H{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListUsersEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/signup", gin.H{
		"email":    "alice@uni.edu",
		"password": "Sup3rSecret",
		"name":     "Alice",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var users []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "alice@uni.edu", users[0]["email"])
	assert.NotContains(t, users[0], "passwordHash")
}

func TestAuthHistoryEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/signup", gin.H{
		"email":    "alice@uni.edu",
		"password": "Sup3rSecret",
		"name":     "Alice",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/login", gin.H{
		"email":    "alice@uni.edu",
		"password": "Sup3rSecret",
	})
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, router, http.MethodPost, "/api/login", gin.H{
		"email":    "alice@uni.edu",
		"password": "wrongwrong",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/auth-history?email=alice@uni.edu", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
}

type stubStore struct {
	mu      sync.Mutex
	objects []storage.ObjectInfo
	purged  []string
}

func (s *stubStore) PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) (string, error) {
	return "s3://" + bucket + "/" + key, nil
}

func (s *stubStore) ListObjects(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.ObjectInfo
	for _, obj := range s.objects {
		if strings.HasPrefix(obj.Key, prefix) {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (s *stubStore) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged = append(s.purged, prefix)
	return nil
}

func TestArchiveEndpointsWithoutStorage(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/archive/objects", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/archive/objects", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestArchiveObjectsEndpoint(t *testing.T) {
	now := time.Now().UTC()
	store := &stubStore{objects: []storage.ObjectInfo{
		{Key: "ceremony-artifacts/registration/2026/09/01/a.json", Size: 120, LastModified: &now},
		{Key: "ceremony-artifacts/authentication/2026/09/01/b.json", Size: 80},
	}}
	router, _ := newTestEnv(t, store)

	w := doJSON(t, router, http.MethodGet, "/api/archive/objects", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	body := decodeBody(t, w)
	assert.EqualValues(t, 2, body["count"])

	// narrowed to one artifact kind
	w = doJSON(t, router, http.MethodGet, "/api/archive/objects?kind=registration", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["count"])
}

func TestArchivePurgeEndpoint(t *testing.T) {
	store := &stubStore{}
	router, _ := newTestEnv(t, store)

	w := doJSON(t, router, http.MethodDelete, "/api/archive/objects?kind=registration", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	require.Len(t, store.purged, 1)
	assert.Equal(t, "ceremony-artifacts/registration", store.purged[0])
}

func TestVerifyRegistrationUnknownUser(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/verify-registration", gin.H{
		"userId":     "USR-9999",
		"ceremonyId": "whatever",
		"credential": gin.H{},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifyRegistrationStoreFailureIsNotSuccess(t *testing.T) {
	router, db := newTestEnv(t, nil)

	w := doJSON(t, router, http.MethodPost, "/api/signup", gin.H{
		"email":    "alice@uni.edu",
		"password": "Sup3rSecret",
		"name":     "Alice",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// once the store is gone the handler must fail loudly, never report a
	// registration success with the enrollment flag left unset
	require.NoError(t, db.Close())

	w = doJSON(t, router, http.MethodPost, "/api/verify-registration", gin.H{
		"userId":     "USR-1001",
		"ceremonyId": "whatever",
		"credential": gin.H{},
	})
	require.Equal(t, http.StatusInternalServerError, w.Code, "body: %s", w.Body.String())
	assert.NotEqual(t, true, decodeBody(t, w)["success"])
}

func TestRevokeCredentialEndpointValidation(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodDelete, "/api/credentials", gin.H{
		"userId":       "USR-1001",
		"credentialId": "bm8tc3VjaC1jcmVkZW50aWFs",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/credentials", gin.H{"userId": "USR-1001"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
