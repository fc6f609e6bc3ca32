package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/podrec/backend/internal/models"
	"github.com/podrec/backend/pkg/response"
)

type fakeUserStore struct {
	users map[string]*models.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*models.User)}
}

func (s *fakeUserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	u, ok := s.users[email]
	if !ok {
		return nil, errors.New("no rows")
	}
	return u, nil
}

func (s *fakeUserStore) Create(_ context.Context, email, passwordHash string) (*models.User, error) {
	u := &models.User{ID: uuid.New(), Email: email, Password: passwordHash}
	s.users[email] = u
	return u, nil
}

func setupRouter(store UserStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(store, NewJWTService("test-secret", 24), zap.NewNop())
	r := gin.New()
	r.POST("/api/auth/register", h.Register)
	r.POST("/api/auth/login", h.Login)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterAndLogin(t *testing.T) {
	store := newFakeUserStore()
	r := setupRouter(store)

	w := postJSON(t, r, "/api/auth/register", gin.H{"email": "host@example.com", "password": "secret1"})
	require.Equal(t, http.StatusCreated, w.Code)

	var body response.Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)

	// The stored password is a hash, never the plaintext.
	u := store.users["host@example.com"]
	require.NotNil(t, u)
	assert.NotEqual(t, "secret1", u.Password)
	assert.True(t, CheckPassword("secret1", u.Password))

	w = postJSON(t, r, "/api/auth/login", gin.H{"email": "host@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, r, "/api/auth/login", gin.H{"email": "host@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJSON(t, r, "/api/auth/login", gin.H{"email": "nobody@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterValidation(t *testing.T) {
	r := setupRouter(newFakeUserStore())

	w := postJSON(t, r, "/api/auth/register", gin.H{"email": "not-an-email", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, r, "/api/auth/register", gin.H{"email": "host@example.com", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	store := newFakeUserStore()
	r := setupRouter(store)

	w := postJSON(t, r, "/api/auth/register", gin.H{"email": "host@example.com", "password": "secret1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = postJSON(t, r, "/api/auth/register", gin.H{"email": "host@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", 24)
	userID := uuid.New()

	token, err := svc.Generate(userID, "host@example.com")
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "host@example.com", claims.Email)

	_, err = NewJWTService("other-secret", 24).Validate(token)
	assert.Error(t, err)
}
