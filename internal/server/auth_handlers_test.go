package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"framez/internal/middleware"
	"framez/internal/models"
	"framez/internal/repository"
	"framez/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// MockUserRepository is a mock of the UserRepository interface
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	args := m.Called(ctx, id, displayName)
	return args.Error(0)
}

func newAuthHandlerApp(repo repository.UserRepository) (*fiber.App, *service.AuthService) {
	auth := service.NewAuthService(repo, testSecret)
	s := &Server{authService: auth}

	app := fiber.New()
	app.Post("/signup", s.Signup)
	app.Post("/login", s.Login)
	app.Get("/me", middleware.AuthRequired(auth), s.Me)
	app.Patch("/profile", middleware.AuthRequired(auth), s.UpdateProfile)
	return app, auth
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestSignup(t *testing.T) {
	tests := []struct {
		name           string
		body           map[string]string
		mockSetup      func(m *MockUserRepository)
		expectedStatus int
		expectedCode   string
	}{
		{
			name: "Success",
			body: map[string]string{"email": "test@example.com", "password": "Password123", "displayName": "Tess"},
			mockSetup: func(m *MockUserRepository) {
				m.On("Create", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
					return u.Email == "test@example.com" && u.PasswordHash != "" && u.Name() == "Tess"
				})).Return(nil)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "Duplicate User",
			body: map[string]string{"email": "exists@example.com", "password": "Password123"},
			mockSetup: func(m *MockUserRepository) {
				m.On("Create", mock.Anything, mock.Anything).Return(repository.ErrDuplicateEmail)
			},
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   models.CodeAuth,
		},
		{
			name:           "Missing Fields",
			body:           map[string]string{"email": "", "password": ""},
			mockSetup:      func(*MockUserRepository) {},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.CodeValidation,
		},
		{
			name: "Store Failure",
			body: map[string]string{"email": "down@example.com", "password": "Password123"},
			mockSetup: func(m *MockUserRepository) {
				m.On("Create", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   models.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockUserRepository)
			tt.mockSetup(mockRepo)
			app, _ := newAuthHandlerApp(mockRepo)

			resp := postJSON(t, app, "/signup", tt.body)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedCode != "" {
				var body models.ErrorResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, tt.expectedCode, body.Code)
			}
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestSignupRejectsMalformedBody(t *testing.T) {
	app, _ := newAuthHandlerApp(new(MockUserRepository))

	req := httptest.NewRequest(http.MethodPost, "/signup", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("Password123"), bcrypt.MinCost)
	require.NoError(t, err)
	stored := &models.User{ID: "u-1", Email: "test@example.com", PasswordHash: string(hash)}

	mockRepo := new(MockUserRepository)
	mockRepo.On("GetByEmail", mock.Anything, "test@example.com").Return(stored, nil)
	mockRepo.On("GetByEmail", mock.Anything, "nobody@example.com").Return(nil, nil)
	app, auth := newAuthHandlerApp(mockRepo)

	resp := postJSON(t, app, "/login", map[string]string{"email": "test@example.com", "password": "Password123"})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res service.AuthResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	uid, _, err := auth.VerifyToken(context.Background(), res.Token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", uid)

	for _, body := range []map[string]string{
		{"email": "test@example.com", "password": "wrong-password"},
		{"email": "nobody@example.com", "password": "Password123"},
	} {
		resp := postJSON(t, app, "/login", body)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		_ = resp.Body.Close()
	}
}

func TestMeAndUpdateProfile(t *testing.T) {
	name := "Tess"
	mockRepo := new(MockUserRepository)
	mockRepo.On("Create", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		args.Get(1).(*models.User).ID = "u-7"
	})
	mockRepo.On("UpdateDisplayName", mock.Anything, "u-7", "Tess").Return(nil)
	mockRepo.On("GetByID", mock.Anything, "u-7").Return(&models.User{ID: "u-7", Email: "t@example.com", DisplayName: &name}, nil)
	app, _ := newAuthHandlerApp(mockRepo)

	resp := postJSON(t, app, "/signup", map[string]string{"email": "t@example.com", "password": "Password123"})
	var res service.AuthResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	_ = resp.Body.Close()

	req := httptest.NewRequest(http.MethodPatch, "/profile", bytes.NewBufferString(`{"displayName":"Tess"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+res.Token)
	presp, err := app.Test(req)
	require.NoError(t, err)
	defer func() { _ = presp.Body.Close() }()
	assert.Equal(t, http.StatusOK, presp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+res.Token)
	mresp, err := app.Test(req)
	require.NoError(t, err)
	defer func() { _ = mresp.Body.Close() }()
	require.Equal(t, http.StatusOK, mresp.StatusCode)
	var user models.User
	require.NoError(t, json.NewDecoder(mresp.Body).Decode(&user))
	assert.Equal(t, "Tess", user.Name())

	mockRepo.AssertExpectations(t)
}
