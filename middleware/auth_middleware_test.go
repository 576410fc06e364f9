package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Claims), args.Error(1)
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid JWT in Authorization header allows request", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		claims := &Claims{Sub: "user-123", Email: "user@example.com", Role: "user"}
		mockValidator.On("ValidateToken", mock.Anything, "valid-token").Return(claims, nil)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			extracted := GetClaimsFromContext(r.Context())
			assert.NotNil(t, extracted)
			assert.Equal(t, claims.Sub, extracted.Sub)
			assert.Equal(t, "user-123", GetIdentityFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("valid JWT in cookie allows request", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		claims := &Claims{Sub: "user-456"}
		mockValidator.On("ValidateToken", mock.Anything, "cookie-token-value").Return(claims, nil)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.AddCookie(&http.Cookie{Name: "auth_token", Value: "cookie-token-value"})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("missing token returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockValidator.AssertNotCalled(t, "ValidateToken")
	})

	t.Run("invalid token returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		mockValidator.On("ValidateToken", mock.Anything, "invalid-token").
			Return(nil, errors.New("token validation failed"))

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer invalid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("claims already attached skip validation", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req = req.WithContext(WithClaims(req.Context(), &Claims{Sub: "pre"}))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertNotCalled(t, "ValidateToken")
	})
}

func TestIdentify(t *testing.T) {
	logger := zap.NewNop()

	t.Run("attaches claims for valid token", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		mockValidator.On("ValidateToken", mock.Anything, "good").Return(&Claims{Sub: "user-9"}, nil)

		var identity string
		handler := NewAuthMiddleware(mockValidator, logger).Identify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity = GetIdentityFromContext(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer good")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, "user-9", identity)
	})

	t.Run("invalid token passes through anonymously", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		mockValidator.On("ValidateToken", mock.Anything, "bad").Return(nil, errors.New("expired"))

		called := false
		handler := NewAuthMiddleware(mockValidator, logger).Identify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			assert.Empty(t, GetIdentityFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer bad")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.True(t, called)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("no token skips validator", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		handler := NewAuthMiddleware(mockValidator, logger).Identify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
		mockValidator.AssertNotCalled(t, "ValidateToken")
	})
}

func TestRequireRole(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name         string
		claims       *Claims
		expectedCode int
	}{
		{"user has required role", &Claims{Sub: "user-123", Role: "admin"}, http.StatusOK},
		{"user does not have required role", &Claims{Sub: "user-123", Role: "user"}, http.StatusForbidden},
		{"missing claims in context", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			middleware := NewAuthMiddleware(new(MockTokenValidator), logger)
			handler := middleware.RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedCode, w.Code)
		})
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name          string
		authHeader    string
		cookieValue   string
		expectedToken string
	}{
		{name: "valid Bearer token in header", authHeader: "Bearer valid-token-123", expectedToken: "valid-token-123"},
		{name: "Bearer with lowercase", authHeader: "bearer valid-token-123", expectedToken: "valid-token-123"},
		{name: "token from auth_token cookie when no header", cookieValue: "cookie-token-value", expectedToken: "cookie-token-value"},
		{name: "Authorization header takes precedence over cookie", authHeader: "Bearer header-token", cookieValue: "cookie-token", expectedToken: "header-token"},
		{name: "missing both returns empty", expectedToken: ""},
		{name: "invalid header format - no space", authHeader: "Bearertoken", cookieValue: "cookie-token", expectedToken: "cookie-token"},
		{name: "wrong prefix falls back to cookie", authHeader: "Basic token", cookieValue: "cookie-token", expectedToken: "cookie-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			if tt.cookieValue != "" {
				req.AddCookie(&http.Cookie{Name: "auth_token", Value: tt.cookieValue})
			}

			assert.Equal(t, tt.expectedToken, extractToken(req))
		})
	}
}
