package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/edgeflare/crudrouter/pkg/httputil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

func fakeIntrospection(calls *atomic.Int32) introspectFunc {
	return func(ctx context.Context, token string) (*oidc.IntrospectionResponse, error) {
		calls.Add(1)
		switch token {
		case "good":
			return &oidc.IntrospectionResponse{Active: true, Subject: "user-1"}, nil
		case "inactive":
			return &oidc.IntrospectionResponse{Active: false}, nil
		default:
			return nil, errors.New("introspection failed")
		}
	}
}

func TestNewOIDCProviderRequiresConfig(t *testing.T) {
	_, err := NewOIDCProvider(context.Background(), OIDCProviderConfig{Issuer: "https://issuer.example.com"})
	assert.Error(t, err)
}

func TestVerifyOIDCToken(t *testing.T) {
	tests := []struct {
		name           string
		authHeader     string
		send401        bool
		expectedStatus int
		expectedUser   string
	}{
		{name: "missing header", send401: true, expectedStatus: http.StatusUnauthorized},
		{name: "missing header passthrough", send401: false, expectedStatus: http.StatusOK},
		{name: "basic scheme", authHeader: "Basic dXNlcjpwYXNz", send401: true, expectedStatus: http.StatusUnauthorized},
		{name: "basic scheme passthrough", authHeader: "Basic dXNlcjpwYXNz", send401: false, expectedStatus: http.StatusOK},
		{name: "valid token", authHeader: "Bearer good", send401: true, expectedStatus: http.StatusOK, expectedUser: "user-1"},
		{name: "lowercase scheme", authHeader: "bearer good", send401: true, expectedStatus: http.StatusOK, expectedUser: "user-1"},
		{name: "inactive token", authHeader: "Bearer inactive", send401: true, expectedStatus: http.StatusUnauthorized},
		{name: "invalid token", authHeader: "Bearer bad", send401: false, expectedStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			provider := newOIDCProvider(fakeIntrospection(&calls), 0)

			handler := provider.VerifyOIDCToken(tt.send401)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.expectedUser != "" {
					user, ok := httputil.OIDCUser(r)
					require.True(t, ok)
					assert.Equal(t, tt.expectedUser, user.Subject)
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}

func TestVerifyOIDCTokenCachesActiveTokens(t *testing.T) {
	var calls atomic.Int32
	provider := newOIDCProvider(fakeIntrospection(&calls), 0)
	handler := provider.VerifyOIDCToken()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	}
	assert.Equal(t, int32(1), calls.Load())

	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer inactive")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, int32(3), calls.Load(), "inactive tokens are not cached")
}
