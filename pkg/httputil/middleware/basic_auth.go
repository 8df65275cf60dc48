package middleware

import (
	"cmp"
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/edgeflare/crudrouter/pkg/httputil"
)

// BasicAuthConfig holds the username-password pairs for basic authentication.
type BasicAuthConfig struct {
	Credentials map[string]string
	Realm       string
}

// BasicAuthCreds creates a new instance of BasicAuthConfig with multiple username/password pairs.
func BasicAuthCreds(credentials map[string]string) *BasicAuthConfig {
	return &BasicAuthConfig{
		Credentials: credentials,
	}
}

// VerifyBasicAuth is a middleware function for basic authentication. On success the username
// is stored in the request context (see httputil.BasicAuthUser).
func VerifyBasicAuth(config *BasicAuthConfig) func(http.Handler) http.Handler {
	challenge := fmt.Sprintf("Basic realm=%q", cmp.Or(config.Realm, "Restricted"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				w.Header().Set("WWW-Authenticate", challenge)
				httputil.Error(w, http.StatusUnauthorized, "Authorization header missing")
				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "Invalid authorization format")
				return
			}

			validPassword, found := config.Credentials[username]
			if !found || subtle.ConstantTimeCompare([]byte(validPassword), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", challenge)
				httputil.Error(w, http.StatusUnauthorized, "Invalid credentials")
				return
			}

			ctx := context.WithValue(r.Context(), httputil.BasicAuthCtxKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
