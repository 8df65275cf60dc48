package middleware

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/edgeflare/crudrouter/pkg/httputil"
	"github.com/zitadel/oidc/v3/pkg/client/rs"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

const defaultIntrospectionTTL = 30 * time.Second

// OIDCProviderConfig holds the configuration for the OIDC provider
type OIDCProviderConfig struct {
	ClientID     string        `json:"client_id" mapstructure:"clientID"`
	ClientSecret string        `json:"client_secret" mapstructure:"clientSecret"`
	Issuer       string        `json:"issuer" mapstructure:"issuer"`
	CacheTTL     time.Duration `json:"cache_ttl" mapstructure:"cacheTTL"`
}

type introspectFunc func(ctx context.Context, token string) (*oidc.IntrospectionResponse, error)

// OIDCProvider verifies bearer tokens against an issuer's introspection endpoint. Active
// introspection results are cached per token for CacheTTL.
type OIDCProvider struct {
	introspect introspectFunc
	cache      *Cache[*oidc.IntrospectionResponse]
	ttl        time.Duration
}

// NewOIDCProvider discovers the issuer and returns a provider authenticated with the client
// credentials in cfg.
func NewOIDCProvider(ctx context.Context, cfg OIDCProviderConfig) (*OIDCProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.Issuer == "" {
		return nil, errors.New("missing required OIDC configuration")
	}

	server, err := rs.NewResourceServerClientCredentials(ctx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return nil, err
	}

	return newOIDCProvider(func(ctx context.Context, token string) (*oidc.IntrospectionResponse, error) {
		return rs.Introspect[*oidc.IntrospectionResponse](ctx, server, token)
	}, cfg.CacheTTL), nil
}

func newOIDCProvider(introspect introspectFunc, ttl time.Duration) *OIDCProvider {
	return &OIDCProvider{
		introspect: introspect,
		cache:      NewCache[*oidc.IntrospectionResponse](),
		ttl:        cmp.Or(ttl, defaultIntrospectionTTL),
	}
}

func (p *OIDCProvider) user(ctx context.Context, token string) (*oidc.IntrospectionResponse, bool) {
	if user, ok := p.cache.Get(token); ok {
		return user, true
	}
	user, err := p.introspect(ctx, token)
	if err != nil || user == nil || !user.Active {
		return nil, false
	}
	p.cache.Set(token, user, p.ttl)
	return user, true
}

// VerifyOIDCToken is middleware that verifies OIDC tokens in Authorization headers.
// By default, it sends a 401 Unauthorized response if the token is missing or invalid.
// If send401Unauthorized is false, it allows requests with other authorization schemes
// (e.g., Basic Auth) to continue without interference.
func (p *OIDCProvider) VerifyOIDCToken(send401Unauthorized ...bool) func(http.Handler) http.Handler {
	send401 := true
	if len(send401Unauthorized) > 0 {
		send401 = send401Unauthorized[0]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")

			if authHeader == "" {
				if send401 {
					httputil.Error(w, http.StatusUnauthorized, "Authorization header missing")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			scheme, token, _ := strings.Cut(authHeader, " ")
			if !strings.EqualFold(scheme, "bearer") || token == "" {
				if send401 {
					httputil.Error(w, http.StatusUnauthorized, "Invalid token format")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			user, ok := p.user(r.Context(), token)
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), httputil.OIDCUserCtxKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
