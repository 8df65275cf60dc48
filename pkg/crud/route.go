package crud

import (
	"net/http"

	"github.com/edgeflare/crudrouter/pkg/httputil"
)

// Host is where generated routes are mounted. *http.ServeMux and *httputil.Router satisfy it;
// patterns use the Go 1.22 "METHOD /path/{id}" form.
type Host interface {
	Handle(methodPattern string, handler http.Handler)
}

// RouteConfig enables, disables or protects one generated route.
type RouteConfig struct {
	disabled     bool
	dependencies []httputil.Middleware
}

// Enabled registers the route without extra middleware. It is the default for every route.
func Enabled() RouteConfig { return RouteConfig{} }

// Disabled leaves the route unregistered.
func Disabled() RouteConfig { return RouteConfig{disabled: true} }

// Protected registers the route behind deps, outermost first; e.g. an auth middleware that
// rejects the request before the handler runs.
func Protected(deps ...httputil.Middleware) RouteConfig {
	return RouteConfig{dependencies: deps}
}

// IsEnabled reports whether the route will be registered.
func (c RouteConfig) IsEnabled() bool { return !c.disabled }

// RouteInfo describes a registered route, for documentation and introspection.
type RouteInfo struct {
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	Operation    Operation `json:"operation"`
	ResponseType string    `json:"response_type"`
	Tags         []string  `json:"tags"`
	Protected    bool      `json:"protected"`
}
