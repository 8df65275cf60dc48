package crudrouter

import (
	"net/http"

	"github.com/edgeflare/crudrouter/pkg/config"
	"github.com/edgeflare/crudrouter/pkg/httputil"
)

type healthResponse struct {
	Status    string `json:"status"`
	Backend   string `json:"backend"`
	Version   string `json:"version"`
	RequestID string `json:"request_id,omitempty"`
}

// healthHandler reports liveness along with the backend driver and request id.
func healthHandler(driver string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, healthResponse{
			Status:    "ok",
			Backend:   driver,
			Version:   config.Version,
			RequestID: httputil.RequestID(r),
		})
	})
}
