package httpserver

import (
	"net/http"
	"time"
)

// New builds the admin HTTP server. Timeouts are tight because the surface
// is health checks and metrics scrapes, nothing long-lived.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}
