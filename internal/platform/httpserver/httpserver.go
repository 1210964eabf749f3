package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with sane defaults for this project. There is no
// WriteTimeout: WebSocket sessions are long-lived and manage their own write
// deadlines.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
