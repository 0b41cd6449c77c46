package httpserver

import (
	"net/http"
	"time"
)

// New builds the local status server. WriteTimeout stays zero because
// /session/events holds its response open for the life of the subscriber.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
