package web

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaydir/internal/shared/logger"
	"relaydir/internal/shared/types"
)

// basicAuthMiddleware enforces HTTP Basic Authentication when both user and
// password are configured; otherwise it passes requests through untouched.
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// accessLogMiddleware tags every request with an id and logs it on completion.
func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)
		start := time.Now()
		next.ServeHTTP(w, r)
		l := logger.WithComponent("Web/Server")
		l.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled.")
	})
}

// NewMux wires the API routes. Split out from StartServer so tests can drive
// the full routing table through httptest.
func NewMux(cfg *types.Config, handler *Handler, hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()

	webUser := cfg.WebConf.WebUser
	webPassword := cfg.WebConf.WebPassword

	mux.Handle("/api/servers", basicAuthMiddleware(http.HandlerFunc(handler.HandleServers), webUser, webPassword))
	mux.Handle("/api/profile/export", basicAuthMiddleware(http.HandlerFunc(handler.HandleProfileExport), webUser, webPassword))
	mux.Handle("/api/favorites", basicAuthMiddleware(http.HandlerFunc(handler.HandleFavorites), webUser, webPassword))
	mux.Handle("/api/favorites/", basicAuthMiddleware(http.HandlerFunc(handler.HandleFavoriteActions), webUser, webPassword))

	// Public endpoints.
	mux.HandleFunc("/api/status", handler.HandleStatus)
	if hub != nil {
		mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			ServeWs(hub, w, r)
		})
	}

	return mux
}

// StartServer starts the HTTP API in a background goroutine. A web_port of 0
// disables the API entirely.
func StartServer(wg *sync.WaitGroup, cfg *types.Config, handler *Handler, hub *Hub) {
	if cfg.WebConf.WebPort <= 0 {
		logger.Info().Msg("[WebServer] API is disabled (web_port is 0 or not set).")
		return
	}

	mux := NewMux(cfg, handler, hub)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.WebConf.WebPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error().Err(err).Str("addr", addr).Msg("FAILED to start API listener.")
		return
	}

	logger.Info().Msgf("API is listening on http://%s", addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := http.Serve(listener, accessLogMiddleware(mux)); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Web server error.")
		}
		logger.Info().Msg("Web server stopped.")
	}()
}
