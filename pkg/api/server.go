// Package api serves the read-only operator API: the live status published
// by the game loop and the records kept by the repository.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cbodonnell/tether/pkg/api/handlers"
	"github.com/cbodonnell/tether/pkg/api/middleware"
	authproviders "github.com/cbodonnell/tether/pkg/auth/providers"
	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/repositories"
	"github.com/cbodonnell/tether/pkg/state"
	"github.com/gorilla/mux"
)

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port          int
	TLS           *TLSConfig
	AuthProvider  authproviders.AuthProvider
	Repository    repositories.Repository
	StatusManager state.StatusManager
	// Admins may read the session, desync and ban records. Any
	// authenticated user may read the status.
	Admins []string
}

// NewAPIServer creates a new http.Server for handling API requests
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: NewRouter(opts),
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
	}
}

// NewRouter builds the API routes.
func NewRouter(opts NewAPIServerOptions) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.CORS)
	r.Use(middleware.NewAuthMiddleware(opts.AuthProvider))

	r.Handle("/status", handlers.HandleGetStatus(opts.StatusManager)).Methods(http.MethodGet, http.MethodOptions)

	admin := r.NewRoute().Subrouter()
	admin.Use(middleware.NewAdminMiddleware(opts.Admins))
	admin.Handle("/sessions", handlers.HandleListSessions(opts.Repository)).Methods(http.MethodGet, http.MethodOptions)
	admin.Handle("/desyncs", handlers.HandleListDesyncs(opts.Repository)).Methods(http.MethodGet, http.MethodOptions)
	admin.Handle("/bans", handlers.HandleListBans(opts.Repository)).Methods(http.MethodGet, http.MethodOptions)
	return r
}

// Start serves until Stop is called.
func (s *APIServer) Start() error {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return nil
		}
		return fmt.Errorf("API server error: %v", err)
	}
	return nil
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
