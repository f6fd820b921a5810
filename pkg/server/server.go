package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/octoit/octoit/pkg/common"
	"github.com/octoit/octoit/pkg/integration"
	"github.com/octoit/octoit/pkg/log"
	"github.com/octoit/octoit/pkg/types"
)

const authTokenCookie = "auth_token"

type contextKey string

const emailContextKey contextKey = "email"

// tokenVerifier is a function that validates a Google or Apple ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// EntryManager is the config entry lifecycle used by the API.
type EntryManager interface {
	Entries() []integration.EntryStatus
	Create(ctx context.Context, email, password string) (types.Entry, error)
	Delete(ctx context.Context, entryID string) error
	Reload(ctx context.Context, entryID string) error
	SetEntityEnabled(ctx context.Context, uniqueID string, enabled bool) error
	PublicProducts() *types.PublicProducts
}

// EntityReader exposes published entity states.
type EntityReader interface {
	Get(uniqueID string) (types.Entity, bool)
	List(entryID string) []types.Entity
}

// Controls executes control actions on entities.
type Controls interface {
	SetSwitch(ctx context.Context, uniqueID string, on bool) error
	SetNumber(ctx context.Context, uniqueID string, value float64) error
	SelectOption(ctx context.Context, uniqueID, option string) error
	SetDevicePreferences(ctx context.Context, deviceID string, targetPercentage float64, targetTime string) error
}

// Server exposes config entries, entities and controls over HTTP.
type Server struct {
	manager  EntryManager
	entities EntityReader
	controls Controls
	metrics  http.Handler

	listenAddr string
	httpServer *http.Server

	adminEmails   []string
	oidcAudiences map[string]string
	oidcVerifiers map[string]tokenVerifier
	bypassAuth    bool
	serverName    string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(manager EntryManager, entities EntityReader, controls Controls, metrics http.Handler) *Server {
	srv := &Server{
		manager:    manager,
		entities:   entities,
		controls:   controls,
		metrics:    metrics,
		serverName: "octoit/" + common.Version(),
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to use the API")
	oidcAudiences := map[string]string{}
	lflag.JSON(&oidcAudiences, "oidc-audiences", oidcAudiences, "JSON map of provider (google/apple) to audience/client ID")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *adminEmails != "" {
			for _, email := range strings.Split(*adminEmails, ",") {
				if email = strings.TrimSpace(email); email != "" {
					srv.adminEmails = append(srv.adminEmails, email)
				}
			}
		}
		if len(oidcAudiences) > 0 {
			srv.oidcAudiences = make(map[string]string, len(oidcAudiences))
			srv.oidcVerifiers = make(map[string]tokenVerifier, len(oidcAudiences))
			for n, a := range oidcAudiences {
				var issuer string
				switch n {
				case "google":
					issuer = "https://accounts.google.com"
				case "apple":
					issuer = "https://appleid.apple.com"
				default:
					log.Ctx(context.Background()).Error("unsupported oidc audience client", slog.String("client", n))
					os.Exit(1)
				}
				provider, err := oidc.NewProvider(context.Background(), issuer)
				if err != nil {
					log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("client", n), slog.Any("error", err))
					os.Exit(1)
				}
				srv.oidcVerifiers[n] = provider.Verifier(&oidc.Config{ClientID: a}).Verify
				srv.oidcAudiences[n] = a
			}
		} else {
			log.Ctx(context.Background()).Warn("no oidc-audiences configured, API authentication is disabled")
			srv.bypassAuth = true
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)
	apiMux.HandleFunc("POST /api/auth/login", s.handleLogin)
	apiMux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	apiMux.HandleFunc("GET /api/entries", s.handleListEntries)
	apiMux.HandleFunc("POST /api/entries", s.handleCreateEntry)
	apiMux.HandleFunc("DELETE /api/entries/{id}", s.handleDeleteEntry)
	apiMux.HandleFunc("POST /api/entries/{id}/reload", s.handleReloadEntry)

	apiMux.HandleFunc("GET /api/entities", s.handleListEntities)
	apiMux.HandleFunc("GET /api/entities/{id}", s.handleGetEntity)
	apiMux.HandleFunc("POST /api/entities/{id}/enable", s.handleSetEntityEnabled(true))
	apiMux.HandleFunc("POST /api/entities/{id}/disable", s.handleSetEntityEnabled(false))

	apiMux.HandleFunc("POST /api/switch/{id}/turn_on", s.handleSwitch(true))
	apiMux.HandleFunc("POST /api/switch/{id}/turn_off", s.handleSwitch(false))
	apiMux.HandleFunc("POST /api/number/{id}/set", s.handleSetNumber)
	apiMux.HandleFunc("POST /api/select/{id}/select", s.handleSelectOption)
	apiMux.HandleFunc("POST /api/services/set_device_preferences", s.handleSetDevicePreferences)

	apiMux.HandleFunc("GET /api/tariffs/public", s.handlePublicTariffs)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, struct {
		Error string `json:"error"`
	}{Error: msg})
}

// decodeBody reads a JSON request body into dst. It writes the error
// response itself and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to decode request body", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
