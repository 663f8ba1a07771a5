package server

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/alliancemanager/apiserver/config"
	"github.com/alliancemanager/apiserver/internal/db"
	"github.com/alliancemanager/apiserver/internal/discord"
	"github.com/alliancemanager/apiserver/internal/handlers"
	"github.com/alliancemanager/apiserver/internal/pnw"
	"github.com/alliancemanager/apiserver/internal/secrets"
	"github.com/alliancemanager/apiserver/internal/services"
	"github.com/alliancemanager/apiserver/internal/store"
	"github.com/alliancemanager/apiserver/internal/token"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
}

// New constructs a Server with its full dependency graph. Both secrets are
// mandatory; there is no fallback signing key.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	encKey, err := hex.DecodeString(cfg.Auth.APIKeySecret)
	if err != nil || len(encKey) != secrets.KeySize {
		return nil, fmt.Errorf("API_KEY_SECRET must be %d hex-encoded bytes", secrets.KeySize)
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	box, err := secrets.NewBox(encKey)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	issuer, err := token.NewIssuer(cfg.Auth.JWTSecret)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	nationRepo := store.NewNationRepository(dbConn)
	directory := pnw.NewClient(cfg.PnW.APIURL)
	discordClient := discord.NewClient(cfg.Discord)

	userService := services.NewUserService(userRepo, nationRepo, directory, box)

	authHandler := handlers.NewAuthHandler(userService, issuer, discordClient)
	nationHandler := handlers.NewNationHandler(userService)
	requireAuth := handlers.RequireAuth(issuer)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler, requireAuth)
	})
	router.Route("/pnw", func(r chi.Router) {
		handlers.VerifyRouter(r, nationHandler, requireAuth)
	})
	router.Route("/user", func(r chi.Router) {
		handlers.NationRouter(r, nationHandler, requireAuth)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}
