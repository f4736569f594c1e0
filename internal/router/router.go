package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sae-pos/api/internal/config"
	"github.com/sae-pos/api/internal/handler"
	mw "github.com/sae-pos/api/internal/middleware"
	"github.com/sae-pos/api/internal/session"
	"github.com/sae-pos/api/internal/store"
	"github.com/sae-pos/api/internal/stream"
	"github.com/sae-pos/api/internal/ws"
)

// New creates a Chi router with all application routes wired up.
// Applies authentication and restaurant scoping middleware as needed.
func New(cfg *config.Config, st *store.Postgres, sessions *session.Manager, bus *stream.Bus, hub *ws.Hub) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})

	// Auth routes (public)
	authHandler := handler.NewAuthHandler(st, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	// Order intake (public: the customer-facing ordering surface posts here)
	intakeHandler := handler.NewIntakeHandler(st, bus)
	intakeHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/restaurants/{rid}/orders", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		// Restaurant-scoped back-office routes
		r.Route("/restaurants/{rid}", func(r chi.Router) {
			r.Use(mw.RequireRestaurant)

			orderHandler := handler.NewOrderHandler(sessions, st, hub)
			orderHandler.RegisterRoutes(r)
		})
	})

	return r
}
