package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sharetribe/ftw-time/internal/auth"
	"github.com/sharetribe/ftw-time/internal/config"
	"github.com/sharetribe/ftw-time/internal/metrics"
)

// SetupRoutes configures all routes. authManager and health may be nil.
func SetupRoutes(cfg config.ServerConfig, h *Handlers, authManager *auth.AuthManager, health *HealthChecker) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// CORS - the web app sends the marketplace token cookie
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/health/live", health.HandleLiveness)
		r.Get("/health/ready", health.HandleReadiness)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		})
	}
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(transitBody)

		r.Get("/me", h.GetMe)

		// Zoom account linking
		r.Get("/zoomInfo", h.GetZoomInfo)
		r.Post("/zoomDisconnect", h.DisconnectZoom)
		r.Get("/zoom/connect", h.ConnectZoom)
		r.Get("/zoom/authorize", h.AuthorizeZoom)

		r.Post("/appointment/accept", h.AcceptAppointment)

		// Pricing and privileged transitions
		r.Post("/transaction-line-items", h.TransactionLineItems)
		r.Post("/initiate-privileged", h.InitiatePrivileged)
		r.Post("/transition-privileged", h.TransitionPrivileged)

		r.Get("/inbox/{tab}", h.GetInbox)

		if authManager != nil {
			r.Get("/initiate-login-as", authManager.HandleInitiateLoginAs)
			r.Get("/login-as", authManager.HandleLoginAs)

			r.Post("/auth/create-user-with-idp", authManager.HandleCreateUserWithIdp)
			r.Get("/auth/facebook", authManager.HandleLogin("facebook"))
			r.Get("/auth/facebook/callback", authManager.HandleCallback("facebook"))
			r.Get("/auth/google", authManager.HandleLogin("google"))
			r.Get("/auth/google/callback", authManager.HandleCallback("google"))
		}
	})

	return r
}
