// Package api exposes the advisory service over HTTP.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"kisan-backend/internal/auth"
	"kisan-backend/internal/config"
	"kisan-backend/internal/domain"
	"kisan-backend/internal/logging"
	"kisan-backend/internal/payments"
	"kisan-backend/internal/store"
	"kisan-backend/internal/weather"
)

// WeatherProvider returns current conditions for a location
type WeatherProvider interface {
	Current(ctx context.Context, q weather.Query) (domain.WeatherReading, error)
}

// Deps are the collaborators a Server needs
type Deps struct {
	Config   config.Config
	Store    *store.Store
	Issuer   *auth.Issuer
	Payments payments.Gateway
	Weather  WeatherProvider
	Logger   *zap.Logger
	Metrics  *Metrics
}

type Server struct {
	cfg      config.Config
	store    *store.Store
	issuer   *auth.Issuer
	payments payments.Gateway
	weather  WeatherProvider
	logger   *zap.Logger
	metrics  *Metrics
	limiter  *rateLimiter
	now      func() time.Time

	// post-payment automation
	automationDelay time.Duration
	background      sync.WaitGroup
}

func NewServer(d Deps) *Server {
	if d.Metrics == nil {
		d.Metrics = NewMetrics()
	}
	s := &Server{
		cfg:             d.Config,
		store:           d.Store,
		issuer:          d.Issuer,
		payments:        d.Payments,
		weather:         d.Weather,
		logger:          d.Logger,
		metrics:         d.Metrics,
		limiter:         newRateLimiter(d.Config.RateLimit.RPS, d.Config.RateLimit.Burst),
		now:             func() time.Time { return time.Now().UTC() },
		automationDelay: time.Second,
	}
	s.limiter.onReject = s.metrics.rateLimited.Inc
	return s
}

// Wait blocks until background automation has finished
func (s *Server) Wait() {
	s.background.Wait()
}

// Routes builds the HTTP handler
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORS.Origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Use(s.issuer.Middleware)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.With(auth.Required).Get("/me", s.handleMe)
			r.With(auth.Required).Put("/me", s.handleUpdateMe)
		})

		r.Get("/experts", s.handleListExperts)

		r.Route("/consultations", func(r chi.Router) {
			r.Use(auth.Required)
			r.With(auth.RequireRole(string(domain.RoleFarmer))).Post("/", s.handleCreateConsultation)
			r.Get("/", s.handleListConsultations)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetConsultation)
				r.Post("/auto-assign", s.handleAutoAssign)
				r.With(auth.RequireRole(string(domain.RoleAdmin))).Post("/assign", s.handleAssign)
				r.With(auth.RequireRole(string(domain.RoleExpert))).Post("/claim", s.handleClaim)
				r.Post("/start", s.handleStart)
				r.Post("/messages", s.handleAddMessage)
				r.Post("/diagnosis", s.handleSetDiagnosis)
				r.Post("/recommendations", s.handleAddRecommendation)
				r.Post("/resolve", s.handleResolve)
				r.Post("/rate", s.handleRate)
				r.Post("/cancel", s.handleCancel)
			})
		})

		r.Route("/forum/posts", func(r chi.Router) {
			r.Get("/", s.handleListPosts)
			r.With(auth.Required).Post("/", s.handleCreatePost)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetPost)
				r.With(auth.Required).Delete("/", s.handleDeletePost)
				r.With(auth.Required).Post("/replies", s.handleAddReply)
				r.With(auth.Required).Post("/like", s.handleLike)
				r.With(auth.Required).Delete("/like", s.handleUnlike)
			})
		})

		r.Route("/market", func(r chi.Router) {
			r.Get("/listings", s.handleListListings)
			r.With(auth.RequireRole(string(domain.RoleFarmer))).Post("/listings", s.handleCreateListing)
			r.Get("/listings/{id}", s.handleGetListing)
			r.With(auth.Required).Put("/listings/{id}", s.handleUpdateListing)
			r.With(auth.Required).Delete("/listings/{id}", s.handleWithdrawListing)
			r.With(auth.Required).Post("/listings/{id}/purchase", s.handlePurchase)
			r.With(auth.Required).Get("/orders", s.handleListOrders)
			r.With(auth.Required).Post("/orders/{id}/confirm", s.handleConfirmOrder)

			r.Get("/prices", s.handleListPrices)
			r.With(auth.RequireRole(string(domain.RoleExpert), string(domain.RoleAdmin))).Post("/prices", s.handleRecordPrice)
			r.Get("/trends", s.handleTrends)
		})

		r.Route("/schemes", func(r chi.Router) {
			r.Get("/", s.handleListSchemes)
			r.Get("/{slug}", s.handleGetScheme)
			r.With(auth.RequireRole(string(domain.RoleAdmin))).Put("/{slug}", s.handleUpsertScheme)
		})

		r.Route("/crops", func(r chi.Router) {
			r.Get("/", s.handleListCrops)
			r.Post("/recommend", s.handleRecommendCrops)
			r.Get("/{name}", s.handleGetCrop)
		})

		r.Route("/weather", func(r chi.Router) {
			r.Get("/current", s.handleCurrentWeather)
			r.With(auth.Required).Get("/alerts", s.handleWeatherAlerts)
			r.With(auth.Required).Get("/alerts/history", s.handleAlertHistory)
			r.With(auth.Required).Post("/alerts/{id}/ack", s.handleAckAlert)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(string(domain.RoleAdmin)))
			r.Get("/activity", s.handleActivity)
			r.Get("/stats", s.handleStats)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
