package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/plantify-account/internal/config"
	"github.com/plantify-account/internal/transport/http/handler"
	appmiddleware "github.com/plantify-account/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// OTP and reset endpoints send email or test secrets, so they are throttled per client.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)

	healthH := handler.NewHealthHandler()
	accountH := handler.NewAccountHandler(deps.Accounts, deps.Verification, deps.JWTProvider)
	pwH := handler.NewPasswordRecoveryHandler(deps.Recovery, deps.Policy, cfg.MaskUnknownEmail)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)

		r.Route("/account", func(r chi.Router) {
			r.With(sensitiveRL.Limit).Post("/register", accountH.Register)
			r.With(sensitiveRL.Limit).Post("/login", accountH.Login)
			r.With(sensitiveRL.Limit).Post("/verify-otp", accountH.VerifyOTP)
			r.With(sensitiveRL.Limit).Post("/resend-otp", accountH.ResendOTP)
			r.With(sensitiveRL.Limit).Post("/password-reset/{action}", pwH.Action)
			r.Post("/check-password-strength", pwH.CheckStrength)

			r.With(appmiddleware.Auth(deps.JWTProvider)).Get("/verification", accountH.VerificationStatus)
		})
	})

	return r
}
