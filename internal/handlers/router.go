package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qcom/otpverify/internal/config"
	"github.com/qcom/otpverify/internal/middleware"
	"github.com/qcom/otpverify/internal/ratelimit"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

type RouterDeps struct {
	Handlers *OTPHandlers
	// Limiter backs the per-IP limits. Nil disables them.
	Limiter   ratelimit.Limiter
	RateLimit config.RateLimitConfig
	// Verification guards the token routes. Nil leaves them unregistered.
	Verification   *middleware.VerificationMiddleware
	AllowedOrigins []string
	Logger         *logrus.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(NotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(MethodNotAllowed)

	router.Use(middleware.Recover(deps.Logger))
	router.Use(middleware.LoggingMiddleware(deps.Logger))

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", deps.Handlers.Health).Methods(http.MethodGet)

	sendLimit := middleware.RateLimit(deps.Limiter, middleware.RateLimitRule{
		Bucket:  "send-otp",
		Limit:   deps.RateLimit.SendPerIP,
		Window:  deps.RateLimit.IPWindow,
		Message: middleware.MsgTooManyOTPRequests,
	}, deps.Logger)
	api.Handle("/send-otp", sendLimit(http.HandlerFunc(deps.Handlers.SendOTP))).Methods(http.MethodPost)

	verifyLimit := middleware.RateLimit(deps.Limiter, middleware.RateLimitRule{
		Bucket:  "verify-otp",
		Limit:   deps.RateLimit.VerifyPerIP,
		Window:  deps.RateLimit.IPWindow,
		Message: middleware.MsgTooManyVerifyAttempts,
	}, deps.Logger)
	api.Handle("/verify-otp", verifyLimit(http.HandlerFunc(deps.Handlers.VerifyOTP))).Methods(http.MethodPost)

	if deps.Verification != nil {
		protected := api.PathPrefix("/verification").Subrouter()
		protected.Use(deps.Verification.RequireVerification)
		protected.HandleFunc("/status", deps.Handlers.VerificationStatus).Methods(http.MethodGet)
		protected.HandleFunc("/deliveries", deps.Handlers.DeliveryReports).Methods(http.MethodGet)
	}

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	return c.Handler(router)
}
