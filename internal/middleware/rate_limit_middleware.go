package middleware

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/qcom/otpverify/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

const (
	MsgTooManyOTPRequests    = "Too many OTP requests, please try again later"
	MsgTooManyVerifyAttempts = "Too many verification attempts, please try again later"
)

// RateLimitRule bounds requests per client IP within a named bucket.
type RateLimitRule struct {
	Bucket  string
	Limit   int
	Window  time.Duration
	Message string
}

// RateLimit rejects requests over rule with 429. Backend errors and unknown
// client addresses let the request through.
func RateLimit(limiter ratelimit.Limiter, rule RateLimitRule, logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if ip == "" || limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Take(r.Context(), rule.Bucket+":"+ip, rule.Limit, rule.Window)
			if err != nil {
				logger.WithError(err).WithField("bucket", rule.Bucket).Warn("Rate limiter unavailable, allowing request")
				allowed = true
			}
			if !allowed {
				logger.WithFields(logrus.Fields{
					"bucket": rule.Bucket,
					"ip":     ip,
				}).Warn("Request rate limited")
				respondWithError(w, http.StatusTooManyRequests, rule.Message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the peer address of r without its port.
func ClientIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
