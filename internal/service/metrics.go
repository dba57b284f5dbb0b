package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	otpRequestsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "otp",
			Name:      "requests_total",
			Help:      "OTP requests by outcome.",
		},
		[]string{"outcome"}, // issued, resent, pending, invalid_input, rate_limited, error
	)

	otpVerificationsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "otp",
			Name:      "verifications_total",
			Help:      "OTP verifications by result.",
		},
		[]string{"result"},
	)
)
