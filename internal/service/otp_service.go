package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/qcom/otpverify/internal/clock"
	"github.com/qcom/otpverify/internal/config"
	"github.com/qcom/otpverify/internal/delivery"
	"github.com/qcom/otpverify/internal/models"
	"github.com/qcom/otpverify/internal/store"
	"github.com/qcom/otpverify/internal/validation"
	"github.com/sirupsen/logrus"
)

// secondsPerQueuedJob approximates how long each job ahead in the queue takes to deliver.
const secondsPerQueuedJob = 2

type OTPStore interface {
	GetOrCreate(phoneNumber string, generate store.Generator, ttl time.Duration) (models.OTPRecord, bool, error)
	Verify(phoneNumber, suppliedCode string, maxAttempts int) store.VerifyResult
}

type RateLimiter interface {
	Allow(key string, window time.Duration, maxRequests int) bool
}

type DeliveryQueue interface {
	Enqueue(phoneNumber, code string) (*delivery.Job, int, error)
	Position(phoneNumber string) int
}

type TokenIssuer interface {
	Issue(phoneNumber string) (*models.VerificationToken, error)
}

type RequestResult struct {
	Message              string
	Code                 string
	QueuePosition        int
	EstimatedWaitSeconds int
	ExpiresInSeconds     int
	ResendAfterSeconds   int
	IsNew                bool
	Resent               bool
}

type VerifyResult struct {
	Message string
	Token   *models.VerificationToken
}

type Option func(*OTPService)

func WithTokenIssuer(t TokenIssuer) Option {
	return func(s *OTPService) { s.tokens = t }
}

func WithClock(c clock.Clocker) Option {
	return func(s *OTPService) { s.clock = c }
}

func WithGenerator(g store.Generator) Option {
	return func(s *OTPService) { s.generate = g }
}

// OTPService orchestrates issuing, delivering and verifying passcodes.
type OTPService struct {
	store     OTPStore
	limiter   RateLimiter
	queue     DeliveryQueue
	validator *validation.Validator
	tokens    TokenIssuer
	cfg       *config.OTPConfig
	rlCfg     *config.RateLimitConfig
	clock     clock.Clocker
	generate  store.Generator
	logger    *logrus.Logger
}

func NewOTPService(
	otpStore OTPStore,
	limiter RateLimiter,
	queue DeliveryQueue,
	validator *validation.Validator,
	cfg *config.OTPConfig,
	rlCfg *config.RateLimitConfig,
	logger *logrus.Logger,
	opts ...Option,
) *OTPService {
	s := &OTPService{
		store:     otpStore,
		limiter:   limiter,
		queue:     queue,
		validator: validator,
		cfg:       cfg,
		rlCfg:     rlCfg,
		clock:     clock.New(),
		logger:    logger,
	}
	s.generate = func() (string, error) {
		return GenerateCode(s.cfg.Length)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestOTP issues a code for phoneNumber, or reuses the live one, and makes
// sure a delivery for it is queued.
func (s *OTPService) RequestOTP(ctx context.Context, phoneNumber string) (*RequestResult, error) {
	if !s.validator.Present(phoneNumber) {
		otpRequestsCounter.WithLabelValues("invalid_input").Inc()
		return nil, newError(KindInvalidInput, MsgPhoneRequired)
	}
	if !s.validator.PhoneNumber(phoneNumber) {
		otpRequestsCounter.WithLabelValues("invalid_input").Inc()
		return nil, newError(KindInvalidInput, MsgPhoneInvalid)
	}

	if !s.limiter.Allow(phoneNumber, s.rlCfg.PerNumberWindow, s.rlCfg.PerNumberLimit) {
		otpRequestsCounter.WithLabelValues("rate_limited").Inc()
		s.logger.WithField("phone", phoneNumber).Warn("OTP request rate limited")
		return nil, newError(KindRateLimited, MsgRateLimited)
	}

	record, isNew, err := s.store.GetOrCreate(phoneNumber, s.generate, s.cfg.Expiry)
	if err != nil {
		otpRequestsCounter.WithLabelValues("error").Inc()
		s.logger.WithError(err).WithField("phone", phoneNumber).Error("Failed to issue OTP")
		return nil, internalError(err)
	}

	// A live code whose delivery is still queued is not queued again.
	position := 0
	if !isNew {
		position = s.queue.Position(phoneNumber)
	}
	resent := false
	if position == 0 {
		if _, position, err = s.queue.Enqueue(phoneNumber, record.Code); err != nil {
			otpRequestsCounter.WithLabelValues("error").Inc()
			s.logger.WithError(err).WithField("phone", phoneNumber).Error("Failed to queue OTP delivery")
			return nil, internalError(err)
		}
		resent = !isNew
	}

	var message string
	switch {
	case isNew:
		message = fmt.Sprintf("OTP queued for delivery. Position: %d", position)
		otpRequestsCounter.WithLabelValues("issued").Inc()
	case resent:
		message = fmt.Sprintf("OTP resent. Position: %d", position)
		otpRequestsCounter.WithLabelValues("resent").Inc()
	default:
		message = MsgAlreadySent
		otpRequestsCounter.WithLabelValues("pending").Inc()
	}

	result := &RequestResult{
		Message:              message,
		QueuePosition:        position,
		EstimatedWaitSeconds: position * secondsPerQueuedJob,
		ExpiresInSeconds:     record.ExpiresIn(s.clock.Now()),
		ResendAfterSeconds:   int(s.cfg.ResendCooldown / time.Second),
		IsNew:                isNew,
		Resent:               resent,
	}
	if s.cfg.DevMode {
		result.Code = record.Code
		s.logger.WithFields(logrus.Fields{
			"phone": phoneNumber,
			"otp":   record.Code,
		}).Debug("OTP issued (logged in development mode)")
	}

	s.logger.WithFields(logrus.Fields{
		"phone":    phoneNumber,
		"new":      isNew,
		"position": position,
	}).Info("OTP requested")

	return result, nil
}

// VerifyOTP checks code against the live record for phoneNumber.
func (s *OTPService) VerifyOTP(ctx context.Context, phoneNumber, code string) (*VerifyResult, error) {
	if !s.validator.Present(phoneNumber) || !s.validator.Present(code) {
		return nil, newError(KindInvalidInput, MsgVerifyFieldsMissing)
	}
	if !s.validator.PhoneNumber(phoneNumber) {
		return nil, newError(KindInvalidInput, MsgVerifyPhoneInvalid)
	}
	if !s.validator.Code(code) {
		return nil, newError(KindInvalidInput, fmt.Sprintf("OTP must be %d digits", s.validator.CodeLength()))
	}

	outcome := s.store.Verify(phoneNumber, code, s.cfg.MaxAttempts)
	otpVerificationsCounter.WithLabelValues(outcome.String()).Inc()

	logger := s.logger.WithFields(logrus.Fields{
		"phone":  phoneNumber,
		"result": outcome.String(),
	})

	switch outcome {
	case store.VerifySuccess:
		logger.Info("OTP verified")
	case store.VerifyNotFound:
		return nil, newError(KindNotFound, MsgNotFound)
	case store.VerifyExpired:
		return nil, newError(KindExpired, MsgExpired)
	case store.VerifyTooManyAttempts:
		logger.Warn("OTP locked after too many attempts")
		return nil, newError(KindTooManyAttempts, MsgTooManyAttempts)
	default:
		return nil, newError(KindInvalidCode, MsgInvalidCode)
	}

	result := &VerifyResult{Message: MsgVerified}
	if s.tokens != nil {
		token, err := s.tokens.Issue(phoneNumber)
		if err != nil {
			// The code is already consumed; report success without a token.
			logger.WithError(err).Error("Failed to issue verification token")
		} else {
			result.Token = token
		}
	}

	return result, nil
}

// GenerateCode returns length random decimal digits from crypto/rand.
func GenerateCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + num.Int64())
	}
	return string(digits), nil
}
