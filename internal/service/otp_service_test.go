package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/qcom/otpverify/internal/clock"
	"github.com/qcom/otpverify/internal/config"
	"github.com/qcom/otpverify/internal/delivery"
	"github.com/qcom/otpverify/internal/ratelimit"
	"github.com/qcom/otpverify/internal/store"
	"github.com/qcom/otpverify/internal/validation"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPhone = "9876543210"

type instantTransport struct{}

func (instantTransport) Name() string { return "instant" }

func (instantTransport) Send(context.Context, delivery.Message) (*delivery.Receipt, error) {
	return &delivery.Receipt{Provider: "instant"}, nil
}

type fixture struct {
	svc   *OTPService
	store *store.OTPStore
	queue *delivery.Queue
	clock *clock.Fake
	cfg   *config.Config
}

func newFixture(t *testing.T, startQueue bool, opts ...Option) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		OTP: config.OTPConfig{
			Length:         6,
			Expiry:         5 * time.Minute,
			MaxAttempts:    3,
			ResendCooldown: time.Minute,
			CountryCode:    "+91",
			DevMode:        true,
		},
		RateLimit: config.RateLimitConfig{
			PerNumberLimit:  3,
			PerNumberWindow: time.Minute,
		},
	}

	clk := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	otpStore := store.NewOTPStore(clk, logger)
	limiter := ratelimit.NewSlidingWindow(clk)
	queue := delivery.NewQueue(instantTransport{}, delivery.QueueConfig{Formatter: delivery.Formatter{CountryCode: "+91"}}, logger, delivery.WithClock(clk))
	if startQueue {
		queue.Start()
	}
	t.Cleanup(func() { _ = queue.Shutdown(context.Background()) })

	v, err := validation.New(cfg.OTP.Length)
	require.NoError(t, err)

	allOpts := append([]Option{WithClock(clk), WithGenerator(func() (string, error) { return "123456", nil })}, opts...)
	svc := NewOTPService(otpStore, limiter, queue, v, &cfg.OTP, &cfg.RateLimit, logger, allOpts...)

	return &fixture{svc: svc, store: otpStore, queue: queue, clock: clk, cfg: cfg}
}

func assertServiceError(t *testing.T, err error, kind Kind, message string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err))
	assert.Equal(t, message, MessageOf(err))
}

func TestRequestOTP_Validation(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.svc.RequestOTP(context.Background(), "")
	assertServiceError(t, err, KindInvalidInput, "Mobile number is required")

	for _, bad := range []string{"5876543210", "987654321", "98765432101", "98765x3210"} {
		_, err = f.svc.RequestOTP(context.Background(), bad)
		assertServiceError(t, err, KindInvalidInput, "Please enter a valid 10-digit mobile number")
	}
	assert.Equal(t, 0, f.queue.Len())
}

func TestRequestOTP_ExampleFlow(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.svc.RequestOTP(context.Background(), testPhone)
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, 1, res.QueuePosition)
	assert.Equal(t, 2, res.EstimatedWaitSeconds)
	assert.Equal(t, 300, res.ExpiresInSeconds)
	assert.Equal(t, 60, res.ResendAfterSeconds)
	assert.Equal(t, "123456", res.Code)
	assert.Equal(t, "OTP queued for delivery. Position: 1", res.Message)

	_, err = f.svc.VerifyOTP(context.Background(), testPhone, "000000")
	assertServiceError(t, err, KindInvalidCode, "Invalid OTP, please try again")

	verified, err := f.svc.VerifyOTP(context.Background(), testPhone, res.Code)
	require.NoError(t, err)
	assert.Equal(t, "Mobile number verified successfully", verified.Message)
	assert.Nil(t, verified.Token)

	_, err = f.svc.VerifyOTP(context.Background(), testPhone, res.Code)
	assertServiceError(t, err, KindNotFound, "No OTP found for this mobile number")
}

func TestRequestOTP_IdempotentWhileDeliveryPending(t *testing.T) {
	calls := 0
	f := newFixture(t, false, WithGenerator(func() (string, error) {
		calls++
		return []string{"111111", "222222"}[calls-1], nil
	}))

	first, err := f.svc.RequestOTP(context.Background(), testPhone)
	require.NoError(t, err)

	_, err = f.svc.VerifyOTP(context.Background(), testPhone, "999999")
	assertServiceError(t, err, KindInvalidCode, MsgInvalidCode)

	f.clock.Advance(10 * time.Second)
	second, err := f.svc.RequestOTP(context.Background(), testPhone)
	require.NoError(t, err)

	assert.Equal(t, first.Code, second.Code)
	assert.False(t, second.IsNew)
	assert.False(t, second.Resent)
	assert.Equal(t, MsgAlreadySent, second.Message)
	assert.Equal(t, 1, second.QueuePosition)
	assert.Equal(t, 290, second.ExpiresInSeconds)
	assert.Equal(t, 1, f.queue.Len())
	assert.Equal(t, 1, calls)

	// Attempts carried over: one more wrong code is Invalid, the next locks the record.
	record, ok := f.store.Get(testPhone)
	require.True(t, ok)
	assert.Equal(t, 1, record.Attempts)

	_, err = f.svc.VerifyOTP(context.Background(), testPhone, "999999")
	assertServiceError(t, err, KindInvalidCode, MsgInvalidCode)
	_, err = f.svc.VerifyOTP(context.Background(), testPhone, "999999")
	assertServiceError(t, err, KindTooManyAttempts, "Too many invalid attempts. Please request a new OTP")
	_, err = f.svc.VerifyOTP(context.Background(), testPhone, first.Code)
	assertServiceError(t, err, KindNotFound, MsgNotFound)
}

func TestRequestOTP_ResendsAfterDelivery(t *testing.T) {
	f := newFixture(t, true)

	first, err := f.svc.RequestOTP(context.Background(), testPhone)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.queue.Len() == 0 }, time.Second, 5*time.Millisecond)

	second, err := f.svc.RequestOTP(context.Background(), testPhone)
	require.NoError(t, err)
	assert.True(t, second.Resent)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, "OTP resent. Position: 1", second.Message)
}

func TestRequestOTP_RateLimitedPerNumber(t *testing.T) {
	f := newFixture(t, false)

	for i := 0; i < 3; i++ {
		_, err := f.svc.RequestOTP(context.Background(), testPhone)
		require.NoError(t, err)
	}

	_, err := f.svc.RequestOTP(context.Background(), testPhone)
	assertServiceError(t, err, KindRateLimited, "Too many requests from this number. Please wait a minute before trying again.")
	assert.True(t, errors.Is(err, ErrRateLimited))

	// Another number is unaffected.
	_, err = f.svc.RequestOTP(context.Background(), "9000000001")
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = f.svc.RequestOTP(context.Background(), testPhone)
	require.NoError(t, err)
}

func TestRequestOTP_DevModeOff(t *testing.T) {
	f := newFixture(t, false)
	f.cfg.OTP.DevMode = false

	res, err := f.svc.RequestOTP(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Empty(t, res.Code)
}

func TestRequestOTP_InternalErrors(t *testing.T) {
	f := newFixture(t, false, WithGenerator(func() (string, error) { return "", errors.New("no entropy") }))

	_, err := f.svc.RequestOTP(context.Background(), testPhone)
	assertServiceError(t, err, KindInternal, "Internal server error")

	g := newFixture(t, false)
	require.NoError(t, g.queue.Shutdown(context.Background()))
	_, err = g.svc.RequestOTP(context.Background(), testPhone)
	assertServiceError(t, err, KindInternal, "Internal server error")
	assert.ErrorIs(t, err, delivery.ErrQueueClosed)
}

func TestVerifyOTP_Validation(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		phone, code, want string
	}{
		{"", "123456", "Mobile number and OTP are required"},
		{testPhone, "", "Mobile number and OTP are required"},
		{"1234567890", "123456", "Invalid mobile number format"},
		{testPhone, "12345", "OTP must be 6 digits"},
		{testPhone, "12a456", "OTP must be 6 digits"},
	}

	for _, tt := range tests {
		_, err := f.svc.VerifyOTP(context.Background(), tt.phone, tt.code)
		assertServiceError(t, err, KindInvalidInput, tt.want)
	}
}

func TestVerifyOTP_Expired(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.svc.RequestOTP(context.Background(), testPhone)
	require.NoError(t, err)

	f.clock.Advance(5*time.Minute + time.Second)
	_, err = f.svc.VerifyOTP(context.Background(), testPhone, res.Code)
	assertServiceError(t, err, KindExpired, "OTP has expired. Please request a new one")

	_, err = f.svc.VerifyOTP(context.Background(), testPhone, res.Code)
	assertServiceError(t, err, KindNotFound, MsgNotFound)
}

func TestVerifyOTP_IssuesToken(t *testing.T) {
	tokens, err := NewTokenService(&config.JWTConfig{
		SecretKey: "0123456789abcdef0123456789abcdef",
		Expiry:    time.Minute,
		Issuer:    "test",
	}, logrus.New())
	require.NoError(t, err)

	f := newFixture(t, false, WithTokenIssuer(tokens))
	res, err := f.svc.RequestOTP(context.Background(), testPhone)
	require.NoError(t, err)

	verified, err := f.svc.VerifyOTP(context.Background(), testPhone, res.Code)
	require.NoError(t, err)
	require.NotNil(t, verified.Token)
	assert.Equal(t, "Bearer", verified.Token.TokenType)

	claims, err := tokens.Verify(verified.Token.Token)
	require.NoError(t, err)
	assert.Equal(t, testPhone, claims.Phone)
	assert.Equal(t, TokenTypePhoneVerified, claims.Type)
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := GenerateCode(6)
		require.NoError(t, err)
		assert.Len(t, code, 6)
		for _, c := range code {
			assert.True(t, c >= '0' && c <= '9')
		}
	}
}
