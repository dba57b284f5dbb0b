package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/qcom/otpverify/internal/clock"
	"github.com/qcom/otpverify/internal/middleware"
	"github.com/qcom/otpverify/internal/models"
	"github.com/qcom/otpverify/internal/service"
	"github.com/sirupsen/logrus"
)

const (
	msgInvalidBody = "Invalid request body"
	msgNotFound    = "API endpoint not found"
)

// Lengther reports how many items a component currently holds.
type Lengther interface {
	Len() int
}

// ReportLister reads delivery history for a phone number.
type ReportLister interface {
	ListByPhone(ctx context.Context, phoneNumber string, limit int32) ([]models.DeliveryReport, error)
}

type OTPHandlers struct {
	otpService *service.OTPService
	queue      Lengther
	store      Lengther
	reports    ReportLister
	clock      clock.Clocker
	startedAt  time.Time
	logger     *logrus.Logger
}

// NewOTPHandlers builds the HTTP handlers. reports may be nil when delivery
// history is not persisted.
func NewOTPHandlers(
	otpService *service.OTPService,
	queue Lengther,
	store Lengther,
	reports ReportLister,
	clk clock.Clocker,
	logger *logrus.Logger,
) *OTPHandlers {
	return &OTPHandlers{
		otpService: otpService,
		queue:      queue,
		store:      store,
		reports:    reports,
		clock:      clk,
		startedAt:  clk.Now(),
		logger:     logger,
	}
}

type SendOTPRequest struct {
	PhoneNumber  string `json:"phoneNumber"`
	MobileNumber string `json:"mobileNumber"`
}

func (r SendOTPRequest) phone() string {
	if r.PhoneNumber != "" {
		return r.PhoneNumber
	}
	return r.MobileNumber
}

type SendOTPResponse struct {
	Success              bool   `json:"success"`
	Message              string `json:"message"`
	QueuePosition        int    `json:"queuePosition"`
	EstimatedWaitSeconds int    `json:"estimatedWaitSeconds"`
	ExpiresIn            int    `json:"expiresIn"`
	ResendAfter          int    `json:"resendAfter"`
	Code                 string `json:"code,omitempty"`
}

type VerifyOTPRequest struct {
	PhoneNumber  string `json:"phoneNumber"`
	MobileNumber string `json:"mobileNumber"`
	Code         string `json:"code"`
	OTP          string `json:"otp"`
}

func (r VerifyOTPRequest) phone() string {
	if r.PhoneNumber != "" {
		return r.PhoneNumber
	}
	return r.MobileNumber
}

func (r VerifyOTPRequest) code() string {
	if r.Code != "" {
		return r.Code
	}
	return r.OTP
}

type VerifyOTPResponse struct {
	Success           bool                      `json:"success"`
	Message           string                    `json:"message"`
	VerificationToken *models.VerificationToken `json:"verificationToken,omitempty"`
}

type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Uptime        float64   `json:"uptime"`
	QueueLength   int       `json:"queueLength"`
	ActiveRecords int       `json:"activeRecords"`
}

type VerificationStatusResponse struct {
	Success     bool      `json:"success"`
	PhoneNumber string    `json:"phoneNumber"`
	Verified    bool      `json:"verified"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type DeliveryReportsResponse struct {
	Success bool                    `json:"success"`
	Reports []models.DeliveryReport `json:"reports"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *OTPHandlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.otpService.RequestOTP(r.Context(), req.phone())
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, SendOTPResponse{
		Success:              true,
		Message:              result.Message,
		QueuePosition:        result.QueuePosition,
		EstimatedWaitSeconds: result.EstimatedWaitSeconds,
		ExpiresIn:            result.ExpiresInSeconds,
		ResendAfter:          result.ResendAfterSeconds,
		Code:                 result.Code,
	})
}

func (h *OTPHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.otpService.VerifyOTP(r.Context(), req.phone(), req.code())
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, VerifyOTPResponse{
		Success:           true,
		Message:           result.Message,
		VerificationToken: result.Token,
	})
}

func (h *OTPHandlers) Health(w http.ResponseWriter, r *http.Request) {
	now := h.clock.Now()
	respondWithJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC(),
		Uptime:        now.Sub(h.startedAt).Seconds(),
		QueueLength:   h.queue.Len(),
		ActiveRecords: h.store.Len(),
	})
}

// VerificationStatus echoes the verified number from the token checked by
// middleware.RequireVerification.
func (h *OTPHandlers) VerificationStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	resp := VerificationStatusResponse{
		Success:     true,
		PhoneNumber: claims.Phone,
		Verified:    true,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// DeliveryReports lists recent delivery outcomes for the verified number.
func (h *OTPHandlers) DeliveryReports(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	if h.reports == nil {
		respondWithError(w, http.StatusNotFound, "Delivery reports are not enabled")
		return
	}

	reports, err := h.reports.ListByPhone(r.Context(), claims.Phone, 0)
	if err != nil {
		h.logger.WithError(err).WithField("phone", claims.Phone).Error("Failed to list delivery reports")
		respondWithError(w, http.StatusInternalServerError, service.MsgInternal)
		return
	}
	if reports == nil {
		reports = []models.DeliveryReport{}
	}

	respondWithJSON(w, http.StatusOK, DeliveryReportsResponse{Success: true, Reports: reports})
}

func NotFound(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, http.StatusNotFound, msgNotFound)
}

func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// decode reads a JSON body into dst. An empty body decodes to the zero value
// so the service reports the missing fields.
func (h *OTPHandlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		h.logger.WithError(err).Debug("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, msgInvalidBody)
		return false
	}
	return true
}

func (h *OTPHandlers) respondWithServiceError(w http.ResponseWriter, err error) {
	status := statusForKind(service.KindOf(err))
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("Request failed")
	}
	respondWithError(w, status, service.MessageOf(err))
}

func statusForKind(kind service.Kind) int {
	switch kind {
	case service.KindInternal:
		return http.StatusInternalServerError
	case service.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, ErrorResponse{Success: false, Message: message})
}
