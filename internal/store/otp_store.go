package store

import (
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/qcom/otpverify/internal/clock"
	"github.com/qcom/otpverify/internal/models"
	"github.com/sirupsen/logrus"
)

type VerifyResult int

const (
	VerifyNotFound VerifyResult = iota
	VerifySuccess
	VerifyInvalid
	VerifyExpired
	VerifyTooManyAttempts
)

func (r VerifyResult) String() string {
	switch r {
	case VerifySuccess:
		return "success"
	case VerifyInvalid:
		return "invalid"
	case VerifyExpired:
		return "expired"
	case VerifyTooManyAttempts:
		return "too_many_attempts"
	default:
		return "not_found"
	}
}

// Generator produces a fresh numeric code.
type Generator func() (string, error)

// OTPStore keeps at most one live OTP record per phone number in memory.
type OTPStore struct {
	mu      sync.Mutex
	records map[string]*models.OTPRecord
	clock   clock.Clocker
	logger  *logrus.Logger
}

func NewOTPStore(clk clock.Clocker, logger *logrus.Logger) *OTPStore {
	if clk == nil {
		clk = clock.New()
	}
	return &OTPStore{
		records: make(map[string]*models.OTPRecord),
		clock:   clk,
		logger:  logger,
	}
}

// GetOrCreate returns the live record for phoneNumber, or stores a new one
// built from generate. The returned record is a copy.
func (s *OTPStore) GetOrCreate(phoneNumber string, generate Generator, ttl time.Duration) (models.OTPRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if existing, ok := s.records[phoneNumber]; ok {
		if !existing.Expired(now) {
			return *existing, false, nil
		}
		delete(s.records, phoneNumber)
	}

	code, err := generate()
	if err != nil {
		return models.OTPRecord{}, false, fmt.Errorf("failed to generate OTP: %w", err)
	}

	record := &models.OTPRecord{
		PhoneNumber: phoneNumber,
		Code:        code,
		Attempts:    0,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	s.records[phoneNumber] = record

	return *record, true, nil
}

// Get returns a copy of the live record for phoneNumber.
func (s *OTPStore) Get(phoneNumber string) (models.OTPRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[phoneNumber]
	if !ok || record.Expired(s.clock.Now()) {
		return models.OTPRecord{}, false
	}
	return *record, true
}

// Verify checks suppliedCode against the stored record and consumes an attempt.
func (s *OTPStore) Verify(phoneNumber, suppliedCode string, maxAttempts int) VerifyResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[phoneNumber]
	if !ok {
		return VerifyNotFound
	}

	if record.Expired(s.clock.Now()) {
		delete(s.records, phoneNumber)
		return VerifyExpired
	}

	record.Attempts++

	if codesEqual(record.Code, suppliedCode) {
		delete(s.records, phoneNumber)
		return VerifySuccess
	}

	if record.Attempts >= maxAttempts {
		delete(s.records, phoneNumber)
		return VerifyTooManyAttempts
	}

	return VerifyInvalid
}

// SweepExpired removes every record that expired before now.
func (s *OTPStore) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for phone, record := range s.records {
		if record.ExpiresAt.Before(now) {
			delete(s.records, phone)
			removed++
		}
	}

	if removed > 0 && s.logger != nil {
		s.logger.WithField("removed", removed).Debug("Swept expired OTP records")
	}
	return removed
}

func (s *OTPStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func codesEqual(stored, supplied string) bool {
	if len(stored) != len(supplied) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}
