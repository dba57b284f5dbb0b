package models

import "time"

// VerificationToken proves that a phone number passed OTP verification.
type VerificationToken struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresIn int64     `json:"expires_in"`
	IssuedAt  time.Time `json:"issued_at"`
}
