package models

import "time"

// OTPRecord is the single live passcode issued to a phone number.
type OTPRecord struct {
	PhoneNumber string    `json:"phone_number"`
	Code        string    `json:"-"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the record is no longer live at now.
func (r OTPRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ExpiresIn returns the remaining lifetime rounded up to whole seconds.
func (r OTPRecord) ExpiresIn(now time.Time) int {
	remaining := r.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	secs := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	return secs
}
