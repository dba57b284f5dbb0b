package delivery

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDeliveryFailed is returned by transports when the provider rejected the message.
	ErrDeliveryFailed = errors.New("SMS delivery failed")
	// ErrQueueClosed rejects jobs enqueued after, or still pending at, shutdown.
	ErrQueueClosed = errors.New("delivery queue closed")
)

// Message is what a transport hands to the SMS provider.
type Message struct {
	JobID     string
	Recipient string
	Body      string
}

// Receipt is the provider's acknowledgement of a sent message.
type Receipt struct {
	Provider          string
	ProviderMessageID string
}

// Transport sends one SMS. Implementations may block for the duration of the send.
type Transport interface {
	Send(ctx context.Context, msg Message) (*Receipt, error)
	Name() string
}

// Formatter turns a phone number and code into the outgoing message.
type Formatter struct {
	CountryCode string
	ValidFor    string
}

func (f Formatter) Recipient(phoneNumber string) string {
	return f.CountryCode + phoneNumber
}

func (f Formatter) Body(code string) string {
	validFor := f.ValidFor
	if validFor == "" {
		validFor = "5 minutes"
	}
	return fmt.Sprintf("Your verification code is: %s. Valid for %s.", code, validFor)
}
