package service

import "errors"

// Kind classifies service failures so the HTTP layer can pick a status code.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindRateLimited
	KindNotFound
	KindExpired
	KindTooManyAttempts
	KindInvalidCode
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	case KindTooManyAttempts:
		return "too_many_attempts"
	case KindInvalidCode:
		return "invalid_code"
	default:
		return "internal"
	}
}

// User-facing messages. Clients match on these strings.
const (
	MsgPhoneRequired       = "Mobile number is required"
	MsgPhoneInvalid        = "Please enter a valid 10-digit mobile number"
	MsgRateLimited         = "Too many requests from this number. Please wait a minute before trying again."
	MsgInternal            = "Internal server error"
	MsgVerifyFieldsMissing = "Mobile number and OTP are required"
	MsgVerifyPhoneInvalid  = "Invalid mobile number format"
	MsgNotFound            = "No OTP found for this mobile number"
	MsgExpired             = "OTP has expired. Please request a new one"
	MsgTooManyAttempts     = "Too many invalid attempts. Please request a new OTP"
	MsgInvalidCode         = "Invalid OTP, please try again"
	MsgVerified            = "Mobile number verified successfully"
	MsgAlreadySent         = "OTP already sent. Please check your messages or wait for resend."
)

// Error is returned by OTPService for every failed request.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func newError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func internalError(err error) *Error {
	return &Error{kind: KindInternal, msg: MsgInternal, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

// Message is safe to show to the caller.
func (e *Error) Message() string {
	return e.msg
}

func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.kind == e.kind && (t.msg == "" || t.msg == e.msg)
}

// Sentinels for errors.Is checks by kind.
var (
	ErrInvalidInput    = &Error{kind: KindInvalidInput}
	ErrRateLimited     = &Error{kind: KindRateLimited}
	ErrNotFound        = &Error{kind: KindNotFound}
	ErrExpired         = &Error{kind: KindExpired}
	ErrTooManyAttempts = &Error{kind: KindTooManyAttempts}
	ErrInvalidCode     = &Error{kind: KindInvalidCode}
	ErrInternal        = &Error{kind: KindInternal}
)

// KindOf returns the kind of err, KindInternal when err is not a service error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.msg != "" {
		return e.msg
	}
	return MsgInternal
}
