package provider

import "errors"

var (
	// ErrCursorInvalid means the provider rejected the since-token twice in one pull.
	ErrCursorInvalid = errors.New("provider: cursor invalid")
	// ErrUnauthorized means the credential was rejected even after a refresh.
	ErrUnauthorized = errors.New("provider: unauthorized")
	// ErrRateLimited means retries were exhausted while the provider kept throttling.
	ErrRateLimited = errors.New("provider: rate limited")
	// ErrUnsupportedHost means the configured endpoint or calendar cannot be served.
	ErrUnsupportedHost = errors.New("provider: unsupported host")
	// ErrRejected means the provider refused a write, e.g. on a concurrency conflict.
	ErrRejected = errors.New("provider: rejected")
)

// FailureKind is the user-facing classification of a provider failure.
type FailureKind string

const (
	FailureNone            FailureKind = ""
	FailureTransport       FailureKind = "transport"
	FailureUnauthorized    FailureKind = "unauthorized"
	FailureRateLimited     FailureKind = "rate_limited"
	FailureCursorInvalid   FailureKind = "cursor_invalid"
	FailureRejected        FailureKind = "rejected"
	FailureUnsupportedHost FailureKind = "unsupported_host"
)

// Classify maps an error onto the failure taxonomy.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrUnauthorized):
		return FailureUnauthorized
	case errors.Is(err, ErrRateLimited):
		return FailureRateLimited
	case errors.Is(err, ErrCursorInvalid):
		return FailureCursorInvalid
	case errors.Is(err, ErrRejected):
		return FailureRejected
	case errors.Is(err, ErrUnsupportedHost):
		return FailureUnsupportedHost
	default:
		return FailureTransport
	}
}

// Message returns the text shown to the user for the kind.
func (kind FailureKind) Message() string {
	switch kind {
	case FailureNone:
		return ""
	case FailureUnauthorized:
		return "reconnect your account"
	case FailureUnsupportedHost:
		return "this calendar host isn't supported"
	case FailureRejected:
		return "the calendar refused a change; it will be retried on the next sync"
	default:
		return "temporary network issue"
	}
}

// Failure is the reportable form of a provider error.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Detail  string      `json:"detail,omitempty"`
}

// NewFailure classifies err. It returns nil for a nil error.
func NewFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	kind := Classify(err)
	return &Failure{Kind: kind, Message: kind.Message(), Detail: err.Error()}
}
