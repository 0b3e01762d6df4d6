package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by errors.Is against an *AnalysisError.
var (
	// ErrConfiguration means the gateway is missing a credential or other
	// required setting. No backend call was attempted.
	ErrConfiguration = errors.New("gateway configuration error")

	// ErrInvalidPayload means the image argument could not be decoded.
	ErrInvalidPayload = errors.New("invalid image payload")

	// ErrBackend means the inference backend call failed.
	ErrBackend = errors.New("backend error")
)

// Kind classifies an AnalysisError.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindInvalidPayload
	KindBackend
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindInvalidPayload:
		return "invalid_payload"
	case KindBackend:
		return "backend"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// AnalysisError is the only error type returned by the gateway. Message is
// safe to show to clients; Err, when set, is the underlying cause.
type AnalysisError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AnalysisError) Error() string {
	return e.Kind.String() + ": " + e.Message
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrBackend) and friends work without callers
// inspecting Kind directly.
func (e *AnalysisError) Is(target error) bool {
	switch target {
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrInvalidPayload:
		return e.Kind == KindInvalidPayload
	case ErrBackend:
		return e.Kind == KindBackend
	}
	return false
}

func configurationError(msg string) *AnalysisError {
	return &AnalysisError{Kind: KindConfiguration, Message: msg}
}

func invalidPayload(msg string, err error) *AnalysisError {
	return &AnalysisError{Kind: KindInvalidPayload, Message: msg, Err: err}
}

func backendError(msg string, err error) *AnalysisError {
	return &AnalysisError{Kind: KindBackend, Message: msg, Err: err}
}
