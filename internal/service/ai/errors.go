package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProvider is returned for an identifier with no registered provider.
	ErrUnknownProvider = errors.New("unknown ai provider")
	// ErrProviderFailure matches every *ProviderError.
	ErrProviderFailure = errors.New("ai provider failure")
)

type ErrorKind int

const (
	// Unreachable covers transport, auth and model errors.
	Unreachable ErrorKind = iota + 1
	// InvalidResponse covers replies that are not the expected JSON document.
	InvalidResponse
)

func (k ErrorKind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case InvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// ProviderError is the recoverable failure of one extraction call.
// Callers treat every Kind the same; Kind is for logs.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("Failed to parse AI response: %v", e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

func (e *ProviderError) Is(target error) bool { return target == ErrProviderFailure }

func unreachable(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: Unreachable, Cause: err}
}

func invalidResponse(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: InvalidResponse, Cause: err}
}
