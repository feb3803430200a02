package llm

import "fmt"

// ProviderErrorKind classifies a failure from an LLM/embedding/vision/TTS
// provider so callers can decide whether to retry and how to map it to
// HTTP (spec §4.5, §7).
type ProviderErrorKind string

const (
	ProviderErrAuth       ProviderErrorKind = "auth"
	ProviderErrRateLimit  ProviderErrorKind = "rate_limit"
	ProviderErrNetwork    ProviderErrorKind = "network"
	ProviderErrServer     ProviderErrorKind = "server"
	ProviderErrBadRequest ProviderErrorKind = "bad_request"
	ProviderErrNotFound   ProviderErrorKind = "not_found"
)

// ProviderError wraps a transport-level failure from a provider adapter with
// a taxonomy kind and a retryability flag.
type ProviderError struct {
	Kind      ProviderErrorKind
	Retryable bool
	Message   string
	Cause     error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llm: provider error (%s): %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("llm: provider error (%s): %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// retryableKind reports whether a provider error kind is worth retrying:
// rate_limit, network, and 5xx server errors are; auth, bad_request, and
// not_found are not.
func retryableKind(kind ProviderErrorKind) bool {
	switch kind {
	case ProviderErrRateLimit, ProviderErrNetwork, ProviderErrServer:
		return true
	default:
		return false
	}
}

// NewProviderError builds a ProviderError, filling Retryable from Kind.
func NewProviderError(kind ProviderErrorKind, message string, cause error) *ProviderError {
	return &ProviderError{Kind: kind, Retryable: retryableKind(kind), Message: message, Cause: cause}
}
