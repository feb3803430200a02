package scholaria

import (
	"errors"
	"fmt"

	"github.com/arborist-labs/scholaria/generate"
	"github.com/arborist-labs/scholaria/llm"
	"github.com/arborist-labs/scholaria/retrieval"
	"github.com/arborist-labs/scholaria/settings"
)

// Sentinel errors for conditions that do not carry extra structured data.
var (
	// ErrWorkspaceNotFound is returned when a workspace ID does not exist.
	ErrWorkspaceNotFound = errors.New("scholaria: workspace not found")

	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("scholaria: document not found")

	// ErrArtifactNotFound is returned when no cached artifact matches the key.
	ErrArtifactNotFound = errors.New("scholaria: artifact not found")

	// ErrPodcastVersionNotFound is returned when a podcast version ID does not exist.
	ErrPodcastVersionNotFound = errors.New("scholaria: podcast version not found")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("scholaria: unsupported document format")

	// ErrEmptyFile is returned when an uploaded file has zero bytes.
	ErrEmptyFile = errors.New("scholaria: empty file")

	// ErrNoCompletedDocuments is returned when chat/generation is attempted
	// on a workspace with no completed documents.
	ErrNoCompletedDocuments = errors.New("scholaria: no completed documents")

	// ErrTaskInFlight is returned when a second ingestion task is submitted
	// for a document that already has one pending or processing.
	ErrTaskInFlight = errors.New("scholaria: task already in flight for this document")

	// ErrTaskNotFound is returned when a task/version id has no known progress stream.
	ErrTaskNotFound = errors.New("scholaria: task not found")
)

// ValidationError signals malformed caller input. Maps to HTTP 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError signals a missing entity. Maps to HTTP 404.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// NewNotFoundError builds a NotFoundError with a formatted message.
func NewNotFoundError(format string, args ...any) error {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ConfigurationError signals a missing or invalid required provider setting
// (spec §4.4, §7). Maps to HTTP 400, naming the offending field.
//
// Defined in package settings (see settings/settings.go) rather than here:
// settings.Service is imported by ingest/chat/generate/podcast, none of which
// may import this package without an import cycle. Aliased here, mirroring
// ProviderError's alias of llm.ProviderError below.
type ConfigurationError = settings.ConfigurationError

// NewConfigurationError builds a ConfigurationError for the named field.
func NewConfigurationError(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IncompatibleEmbeddingsError signals a workspace with completed documents
// whose embedding fingerprint differs from the active one (spec §4.6 step 3).
// Maps to HTTP 409. Defined in package retrieval (the only producer) and
// aliased here for the same reason as ConfigurationError above and
// ProviderError below.
type IncompatibleEmbeddingsError = retrieval.IncompatibleEmbeddingsError

// IncompatibleDocument names one document contributing to the mismatch.
type IncompatibleDocument = retrieval.IncompatibleDocument

// GenerationError signals that the LLM failed to produce schema-valid
// structured output after retries (spec §4.8 step 4, §7). Maps to HTTP 502.
// Defined in package generate (the only producer) and aliased here for the
// same import-cycle reason as ConfigurationError and IncompatibleEmbeddingsError
// above.
type GenerationError = generate.GenerationError

// ProviderErrorKind classifies a failure from an LLM/embedding/vision/TTS
// provider so callers can decide whether to retry and how to map it to HTTP.
//
// Defined in package llm (see llm/errors.go) rather than here: the provider
// adapters that construct these errors live in llm, and llm cannot import
// this package without an import cycle (scholaria.go wires llm.Provider
// into the Engine). Aliased here so HTTP handlers can reference
// scholaria.ProviderError without reaching into llm directly.
type ProviderErrorKind = llm.ProviderErrorKind

// Re-exported provider error kinds; see llm.ProviderErrorKind.
const (
	ProviderErrAuth       = llm.ProviderErrAuth
	ProviderErrRateLimit  = llm.ProviderErrRateLimit
	ProviderErrNetwork    = llm.ProviderErrNetwork
	ProviderErrServer     = llm.ProviderErrServer
	ProviderErrBadRequest = llm.ProviderErrBadRequest
	ProviderErrNotFound   = llm.ProviderErrNotFound
)

// ProviderError wraps a transport-level failure from a provider adapter with
// a taxonomy kind and a retryability flag (spec §4.5, §7). Alias of
// llm.ProviderError; see the note on ProviderErrorKind above.
type ProviderError = llm.ProviderError

// NewProviderError builds a ProviderError, filling Retryable from Kind.
func NewProviderError(kind ProviderErrorKind, message string, cause error) *ProviderError {
	return llm.NewProviderError(kind, message, cause)
}
