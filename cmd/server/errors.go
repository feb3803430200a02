package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arborist-labs/scholaria"
)

// writeError maps the internal error taxonomy (spec §7) to an HTTP status
// and writes {detail: string}, mirroring the teacher's JSON error envelope.
func writeError(c *gin.Context, err error) {
	status, detail := classify(err)
	c.JSON(status, gin.H{"detail": detail})
}

func classify(err error) (int, string) {
	var validationErr *scholaria.ValidationError
	var notFoundErr *scholaria.NotFoundError
	var configErr *scholaria.ConfigurationError
	var incompatibleErr *scholaria.IncompatibleEmbeddingsError
	var generationErr *scholaria.GenerationError
	var providerErr *scholaria.ProviderError

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &configErr):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &incompatibleErr):
		return http.StatusConflict, err.Error()
	case errors.As(err, &generationErr):
		return http.StatusBadGateway, err.Error()
	case errors.As(err, &providerErr):
		return providerStatus(providerErr.Kind), err.Error()
	case errors.Is(err, scholaria.ErrWorkspaceNotFound),
		errors.Is(err, scholaria.ErrDocumentNotFound),
		errors.Is(err, scholaria.ErrArtifactNotFound),
		errors.Is(err, scholaria.ErrPodcastVersionNotFound),
		errors.Is(err, scholaria.ErrTaskNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, scholaria.ErrNoCompletedDocuments):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, scholaria.ErrUnsupportedFormat), errors.Is(err, scholaria.ErrEmptyFile):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, scholaria.ErrTaskInFlight):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// providerStatus maps a ProviderErrorKind to HTTP status (spec §7
// "ProviderError{kind} — maps to 401/429/502/400/404").
func providerStatus(kind scholaria.ProviderErrorKind) int {
	switch kind {
	case scholaria.ProviderErrAuth:
		return http.StatusUnauthorized
	case scholaria.ProviderErrRateLimit:
		return http.StatusTooManyRequests
	case scholaria.ProviderErrBadRequest:
		return http.StatusBadRequest
	case scholaria.ProviderErrNotFound:
		return http.StatusNotFound
	default: // network, server
		return http.StatusBadGateway
	}
}
