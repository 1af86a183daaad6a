package api

import (
	"errors"
	"net/http"

	"dune-rag/backend/internal/agent"
	apperrors "dune-rag/backend/pkg/errors"
)

// upstreamKinds are checked innermost-first so a tool failure caused by a bad
// query reports "query" rather than "tool".
var upstreamKinds = []apperrors.ErrorType{
	apperrors.ErrorTypeQuery,
	apperrors.ErrorTypeGraph,
	apperrors.ErrorTypeHistory,
	apperrors.ErrorTypeRetrieval,
	apperrors.ErrorTypeAgent,
	apperrors.ErrorTypeTool,
}

// statusFor maps a turn error to an HTTP status and an error kind for the
// response body.
func statusFor(err error) (int, string) {
	var unknown *apperrors.ErrUnknownStrategy
	switch {
	case errors.Is(err, agent.ErrEmptyInput):
		return http.StatusBadRequest, "validation"
	case errors.As(err, &unknown):
		return http.StatusBadRequest, string(apperrors.ErrorTypeRetrieval)
	case apperrors.IsTimeout(err):
		return http.StatusGatewayTimeout, string(apperrors.ErrorTypeContext)
	}

	for _, kind := range upstreamKinds {
		if apperrors.IsErrorType(err, kind) {
			return http.StatusBadGateway, string(kind)
		}
	}
	if kind, ok := apperrors.TypeOf(err); ok {
		return http.StatusInternalServerError, string(kind)
	}
	return http.StatusInternalServerError, "internal"
}
