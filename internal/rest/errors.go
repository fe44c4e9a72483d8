package rest

import (
	"errors"
	"net/http"

	"github.com/tandem-social/tandem/internal/auth"
	"github.com/tandem-social/tandem/internal/database/types"
	"github.com/tandem-social/tandem/internal/rest/handler"
	restTypes "github.com/tandem-social/tandem/internal/rest/types"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, handler.ErrBadRequest), errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, handler.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, types.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders handler errors as JSON. Internal failures are logged
// and hidden from the client.
func errorHandler(logger *zap.Logger) bunrouter.MiddlewareFunc {
	return func(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
		return func(w http.ResponseWriter, req bunrouter.Request) error {
			err := next(w, req)
			if err == nil {
				return nil
			}

			status := statusFor(err)
			message := err.Error()
			if status >= http.StatusInternalServerError {
				logger.Error("Request failed",
					zap.String("method", req.Method),
					zap.String("route", req.Route()),
					zap.Int("status", status),
					zap.Error(err))
				message = http.StatusText(status)
			}

			if renderErr := handler.Render(w, status, restTypes.ErrorResponse{Error: message}); renderErr != nil {
				logger.Debug("Failed to write error response", zap.Error(renderErr))
			}
			return nil
		}
	}
}
