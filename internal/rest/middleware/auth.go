package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/auth"
	"github.com/tandem-social/tandem/internal/rest/handler"
	restTypes "github.com/tandem-social/tandem/internal/rest/types"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// Auth rejects requests without a valid bearer token and stores the caller in the context.
type Auth struct {
	verifier TokenVerifier
	logger   *zap.Logger
}

// NewAuth creates a new authentication middleware.
func NewAuth(verifier TokenVerifier, logger *zap.Logger) *Auth {
	return &Auth{
		verifier: verifier,
		logger:   logger.Named("auth_middleware"),
	}
}

// AsRESTMiddleware returns a bunrouter middleware handler for bearer authentication.
func (m *Auth) AsRESTMiddleware(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		token, err := auth.BearerToken(req.Header.Get("Authorization"))
		if err != nil {
			return unauthorized(w, err)
		}

		userID, err := m.verifier.Verify(token)
		if err != nil {
			m.logger.Debug("Rejected bearer token",
				zap.String("path", req.URL.Path),
				zap.Error(err))
			return unauthorized(w, auth.ErrInvalidToken)
		}

		return next(w, req.WithContext(auth.WithUser(req.Context(), userID)))
	}
}

func unauthorized(w http.ResponseWriter, err error) error {
	w.Header().Set("WWW-Authenticate", "Bearer")
	return handler.Render(w, http.StatusUnauthorized, restTypes.ErrorResponse{Error: err.Error()})
}
