package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/auth"
	restTypes "github.com/tandem-social/tandem/internal/rest/types"
	"github.com/uptrace/bunrouter"
)

const maxBodySize = 1 << 20

var (
	// ErrBadRequest marks malformed paths, queries and bodies.
	ErrBadRequest = errors.New("bad request")
	// ErrUnauthenticated marks requests without a verified user.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// currentUser returns the user set by the auth middleware.
func currentUser(req bunrouter.Request) (uuid.UUID, error) {
	userID, ok := auth.UserFromContext(req.Context())
	if !ok {
		return uuid.Nil, ErrUnauthenticated
	}
	return userID, nil
}

// idParam parses a UUID path parameter.
func idParam(req bunrouter.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(req.Param(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", ErrBadRequest, name)
	}
	return id, nil
}

// intQuery parses an optional integer query parameter.
func intQuery(req bunrouter.Request, name string) (int, error) {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%w: invalid %s", ErrBadRequest, name)
	}
	return value, nil
}

// pageQuery parses limit and offset. Zero values fall back to service defaults.
func pageQuery(req bunrouter.Request) (limit, offset int, err error) {
	if limit, err = intQuery(req, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = intQuery(req, "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// decode reads a JSON body into v.
func decode(req bunrouter.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize+1))
	if err != nil {
		return fmt.Errorf("%w: failed to read body", ErrBadRequest)
	}
	if len(data) > maxBodySize {
		return fmt.Errorf("%w: body too large", ErrBadRequest)
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed JSON body", ErrBadRequest)
	}
	return nil
}

// Render writes v as JSON with the given status.
func Render(w http.ResponseWriter, status int, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, err = w.Write(data)
	return err
}

func ok(w http.ResponseWriter, v any) error {
	return Render(w, http.StatusOK, v)
}

func noContent(w http.ResponseWriter) error {
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func list[T any](w http.ResponseWriter, items []T, limit, offset int) error {
	if items == nil {
		items = []T{}
	}
	return ok(w, restTypes.ListResponse[T]{Items: items, Limit: limit, Offset: offset})
}
