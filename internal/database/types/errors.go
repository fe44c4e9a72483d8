package types

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the core wraps exactly one of these so
// callers can classify failures with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
	ErrTimeout    = errors.New("store timeout")
	ErrUpstream   = errors.New("upstream best-effort failure")
)

var (
	ErrUserNotFound       = fmt.Errorf("%w: user", ErrNotFound)
	ErrConnectionNotFound = fmt.Errorf("%w: connection", ErrNotFound)
	ErrChatNotFound       = fmt.Errorf("%w: chat", ErrNotFound)
	ErrMessageNotFound    = fmt.Errorf("%w: message", ErrNotFound)
	ErrPostNotFound       = fmt.Errorf("%w: post", ErrNotFound)
	ErrCommentNotFound    = fmt.Errorf("%w: comment", ErrNotFound)
	ErrNoPushToken        = fmt.Errorf("%w: push token", ErrNotFound)

	ErrSelfRequest     = fmt.Errorf("%w: cannot connect with yourself", ErrConflict)
	ErrAlreadyAccepted = fmt.Errorf("%w: request already accepted", ErrConflict)
	ErrRepostChain     = fmt.Errorf("%w: cannot repost a repost", ErrConflict)
	ErrNestedReply     = fmt.Errorf("%w: replies cannot be nested", ErrConflict)
	ErrMediaCompleted  = fmt.Errorf("%w: media already completed", ErrConflict)

	ErrIncompleteProfile = fmt.Errorf("%w: incomplete profile", ErrForbidden)
	ErrBlocked           = fmt.Errorf("%w: blocked", ErrForbidden)
	ErrNotParticipant    = fmt.Errorf("%w: not a chat participant", ErrForbidden)
	ErrNotAuthor         = fmt.Errorf("%w: not the author", ErrForbidden)

	ErrEmptyMessage = fmt.Errorf("%w: message needs a body or media", ErrValidation)
	ErrEmptyPost    = fmt.Errorf("%w: post needs a body or media", ErrValidation)
	ErrEmptyComment = fmt.Errorf("%w: comment body is required", ErrValidation)
	ErrInvalidToken = fmt.Errorf("%w: malformed push token", ErrValidation)
	ErrInvalidMedia = fmt.Errorf("%w: unsupported media type", ErrValidation)
)

// IsRequestFailure reports whether err is one of the kinds surfaced to callers
// as a failed request rather than an internal fault.
func IsRequestFailure(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrValidation)
}
