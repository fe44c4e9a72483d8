package commands

import (
	"errors"
)

var (
	ErrNameRequired   = errors.New("NAME argument required")
	ErrUserIDRequired = errors.New("USER_ID argument required")
	ErrInvalidUserID  = errors.New("USER_ID must be a UUID")
)

// Log directories per command.
const (
	ServeLogDir = "logs/api_logs"
	CLILogDir   = "logs/cli_logs"
)
