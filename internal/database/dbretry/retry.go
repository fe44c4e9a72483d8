package dbretry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tandem-social/tandem/internal/database/types"
	"github.com/tandem-social/tandem/internal/setup/config"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Policy bounds every store call: each attempt runs under QueryTimeout and a
// retryable failure is retried MaxRetries times with exponential backoff.
type Policy struct {
	QueryTimeout    time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy retries once after a short backoff.
var DefaultPolicy = Policy{
	QueryTimeout:    5 * time.Second,
	MaxRetries:      1,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     time.Second,
}

var current atomic.Pointer[Policy]

func init() {
	p := DefaultPolicy
	current.Store(&p)
}

// Configure replaces the process-wide retry policy from configuration.
func Configure(cfg *config.Retry) {
	p := DefaultPolicy
	if cfg.QueryTimeout > 0 {
		p.QueryTimeout = time.Duration(cfg.QueryTimeout) * time.Millisecond
	}
	p.MaxRetries = cfg.MaxRetries
	if cfg.Delay > 0 {
		p.InitialInterval = time.Duration(cfg.Delay) * time.Millisecond
	}
	if cfg.MaxDelay > 0 {
		p.MaxInterval = time.Duration(cfg.MaxDelay) * time.Millisecond
	}
	current.Store(&p)
}

// SetPolicy replaces the process-wide retry policy.
func SetPolicy(p Policy) {
	current.Store(&p)
}

// IsRetryableError checks if the given error is retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Check for specific PostgreSQL error codes
	var pgerr pgdriver.Error
	if errors.As(err, &pgerr) {
		switch pgerr.Field('C') {
		case "08000", // connection_exception
			"08003", // connection_does_not_exist
			"08006", // connection_failure
			"08001", // sqlclient_unable_to_establish_sqlconnection
			"08004", // sqlserver_rejected_establishment_of_sqlconnection
			"40001", // serialization_failure
			"40P01", // deadlock_detected
			"53300", // too_many_connections
			"57P01", // admin_shutdown
			"57P03", // cannot_connect_now
			"57014", // query_canceled (statement timeout)
			"55P03": // lock_not_available
			return true
		}
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Check for common network error strings
	errMsg := err.Error()
	return strings.Contains(errMsg, "connection reset by peer") ||
		strings.Contains(errMsg, "broken pipe") ||
		strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "i/o timeout") ||
		strings.Contains(errMsg, "EOF")
}

// Operation wraps a database operation with the bounded timeout and retry policy.
// Exhausted retryable failures are reported as types.ErrTimeout.
func Operation[T any](ctx context.Context, operation func(context.Context) (T, error)) (T, error) {
	policy := *current.Load()

	var (
		result       T
		lastErr      error
		permanentErr error
	)

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(policy.InitialInterval),
		backoff.WithMaxInterval(policy.MaxInterval),
	), policy.MaxRetries)

	err := backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, policy.QueryTimeout)
		defer cancel()

		var err error
		result, err = operation(attemptCtx)
		if err != nil {
			// The caller gave up; retrying cannot help
			if ctx.Err() != nil || !IsRetryableError(err) {
				permanentErr = err
				return backoff.Permanent(err)
			}
			lastErr = err
			return err
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		switch {
		case permanentErr != nil && !errors.Is(permanentErr, context.DeadlineExceeded):
			return result, permanentErr
		case lastErr != nil:
			return result, fmt.Errorf("%w: %w", types.ErrTimeout, lastErr)
		case errors.Is(err, context.DeadlineExceeded):
			return result, fmt.Errorf("%w: %w", types.ErrTimeout, err)
		default:
			return result, err
		}
	}

	return result, nil
}

// NoResult wraps a database operation that doesn't return a result.
func NoResult(ctx context.Context, operation func(context.Context) error) error {
	_, err := Operation(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, operation(ctx)
	})
	return err
}

// Transaction wraps a database transaction with retry logic.
func Transaction(ctx context.Context, db *bun.DB, fn func(context.Context, bun.Tx) error) error {
	return NoResult(ctx, func(ctx context.Context) error {
		return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return fn(ctx, tx)
		})
	})
}
