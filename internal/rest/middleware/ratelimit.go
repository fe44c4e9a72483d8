package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tandem-social/tandem/internal/auth"
	"github.com/tandem-social/tandem/internal/rest/handler"
	restTypes "github.com/tandem-social/tandem/internal/rest/types"
	"github.com/tandem-social/tandem/internal/setup/config"
	"github.com/tandem-social/tandem/pkg/utils"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	errBlocked    = "temporarily blocked for repeated rate limit violations"
	errRateLimit  = "rate limit exceeded"
	headerRetryAt = "Retry-After"
)

type limiterState struct {
	mu           sync.Mutex
	limiter      *rate.Limiter
	strikes      int       // Number of times client has violated rate limit
	blockedUntil time.Time // Time until client is blocked for repeated violations
}

// RateLimit limits requests per authenticated user, falling back to the remote
// address for anonymous requests. Clients that keep exceeding the limit are
// blocked for a while.
type RateLimit struct {
	limiters *utils.TTLMap[string, *limiterState]
	config   *config.RateLimit
	logger   *zap.Logger
}

// NewRateLimit creates a new rate limiting middleware.
func NewRateLimit(config *config.RateLimit, logger *zap.Logger) *RateLimit {
	// Use the longer of block duration or burst window * 2 for TTL
	ttl := time.Second * time.Duration(max(config.BurstSize*2, 1))
	if blockTTL := time.Second * time.Duration(config.BlockDuration*2); blockTTL > ttl {
		ttl = blockTTL
	}

	return &RateLimit{
		limiters: utils.NewTTLMap[string, *limiterState](ttl),
		config:   config,
		logger:   logger.Named("rate_limit"),
	}
}

// Close stops expiring idle limiters.
func (m *RateLimit) Close() {
	m.limiters.Close()
}

// AsRESTMiddleware returns a bunrouter middleware handler for rate limiting.
func (m *RateLimit) AsRESTMiddleware(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		key := clientKey(req)
		if allowed, retryAfter, msg := m.check(key); !allowed {
			if retryAfter > 0 {
				w.Header().Set(headerRetryAt, strconv.Itoa(int(retryAfter.Round(time.Second).Seconds())))
			}
			return handler.Render(w, http.StatusTooManyRequests, restTypes.ErrorResponse{Error: msg})
		}
		return next(w, req)
	}
}

// check reports whether the client may proceed, and otherwise how long it should wait.
func (m *RateLimit) check(key string) (bool, time.Duration, string) {
	state := m.limiters.GetOrSet(key, func() *limiterState {
		return &limiterState{
			limiter: rate.NewLimiter(rate.Limit(m.config.RequestsPerSecond), m.config.BurstSize),
		}
	})

	state.mu.Lock()
	defer state.mu.Unlock()

	now := time.Now()
	if now.Before(state.blockedUntil) {
		retryAfter := state.blockedUntil.Sub(now)
		m.logger.Debug("Client is temporarily blocked",
			zap.String("client", key),
			zap.Duration("retry_after", retryAfter))
		return false, retryAfter, errBlocked
	}

	reservation := state.limiter.ReserveN(now, 1)
	if reservation.OK() {
		delay := reservation.DelayFrom(now)
		if delay == 0 {
			state.strikes = 0
			return true, 0, ""
		}
		reservation.CancelAt(now)

		if blocked, retryAfter := m.strike(state, key, now); blocked {
			return false, retryAfter, errBlocked
		}
		return false, delay, errRateLimit
	}

	if blocked, retryAfter := m.strike(state, key, now); blocked {
		return false, retryAfter, errBlocked
	}
	return false, 0, errRateLimit
}

// strike records a violation and blocks the client once it reaches the limit.
func (m *RateLimit) strike(state *limiterState, key string, now time.Time) (bool, time.Duration) {
	state.strikes++
	if state.strikes < m.config.StrikeLimit {
		m.logger.Debug("Rate limit exceeded",
			zap.String("client", key),
			zap.Int("strikes", state.strikes))
		return false, 0
	}

	blockDuration := time.Duration(m.config.BlockDuration) * time.Second
	state.blockedUntil = now.Add(blockDuration)
	state.strikes = 0

	m.logger.Info("Client exceeded strike limit and is now blocked",
		zap.String("client", key),
		zap.Duration("block_duration", blockDuration))

	return true, blockDuration
}

func clientKey(req bunrouter.Request) string {
	if userID, ok := auth.UserFromContext(req.Context()); ok {
		return "user:" + userID.String()
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	return "ip:" + host
}
