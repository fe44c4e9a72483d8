package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/tandem-social/tandem/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultExpoEndpoint is the Expo push send API.
const DefaultExpoEndpoint = "https://exp.host/--/api/v2/push/send"

var (
	ErrBatchTooLarge   = errors.New("push batch exceeds provider limit")
	ErrProviderStatus  = errors.New("push provider returned an error status")
	ErrTicketsMismatch = errors.New("push provider returned a different number of tickets")
)

type expoResponse struct {
	Data   []Ticket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// ExpoProvider dispatches batches to the Expo push API.
type ExpoProvider struct {
	client      *http.Client
	endpoint    string
	accessToken string
	limiter     *rate.Limiter
	retry       utils.RetryOptions
	logger      *zap.Logger
}

// ExpoOption configures an ExpoProvider.
type ExpoOption func(*ExpoProvider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) ExpoOption {
	return func(p *ExpoProvider) {
		p.client = client
	}
}

// WithRetryOptions replaces the default retry policy.
func WithRetryOptions(opts utils.RetryOptions) ExpoOption {
	return func(p *ExpoProvider) {
		p.retry = opts
	}
}

// NewExpoProvider creates a provider limited to requestsPerSecond requests.
// A non-positive rate disables the limit.
func NewExpoProvider(
	endpoint, accessToken string, requestsPerSecond float64, logger *zap.Logger, opts ...ExpoOption,
) *ExpoProvider {
	if endpoint == "" {
		endpoint = DefaultExpoEndpoint
	}

	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}

	p := &ExpoProvider{
		client:      &http.Client{Timeout: 10 * time.Second},
		endpoint:    endpoint,
		accessToken: accessToken,
		limiter:     rate.NewLimiter(limit, 1),
		retry:       utils.GetPushRetryOptions(),
		logger:      logger.Named("expo"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dispatch sends one batch and returns the tickets in request order.
// Server errors and throttling are retried; other failures are returned as is.
func (p *ExpoProvider) Dispatch(ctx context.Context, batch []Message) ([]Ticket, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if len(batch) > DefaultChunkSize {
		return nil, fmt.Errorf("%w: %d messages", ErrBatchTooLarge, len(batch))
	}

	payload, err := sonic.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push batch: %w", err)
	}

	tickets, err := utils.WithRetry(ctx, func() ([]Ticket, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		return p.send(ctx, payload)
	}, p.retry)
	if err != nil {
		return nil, err
	}

	if len(tickets) != len(batch) {
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrTicketsMismatch, len(batch), len(tickets))
	}
	return tickets, nil
}

func (p *ExpoProvider) send(ctx context.Context, payload []byte) ([]Ticket, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build push request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if p.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.accessToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read push response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: %d %s", ErrProviderStatus, resp.StatusCode, bytes.TrimSpace(body))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			p.logger.Warn("Retrying push request", zap.Int("status", resp.StatusCode))
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	var decoded expoResponse
	if err := sonic.Unmarshal(body, &decoded); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode push response: %w", err))
	}

	if len(decoded.Errors) > 0 {
		return nil, backoff.Permanent(fmt.Errorf("%w: %s: %s",
			ErrProviderStatus, decoded.Errors[0].Code, decoded.Errors[0].Message))
	}

	return decoded.Data, nil
}
