package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/tandem-social/tandem/internal/database/types"
	"github.com/tandem-social/tandem/pkg/utils"
	"go.uber.org/zap"
)

// DefaultDispatchTimeout bounds one background dispatch.
const DefaultDispatchTimeout = 15 * time.Second

// Dispatcher is the fire-and-forget entry point used by the chat and
// connection services. Every dispatch runs in the background on a context
// detached from the caller; failures are logged and swallowed.
type Dispatcher struct {
	fanout        *Fanout
	timeout       time.Duration
	previewLength int
	wg            conc.WaitGroup
	logger        *zap.Logger
}

// NewDispatcher creates a Dispatcher around a Fanout.
func NewDispatcher(fanout *Fanout, timeout time.Duration, previewLength int, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return &Dispatcher{
		fanout:        fanout,
		timeout:       timeout,
		previewLength: previewLength,
		logger:        logger.Named("notify_dispatcher"),
	}
}

// ChatMessage notifies the chat participants that are not looking at the chat.
func (d *Dispatcher) ChatMessage(ctx context.Context, senderID, chatID uuid.UUID, body string) {
	preview := utils.Preview(body, d.previewLength)

	d.run(ctx, func(ctx context.Context) error {
		_, err := d.fanout.NotifyParticipants(ctx, senderID, chatID, preview)
		return err
	}, zap.String("kind", "chat"), zap.String("chat", chatID.String()))
}

// FriendRequest notifies a private user about an incoming request.
func (d *Dispatcher) FriendRequest(ctx context.Context, requester *types.User, receiverID uuid.UUID) {
	body := requester.Name + " wants to connect with you"
	data := map[string]string{"type": "friend_request", "userId": requester.ID.String()}

	d.run(ctx, func(ctx context.Context) error {
		return d.fanout.NotifySingleUser(ctx, receiverID, "New friend request", body, data)
	}, zap.String("kind", "friend_request"), zap.String("receiver", receiverID.String()))
}

func (d *Dispatcher) run(ctx context.Context, dispatch func(context.Context) error, fields ...zap.Field) {
	bg := context.WithoutCancel(ctx)

	d.wg.Go(func() {
		ctx, cancel := context.WithTimeout(bg, d.timeout)
		defer cancel()

		err := dispatch(ctx)
		switch {
		case err == nil:
		case errors.Is(err, types.ErrNoPushToken):
			d.logger.Debug("Recipient has no push token", fields...)
		default:
			d.logger.Warn("Push notification failed", append(fields, zap.Error(err))...)
		}
	})
}

// Wait blocks until every in-flight dispatch finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Fanout returns the fan-out used for synchronous sends.
func (d *Dispatcher) Fanout() *Fanout {
	return d.fanout
}
