package notify

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"github.com/tandem-social/tandem/internal/database/types"
	"go.uber.org/zap"
)

// Fanout resolves recipients and dispatches push batches.
type Fanout struct {
	users         UserStore
	chats         ChatStore
	presence      Presence
	provider      Provider
	chunkSize     int
	maxConcurrent int
	logger        *zap.Logger
}

// NewFanout creates a Fanout. Non-positive sizes fall back to the provider maximum
// and a single worker.
func NewFanout(
	users UserStore, chats ChatStore, presence Presence, provider Provider,
	chunkSize, maxConcurrent int, logger *zap.Logger,
) *Fanout {
	if chunkSize <= 0 || chunkSize > DefaultChunkSize {
		chunkSize = DefaultChunkSize
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Fanout{
		users:         users,
		chats:         chats,
		presence:      presence,
		provider:      provider,
		chunkSize:     chunkSize,
		maxConcurrent: maxConcurrent,
		logger:        logger.Named("notify"),
	}
}

type chunkResult struct {
	sent   int
	failed int
}

// NotifyParticipants pushes body to every participant of the chat except the
// sender and anyone who currently has the chat open. Each chunk is dispatched
// independently; a failed chunk is counted and logged without affecting the others.
func (f *Fanout) NotifyParticipants(ctx context.Context, senderID, chatID uuid.UUID, body string) (*Report, error) {
	chat, err := f.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}

	recipients := slices.DeleteFunc(chat.Participants(), func(id uuid.UUID) bool {
		return id == senderID
	})

	present, err := f.presence.PresentUsers(ctx, chatID)
	if err != nil {
		// Without presence data everyone but the sender is notified
		f.logger.Warn("Failed to read chat presence",
			zap.String("chat", chatID.String()),
			zap.Error(err))
	}
	recipients = slices.DeleteFunc(recipients, func(id uuid.UUID) bool {
		return slices.Contains(present, id)
	})

	report := &Report{Recipients: len(recipients)}
	if len(recipients) == 0 {
		return report, nil
	}

	users, err := f.users.GetByIDs(ctx, append(slices.Clone(recipients), senderID))
	if err != nil {
		return nil, err
	}

	title := "New message"
	if sender, ok := users[senderID]; ok {
		title = sender.Name
	}

	messages := make([]Message, 0, len(recipients))
	for _, id := range recipients {
		user, ok := users[id]
		if !ok || !user.Active() || user.PushToken == "" {
			report.Skipped++
			continue
		}
		if !ValidToken(user.PushToken) {
			f.logger.Warn("Dropping malformed push token",
				zap.String("user", id.String()))
			report.Skipped++
			continue
		}

		messages = append(messages, Message{
			To:    user.PushToken,
			Title: title,
			Body:  body,
			Sound: "default",
			Data:  map[string]string{"type": "chat", "chatId": chatID.String()},
		})
	}

	delivered := f.Broadcast(ctx, messages)
	report.Sent = delivered.Sent
	report.Failed = delivered.Failed

	f.logger.Debug("Chat notification fan-out finished",
		zap.String("chat", chatID.String()),
		zap.Int("recipients", report.Recipients),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped))

	return report, nil
}

// Broadcast splits messages into provider-sized chunks and dispatches them
// concurrently. Only Sent and Failed are filled in the returned report.
func (f *Fanout) Broadcast(ctx context.Context, messages []Message) Report {
	p := pool.NewWithResults[chunkResult]().WithMaxGoroutines(f.maxConcurrent)
	for chunk := range slices.Chunk(messages, f.chunkSize) {
		p.Go(func() chunkResult {
			return f.dispatchChunk(ctx, chunk)
		})
	}

	var report Report
	for _, result := range p.Wait() {
		report.Sent += result.sent
		report.Failed += result.failed
	}
	return report
}

func (f *Fanout) dispatchChunk(ctx context.Context, chunk []Message) chunkResult {
	tickets, err := f.provider.Dispatch(ctx, chunk)
	if err != nil {
		f.logger.Error("Push chunk dispatch failed",
			zap.Int("size", len(chunk)),
			zap.Error(err))
		return chunkResult{failed: len(chunk)}
	}

	var result chunkResult
	for i := range chunk {
		if i < len(tickets) && tickets[i].OK() {
			result.sent++
			continue
		}

		result.failed++
		if i < len(tickets) {
			f.logger.Warn("Push ticket rejected",
				zap.String("status", tickets[i].Status),
				zap.String("message", tickets[i].Message))
		}
	}
	return result
}

// NotifySingleUser pushes one notification to a user. It fails with
// types.ErrNoPushToken when the user has no token, types.ErrInvalidToken when
// the token is malformed and types.ErrUpstream when the provider fails.
func (f *Fanout) NotifySingleUser(ctx context.Context, userID uuid.UUID, title, body string, data map[string]string) error {
	user, err := f.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.PushToken == "" {
		return types.ErrNoPushToken
	}
	if !ValidToken(user.PushToken) {
		return types.ErrInvalidToken
	}

	tickets, err := f.provider.Dispatch(ctx, []Message{{
		To:    user.PushToken,
		Title: title,
		Body:  body,
		Sound: "default",
		Data:  data,
	}})
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrUpstream, err)
	}
	if len(tickets) == 0 || !tickets[0].OK() {
		return fmt.Errorf("%w: push ticket rejected", types.ErrUpstream)
	}

	return nil
}
