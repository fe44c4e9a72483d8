package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/database/models"
	"github.com/tandem-social/tandem/internal/database/types"
	"go.uber.org/zap"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// pageBounds clamps caller-supplied paging to sane values.
func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	limit = min(limit, maxPageLimit)
	return limit, max(offset, 0)
}

// ConnectionService handles the friend graph and blocks.
type ConnectionService struct {
	users    UserStore
	conns    ConnectionStore
	blocks   BlockStore
	notifier Notifier
	logger   *zap.Logger
}

// NewConnection creates a new connection service.
func NewConnection(
	users UserStore, conns ConnectionStore, blocks BlockStore, notifier Notifier, logger *zap.Logger,
) *ConnectionService {
	return &ConnectionService{
		users:    users,
		conns:    conns,
		blocks:   blocks,
		notifier: notifier,
		logger:   logger.Named("connection_service"),
	}
}

// SendRequest creates an edge from requester to receiver. The edge is accepted
// immediately when the receiver is public. If an edge already exists in either
// direction it is returned unchanged with created set to false.
func (s *ConnectionService) SendRequest(
	ctx context.Context, requesterID, receiverID uuid.UUID,
) (conn *types.Connection, created bool, err error) {
	if requesterID == receiverID {
		return nil, false, types.ErrSelfRequest
	}

	// Both parties must be active
	requester, err := s.activeUser(ctx, requesterID)
	if err != nil {
		return nil, false, err
	}
	receiver, err := s.activeUser(ctx, receiverID)
	if err != nil {
		return nil, false, err
	}

	// Only completed profiles can connect
	if !requester.HasCompleteProfile() || !receiver.HasCompleteProfile() {
		return nil, false, types.ErrIncompleteProfile
	}

	// Get existing edge in either direction
	existing, err := s.conns.GetBetween(ctx, requesterID, receiverID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, types.ErrConnectionNotFound) {
		return nil, false, fmt.Errorf("failed to check existing connection: %w", err)
	}

	// Public receivers accept on creation
	conn = types.NewConnection(requesterID, receiverID, !receiver.Private, time.Now())
	conn.CounterWeight = types.CreateCounterStep

	// Insert the edge and credit both counters in one step
	inserted, err := s.conns.Insert(ctx, conn)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create connection: %w", err)
	}
	if !inserted {
		// Lost a race with a concurrent request for the same pair
		existing, err := s.conns.GetBetween(ctx, requesterID, receiverID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read concurrent connection: %w", err)
		}
		return existing, false, nil
	}

	s.logger.Debug("Connection created",
		zap.String("requester", requesterID.String()),
		zap.String("receiver", receiverID.String()),
		zap.Bool("accepted", conn.Accepted))

	// Only pending requests notify
	if receiver.Private {
		s.notifyRequest(ctx, requester, receiverID)
	}

	return conn, true, nil
}

// notifyRequest dispatches the friend request notification unless either
// party has blocked the other.
func (s *ConnectionService) notifyRequest(ctx context.Context, requester *types.User, receiverID uuid.UUID) {
	blocked, err := s.blocks.IsBlockedEither(ctx, requester.ID, receiverID)
	if err != nil {
		s.logger.Warn("Skipping request notification, block check failed",
			zap.String("receiver", receiverID.String()),
			zap.Error(err))
		return
	}
	if blocked {
		return
	}

	s.notifier.FriendRequest(ctx, requester, receiverID)
}

// AcceptRequest accepts the pending request from requester to user.
// Of two concurrent accepts only one succeeds; the other sees NotFound.
func (s *ConnectionService) AcceptRequest(ctx context.Context, userID, requesterID uuid.UUID) (*types.Connection, error) {
	// Make sure there is something to accept
	if _, err := s.pendingEdge(ctx, requesterID, userID); err != nil {
		return nil, err
	}

	// A block in either direction freezes the request
	blocked, err := s.blocks.IsBlockedEither(ctx, userID, requesterID)
	if err != nil {
		return nil, fmt.Errorf("failed to check blocks: %w", err)
	}
	if blocked {
		return nil, types.ErrBlocked
	}

	// Flip the edge and move the counters together so a concurrent removal
	// reverses exactly what was credited
	return s.conns.Accept(ctx, requesterID, userID, types.AcceptCounterStep)
}

// RejectRequest deletes the pending request from requester to user.
func (s *ConnectionService) RejectRequest(ctx context.Context, userID, requesterID uuid.UUID) error {
	conn, err := s.conns.GetBetween(ctx, userID, requesterID)
	if err != nil {
		return err
	}
	// The edge must point at the caller
	if conn.RequesterID != requesterID {
		return types.ErrConnectionNotFound
	}
	if conn.Accepted {
		return types.ErrAlreadyAccepted
	}

	_, err = s.conns.DeletePending(ctx, requesterID, userID)
	return err
}

// RecallRequest deletes the user's own pending request to receiver.
func (s *ConnectionService) RecallRequest(ctx context.Context, userID, receiverID uuid.UUID) error {
	_, err := s.conns.DeletePending(ctx, userID, receiverID)
	return err
}

// RemoveConnection deletes the edge between user and friend in either
// direction and reverses the counter credit it applied. When no edge exists it
// fails with NotFound unless skipStrict is set.
func (s *ConnectionService) RemoveConnection(ctx context.Context, userID, friendID uuid.UUID, skipStrict bool) error {
	if _, err := s.conns.DeleteBetween(ctx, userID, friendID); err != nil {
		if skipStrict && errors.Is(err, types.ErrConnectionNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// Block records that user blocked target and drops any edge between them.
func (s *ConnectionService) Block(ctx context.Context, userID, targetID uuid.UUID) error {
	if userID == targetID {
		return types.ErrSelfRequest
	}
	if _, err := s.users.GetByID(ctx, targetID); err != nil {
		return err
	}

	// Record the block before dropping the edge
	if _, err := s.blocks.Block(ctx, userID, targetID); err != nil {
		return fmt.Errorf("failed to block user: %w", err)
	}

	// Drop any edge, pending or accepted
	if err := s.RemoveConnection(ctx, userID, targetID, true); err != nil {
		s.logger.Warn("Failed to drop connection after block",
			zap.String("user", userID.String()),
			zap.String("target", targetID.String()),
			zap.Error(err))
	}
	return nil
}

// Unblock lifts a block. Lifting a missing block is not an error.
func (s *ConnectionService) Unblock(ctx context.Context, userID, targetID uuid.UUID) error {
	return s.blocks.Unblock(ctx, userID, targetID)
}

// ListBlocked returns the users the caller has blocked.
func (s *ConnectionService) ListBlocked(ctx context.Context, userID uuid.UUID) ([]types.UserSummary, error) {
	blocks, err := s.blocks.ListBlocked(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Resolve blocked users keeping block order
	ids := make([]uuid.UUID, len(blocks))
	for i, b := range blocks {
		ids[i] = b.BlockedUserID
	}

	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make([]types.UserSummary, 0, len(ids))
	for _, id := range ids {
		if user, ok := users[id]; ok {
			result = append(result, user.Summary())
		}
	}
	return result, nil
}

// ListFriends returns a page of the user's accepted connections.
func (s *ConnectionService) ListFriends(
	ctx context.Context, userID uuid.UUID, limit, offset int,
) ([]*types.ConnectionView, error) {
	return s.listConnections(ctx, userID, models.ConnectionFriends, limit, offset)
}

// ListPendingRequests returns a page of requests waiting on the user.
func (s *ConnectionService) ListPendingRequests(
	ctx context.Context, userID uuid.UUID, limit, offset int,
) ([]*types.ConnectionView, error) {
	return s.listConnections(ctx, userID, models.ConnectionIncoming, limit, offset)
}

// ListSentRequests returns a page of requests the user is waiting on.
func (s *ConnectionService) ListSentRequests(
	ctx context.Context, userID uuid.UUID, limit, offset int,
) ([]*types.ConnectionView, error) {
	return s.listConnections(ctx, userID, models.ConnectionOutgoing, limit, offset)
}

// listConnections projects edges for the caller, hiding blocked, suspended
// and terminated counterparts.
func (s *ConnectionService) listConnections(
	ctx context.Context, userID uuid.UUID, kind models.ConnectionKind, limit, offset int,
) ([]*types.ConnectionView, error) {
	limit, offset = pageBounds(limit, offset)

	// Hide anyone on either side of a block
	excluded, err := s.blocks.RelatedIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get block relations: %w", err)
	}

	conns, err := s.conns.List(ctx, userID, kind, excluded, limit, offset)
	if err != nil {
		return nil, err
	}

	// Resolve the other endpoints in one query
	otherIDs := make([]uuid.UUID, len(conns))
	for i, conn := range conns {
		otherIDs[i] = conn.Other(userID)
	}

	users, err := s.users.GetByIDs(ctx, otherIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve users: %w", err)
	}

	// Drop suspended and terminated counterparts
	views := make([]*types.ConnectionView, 0, len(conns))
	for _, conn := range conns {
		other, ok := users[conn.Other(userID)]
		if !ok || !other.Active() {
			continue
		}
		views = append(views, &types.ConnectionView{
			Connection: conn,
			User:       other.Summary(),
		})
	}
	return views, nil
}

// Search finds users by username or name prefix, hiding the caller and
// anyone blocked by or blocking the caller.
func (s *ConnectionService) Search(
	ctx context.Context, userID uuid.UUID, query string, limit int,
) ([]types.UserSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []types.UserSummary{}, nil
	}
	limit, _ = pageBounds(limit, 0)

	excluded, err := s.blocks.RelatedIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get block relations: %w", err)
	}
	// Never return the caller
	excluded = append(excluded, userID)

	users, err := s.users.Search(ctx, query, excluded, limit)
	if err != nil {
		return nil, err
	}

	result := make([]types.UserSummary, 0, len(users))
	for _, user := range users {
		result = append(result, user.Summary())
	}
	return result, nil
}

// DeleteAccount removes every edge of the user, reversing the credit they
// applied to the other endpoints, then deletes the user.
func (s *ConnectionService) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	// Reverse counter credit edge by edge
	conns, err := s.conns.ListAll(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list connections: %w", err)
	}

	for _, conn := range conns {
		if err := s.RemoveConnection(ctx, userID, conn.Other(userID), true); err != nil {
			return fmt.Errorf("failed to remove connection: %w", err)
		}
	}

	// Take back engagement counts then delete, the rest cascades
	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("Account deleted",
		zap.String("user", userID.String()),
		zap.Int("connections", len(conns)))
	return nil
}

// pendingEdge returns the pending edge from requester to receiver.
func (s *ConnectionService) pendingEdge(ctx context.Context, requesterID, receiverID uuid.UUID) (*types.Connection, error) {
	conn, err := s.conns.GetBetween(ctx, requesterID, receiverID)
	if err != nil {
		return nil, err
	}
	if conn.RequesterID != requesterID || conn.Accepted {
		return nil, types.ErrConnectionNotFound
	}
	return conn, nil
}

// activeUser loads a user, treating suspended and terminated accounts as missing.
func (s *ConnectionService) activeUser(ctx context.Context, id uuid.UUID) (*types.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.Active() {
		return nil, types.ErrUserNotFound
	}
	return user, nil
}
