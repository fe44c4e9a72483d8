package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/database/dbretry"
	"github.com/tandem-social/tandem/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ConnectionKind selects which edges of a user a listing returns.
type ConnectionKind int

const (
	// ConnectionFriends lists accepted edges in either direction.
	ConnectionFriends ConnectionKind = iota
	// ConnectionIncoming lists pending edges received by the user.
	ConnectionIncoming
	// ConnectionOutgoing lists pending edges sent by the user.
	ConnectionOutgoing
)

// ConnectionModel handles database operations for friend edges.
//
// Every mutation is a conditional statement on the edge followed by the
// matching friend counter update, both in one transaction. Concurrent callers
// racing on the same edge see exactly one winner and the counters always
// match the edges that exist.
type ConnectionModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewConnection creates a new connection model.
func NewConnection(db *bun.DB, logger *zap.Logger) *ConnectionModel {
	return &ConnectionModel{
		db:     db,
		logger: logger.Named("db_connection"),
	}
}

// GetBetween returns the edge between two users in either direction.
func (r *ConnectionModel) GetBetween(ctx context.Context, a, b uuid.UUID) (*types.Connection, error) {
	low, high := types.SortPair(a, b)

	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Connection, error) {
		var conn types.Connection
		err := r.db.NewSelect().
			Model(&conn).
			Where("user_low = ?", low).
			Where("user_high = ?", high).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, types.ErrConnectionNotFound
			}
			return nil, fmt.Errorf("failed to get connection: %w", err)
		}
		return &conn, nil
	})
}

// Insert creates the edge unless the pair already has one and credits the
// edge's counter weight to both endpoints in the same transaction.
// Returns false when another edge for the pair exists.
func (r *ConnectionModel) Insert(ctx context.Context, conn *types.Connection) (bool, error) {
	var inserted bool
	err := dbretry.Transaction(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		inserted = false

		// Insert the edge, the unique pair index decides races
		res, err := tx.NewInsert().
			Model(conn).
			On("CONFLICT (user_low, user_high) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert connection: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return nil
		}

		// Credit the new edge to both endpoints
		if err := adjustFriendCounters(ctx, tx, conn.RequesterID, conn.ReceiverID, conn.CounterWeight); err != nil {
			return err
		}

		inserted = true
		return nil
	})
	return inserted, err
}

// Accept flips a pending edge from requester to receiver to accepted, adds
// step to its counter weight and credits step to both endpoints, all in one
// transaction. Only one concurrent caller can succeed.
func (r *ConnectionModel) Accept(
	ctx context.Context, requesterID, receiverID uuid.UUID, step int,
) (*types.Connection, error) {
	var conn types.Connection
	err := dbretry.Transaction(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		// Flip the edge, which also locks it against a concurrent delete
		err := tx.NewUpdate().
			Model(&conn).
			Set("accepted = true").
			Set("counter_weight = counter_weight + ?", step).
			Set("updated_at = ?", time.Now()).
			Where("requester_id = ?", requesterID).
			Where("receiver_id = ?", receiverID).
			Where("accepted = false").
			Returning("*").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return types.ErrConnectionNotFound
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		// Credit the accept step before the lock is released
		return adjustFriendCounters(ctx, tx, requesterID, receiverID, step)
	})
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// DeletePending deletes the pending edge from requester to receiver and
// reverses its counter credit.
func (r *ConnectionModel) DeletePending(
	ctx context.Context, requesterID, receiverID uuid.UUID,
) (*types.Connection, error) {
	return r.deleteReturning(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("requester_id = ?", requesterID).
			Where("receiver_id = ?", receiverID).
			Where("accepted = false")
	})
}

// DeleteBetween deletes the edge between two users in either direction and
// reverses its counter credit.
func (r *ConnectionModel) DeleteBetween(ctx context.Context, a, b uuid.UUID) (*types.Connection, error) {
	low, high := types.SortPair(a, b)
	return r.deleteReturning(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("user_low = ?", low).Where("user_high = ?", high)
	})
}

// deleteReturning deletes at most one edge and takes back exactly the counter
// weight it had credited, in one transaction.
func (r *ConnectionModel) deleteReturning(
	ctx context.Context, where func(*bun.DeleteQuery) *bun.DeleteQuery,
) (*types.Connection, error) {
	var deleted *types.Connection
	err := dbretry.Transaction(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		deleted = nil

		var conns []*types.Connection
		err := where(tx.NewDelete().Model(&conns)).
			Returning("*").
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to delete connection: %w", err)
		}
		if len(conns) == 0 {
			return types.ErrConnectionNotFound
		}

		// Reverse the credit recorded on the edge
		conn := conns[0]
		if err := adjustFriendCounters(ctx, tx, conn.RequesterID, conn.ReceiverID, -conn.CounterWeight); err != nil {
			return err
		}

		deleted = conn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// List returns a page of the user's edges of the given kind, newest first,
// skipping edges whose other endpoint is in excludeIDs.
func (r *ConnectionModel) List(
	ctx context.Context, userID uuid.UUID, kind ConnectionKind, excludeIDs []uuid.UUID, limit, offset int,
) ([]*types.Connection, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Connection, error) {
		var conns []*types.Connection
		q := r.db.NewSelect().Model(&conns)

		switch kind {
		case ConnectionFriends:
			q = q.Where("accepted = true").
				WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
					return q.Where("requester_id = ?", userID).WhereOr("receiver_id = ?", userID)
				})
			if len(excludeIDs) > 0 {
				q = q.Where("requester_id NOT IN (?)", bun.In(excludeIDs)).
					Where("receiver_id NOT IN (?)", bun.In(excludeIDs))
			}
		case ConnectionIncoming:
			q = q.Where("accepted = false").Where("receiver_id = ?", userID)
			if len(excludeIDs) > 0 {
				q = q.Where("requester_id NOT IN (?)", bun.In(excludeIDs))
			}
		case ConnectionOutgoing:
			q = q.Where("accepted = false").Where("requester_id = ?", userID)
			if len(excludeIDs) > 0 {
				q = q.Where("receiver_id NOT IN (?)", bun.In(excludeIDs))
			}
		}

		err := q.Order("updated_at DESC", "id").
			Limit(limit).
			Offset(offset).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list connections: %w", err)
		}
		return conns, nil
	})
}

// ListAll returns every edge touching the user regardless of state.
func (r *ConnectionModel) ListAll(ctx context.Context, userID uuid.UUID) ([]*types.Connection, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Connection, error) {
		var conns []*types.Connection
		err := r.db.NewSelect().
			Model(&conns).
			Where("requester_id = ?", userID).
			WhereOr("receiver_id = ?", userID).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list all connections: %w", err)
		}
		return conns, nil
	})
}

// FriendIDs returns the IDs of every accepted connection of the user.
func (r *ConnectionModel) FriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]uuid.UUID, error) {
		var ids []uuid.UUID
		err := r.db.NewSelect().
			Model((*types.Connection)(nil)).
			ColumnExpr("CASE WHEN requester_id = ? THEN receiver_id ELSE requester_id END", userID).
			Where("accepted = true").
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("requester_id = ?", userID).WhereOr("receiver_id = ?", userID)
			}).
			Scan(ctx, &ids)
		if err != nil {
			return nil, fmt.Errorf("failed to get friend ids: %w", err)
		}
		return ids, nil
	})
}
