package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/talkwire/pkg/store"
)

// AreConnected implements [store.ConnectionStore]. The lookup is symmetric:
// an edge in either orientation authorizes the pair.
func (s *Store) AreConnected(ctx context.Context, a, b int64) (bool, error) {
	const q = `
		SELECT EXISTS (
		    SELECT 1 FROM user_connections
		    WHERE (user_id = $1 AND connected_user_id = $2)
		       OR (user_id = $2 AND connected_user_id = $1)
		)`

	var connected bool
	if err := s.pool.QueryRow(ctx, q, a, b).Scan(&connected); err != nil {
		return false, mapErr("are connected", err)
	}
	return connected, nil
}

// ConnectionsOf implements [store.ConnectionStore]. It returns the union of
// both edge orientations, deduplicated by the UNION.
func (s *Store) ConnectionsOf(ctx context.Context, userID int64) ([]int64, error) {
	const q = `
		SELECT connected_user_id FROM user_connections WHERE user_id = $1
		UNION
		SELECT user_id FROM user_connections WHERE connected_user_id = $1`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, mapErr("connections of", err)
	}
	defer rows.Close()

	var peers []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapErr("connections of", err)
		}
		peers = append(peers, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("connections of", err)
	}
	return peers, nil
}

// AddConnection implements [store.ConnectionStore]. The duplicate check is
// symmetric and runs in the same transaction as the insert.
func (s *Store) AddConnection(ctx context.Context, a, b int64) (store.Connection, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.Connection{}, mapErr("add connection", err)
	}
	defer tx.Rollback(ctx)

	const check = `
		SELECT EXISTS (
		    SELECT 1 FROM user_connections
		    WHERE (user_id = $1 AND connected_user_id = $2)
		       OR (user_id = $2 AND connected_user_id = $1)
		)`
	var exists bool
	if err := tx.QueryRow(ctx, check, a, b).Scan(&exists); err != nil {
		return store.Connection{}, mapErr("add connection", err)
	}
	if exists {
		return store.Connection{}, fmt.Errorf("add connection: %w", store.ErrDuplicate)
	}

	const insert = `
		INSERT INTO user_connections (user_id, connected_user_id)
		VALUES ($1, $2)
		RETURNING user_id, connected_user_id, created_at`
	var conn store.Connection
	if err := tx.QueryRow(ctx, insert, a, b).Scan(&conn.UserID, &conn.ConnectedUserID, &conn.CreatedAt); err != nil {
		return store.Connection{}, mapErr("add connection", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return store.Connection{}, mapErr("add connection", err)
	}
	return conn, nil
}

// RemoveConnection implements [store.ConnectionStore]. It deletes the edge in
// whichever orientation it exists.
func (s *Store) RemoveConnection(ctx context.Context, a, b int64) error {
	const q = `
		DELETE FROM user_connections
		WHERE (user_id = $1 AND connected_user_id = $2)
		   OR (user_id = $2 AND connected_user_id = $1)`

	tag, err := s.pool.Exec(ctx, q, a, b)
	if err != nil {
		return mapErr("remove connection", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("remove connection", pgx.ErrNoRows)
	}
	return nil
}
