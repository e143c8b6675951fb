package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/talkwire/pkg/store"
)

// CreateCall implements [store.CallStore].
func (s *Store) CreateCall(ctx context.Context, callerID, calleeID int64, roomName string) (store.Call, error) {
	const q = `
		INSERT INTO calls (caller_id, callee_id, room_name, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, caller_id, callee_id, room_name, status,
		          started_at, ended_at, duration_seconds`

	c, err := scanCall(s.pool.QueryRow(ctx, q, callerID, calleeID, roomName, store.CallInitiated))
	if err != nil {
		return store.Call{}, mapErr("create call", err)
	}
	return c, nil
}

// GetCall implements [store.CallStore].
func (s *Store) GetCall(ctx context.Context, id int64) (store.Call, error) {
	const q = `
		SELECT id, caller_id, callee_id, room_name, status,
		       started_at, ended_at, duration_seconds
		FROM   calls WHERE id = $1`

	c, err := scanCall(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		return store.Call{}, mapErr("get call", err)
	}
	return c, nil
}

// SetCallStatus implements [store.CallStore].
func (s *Store) SetCallStatus(ctx context.Context, id int64, status store.CallStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE calls SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return mapErr("set call status", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("set call status", pgx.ErrNoRows)
	}
	return nil
}

// FinishCall implements [store.CallStore].
func (s *Store) FinishCall(ctx context.Context, id int64, endedAt time.Time, duration *int64) error {
	const q = `
		UPDATE calls
		SET    status = $2, ended_at = $3, duration_seconds = $4
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, store.CallEnded, endedAt, duration)
	if err != nil {
		return mapErr("finish call", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("finish call", pgx.ErrNoRows)
	}
	return nil
}

func scanCall(r rowScanner) (store.Call, error) {
	var (
		c        store.Call
		ended    sql.NullTime
		duration sql.NullInt64
	)
	if err := r.Scan(&c.ID, &c.CallerID, &c.CalleeID, &c.RoomName, &c.Status,
		&c.StartedAt, &ended, &duration); err != nil {
		return store.Call{}, err
	}
	if ended.Valid {
		t := ended.Time
		c.EndedAt = &t
	}
	if duration.Valid {
		d := duration.Int64
		c.DurationSeconds = &d
	}
	return c, nil
}
