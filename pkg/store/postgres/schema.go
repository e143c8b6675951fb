// Package postgres provides the PostgreSQL-backed implementation of the
// Talkwire durable store: users, connection edges, calls, transcripts, and
// analyses share a single [pgxpool.Pool].
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//
//	call, _ := st.CreateCall(ctx, callerID, calleeID, roomName)
//	_ = st.ReplaceTranscript(ctx, call.ID, "Hello world")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id                         BIGSERIAL    PRIMARY KEY,
    email                      TEXT         NOT NULL UNIQUE,
    name                       TEXT         NOT NULL DEFAULT '',
    display_name               TEXT         NOT NULL DEFAULT '',
    connection_code            TEXT         NOT NULL DEFAULT '',
    connection_code_expires_at TIMESTAMPTZ,
    created_at                 TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_connection_code
    ON users (connection_code) WHERE connection_code <> '';
`

const ddlConnections = `
CREATE TABLE IF NOT EXISTS user_connections (
    user_id            BIGINT       NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    connected_user_id  BIGINT       NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    created_at         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, connected_user_id),
    CHECK (user_id <> connected_user_id)
);

CREATE INDEX IF NOT EXISTS idx_user_connections_reverse
    ON user_connections (connected_user_id);
`

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id                BIGSERIAL    PRIMARY KEY,
    caller_id         BIGINT       NOT NULL REFERENCES users (id),
    callee_id         BIGINT       NOT NULL REFERENCES users (id),
    room_name         TEXT         NOT NULL,
    status            TEXT         NOT NULL DEFAULT 'initiated',
    started_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at          TIMESTAMPTZ,
    duration_seconds  BIGINT
);

CREATE INDEX IF NOT EXISTS idx_calls_caller ON calls (caller_id);
CREATE INDEX IF NOT EXISTS idx_calls_callee ON calls (callee_id);
`

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    call_id     BIGINT       PRIMARY KEY REFERENCES calls (id) ON DELETE CASCADE,
    content     TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlAnalyses = `
CREATE TABLE IF NOT EXISTS analyses (
    call_id         BIGINT       PRIMARY KEY REFERENCES calls (id) ON DELETE CASCADE,
    interpretation  TEXT         NOT NULL DEFAULT '',
    result          TEXT         NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlPresence = `
CREATE TABLE IF NOT EXISTS user_presence (
    user_id    BIGINT       PRIMARY KEY REFERENCES users (id) ON DELETE CASCADE,
    is_online  BOOLEAN      NOT NULL DEFAULT false,
    last_seen  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates all Talkwire tables and indexes if they do not exist.
// It is idempotent and runs automatically from [NewStore].
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	ddls := []struct {
		name string
		ddl  string
	}{
		{"users", ddlUsers},
		{"user_connections", ddlConnections},
		{"calls", ddlCalls},
		{"transcripts", ddlTranscripts},
		{"analyses", ddlAnalyses},
		{"user_presence", ddlPresence},
	}
	for _, d := range ddls {
		if _, err := pool.Exec(ctx, d.ddl); err != nil {
			return fmt.Errorf("migrate %s: %w", d.name, err)
		}
	}
	return nil
}
