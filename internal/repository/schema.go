package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id                 UUID PRIMARY KEY,
	livekit_room_name  TEXT NOT NULL UNIQUE,
	title              TEXT NOT NULL DEFAULT '',
	subject            TEXT NOT NULL DEFAULT '',
	teacher_id         TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'scheduled',
	scheduled_start_at TIMESTAMPTZ NOT NULL,
	duration_minutes   INT NOT NULL,
	opens_at           TIMESTAMPTZ NOT NULL,
	expires_at         TIMESTAMPTZ NOT NULL,
	actual_start_at    TIMESTAMPTZ,
	actual_end_at      TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS room_events (
	id                   BIGSERIAL PRIMARY KEY,
	room_id              UUID NOT NULL REFERENCES rooms(id),
	kind                 TEXT NOT NULL,
	participant_identity TEXT,
	role                 TEXT,
	provider_session_id  TEXT NOT NULL DEFAULT '',
	payload              JSONB NOT NULL DEFAULT '{}',
	occurred_at          TIMESTAMPTZ NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (room_id, kind, provider_session_id, occurred_at)
);

CREATE TABLE IF NOT EXISTS room_assignments (
	room_id  UUID NOT NULL REFERENCES rooms(id),
	identity TEXT NOT NULL,
	role     TEXT NOT NULL,
	PRIMARY KEY (room_id, identity)
);
CREATE INDEX IF NOT EXISTS room_assignments_identity_idx ON room_assignments (identity);

CREATE TABLE IF NOT EXISTS session_windows (
	room_id         UUID NOT NULL REFERENCES rooms(id),
	identity        TEXT NOT NULL,
	role            TEXT NOT NULL DEFAULT '',
	display_name    TEXT NOT NULL DEFAULT '',
	first_join_at   TIMESTAMPTZ NOT NULL,
	last_leave_at   TIMESTAMPTZ,
	total_seconds   BIGINT NOT NULL DEFAULT 0,
	join_count      INT NOT NULL DEFAULT 0,
	is_late         BOOLEAN NOT NULL DEFAULT false,
	late_by_seconds BIGINT NOT NULL DEFAULT 0,
	intervals       JSONB NOT NULL DEFAULT '[]',
	status          TEXT NOT NULL DEFAULT '',
	finalized_at    TIMESTAMPTZ,
	version         BIGINT NOT NULL DEFAULT 1,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_id, identity)
);
CREATE INDEX IF NOT EXISTS session_windows_identity_idx ON session_windows (identity);
`

// EnsureSchema создает таблицы, если их еще нет
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
