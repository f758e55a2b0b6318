package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the call_turns and calls tables. Execute it via
// [PostgresSink.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS calls (
    session_id  TEXT PRIMARY KEY,
    org_id      TEXT NOT NULL DEFAULT '',
    from_number TEXT NOT NULL DEFAULT '',
    to_number   TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'active',
    final_state TEXT NOT NULL DEFAULT '',
    slots       JSONB NOT NULL DEFAULT '{}',
    turns       INT NOT NULL DEFAULT 0,
    error       TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ,
    ended_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS call_turns (
    id          BIGSERIAL PRIMARY KEY,
    session_id  TEXT NOT NULL,
    org_id      TEXT NOT NULL DEFAULT '',
    turn        INT NOT NULL,
    caller_text TEXT NOT NULL DEFAULT '',
    agent_text  TEXT NOT NULL DEFAULT '',
    intent      TEXT NOT NULL DEFAULT '',
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    state       TEXT NOT NULL DEFAULT '',
    slots       JSONB NOT NULL DEFAULT '{}',
    latency     JSONB NOT NULL DEFAULT '{}',
    barged_in   BOOLEAN NOT NULL DEFAULT false,
    timestamp   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_call_turns_session ON call_turns(session_id);
CREATE INDEX IF NOT EXISTS idx_call_turns_timestamp ON call_turns(timestamp);
`

// DB is the database interface used by [PostgresSink]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink is a Sink backed by PostgreSQL.
type PostgresSink struct {
	db DB
}

// Compile-time interface check.
var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink creates a PostgresSink on the given connection or pool.
// Call [PostgresSink.Migrate] before writing.
func NewPostgresSink(db DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("events: migrate: %w", err)
	}
	return nil
}

// Append implements Sink.
func (s *PostgresSink) Append(ctx context.Context, rec TurnRecord) error {
	slotsJSON, err := json.Marshal(emptyMap(rec.Slots))
	if err != nil {
		return fmt.Errorf("events: marshal slots: %w", err)
	}
	latencyJSON, err := json.Marshal(rec.Latency)
	if err != nil {
		return fmt.Errorf("events: marshal latency: %w", err)
	}

	const query = `
		INSERT INTO call_turns (
			session_id, org_id, turn, caller_text, agent_text,
			intent, confidence, state, slots, latency, barged_in, timestamp
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	if _, err := s.db.Exec(ctx, query,
		rec.SessionID, rec.OrgID, rec.Turn, rec.CallerText, rec.AgentText,
		rec.Intent, rec.Confidence, rec.State, slotsJSON, latencyJSON,
		rec.BargedIn, rec.Timestamp,
	); err != nil {
		return fmt.Errorf("events: append turn: %w", err)
	}
	return nil
}

// UpdateCall implements Sink. Non-zero fields overwrite the stored row;
// zero-value fields keep their previous value.
func (s *PostgresSink) UpdateCall(ctx context.Context, sessionID string, upd CallUpdate) error {
	slotsJSON, err := json.Marshal(emptyMap(upd.Slots))
	if err != nil {
		return fmt.Errorf("events: marshal slots: %w", err)
	}

	const query = `
		INSERT INTO calls (
			session_id, org_id, from_number, to_number, status,
			final_state, slots, turns, error, started_at, ended_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (session_id) DO UPDATE SET
			org_id      = COALESCE(NULLIF(EXCLUDED.org_id, ''), calls.org_id),
			from_number = COALESCE(NULLIF(EXCLUDED.from_number, ''), calls.from_number),
			to_number   = COALESCE(NULLIF(EXCLUDED.to_number, ''), calls.to_number),
			status      = COALESCE(NULLIF(EXCLUDED.status, ''), calls.status),
			final_state = COALESCE(NULLIF(EXCLUDED.final_state, ''), calls.final_state),
			slots       = CASE WHEN EXCLUDED.slots = '{}'::jsonb THEN calls.slots ELSE EXCLUDED.slots END,
			turns       = GREATEST(EXCLUDED.turns, calls.turns),
			error       = COALESCE(NULLIF(EXCLUDED.error, ''), calls.error),
			started_at  = COALESCE(calls.started_at, EXCLUDED.started_at),
			ended_at    = COALESCE(EXCLUDED.ended_at, calls.ended_at)`
	if _, err := s.db.Exec(ctx, query,
		sessionID, upd.OrgID, upd.From, upd.To, upd.Status,
		upd.FinalState, slotsJSON, upd.Turns, upd.Error,
		nullTime(upd.StartedAt), nullTime(upd.EndedAt),
	); err != nil {
		return fmt.Errorf("events: update call: %w", err)
	}
	return nil
}

func emptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
