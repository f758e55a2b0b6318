package orgctx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the organizations and org_numbers tables. Execute
// it via [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS organizations (
    org_id      TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    greeting    TEXT NOT NULL DEFAULT '',
    fallback    TEXT NOT NULL DEFAULT '',
    scripts     JSONB NOT NULL DEFAULT '{}',
    voice       JSONB NOT NULL DEFAULT '{}',
    timezone    TEXT NOT NULL DEFAULT 'UTC',
    services    JSONB NOT NULL DEFAULT '[]',
    hours       JSONB NOT NULL DEFAULT '[]',
    holidays    JSONB NOT NULL DEFAULT '[]',
    rules       JSONB NOT NULL DEFAULT '{}',
    escalation  TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS org_numbers (
    number  TEXT PRIMARY KEY,
    org_id  TEXT NOT NULL REFERENCES organizations(org_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_org_numbers_org ON org_numbers(org_id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a Store backed by PostgreSQL. Structured sub-fields
// (services, hours, rules) are stored as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgresStore on the given connection or pool.
// Call [PostgresStore.Migrate] before issuing lookups.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("orgctx: migrate: %w", err)
	}
	return nil
}

// Lookup implements Store.
func (s *PostgresStore) Lookup(ctx context.Context, e164 string) (*OrganizationContext, error) {
	const query = `
		SELECT o.org_id, o.name, o.greeting, o.fallback, o.scripts, o.voice,
		       o.timezone, o.services, o.hours, o.holidays, o.rules, o.escalation
		FROM org_numbers n
		JOIN organizations o ON o.org_id = n.org_id
		WHERE n.number = $1`

	var (
		org OrganizationContext

		scriptsJSON, voiceJSON, servicesJSON []byte
		hoursJSON, holidaysJSON, rulesJSON   []byte
	)
	err := s.db.QueryRow(ctx, query, e164).Scan(
		&org.OrgID, &org.Name, &org.Greeting, &org.Fallback, &scriptsJSON, &voiceJSON,
		&org.Timezone, &servicesJSON, &hoursJSON, &holidaysJSON, &rulesJSON, &org.EscalationNumber,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("orgctx: lookup %s: %w", e164, err)
	}

	for _, f := range []struct {
		raw []byte
		dst any
		col string
	}{
		{scriptsJSON, &org.Scripts, "scripts"},
		{voiceJSON, &org.Voice, "voice"},
		{servicesJSON, &org.Services, "services"},
		{hoursJSON, &org.Hours, "hours"},
		{holidaysJSON, &org.Holidays, "holidays"},
		{rulesJSON, &org.Rules, "rules"},
	} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("orgctx: unmarshal %s: %w", f.col, err)
		}
	}
	if org.DialedNumber == "" {
		org.DialedNumber = e164
	}
	if org.Rules == (Rules{}) {
		org.Rules = DefaultRules()
	}
	return &org, nil
}

// Upsert writes an organization and its number mappings in one round trip per
// statement. Intended for provisioning tooling and tests.
func (s *PostgresStore) Upsert(ctx context.Context, org *OrganizationContext, numbers []string) error {
	// Nil maps and slices marshal to JSON null; the columns expect {} / [].
	marshal := func(v any, col, empty string) ([]byte, error) {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("orgctx: marshal %s: %w", col, err)
		}
		if string(raw) == "null" {
			raw = []byte(empty)
		}
		return raw, nil
	}
	scriptsJSON, err := marshal(org.Scripts, "scripts", "{}")
	if err != nil {
		return err
	}
	voiceJSON, err := marshal(org.Voice, "voice", "{}")
	if err != nil {
		return err
	}
	servicesJSON, err := marshal(org.Services, "services", "[]")
	if err != nil {
		return err
	}
	hoursJSON, err := marshal(org.Hours, "hours", "[]")
	if err != nil {
		return err
	}
	holidaysJSON, err := marshal(org.Holidays, "holidays", "[]")
	if err != nil {
		return err
	}
	rulesJSON, err := marshal(org.Rules, "rules", "{}")
	if err != nil {
		return err
	}

	const orgQuery = `
		INSERT INTO organizations (
			org_id, name, greeting, fallback, scripts, voice,
			timezone, services, hours, holidays, rules, escalation
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (org_id) DO UPDATE SET
			name = EXCLUDED.name, greeting = EXCLUDED.greeting,
			fallback = EXCLUDED.fallback, scripts = EXCLUDED.scripts,
			voice = EXCLUDED.voice, timezone = EXCLUDED.timezone,
			services = EXCLUDED.services, hours = EXCLUDED.hours,
			holidays = EXCLUDED.holidays, rules = EXCLUDED.rules,
			escalation = EXCLUDED.escalation, updated_at = now()`
	if _, err := s.db.Exec(ctx, orgQuery,
		org.OrgID, org.Name, org.Greeting, org.Fallback, scriptsJSON, voiceJSON,
		org.Timezone, servicesJSON, hoursJSON, holidaysJSON, rulesJSON, org.EscalationNumber,
	); err != nil {
		return fmt.Errorf("orgctx: upsert organization: %w", err)
	}

	const numQuery = `
		INSERT INTO org_numbers (number, org_id) VALUES ($1, $2)
		ON CONFLICT (number) DO UPDATE SET org_id = EXCLUDED.org_id`
	for _, n := range numbers {
		if _, err := s.db.Exec(ctx, numQuery, NormalizeE164(n), org.OrgID); err != nil {
			return fmt.Errorf("orgctx: upsert number %s: %w", n, err)
		}
	}
	return nil
}
