// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"modernc.org/sqlite"
)

var tracer = otel.Tracer("aleutian.climate.store")

// foldFunc is a SQL function that lowercases text with Unicode case mapping.
// SQLite's LOWER only folds ASCII, so "Ørsted" would never match "ørsted".
const foldFunc = "climate_fold"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(foldFunc, 1, fold)
}

func fold(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return "", nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return fmt.Sprint(v), nil
	}
}

const (
	// DriverName is the database/sql driver registered by modernc.org/sqlite.
	DriverName = "sqlite"

	// DefaultRecordLimit caps rows per table when the caller passes limit <= 0.
	DefaultRecordLimit = 10

	// DefaultTenantLimit caps the candidate pool when the caller passes limit <= 0.
	DefaultTenantLimit = 500
)

// Schema creates the tables the reasoner reads. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS organizations (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	description   TEXT,
	sector        TEXT,
	country       TEXT,
	scope         TEXT,
	climate_score REAL
);

CREATE TABLE IF NOT EXISTS missions (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	title           TEXT NOT NULL,
	description     TEXT,
	category        TEXT,
	status          TEXT NOT NULL DEFAULT 'active',
	impact_kg_co2e  REAL
);
CREATE INDEX IF NOT EXISTS idx_missions_org ON missions(organization_id);

CREATE TABLE IF NOT EXISTS energy_actions (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	title           TEXT NOT NULL,
	description     TEXT,
	category        TEXT,
	status          TEXT NOT NULL DEFAULT 'active',
	savings_kwh     REAL
);
CREATE INDEX IF NOT EXISTS idx_energy_actions_org ON energy_actions(organization_id);

CREATE TABLE IF NOT EXISTS energy_readings (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	kwh             REAL NOT NULL,
	recorded_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_energy_readings_org ON energy_readings(organization_id);

CREATE TABLE IF NOT EXISTS contribution_projects (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	name            TEXT NOT NULL,
	description     TEXT,
	category        TEXT,
	status          TEXT NOT NULL DEFAULT 'active',
	tonnes_co2e     REAL
);
CREATE INDEX IF NOT EXISTS idx_contribution_projects_org ON contribution_projects(organization_id);
`

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Open opens a SQLite database and verifies the connection.
//
// # Description
//
// dsn is passed to the modernc.org/sqlite driver unchanged, so both file
// paths and ":memory:" work. In-memory databases are pinned to a single
// connection; every new connection would otherwise see an empty database.
//
// # Inputs
//
//   - ctx: Bounds the initial ping.
//   - dsn: Database path or URI.
//
// # Outputs
//
//   - *SQLStore: Ready store. Call Close when done.
//   - error: Non-nil if the database cannot be opened.
func Open(ctx context.Context, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("open store: empty dsn")
	}
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// OpenInMemory opens and migrates a private in-memory database.
func OpenInMemory(ctx context.Context) (*SQLStore, error) {
	s, err := Open(ctx, ":memory:")
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies Schema.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for seeding and tests.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Keyword Search
// =============================================================================

// SearchRecords returns rows of table whose text columns contain query,
// ignoring case. An empty query matches nothing.
func (s *SQLStore) SearchRecords(ctx context.Context, table string, query string, limit int) ([]Row, error) {
	t, ok := LookupSearchTable(table)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []Row{}, nil
	}
	if limit <= 0 {
		limit = DefaultRecordLimit
	}

	ctx, span := tracer.Start(ctx, "store.SearchRecords")
	defer span.End()
	span.SetAttributes(attribute.String("store.table", t.Name))

	pattern := "%" + escapeLike(query) + "%"
	clauses := make([]string, 0, len(t.TextColumns))
	args := make([]any, 0, len(t.TextColumns)+1)
	for _, col := range t.TextColumns {
		clauses = append(clauses, fmt.Sprintf(`%s(%s) LIKE %s(?) ESCAPE '\'`, foldFunc, col, foldFunc))
		args = append(args, pattern)
	}
	args = append(args, limit)

	stmt := fmt.Sprintf(
		`SELECT id, COALESCE(%s, ''), COALESCE(%s, ''), COALESCE(%s, '') FROM %s WHERE %s ORDER BY id LIMIT ?`,
		t.TitleColumn, t.SnippetColumn, t.OwnerColumn, t.Name, strings.Join(clauses, " OR "),
	)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("search %s: %w", t.Name, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		r := Row{Table: t.Name}
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.OrganizationID); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", t.Name, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", t.Name, err)
	}

	span.SetAttributes(attribute.Int("store.rows", len(out)))
	slog.Debug("table search", "table", t.Name, "rows", len(out))
	return out, nil
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// =============================================================================
// Tenants
// =============================================================================

const tenantColumns = `
	o.id,
	o.name,
	COALESCE(o.sector, ''),
	COALESCE(o.country, ''),
	COALESCE(o.scope, ''),
	o.climate_score,
	(SELECT COUNT(*) FROM energy_readings e WHERE e.organization_id = o.id),
	(SELECT COUNT(*) FROM missions m WHERE m.organization_id = o.id),
	(SELECT COUNT(*) FROM contribution_projects c WHERE c.organization_id = o.id)`

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(sc scanner) (TenantRecord, error) {
	var (
		rec   TenantRecord
		score sql.NullFloat64
	)
	err := sc.Scan(
		&rec.ID, &rec.Name, &rec.Sector, &rec.Country, &rec.Scope, &score,
		&rec.EnergyReadingCount, &rec.MissionCount, &rec.ContributionProjectCount,
	)
	if err != nil {
		return TenantRecord{}, err
	}
	if score.Valid {
		v := score.Float64
		rec.ClimateScore = &v
	}
	return rec, nil
}

// GetTenant returns the tenant with its presence counts, or nil if absent.
func (s *SQLStore) GetTenant(ctx context.Context, tenantID string) (*TenantRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM organizations o WHERE o.id = ?`, tenantID)
	rec, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}
	return &rec, nil
}

// ListTenants returns up to limit tenants ordered by id.
func (s *SQLStore) ListTenants(ctx context.Context, limit int) ([]TenantRecord, error) {
	if limit <= 0 {
		limit = DefaultTenantLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM organizations o ORDER BY o.id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	out := []TenantRecord{}
	for rows.Next() {
		rec, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return out, nil
}

// =============================================================================
// Peer Activities
// =============================================================================

// PeerActivities returns the active and completed rows of kind owned by
// tenantIDs, ordered by tenant then row id. No tenants means no rows.
func (s *SQLStore) PeerActivities(ctx context.Context, kind ActivityKind, tenantIDs []string) ([]Activity, error) {
	src, ok := activitySources[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActivity, kind)
	}
	if len(tenantIDs) == 0 {
		return []Activity{}, nil
	}

	ctx, span := tracer.Start(ctx, "store.PeerActivities")
	defer span.End()
	span.SetAttributes(
		attribute.String("store.activity", string(kind)),
		attribute.Int("store.tenants", len(tenantIDs)),
	)

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tenantIDs)), ",")
	args := make([]any, len(tenantIDs))
	for i, id := range tenantIDs {
		args[i] = id
	}

	stmt := fmt.Sprintf(
		`SELECT organization_id, COALESCE(category, ''), LOWER(status), %s FROM %s
		 WHERE LOWER(status) IN ('active', 'completed') AND organization_id IN (%s)
		 ORDER BY organization_id, id`,
		src.impactColumn, src.table, placeholders,
	)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("peer %s activities: %w", kind, err)
	}
	defer rows.Close()

	out := []Activity{}
	for rows.Next() {
		var (
			a      Activity
			impact sql.NullFloat64
		)
		if err := rows.Scan(&a.TenantID, &a.Category, &a.Status, &impact); err != nil {
			return nil, fmt.Errorf("scan %s activity: %w", kind, err)
		}
		if impact.Valid {
			v := impact.Float64
			a.Impact = &v
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("peer %s activities: %w", kind, err)
	}
	return out, nil
}
