package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saferoam/incident-server/internal/models"
	"go.uber.org/zap"
)

// Postgres persists incidents across three related tables: incidents,
// incident_files and audit_logs (both children keyed by incident_id).
// Unlike the local backend it never falls back to demo data: every failure
// surfaces to the caller so no mutation is silently dropped.
type Postgres struct {
	db     *pgxpool.Pool
	logger *zap.SugaredLogger
}

// NewPostgres creates the database-backed store and ensures its schema.
func NewPostgres(ctx context.Context, db *pgxpool.Pool, logger *zap.SugaredLogger) (*Postgres, error) {
	s := &Postgres{db: db, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			reporter_name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			severity INT NOT NULL,
			location_lat DOUBLE PRECISION NOT NULL,
			location_lng DOUBLE PRECISION NOT NULL,
			location_address TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			anchor_status TEXT NOT NULL,
			verification_status TEXT NOT NULL,
			chain_tx_id TEXT NOT NULL DEFAULT '',
			chain_hash TEXT NOT NULL DEFAULT '',
			reported_at TIMESTAMPTZ NOT NULL,
			acknowledged_at TIMESTAMPTZ,
			resolved_at TIMESTAMPTZ,
			verification_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS incident_files (
			id TEXT PRIMARY KEY,
			incident_id TEXT NOT NULL REFERENCES incidents(id) ON DELETE CASCADE,
			position INT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			size BIGINT NOT NULL,
			hash TEXT NOT NULL,
			preview TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			incident_id TEXT NOT NULL REFERENCES incidents(id) ON DELETE CASCADE,
			seq BIGSERIAL,
			timestamp TIMESTAMPTZ NOT NULL,
			action TEXT NOT NULL,
			actor TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incident_files_incident ON incident_files(incident_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_incident ON audit_logs(incident_id, seq)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// List returns all incidents with their files and audit logs, newest first.
func (s *Postgres) List(ctx context.Context) ([]models.Incident, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, reporter_name, type, severity, location_lat, location_lng, location_address,
			notes, status, anchor_status, verification_status, chain_tx_id, chain_hash,
			reported_at, acknowledged_at, resolved_at, verification_at
		FROM incidents
		ORDER BY reported_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}

	for i := range incidents {
		if err := s.loadChildren(ctx, &incidents[i]); err != nil {
			return nil, err
		}
	}
	return incidents, nil
}

// Get returns a single incident with its files and audit logs.
func (s *Postgres) Get(ctx context.Context, id string) (*models.Incident, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, reporter_name, type, severity, location_lat, location_lng, location_address,
			notes, status, anchor_status, verification_status, chain_tx_id, chain_hash,
			reported_at, acknowledged_at, resolved_at, verification_at
		FROM incidents WHERE id = $1`, id)

	inc, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	if err := s.loadChildren(ctx, inc); err != nil {
		return nil, err
	}
	return inc, nil
}

// Save upserts the incident and its children in one transaction, so a field
// update and its audit entry are never torn apart. Audit rows insert with
// ON CONFLICT DO NOTHING, which makes re-saving the same record idempotent.
func (s *Postgres) Save(ctx context.Context, inc *models.Incident) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO incidents (id, reporter_name, type, severity, location_lat, location_lng,
			location_address, notes, status, anchor_status, verification_status,
			chain_tx_id, chain_hash, reported_at, acknowledged_at, resolved_at, verification_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			reporter_name = EXCLUDED.reporter_name,
			type = EXCLUDED.type,
			severity = EXCLUDED.severity,
			location_lat = EXCLUDED.location_lat,
			location_lng = EXCLUDED.location_lng,
			location_address = EXCLUDED.location_address,
			notes = EXCLUDED.notes,
			status = EXCLUDED.status,
			anchor_status = EXCLUDED.anchor_status,
			verification_status = EXCLUDED.verification_status,
			chain_tx_id = EXCLUDED.chain_tx_id,
			chain_hash = EXCLUDED.chain_hash,
			reported_at = EXCLUDED.reported_at,
			acknowledged_at = EXCLUDED.acknowledged_at,
			resolved_at = EXCLUDED.resolved_at,
			verification_at = EXCLUDED.verification_at`,
		inc.ID, inc.ReporterName, inc.Type, inc.Severity,
		inc.Location.Lat, inc.Location.Lng, inc.Location.Address,
		inc.Notes, inc.Status, inc.AnchorStatus, inc.VerificationStatus,
		inc.ChainTxID, inc.ChainHash, inc.ReportedAt,
		inc.AcknowledgedAt, inc.ResolvedAt, inc.VerificationAt,
	)
	if err != nil {
		return fmt.Errorf("upsert incident: %w", err)
	}

	// Replace the file list wholesale; position preserves upload order.
	if _, err := tx.Exec(ctx, `DELETE FROM incident_files WHERE incident_id = $1`, inc.ID); err != nil {
		return fmt.Errorf("clear files: %w", err)
	}
	for i, f := range inc.Files {
		_, err := tx.Exec(ctx, `
			INSERT INTO incident_files (id, incident_id, position, name, type, size, hash, preview)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			f.ID, inc.ID, i, f.Name, f.Type, f.Size, f.Hash, f.Preview)
		if err != nil {
			return fmt.Errorf("insert file: %w", err)
		}
	}

	for _, entry := range inc.AuditLog {
		_, err := tx.Exec(ctx, `
			INSERT INTO audit_logs (id, incident_id, timestamp, action, actor, details)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (id) DO NOTHING`,
			entry.ID, inc.ID, entry.Timestamp, entry.Action, entry.Actor, entry.Details)
		if err != nil {
			return fmt.Errorf("insert audit log: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the connection pool.
func (s *Postgres) Close() {
	s.db.Close()
}

func (s *Postgres) loadChildren(ctx context.Context, inc *models.Incident) error {
	fileRows, err := s.db.Query(ctx, `
		SELECT id, name, type, size, hash, preview
		FROM incident_files WHERE incident_id = $1 ORDER BY position`, inc.ID)
	if err != nil {
		return fmt.Errorf("query files: %w", err)
	}
	defer fileRows.Close()

	inc.Files = []models.EvidenceFile{}
	for fileRows.Next() {
		var f models.EvidenceFile
		if err := fileRows.Scan(&f.ID, &f.Name, &f.Type, &f.Size, &f.Hash, &f.Preview); err != nil {
			return fmt.Errorf("scan file: %w", err)
		}
		inc.Files = append(inc.Files, f)
	}
	if err := fileRows.Err(); err != nil {
		return fmt.Errorf("iterate files: %w", err)
	}

	// seq is assigned at first insert and ON CONFLICT keeps it, so entries
	// read back in append order even when timestamps collide after the
	// nanosecond-to-timestamptz truncation.
	auditRows, err := s.db.Query(ctx, `
		SELECT id, timestamp, action, actor, details
		FROM audit_logs WHERE incident_id = $1 ORDER BY seq`, inc.ID)
	if err != nil {
		return fmt.Errorf("query audit logs: %w", err)
	}
	defer auditRows.Close()

	inc.AuditLog = []models.AuditLogEntry{}
	for auditRows.Next() {
		var e models.AuditLogEntry
		if err := auditRows.Scan(&e.ID, &e.Timestamp, &e.Action, &e.Actor, &e.Details); err != nil {
			return fmt.Errorf("scan audit log: %w", err)
		}
		inc.AuditLog = append(inc.AuditLog, e)
	}
	if err := auditRows.Err(); err != nil {
		return fmt.Errorf("iterate audit logs: %w", err)
	}
	return nil
}

func scanIncident(row pgx.Row) (*models.Incident, error) {
	var inc models.Incident
	err := row.Scan(&inc.ID, &inc.ReporterName, &inc.Type, &inc.Severity,
		&inc.Location.Lat, &inc.Location.Lng, &inc.Location.Address,
		&inc.Notes, &inc.Status, &inc.AnchorStatus, &inc.VerificationStatus,
		&inc.ChainTxID, &inc.ChainHash, &inc.ReportedAt,
		&inc.AcknowledgedAt, &inc.ResolvedAt, &inc.VerificationAt)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}
