// Package risk implements the risk scoring pipeline (component E):
// append-only event ingestion, deterministic per-target profile
// recomputation, and edge-triggered alert emission.
package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dgc-backbone/dgc/internal/model"
)

// ErrNotFound is returned when a target has no risk profile yet.
var ErrNotFound = errors.New("risk: profile not found")

// Store persists the risk engine's append-only event logs, upserted
// profiles, and alert history, following the teacher's ensureSchema idiom.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db and ensures the risk schema exists.
func NewStore(db *sqlx.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cert_id TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			event_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_events_cert ON ledger_events(cert_id, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS listing_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			listing_id TEXT NOT NULL,
			cert_id TEXT NOT NULL,
			actor TEXT,
			occurred_at TEXT NOT NULL,
			event_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listing_audit_listing ON listing_audit_events(listing_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_listing_audit_cert ON listing_audit_events(cert_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_listing_audit_actor ON listing_audit_events(actor, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS cert_profiles (
			target TEXT PRIMARY KEY,
			score REAL NOT NULL,
			level TEXT NOT NULL,
			reasons_json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS listing_profiles (
			target TEXT PRIMARY KEY,
			cert_id TEXT,
			score REAL NOT NULL,
			level TEXT NOT NULL,
			reasons_json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS risk_alerts (
			alert_id TEXT PRIMARY KEY,
			target_type TEXT NOT NULL,
			target_id TEXT NOT NULL,
			score REAL NOT NULL,
			level TEXT NOT NULL,
			reasons_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("risk: ensure schema: %w", err)
		}
	}
	return nil
}

// AppendLedgerEvent appends event to the ledger-event log keyed by certId.
func (s *Store) AppendLedgerEvent(ctx context.Context, event model.LedgerEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("risk: marshal ledger event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_events (cert_id, occurred_at, event_json) VALUES (?, ?, ?)
	`, event.CertID, event.OccurredAt, raw)
	return err
}

// LedgerEventsForCert returns every ledger event recorded for certID, in
// arrival order.
func (s *Store) LedgerEventsForCert(ctx context.Context, certID string) ([]model.LedgerEvent, error) {
	var rows []struct {
		EventJSON string `db:"event_json"`
	}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT event_json FROM ledger_events WHERE cert_id = ? ORDER BY id ASC
	`, certID); err != nil {
		return nil, err
	}
	return decodeLedgerEvents(rows)
}

// AppendListingAuditEvent appends event to the listing-audit log.
func (s *Store) AppendListingAuditEvent(ctx context.Context, event model.ListingAuditEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("risk: marshal listing audit event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO listing_audit_events (listing_id, cert_id, actor, occurred_at, event_json)
		VALUES (?, ?, ?, ?, ?)
	`, event.ListingID, event.CertID, event.Actor, event.OccurredAt, raw)
	return err
}

// ListingAuditEventsForListing returns a listing's audit history in arrival order.
func (s *Store) ListingAuditEventsForListing(ctx context.Context, listingID string) ([]model.ListingAuditEvent, error) {
	return s.selectListingAudit(ctx, `SELECT event_json FROM listing_audit_events WHERE listing_id = ? ORDER BY id ASC`, listingID)
}

// ListingAuditEventsForCert returns every listing-audit event touching certID.
func (s *Store) ListingAuditEventsForCert(ctx context.Context, certID string) ([]model.ListingAuditEvent, error) {
	return s.selectListingAudit(ctx, `SELECT event_json FROM listing_audit_events WHERE cert_id = ? ORDER BY id ASC`, certID)
}

// ListingAuditEventsForActor returns every listing-audit event actor produced.
func (s *Store) ListingAuditEventsForActor(ctx context.Context, actor string) ([]model.ListingAuditEvent, error) {
	return s.selectListingAudit(ctx, `SELECT event_json FROM listing_audit_events WHERE actor = ? ORDER BY id ASC`, actor)
}

func (s *Store) selectListingAudit(ctx context.Context, query, arg string) ([]model.ListingAuditEvent, error) {
	var rows []struct {
		EventJSON string `db:"event_json"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, arg); err != nil {
		return nil, err
	}
	out := make([]model.ListingAuditEvent, 0, len(rows))
	for _, r := range rows {
		var e model.ListingAuditEvent
		if err := json.Unmarshal([]byte(r.EventJSON), &e); err != nil {
			return nil, fmt.Errorf("risk: decode listing audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func decodeLedgerEvents(rows []struct {
	EventJSON string `db:"event_json"`
}) ([]model.LedgerEvent, error) {
	out := make([]model.LedgerEvent, 0, len(rows))
	for _, r := range rows {
		var e model.LedgerEvent
		if err := json.Unmarshal([]byte(r.EventJSON), &e); err != nil {
			return nil, fmt.Errorf("risk: decode ledger event: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// SaveCertProfile upserts profile.
func (s *Store) SaveCertProfile(ctx context.Context, profile model.CertificateRiskProfile) error {
	raw, err := json.Marshal(profile.Reasons)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cert_profiles (target, score, level, reasons_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(target) DO UPDATE SET
			score = excluded.score, level = excluded.level,
			reasons_json = excluded.reasons_json, updated_at = excluded.updated_at
	`, profile.Target, profile.Score, profile.Level, raw, profile.UpdatedAt)
	return err
}

// GetCertProfile returns the current profile for target, or ErrNotFound.
func (s *Store) GetCertProfile(ctx context.Context, target string) (model.CertificateRiskProfile, error) {
	var row struct {
		Target      string  `db:"target"`
		Score       float64 `db:"score"`
		Level       string  `db:"level"`
		ReasonsJSON string  `db:"reasons_json"`
		UpdatedAt   string  `db:"updated_at"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT target, score, level, reasons_json, updated_at FROM cert_profiles WHERE target = ?`, target)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CertificateRiskProfile{}, ErrNotFound
	}
	if err != nil {
		return model.CertificateRiskProfile{}, err
	}
	var reasons []model.RiskReason
	if err := json.Unmarshal([]byte(row.ReasonsJSON), &reasons); err != nil {
		return model.CertificateRiskProfile{}, err
	}
	return model.CertificateRiskProfile{
		Target: row.Target, Score: row.Score, Level: model.RiskLevel(row.Level),
		Reasons: reasons, UpdatedAt: row.UpdatedAt,
	}, nil
}

// TopCertProfiles returns up to limit profiles ordered by score descending.
func (s *Store) TopCertProfiles(ctx context.Context, limit int) ([]model.CertificateRiskProfile, error) {
	var rows []struct {
		Target      string  `db:"target"`
		Score       float64 `db:"score"`
		Level       string  `db:"level"`
		ReasonsJSON string  `db:"reasons_json"`
		UpdatedAt   string  `db:"updated_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT target, score, level, reasons_json, updated_at FROM cert_profiles ORDER BY score DESC LIMIT ?`, limit); err != nil {
		return nil, err
	}
	out := make([]model.CertificateRiskProfile, 0, len(rows))
	for _, r := range rows {
		var reasons []model.RiskReason
		if err := json.Unmarshal([]byte(r.ReasonsJSON), &reasons); err != nil {
			return nil, err
		}
		out = append(out, model.CertificateRiskProfile{Target: r.Target, Score: r.Score, Level: model.RiskLevel(r.Level), Reasons: reasons, UpdatedAt: r.UpdatedAt})
	}
	return out, nil
}

// SaveListingProfile upserts profile.
func (s *Store) SaveListingProfile(ctx context.Context, profile model.ListingRiskProfile) error {
	raw, err := json.Marshal(profile.Reasons)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO listing_profiles (target, cert_id, score, level, reasons_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(target) DO UPDATE SET
			cert_id = excluded.cert_id, score = excluded.score, level = excluded.level,
			reasons_json = excluded.reasons_json, updated_at = excluded.updated_at
	`, profile.Target, profile.CertID, profile.Score, profile.Level, raw, profile.UpdatedAt)
	return err
}

// GetListingProfile returns the current profile for target, or ErrNotFound.
func (s *Store) GetListingProfile(ctx context.Context, target string) (model.ListingRiskProfile, error) {
	var row struct {
		Target      string  `db:"target"`
		CertID      string  `db:"cert_id"`
		Score       float64 `db:"score"`
		Level       string  `db:"level"`
		ReasonsJSON string  `db:"reasons_json"`
		UpdatedAt   string  `db:"updated_at"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT target, cert_id, score, level, reasons_json, updated_at FROM listing_profiles WHERE target = ?`, target)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ListingRiskProfile{}, ErrNotFound
	}
	if err != nil {
		return model.ListingRiskProfile{}, err
	}
	var reasons []model.RiskReason
	if err := json.Unmarshal([]byte(row.ReasonsJSON), &reasons); err != nil {
		return model.ListingRiskProfile{}, err
	}
	return model.ListingRiskProfile{
		Target: row.Target, CertID: row.CertID, Score: row.Score, Level: model.RiskLevel(row.Level),
		Reasons: reasons, UpdatedAt: row.UpdatedAt,
	}, nil
}

// TopListingProfiles returns up to limit profiles ordered by score descending.
func (s *Store) TopListingProfiles(ctx context.Context, limit int) ([]model.ListingRiskProfile, error) {
	var rows []struct {
		Target      string  `db:"target"`
		CertID      string  `db:"cert_id"`
		Score       float64 `db:"score"`
		Level       string  `db:"level"`
		ReasonsJSON string  `db:"reasons_json"`
		UpdatedAt   string  `db:"updated_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT target, cert_id, score, level, reasons_json, updated_at FROM listing_profiles ORDER BY score DESC LIMIT ?`, limit); err != nil {
		return nil, err
	}
	out := make([]model.ListingRiskProfile, 0, len(rows))
	for _, r := range rows {
		var reasons []model.RiskReason
		if err := json.Unmarshal([]byte(r.ReasonsJSON), &reasons); err != nil {
			return nil, err
		}
		out = append(out, model.ListingRiskProfile{Target: r.Target, CertID: r.CertID, Score: r.Score, Level: model.RiskLevel(r.Level), Reasons: reasons, UpdatedAt: r.UpdatedAt})
	}
	return out, nil
}

// SaveAlert persists a new edge-triggered alert.
func (s *Store) SaveAlert(ctx context.Context, alert model.RiskAlert) error {
	raw, err := json.Marshal(alert.Reasons)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_alerts (alert_id, target_type, target_id, score, level, reasons_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, alert.AlertID, alert.TargetType, alert.TargetID, alert.Score, alert.Level, raw, alert.CreatedAt)
	return err
}

// Alerts returns up to limit alerts, newest first.
func (s *Store) Alerts(ctx context.Context, limit int) ([]model.RiskAlert, error) {
	var rows []struct {
		AlertID     string  `db:"alert_id"`
		TargetType  string  `db:"target_type"`
		TargetID    string  `db:"target_id"`
		Score       float64 `db:"score"`
		Level       string  `db:"level"`
		ReasonsJSON string  `db:"reasons_json"`
		CreatedAt   string  `db:"created_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT alert_id, target_type, target_id, score, level, reasons_json, created_at
		FROM risk_alerts ORDER BY rowid DESC LIMIT ?
	`, limit); err != nil {
		return nil, err
	}
	out := make([]model.RiskAlert, 0, len(rows))
	for _, r := range rows {
		var reasons []model.RiskReason
		if err := json.Unmarshal([]byte(r.ReasonsJSON), &reasons); err != nil {
			return nil, err
		}
		out = append(out, model.RiskAlert{
			AlertID: r.AlertID, TargetType: model.RiskAlertTargetType(r.TargetType), TargetID: r.TargetID,
			Score: r.Score, Level: model.RiskLevel(r.Level), Reasons: reasons, CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}
