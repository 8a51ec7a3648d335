// Package reconciliation implements the reconciliation & freeze controller
// (component G): periodic custody-vs-claims checks, auto-freeze on
// threshold breach, and governance-audited manual override.
package reconciliation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dgc-backbone/dgc/internal/model"
)

// ErrNoFreezeState describes a freeze singleton that has never been set.
// FreezeState does not return it; it reports an inactive default instead.
var ErrNoFreezeState = errors.New("reconciliation: no freeze state recorded yet")

// Store persists reconciliation runs, the freeze singleton, and override history.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db and ensures the reconciliation schema exists.
func NewStore(db *sqlx.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reconciliation_runs (
			run_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			custody_total_gram TEXT NOT NULL,
			outstanding_total_gram TEXT NOT NULL,
			mismatch_gram TEXT NOT NULL,
			abs_mismatch_gram TEXT NOT NULL,
			threshold_gram TEXT NOT NULL,
			freeze_triggered INTEGER NOT NULL,
			certificates_evaluated INTEGER NOT NULL,
			active_certificates INTEGER NOT NULL,
			locked_certificates INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS freeze_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			active INTEGER NOT NULL,
			reason TEXT,
			updated_at TEXT NOT NULL,
			last_run_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS freeze_overrides (
			override_id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			actor TEXT NOT NULL,
			reason TEXT NOT NULL,
			previous_active INTEGER NOT NULL,
			next_active INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			run_id TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reconciliation: ensure schema: %w", err)
		}
	}
	return nil
}

// SaveRun persists a fresh reconciliation run.
func (s *Store) SaveRun(ctx context.Context, run model.ReconciliationRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (
			run_id, created_at, custody_total_gram, outstanding_total_gram,
			mismatch_gram, abs_mismatch_gram, threshold_gram, freeze_triggered,
			certificates_evaluated, active_certificates, locked_certificates
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.CreatedAt, run.CustodyTotalGram, run.OutstandingTotalGram,
		run.MismatchGram, run.AbsMismatchGram, run.ThresholdGram, run.FreezeTriggered,
		run.CertificatesEvaluated, run.ActiveCertificates, run.LockedCertificates)
	return err
}

// LatestRun returns the most recently created run, or sql.ErrNoRows if
// none exist yet.
func (s *Store) LatestRun(ctx context.Context) (model.ReconciliationRun, error) {
	var run model.ReconciliationRun
	err := s.db.GetContext(ctx, &run, `SELECT * FROM reconciliation_runs ORDER BY created_at DESC LIMIT 1`)
	return run, err
}

// History returns up to limit runs, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]model.ReconciliationRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var runs []model.ReconciliationRun
	if err := s.db.SelectContext(ctx, &runs, `SELECT * FROM reconciliation_runs ORDER BY created_at DESC LIMIT ?`, limit); err != nil {
		return nil, err
	}
	return runs, nil
}

// UpsertFreezeState overwrites the freeze singleton.
func (s *Store) UpsertFreezeState(ctx context.Context, state model.FreezeState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO freeze_state (id, active, reason, updated_at, last_run_id)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			active = excluded.active, reason = excluded.reason,
			updated_at = excluded.updated_at, last_run_id = excluded.last_run_id
	`, state.Active, state.Reason, state.UpdatedAt, state.LastRunID)
	return err
}

// FreezeState returns the current freeze singleton, defaulting to inactive
// if never set.
func (s *Store) FreezeState(ctx context.Context) (model.FreezeState, error) {
	var state model.FreezeState
	err := s.db.GetContext(ctx, &state, `SELECT active, reason, updated_at, last_run_id FROM freeze_state WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FreezeState{Active: false, UpdatedAt: ""}, nil
	}
	return state, err
}

// SaveOverride appends a freeze override record.
func (s *Store) SaveOverride(ctx context.Context, o model.FreezeOverride) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO freeze_overrides (override_id, action, actor, reason, previous_active, next_active, created_at, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, o.OverrideID, o.Action, o.Actor, o.Reason, o.PreviousActive, o.NextActive, o.CreatedAt, o.RunID)
	return err
}

// Overrides returns up to limit overrides, newest first.
func (s *Store) Overrides(ctx context.Context, limit int) ([]model.FreezeOverride, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var overrides []model.FreezeOverride
	if err := s.db.SelectContext(ctx, &overrides, `SELECT * FROM freeze_overrides ORDER BY created_at DESC LIMIT ?`, limit); err != nil {
		return nil, err
	}
	return overrides, nil
}
