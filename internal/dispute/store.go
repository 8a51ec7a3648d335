// Package dispute implements the dispute orchestrator (component F): a
// persistent OPEN→ASSIGNED→RESOLVED state machine gated by governance RBAC
// on assign/resolve.
package dispute

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dgc-backbone/dgc/internal/model"
)

// ErrNotFound is returned when a disputeId has no persisted record.
var ErrNotFound = errors.New("dispute: not found")

// Store persists DisputeRecords keyed by disputeId.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db and ensures the disputes schema exists.
func NewStore(db *sqlx.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS disputes (
			dispute_id TEXT PRIMARY KEY,
			listing_id TEXT NOT NULL,
			cert_id TEXT NOT NULL,
			status TEXT NOT NULL,
			opened_by TEXT NOT NULL,
			reason TEXT NOT NULL,
			evidence TEXT,
			opened_at TEXT NOT NULL,
			assigned_to TEXT,
			assigned_at TEXT,
			resolved_by TEXT,
			resolved_at TEXT,
			resolution TEXT,
			resolution_notes TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("dispute: ensure schema: %w", err)
	}
	return nil
}

// Create persists a fresh dispute record.
func (s *Store) Create(ctx context.Context, d model.DisputeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disputes (dispute_id, listing_id, cert_id, status, opened_by, reason, evidence, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.DisputeID, d.ListingID, d.CertID, d.Status, d.OpenedBy, d.Reason, d.Evidence, d.OpenedAt)
	return err
}

// Get returns the dispute for disputeID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, disputeID string) (model.DisputeRecord, error) {
	var d model.DisputeRecord
	err := s.db.GetContext(ctx, &d, `SELECT * FROM disputes WHERE dispute_id = ?`, disputeID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DisputeRecord{}, ErrNotFound
	}
	return d, err
}

// List returns disputes, optionally filtered by status, newest-opened first.
func (s *Store) List(ctx context.Context, status model.DisputeStatus) ([]model.DisputeRecord, error) {
	var disputes []model.DisputeRecord
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &disputes, `SELECT * FROM disputes ORDER BY opened_at DESC`)
	} else {
		err = s.db.SelectContext(ctx, &disputes, `SELECT * FROM disputes WHERE status = ? ORDER BY opened_at DESC`, status)
	}
	if err != nil {
		return nil, err
	}
	return disputes, nil
}

// Assign sets a dispute to ASSIGNED.
func (s *Store) Assign(ctx context.Context, disputeID, assignee, assignedAt string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE disputes SET status = ?, assigned_to = ?, assigned_at = ? WHERE dispute_id = ?
	`, model.DisputeAssigned, assignee, assignedAt, disputeID)
	return err
}

// Resolve sets a dispute to RESOLVED.
func (s *Store) Resolve(ctx context.Context, disputeID, resolvedBy string, resolution model.DisputeResolution, notes *string, resolvedAt string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE disputes SET status = ?, resolved_by = ?, resolution = ?, resolution_notes = ?, resolved_at = ?
		WHERE dispute_id = ?
	`, model.DisputeResolved, resolvedBy, resolution, notes, resolvedAt, disputeID)
	return err
}
