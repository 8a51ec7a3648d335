// Package ledger implements the ledger adapter (component C): a proof
// anchor store plus a per-certificate event timeline, optionally pushing
// each event through a chain sink and fanning out to the risk engine.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dgc-backbone/dgc/internal/model"
)

// ErrNotFound is returned when a proof anchor is absent for a certId.
var ErrNotFound = errors.New("ledger: proof anchor not found")

// Store persists proof anchors and event timelines, generalizing the
// teacher's PostgresAuditRepo ensureSchema/insert idiom to SQLite.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db and ensures the ledger schema exists.
func NewStore(db *sqlx.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS proof_anchors (
			cert_id TEXT PRIMARY KEY,
			payload_hash TEXT NOT NULL,
			proof_hash TEXT NOT NULL,
			anchored_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ledger: ensure proof_anchors: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS timeline_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cert_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			event_json TEXT NOT NULL,
			event_hash TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ledger: ensure timeline_events: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_timeline_cert ON timeline_events(cert_id, seq)`)
	if err != nil {
		return fmt.Errorf("ledger: ensure timeline index: %w", err)
	}
	return nil
}

// SaveAnchor upserts the latest proof anchor for anchor.CertID.
func (s *Store) SaveAnchor(ctx context.Context, anchor model.ProofAnchor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proof_anchors (cert_id, payload_hash, proof_hash, anchored_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cert_id) DO UPDATE SET
			payload_hash = excluded.payload_hash,
			proof_hash = excluded.proof_hash,
			anchored_at = excluded.anchored_at
	`, anchor.CertID, anchor.PayloadHash, anchor.ProofHash, anchor.AnchoredAt)
	return err
}

// GetAnchor returns the latest proof anchor for certID, or ErrNotFound.
func (s *Store) GetAnchor(ctx context.Context, certID string) (model.ProofAnchor, error) {
	var anchor model.ProofAnchor
	err := s.db.GetContext(ctx, &anchor, `
		SELECT cert_id AS "certid", payload_hash AS "payloadhash", proof_hash AS "proofhash", anchored_at AS "anchoredat"
		FROM proof_anchors WHERE cert_id = ?
	`, certID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ProofAnchor{}, ErrNotFound
	}
	if err != nil {
		return model.ProofAnchor{}, err
	}
	return anchor, nil
}

// AppendEvent appends event to certID's timeline at the next sequence
// number and returns that sequence.
func (s *Store) AppendEvent(ctx context.Context, certID string, event model.LedgerEvent, eventHash string) (int64, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("ledger: marshal event: %w", err)
	}
	var nextSeq int64
	err = s.db.GetContext(ctx, &nextSeq, `SELECT COALESCE(MAX(seq), 0) + 1 FROM timeline_events WHERE cert_id = ?`, certID)
	if err != nil {
		return 0, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO timeline_events (cert_id, seq, event_json, event_hash) VALUES (?, ?, ?, ?)
	`, certID, nextSeq, raw, eventHash)
	if err != nil {
		return 0, err
	}
	return nextSeq, nil
}

// Timeline returns certID's events in arrival order, empty if unknown.
func (s *Store) Timeline(ctx context.Context, certID string) ([]model.LedgerEvent, error) {
	var rows []struct {
		EventJSON string `db:"event_json"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT event_json FROM timeline_events WHERE cert_id = ? ORDER BY seq ASC
	`, certID)
	if err != nil {
		return nil, err
	}
	events := make([]model.LedgerEvent, 0, len(rows))
	for _, r := range rows {
		var e model.LedgerEvent
		if err := json.Unmarshal([]byte(r.EventJSON), &e); err != nil {
			return nil, fmt.Errorf("ledger: decode event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}
