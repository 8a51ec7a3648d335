// Package marketplace implements the marketplace engine (component H): a
// persistent listing state machine with idempotent escrow operations,
// coordinated with the certificate authority for status and ownership
// transitions, gated by the reconciliation controller's freeze state, and
// fanning audit events to the risk engine.
package marketplace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dgc-backbone/dgc/internal/model"
)

// ErrNotFound is returned when a listingId has no persisted record.
var ErrNotFound = errors.New("marketplace: listing not found")

// Store persists listings, their audit trail, and idempotency records.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db and ensures the marketplace schema exists.
func NewStore(db *sqlx.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS listings (
			listing_id TEXT PRIMARY KEY,
			cert_id TEXT NOT NULL,
			seller TEXT NOT NULL,
			ask_price TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			locked_by TEXT,
			locked_at TEXT,
			settled_at TEXT,
			settled_price TEXT,
			cancelled_at TEXT,
			cancel_reason TEXT,
			under_dispute INTEGER NOT NULL DEFAULT 0,
			dispute_id TEXT,
			dispute_status TEXT,
			dispute_opened_at TEXT,
			dispute_resolved_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_cert ON listings(cert_id)`,
		`CREATE TABLE IF NOT EXISTS listing_audit_events (
			event_id TEXT PRIMARY KEY,
			listing_id TEXT NOT NULL,
			cert_id TEXT NOT NULL,
			type TEXT NOT NULL,
			actor TEXT,
			occurred_at TEXT NOT NULL,
			details TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listing_audit_listing ON listing_audit_events(listing_id)`,
		`CREATE TABLE IF NOT EXISTS idempotency_records (
			action TEXT NOT NULL,
			key TEXT NOT NULL,
			request_hash TEXT NOT NULL,
			response_status INTEGER NOT NULL,
			response_body BLOB NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (action, key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("marketplace: ensure schema: %w", err)
		}
	}
	return nil
}

// CreateListing persists a fresh listing.
func (s *Store) CreateListing(ctx context.Context, l model.MarketplaceListing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (listing_id, cert_id, seller, ask_price, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.ListingID, l.CertID, l.Seller, l.AskPrice, l.Status, l.CreatedAt, l.UpdatedAt)
	return err
}

// GetListing returns the listing for listingID, or ErrNotFound.
func (s *Store) GetListing(ctx context.Context, listingID string) (model.MarketplaceListing, error) {
	var l model.MarketplaceListing
	err := s.db.GetContext(ctx, &l, `SELECT * FROM listings WHERE listing_id = ?`, listingID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MarketplaceListing{}, ErrNotFound
	}
	return l, err
}

// execerContext is satisfied by both *sqlx.DB and *sqlx.Tx, letting the
// write helpers below run standalone or as part of a shared transaction.
type execerContext interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// UpdateListing overwrites every mutable column of an existing listing.
func (s *Store) UpdateListing(ctx context.Context, l model.MarketplaceListing) error {
	return updateListing(ctx, s.db, l)
}

func updateListing(ctx context.Context, ex execerContext, l model.MarketplaceListing) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE listings SET
			status = ?, updated_at = ?,
			locked_by = ?, locked_at = ?,
			settled_at = ?, settled_price = ?,
			cancelled_at = ?, cancel_reason = ?,
			under_dispute = ?, dispute_id = ?, dispute_status = ?,
			dispute_opened_at = ?, dispute_resolved_at = ?
		WHERE listing_id = ?
	`, l.Status, l.UpdatedAt,
		l.LockedBy, l.LockedAt,
		l.SettledAt, l.SettledPrice,
		l.CancelledAt, l.CancelReason,
		l.UnderDispute, l.DisputeID, l.DisputeStatus,
		l.DisputeOpenedAt, l.DisputeResolvedAt,
		l.ListingID)
	return err
}

// List returns listings, optionally filtered by status, newest-created first.
func (s *Store) List(ctx context.Context, status model.ListingStatus) ([]model.MarketplaceListing, error) {
	var listings []model.MarketplaceListing
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &listings, `SELECT * FROM listings ORDER BY created_at DESC`)
	} else {
		err = s.db.SelectContext(ctx, &listings, `SELECT * FROM listings WHERE status = ? ORDER BY created_at DESC`, status)
	}
	if err != nil {
		return nil, err
	}
	return listings, nil
}

// AppendAudit appends an audit event, marshaling Details into DetailsRaw.
func (s *Store) AppendAudit(ctx context.Context, event model.ListingAuditEvent) error {
	return appendAudit(ctx, s.db, event)
}

func appendAudit(ctx context.Context, ex execerContext, event model.ListingAuditEvent) error {
	if event.Details != nil {
		raw, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marketplace: marshal audit details: %w", err)
		}
		event.DetailsRaw = string(raw)
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO listing_audit_events (event_id, listing_id, cert_id, type, actor, occurred_at, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.EventID, event.ListingID, event.CertID, event.Type, event.Actor, event.OccurredAt, event.DetailsRaw)
	return err
}

// AuditForListing returns the audit trail for one listing, oldest first.
func (s *Store) AuditForListing(ctx context.Context, listingID string) ([]model.ListingAuditEvent, error) {
	var raws []model.ListingAuditEvent
	if err := s.db.SelectContext(ctx, &raws, `SELECT * FROM listing_audit_events WHERE listing_id = ? ORDER BY occurred_at ASC`, listingID); err != nil {
		return nil, err
	}
	for i := range raws {
		if raws[i].DetailsRaw != "" {
			_ = json.Unmarshal([]byte(raws[i].DetailsRaw), &raws[i].Details)
		}
	}
	return raws, nil
}

// Lookup implements middleware.IdempotencyStore.
func (s *Store) Lookup(action, key string) (requestHash string, status int, body []byte, found bool) {
	var rec model.IdempotencyRecord
	err := s.db.Get(&rec, `SELECT * FROM idempotency_records WHERE action = ? AND key = ?`, action, key)
	if err != nil {
		return "", 0, nil, false
	}
	return rec.RequestHash, rec.ResponseStatus, rec.ResponseBody, true
}

// Save implements middleware.IdempotencyStore.
func (s *Store) Save(action, key, requestHash string, status int, body []byte) error {
	return saveIdempotency(context.Background(), s.db, IdempotencyWrite{
		Action: action, Key: key, RequestHash: requestHash, Status: status, Body: body,
	})
}

func saveIdempotency(ctx context.Context, ex execerContext, w IdempotencyWrite) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO idempotency_records (action, key, request_hash, response_status, response_body, created_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(action, key) DO NOTHING
	`, w.Action, w.Key, w.RequestHash, w.Status, w.Body)
	return err
}

// IdempotencyWrite is the idempotency record to persist alongside a domain
// mutation, so the two commit as one transaction.
type IdempotencyWrite struct {
	Action      string
	Key         string
	RequestHash string
	Status      int
	Body        []byte
}

// CommitMutation persists a listing update and its audit event together
// with the idempotency record for the request that produced them, as a
// single transaction, per §5: the domain write, the audit trail, and the
// idempotency record become visible together or not at all, closing the
// window in which a concurrent retry could observe the domain change
// without the idempotency record that should have deduplicated it. idem
// may be nil for mutations with no associated idempotency key.
func (s *Store) CommitMutation(ctx context.Context, listing model.MarketplaceListing, event model.ListingAuditEvent, idem *IdempotencyWrite) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("marketplace: begin tx: %w", err)
	}
	if err := updateListing(ctx, tx, listing); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := appendAudit(ctx, tx, event); err != nil {
		_ = tx.Rollback()
		return err
	}
	if idem != nil {
		if err := saveIdempotency(ctx, tx, *idem); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
