// Package certauth implements the certificate authority (component D): the
// canonicalize/sign/persist core plus the status machine and amount-
// conserving split, backed by a per-service SQLite store keyed by certId.
package certauth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dgc-backbone/dgc/internal/model"
)

// ErrNotFound is returned when a certId has no persisted certificate.
var ErrNotFound = errors.New("certauth: certificate not found")

// Store persists SignedCertificates keyed by certId, generalizing the
// teacher's insert-or-replace ensureSchema idiom to a single-table store.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db and ensures the certificates schema exists.
func NewStore(db *sqlx.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS certificates (
			cert_id TEXT PRIMARY KEY,
			payload_json TEXT NOT NULL,
			payload_hash TEXT NOT NULL,
			signature TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("certauth: ensure certificates: %w", err)
	}
	return nil
}

// Put inserts or overwrites cert, keyed by cert.Payload.CertID.
func (s *Store) Put(ctx context.Context, cert model.SignedCertificate) error {
	raw, err := json.Marshal(cert.Payload)
	if err != nil {
		return fmt.Errorf("certauth: marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO certificates (cert_id, payload_json, payload_hash, signature)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cert_id) DO UPDATE SET
			payload_json = excluded.payload_json,
			payload_hash = excluded.payload_hash,
			signature = excluded.signature
	`, cert.Payload.CertID, raw, cert.PayloadHash, cert.Signature)
	return err
}

// Get returns the certificate for certID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, certID string) (model.SignedCertificate, error) {
	var row struct {
		PayloadJSON string `db:"payload_json"`
		PayloadHash string `db:"payload_hash"`
		Signature   string `db:"signature"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT payload_json, payload_hash, signature FROM certificates WHERE cert_id = ?
	`, certID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SignedCertificate{}, ErrNotFound
	}
	if err != nil {
		return model.SignedCertificate{}, err
	}
	return decodeRow(row.PayloadJSON, row.PayloadHash, row.Signature)
}

// List returns every certificate in ascending certId order.
func (s *Store) List(ctx context.Context) ([]model.SignedCertificate, error) {
	var rows []struct {
		PayloadJSON string `db:"payload_json"`
		PayloadHash string `db:"payload_hash"`
		Signature   string `db:"signature"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT payload_json, payload_hash, signature FROM certificates ORDER BY cert_id ASC
	`)
	if err != nil {
		return nil, err
	}
	out := make([]model.SignedCertificate, 0, len(rows))
	for _, r := range rows {
		cert, err := decodeRow(r.PayloadJSON, r.PayloadHash, r.Signature)
		if err != nil {
			return nil, err
		}
		out = append(out, cert)
	}
	return out, nil
}

func decodeRow(payloadJSON, payloadHash, signature string) (model.SignedCertificate, error) {
	var payload model.GoldCertificate
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return model.SignedCertificate{}, fmt.Errorf("certauth: decode payload: %w", err)
	}
	return model.SignedCertificate{Payload: payload, PayloadHash: payloadHash, Signature: signature}, nil
}
