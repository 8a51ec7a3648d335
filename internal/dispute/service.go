package dispute

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dgc-backbone/dgc/internal/model"
)

// ErrAlreadyResolved is returned by Assign/Resolve when the dispute is
// already RESOLVED.
var ErrAlreadyResolved = errors.New("dispute: already resolved")

// Service implements open/assign/resolve/get/list.
type Service struct {
	store *Store
	nowFn func() time.Time
}

// NewService wraps store.
func NewService(store *Store) *Service {
	return &Service{store: store, nowFn: time.Now}
}

func (s *Service) now() string {
	return s.nowFn().UTC().Format(time.RFC3339Nano)
}

func newDisputeID(now time.Time) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("dispute: generate id suffix: %w", err)
	}
	return fmt.Sprintf("DSP-%s-%s", now.UTC().Format("20060102T150405Z"), hex.EncodeToString(suffix)), nil
}

// Open creates a fresh OPEN dispute.
func (s *Service) Open(ctx context.Context, listingID, certID, openedBy, reason string, evidence *string) (model.DisputeRecord, error) {
	now := s.nowFn()
	id, err := newDisputeID(now)
	if err != nil {
		return model.DisputeRecord{}, err
	}
	record := model.DisputeRecord{
		DisputeID: id, ListingID: listingID, CertID: certID, Status: model.DisputeOpen,
		OpenedBy: openedBy, Reason: reason, Evidence: evidence, OpenedAt: now.UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.Create(ctx, record); err != nil {
		return model.DisputeRecord{}, err
	}
	return record, nil
}

// Get returns the dispute for disputeID, or ErrNotFound.
func (s *Service) Get(ctx context.Context, disputeID string) (model.DisputeRecord, error) {
	return s.store.Get(ctx, disputeID)
}

// List returns disputes optionally filtered by status.
func (s *Service) List(ctx context.Context, status model.DisputeStatus) ([]model.DisputeRecord, error) {
	return s.store.List(ctx, status)
}

// Assign transitions disputeID to ASSIGNED. Governance gating is applied by
// the caller's middleware; this only enforces the non-RESOLVED precondition.
func (s *Service) Assign(ctx context.Context, disputeID, assignee string) (model.DisputeRecord, error) {
	cur, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return model.DisputeRecord{}, err
	}
	if cur.Status == model.DisputeResolved {
		return model.DisputeRecord{}, ErrAlreadyResolved
	}
	now := s.now()
	if err := s.store.Assign(ctx, disputeID, assignee, now); err != nil {
		return model.DisputeRecord{}, err
	}
	return s.store.Get(ctx, disputeID)
}

// Resolve transitions disputeID to RESOLVED.
func (s *Service) Resolve(ctx context.Context, disputeID, resolvedBy string, resolution model.DisputeResolution, notes *string) (model.DisputeRecord, error) {
	cur, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return model.DisputeRecord{}, err
	}
	if cur.Status == model.DisputeResolved {
		return model.DisputeRecord{}, ErrAlreadyResolved
	}
	now := s.now()
	if err := s.store.Resolve(ctx, disputeID, resolvedBy, resolution, notes, now); err != nil {
		return model.DisputeRecord{}, err
	}
	return s.store.Get(ctx, disputeID)
}
