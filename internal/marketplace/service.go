package marketplace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgc-backbone/dgc/internal/httpx"
	"github.com/dgc-backbone/dgc/internal/model"
	"github.com/dgc-backbone/dgc/internal/pkg/logger"
)

// IdempotencyContext carries the request's idempotency identity, as
// computed by middleware.Idempotency, into a service call. Key is empty
// for calls with no associated idempotency key, e.g. tests exercising the
// service layer directly.
type IdempotencyContext struct {
	Action      string
	Key         string
	RequestHash string
}

// Errors surfaced by listing preconditions, per §4.H.
var (
	ErrOwnerMismatch       = errors.New("marketplace: seller does not match certificate owner")
	ErrBuyerMismatch       = errors.New("marketplace: buyer does not match the lock holder")
	ErrListingTerminal     = errors.New("marketplace: listing is already settled or cancelled")
	ErrAlreadyUnderDispute = errors.New("marketplace: listing already has an open dispute")
	ErrListingNotSettled   = errors.New("marketplace: listing must be settled before a dispute can be opened")
)

// ListingStateError reports an illegal transition attempt against a listing.
type ListingStateError struct {
	Op      string
	Current model.ListingStatus
}

func (e *ListingStateError) Error() string {
	return fmt.Sprintf("marketplace: cannot %s listing in status %s", e.Op, e.Current)
}

// DownstreamError wraps a non-2xx response from a collaborator service,
// carrying enough of the original status to remap at the handler layer.
type DownstreamError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("marketplace: %s service returned %d: %s", e.Service, e.StatusCode, e.Message)
}

// ErrCollaboratorUnreachable is returned when a downstream call exceeds its deadline.
type ErrCollaboratorUnreachable struct {
	Service string
}

func (e *ErrCollaboratorUnreachable) Error() string {
	return fmt.Sprintf("marketplace: %s service unreachable", e.Service)
}

// FrozenError signals the marketplace is currently frozen per the
// reconciliation controller's freeze state, echoed back to the caller.
type FrozenError struct {
	State model.FreezeState
}

func (e *FrozenError) Error() string { return "marketplace: frozen by reconciliation controller" }

// Config carries the fixed, env-sourced collaborator endpoints.
type Config struct {
	CertificateServiceURL    string
	RiskStreamURL            string
	DisputeServiceURL        string
	ReconciliationServiceURL string
}

// Service implements create/lock/settle/cancel/open-dispute per §4.H.
type Service struct {
	store      *Store
	cfg        Config
	httpClient *httpx.Client
	nowFn      func() time.Time
}

// NewService wraps store with cfg's collaborator endpoints.
func NewService(store *Store, httpClient *httpx.Client, cfg Config) *Service {
	return &Service{store: store, cfg: cfg, httpClient: httpClient, nowFn: time.Now}
}

func (s *Service) now() string {
	return s.nowFn().UTC().Format(time.RFC3339Nano)
}

func newListingID(now time.Time) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("marketplace: generate listing id suffix: %w", err)
	}
	return fmt.Sprintf("LST-%s-%s", now.UTC().Format("20060102T150405Z"), hex.EncodeToString(suffix)), nil
}

func newEventID(now time.Time) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("marketplace: generate event id suffix: %w", err)
	}
	return fmt.Sprintf("EVT-%s-%s", now.UTC().Format("20060102T150405Z"), hex.EncodeToString(suffix)), nil
}

// ---- collaborator calls ----

func (s *Service) getCertificate(ctx context.Context, certID string) (model.SignedCertificate, error) {
	if s.cfg.CertificateServiceURL == "" {
		return model.SignedCertificate{}, &ErrCollaboratorUnreachable{Service: "certificate"}
	}
	result := s.httpClient.DoJSON(ctx, httpx.PrimaryDeadline, "GET", s.cfg.CertificateServiceURL+"/certificates/"+certID, nil)
	if result.Unreachable {
		return model.SignedCertificate{}, &ErrCollaboratorUnreachable{Service: "certificate"}
	}
	if result.StatusCode == 404 {
		return model.SignedCertificate{}, ErrNotFound
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return model.SignedCertificate{}, &DownstreamError{Service: "certificate", StatusCode: result.StatusCode, Message: string(result.Body)}
	}
	var cert model.SignedCertificate
	if err := httpx.DecodeInto(result, &cert); err != nil {
		return model.SignedCertificate{}, fmt.Errorf("marketplace: decode certificate response: %w", err)
	}
	return cert, nil
}

type certMutationResult struct {
	Certificate model.SignedCertificate `json:"certificate"`
}

func (s *Service) setCertStatus(ctx context.Context, certID string, next model.CertStatus) (model.SignedCertificate, error) {
	body := map[string]interface{}{"certId": certID, "next": next}
	result := s.httpClient.DoJSON(ctx, httpx.PrimaryDeadline, "POST", s.cfg.CertificateServiceURL+"/certificates/status", body)
	if result.Unreachable {
		return model.SignedCertificate{}, &ErrCollaboratorUnreachable{Service: "certificate"}
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return model.SignedCertificate{}, &DownstreamError{Service: "certificate", StatusCode: result.StatusCode, Message: string(result.Body)}
	}
	var mr certMutationResult
	if err := httpx.DecodeInto(result, &mr); err != nil {
		return model.SignedCertificate{}, fmt.Errorf("marketplace: decode status response: %w", err)
	}
	return mr.Certificate, nil
}

func (s *Service) transferCert(ctx context.Context, certID, toOwner string, price *string) (model.SignedCertificate, error) {
	body := map[string]interface{}{"certId": certID, "toOwner": toOwner}
	if price != nil {
		body["price"] = *price
	}
	result := s.httpClient.DoJSON(ctx, httpx.PrimaryDeadline, "POST", s.cfg.CertificateServiceURL+"/certificates/transfer", body)
	if result.Unreachable {
		return model.SignedCertificate{}, &ErrCollaboratorUnreachable{Service: "certificate"}
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return model.SignedCertificate{}, &DownstreamError{Service: "certificate", StatusCode: result.StatusCode, Message: string(result.Body)}
	}
	var mr certMutationResult
	if err := httpx.DecodeInto(result, &mr); err != nil {
		return model.SignedCertificate{}, fmt.Errorf("marketplace: decode transfer response: %w", err)
	}
	return mr.Certificate, nil
}

// checkFreeze enforces the freeze gate. A nil error means the mutation may proceed.
func (s *Service) checkFreeze(ctx context.Context) error {
	if s.cfg.ReconciliationServiceURL == "" {
		return nil
	}
	result := s.httpClient.DoJSON(ctx, httpx.PrimaryDeadline, "GET", s.cfg.ReconciliationServiceURL+"/reconcile/latest", nil)
	if result.Unreachable {
		return &ErrCollaboratorUnreachable{Service: "reconciliation"}
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return &DownstreamError{Service: "reconciliation", StatusCode: result.StatusCode, Message: string(result.Body)}
	}
	var body struct {
		FreezeState *model.FreezeState `json:"freezeState"`
	}
	if err := httpx.DecodeInto(result, &body); err != nil || body.FreezeState == nil {
		return &DownstreamError{Service: "reconciliation", StatusCode: result.StatusCode, Message: "invalid freeze state response"}
	}
	if body.FreezeState.Active {
		return &FrozenError{State: *body.FreezeState}
	}
	return nil
}

func (s *Service) fanOutAudit(event model.ListingAuditEvent, listing model.MarketplaceListing) {
	if s.cfg.RiskStreamURL == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), httpx.BestEffortDeadline)
		defer cancel()
		result := s.httpClient.DoJSON(ctx, httpx.BestEffortDeadline, "POST", s.cfg.RiskStreamURL+"/ingest/listing-audit-event", event)
		if result.Unreachable || result.Err != nil {
			logger.Debug("marketplace: risk audit fan-out failed", "listingId", listing.ListingID, "err", result.Err)
		}
	}()
}

func (s *Service) recordAudit(ctx context.Context, listingID, certID string, typ model.ListingAuditType, actor string, details map[string]interface{}) (model.ListingAuditEvent, error) {
	event, err := s.newAuditEvent(listingID, certID, typ, actor, details)
	if err != nil {
		return model.ListingAuditEvent{}, err
	}
	if err := s.store.AppendAudit(ctx, event); err != nil {
		return model.ListingAuditEvent{}, err
	}
	return event, nil
}

// newAuditEvent builds an audit event without persisting it, for callers
// that must append it in the same transaction as the domain write it
// describes.
func (s *Service) newAuditEvent(listingID, certID string, typ model.ListingAuditType, actor string, details map[string]interface{}) (model.ListingAuditEvent, error) {
	now := s.nowFn()
	id, err := newEventID(now)
	if err != nil {
		return model.ListingAuditEvent{}, err
	}
	return model.ListingAuditEvent{
		EventID: id, ListingID: listingID, CertID: certID, Type: typ, Actor: actor,
		OccurredAt: now.UTC().Format(time.RFC3339Nano), Details: details,
	}, nil
}

// idempotencyWrite marshals response as the body that will be sent back to
// the caller and pairs it with idem's identity, for a store.CommitMutation
// call. It returns nil when idem carries no key, e.g. a direct service
// call made outside the Idempotency middleware.
func idempotencyWrite(idem IdempotencyContext, status int, response interface{}) (*IdempotencyWrite, error) {
	if idem.Key == "" {
		return nil, nil
	}
	body, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("marketplace: marshal idempotent response: %w", err)
	}
	return &IdempotencyWrite{Action: idem.Action, Key: idem.Key, RequestHash: idem.RequestHash, Status: status, Body: body}, nil
}

// ---- operations ----

// CreateListing opens a new OPEN listing over certID, subject to the freeze
// gate and an owner/status check against the certificate authority.
func (s *Service) CreateListing(ctx context.Context, certID, seller, askPrice string) (model.MarketplaceListing, error) {
	if err := s.checkFreeze(ctx); err != nil {
		return model.MarketplaceListing{}, err
	}
	cert, err := s.getCertificate(ctx, certID)
	if err != nil {
		return model.MarketplaceListing{}, err
	}
	if cert.Payload.Owner != seller {
		return model.MarketplaceListing{}, ErrOwnerMismatch
	}
	if cert.Payload.Status != model.CertActive {
		return model.MarketplaceListing{}, &ListingStateError{Op: "create a listing over", Current: model.ListingStatus(cert.Payload.Status)}
	}

	now := s.nowFn()
	id, err := newListingID(now)
	if err != nil {
		return model.MarketplaceListing{}, err
	}
	listing := model.MarketplaceListing{
		ListingID: id, CertID: certID, Seller: seller, AskPrice: askPrice, Status: model.ListingOpen,
		CreatedAt: now.UTC().Format(time.RFC3339Nano), UpdatedAt: now.UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.CreateListing(ctx, listing); err != nil {
		return model.MarketplaceListing{}, err
	}
	event, err := s.recordAudit(ctx, listing.ListingID, certID, model.AuditCreated, seller, nil)
	if err != nil {
		return model.MarketplaceListing{}, err
	}
	s.fanOutAudit(event, listing)
	return listing, nil
}

// LockEscrow transitions an OPEN listing to LOCKED on behalf of buyer. The
// listing update, its audit event, and idem's idempotency record (when
// present) commit as a single transaction per §5.
func (s *Service) LockEscrow(ctx context.Context, listingID, buyer string, idem IdempotencyContext) (model.MarketplaceListing, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return model.MarketplaceListing{}, err
	}
	if listing.Status != model.ListingOpen {
		return model.MarketplaceListing{}, &ListingStateError{Op: "lock", Current: listing.Status}
	}
	if err := s.checkFreeze(ctx); err != nil {
		return model.MarketplaceListing{}, err
	}
	if _, err := s.setCertStatus(ctx, listing.CertID, model.CertLocked); err != nil {
		return model.MarketplaceListing{}, err
	}

	now := s.now()
	listing.Status = model.ListingLocked
	listing.LockedBy = &buyer
	listing.LockedAt = &now
	listing.UpdatedAt = now

	event, err := s.newAuditEvent(listing.ListingID, listing.CertID, model.AuditLocked, buyer, nil)
	if err != nil {
		return model.MarketplaceListing{}, err
	}
	write, err := idempotencyWrite(idem, http.StatusOK, listing)
	if err != nil {
		return model.MarketplaceListing{}, err
	}
	if err := s.store.CommitMutation(ctx, listing, event, write); err != nil {
		return model.MarketplaceListing{}, err
	}
	s.fanOutAudit(event, listing)
	return listing, nil
}

// SettleEscrow completes a LOCKED listing: unlocks the certificate then
// transfers ownership to buyer, rolling back to LOCKED if the transfer
// fails. The listing update, its audit event, and idem's idempotency
// record (when present) commit as a single transaction per §5.
func (s *Service) SettleEscrow(ctx context.Context, listingID, buyer string, settledPrice *string, idem IdempotencyContext) (model.MarketplaceListing, model.SignedCertificate, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return model.MarketplaceListing{}, model.SignedCertificate{}, err
	}
	if listing.Status != model.ListingLocked {
		return model.MarketplaceListing{}, model.SignedCertificate{}, &ListingStateError{Op: "settle", Current: listing.Status}
	}
	if listing.LockedBy == nil || *listing.LockedBy != buyer {
		return model.MarketplaceListing{}, model.SignedCertificate{}, ErrBuyerMismatch
	}
	if err := s.checkFreeze(ctx); err != nil {
		return model.MarketplaceListing{}, model.SignedCertificate{}, err
	}

	price := listing.AskPrice
	if settledPrice != nil && *settledPrice != "" {
		price = *settledPrice
	}

	if _, err := s.setCertStatus(ctx, listing.CertID, model.CertActive); err != nil {
		return model.MarketplaceListing{}, model.SignedCertificate{}, err
	}
	transferred, err := s.transferCert(ctx, listing.CertID, buyer, &price)
	if err != nil {
		if _, rollbackErr := s.setCertStatus(ctx, listing.CertID, model.CertLocked); rollbackErr != nil {
			logger.Debug("marketplace: settle rollback failed", "listingId", listingID, "err", rollbackErr)
		}
		return model.MarketplaceListing{}, model.SignedCertificate{}, err
	}

	now := s.now()
	listing.Status = model.ListingSettled
	listing.SettledAt = &now
	listing.SettledPrice = &price
	listing.UpdatedAt = now

	event, err := s.newAuditEvent(listing.ListingID, listing.CertID, model.AuditSettled, buyer, map[string]interface{}{"settledPrice": price})
	if err != nil {
		return model.MarketplaceListing{}, model.SignedCertificate{}, err
	}
	response := map[string]interface{}{"listing": listing, "transfer": transferred}
	write, err := idempotencyWrite(idem, http.StatusOK, response)
	if err != nil {
		return model.MarketplaceListing{}, model.SignedCertificate{}, err
	}
	if err := s.store.CommitMutation(ctx, listing, event, write); err != nil {
		return model.MarketplaceListing{}, model.SignedCertificate{}, err
	}
	s.fanOutAudit(event, listing)
	return listing, transferred, nil
}

// CancelEscrow cancels a listing that is not yet terminal. Not freeze-gated.
// The listing update, its audit event, and idem's idempotency record (when
// present) commit as a single transaction per §5.
func (s *Service) CancelEscrow(ctx context.Context, listingID string, reason *string, idem IdempotencyContext) (model.MarketplaceListing, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return model.MarketplaceListing{}, err
	}
	if listing.Status == model.ListingSettled || listing.Status == model.ListingCancelled {
		return model.MarketplaceListing{}, ErrListingTerminal
	}

	actor := listing.Seller
	if listing.Status == model.ListingLocked {
		if _, err := s.setCertStatus(ctx, listing.CertID, model.CertActive); err != nil {
			return model.MarketplaceListing{}, err
		}
		if listing.LockedBy != nil {
			actor = *listing.LockedBy
		}
	}

	now := s.now()
	listing.Status = model.ListingCancelled
	listing.CancelledAt = &now
	listing.CancelReason = reason
	listing.UpdatedAt = now

	var details map[string]interface{}
	if reason != nil {
		details = map[string]interface{}{"reason": *reason}
	}
	event, err := s.newAuditEvent(listing.ListingID, listing.CertID, model.AuditCancelled, actor, details)
	if err != nil {
		return model.MarketplaceListing{}, err
	}
	write, err := idempotencyWrite(idem, http.StatusOK, listing)
	if err != nil {
		return model.MarketplaceListing{}, err
	}
	if err := s.store.CommitMutation(ctx, listing, event, write); err != nil {
		return model.MarketplaceListing{}, err
	}
	s.fanOutAudit(event, listing)
	return listing, nil
}

// OpenDispute delegates to the dispute orchestrator for a SETTLED listing
// not already under dispute, then stamps the listing with the result.
func (s *Service) OpenDispute(ctx context.Context, listingID, openedBy, reason string, evidence *string) (model.MarketplaceListing, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return model.MarketplaceListing{}, err
	}
	if listing.Status != model.ListingSettled {
		return model.MarketplaceListing{}, ErrListingNotSettled
	}
	if listing.UnderDispute {
		return model.MarketplaceListing{}, ErrAlreadyUnderDispute
	}
	if s.cfg.DisputeServiceURL == "" {
		return model.MarketplaceListing{}, &ErrCollaboratorUnreachable{Service: "dispute"}
	}

	body := map[string]interface{}{
		"listingId": listing.ListingID, "certId": listing.CertID,
		"openedBy": openedBy, "reason": reason, "evidence": evidence,
	}
	result := s.httpClient.DoJSON(ctx, httpx.PrimaryDeadline, "POST", s.cfg.DisputeServiceURL+"/disputes/open", body)
	if result.Unreachable {
		return model.MarketplaceListing{}, &ErrCollaboratorUnreachable{Service: "dispute"}
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return model.MarketplaceListing{}, &DownstreamError{Service: "dispute", StatusCode: result.StatusCode, Message: string(result.Body)}
	}
	var dispute model.DisputeRecord
	if err := httpx.DecodeInto(result, &dispute); err != nil {
		return model.MarketplaceListing{}, fmt.Errorf("marketplace: decode dispute response: %w", err)
	}

	now := s.now()
	disputeStatus := string(dispute.Status)
	listing.UnderDispute = true
	listing.DisputeID = &dispute.DisputeID
	listing.DisputeStatus = &disputeStatus
	listing.DisputeOpenedAt = &now
	listing.UpdatedAt = now
	if err := s.store.UpdateListing(ctx, listing); err != nil {
		return model.MarketplaceListing{}, err
	}
	event, err := s.recordAudit(ctx, listing.ListingID, listing.CertID, model.AuditDisputeOpened, openedBy, map[string]interface{}{"disputeId": dispute.DisputeID, "reason": reason})
	if err != nil {
		return model.MarketplaceListing{}, err
	}
	s.fanOutAudit(event, listing)
	return listing, nil
}

// Get returns the listing for listingID, or ErrNotFound.
func (s *Service) Get(ctx context.Context, listingID string) (model.MarketplaceListing, error) {
	return s.store.GetListing(ctx, listingID)
}

// List returns listings, optionally filtered by status.
func (s *Service) List(ctx context.Context, status model.ListingStatus) ([]model.MarketplaceListing, error) {
	return s.store.List(ctx, status)
}

// Audit returns the audit trail for one listing.
func (s *Service) Audit(ctx context.Context, listingID string) ([]model.ListingAuditEvent, error) {
	return s.store.AuditForListing(ctx, listingID)
}
