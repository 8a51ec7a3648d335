package certauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dgc-backbone/dgc/internal/amount"
	"github.com/dgc-backbone/dgc/internal/canon"
	"github.com/dgc-backbone/dgc/internal/httpx"
	"github.com/dgc-backbone/dgc/internal/keys"
	"github.com/dgc-backbone/dgc/internal/model"
	"github.com/dgc-backbone/dgc/internal/validate"
)

// ErrInvalidAmount and ErrInvalidPurity classify failure modes Handler needs
// to map onto specific HTTP statuses/codes; state conflicts are reported as
// StateConflictError.
var (
	ErrInvalidAmount   = errors.New("certauth: invalid amount")
	ErrInvalidPurity   = errors.New("certauth: invalid purity")
	ErrSplitTooLarge   = errors.New("certauth: split amount must be less than parent amount")
	ErrSplitNonPositive = errors.New("certauth: split amount must be positive")
)

// StateConflictError reports an illegal status transition, per §4.D.
type StateConflictError struct {
	From, To model.CertStatus
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("Transition %s -> %s is not allowed", e.From, e.To)
}

// OutboundResult carries the classified outcome of the anchor+record calls
// a mutation triggers, echoed back to callers per §4.D.
type OutboundResult struct {
	AnchorOutcome model.OutboundOutcome `json:"anchorOutcome"`
	EventOutcome  model.OutboundOutcome `json:"eventOutcome"`
}

// MutationResult wraps a certificate plus its outbound anchor/event status.
type MutationResult struct {
	Certificate model.SignedCertificate `json:"certificate"`
	Outbound    OutboundResult          `json:"outbound"`
}

// SplitResult wraps parent and child certificates plus combined outbound status.
type SplitResult struct {
	Parent   model.SignedCertificate `json:"parent"`
	Child    model.SignedCertificate `json:"child"`
	Outbound OutboundResult          `json:"outbound"`
}

// Service implements issue/get/list/verify/transfer/split/status/timeline.
type Service struct {
	store         *Store
	issuerSkHex   string
	issuerPkHex   string
	ledgerURL     string
	httpClient    *httpx.Client
	nowFn         func() time.Time
}

// NewService derives the issuer's public key from skHex and wires the
// ledger adapter collaborator.
func NewService(store *Store, issuerSkHex, ledgerURL string, httpClient *httpx.Client) (*Service, error) {
	pk, err := keys.DerivePublicKey(issuerSkHex)
	if err != nil {
		return nil, fmt.Errorf("certauth: derive issuer public key: %w", err)
	}
	return &Service{
		store:       store,
		issuerSkHex: issuerSkHex,
		issuerPkHex: pk,
		ledgerURL:   ledgerURL,
		httpClient:  httpClient,
		nowFn:       time.Now,
	}, nil
}

func (s *Service) now() string {
	return s.nowFn().UTC().Format(time.RFC3339Nano)
}

func newCertID(now time.Time) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("certauth: generate cert id suffix: %w", err)
	}
	return fmt.Sprintf("DGC-%s-%s", now.UTC().Format("20060102T150405Z"), hex.EncodeToString(suffix)), nil
}

// signPayload canonicalizes, hashes, and signs payload under the issuer key.
func (s *Service) signPayload(payload model.GoldCertificate) (model.SignedCertificate, error) {
	payloadHash, err := canon.HashJSON(payload)
	if err != nil {
		return model.SignedCertificate{}, fmt.Errorf("certauth: hash payload: %w", err)
	}
	sig, err := keys.Sign(payloadHash, s.issuerSkHex)
	if err != nil {
		return model.SignedCertificate{}, fmt.Errorf("certauth: sign payload: %w", err)
	}
	return model.SignedCertificate{Payload: payload, PayloadHash: payloadHash, Signature: sig}, nil
}

// Issue creates and persists a fresh ACTIVE certificate, then best-effort
// anchors a proof and records an ISSUED event.
func (s *Service) Issue(ctx context.Context, owner, amountGram, purity string, metadata map[string]interface{}) (MutationResult, error) {
	if !amount.Valid(amountGram) {
		return MutationResult{}, ErrInvalidAmount
	}
	if !validate.Purity(purity) {
		return MutationResult{}, ErrInvalidPurity
	}

	now := s.nowFn()
	certID, err := newCertID(now)
	if err != nil {
		return MutationResult{}, err
	}
	payload := model.GoldCertificate{
		CertID:     certID,
		Issuer:     s.issuerPkHex,
		Owner:      owner,
		AmountGram: amountGram,
		Purity:     purity,
		IssuedAt:   now.UTC().Format(time.RFC3339Nano),
		Status:     model.CertActive,
		Metadata:   metadata,
	}
	signed, err := s.signPayload(payload)
	if err != nil {
		return MutationResult{}, err
	}
	if err := s.store.Put(ctx, signed); err != nil {
		return MutationResult{}, err
	}

	event := model.LedgerEvent{
		Type: model.EventIssued, CertID: certID, OccurredAt: payload.IssuedAt,
		Owner: owner, AmountGram: amountGram, Purity: purity,
	}
	outbound := s.anchorAndRecord(ctx, certID, signed.PayloadHash, payload.IssuedAt, event)
	return MutationResult{Certificate: signed, Outbound: outbound}, nil
}

// Get returns the certificate for certID, or ErrNotFound.
func (s *Service) Get(ctx context.Context, certID string) (model.SignedCertificate, error) {
	return s.store.Get(ctx, certID)
}

// List returns every certificate in ascending certId order.
func (s *Service) List(ctx context.Context) ([]model.SignedCertificate, error) {
	return s.store.List(ctx)
}

// Verify checks a certificate's hash and signature integrity. When cert is
// nil, certID is looked up from the store first.
func (s *Service) Verify(ctx context.Context, certID string, cert *model.SignedCertificate) (model.VerifyResult, error) {
	var target model.SignedCertificate
	if cert != nil {
		target = *cert
	} else {
		stored, err := s.store.Get(ctx, certID)
		if err != nil {
			return model.VerifyResult{}, err
		}
		target = stored
	}

	recomputed, err := canon.HashJSON(target.Payload)
	if err != nil {
		return model.VerifyResult{Valid: false}, nil
	}
	hashMatches := recomputed == target.PayloadHash

	var signatureValid bool
	if hashMatches {
		signatureValid = keys.Verify(target.PayloadHash, target.Signature, target.Payload.Issuer)
	}

	return model.VerifyResult{
		Valid:          hashMatches && signatureValid,
		HashMatches:    hashMatches,
		SignatureValid: signatureValid,
		Status:         target.Payload.Status,
	}, nil
}

// Transfer moves ownership to toOwner, re-signing and re-persisting.
func (s *Service) Transfer(ctx context.Context, certID, toOwner string, price *string) (MutationResult, error) {
	cur, err := s.store.Get(ctx, certID)
	if err != nil {
		return MutationResult{}, err
	}
	if cur.Payload.Status != model.CertActive {
		return MutationResult{}, &StateConflictError{From: cur.Payload.Status, To: cur.Payload.Status}
	}

	fromOwner := cur.Payload.Owner
	now := s.now()
	metadata := cloneMetadata(cur.Payload.Metadata)
	metadata["lastTransferAt"] = now
	if price != nil {
		metadata["lastTransferPrice"] = *price
	}

	payload := cur.Payload
	payload.Owner = toOwner
	payload.Metadata = metadata

	signed, err := s.signPayload(payload)
	if err != nil {
		return MutationResult{}, err
	}
	if err := s.store.Put(ctx, signed); err != nil {
		return MutationResult{}, err
	}

	event := model.LedgerEvent{
		Type: model.EventTransfer, CertID: certID, OccurredAt: now,
		From: fromOwner, To: toOwner, AmountGram: payload.AmountGram,
	}
	if price != nil {
		event.Price = *price
	}
	outbound := s.anchorAndRecord(ctx, certID, signed.PayloadHash, now, event)
	return MutationResult{Certificate: signed, Outbound: outbound}, nil
}

// Split creates a child certificate carrying amountChildGram off of
// parentCertID, preserving amount conservation exactly on scaled integers.
func (s *Service) Split(ctx context.Context, parentCertID, toOwner, amountChildGram string, price *string) (SplitResult, error) {
	parent, err := s.store.Get(ctx, parentCertID)
	if err != nil {
		return SplitResult{}, err
	}
	if parent.Payload.Status != model.CertActive {
		return SplitResult{}, &StateConflictError{From: parent.Payload.Status, To: parent.Payload.Status}
	}
	if !amount.Valid(amountChildGram) {
		return SplitResult{}, ErrInvalidAmount
	}
	childScaled, err := amount.Parse(amountChildGram)
	if err != nil {
		return SplitResult{}, ErrInvalidAmount
	}
	parentScaled, err := amount.Parse(parent.Payload.AmountGram)
	if err != nil {
		return SplitResult{}, ErrInvalidAmount
	}
	if childScaled <= 0 {
		return SplitResult{}, ErrSplitNonPositive
	}
	if childScaled >= parentScaled {
		return SplitResult{}, ErrSplitTooLarge
	}

	now := s.nowFn()
	nowStr := now.UTC().Format(time.RFC3339Nano)
	childID, err := newCertID(now)
	if err != nil {
		return SplitResult{}, err
	}

	remainingScaled := parentScaled - childScaled
	parentOwner := parent.Payload.Owner

	parentMetadata := cloneMetadata(parent.Payload.Metadata)
	parentMetadata["lastSplitAt"] = nowStr
	parentMetadata["lastSplitChildCertId"] = childID

	parentPayload := parent.Payload
	parentPayload.AmountGram = amount.Format(remainingScaled)
	parentPayload.Metadata = parentMetadata

	childMetadata := map[string]interface{}{"splitFromCertId": parentCertID}
	childPayload := model.GoldCertificate{
		CertID:     childID,
		Issuer:     parent.Payload.Issuer,
		Owner:      toOwner,
		AmountGram: amount.Format(childScaled),
		Purity:     parent.Payload.Purity,
		IssuedAt:   nowStr,
		Status:     model.CertActive,
		Metadata:   childMetadata,
	}

	signedParent, err := s.signPayload(parentPayload)
	if err != nil {
		return SplitResult{}, err
	}
	signedChild, err := s.signPayload(childPayload)
	if err != nil {
		return SplitResult{}, err
	}
	if err := s.store.Put(ctx, signedParent); err != nil {
		return SplitResult{}, err
	}
	if err := s.store.Put(ctx, signedChild); err != nil {
		return SplitResult{}, err
	}

	parentAnchor := s.anchorOnly(ctx, parentCertID, signedParent.PayloadHash, nowStr)
	childAnchor := s.anchorOnly(ctx, childID, signedChild.PayloadHash, nowStr)

	event := model.LedgerEvent{
		Type: model.EventSplit, CertID: parentCertID, OccurredAt: nowStr,
		ParentCertID: parentCertID, ChildCertID: childID,
		From: parentOwner, To: toOwner, AmountChildGram: amount.Format(childScaled),
	}
	eventOutcome := s.recordOnly(ctx, event)

	outbound := OutboundResult{
		AnchorOutcome: combineOutcomes(model.OutcomeAnchored, parentAnchor, childAnchor),
		EventOutcome:  eventOutcome,
	}
	return SplitResult{Parent: signedParent, Child: signedChild, Outbound: outbound}, nil
}

// Status transitions certID to next, re-signing on success.
func (s *Service) Status(ctx context.Context, certID string, next model.CertStatus) (MutationResult, error) {
	cur, err := s.store.Get(ctx, certID)
	if err != nil {
		return MutationResult{}, err
	}
	if !model.CertTransitionAllowed(cur.Payload.Status, next) {
		return MutationResult{}, &StateConflictError{From: cur.Payload.Status, To: next}
	}

	now := s.now()
	metadata := cloneMetadata(cur.Payload.Metadata)
	metadata["lastStatusChangeAt"] = now

	payload := cur.Payload
	payload.Status = next
	payload.Metadata = metadata

	signed, err := s.signPayload(payload)
	if err != nil {
		return MutationResult{}, err
	}
	if err := s.store.Put(ctx, signed); err != nil {
		return MutationResult{}, err
	}

	event := model.LedgerEvent{Type: model.EventStatusChanged, CertID: certID, OccurredAt: now, Status: next}
	outbound := s.anchorAndRecord(ctx, certID, signed.PayloadHash, now, event)
	return MutationResult{Certificate: signed, Outbound: outbound}, nil
}

// Timeline proxies to the ledger adapter's per-certId event history.
func (s *Service) Timeline(ctx context.Context, certID string) ([]model.LedgerEvent, error) {
	if s.ledgerURL == "" {
		return nil, ErrLedgerNotConfigured
	}
	res := s.httpClient.DoJSON(ctx, httpx.PrimaryDeadline, "GET", s.ledgerURL+"/events/"+certID, nil)
	if res.Unreachable {
		return nil, ErrLedgerUnreachable
	}
	if res.StatusCode == 404 {
		return []model.LedgerEvent{}, nil
	}
	if res.StatusCode/100 != 2 {
		return nil, ErrLedgerError
	}
	var body struct {
		Events []model.LedgerEvent `json:"events"`
	}
	if err := httpx.DecodeInto(res, &body); err != nil {
		return nil, fmt.Errorf("certauth: decode timeline response: %w", err)
	}
	return body.Events, nil
}

// Sentinel collaborator errors for Timeline; Handler maps these onto the
// 502/503 status contract in §4.D.
var (
	ErrLedgerNotConfigured = errors.New("certauth: ledger adapter not configured")
	ErrLedgerUnreachable   = errors.New("certauth: ledger adapter unreachable")
	ErrLedgerError         = errors.New("certauth: ledger adapter returned an error")
)

// anchorAndRecord performs the anchor+record outbound pair for a single
// certificate mutation, per §4.D's outbound semantics.
func (s *Service) anchorAndRecord(ctx context.Context, certID, payloadHash, occurredAt string, event model.LedgerEvent) OutboundResult {
	return OutboundResult{
		AnchorOutcome: s.anchorOnly(ctx, certID, payloadHash, occurredAt),
		EventOutcome:  s.recordOnly(ctx, event),
	}
}

func (s *Service) anchorOnly(ctx context.Context, certID, payloadHash, occurredAt string) model.OutboundOutcome {
	if s.ledgerURL == "" {
		return model.OutcomeSkipped
	}
	body := map[string]string{"certId": certID, "payloadHash": payloadHash, "occurredAt": occurredAt}
	res := s.httpClient.DoJSON(ctx, httpx.PrimaryDeadline, "POST", s.ledgerURL+"/proofs/anchor", body)
	if res.Unreachable || res.StatusCode/100 != 2 {
		return model.OutcomeFailed
	}
	return model.OutcomeAnchored
}

func (s *Service) recordOnly(ctx context.Context, event model.LedgerEvent) model.OutboundOutcome {
	if s.ledgerURL == "" {
		return model.OutcomeSkipped
	}
	res := s.httpClient.DoJSON(ctx, httpx.PrimaryDeadline, "POST", s.ledgerURL+"/events/record", event)
	if res.Unreachable || res.StatusCode/100 != 2 {
		return model.OutcomeFailed
	}
	return model.OutcomeRecorded
}

// combineOutcomes implements §4.D's split combination rule: FAILED if any
// outcome failed, else successOutcome if any outcome succeeded, else SKIPPED.
func combineOutcomes(successOutcome model.OutboundOutcome, outcomes ...model.OutboundOutcome) model.OutboundOutcome {
	sawSuccess := false
	for _, o := range outcomes {
		if o == model.OutcomeFailed {
			return model.OutcomeFailed
		}
		if o == model.OutcomeAnchored || o == model.OutcomeRecorded {
			sawSuccess = true
		}
	}
	if sawSuccess {
		return successOutcome
	}
	return model.OutcomeSkipped
}

func cloneMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
