package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/dgc-backbone/dgc/internal/canon"
	"github.com/dgc-backbone/dgc/internal/chain"
	"github.com/dgc-backbone/dgc/internal/httpx"
	"github.com/dgc-backbone/dgc/internal/model"
	"github.com/dgc-backbone/dgc/internal/pkg/logger"
	"github.com/dgc-backbone/dgc/internal/pkg/metrics"
)

// Service implements the ledger adapter's operations per §4.C.
type Service struct {
	store      *Store
	chainSink  chain.Writer
	riskURL    string
	httpClient *httpx.Client
	nowFn      func() time.Time
}

// NewService wires a Store to an optional chain sink and risk stream URL.
func NewService(store *Store, chainSink chain.Writer, riskURL string, httpClient *httpx.Client) *Service {
	if chainSink == nil {
		chainSink = chain.NoopSink{}
	}
	return &Service{
		store:      store,
		chainSink:  chainSink,
		riskURL:    riskURL,
		httpClient: httpClient,
		nowFn:      time.Now,
	}
}

// Anchor computes and persists a ProofAnchor for certID over payloadHash.
func (s *Service) Anchor(ctx context.Context, certID, payloadHash, occurredAt string) (model.ProofAnchor, error) {
	anchoredAt := s.nowFn().UTC().Format(time.RFC3339Nano)
	proofHash, err := canon.HashJSON(map[string]interface{}{
		"certId":      certID,
		"payloadHash": payloadHash,
		"occurredAt":  occurredAt,
		"anchoredAt":  anchoredAt,
	})
	if err != nil {
		return model.ProofAnchor{}, fmt.Errorf("ledger: compute proof hash: %w", err)
	}
	anchor := model.ProofAnchor{
		CertID:      certID,
		PayloadHash: payloadHash,
		ProofHash:   proofHash,
		AnchoredAt:  anchoredAt,
	}
	if err := s.store.SaveAnchor(ctx, anchor); err != nil {
		return model.ProofAnchor{}, err
	}
	return anchor, nil
}

// GetProof returns the latest proof anchor for certID.
func (s *Service) GetProof(ctx context.Context, certID string) (model.ProofAnchor, error) {
	return s.store.GetAnchor(ctx, certID)
}

// RecordResult is the outcome of Record.
type RecordResult struct {
	Recorded    model.RecordedEvent
	ChainFailed bool
}

// Record validates and appends event to its certId's timeline (and, for
// SPLIT, its childCertId's timeline too). If a chain sink is configured the
// write is submitted synchronously first — chain write is authoritative,
// so on chain failure the event is never persisted locally. Best-effort
// fans out to the risk engine afterward.
func (s *Service) Record(ctx context.Context, event model.LedgerEvent) (RecordResult, error) {
	if !event.Valid() {
		return RecordResult{}, fmt.Errorf("ledger: invalid event shape for type %q", event.Type)
	}

	var txRef string
	status := s.chainSink.Status(ctx)
	if status.Configured {
		ref, err := s.chainSink.Write(ctx, event)
		if err != nil {
			metrics.OutboundCalls.WithLabelValues("chain", "write", "FAILED").Inc()
			return RecordResult{ChainFailed: true}, fmt.Errorf("ledger: chain_write_failed: %w", err)
		}
		txRef = ref
		metrics.OutboundCalls.WithLabelValues("chain", "write", "ok").Inc()
	}

	eventHash, err := canon.HashJSON(event)
	if err != nil {
		return RecordResult{}, fmt.Errorf("ledger: hash event: %w", err)
	}

	if _, err := s.store.AppendEvent(ctx, event.CertID, event, eventHash); err != nil {
		return RecordResult{}, fmt.Errorf("ledger: append event: %w", err)
	}
	if event.Type == model.EventSplit && event.ChildCertID != "" {
		if _, err := s.store.AppendEvent(ctx, event.ChildCertID, event, eventHash); err != nil {
			return RecordResult{}, fmt.Errorf("ledger: append child event: %w", err)
		}
	}

	recorded := model.RecordedEvent{Event: event, EventHash: eventHash, LedgerTxRef: txRef}
	s.fanOutToRisk(event)
	return RecordResult{Recorded: recorded}, nil
}

// fanOutToRisk best-effort posts event to the risk engine; failures are
// silent per §4.C.
func (s *Service) fanOutToRisk(event model.LedgerEvent) {
	if s.riskURL == "" || s.httpClient == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), httpx.BestEffortDeadline)
		defer cancel()
		res := s.httpClient.DoJSON(ctx, httpx.BestEffortDeadline, "POST", s.riskURL+"/ingest/ledger-event", event)
		if res.Err != nil || res.StatusCode >= 300 {
			metrics.OutboundCalls.WithLabelValues("risk", "ingest-ledger-event", "FAILED").Inc()
			logger.Debug("risk fan-out failed", "error", res.Err, "status", res.StatusCode)
			return
		}
		metrics.OutboundCalls.WithLabelValues("risk", "ingest-ledger-event", "ok").Inc()
	}()
}

// Timeline returns certID's ordered event history.
func (s *Service) Timeline(ctx context.Context, certID string) ([]model.LedgerEvent, error) {
	return s.store.Timeline(ctx, certID)
}

// ChainStatus reports the configured chain sink's health.
func (s *Service) ChainStatus(ctx context.Context) model.ChainStatus {
	return s.chainSink.Status(ctx)
}
