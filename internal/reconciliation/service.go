package reconciliation

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dgc-backbone/dgc/internal/amount"
	"github.com/dgc-backbone/dgc/internal/httpx"
	"github.com/dgc-backbone/dgc/internal/model"
	"github.com/dgc-backbone/dgc/internal/pkg/logger"
)

// ErrCertificateServiceUnreachable is returned by Run when the certificate
// authority does not respond within the primary deadline.
var ErrCertificateServiceUnreachable = errors.New("reconciliation: certificate service unreachable")

// ErrCertificateServiceError is returned by Run when the certificate
// authority responds with a non-2xx status.
var ErrCertificateServiceError = errors.New("reconciliation: certificate service returned an error")

// ErrNotFrozen is returned by Unfreeze when the freeze state is already inactive.
var ErrNotFrozen = errors.New("reconciliation: freeze state is not active")

// Service implements run/latest/history/unfreeze/overrides per §4.G.
type Service struct {
	store             *Store
	certificateURL    string
	riskURL           string
	httpClient        *httpx.Client
	custodyTotalGram  string
	mismatchThreshold string
	nowFn             func() time.Time
}

// Config carries the fixed, env-sourced parameters of the controller.
type Config struct {
	CertificateServiceURL string
	RiskStreamURL         string
	CustodyTotalGram      string
	MismatchThresholdGram string
}

// NewService wires a Service from store, an outbound httpClient, and cfg.
func NewService(store *Store, httpClient *httpx.Client, cfg Config) *Service {
	custody := cfg.CustodyTotalGram
	if custody == "" {
		custody = "0.0000"
	}
	threshold := cfg.MismatchThresholdGram
	if threshold == "" {
		threshold = "0.0000"
	}
	return &Service{
		store:             store,
		certificateURL:    cfg.CertificateServiceURL,
		riskURL:           cfg.RiskStreamURL,
		httpClient:        httpClient,
		custodyTotalGram:  custody,
		mismatchThreshold: threshold,
		nowFn:             time.Now,
	}
}

func (s *Service) now() string {
	return s.nowFn().UTC().Format(time.RFC3339Nano)
}

func newRunID(now time.Time) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("reconciliation: generate run id suffix: %w", err)
	}
	return fmt.Sprintf("RUN-%s-%s", now.UTC().Format("20060102T150405Z"), hex.EncodeToString(suffix)), nil
}

// RunRequest carries the optional per-run custody override.
type RunRequest struct {
	InventoryTotalGram *string
}

// Run pulls the certificate inventory from the certificate authority,
// computes outstanding/mismatch/freeze-trigger, persists the run, and
// upserts the freeze singleton.
func (s *Service) Run(ctx context.Context, req RunRequest) (model.ReconciliationRun, error) {
	if s.certificateURL == "" {
		return model.ReconciliationRun{}, ErrCertificateServiceUnreachable
	}
	result := s.httpClient.DoJSON(ctx, httpx.PrimaryDeadline, "GET", s.certificateURL+"/certificates", nil)
	if result.Unreachable {
		return model.ReconciliationRun{}, ErrCertificateServiceUnreachable
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return model.ReconciliationRun{}, ErrCertificateServiceError
	}
	var body struct {
		Certificates []model.SignedCertificate `json:"certificates"`
	}
	if err := httpx.DecodeInto(result, &body); err != nil {
		return model.ReconciliationRun{}, fmt.Errorf("reconciliation: decode certificate list: %w", err)
	}

	var outstandingScaled int64
	var activeCount, lockedCount int
	for _, cert := range body.Certificates {
		switch cert.Payload.Status {
		case model.CertActive, model.CertLocked:
			scaled, err := amount.Parse(cert.Payload.AmountGram)
			if err != nil {
				continue
			}
			outstandingScaled += scaled
			if cert.Payload.Status == model.CertActive {
				activeCount++
			} else {
				lockedCount++
			}
		}
	}

	custodyStr := s.custodyTotalGram
	if req.InventoryTotalGram != nil && *req.InventoryTotalGram != "" {
		custodyStr = *req.InventoryTotalGram
	}
	custodyScaled, err := amount.Parse(custodyStr)
	if err != nil {
		custodyScaled = 0
	}
	thresholdScaled, err := amount.Parse(s.mismatchThreshold)
	if err != nil {
		thresholdScaled = 0
	}

	mismatchScaled := outstandingScaled - custodyScaled
	absScaled := mismatchScaled
	if absScaled < 0 {
		absScaled = -absScaled
	}
	freezeTriggered := absScaled >= thresholdScaled

	now := s.nowFn()
	runID, err := newRunID(now)
	if err != nil {
		return model.ReconciliationRun{}, err
	}
	run := model.ReconciliationRun{
		RunID:                 runID,
		CreatedAt:             now.UTC().Format(time.RFC3339Nano),
		CustodyTotalGram:      custodyStr,
		OutstandingTotalGram:  amount.Format(outstandingScaled),
		MismatchGram:          amount.Format(mismatchScaled),
		AbsMismatchGram:       amount.Format(absScaled),
		ThresholdGram:         s.mismatchThreshold,
		FreezeTriggered:       freezeTriggered,
		CertificatesEvaluated: len(body.Certificates),
		ActiveCertificates:    activeCount,
		LockedCertificates:    lockedCount,
	}
	if err := s.store.SaveRun(ctx, run); err != nil {
		return model.ReconciliationRun{}, err
	}

	state := model.FreezeState{Active: freezeTriggered, UpdatedAt: run.CreatedAt, LastRunID: &run.RunID}
	if freezeTriggered {
		reason := fmt.Sprintf("Mismatch %sg exceeded threshold %sg", run.AbsMismatchGram, run.ThresholdGram)
		state.Reason = &reason
	}
	if err := s.store.UpsertFreezeState(ctx, state); err != nil {
		return model.ReconciliationRun{}, err
	}

	if freezeTriggered {
		s.fanOutRiskAlert(run)
	}

	return run, nil
}

func (s *Service) fanOutRiskAlert(run model.ReconciliationRun) {
	if s.riskURL == "" || s.httpClient == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), httpx.BestEffortDeadline)
		defer cancel()
		abs, err := amount.Parse(run.AbsMismatchGram)
		if err != nil {
			return
		}
		threshold, err := amount.Parse(run.ThresholdGram)
		if err != nil {
			return
		}
		payload := map[string]interface{}{
			"runId":           run.RunID,
			"absMismatchGram": float64(abs) / float64(amount.Scale),
			"thresholdGram":   float64(threshold) / float64(amount.Scale),
		}
		result := s.httpClient.DoJSON(ctx, httpx.BestEffortDeadline, "POST", s.riskURL+"/ingest/reconciliation-alert", payload)
		if result.Unreachable || result.Err != nil {
			logger.Debug("reconciliation: risk alert fan-out failed", "runId", run.RunID, "err", result.Err)
		}
	}()
}

// Latest returns the most recent run (nil if none) plus the freeze state.
func (s *Service) Latest(ctx context.Context) (*model.ReconciliationRun, model.FreezeState, error) {
	state, err := s.store.FreezeState(ctx)
	if err != nil {
		return nil, model.FreezeState{}, err
	}
	run, err := s.store.LatestRun(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state, nil
	}
	if err != nil {
		return nil, state, err
	}
	return &run, state, nil
}

// History returns up to limit runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]model.ReconciliationRun, error) {
	return s.store.History(ctx, limit)
}

// Unfreeze flips an active freeze to inactive, recording a governance override.
func (s *Service) Unfreeze(ctx context.Context, actor, reason string) (model.FreezeState, error) {
	state, err := s.store.FreezeState(ctx)
	if err != nil {
		return model.FreezeState{}, err
	}
	if !state.Active {
		return model.FreezeState{}, ErrNotFrozen
	}
	now := s.now()
	message := fmt.Sprintf("Manual unfreeze by %s: %s", actor, reason)
	next := model.FreezeState{Active: false, Reason: &message, UpdatedAt: now, LastRunID: state.LastRunID}
	if err := s.store.UpsertFreezeState(ctx, next); err != nil {
		return model.FreezeState{}, err
	}
	override := model.FreezeOverride{
		OverrideID:     "OVR-" + now,
		Action:         "UNFREEZE",
		Actor:          actor,
		Reason:         reason,
		PreviousActive: true,
		NextActive:     false,
		CreatedAt:      now,
		RunID:          state.LastRunID,
	}
	if err := s.store.SaveOverride(ctx, override); err != nil {
		return model.FreezeState{}, err
	}
	return next, nil
}

// Overrides returns up to limit override records, newest first.
func (s *Service) Overrides(ctx context.Context, limit int) ([]model.FreezeOverride, error) {
	return s.store.Overrides(ctx, limit)
}

// FreezeState returns the current freeze singleton without running a check.
func (s *Service) FreezeState(ctx context.Context) (model.FreezeState, error) {
	return s.store.FreezeState(ctx)
}
