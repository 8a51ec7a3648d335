package risk

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/dgc-backbone/dgc/internal/httpx"
	"github.com/dgc-backbone/dgc/internal/model"
	"github.com/dgc-backbone/dgc/internal/pkg/logger"
	"github.com/dgc-backbone/dgc/internal/pkg/metrics"
)

// Reason codes and their additive score impacts, per §4.E.
const (
	reasonTransferVelocityElevated = "TRANSFER_VELOCITY_ELEVATED"
	reasonTransferVelocityCritical = "TRANSFER_VELOCITY_CRITICAL"
	reasonWashLoopPattern          = "WASH_LOOP_PATTERN"
	reasonCancellationPressureElevated = "CANCELLATION_PRESSURE_ELEVATED"
	reasonCancellationPressureCritical = "CANCELLATION_PRESSURE_CRITICAL"

	reasonLockCancelPattern      = "LOCK_CANCEL_PATTERN"
	reasonMultipleLockAttempts   = "MULTIPLE_LOCK_ATTEMPTS"
	reasonBuyerTimeoutSignal     = "BUYER_TIMEOUT_SIGNAL"
	reasonActorRepeatCancellation = "ACTOR_REPEAT_CANCELLATION"
)

// Service implements event ingestion, profile recomputation, and
// edge-triggered alerting.
type Service struct {
	store          *Store
	alertThreshold float64
	webhookURL     string
	httpClient     *httpx.Client
	nowFn          func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService wires store to an optional alert webhook. alertThreshold
// defaults to 60 when zero.
func NewService(store *Store, alertThreshold float64, webhookURL string, httpClient *httpx.Client) *Service {
	if alertThreshold <= 0 {
		alertThreshold = 60
	}
	return &Service{
		store:          store,
		alertThreshold: alertThreshold,
		webhookURL:     webhookURL,
		httpClient:     httpClient,
		nowFn:          time.Now,
		locks:          make(map[string]*sync.Mutex),
	}
}

// lockFor returns the striped per-target mutex, creating it on first use.
// This satisfies §9(iii)'s recommended-but-not-mandated per-target
// serialization of profile recomputation.
func (s *Service) lockFor(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	return m
}

func (s *Service) now() string {
	return s.nowFn().UTC().Format(time.RFC3339Nano)
}

// IngestLedgerEvent appends event and recomputes the affected certificate's profile.
func (s *Service) IngestLedgerEvent(ctx context.Context, event model.LedgerEvent) error {
	if !event.Valid() {
		return fmt.Errorf("risk: invalid ledger event shape for type %q", event.Type)
	}
	if err := s.store.AppendLedgerEvent(ctx, event); err != nil {
		return err
	}
	targets := []string{event.CertID}
	if event.Type == model.EventSplit && event.ChildCertID != "" {
		targets = append(targets, event.ChildCertID)
	}
	for _, t := range targets {
		if err := s.recomputeCertProfile(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// IngestListingAuditEvent appends event and recomputes both the listing's
// and its owning certificate's profiles.
func (s *Service) IngestListingAuditEvent(ctx context.Context, event model.ListingAuditEvent) error {
	if event.ListingID == "" || event.Type == "" {
		return fmt.Errorf("risk: invalid listing audit event shape")
	}
	if err := s.store.AppendListingAuditEvent(ctx, event); err != nil {
		return err
	}
	if err := s.recomputeListingProfile(ctx, event.ListingID, event.CertID); err != nil {
		return err
	}
	if event.CertID != "" {
		if err := s.recomputeCertProfile(ctx, event.CertID); err != nil {
			return err
		}
	}
	return nil
}

// IngestReconciliationAlert stores a reconciliation-triggered alert directly
// (no profile recomputation applies to reconciliation runs).
func (s *Service) IngestReconciliationAlert(ctx context.Context, runID string, absMismatchGram, thresholdGram float64) error {
	score := 0.0
	if thresholdGram > 0 {
		score = math.Min(100, (absMismatchGram/thresholdGram)*100)
	}
	alert := model.RiskAlert{
		AlertID:    "ALERT-RECON-" + runID,
		TargetType: model.TargetReconciliation,
		TargetID:   runID,
		Score:      score,
		Level:      model.LevelForScore(score),
		Reasons:    nil,
		CreatedAt:  s.now(),
	}
	if err := s.store.SaveAlert(ctx, alert); err != nil {
		return err
	}
	metrics.RiskAlertsEmitted.WithLabelValues(string(model.TargetReconciliation)).Inc()
	return nil
}

func (s *Service) recomputeCertProfile(ctx context.Context, certID string) error {
	mu := s.lockFor("cert:" + certID)
	mu.Lock()
	defer mu.Unlock()

	prev, prevErr := s.store.GetCertProfile(ctx, certID)
	hadPrev := prevErr == nil

	events, err := s.store.LedgerEventsForCert(ctx, certID)
	if err != nil {
		return err
	}
	cancellations, err := s.store.ListingAuditEventsForCert(ctx, certID)
	if err != nil {
		return err
	}

	now := s.nowFn()
	reasons := certificateHeuristics(events, cancellations, now)
	score := clampScore(sumImpact(reasons))
	profile := model.CertificateRiskProfile{
		Target: certID, Score: score, Level: model.LevelForScore(score),
		Reasons: reasons, UpdatedAt: now.UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.SaveCertProfile(ctx, profile); err != nil {
		return err
	}

	prevScore := math.Inf(-1)
	if hadPrev {
		prevScore = prev.Score
	}
	s.maybeAlert(ctx, model.TargetCertificate, certID, prevScore, score, reasons)
	return nil
}

func (s *Service) recomputeListingProfile(ctx context.Context, listingID, certID string) error {
	mu := s.lockFor("listing:" + listingID)
	mu.Lock()
	defer mu.Unlock()

	prev, prevErr := s.store.GetListingProfile(ctx, listingID)
	hadPrev := prevErr == nil

	events, err := s.store.ListingAuditEventsForListing(ctx, listingID)
	if err != nil {
		return err
	}

	now := s.nowFn()
	reasons, err := s.listingHeuristics(ctx, events, now)
	if err != nil {
		return err
	}
	score := clampScore(sumImpact(reasons))
	profile := model.ListingRiskProfile{
		Target: listingID, CertID: certID, Score: score, Level: model.LevelForScore(score),
		Reasons: reasons, UpdatedAt: now.UTC().Format(time.RFC3339Nano),
	}
	if certID == "" {
		profile.CertID = prev.CertID
	}
	if err := s.store.SaveListingProfile(ctx, profile); err != nil {
		return err
	}

	prevScore := math.Inf(-1)
	if hadPrev {
		prevScore = prev.Score
	}
	s.maybeAlert(ctx, model.TargetListing, listingID, prevScore, score, reasons)
	return nil
}

// maybeAlert implements the edge-triggered, no-duplicate alerting rule:
// alert only when the score crosses the threshold upward from below.
func (s *Service) maybeAlert(ctx context.Context, targetType model.RiskAlertTargetType, targetID string, prevScore, newScore float64, reasons []model.RiskReason) {
	if newScore < s.alertThreshold || prevScore >= s.alertThreshold {
		return
	}
	alert := model.RiskAlert{
		AlertID:    fmt.Sprintf("ALERT-%s-%s-%d", targetType, targetID, s.nowFn().UnixNano()),
		TargetType: targetType,
		TargetID:   targetID,
		Score:      newScore,
		Level:      model.LevelForScore(newScore),
		Reasons:    reasons,
		CreatedAt:  s.now(),
	}
	if err := s.store.SaveAlert(ctx, alert); err != nil {
		logger.LogError(ctx, err, "failed to persist risk alert")
		return
	}
	metrics.RiskAlertsEmitted.WithLabelValues(string(targetType)).Inc()
	s.fanOutWebhook(alert)
}

func (s *Service) fanOutWebhook(alert model.RiskAlert) {
	if s.webhookURL == "" || s.httpClient == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), httpx.BestEffortDeadline)
		defer cancel()
		res := s.httpClient.DoJSON(ctx, httpx.BestEffortDeadline, "POST", s.webhookURL, alert)
		if res.Err != nil || res.StatusCode >= 300 {
			metrics.OutboundCalls.WithLabelValues("risk-webhook", "alert", "FAILED").Inc()
			return
		}
		metrics.OutboundCalls.WithLabelValues("risk-webhook", "alert", "ok").Inc()
	}()
}

// GetCertificateProfile returns the current profile for certID.
func (s *Service) GetCertificateProfile(ctx context.Context, certID string) (model.CertificateRiskProfile, error) {
	return s.store.GetCertProfile(ctx, certID)
}

// GetListingProfile returns the current profile for listingID.
func (s *Service) GetListingProfile(ctx context.Context, listingID string) (model.ListingRiskProfile, error) {
	return s.store.GetListingProfile(ctx, listingID)
}

// Summary returns the top-N certificate and listing profiles by score.
func (s *Service) Summary(ctx context.Context, limit int) ([]model.CertificateRiskProfile, []model.ListingRiskProfile, error) {
	certs, err := s.store.TopCertProfiles(ctx, limit)
	if err != nil {
		return nil, nil, err
	}
	listings, err := s.store.TopListingProfiles(ctx, limit)
	if err != nil {
		return nil, nil, err
	}
	return certs, listings, nil
}

// Alerts returns up to limit alerts, newest first.
func (s *Service) Alerts(ctx context.Context, limit int) ([]model.RiskAlert, error) {
	return s.store.Alerts(ctx, limit)
}

func sumImpact(reasons []model.RiskReason) float64 {
	total := 0.0
	for _, r := range reasons {
		total += r.ScoreImpact
	}
	return total
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return math.Round(score)
}

func parseTime(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// certificateHeuristics implements §4.E's certificate profile table.
func certificateHeuristics(events []model.LedgerEvent, cancellations []model.ListingAuditEvent, now time.Time) []model.RiskReason {
	var reasons []model.RiskReason

	var transfers []model.LedgerEvent
	for _, e := range events {
		if e.Type == model.EventTransfer {
			transfers = append(transfers, e)
		}
	}

	transfersIn24h := 0
	for _, t := range transfers {
		if occurred, ok := parseTime(t.OccurredAt); ok && now.Sub(occurred) <= 24*time.Hour {
			transfersIn24h++
		}
	}
	switch {
	case transfersIn24h >= 5:
		reasons = append(reasons, model.RiskReason{
			Code: reasonTransferVelocityCritical, ScoreImpact: 40,
			Message: fmt.Sprintf("%d transfers in the last 24 hours", transfersIn24h),
		})
	case transfersIn24h >= 3:
		reasons = append(reasons, model.RiskReason{
			Code: reasonTransferVelocityElevated, ScoreImpact: 25,
			Message: fmt.Sprintf("%d transfers in the last 24 hours", transfersIn24h),
		})
	}

	if hasWashLoop(transfers) {
		reasons = append(reasons, model.RiskReason{
			Code: reasonWashLoopPattern, ScoreImpact: 30,
			Message: "two transfers within 48 hours reverse each other's direction",
		})
	}

	cancelCount7d := 0
	for _, c := range cancellations {
		if c.Type != model.AuditCancelled {
			continue
		}
		if occurred, ok := parseTime(c.OccurredAt); ok && now.Sub(occurred) <= 7*24*time.Hour {
			cancelCount7d++
		}
	}
	switch {
	case cancelCount7d >= 4:
		reasons = append(reasons, model.RiskReason{
			Code: reasonCancellationPressureCritical, ScoreImpact: 35,
			Message: fmt.Sprintf("%d listing cancellations touching this certificate in 7 days", cancelCount7d),
		})
	case cancelCount7d >= 2:
		reasons = append(reasons, model.RiskReason{
			Code: reasonCancellationPressureElevated, ScoreImpact: 20,
			Message: fmt.Sprintf("%d listing cancellations touching this certificate in 7 days", cancelCount7d),
		})
	}

	return reasons
}

// hasWashLoop reports whether any two transfers within 48 hours reverse
// each other's from/to direction.
func hasWashLoop(transfers []model.LedgerEvent) bool {
	for i := 0; i < len(transfers); i++ {
		first := transfers[i]
		firstTime, ok := parseTime(first.OccurredAt)
		if !ok {
			continue
		}
		for j := i + 1; j < len(transfers); j++ {
			second := transfers[j]
			secondTime, ok := parseTime(second.OccurredAt)
			if !ok {
				continue
			}
			diff := secondTime.Sub(firstTime)
			if diff < 0 {
				diff = -diff
			}
			if diff > 48*time.Hour {
				continue
			}
			if first.From == second.To && first.To == second.From {
				return true
			}
		}
	}
	return false
}

// listingHeuristics implements §4.E's listing profile table. It reads the
// actor-repeat-cancellation window via the store since that heuristic spans
// beyond a single listing's own audit history.
func (s *Service) listingHeuristics(ctx context.Context, events []model.ListingAuditEvent, now time.Time) ([]model.RiskReason, error) {
	var reasons []model.RiskReason

	lockedCount, cancelledCount := 0, 0
	var latestCancelled *model.ListingAuditEvent
	for i := range events {
		e := events[i]
		switch e.Type {
		case model.AuditLocked:
			lockedCount++
		case model.AuditCancelled:
			cancelledCount++
			latestCancelled = &events[i]
		}
	}

	if lockedCount >= 1 && cancelledCount >= 1 {
		reasons = append(reasons, model.RiskReason{
			Code: reasonLockCancelPattern, ScoreImpact: 35,
			Message: "listing was locked and later cancelled",
		})
	}
	if lockedCount >= 2 {
		reasons = append(reasons, model.RiskReason{
			Code: reasonMultipleLockAttempts, ScoreImpact: 15,
			Message: fmt.Sprintf("%d lock attempts recorded", lockedCount),
		})
	}
	if latestCancelled != nil && detailsReason(latestCancelled.Details) == "buyer_timeout" {
		reasons = append(reasons, model.RiskReason{
			Code: reasonBuyerTimeoutSignal, ScoreImpact: 10,
			Message: "latest cancellation was a buyer timeout",
		})
	}
	if latestCancelled != nil && latestCancelled.Actor != "" {
		actorEvents, err := s.store.ListingAuditEventsForActor(ctx, latestCancelled.Actor)
		if err != nil {
			return nil, err
		}
		actorCancellations7d := 0
		for _, ae := range actorEvents {
			if ae.Type != model.AuditCancelled {
				continue
			}
			if occurred, ok := parseTime(ae.OccurredAt); ok && now.Sub(occurred) <= 7*24*time.Hour {
				actorCancellations7d++
			}
		}
		if actorCancellations7d >= 3 {
			reasons = append(reasons, model.RiskReason{
				Code: reasonActorRepeatCancellation, ScoreImpact: 30,
				Message: fmt.Sprintf("actor %s has %d cancellations in 7 days", latestCancelled.Actor, actorCancellations7d),
			})
		}
	}

	return reasons, nil
}

func detailsReason(details map[string]interface{}) string {
	if details == nil {
		return ""
	}
	v, ok := details["reason"]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
