package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dgc-backbone/dgc/internal/model"
	"github.com/dgc-backbone/dgc/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := NewStore(db)
	require.NoError(t, err)
	return NewService(st, 60, "", nil)
}

func transferEvent(certID, from, to, occurredAt string) model.LedgerEvent {
	return model.LedgerEvent{
		Type: model.EventTransfer, CertID: certID, OccurredAt: occurredAt,
		From: from, To: to, AmountGram: "1.0000",
	}
}

func TestWashLoopTriggersAlert(t *testing.T) {
	svc := newTestService(t)
	// The loop scores 55 (25 velocity + 30 wash loop), under the default 60.
	svc.alertThreshold = 50
	ctx := context.Background()
	now := time.Now().UTC()

	events := []model.LedgerEvent{
		transferEvent("DGC-X", "A", "B", now.Add(-2*time.Hour).Format(time.RFC3339)),
		transferEvent("DGC-X", "B", "A", now.Add(-1*time.Hour).Format(time.RFC3339)),
		transferEvent("DGC-X", "A", "C", now.Format(time.RFC3339)),
	}
	for _, e := range events {
		require.NoError(t, svc.IngestLedgerEvent(ctx, e))
	}

	profile, err := svc.GetCertificateProfile(ctx, "DGC-X")
	require.NoError(t, err)
	require.GreaterOrEqual(t, profile.Score, 50.0)

	var codes []string
	for _, r := range profile.Reasons {
		codes = append(codes, r.Code)
	}
	require.Contains(t, codes, reasonTransferVelocityElevated)
	require.Contains(t, codes, reasonWashLoopPattern)

	alerts, err := svc.Alerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, model.TargetCertificate, alerts[0].TargetType)
}

func TestAlertingIsEdgeTriggeredNotRepeated(t *testing.T) {
	svc := newTestService(t)
	// Five transfers in 24h score 40 (critical velocity), under the default 60.
	svc.alertThreshold = 40
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		e := transferEvent("DGC-Y", "A", "B", now.Add(-time.Duration(i)*time.Minute).Format(time.RFC3339))
		require.NoError(t, svc.IngestLedgerEvent(ctx, e))
	}
	alertsAfterFirstCross, err := svc.Alerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alertsAfterFirstCross, 1)

	// One more transfer keeps the score at/above threshold; must not re-alert.
	require.NoError(t, svc.IngestLedgerEvent(ctx, transferEvent("DGC-Y", "B", "C", now.Format(time.RFC3339))))
	alertsAfterSecond, err := svc.Alerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alertsAfterSecond, 1)
}

func TestListingLockCancelPattern(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)

	require.NoError(t, svc.IngestListingAuditEvent(ctx, model.ListingAuditEvent{
		EventID: "e1", ListingID: "L1", CertID: "DGC-Z", Type: model.AuditCreated, OccurredAt: now,
	}))
	require.NoError(t, svc.IngestListingAuditEvent(ctx, model.ListingAuditEvent{
		EventID: "e2", ListingID: "L1", CertID: "DGC-Z", Type: model.AuditLocked, Actor: "buyer-1", OccurredAt: now,
	}))
	require.NoError(t, svc.IngestListingAuditEvent(ctx, model.ListingAuditEvent{
		EventID: "e3", ListingID: "L1", CertID: "DGC-Z", Type: model.AuditCancelled, Actor: "buyer-1", OccurredAt: now,
		Details: map[string]interface{}{"reason": "buyer_timeout"},
	}))

	profile, err := svc.GetListingProfile(ctx, "L1")
	require.NoError(t, err)

	var codes []string
	for _, r := range profile.Reasons {
		codes = append(codes, r.Code)
	}
	require.Contains(t, codes, reasonLockCancelPattern)
	require.Contains(t, codes, reasonBuyerTimeoutSignal)
}

func TestReconciliationAlertScoreProportionalToMismatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.IngestReconciliationAlert(ctx, "run-1", 1.0, 0.5))
	alerts, err := svc.Alerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, "ALERT-RECON-run-1", alerts[0].AlertID)
	require.Equal(t, 100.0, alerts[0].Score)
	require.Equal(t, model.TargetReconciliation, alerts[0].TargetType)
}
