package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dgc-backbone/dgc/internal/chain"
	"github.com/dgc-backbone/dgc/internal/model"
	"github.com/dgc-backbone/dgc/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := NewStore(db)
	require.NoError(t, err)
	return NewService(s, chain.NoopSink{}, "", nil)
}

func TestAnchorThenGetProof(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	anchor, err := svc.Anchor(ctx, "DGC-1", "deadbeef", "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	require.Equal(t, "DGC-1", anchor.CertID)
	require.NotEmpty(t, anchor.ProofHash)

	got, err := svc.GetProof(ctx, "DGC-1")
	require.NoError(t, err)
	require.Equal(t, anchor, got)
}

func TestGetProofNotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GetProof(context.Background(), "unknown")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecordRejectsInvalidEvent(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Record(context.Background(), model.LedgerEvent{Type: model.EventIssued, CertID: "DGC-1", OccurredAt: "2026-01-01T00:00:00Z"})
	require.Error(t, err)
}

func TestRecordAppendsTimelineAndSplitFansOutToChild(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issued := model.LedgerEvent{
		Type: model.EventIssued, CertID: "DGC-1", OccurredAt: "2026-01-01T00:00:00Z",
		Owner: "alice", AmountGram: "10.0000", Purity: "999.9",
	}
	res, err := svc.Record(ctx, issued)
	require.NoError(t, err)
	require.NotEmpty(t, res.Recorded.EventHash)

	split := model.LedgerEvent{
		Type: model.EventSplit, CertID: "DGC-1", OccurredAt: "2026-01-02T00:00:00Z",
		ParentCertID: "DGC-1", ChildCertID: "DGC-2", From: "alice", To: "bob", AmountChildGram: "3.0000",
	}
	_, err = svc.Record(ctx, split)
	require.NoError(t, err)

	parentTimeline, err := svc.Timeline(ctx, "DGC-1")
	require.NoError(t, err)
	require.Len(t, parentTimeline, 2)

	childTimeline, err := svc.Timeline(ctx, "DGC-2")
	require.NoError(t, err)
	require.Len(t, childTimeline, 1)
}

func TestTimelineEmptyForUnknownCert(t *testing.T) {
	svc := newTestService(t)
	events, err := svc.Timeline(context.Background(), "unknown")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestChainStatusReportsUnconfigured(t *testing.T) {
	svc := newTestService(t)
	status := svc.ChainStatus(context.Background())
	require.False(t, status.Configured)
}
