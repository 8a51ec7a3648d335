package certauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dgc-backbone/dgc/internal/keys"
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
	seed, err := keys.GenerateSeedHex()
	require.NoError(t, err)
	svc, err := NewService(st, seed, "", nil)
	require.NoError(t, err)
	return svc
}

func TestIssueThenVerify(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.Issue(ctx, "0xA", "1.2500", "999.9", nil)
	require.NoError(t, err)
	require.Equal(t, model.CertActive, result.Certificate.Payload.Status)
	require.Equal(t, model.OutcomeSkipped, result.Outbound.AnchorOutcome)

	verify, err := svc.Verify(ctx, result.Certificate.Payload.CertID, nil)
	require.NoError(t, err)
	require.True(t, verify.Valid)
	require.True(t, verify.HashMatches)
	require.True(t, verify.SignatureValid)
}

func TestVerifyDetectsTampering(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.Issue(ctx, "0xA", "1.2500", "999.9", nil)
	require.NoError(t, err)

	tampered := result.Certificate
	tampered.Payload.AmountGram = "3.0000"

	verify, err := svc.Verify(ctx, "", &tampered)
	require.NoError(t, err)
	require.False(t, verify.Valid)
	require.False(t, verify.HashMatches)
	require.False(t, verify.SignatureValid)
}

func TestSplitConservesAmount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "0xA", "3.0000", "999.9", nil)
	require.NoError(t, err)
	parentID := issued.Certificate.Payload.CertID

	split, err := svc.Split(ctx, parentID, "0xB", "1.2500", nil)
	require.NoError(t, err)
	require.Equal(t, "1.7500", split.Parent.Payload.AmountGram)
	require.Equal(t, "1.2500", split.Child.Payload.AmountGram)
	require.Equal(t, "0xA", split.Parent.Payload.Owner)
	require.Equal(t, "0xB", split.Child.Payload.Owner)
}

func TestSplitRejectsAmountTooLarge(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "0xA", "1.0000", "999.9", nil)
	require.NoError(t, err)

	_, err = svc.Split(ctx, issued.Certificate.Payload.CertID, "0xB", "1.0000", nil)
	require.ErrorIs(t, err, ErrSplitTooLarge)
}

func TestIllegalStatusTransition(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "0xA", "1.0000", "999.9", nil)
	require.NoError(t, err)
	certID := issued.Certificate.Payload.CertID

	_, err = svc.Status(ctx, certID, model.CertRedeemed)
	require.NoError(t, err)

	_, err = svc.Status(ctx, certID, model.CertActive)
	require.Error(t, err)
	var conflict *StateConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "Transition REDEEMED -> ACTIVE is not allowed", conflict.Error())
}

func TestTransferRejectsNonActive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "0xA", "1.0000", "999.9", nil)
	require.NoError(t, err)
	certID := issued.Certificate.Payload.CertID

	_, err = svc.Status(ctx, certID, model.CertLocked)
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, certID, "0xB", nil)
	var conflict *StateConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestTimelineWithoutLedgerConfigured(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Timeline(context.Background(), "DGC-1")
	require.ErrorIs(t, err, ErrLedgerNotConfigured)
}
