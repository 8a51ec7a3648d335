package dispute

import (
	"context"
	"testing"

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
	return NewService(st)
}

func TestOpenAssignResolve(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	opened, err := svc.Open(ctx, "L1", "DGC-1", "buyer-1", "item not delivered", nil)
	require.NoError(t, err)
	require.Equal(t, model.DisputeOpen, opened.Status)

	assigned, err := svc.Assign(ctx, opened.DisputeID, "agent-1")
	require.NoError(t, err)
	require.Equal(t, model.DisputeAssigned, assigned.Status)
	require.Equal(t, "agent-1", *assigned.AssignedTo)

	notes := "refund issued"
	resolved, err := svc.Resolve(ctx, opened.DisputeID, "lead-1", model.ResolutionRefundBuyer, &notes)
	require.NoError(t, err)
	require.Equal(t, model.DisputeResolved, resolved.Status)
	require.Equal(t, model.ResolutionRefundBuyer, *resolved.Resolution)
}

func TestCannotMutateResolvedDispute(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	opened, err := svc.Open(ctx, "L1", "DGC-1", "buyer-1", "reason", nil)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, opened.DisputeID, "lead-1", model.ResolutionManualReview, nil)
	require.NoError(t, err)

	_, err = svc.Assign(ctx, opened.DisputeID, "agent-1")
	require.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestListFiltersByStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, err := svc.Open(ctx, "L1", "DGC-1", "buyer-1", "reason", nil)
	require.NoError(t, err)
	_, err = svc.Open(ctx, "L2", "DGC-2", "buyer-2", "reason", nil)
	require.NoError(t, err)
	_, err = svc.Assign(ctx, a.DisputeID, "agent-1")
	require.NoError(t, err)

	open, err := svc.List(ctx, model.DisputeOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)

	assigned, err := svc.List(ctx, model.DisputeAssigned)
	require.NoError(t, err)
	require.Len(t, assigned, 1)
}
