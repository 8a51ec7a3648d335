package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dgc-backbone/dgc/internal/httpx"
	"github.com/dgc-backbone/dgc/internal/model"
	"github.com/dgc-backbone/dgc/internal/store"
)

// fakeCertAuthority is a minimal stand-in for the certificate authority
// exercising the exact request/response shapes the marketplace expects.
type fakeCertAuthority struct {
	cert model.SignedCertificate
}

func newFakeCertAuthority(certID, owner string, status model.CertStatus) *httptest.Server {
	f := &fakeCertAuthority{cert: model.SignedCertificate{Payload: model.GoldCertificate{
		CertID: certID, Owner: owner, AmountGram: "1.0000", Purity: "999.9", Status: status,
	}}}
	mux := http.NewServeMux()
	mux.HandleFunc("/certificates/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(f.cert)
	})
	mux.HandleFunc("/certificates/status", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Next model.CertStatus `json:"next"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.cert.Payload.Status = req.Next
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"certificate": f.cert})
	})
	mux.HandleFunc("/certificates/transfer", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ToOwner string `json:"toOwner"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.cert.Payload.Owner = req.ToOwner
		f.cert.Payload.Status = model.CertActive
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"certificate": f.cert})
	})
	return httptest.NewServer(mux)
}

func newTestService(t *testing.T, certURL string) (*Service, *Store) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := NewStore(db)
	require.NoError(t, err)
	svc := NewService(st, httpx.New(""), Config{CertificateServiceURL: certURL})
	return svc, st
}

func TestCreateListingRejectsOwnerMismatch(t *testing.T) {
	certSrv := newFakeCertAuthority("DGC-1", "alice", model.CertActive)
	defer certSrv.Close()
	svc, _ := newTestService(t, certSrv.URL)

	_, err := svc.CreateListing(context.Background(), "DGC-1", "mallory", "10.0000")
	require.ErrorIs(t, err, ErrOwnerMismatch)
}

func TestFullListingLifecycle(t *testing.T) {
	certSrv := newFakeCertAuthority("DGC-1", "alice", model.CertActive)
	defer certSrv.Close()
	svc, _ := newTestService(t, certSrv.URL)
	ctx := context.Background()

	listing, err := svc.CreateListing(ctx, "DGC-1", "alice", "10.0000")
	require.NoError(t, err)
	require.Equal(t, model.ListingOpen, listing.Status)

	locked, err := svc.LockEscrow(ctx, listing.ListingID, "bob", IdempotencyContext{})
	require.NoError(t, err)
	require.Equal(t, model.ListingLocked, locked.Status)
	require.Equal(t, "bob", *locked.LockedBy)

	settled, transferred, err := svc.SettleEscrow(ctx, listing.ListingID, "bob", nil, IdempotencyContext{})
	require.NoError(t, err)
	require.Equal(t, model.ListingSettled, settled.Status)
	require.Equal(t, "10.0000", *settled.SettledPrice)
	require.Equal(t, "bob", transferred.Payload.Owner)

	audit, err := svc.Audit(ctx, listing.ListingID)
	require.NoError(t, err)
	require.Len(t, audit, 3)
	require.Equal(t, model.AuditCreated, audit[0].Type)
	require.Equal(t, model.AuditLocked, audit[1].Type)
	require.Equal(t, model.AuditSettled, audit[2].Type)
}

func TestSettleRejectsBuyerMismatch(t *testing.T) {
	certSrv := newFakeCertAuthority("DGC-1", "alice", model.CertActive)
	defer certSrv.Close()
	svc, _ := newTestService(t, certSrv.URL)
	ctx := context.Background()

	listing, err := svc.CreateListing(ctx, "DGC-1", "alice", "10.0000")
	require.NoError(t, err)
	_, err = svc.LockEscrow(ctx, listing.ListingID, "bob", IdempotencyContext{})
	require.NoError(t, err)

	_, _, err = svc.SettleEscrow(ctx, listing.ListingID, "eve", nil, IdempotencyContext{})
	require.ErrorIs(t, err, ErrBuyerMismatch)
}

func TestCancelFromLockedRestoresActiveAndAudits(t *testing.T) {
	certSrv := newFakeCertAuthority("DGC-1", "alice", model.CertActive)
	defer certSrv.Close()
	svc, _ := newTestService(t, certSrv.URL)
	ctx := context.Background()

	listing, err := svc.CreateListing(ctx, "DGC-1", "alice", "10.0000")
	require.NoError(t, err)
	_, err = svc.LockEscrow(ctx, listing.ListingID, "bob", IdempotencyContext{})
	require.NoError(t, err)

	reason := "buyer withdrew"
	cancelled, err := svc.CancelEscrow(ctx, listing.ListingID, &reason, IdempotencyContext{})
	require.NoError(t, err)
	require.Equal(t, model.ListingCancelled, cancelled.Status)
	require.Equal(t, reason, *cancelled.CancelReason)
}

func TestCancelRejectsTerminalListing(t *testing.T) {
	certSrv := newFakeCertAuthority("DGC-1", "alice", model.CertActive)
	defer certSrv.Close()
	svc, _ := newTestService(t, certSrv.URL)
	ctx := context.Background()

	listing, err := svc.CreateListing(ctx, "DGC-1", "alice", "10.0000")
	require.NoError(t, err)
	_, err = svc.CancelEscrow(ctx, listing.ListingID, nil, IdempotencyContext{})
	require.NoError(t, err)

	_, err = svc.CancelEscrow(ctx, listing.ListingID, nil, IdempotencyContext{})
	require.ErrorIs(t, err, ErrListingTerminal)
}

func TestLockEscrowPersistsIdempotencyRecordAtomically(t *testing.T) {
	certSrv := newFakeCertAuthority("DGC-1", "alice", model.CertActive)
	defer certSrv.Close()
	svc, st := newTestService(t, certSrv.URL)
	ctx := context.Background()

	listing, err := svc.CreateListing(ctx, "DGC-1", "alice", "10.0000")
	require.NoError(t, err)

	idem := IdempotencyContext{Action: "lockEscrow", Key: "idem-1", RequestHash: "hash-1"}
	locked, err := svc.LockEscrow(ctx, listing.ListingID, "bob", idem)
	require.NoError(t, err)

	requestHash, status, body, found := st.Lookup("lockEscrow", "idem-1")
	require.True(t, found)
	require.Equal(t, "hash-1", requestHash)
	require.Equal(t, http.StatusOK, status)

	var persisted model.MarketplaceListing
	require.NoError(t, json.Unmarshal(body, &persisted))
	require.Equal(t, locked.ListingID, persisted.ListingID)
	require.Equal(t, model.ListingLocked, persisted.Status)

	audit, err := svc.Audit(ctx, listing.ListingID)
	require.NoError(t, err)
	require.Len(t, audit, 2)
}

func TestLockEscrowWithoutIdempotencyKeyPersistsNoRecord(t *testing.T) {
	certSrv := newFakeCertAuthority("DGC-1", "alice", model.CertActive)
	defer certSrv.Close()
	svc, st := newTestService(t, certSrv.URL)
	ctx := context.Background()

	listing, err := svc.CreateListing(ctx, "DGC-1", "alice", "10.0000")
	require.NoError(t, err)

	_, err = svc.LockEscrow(ctx, listing.ListingID, "bob", IdempotencyContext{})
	require.NoError(t, err)

	_, _, _, found := st.Lookup("lockEscrow", "")
	require.False(t, found)
}

func TestFreezeGateBlocksCreate(t *testing.T) {
	certSrv := newFakeCertAuthority("DGC-1", "alice", model.CertActive)
	defer certSrv.Close()
	reconSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"freezeState": model.FreezeState{Active: true},
		})
	}))
	defer reconSrv.Close()

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	st, err := NewStore(db)
	require.NoError(t, err)
	svc := NewService(st, httpx.New(""), Config{CertificateServiceURL: certSrv.URL, ReconciliationServiceURL: reconSrv.URL})

	_, err = svc.CreateListing(context.Background(), "DGC-1", "alice", "10.0000")
	var frozen *FrozenError
	require.ErrorAs(t, err, &frozen)
	require.True(t, frozen.State.Active)
}
