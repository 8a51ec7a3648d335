package reconciliation

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

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := NewStore(db)
	require.NoError(t, err)
	return st
}

func certServer(t *testing.T, certs []model.SignedCertificate) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"certificates": certs})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signedCert(certID string, status model.CertStatus, amountGram string) model.SignedCertificate {
	return model.SignedCertificate{
		Payload: model.GoldCertificate{
			CertID: certID, Owner: "alice", AmountGram: amountGram, Purity: "999.9",
			Status: status,
		},
	}
}

func TestRunComputesMismatchAndTriggersFreeze(t *testing.T) {
	st := newTestStore(t)
	certs := []model.SignedCertificate{
		signedCert("DGC-1", model.CertActive, "5.0000"),
		signedCert("DGC-2", model.CertLocked, "3.0000"),
		signedCert("DGC-3", model.CertRedeemed, "9.0000"),
	}
	srv := certServer(t, certs)

	svc := NewService(st, httpx.New(""), Config{
		CertificateServiceURL: srv.URL,
		CustodyTotalGram:      "2.0000",
		MismatchThresholdGram: "1.0000",
	})

	run, err := svc.Run(context.Background(), RunRequest{})
	require.NoError(t, err)
	require.Equal(t, "8.0000", run.OutstandingTotalGram)
	require.Equal(t, "6.0000", run.MismatchGram)
	require.Equal(t, "6.0000", run.AbsMismatchGram)
	require.True(t, run.FreezeTriggered)
	require.Equal(t, 3, run.CertificatesEvaluated)
	require.Equal(t, 1, run.ActiveCertificates)
	require.Equal(t, 1, run.LockedCertificates)

	_, state, err := svc.Latest(context.Background())
	require.NoError(t, err)
	require.True(t, state.Active)
	require.Contains(t, *state.Reason, "exceeded threshold")
}

func TestRunWithinThresholdDoesNotFreeze(t *testing.T) {
	st := newTestStore(t)
	certs := []model.SignedCertificate{signedCert("DGC-1", model.CertActive, "2.0000")}
	srv := certServer(t, certs)

	svc := NewService(st, httpx.New(""), Config{
		CertificateServiceURL: srv.URL,
		CustodyTotalGram:      "2.0000",
		MismatchThresholdGram: "1.0000",
	})

	run, err := svc.Run(context.Background(), RunRequest{})
	require.NoError(t, err)
	require.False(t, run.FreezeTriggered)

	_, state, err := svc.Latest(context.Background())
	require.NoError(t, err)
	require.False(t, state.Active)
}

func TestUnfreezeRequiresActiveFreeze(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, httpx.New(""), Config{CertificateServiceURL: "http://unused"})

	_, err := svc.Unfreeze(context.Background(), "gov-1", "false alarm")
	require.ErrorIs(t, err, ErrNotFrozen)
}

func TestUnfreezeFlipsStateAndRecordsOverride(t *testing.T) {
	st := newTestStore(t)
	certs := []model.SignedCertificate{signedCert("DGC-1", model.CertActive, "10.0000")}
	srv := certServer(t, certs)

	svc := NewService(st, httpx.New(""), Config{
		CertificateServiceURL: srv.URL,
		CustodyTotalGram:      "0.0000",
		MismatchThresholdGram: "1.0000",
	})
	_, err := svc.Run(context.Background(), RunRequest{})
	require.NoError(t, err)

	state, err := svc.Unfreeze(context.Background(), "gov-1", "confirmed custody reconciled manually")
	require.NoError(t, err)
	require.False(t, state.Active)

	overrides, err := svc.Overrides(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	require.Equal(t, "UNFREEZE", overrides[0].Action)
	require.True(t, overrides[0].PreviousActive)
	require.False(t, overrides[0].NextActive)
}

func TestRunUnreachableCertificateService(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, httpx.New(""), Config{CertificateServiceURL: "http://127.0.0.1:1"})

	_, err := svc.Run(context.Background(), RunRequest{})
	require.ErrorIs(t, err, ErrCertificateServiceUnreachable)
}
