package chain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dgc-backbone/dgc/internal/model"
)

func TestStatusCode(t *testing.T) {
	require.Equal(t, 0, StatusCode(model.CertActive))
	require.Equal(t, 1, StatusCode(model.CertLocked))
	require.Equal(t, 2, StatusCode(model.CertRedeemed))
	require.Equal(t, 3, StatusCode(model.CertRevoked))
}

func TestPurityBasisPoints(t *testing.T) {
	bps, err := PurityBasisPoints("999.9")
	require.NoError(t, err)
	require.Equal(t, int64(9999), bps)
}

func TestCanonicalCertIDDeterministic(t *testing.T) {
	a := CanonicalCertID("DGC-20260101T000000Z-abcd")
	b := CanonicalCertID("DGC-20260101T000000Z-abcd")
	require.Equal(t, a, b)

	other := CanonicalCertID("DGC-different")
	require.NotEqual(t, a, other)
}

func TestCanonicalCertIDPassesThroughHex(t *testing.T) {
	rawHex := "11223344556677889900aabbccddeeff11223344556677889900aabbccddeeff"
	got := CanonicalCertID("0x" + rawHex)
	require.Equal(t, rawHex, toHexNoPrefix(got))
}

func toHexNoPrefix(b [32]byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

func TestNoopSinkReportsUnconfigured(t *testing.T) {
	sink := NoopSink{}
	status := sink.Status(nil)
	require.False(t, status.Configured)
	_, err := sink.Write(nil, model.LedgerEvent{})
	require.ErrorIs(t, err, ErrNotConfigured)
}
