package keys

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dgc-backbone/dgc/internal/canon"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	sk, err := GenerateSeedHex()
	require.NoError(t, err)
	pk, err := DerivePublicKey(sk)
	require.NoError(t, err)

	hash := canon.SHA256Hex([]byte("hello certificate"))
	sig, err := Sign(hash, sk)
	require.NoError(t, err)
	require.True(t, Verify(hash, sig, pk))
}

func TestVerifyFailsOnTamperedHash(t *testing.T) {
	sk, err := GenerateSeedHex()
	require.NoError(t, err)
	pk, err := DerivePublicKey(sk)
	require.NoError(t, err)

	hash := canon.SHA256Hex([]byte("original"))
	sig, err := Sign(hash, sk)
	require.NoError(t, err)

	tampered := canon.SHA256Hex([]byte("tampered"))
	require.False(t, Verify(tampered, sig, pk))
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	require.False(t, Verify("not-hex", "not-hex", "not-hex"))
}
